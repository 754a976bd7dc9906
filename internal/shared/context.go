package shared

import "context"

type sessionContextKey struct{}

// ContextWithSession attaches the request's application session.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext returns the session attached by the session
// middleware, or nil.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}

// RequireSession is SessionFromContext for handlers that cannot run
// without a session id: page-state and undo calls are scoped by it.
func RequireSession(ctx context.Context) (*Session, error) {
	sess := SessionFromContext(ctx)
	if sess == nil || sess.ID == "" {
		return nil, ErrSessionMissing
	}
	return sess, nil
}
