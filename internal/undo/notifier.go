package undo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-uistate/internal/shared"
)

// Notification kinds. They double as flash kinds.
const (
	KindInfo    = "info"
	KindSuccess = "success"
	KindError   = "error"
)

// Notification is a dismissible message shown to the session's user.
type Notification struct {
	Kind      string        `json:"kind"`
	Title     string        `json:"title"`
	Message   string        `json:"message"`
	SessionID string        `json:"-"`
	ActionID  string        `json:"actionId,omitempty"`
	Undoable  bool          `json:"undoable,omitempty"`
	ExpiresIn time.Duration `json:"expiresIn,omitempty"`
}

// Notifier surfaces notifications. Implementations must not block long.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification)

func (f NotifierFunc) Notify(ctx context.Context, n Notification) { f(ctx, n) }

// MultiNotifier fans a notification out to several notifiers.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, n Notification) {
	for _, notifier := range m {
		if notifier != nil {
			notifier.Notify(ctx, n)
		}
	}
}

// FlashNotifier queues notifications as flash messages on the request
// session, when the context carries one.
type FlashNotifier struct{}

func (FlashNotifier) Notify(ctx context.Context, n Notification) {
	sess := shared.SessionFromContext(ctx)
	if sess == nil {
		return
	}
	message := n.Title
	if n.Message != "" {
		message = n.Title + ": " + n.Message
	}
	sess.AddFlash(shared.FlashMessage{Kind: n.Kind, Message: message})
}

// EventChannel returns the pub/sub channel of a session's undo events.
func EventChannel(sessionID string) string {
	return "undo.events:" + sessionID
}

// Publisher broadcasts notifications on Redis pub/sub so other server
// instances and open tabs can render them.
type Publisher struct {
	client *redis.Client
	logger *slog.Logger
}

// NewPublisher constructs a Publisher.
func NewPublisher(client *redis.Client, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{client: client, logger: logger}
}

func (p *Publisher) Notify(ctx context.Context, n Notification) {
	if p == nil || p.client == nil || n.SessionID == "" {
		return
	}
	payload, err := json.Marshal(n)
	if err != nil {
		p.logger.Warn("undo notification encode", slog.Any("error", err))
		return
	}
	if err := p.client.Publish(ctx, EventChannel(n.SessionID), payload).Err(); err != nil {
		p.logger.Warn("undo notification publish", slog.Any("error", err))
	}
}

func actionTitle(t ActionType) string {
	switch t {
	case ActionMarkAsPaid:
		return "Marked as paid"
	case ActionDelete:
		return "Records deleted"
	case ActionBulkEdit:
		return "Bulk edit applied"
	default:
		return "Action completed"
	}
}

func actionDescription(a Action) string {
	count := a.Count()
	switch a.Type {
	case ActionMarkAsPaid:
		return fmt.Sprintf("%d installment(s) marked as paid", count)
	case ActionDelete:
		return fmt.Sprintf("%d record(s) deleted", count)
	case ActionBulkEdit:
		return fmt.Sprintf("%d installment(s) updated", count)
	default:
		return "Action completed"
	}
}
