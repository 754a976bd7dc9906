// Package testing switches the process into test mode when imported for
// side effects from a _test.go file, so cmd entry points and runtime hooks
// skip their external side effects.
package testing

import (
	"os"
	"sync"
)

// ModeEnv is the environment flag app.InTestMode reads.
const ModeEnv = "ODYSSEY_TEST_MODE"

var once sync.Once

// Enable sets the test-mode flag once per process.
func Enable() {
	once.Do(func() {
		_ = os.Setenv(ModeEnv, "1")
	})
}

func init() {
	Enable()
}
