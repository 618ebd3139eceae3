// Package obs is the observability sink: report and continue.
package obs

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Reporter receives exceptions from paths that must never surface errors
// to a caller (the async recording path, the accounting stream consumer).
// Implementations must not block.
type Reporter interface {
	Report(err error, fields map[string]any)
}

// LogReporter writes reported errors to the structured log.
type LogReporter struct{}

// Report logs the error with its context fields.
func (LogReporter) Report(err error, fields map[string]any) {
	ev := log.Error().Err(err)
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg("background failure reported")
}

// CaptureReporter records reported errors for tests.
type CaptureReporter struct {
	mu     sync.Mutex
	errors []error
}

// Report captures err.
func (c *CaptureReporter) Report(err error, _ map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, err)
}

// Errors returns a snapshot of captured errors.
func (c *CaptureReporter) Errors() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]error(nil), c.errors...)
}
