package record

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openpipe/completions-gateway/internal/obs"
)

// DefaultWriteTimeout bounds a single background log write.
const DefaultWriteTimeout = 30 * time.Second

// Async decouples recording from the caller's response path. Launch spawns
// a background write with its own error boundary: storage failures and
// panics are reported to the observability sink and dropped. Flush exists
// so shutdown and tests can await in-flight writes; request handling never
// calls it.
type Async struct {
	rec      Recorder
	reporter obs.Reporter
	timeout  time.Duration
	wg       sync.WaitGroup
}

// NewAsync wraps rec.
func NewAsync(rec Recorder, reporter obs.Reporter) *Async {
	return &Async{rec: rec, reporter: reporter, timeout: DefaultWriteTimeout}
}

// Launch writes e in the background and returns immediately.
func (a *Async) Launch(e *Entry) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				a.reporter.Report(fmt.Errorf("record: panic during log write: %v", r), map[string]any{
					"entry_id": e.ID, "project_id": e.ProjectID,
				})
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()

		if err := a.rec.Record(ctx, e); err != nil {
			a.reporter.Report(err, map[string]any{
				"entry_id": e.ID, "project_id": e.ProjectID, "status_code": e.StatusCode,
			})
		}
	}()
}

// Flush blocks until all launched writes have finished.
func (a *Async) Flush() {
	a.wg.Wait()
}
