package session

import (
	"fmt"
	"log/slog"
	"sync"
)

// TaskResult is delivered when a supervised background invocation
// finishes. Failures are coerced into the payload, never panics.
type TaskResult func(taskID, name string, payload any)

// Tasks supervises background invocations spawned by a session. Results
// arriving after the session closed are abandoned, not delivered.
type Tasks struct {
	logger *slog.Logger
	closed <-chan struct{}
	wg     sync.WaitGroup
}

func newTasks(logger *slog.Logger, closed <-chan struct{}) *Tasks {
	return &Tasks{logger: logger, closed: closed}
}

// Go runs one background invocation under supervision. A panic inside
// run becomes a failure payload; it never crosses the goroutine boundary.
func (t *Tasks) Go(taskID, name string, run func() any, deliver TaskResult) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()

		payload := func() (payload any) {
			defer func() {
				if r := recover(); r != nil {
					t.logger.Error("background invocation panicked",
						"task_id", taskID, "function", name, "panic", r)
					payload = map[string]any{
						"success": false,
						"error":   fmt.Sprintf("invocation %s panicked: %v", name, r),
					}
				}
			}()
			return run()
		}()

		select {
		case <-t.closed:
			t.logger.Info("abandoning background result after close",
				"task_id", taskID, "function", name)
		default:
			deliver(taskID, name, payload)
		}
	}()
}

// Wait blocks until all supervised invocations finish.
func (t *Tasks) Wait() { t.wg.Wait() }
