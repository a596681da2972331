package runloop

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"

	"github.com/go-go-golems/stromboli/pkg/events"
)

var ErrHandleNil = errors.New("run handle is nil")

// Handle is one in-flight run. It is cancelable and waitable; the underlying
// loop is always driven by context cancellation. Every derived accessor
// resolves exactly once the run settles, whether or not anyone consumes the
// event stream.
type Handle struct {
	RunID string

	done chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	res    *Result
	err    error
}

func newHandle(runID string, cancel context.CancelFunc) *Handle {
	return &Handle{
		RunID:  runID,
		done:   make(chan struct{}),
		cancel: cancel,
	}
}

func (h *Handle) settle(res *Result, err error) {
	h.mu.Lock()
	h.res = res
	h.err = err
	cancel := h.cancel
	h.cancel = nil
	close(h.done)
	h.mu.Unlock()
	// Releases the derived context's registration with its parent.
	if cancel != nil {
		cancel()
	}
}

// Cancel aborts the run. Safe to call multiple times; an abort is not an
// error, so Wait still returns a Result carrying the tripwire stop reason.
func (h *Handle) Cancel() {
	if h == nil {
		return
	}
	h.mu.Lock()
	cancel := h.cancel
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the run settles.
func (h *Handle) Wait() (*Result, error) {
	if h == nil {
		return nil, ErrHandleNil
	}
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.res, h.err
}

// IsRunning reports whether the run is still in flight.
func (h *Handle) IsRunning() bool {
	if h == nil {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Text waits for the run and returns the final step's text.
func (h *Handle) Text() (string, error) {
	res, err := h.Wait()
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// Object waits for the run and returns the validated structured-output
// value.
func (h *Handle) Object() (json.RawMessage, error) {
	res, err := h.Wait()
	if err != nil {
		return nil, err
	}
	if res.ObjectErr != nil {
		return nil, res.ObjectErr
	}
	return res.Object, nil
}

// StopReason waits for the run and returns why it stopped.
func (h *Handle) StopReason() (events.StopReason, error) {
	res, err := h.Wait()
	if err != nil {
		return events.StopReasonUnknown, err
	}
	return res.StopReason, nil
}

// Usage waits for the run and returns the cumulative token usage.
func (h *Handle) Usage() (events.Usage, error) {
	res, err := h.Wait()
	if err != nil {
		return events.Usage{}, err
	}
	return res.Usage, nil
}
