package runloop

import (
	"fmt"
)

// ModelStreamError reports that a specific model's stream failed. Retry and
// fallback accounting is attributed per model, never globally.
type ModelStreamError struct {
	Model   string
	Attempt int
	Err     error
}

func (e *ModelStreamError) Error() string {
	return fmt.Sprintf("model %s stream failed (attempt %d): %v", e.Model, e.Attempt, e.Err)
}

func (e *ModelStreamError) Unwrap() error { return e.Err }
