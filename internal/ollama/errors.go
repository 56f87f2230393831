package ollama

import (
	"errors"
	"fmt"
)

// ErrModelNotListed is returned by Verify when the runtime does not report
// the model after a pull.
var ErrModelNotListed = errors.New("model not listed by runtime")

// ErrPullIncomplete is returned when the pull stream ends without a
// "success" status.
var ErrPullIncomplete = errors.New("pull stream ended before success")

// APIError is a non-2xx answer or an error line from the runtime.
type APIError struct {
	Op      string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	switch {
	case e.Status != 0 && e.Message != "":
		return fmt.Sprintf("ollama %s: status %d: %s", e.Op, e.Status, e.Message)
	case e.Status != 0:
		return fmt.Sprintf("ollama %s: status %d", e.Op, e.Status)
	default:
		return fmt.Sprintf("ollama %s: %s", e.Op, e.Message)
	}
}

// IsAPIError reports whether err carries an APIError.
func IsAPIError(err error) bool {
	var ae *APIError
	return errors.As(err, &ae)
}
