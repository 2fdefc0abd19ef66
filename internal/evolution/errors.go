package evolution

import (
	"errors"
	"fmt"
	"time"
)

// ErrEntityNotFound is returned by stores when an entity id has no row.
var ErrEntityNotFound = errors.New("entity not found")

// ValidationError reports bad input rejected before any side effect.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// RateLimitError reports an admission denial. Retryable after ResetTime.
type RateLimitError struct {
	Key       string
	ResetTime time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, resets at %s",
		e.Key, e.ResetTime.Format(time.RFC3339))
}
