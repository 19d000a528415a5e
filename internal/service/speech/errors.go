package speech

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyInput is returned for zero-length audio.
	ErrEmptyInput = errors.New("empty audio data")
	// ErrTooLarge is returned when audio exceeds the configured limit.
	ErrTooLarge = errors.New("audio too large")
	// ErrModelUnavailable is returned while the speech engine is not loaded.
	// Later attempts may succeed once it is.
	ErrModelUnavailable = errors.New("speech model not loaded")
)

// EngineError wraps any failure raised by the underlying speech engine
// (I/O, decoding, timeout, server errors).
type EngineError struct {
	Err error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("speech engine: %v", e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// Kind names the failure category of err for logs, metrics and client
// details: "empty_input", "too_large", "model_unavailable" or "engine_error".
func Kind(err error) string {
	var engineErr *EngineError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrEmptyInput):
		return "empty_input"
	case errors.Is(err, ErrTooLarge):
		return "too_large"
	case errors.Is(err, ErrModelUnavailable):
		return "model_unavailable"
	case errors.As(err, &engineErr):
		return "engine_error"
	default:
		return "engine_error"
	}
}
