// Package speech converts finished utterances into text. The Invoker
// validates input and runs engine calls off the caller's goroutine; Engine
// implementations talk to the actual speech-to-text backend.
package speech

import "context"

// Engine is a batch speech-to-text backend.
type Engine interface {
	// Transcribe returns the text spoken in audio.
	Transcribe(ctx context.Context, audio []byte) (string, error)
	// Ready reports whether the model is loaded and can serve requests.
	Ready() bool
}
