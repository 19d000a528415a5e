// Package mock provides a deterministic speech.Engine for tests and local
// development without a whisper server.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/medai-health/medai/backend/internal/service/speech"
)

// Engine is a controllable speech.Engine. The zero value is ready and
// answers "transcribed <n> bytes".
type Engine struct {
	mu sync.Mutex

	// NotReady makes Ready report false.
	NotReady bool
	// Text, if set, is returned instead of the default output.
	Text string
	// Err, if non-nil, is returned from Transcribe.
	Err error
	// Delay is slept (respecting ctx) before answering.
	Delay time.Duration
	// Gate, if non-nil, blocks Transcribe until it is closed or ctx is done.
	Gate chan struct{}
	// Started, if non-nil, receives one value as each call begins.
	Started chan struct{}

	calls [][]byte
}

var _ speech.Engine = (*Engine)(nil)

// Output is the default text the engine produces for audio.
func Output(audio []byte) string {
	return fmt.Sprintf("transcribed %d bytes", len(audio))
}

// Ready reports !NotReady.
func (e *Engine) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.NotReady
}

// SetReady toggles readiness.
func (e *Engine) SetReady(ready bool) {
	e.mu.Lock()
	e.NotReady = !ready
	e.mu.Unlock()
}

// Transcribe records the call and answers according to the configured fields.
func (e *Engine) Transcribe(ctx context.Context, audio []byte) (string, error) {
	e.mu.Lock()
	e.calls = append(e.calls, append([]byte(nil), audio...))
	text, err, delay, gate, started := e.Text, e.Err, e.Delay, e.Gate, e.Started
	e.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	if text != "" {
		return text, nil
	}
	return Output(audio), nil
}

// Calls returns copies of the audio passed to every Transcribe call.
func (e *Engine) Calls() [][]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][]byte(nil), e.calls...)
}

// CallCount returns how many times Transcribe ran.
func (e *Engine) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}
