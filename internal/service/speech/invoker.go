package speech

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"

	"github.com/medai-health/medai/backend/internal/observe"
)

// Result is the outcome of one dispatched transcription.
type Result struct {
	Text     string
	Err      error
	Elapsed  time.Duration
	Finished time.Time
}

// InvokerConfig bounds transcription work.
type InvokerConfig struct {
	// MaxAudioBytes rejects larger inputs with ErrTooLarge.
	MaxAudioBytes int
	// Concurrency caps simultaneous engine calls across all sessions.
	Concurrency int
	// Timeout bounds a single engine call. Zero means no extra bound.
	Timeout time.Duration
}

// Invoker fronts an Engine with input validation, a process-wide
// concurrency bound and per-call timeouts.
type Invoker struct {
	engine  Engine
	cfg     InvokerConfig
	sem     *semaphore.Weighted
	metrics *observe.Metrics
	log     zerolog.Logger
	now     func() time.Time
}

// NewInvoker creates an invoker. A nil engine behaves as a model that never
// finishes loading.
func NewInvoker(engine Engine, cfg InvokerConfig, metrics *observe.Metrics, logger zerolog.Logger) *Invoker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Invoker{
		engine:  engine,
		cfg:     cfg,
		sem:     semaphore.NewWeighted(int64(cfg.Concurrency)),
		metrics: metrics,
		log:     logger.With().Str("component", "transcription").Logger(),
		now:     time.Now,
	}
}

// Ready reports whether the underlying engine can serve requests.
func (i *Invoker) Ready() bool {
	return i.engine != nil && i.engine.Ready()
}

// Transcribe converts audio to text, blocking until the engine answers, the
// timeout expires or ctx is cancelled.
func (i *Invoker) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", ErrEmptyInput
	}
	if len(audio) > i.cfg.MaxAudioBytes {
		return "", fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, len(audio), i.cfg.MaxAudioBytes)
	}
	if !i.Ready() {
		return "", ErrModelUnavailable
	}

	if err := i.sem.Acquire(ctx, 1); err != nil {
		return "", &EngineError{Err: err}
	}
	defer i.sem.Release(1)

	if i.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.cfg.Timeout)
		defer cancel()
	}

	ctx, span := observe.StartSpan(ctx, "speech.transcribe")
	span.SetAttributes(attribute.Int("audio.bytes", len(audio)))
	defer span.End()

	start := i.now()
	text, err := i.engine.Transcribe(ctx, audio)
	elapsed := i.now().Sub(start)

	if err != nil {
		var engineErr *EngineError
		if !errors.As(err, &engineErr) && !errors.Is(err, ErrModelUnavailable) {
			err = &EngineError{Err: err}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, Kind(err))
		i.metrics.RecordTranscription(ctx, Kind(err), elapsed)
		return "", err
	}

	i.metrics.RecordTranscription(ctx, "ok", elapsed)
	i.log.Debug().Int("bytes", len(audio)).Int("chars", len(text)).Dur("elapsed", elapsed).Msg("transcription completed")
	return text, nil
}

// Dispatch runs Transcribe on its own goroutine and delivers exactly one
// Result on the returned channel. The channel is buffered, so an abandoned
// result never blocks the worker; cancelling ctx aborts the engine call.
func (i *Invoker) Dispatch(ctx context.Context, audio []byte) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		start := i.now()
		defer func() {
			if r := recover(); r != nil {
				i.log.Error().Interface("panic", r).Msg("transcription worker panicked")
				out <- Result{Err: &EngineError{Err: fmt.Errorf("panic: %v", r)}, Finished: i.now()}
			}
		}()
		text, err := i.Transcribe(ctx, audio)
		finished := i.now()
		out <- Result{Text: text, Err: err, Elapsed: finished.Sub(start), Finished: finished}
	}()
	return out
}
