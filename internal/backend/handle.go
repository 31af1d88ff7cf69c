package backend

import (
	"context"
	"errors"
	"iter"
	"sync"

	"github.com/rs/zerolog"

	"visiond/internal/proxy"
)

// Handle is a backend that completed setup. It is safe for concurrent use.
type Handle struct {
	cfg    Config
	proc   Process
	client *proxy.Client
	rec    *recorder
	log    zerolog.Logger

	closeOnce sync.Once
	closeErr  error
}

// Predict streams the model's answer to prompt about image. Options override
// the default sampling parameters.
func (h *Handle) Predict(ctx context.Context, image []byte, prompt string, opts ...proxy.Option) iter.Seq2[string, error] {
	return h.PredictRequest(ctx, proxy.NewRequest(image, prompt, opts...))
}

// PredictRequest streams the answer to a fully built request.
func (h *Handle) PredictRequest(ctx context.Context, req proxy.PredictionRequest) iter.Seq2[string, error] {
	return countOutcome(ctx, h.client.Predict(ctx, req))
}

func countOutcome(ctx context.Context, seq iter.Seq2[string, error]) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		status := "succeeded"
		defer func() { predictionsTotal.WithLabelValues(status).Inc() }()
		for frag, err := range seq {
			if err != nil {
				status = "failed"
				if errors.Is(err, context.Canceled) || ctx.Err() != nil {
					status = "canceled"
				}
				yield("", err)
				return
			}
			fragmentsTotal.Inc()
			if !yield(frag, nil) {
				status = "canceled"
				return
			}
		}
	}
}

// Alive reports whether the backend process is still running.
func (h *Handle) Alive() bool {
	select {
	case <-h.proc.Done():
		return false
	default:
		return true
	}
}

// Done is closed when the backend process exits.
func (h *Handle) Done() <-chan struct{} { return h.proc.Done() }

// PID of the backend process.
func (h *Handle) PID() int { return h.proc.PID() }

// Report returns the setup report.
func (h *Handle) Report() Report { return h.rec.snapshot() }

// Close stops the backend process. It is safe to call more than once.
func (h *Handle) Close(ctx context.Context) error {
	h.closeOnce.Do(func() {
		h.log.Info().Int("pid", h.proc.PID()).Msg("closing backend")
		h.closeErr = h.proc.Stop(ctx)
	})
	return h.closeErr
}
