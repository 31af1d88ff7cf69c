package backend

import (
	"context"
	"iter"
	"sync"

	"visiond/internal/proxy"
	"visiond/pkg/types"
)

// Service runs Setup in the background so the HTTP layer can answer health
// checks while the weights download and the model loads.
type Service struct {
	rec    *recorder
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.RWMutex
	h   *Handle
	err error
}

// Start begins setup in a new goroutine. Canceling ctx or calling Close
// aborts a setup that is still running.
func Start(ctx context.Context, cfg Config, deps Deps) *Service {
	ctx, cancel := context.WithCancel(ctx)
	s := &Service{rec: &recorder{}, cancel: cancel, done: make(chan struct{})}
	s.rec.begin()
	go func() {
		defer close(s.done)
		h, err := setup(ctx, cfg, deps, s.rec)
		s.mu.Lock()
		s.h, s.err = h, err
		s.mu.Unlock()
	}()
	return s
}

// Done is closed when setup has finished, successfully or not.
func (s *Service) Done() <-chan struct{} { return s.done }

// Wait blocks until setup finishes or ctx is done.
func (s *Service) Wait(ctx context.Context) (*Handle, error) {
	select {
	case <-s.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.h, s.err
}

func (s *Service) handle() (*Handle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.h, s.err
}

// Status is STARTING, READY or SETUP_FAILED.
func (s *Service) Status() string {
	select {
	case <-s.done:
	default:
		return types.HealthStarting
	}
	if h, err := s.handle(); err != nil || h == nil {
		return types.HealthSetupFailed
	}
	return types.HealthReady
}

// Health reports the status and the setup report.
func (s *Service) Health() types.HealthCheck {
	return types.HealthCheck{Status: s.Status(), Setup: s.rec.snapshot().Result()}
}

// Ready reports whether predictions can be served.
func (s *Service) Ready() bool {
	if s.Status() != types.HealthReady {
		return false
	}
	h, _ := s.handle()
	return h.Alive()
}

// Predict streams from the backend once setup has succeeded; before that the
// sequence yields a single *NotReadyError.
func (s *Service) Predict(ctx context.Context, req proxy.PredictionRequest) iter.Seq2[string, error] {
	status := s.Status()
	if status != types.HealthReady {
		return func(yield func(string, error) bool) { yield("", &NotReadyError{Status: status}) }
	}
	h, _ := s.handle()
	return h.PredictRequest(ctx, req)
}

// Close aborts a running setup, waits for it and stops the backend.
func (s *Service) Close(ctx context.Context) error {
	s.cancel()
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if h, _ := s.handle(); h != nil {
		return h.Close(ctx)
	}
	return nil
}
