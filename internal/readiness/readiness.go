// Package readiness blocks until the backend answers its liveness endpoint.
package readiness

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// State is the outcome of a readiness wait. It is decided once.
type State int

const (
	Unknown State = iota
	Ready
	TimedOut
	// Aborted means the wait ended early: ctx was canceled or the supervised
	// process exited before it became live.
	Aborted
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case TimedOut:
		return "timed_out"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// DefaultInterval is the fixed polling period.
const DefaultInterval = time.Second

// Gate polls a liveness URL at a fixed interval.
type Gate struct {
	Client   *http.Client
	Interval time.Duration
	Log      zerolog.Logger
	// Abort, when non-nil, ends the wait as soon as it is closed.
	Abort <-chan struct{}
}

// WaitUntilReady reports whether GET baseURL/ returned a 2xx status before
// timeout elapsed.
func (g *Gate) WaitUntilReady(ctx context.Context, baseURL string, timeout time.Duration) bool {
	return g.Wait(ctx, baseURL, timeout) == Ready
}

// Wait probes baseURL/ immediately and then every Interval. Connection errors
// and non-2xx statuses mean "not yet". It returns TimedOut no earlier than
// timeout after the call.
func (g *Gate) Wait(ctx context.Context, baseURL string, timeout time.Duration) State {
	interval := g.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	client := g.Client
	if client == nil {
		client = http.DefaultClient
	}
	url := strings.TrimRight(baseURL, "/") + "/"
	start := time.Now()
	deadline := start.Add(timeout)
	attempts := 0

	for {
		attempts++
		probeTimeout := interval
		if remaining := time.Until(deadline); remaining < probeTimeout {
			probeTimeout = remaining
		}
		if probeTimeout > 0 {
			err := probe(ctx, client, url, probeTimeout)
			if err == nil {
				g.Log.Info().Str("url", url).Int("attempts", attempts).Dur("took", time.Since(start)).Msg("backend is live")
				return Ready
			}
			g.Log.Debug().Err(err).Str("url", url).Int("attempt", attempts).Msg("backend not live yet")
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			g.Log.Warn().Str("url", url).Int("attempts", attempts).Dur("timeout", timeout).Msg("timed out waiting for backend")
			return TimedOut
		}
		wait := interval
		if remaining < wait {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return Aborted
		case <-g.Abort:
			timer.Stop()
			g.Log.Warn().Str("url", url).Msg("backend exited before becoming live")
			return Aborted
		}
	}
}

type statusError int

func (e statusError) Error() string { return "liveness status " + http.StatusText(int(e)) }

func probe(ctx context.Context, client *http.Client, url string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp.StatusCode)
	}
	return nil
}
