// Package weights makes sure model weights are present on local disk before
// the inference backend starts.
package weights

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"visiond/internal/common/fsutil"
)

// Fetcher downloads the archive at url and extracts it into dir. dir does
// not exist when Fetch is called; a successful Fetch must create it.
type Fetcher interface {
	Fetch(ctx context.Context, url, dir string) error
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, url, dir string) error

func (f FetcherFunc) Fetch(ctx context.Context, url, dir string) error { return f(ctx, url, dir) }

// ProvisionError reports a failed fetch or extract. It is fatal to setup.
type ProvisionError struct {
	URL  string
	Dest string
	Err  error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provision %s -> %s: %v", e.URL, e.Dest, e.Err)
}

func (e *ProvisionError) Unwrap() error { return e.Err }

// IsProvisionError reports whether err (or anything it wraps) is a ProvisionError.
func IsProvisionError(err error) bool {
	var pe *ProvisionError
	return errors.As(err, &pe)
}

// Provisioner fetches each destination at most once per process.
type Provisioner struct {
	fetcher Fetcher
	log     zerolog.Logger

	group   singleflight.Group
	mu      sync.Mutex
	done    map[string]struct{}
	flights map[string]*flight
	seq     uint64
}

// flight is the shared context of one in-progress fetch. It is canceled once
// every caller waiting on it has gone.
type flight struct {
	key     string
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// New returns a Provisioner that uses f to download archives.
func New(f Fetcher, log zerolog.Logger) *Provisioner {
	return &Provisioner{
		fetcher: f,
		log:     log,
		done:    make(map[string]struct{}),
		flights: make(map[string]*flight),
	}
}

// Provision ensures destPath holds the extracted archive from url. If
// destPath already exists nothing is fetched. Archives are extracted into a
// staging sibling and renamed into place, so destPath never holds a
// half-extracted archive.
func (p *Provisioner) Provision(ctx context.Context, url, destPath string) error {
	dest := filepath.Clean(destPath)
	if p.isDone(dest) {
		return nil
	}
	if fsutil.PathExists(dest) {
		p.log.Info().Str("event", "provision_skip").Str("dest", dest).Msg("weights already present")
		p.markDone(dest)
		return nil
	}
	f := p.join(ctx, dest)
	defer p.leave(dest, f)
	ch := p.group.DoChan(f.key, func() (any, error) {
		if fsutil.PathExists(dest) {
			return nil, nil
		}
		return nil, p.fetch(f.ctx, url, dest)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return res.Err
		}
	case <-ctx.Done():
		return ctx.Err()
	}
	p.markDone(dest)
	return nil
}

// join registers the caller on the shared fetch for dest. The fetch does not
// inherit the caller's cancellation, so one caller giving up does not fail
// the others. A fetch canceled after its last caller left is never joined.
func (p *Provisioner) join(ctx context.Context, dest string) *flight {
	p.mu.Lock()
	defer p.mu.Unlock()
	f := p.flights[dest]
	if f == nil {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		p.seq++
		f = &flight{key: fmt.Sprintf("%s#%d", dest, p.seq), ctx: fctx, cancel: cancel}
		p.flights[dest] = f
	}
	f.waiters++
	return f
}

func (p *Provisioner) leave(dest string, f *flight) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if p.flights[dest] == f {
		delete(p.flights, dest)
	}
}

func (p *Provisioner) fetch(ctx context.Context, url, dest string) error {
	if p.fetcher == nil {
		return &ProvisionError{URL: url, Dest: dest, Err: errors.New("no fetcher configured")}
	}
	staging := fsutil.StagingPath(dest)
	start := time.Now()
	p.log.Info().Str("event", "provision_start").Str("url", url).Str("dest", dest).Msg("downloading weights")

	if err := p.fetcher.Fetch(ctx, url, staging); err != nil {
		_ = os.RemoveAll(staging)
		return &ProvisionError{URL: url, Dest: dest, Err: err}
	}
	if !fsutil.PathExists(staging) {
		return &ProvisionError{URL: url, Dest: dest, Err: errors.New("fetcher reported success but extracted nothing")}
	}
	if err := fsutil.AtomicReplaceDir(staging, dest); err != nil {
		_ = os.RemoveAll(staging)
		return &ProvisionError{URL: url, Dest: dest, Err: err}
	}
	p.log.Info().Str("event", "provision_done").Str("dest", dest).Dur("took", time.Since(start)).Msg("weights ready")
	return nil
}

func (p *Provisioner) isDone(dest string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.done[dest]
	return ok
}

func (p *Provisioner) markDone(dest string) {
	p.mu.Lock()
	p.done[dest] = struct{}{}
	p.mu.Unlock()
}
