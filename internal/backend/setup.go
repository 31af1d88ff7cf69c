package backend

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"visiond/internal/config"
	"visiond/internal/proxy"
	"visiond/internal/readiness"
	"visiond/internal/supervisor"
	"visiond/internal/weights"
)

// Config is the resolved setup configuration.
type Config struct {
	ModelName    string
	ModelURL     string
	ModelCache   string
	SkipDownload bool

	FetchBin  string
	FetchArgs []string

	OllamaBin string
	// BackendHost is exported to the server as OLLAMA_HOST.
	BackendHost string
	// BackendURL is where readiness probes and chat requests go.
	BackendURL string

	ReadyTimeout   time.Duration
	ReadyInterval  time.Duration
	ConnectTimeout time.Duration
	StopGrace      time.Duration

	Log zerolog.Logger
}

// FromConfig maps the service configuration onto a setup Config.
func FromConfig(c config.Config, log zerolog.Logger) Config {
	c = c.WithDefaults()
	return Config{
		ModelName:      c.ModelName,
		ModelURL:       c.ModelURL,
		ModelCache:     c.ModelCache,
		SkipDownload:   c.SkipDownload,
		FetchBin:       c.FetchBin,
		FetchArgs:      c.FetchArgs,
		OllamaBin:      c.OllamaBin,
		BackendHost:    c.BackendHost,
		BackendURL:     c.BackendURL(),
		ReadyTimeout:   c.ReadyTimeout.Std(),
		ReadyInterval:  c.ReadyInterval.Std(),
		ConnectTimeout: c.ConnectTimeout.Std(),
		StopGrace:      c.StopGrace.Std(),
		Log:            log,
	}
}

// Provisioner makes model weights available at a local path.
type Provisioner interface {
	Provision(ctx context.Context, url, dest string) error
}

// Process is a running backend server.
type Process interface {
	PID() int
	Done() <-chan struct{}
	Err() error
	Stop(ctx context.Context) error
}

// Launcher starts the backend server and loads the model into it.
type Launcher interface {
	Launch(ctx context.Context) (Process, error)
	LoadModel(ctx context.Context) error
}

// Deps are the collaborators Setup uses. Nil fields are built from Config.
type Deps struct {
	Provisioner Provisioner
	Launcher    Launcher
	// HTTPClient is used by readiness probes.
	HTTPClient *http.Client
	Publisher  supervisor.EventPublisher
}

type supervisorLauncher struct{ s *supervisor.Supervisor }

func (l supervisorLauncher) Launch(ctx context.Context) (Process, error) {
	p, err := l.s.Start(ctx)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (l supervisorLauncher) LoadModel(ctx context.Context) error { return l.s.LoadModel(ctx) }

func (d Deps) withDefaults(cfg Config) Deps {
	if d.Provisioner == nil {
		d.Provisioner = weights.New(weights.CommandFetcher{Bin: cfg.FetchBin, Args: cfg.FetchArgs, Log: cfg.Log}, cfg.Log)
	}
	if d.Launcher == nil {
		d.Launcher = supervisorLauncher{supervisor.New(supervisor.Config{
			Bin:           cfg.OllamaBin,
			ModelCacheDir: cfg.ModelCache,
			ModelName:     cfg.ModelName,
			Host:          cfg.BackendHost,
			StopGrace:     cfg.StopGrace,
			Log:           cfg.Log,
			Publisher:     d.Publisher,
		})}
	}
	return d
}

func (c Config) withDefaults() Config {
	d := FromConfig(config.Default(), c.Log)
	if c.ModelName == "" {
		c.ModelName = d.ModelName
	}
	if c.ModelCache == "" {
		c.ModelCache = d.ModelCache
	}
	if c.BackendURL == "" {
		if c.BackendHost != "" {
			c.BackendURL = config.Config{BackendHost: c.BackendHost}.BackendURL()
		} else {
			c.BackendURL = d.BackendURL
		}
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = d.ReadyTimeout
	}
	if c.ReadyInterval <= 0 {
		c.ReadyInterval = d.ReadyInterval
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.StopGrace <= 0 {
		c.StopGrace = d.StopGrace
	}
	return c
}

// Setup provisions the weights, launches the backend, waits for it to answer
// and loads the model. On success the returned Handle owns the backend
// process. On failure any launched process has been stopped and the error is
// a *SetupError naming the phase.
func Setup(ctx context.Context, cfg Config, deps Deps) (*Handle, error) {
	return setup(ctx, cfg, deps, &recorder{})
}

func setup(ctx context.Context, cfg Config, deps Deps, rec *recorder) (*Handle, error) {
	cfg = cfg.withDefaults()
	deps = deps.withDefaults(cfg)
	log := cfg.Log.With().Str("component", "setup").Str("model", cfg.ModelName).Logger()
	rec.begin()
	start := time.Now()

	var proc Process
	fail := func(phase string, err error) (*Handle, error) {
		serr := &SetupError{Phase: phase, Err: err}
		log.Error().Err(err).Str("phase", phase).Msg("setup failed")
		if proc != nil {
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.StopGrace+time.Second)
			if stopErr := proc.Stop(stopCtx); stopErr != nil {
				log.Warn().Err(stopErr).Msg("stop backend after failed setup")
			}
			cancel()
		}
		rec.finish(phase, serr)
		return nil, serr
	}

	if cfg.SkipDownload {
		rec.logf("download skipped, using %s", cfg.ModelCache)
	} else {
		err := timePhase(rec, log, PhaseDownload, func() error {
			return deps.Provisioner.Provision(ctx, cfg.ModelURL, cfg.ModelCache)
		})
		if err != nil {
			return fail(PhaseDownload, err)
		}
	}

	err := timePhase(rec, log, PhaseLaunch, func() error {
		p, err := deps.Launcher.Launch(ctx)
		if err != nil {
			return err
		}
		proc = p
		rec.logf("backend pid %d", p.PID())
		return nil
	})
	if err != nil {
		return fail(PhaseLaunch, err)
	}

	var phase string
	err = timePhase(rec, log, PhaseReadiness, func() error {
		var werr error
		phase, werr = waitReady(ctx, cfg, deps, proc, log)
		return werr
	})
	if err != nil {
		return fail(phase, err)
	}

	err = timePhase(rec, log, PhaseLoad, func() error { return deps.Launcher.LoadModel(ctx) })
	if err != nil {
		return fail(PhaseLoad, err)
	}

	rec.logf("setup completed in %s", time.Since(start).Round(time.Millisecond))
	rec.finish("", nil)
	log.Info().Dur("took", time.Since(start)).Msg("setup completed")

	client := proxy.New(proxy.Options{
		BaseURL:         cfg.BackendURL,
		Model:           cfg.ModelName,
		ConnectTimeout:  cfg.ConnectTimeout,
		Log:             cfg.Log,
		OnDecodeWarning: func([]byte, error) { decodeWarningsTotal.Inc() },
	})
	return &Handle{cfg: cfg, proc: proc, client: client, rec: rec, log: cfg.Log}, nil
}

// waitReady returns the phase to blame alongside any error: a backend that
// exits while being polled is a launch failure.
func waitReady(ctx context.Context, cfg Config, deps Deps, proc Process, log zerolog.Logger) (string, error) {
	gate := &readiness.Gate{
		Client:   deps.HTTPClient,
		Interval: cfg.ReadyInterval,
		Log:      log,
		Abort:    proc.Done(),
	}
	switch state := gate.Wait(ctx, cfg.BackendURL, cfg.ReadyTimeout); state {
	case readiness.Ready:
		return PhaseReadiness, nil
	case readiness.TimedOut:
		return PhaseReadiness, &ReadinessTimeoutError{URL: cfg.BackendURL, Timeout: cfg.ReadyTimeout}
	default:
		if err := ctx.Err(); err != nil {
			return PhaseReadiness, err
		}
		cause := "exited"
		if perr := proc.Err(); perr != nil {
			cause = perr.Error()
		}
		return PhaseLaunch, &supervisor.StartError{
			Phase: supervisor.PhaseLaunch,
			Bin:   cfg.OllamaBin,
			Err:   fmt.Errorf("backend stopped before becoming ready: %s", strings.TrimSpace(cause)),
		}
	}
}

func timePhase(rec *recorder, log zerolog.Logger, phase string, fn func() error) error {
	start := time.Now()
	rec.logf("%s started", phase)
	log.Info().Str("phase", phase).Msg("setup phase start")
	err := fn()
	took := time.Since(start)
	setupPhaseSeconds.WithLabelValues(phase).Observe(took.Seconds())
	if err != nil {
		return err
	}
	rec.logf("%s done in %s", phase, took.Round(time.Millisecond))
	log.Info().Str("phase", phase).Dur("took", took).Msg("setup phase done")
	return nil
}
