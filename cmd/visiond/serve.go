package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"visiond/internal/backend"
	"visiond/internal/config"
	"visiond/internal/httpapi"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run setup in the background and serve the prediction API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().String("addr", "", "HTTP listen address (defaults VISIOND_ADDR or "+config.DefaultAddr+")")
	cmd.Flags().StringSlice("cors-origins", nil, "Enable CORS for these origins")
	cmd.Flags().Int64("max-body-bytes", 0, "Maximum POST /predictions body size")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := configAndLogger(cmd)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpapi.SetLogger(log)
	httpapi.SetDefaultLogLevel("info")
	httpapi.SetBaseContext(ctx)
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	httpapi.SetCORSOptions(cfg.CORSEnabled, cfg.CORSOrigins, nil, nil)

	svc := backend.Start(ctx, backend.FromConfig(cfg, log), backend.Deps{})
	srv := httpapi.NewServer(cfg.Addr, httpapi.NewMux(svc))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr).Str("model", cfg.ModelName).Msg("visiond listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-svc.Done():
		case <-gctx.Done():
			return nil
		}
		h, err := svc.Wait(gctx)
		if err != nil {
			if phase, ok := backend.PhaseOf(err); ok {
				log.Error().Err(err).Str("phase", phase).Msg("setup failed")
			}
			return err
		}
		select {
		case <-h.Done():
			if gctx.Err() != nil {
				return nil
			}
			return errors.New("backend process exited unexpectedly")
		case <-gctx.Done():
			return nil
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Warn().Err(err).Msg("graceful shutdown error")
		}
		if err := svc.Close(sctx); err != nil {
			log.Warn().Err(err).Msg("stop backend")
		}
		return nil
	})
	return g.Wait()
}
