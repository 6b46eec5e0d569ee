package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/predatorx7/logpulse/pkg/auth"
	"github.com/predatorx7/logpulse/pkg/notify"
	"github.com/predatorx7/logpulse/pkg/server"
	"github.com/predatorx7/logpulse/pkg/stream"
)

func newServeCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cc)
		},
	}
}

func runServe(ctx context.Context, cc *commandContext) error {
	cfg, log := cc.config, cc.logger

	reg, _, err := buildRegistry(cfg, log)
	if err != nil {
		return err
	}

	var waker stream.Waker
	if cfg.Tail.Notify {
		n, err := notify.New(log)
		if err != nil {
			log.Warn().Err(err).Msg("file notifications unavailable, polling only")
		} else {
			defer n.Close()
			waker = n
		}
	}
	hub := stream.NewHub(cfg.TailOptions(log), waker, log)

	mode, err := auth.ParseMode(cfg.Auth.Mode)
	if err != nil {
		return err
	}
	gate, err := auth.NewGate(mode, cfg.Auth.Secret, log)
	if err != nil {
		return err
	}
	if mode == auth.ModeNone {
		log.Warn().Msg("authentication disabled")
	}

	srv := server.New(reg, hub, gate, log).NewHTTPServer(fmt.Sprintf(":%d", cfg.Server.Port))

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Strs("sources", reg.Tags()).Msg("starting logpulse")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Streams never go idle on their own, so they are cancelled before the
	// server waits for connections to drain.
	if err := hub.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("streams did not stop in time")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	log.Info().Msg("server exiting")
	return nil
}
