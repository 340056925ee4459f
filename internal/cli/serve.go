package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/corvid-agent/corvid/internal/config"
	"github.com/corvid-agent/corvid/pkg/gateway"
	"github.com/corvid-agent/corvid/pkg/streamstate"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the session layer as a long-lived service",
	Long: `Run corvid in the foreground with the websocket event gateway, the
stream record sweeper, and live configuration reload. The service holds the
execution strategy open so interactive sessions survive across queries.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, loader, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.strat.Start(ctx); err != nil {
		return fmt.Errorf("start execution strategy: %w", err)
	}

	sweeper := streamstate.NewSweeper(rt.tracker, cfg.Sweep.Schedule, cfg.Sweep.MaxAge)
	if err := sweeper.Start(); err != nil {
		return fmt.Errorf("start stream sweeper: %w", err)
	}
	defer sweeper.Stop()

	var srv *gateway.Server
	if cfg.Gateway.Enabled {
		srv = gateway.NewServer(cfg.Gateway.Addr, rt.broadcaster, log.With().Str("component", "gateway").Logger())
		go func() {
			if err := srv.Start(); err != nil {
				log.Error().Err(err).Msg("Gateway server stopped")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("Gateway shutdown failed")
			}
		}()
	}

	// Live reload covers logging level only. Process, backpressure, and
	// strategy settings are fixed for the lifetime of the service.
	watcher, err := config.NewWatcher(loader, func(updated *config.Config) {
		log.Info().Str("level", updated.Logging.Level).Msg("Configuration reloaded")
		rt.log.SetLevel(updated.Logging.Level)
	})
	if err != nil {
		log.Warn().Err(err).Msg("Configuration watcher unavailable, live reload disabled")
	} else {
		if err := watcher.Start(); err != nil {
			log.Warn().Err(err).Msg("Configuration watcher failed to start")
		} else {
			defer watcher.Stop()
		}
	}

	log.Info().
		Str("mode", string(cfg.Mode)).
		Bool("gateway", cfg.Gateway.Enabled).
		Msg("Service started")

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	return nil
}
