package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/corvid-agent/corvid/internal/config"
	"github.com/corvid-agent/corvid/internal/logger"
	"github.com/corvid-agent/corvid/internal/tracing"
	"github.com/corvid-agent/corvid/pkg/backpressure"
	"github.com/corvid-agent/corvid/pkg/gateway"
	"github.com/corvid-agent/corvid/pkg/proc"
	"github.com/corvid-agent/corvid/pkg/strategy"
	"github.com/corvid-agent/corvid/pkg/streamstate"
	"github.com/corvid-agent/corvid/pkg/transcript"
)

// runtime bundles everything a command needs to execute queries.
type runtime struct {
	cfg         *config.Config
	strat       strategy.Strategy
	tracker     *streamstate.Tracker
	controller  *backpressure.Controller
	transcript  *transcript.Store
	broadcaster *gateway.Broadcaster
	log         *logger.Logger
}

// close releases runtime resources in reverse construction order.
func (r *runtime) close() {
	if r.strat != nil {
		r.strat.Shutdown()
	}
	if r.transcript != nil {
		if err := r.transcript.Close(); err != nil {
			log.Warn().Err(err).Msg("Closing transcript store failed")
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tracing.ShutdownOpenTelemetry(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Tracing shutdown failed")
	}
	if r.log != nil {
		r.log.Close()
	}
}

// loadConfig resolves the active configuration from the --config flag and
// applies the --log-level override. The returned loader holds the resolved
// file path for callers that need to watch it.
func loadConfig() (*config.Config, *config.Loader, error) {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, loader, nil
}

// buildRuntime constructs the full stack: logger, tracing, process runner,
// stream tracker, backpressure controller, optional transcript store and
// broadcaster, and the execution strategy selected by cfg.Mode.
func buildRuntime(cfg *config.Config) (*runtime, error) {
	appLog, err := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
		Pretty:  cfg.Logging.Pretty,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	if err := tracing.InitOpenTelemetry("corvid"); err != nil {
		log.Warn().Err(err).Msg("Tracing initialization failed, continuing without spans")
	}

	var env map[string]string
	if cfg.ForwardAuthEnv {
		env = cfg.AuthEnv
	}
	runner := proc.NewRunner(env, cfg.DefaultTimeout)

	rt := &runtime{
		cfg:        cfg,
		tracker:    streamstate.NewTracker(),
		controller: backpressure.New(backpressure.Config{
			Capacity:      cfg.Backpressure.Capacity,
			Strategy:      backpressure.Strategy(cfg.Backpressure.Strategy),
			HighWatermark: cfg.Backpressure.HighWatermark,
			LowWatermark:  cfg.Backpressure.LowWatermark,
		}),
		log: appLog,
	}

	if cfg.Transcript.Enabled {
		store, err := transcript.Open(cfg.Transcript.Path)
		if err != nil {
			rt.close()
			return nil, fmt.Errorf("open transcript store: %w", err)
		}
		rt.transcript = store
	}

	if cfg.Gateway.Enabled {
		rt.broadcaster = gateway.NewBroadcaster(log.With().Str("component", "gateway").Logger())
	}

	strat, err := strategy.New(cfg, strategy.Deps{
		Runner:      runner,
		Tracker:     rt.tracker,
		Controller:  rt.controller,
		Transcript:  rt.transcript,
		Broadcaster: rt.broadcaster,
	})
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("build execution strategy: %w", err)
	}
	rt.strat = strat

	return rt, nil
}
