package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"example.com/pagepulse/internal/agent"
	"example.com/pagepulse/internal/clock"
	"example.com/pagepulse/internal/config"
	"example.com/pagepulse/internal/delivery"
	"example.com/pagepulse/internal/kv"
	"example.com/pagepulse/internal/lifecycle"
	"example.com/pagepulse/internal/logger"
	"example.com/pagepulse/internal/page"
	"example.com/pagepulse/internal/tracker"
)

func main() {
	scriptPath := flag.String("script", "-", "activity script (JSON lines), - for stdin")
	shutdownWait := flag.Duration("shutdown-wait", 10*time.Second, "time allowed for the final flush")
	flag.Parse()

	logger.Init()
	log := logger.Component("pulse-agent")

	cfg, err := config.ParseTracker()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	steps, err := readScript(*scriptPath)
	if err != nil {
		log.Fatal().Err(err).Msg("script")
	}

	backend, closeBackend, err := openBackend(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("store", cfg.Store).Msg("kv backend")
	}
	defer closeBackend()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	state := page.NewState()
	state.SetViewport(1280, 800)
	state.SetDocumentHeight(800)
	state.SetTimezone(time.Local.String())
	if lang := os.Getenv("LANG"); lang != "" {
		state.SetLanguage(lang)
	}

	net := &agent.Network{Poster: delivery.NewHTTPPoster(nil)}
	var dispatcher *delivery.Dispatcher
	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	if cfg.BeaconEnabled {
		dispatcher = delivery.NewDispatcher(nil, 16, logger.Logger)
		dispatcher.Start(dispatchCtx)
		net.Beacon = dispatcher
	}

	svc := tracker.NewService(cfg, tracker.ServiceDeps{
		Store:  kv.New(backend, logger.Component("kv")),
		Env:    state,
		Beacon: net,
		Poster: net,
		Clock:  clock.Real(),
		Logger: logger.Logger,
	})
	if !svc.TrackingAllowed() {
		log.Warn().Msg("tracking disabled: site id or endpoint missing, do-not-track set, or consent required")
	}

	triggers := lifecycle.NewTriggers(svc, clock.Real(), cfg.HeartbeatInterval, cfg.RouteFlushDelay, logger.Logger)
	triggers.Start()

	runner := &agent.Runner{
		Tracker: svc,
		Page:    lifecycle.NewPage(svc, state, triggers),
		State:   state,
		Network: net,
		Log:     log,
	}

	log.Info().
		Str("visitor", svc.VisitorID()).
		Str("session", svc.SessionID()).
		Int("steps", len(steps)).
		Msg("running script")
	if err := runner.Run(ctx, steps); err != nil {
		log.Error().Err(err).Msg("script stopped")
	}

	triggers.Stop()
	shutdown(svc, triggers, dispatcher, stopDispatch, *shutdownWait, log)
}

// shutdown mirrors a page unload: one last flush, then wait for whatever
// was already handed to the network.
func shutdown(svc *tracker.Service, triggers *lifecycle.Triggers, dispatcher *delivery.Dispatcher,
	stopDispatch context.CancelFunc, wait time.Duration, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()

	res := triggers.Unload(ctx)
	if err := svc.Close(ctx); err != nil {
		log.Warn().Err(err).Msg("fallback requests still in flight")
	}
	stopDispatch()
	if dispatcher != nil {
		if err := dispatcher.Wait(ctx); err != nil {
			log.Warn().Err(err).Msg("beacon queue not drained")
		}
	}
	log.Info().
		Str("outcome", res.Outcome.String()).
		Int("flushed", res.Count).
		Int("pending", svc.Len()).
		Msg("done")
}

func readScript(path string) ([]agent.Step, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	return agent.ParseScript(r)
}

func openBackend(cfg config.Tracker) (kv.Backend, func(), error) {
	switch cfg.Store {
	case "sqlite":
		s, err := kv.OpenSQLite(cfg.SQLitePath, cfg.Origin)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case "redis":
		r := kv.NewRedis(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB, cfg.Origin)
		return r, func() { _ = r.Close() }, nil
	default:
		return kv.NewMemory(), func() {}, nil
	}
}
