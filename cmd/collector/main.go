package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"example.com/pagepulse/internal/config"
	"example.com/pagepulse/internal/ingest"
	"example.com/pagepulse/internal/logger"
	"example.com/pagepulse/internal/messaging/rabbitmq"
	spg "example.com/pagepulse/internal/storage/postgres"
	transport "example.com/pagepulse/internal/transport/http"
)

func main() {
	logger.Init()
	log := logger.Component("collector")

	cfg, err := config.ParseCollector()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	log.Info().Str("port", cfg.Port).Int("api_keys", len(cfg.APIKeys)).Msg("config loaded")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := spg.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("migration")
	}
	log.Info().Msg("db: migrations applied")

	writer := spg.NewWriter(db)
	ingestor := ingest.NewIngestor(writer, cfg.QueueMaxSize, cfg.BatchMaxSize, cfg.BatchMaxWait, logger.Logger)

	if cfg.RabbitURL != "" {
		pub, err := rabbitmq.Dial(cfg.RabbitURL, cfg.RabbitExchange, 6, logger.Component("rabbitmq"))
		if err != nil {
			log.Fatal().Err(err).Msg("rabbitmq")
		}
		defer pub.Close()
		ingestor.WithPublisher(pub)
		log.Info().Str("exchange", cfg.RabbitExchange).Msg("rabbitmq: publishing enabled")
	}

	ingestCtx, stopIngest := context.WithCancel(context.Background())
	ingestor.Start(ingestCtx)
	log.Info().
		Int("queue", cfg.QueueMaxSize).
		Int("batch", cfg.BatchMaxSize).
		Dur("wait", cfg.BatchMaxWait).
		Msg("ingest: started")

	deps := &transport.ServerDeps{
		Cfg:      cfg,
		Ingestor: ingestor,
		Store:    db,
		Now:      func() time.Time { return time.Now().UTC() },
		Log:      logger.Component("http"),
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           deps.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel2 := context.WithTimeout(context.Background(), cfg.ShutdownWait)
	defer cancel2()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}

	// Accepted records are written before the pool closes.
	stopIngest()
	select {
	case <-ingestor.Done():
	case <-shutdownCtx.Done():
		log.Warn().Msg("ingest did not drain before shutdown deadline")
	}
}
