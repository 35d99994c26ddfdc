package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/mantecinfox/smpp-gateway/internal/classifier"
	"github.com/mantecinfox/smpp-gateway/internal/config"
	"github.com/mantecinfox/smpp-gateway/internal/delivery"
	"github.com/mantecinfox/smpp-gateway/internal/dlr"
	"github.com/mantecinfox/smpp-gateway/internal/httpserver"
	"github.com/mantecinfox/smpp-gateway/internal/logging"
	"github.com/mantecinfox/smpp-gateway/internal/notification"
	"github.com/mantecinfox/smpp-gateway/internal/queue"
	"github.com/mantecinfox/smpp-gateway/internal/smpp"
	"github.com/mantecinfox/smpp-gateway/internal/store"
	"github.com/mantecinfox/smpp-gateway/internal/worker"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logLevel := slog.LevelInfo
	if cfg.LogLevel == "debug" {
		logLevel = slog.LevelDebug
	}
	baseHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(logging.NewContextHandler(baseHandler)))
	slog.Info("Logging initialized", slog.String("level", logLevel.String()))

	dbpool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer dbpool.Close()
	if err := dbpool.Ping(ctx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	slog.Info("Database connection pool established")

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to ping redis: %v", err)
	}
	slog.Info("Redis connection established")

	st := store.NewPostgres(dbpool)
	ingestQueue := queue.NewIngestQueue(rdb)
	sendQueue := queue.NewSendQueue(rdb)

	cls := classifier.New(st)
	if err := cls.Load(ctx); err != nil {
		log.Fatalf("Failed to load classification services: %v", err)
	}

	correlator := dlr.NewCorrelator(st)
	agent := delivery.NewAgent(st, cfg.Webhook.Timeout, cfg.Webhook.RetryAttempts)
	ingestor := worker.NewIngestor(st, ingestQueue, correlator)

	session := smpp.NewSession(sessionConfig(ctx, st, cfg.SMPP), ingestor)
	if err := session.Start(ctx); err != nil {
		log.Fatalf("Failed to start SMPP session: %v", err)
	}

	processor := worker.NewProcessor(st, cls, agent)
	ingestWorker := worker.NewIngestWorker(ingestQueue, processor, cfg.Worker.PopTimeout, cfg.Worker.ErrorBackoff)
	sendWorker := worker.NewSendWorker(sendQueue, worker.NewSendProcessor(st, session), cfg.Worker.PopTimeout, cfg.Worker.ErrorBackoff)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		ingestWorker.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		sendWorker.Run(ctx)
	}()

	server := httpserver.NewServer(cfg.HTTP, cfg.Webhook.Secret, st, ingestQueue, sendQueue, session)
	go func() {
		if err := server.ListenAndServe(); err != nil {
			slog.Error("HTTP server failed", slog.Any("error", err))
			cancel()
		}
	}()

	// A session that exhausted its reconnect attempts will not recover;
	// alert the operator and shut the process down for a restart.
	notifier := notification.NewLogNotifier()
	go func() {
		select {
		case <-session.Stopped():
			_ = notifier.Notify(ctx, "SMPP session stopped",
				"reconnect attempts exhausted, gateway is shutting down and needs a restart")
			cancel()
		case <-ctx.Done():
		}
	}()

	<-ctx.Done()
	slog.Info("Shutdown signal received, shutting down gracefully")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP server shutdown error", slog.Any("error", err))
	}
	session.Stop(shutdownCtx)
	wg.Wait()

	slog.Info("Gateway stopped")
}

// sessionConfig resolves the carrier endpoint: the active SMSC row wins,
// environment values fill anything the row does not carry.
func sessionConfig(ctx context.Context, st store.Store, cfg config.SMPPConfig) smpp.SessionConfig {
	sess := smpp.SessionConfig{
		Host:                 cfg.Host,
		Port:                 cfg.Port,
		SystemID:             cfg.SystemID,
		Password:             cfg.Password,
		SystemType:           cfg.SystemType,
		DefaultSourceAddr:    cfg.DefaultSourceAddr,
		EnquireLink:          cfg.EnquireLink,
		RequestTimeout:       cfg.RequestTimeout,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	}

	smsc, err := st.GetActiveSMSCConfig(ctx)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("Failed to load active SMSC config, using environment values", slog.Any("error", err))
		}
		return sess
	}

	slog.Info("Using active SMSC config", slog.String("name", smsc.Name))
	sess.Host = smsc.Host
	sess.Port = smsc.Port
	sess.SystemID = smsc.Username
	sess.Password = smsc.Password
	if smsc.SystemType != "" {
		sess.SystemType = smsc.SystemType
	}
	return sess
}
