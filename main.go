package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/abdelmounim-dev/chat-relay/auth"
	"github.com/abdelmounim-dev/chat-relay/broker"
	"github.com/abdelmounim-dev/chat-relay/config"
	"github.com/abdelmounim-dev/chat-relay/message"
	"github.com/abdelmounim-dev/chat-relay/metrics"
	"github.com/abdelmounim-dev/chat-relay/server"
	"github.com/abdelmounim-dev/chat-relay/services"
	"github.com/abdelmounim-dev/chat-relay/session"
	"github.com/abdelmounim-dev/chat-relay/websocket"
)

const shutdownTimeout = 30 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "dev"
	}
	if err := config.Initialize(ctx, env); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize config")
	}
	cfg := config.Get()
	setupLogging(cfg.Log)

	// Unique id of this relay instance, stamped on registry records and events.
	serverID := uuid.NewString()
	log.Info().Str("server_id", serverID).Str("environment", env).Msg("starting chat relay")

	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()

	registry, store, err := newStorage(ctx, cfg, &closers)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("failed to initialize storage")
	}

	publisher, err := newPublisher(ctx, cfg, &closers)
	if err != nil {
		log.Fatal().Err(err).Str("type", cfg.Broker.Type).Msg("failed to initialize event publisher")
	}

	verifier, err := auth.New(ctx, auth.Config{
		Issuer:      cfg.Auth.Issuer,
		Audience:    cfg.Auth.ClientID,
		JWKSURL:     cfg.Auth.JWKSURL,
		AllowedAlgs: cfg.Auth.AllowedAlgs,
		Leeway:      time.Duration(cfg.Auth.Leeway) * time.Second,
	})
	if err != nil {
		log.Fatal().Err(err).Str("jwks_url", cfg.Auth.JWKSURL).Msg("failed to initialize token verifier")
	}
	log.Info().Str("issuer", cfg.Auth.Issuer).Msg("token verification enabled")

	if cfg.Metrics.Enabled {
		metricsSrv := metrics.StartServer(cfg.Metrics.Port, cfg.Metrics.Path)
		closers = append(closers, metricsSrv)
	}

	clientManager := websocket.NewClientManager(registry, serverID)
	if ttl := time.Duration(cfg.Storage.ConnectionTTL) * time.Second; ttl > 0 {
		go clientManager.KeepRegistered(ctx, ttl/3)
	}
	handler := websocket.NewHandler(clientManager, verifier, store, publisher, cfg)
	srv := server.NewServer(&cfg.Server, handler.HandleWebSocket, clientManager)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	srv.Shutdown(shutdownCtx, publisher)
}

func setupLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

func newStorage(ctx context.Context, cfg *config.AppConfig, closers *[]io.Closer) (session.Registry, message.Store, error) {
	ttl := time.Duration(cfg.Storage.ConnectionTTL) * time.Second

	switch strings.ToLower(cfg.Storage.Driver) {
	case "dynamodb":
		region := cfg.Storage.DynamoDB.Region
		if region == "" {
			region = cfg.Auth.Region
		}
		client, err := services.NewDynamoDBClient(ctx, region, cfg.Storage.DynamoDB.Endpoint)
		if err != nil {
			return nil, nil, err
		}
		log.Info().
			Str("connections", cfg.Storage.ConnectionTable).
			Str("messages", cfg.Storage.MessageTable).
			Str("region", region).
			Msg("using dynamodb storage")
		return session.NewDynamoRegistry(client, cfg.Storage.ConnectionTable, ttl),
			message.NewDynamoStore(client, cfg.Storage.MessageTable), nil
	case "redis":
		client, err := services.NewRedisClient(ctx, cfg.Storage.Redis)
		if err != nil {
			return nil, nil, err
		}
		*closers = append(*closers, client)
		log.Info().Str("address", cfg.Storage.Redis.Address).Msg("using redis storage")
		return session.NewRedisRegistry(client, "connection", ttl),
			message.NewRedisStore(client, "messages"), nil
	case "memory":
		log.Warn().Msg("using in-memory storage, nothing survives a restart")
		return session.NewMemoryRegistry(), message.NewMemoryStore(), nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

func newPublisher(ctx context.Context, cfg *config.AppConfig, closers *[]io.Closer) (broker.Publisher, error) {
	switch strings.ToLower(cfg.Broker.Type) {
	case "", "none":
		return broker.Noop{}, nil
	case "redis":
		client, err := services.NewRedisClient(ctx, cfg.Broker.Redis)
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, client)
		return broker.NewRedisPublisher(client, cfg.Broker.Topic), nil
	case "kafka":
		return broker.NewKafkaPublisher(cfg.Broker.Kafka.Brokers, cfg.Broker.Topic)
	default:
		return nil, fmt.Errorf("unknown broker type %q", cfg.Broker.Type)
	}
}

