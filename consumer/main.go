// Command consumer tails the relay event topic on redis and logs every event.
// It is a debugging aid for watching one or more relays from the outside.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/abdelmounim-dev/chat-relay/broker"
	"github.com/abdelmounim-dev/chat-relay/config"
	"github.com/abdelmounim-dev/chat-relay/services"
)

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisAddr := getEnv("REDIS_ADDRESS", "localhost:6379")
	topic := getEnv("RELAY_BROKER_TOPIC", "relay-events")

	rdb, err := services.NewRedisClient(ctx, config.RedisConfig{
		Address:     redisAddr,
		Password:    os.Getenv("REDIS_PASSWORD"),
		PoolSize:    4,
		PoolTimeout: 5,
	})
	if err != nil {
		log.Fatal().Err(err).Str("address", redisAddr).Msg("connect redis")
	}
	defer services.CloseRedisClient(rdb)

	events, err := broker.NewRedisPublisher(rdb, topic).Subscribe(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("subscribe")
	}
	log.Info().Str("address", redisAddr).Str("topic", topic).Msg("listening for relay events")

	for ev := range events {
		entry := log.Info().
			Str("type", ev.Type).
			Str("server_id", ev.ServerID).
			Str("connection_id", ev.ConnectionID).
			Str("user_id", ev.UserID).
			Time("at", ev.At)
		if ev.Message != nil {
			entry = entry.
				Str("conversation_id", ev.Message.ConversationID).
				Str("timestamp", ev.Message.Timestamp).
				Str("recipient_id", ev.Message.RecipientID)
		}
		entry.Msg("event")
	}
	log.Info().Msg("consumer stopped")
}
