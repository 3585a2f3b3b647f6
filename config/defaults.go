package config

import "github.com/spf13/viper"

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.path", "/ws")
	v.SetDefault("server.readTimeout", 15)
	v.SetDefault("server.allowedOrigins", []string{"*"})

	// Auth
	v.SetDefault("auth.tokenQueryParam", "token")
	v.SetDefault("auth.allowedAlgs", []string{"RS256"})
	v.SetDefault("auth.leeway", 0)

	// Storage
	v.SetDefault("storage.driver", "dynamodb")
	v.SetDefault("storage.connectionTable", "Connections")
	v.SetDefault("storage.messageTable", "Messages")
	v.SetDefault("storage.connectionTTL", 0)
	v.SetDefault("storage.redis.address", "localhost:6379")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.poolSize", 100)
	v.SetDefault("storage.redis.poolTimeout", 5)

	// Broker
	v.SetDefault("broker.type", "none")
	v.SetDefault("broker.topic", "relay-events")
	v.SetDefault("broker.redis.address", "localhost:6379")
	v.SetDefault("broker.redis.poolSize", 10)
	v.SetDefault("broker.redis.poolTimeout", 5)

	// WebSocket
	v.SetDefault("websocket.maxConnections", 10000)
	v.SetDefault("websocket.messageSizeLimit", 8192)
	v.SetDefault("websocket.handshakeTimeout", 10)
	v.SetDefault("websocket.pingInterval", 25)
	v.SetDefault("websocket.pongTimeout", 30)
	v.SetDefault("websocket.activityTimeout", 60)
	v.SetDefault("websocket.writeTimeout", 10)
	v.SetDefault("websocket.keepAlive", true)

	// Metrics
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.path", "/metrics")

	// Secrets
	v.SetDefault("secrets.enabled", false)

	// Logging
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}
