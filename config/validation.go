package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

func (c *AppConfig) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return errors.New("invalid server port")
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		return errors.New("server.path must start with '/'")
	}

	// Validate auth config
	if c.Auth.Issuer == "" {
		return errors.New("auth.region and auth.userPoolId (or auth.issuer) must be set")
	}
	if c.Auth.ClientID == "" {
		return errors.New("auth.clientId must be set")
	}
	if c.Auth.JWKSURL == "" {
		return errors.New("auth.jwksUrl could not be resolved")
	}
	if len(c.Auth.AllowedAlgs) == 0 {
		return errors.New("auth.allowedAlgs must not be empty")
	}
	for _, alg := range c.Auth.AllowedAlgs {
		if strings.EqualFold(alg, "none") || strings.HasPrefix(strings.ToUpper(alg), "HS") {
			return fmt.Errorf("auth.allowedAlgs: %s is not an asymmetric algorithm", alg)
		}
	}
	if c.Auth.Leeway < 0 {
		return errors.New("auth.leeway must not be negative")
	}

	// Validate storage configuration
	switch strings.ToLower(c.Storage.Driver) {
	case "dynamodb":
		if c.Storage.ConnectionTable == "" || c.Storage.MessageTable == "" {
			return errors.New("storage.connectionTable and storage.messageTable must be set for dynamodb")
		}
		if c.Storage.DynamoDB.Region == "" && c.Auth.Region == "" {
			return errors.New("storage.dynamodb.region or auth.region must be set for dynamodb")
		}
	case "redis":
		if c.Storage.Redis.Address == "" {
			return errors.New("storage.redis.address must be set for redis storage")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid storage driver: %s. Must be 'dynamodb', 'redis' or 'memory'", c.Storage.Driver)
	}
	if c.Storage.ConnectionTTL < 0 {
		return errors.New("storage.connectionTTL must not be negative")
	}

	// Validate broker configuration
	switch strings.ToLower(c.Broker.Type) {
	case "none", "":
	case "redis":
		if c.Broker.Redis.Address == "" {
			return errors.New("redis address must be specified for redis broker")
		}
		if c.Broker.Topic == "" {
			return errors.New("broker.topic must be configured for redis broker")
		}
	case "kafka":
		if len(c.Broker.Kafka.Brokers) == 0 {
			return errors.New("kafka brokers must be specified for kafka broker")
		}
		if c.Broker.Topic == "" {
			return errors.New("broker.topic must be configured for kafka broker")
		}
	default:
		return fmt.Errorf("invalid broker type: %s. Must be 'none', 'redis' or 'kafka'", c.Broker.Type)
	}

	if c.WebSocket.MaxConnections < 1 {
		return errors.New("max connections must be positive")
	}

	if c.WebSocket.HandshakeTimeout < 1 {
		return errors.New("handshake timeout must be at least 1 second")
	}

	if c.WebSocket.PingInterval >= c.WebSocket.ActivityTimeout {
		return errors.New("ping interval should be less than activity timeout")
	}

	if c.WebSocket.PingInterval >= c.WebSocket.PongTimeout {
		return errors.New("ping interval should be less than pong timeout")
	}

	if c.Storage.ConnectionTTL > 0 && c.Storage.ConnectionTTL <= c.WebSocket.ActivityTimeout {
		return errors.New("connection TTL should be greater than activity timeout")
	}

	if c.Secrets.Enabled && c.Secrets.SecretID == "" {
		return errors.New("secrets.secretId must be set when secrets are enabled")
	}

	return nil
}

func bindEnvVars(v *viper.Viper) {
	// Server
	v.BindEnv("server.port", "RELAY_PORT")
	v.BindEnv("server.allowedOrigins", "RELAY_ALLOWED_ORIGINS")

	// Auth
	v.BindEnv("auth.region", "RELAY_AUTH_REGION")
	v.BindEnv("auth.userPoolId", "RELAY_AUTH_USER_POOL_ID")
	v.BindEnv("auth.clientId", "RELAY_AUTH_CLIENT_ID")
	v.BindEnv("auth.issuer", "RELAY_AUTH_ISSUER")
	v.BindEnv("auth.jwksUrl", "RELAY_AUTH_JWKS_URL")
	v.BindEnv("auth.tokenQueryParam", "RELAY_AUTH_TOKEN_PARAM")

	// Storage
	v.BindEnv("storage.driver", "RELAY_STORAGE_DRIVER")
	v.BindEnv("storage.connectionTable", "RELAY_CONNECTION_TABLE")
	v.BindEnv("storage.messageTable", "RELAY_MESSAGE_TABLE")
	v.BindEnv("storage.connectionTTL", "RELAY_CONNECTION_TTL")
	v.BindEnv("storage.dynamodb.region", "RELAY_DYNAMODB_REGION")
	v.BindEnv("storage.dynamodb.endpoint", "RELAY_DYNAMODB_ENDPOINT")
	v.BindEnv("storage.redis.address", "RELAY_STORAGE_REDIS_ADDRESS")
	v.BindEnv("storage.redis.password", "RELAY_STORAGE_REDIS_PASSWORD")

	// Broker
	v.BindEnv("broker.type", "RELAY_BROKER_TYPE")
	v.BindEnv("broker.topic", "RELAY_BROKER_TOPIC")
	v.BindEnv("broker.redis.address", "RELAY_BROKER_REDIS_ADDRESS")
	v.BindEnv("broker.redis.password", "RELAY_BROKER_REDIS_PASSWORD")
	v.BindEnv("broker.kafka.brokers", "RELAY_KAFKA_BROKERS")

	// WebSocket
	v.BindEnv("websocket.maxConnections", "RELAY_MAX_CONNECTIONS")
	v.BindEnv("websocket.handshakeTimeout", "RELAY_HANDSHAKE_TIMEOUT")
	v.BindEnv("websocket.pingInterval", "RELAY_PING_INTERVAL")
	v.BindEnv("websocket.pongTimeout", "RELAY_PONG_TIMEOUT")
	v.BindEnv("websocket.activityTimeout", "RELAY_ACTIVITY_TIMEOUT")
	v.BindEnv("websocket.writeTimeout", "RELAY_WRITE_TIMEOUT")

	// Secrets
	v.BindEnv("secrets.enabled", "RELAY_SECRETS_ENABLED")
	v.BindEnv("secrets.secretId", "RELAY_SECRET_ID")
	v.BindEnv("secrets.region", "RELAY_SECRETS_REGION")

	// Logging
	v.BindEnv("log.level", "RELAY_LOG_LEVEL")
	v.BindEnv("log.format", "RELAY_LOG_FORMAT")
}
