package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/abdelmounim-dev/chat-relay/auth"
)

type AppConfig struct {
	Server    ServerConfig
	Auth      AuthConfig
	Storage   StorageConfig
	Broker    BrokerConfig
	WebSocket WebSocketConfig
	Metrics   MetricsConfig
	Secrets   SecretsConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port           int
	Path           string
	ReadTimeout    int // Seconds
	AllowedOrigins []string
}

// AuthConfig describes the trusted identity provider. Issuer and JWKSURL are
// derived from Region and UserPoolID unless set explicitly.
type AuthConfig struct {
	Region          string
	UserPoolID      string
	ClientID        string
	Issuer          string
	JWKSURL         string
	TokenQueryParam string
	AllowedAlgs     []string
	Leeway          int // Seconds
}

type StorageConfig struct {
	Driver          string // dynamodb, redis or memory
	ConnectionTable string
	MessageTable    string
	ConnectionTTL   int // Seconds, 0 disables expiry
	DynamoDB        DynamoDBConfig
	Redis           RedisConfig
}

type DynamoDBConfig struct {
	Region   string
	Endpoint string
}

type RedisConfig struct {
	Address     string
	Password    string
	DB          int
	PoolSize    int
	PoolTimeout int
}

type BrokerConfig struct {
	Type  string // none, redis or kafka
	Topic string
	Redis RedisConfig
	Kafka KafkaConfig
}

type KafkaConfig struct {
	Brokers []string
}

type WebSocketConfig struct {
	MaxConnections   int
	MessageSizeLimit int
	HandshakeTimeout int
	PingInterval     int // Seconds
	PongTimeout      int // Seconds
	ActivityTimeout  int // Seconds
	WriteTimeout     int // Seconds
	KeepAlive        bool
}

type MetricsConfig struct {
	Enabled bool
	Port    int
	Path    string
}

type SecretsConfig struct {
	Enabled  bool
	SecretID string
	Region   string
}

type LogConfig struct {
	Level  string
	Format string
}

var (
	instance *AppConfig
	once     sync.Once
)

// Initialize loads the process-wide configuration once. Later calls return
// the result of the first.
func Initialize(ctx context.Context, env string) error {
	var initErr error
	once.Do(func() {
		instance, initErr = Load(ctx, env, nil)
	})
	return initErr
}

func Get() *AppConfig {
	return instance
}

// Load reads config.<env>.yaml, environment overrides and, when enabled, the
// secret overlay. A nil source means the Secrets Manager client is built from
// the ambient AWS configuration.
func Load(ctx context.Context, env string, source SecretSource) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigName(fmt.Sprintf("config.%s", env))
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindEnvVars(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config file error: %w", err)
		}
	}

	if v.GetBool("secrets.enabled") {
		if source == nil {
			var err error
			source, err = newSecretsManagerSource(ctx, v.GetString("secrets.region"))
			if err != nil {
				return nil, fmt.Errorf("secrets client error: %w", err)
			}
		}
		if err := applySecret(ctx, v, source, v.GetString("secrets.secretId")); err != nil {
			return nil, fmt.Errorf("secrets overlay error: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal error: %w", err)
	}
	cfg.Auth.resolve()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func (a *AuthConfig) resolve() {
	if a.Issuer == "" && a.Region != "" && a.UserPoolID != "" {
		a.Issuer = auth.CognitoIssuer(a.Region, a.UserPoolID)
	}
	if a.JWKSURL == "" && a.Issuer != "" {
		a.JWKSURL = auth.JWKSURL(a.Issuer)
	}
}
