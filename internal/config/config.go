package config

import (
	"errors"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration for the server.
type Config struct {
	Port      string `env:"PORT" envDefault:"8080"`
	JWTSecret string `env:"JWT_SECRET"`

	DBHost     string `env:"DB_HOST" envDefault:"localhost"`
	DBUser     string `env:"DB_USER" envDefault:"echolink"`
	DBPassword string `env:"DB_PASSWORD"`
	DBName     string `env:"DB_NAME" envDefault:"echolink"`
	DBPort     string `env:"DB_PORT" envDefault:"5432"`
	DBSSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Outbox tunables. AckTimeout must not exceed SendMessageInterval or
	// a silent recipient would skip retry ticks.
	AckTimeout          time.Duration `env:"ACK_TIMEOUT" envDefault:"3s"`
	SendMessageInterval time.Duration `env:"SEND_MESSAGE_INTERVAL" envDefault:"5s"`

	// Pull-sync limits.
	MaxChats           int           `env:"MAX_CHATS" envDefault:"10"`
	MaxMessages        int           `env:"MAX_MESSAGES" envDefault:"100"`
	MaxMetadataChats   int           `env:"MAX_METADATA_CHATS" envDefault:"50"`
	MetadataSyncOffset time.Duration `env:"METADATA_SYNC_OFFSET" envDefault:"30s"`

	// Connection liveness.
	PingInterval time.Duration `env:"PING_INTERVAL" envDefault:"30s"`
	PongTimeout  time.Duration `env:"PONG_TIMEOUT" envDefault:"90s"`
}

// Load reads .env (when present) and parses the environment.
func Load() (*Config, error) {
	// Missing .env is fine; the system environment still applies.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	return cfg, nil
}
