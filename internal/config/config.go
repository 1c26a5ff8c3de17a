package config

import (
	"errors"
	"strings"

	"github.com/caarlos0/env/v10"
)

const (
	StorageBackendPostgres = "postgres"
	StorageBackendMemory   = "memory"
)

// Config centraliza la configuración del servicio.
type Config struct {
	HTTPPort              string `env:"HTTP_PORT" envDefault:"8080"`
	StorageBackend        string `env:"STORAGE_BACKEND" envDefault:"postgres"`
	DatabaseURL           string `env:"DATABASE_URL"`
	JWTSecret             string `env:"JWT_SECRET"`
	JWTAccessTTLMinutes   int    `env:"JWT_ACCESS_TTL_MINUTES" envDefault:"15"`
	RedisAddr             string `env:"REDIS_ADDR"`
	RedisPassword         string `env:"REDIS_PASSWORD"`
	RedisDB               int    `env:"REDIS_DB" envDefault:"0"`
	BroadcastBuffer       int    `env:"BROADCAST_BUFFER" envDefault:"64"`
	SendRateLimit         int    `env:"SEND_RATE_LIMIT" envDefault:"30"`
	SendRateWindowSeconds int    `env:"SEND_RATE_WINDOW_SECONDS" envDefault:"10"`
}

var ErrDatabaseURLRequired = errors.New("DATABASE_URL is required for the postgres storage backend")

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	cfg.StorageBackend = strings.ToLower(strings.TrimSpace(cfg.StorageBackend))
	if cfg.StorageBackend != StorageBackendMemory && cfg.DatabaseURL == "" {
		return nil, ErrDatabaseURLRequired
	}
	return &cfg, nil
}
