package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Debug      bool   `env:"DEBUG" envDefault:"false"`
	Port       string `env:"PORT" envDefault:"3001"`
	MetricPort string `env:"METRIC_PORT" envDefault:"9090"`
	Domain     string `env:"DOMAIN" envDefault:"http://localhost:3001"`

	Chat     ChatConfig
	Postgres PostgresConfig
}

type ChatConfig struct {
	// MaxMessageLength caps message text after sanitization, in runes.
	MaxMessageLength int `env:"MAX_MESSAGE_LENGTH" envDefault:"500"`

	// CodeReservationTTL is how long an issued room code is blocked from reuse.
	CodeReservationTTL time.Duration `env:"CODE_RESERVATION_TTL" envDefault:"24h"`

	// RateWindow is the length of one rate-limiter window.
	RateWindow time.Duration `env:"RATE_WINDOW" envDefault:"60s"`
}

type PostgresConfig struct {
	URL string `env:"POSTGRES_URL"`

	Host     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port     int    `env:"POSTGRES_PORT" envDefault:"5432"`
	User     string `env:"POSTGRES_USER" envDefault:"postgres"`
	Password string `env:"POSTGRES_PASSWORD" envDefault:"postgres"`
	Name     string `env:"POSTGRES_NAME" envDefault:"straymeet"`
	SSL      string `env:"POSTGRES_SSL" envDefault:"disable"`
}

func (p *PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}

	return fmt.Sprintf("postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		p.User,
		p.Password,
		p.Host,
		p.Port,
		p.Name,
		p.SSL,
	)
}

func New() (*Config, error) {
	c, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}

	return &c, nil
}
