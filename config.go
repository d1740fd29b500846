package main

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds server and battle tuning. Values come from the environment and
// may be overridden by command line flags in main.
type Config struct {
	Addr        string `env:"ADDR" envDefault:":8080"`
	DBPath      string `env:"DB_PATH" envDefault:"clash.db"`
	JWTSecret   string `env:"JWT_SECRET"`
	CatalogPath string `env:"CATALOG_PATH"`

	TickInterval          time.Duration `env:"TICK_INTERVAL" envDefault:"1s"`
	MaxConcurrencyRetries int           `env:"MAX_CONCURRENCY_RETRIES" envDefault:"3"`
	CommandTimeout        time.Duration `env:"COMMAND_TIMEOUT" envDefault:"5s"`

	MaxElixir       float64 `env:"MAX_ELIXIR" envDefault:"10"`
	StartingElixir  float64 `env:"STARTING_ELIXIR" envDefault:"5"`
	ElixirPerSecond float64 `env:"ELIXIR_PER_SECOND" envDefault:"0.35"`

	HandSize     int      `env:"HAND_SIZE" envDefault:"4"`
	MaxDeckSize  int      `env:"MAX_DECK_SIZE" envDefault:"8"`
	StarterCards []string `env:"STARTER_CARDS" envSeparator:"," envDefault:"knight,archer,giant,goblin,musketeer,cannon,valkyrie,tesla"`

	MatchDuration      time.Duration `env:"MATCH_DURATION" envDefault:"3m"`
	DisconnectTimeout  time.Duration `env:"DISCONNECT_TIMEOUT" envDefault:"30s"`
	MatchRetryInterval time.Duration `env:"MATCH_RETRY_INTERVAL" envDefault:"2s"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadConfig returns the environment configuration, validated.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultConfig returns the built-in defaults without reading the environment.
func DefaultConfig() Config {
	var cfg Config
	// envDefault tags are applied even when nothing is set.
	_ = env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}})
	return cfg
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	switch {
	case c.TickInterval <= 0:
		return fmt.Errorf("tick interval must be positive, got %s", c.TickInterval)
	case c.MaxConcurrencyRetries < 0:
		return fmt.Errorf("max concurrency retries must be >= 0, got %d", c.MaxConcurrencyRetries)
	case c.MaxElixir <= 0:
		return fmt.Errorf("max elixir must be positive, got %v", c.MaxElixir)
	case c.StartingElixir < 0 || c.StartingElixir > c.MaxElixir:
		return fmt.Errorf("starting elixir %v outside [0, %v]", c.StartingElixir, c.MaxElixir)
	case c.HandSize < 1:
		return fmt.Errorf("hand size must be >= 1, got %d", c.HandSize)
	case c.MaxDeckSize < c.HandSize+1:
		return fmt.Errorf("max deck size %d smaller than hand size + next card (%d)", c.MaxDeckSize, c.HandSize+1)
	}
	return nil
}

// ElixirPerTick is the elixir each player gains per simulation step.
func (c Config) ElixirPerTick() float64 {
	return c.ElixirPerSecond * c.TickInterval.Seconds()
}
