package main

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all server configuration.
// Tags:
//
//	env: Environment variable name
//	envDefault: Default value if not set
type Config struct {
	// Listeners
	TCPAddr     string `env:"WB_TCP_ADDR" envDefault:":8181"`
	WSAddr      string `env:"WB_WS_ADDR" envDefault:":8080"`
	MetricsAddr string `env:"WB_METRICS_ADDR" envDefault:":9090"`

	// Key/pattern delimiter characters
	Separator     string `env:"WB_SEPARATOR" envDefault:"/"`
	Wildcard      string `env:"WB_WILDCARD" envDefault:"?"`
	MultiWildcard string `env:"WB_MULTI_WILDCARD" envDefault:"#"`

	// Actor
	ChannelBufferSize int           `env:"WB_CHANNEL_BUFFER_SIZE" envDefault:"1024"`
	KeepaliveTimeout  time.Duration `env:"WB_KEEPALIVE_TIMEOUT" envDefault:"60s"`
	// SendTimeout is loaded and printed only; the TCP and WebSocket
	// transports apply their own fixed 10s write deadline and do not read it.
	SendTimeout time.Duration `env:"WB_SEND_TIMEOUT" envDefault:"5s"`

	// Persistence
	UsePersistence      bool          `env:"WB_USE_PERSISTENCE" envDefault:"false"`
	DataDir             string        `env:"WB_DATA_DIR" envDefault:"./data"`
	PersistenceInterval time.Duration `env:"WB_PERSISTENCE_INTERVAL" envDefault:"30s"`

	// Authorization
	AuthRequired bool   `env:"WB_AUTH_REQUIRED" envDefault:"false"`
	JWTSecret    string `env:"WB_JWT_SECRET" envDefault:""`

	// Optional external publish bridge
	NATSURL            string `env:"WB_NATS_URL" envDefault:""`
	NATSPublishSubject string `env:"WB_NATS_PUBLISH_SUBJECT" envDefault:""`
	NATSKeyPrefix      string `env:"WB_NATS_KEY_PREFIX" envDefault:"nats"`

	// Connection admission
	ConnRateLimit float64 `env:"WB_CONN_RATE_LIMIT" envDefault:"50"`
	ConnRateBurst int     `env:"WB_CONN_RATE_BURST" envDefault:"100"`

	// Event aggregation worker pool (C7)
	AggregatorWorkers  int `env:"WB_AGGREGATOR_WORKERS" envDefault:"4"`
	AggregatorQueueLen int `env:"WB_AGGREGATOR_QUEUE_LEN" envDefault:"1024"`

	// $SYS/ provider
	SysvarsInterval time.Duration `env:"WB_SYSVARS_INTERVAL" envDefault:"5s"`
	Version         string        `env:"WB_VERSION" envDefault:"1.0.0"`
	License         string        `env:"WB_LICENSE" envDefault:"AGPL-3.0"`

	// Logging
	LogLevel  string `env:"WB_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"WB_LOG_FORMAT" envDefault:"json"`
}

// LoadConfig reads configuration from an optional .env file and environment
// variables. Priority: ENV vars > .env file > defaults.
func LoadConfig(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found (using environment variables only)")
		} else {
			fmt.Println("Info: no .env file found (using environment variables only)")
		}
	} else if logger != nil {
		logger.Info().Msg("loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	if logger != nil {
		logger.Info().Msg("configuration loaded and validated successfully")
	}
	return cfg, nil
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if len(c.Separator) != 1 || len(c.Wildcard) != 1 || len(c.MultiWildcard) != 1 {
		return fmt.Errorf("WB_SEPARATOR, WB_WILDCARD, and WB_MULTI_WILDCARD must each be exactly one byte")
	}
	if c.Separator == c.Wildcard || c.Separator == c.MultiWildcard || c.Wildcard == c.MultiWildcard {
		return fmt.Errorf("WB_SEPARATOR, WB_WILDCARD, and WB_MULTI_WILDCARD must be distinct")
	}
	if c.ChannelBufferSize < 1 {
		return fmt.Errorf("WB_CHANNEL_BUFFER_SIZE must be > 0, got %d", c.ChannelBufferSize)
	}
	if c.AuthRequired && c.JWTSecret == "" {
		return fmt.Errorf("WB_JWT_SECRET is required when WB_AUTH_REQUIRED=true")
	}
	if c.ConnRateLimit <= 0 {
		return fmt.Errorf("WB_CONN_RATE_LIMIT must be > 0, got %v", c.ConnRateLimit)
	}
	if c.ConnRateBurst < 1 {
		return fmt.Errorf("WB_CONN_RATE_BURST must be > 0, got %d", c.ConnRateBurst)
	}
	if c.AggregatorWorkers < 1 {
		return fmt.Errorf("WB_AGGREGATOR_WORKERS must be > 0, got %d", c.AggregatorWorkers)
	}
	if c.AggregatorQueueLen < 1 {
		return fmt.Errorf("WB_AGGREGATOR_QUEUE_LEN must be > 0, got %d", c.AggregatorQueueLen)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("WB_LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}
	validLogFormats := map[string]bool{"json": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("WB_LOG_FORMAT must be one of: json, pretty (got: %s)", c.LogFormat)
	}
	return nil
}

// Print logs configuration for debugging (human-readable format). For
// production, use LogConfig() with structured logging.
func (c *Config) Print() {
	fmt.Println("=== Worterbuch Configuration ===")
	fmt.Printf("TCP Addr:        %s\n", c.TCPAddr)
	fmt.Printf("WS Addr:         %s\n", c.WSAddr)
	fmt.Printf("Metrics Addr:    %s\n", c.MetricsAddr)
	fmt.Printf("Separator:       %q\n", c.Separator)
	fmt.Printf("Wildcard:        %q\n", c.Wildcard)
	fmt.Printf("Multi-wildcard:  %q\n", c.MultiWildcard)
	fmt.Println("\n=== Actor ===")
	fmt.Printf("Channel buffer:  %d\n", c.ChannelBufferSize)
	fmt.Printf("Keepalive:       %s\n", c.KeepaliveTimeout)
	fmt.Printf("Send timeout:    %s\n", c.SendTimeout)
	fmt.Println("\n=== Persistence ===")
	fmt.Printf("Enabled:         %v\n", c.UsePersistence)
	fmt.Printf("Data dir:        %s\n", c.DataDir)
	fmt.Printf("Interval:        %s\n", c.PersistenceInterval)
	fmt.Println("\n=== Authorization ===")
	fmt.Printf("Required:        %v\n", c.AuthRequired)
	fmt.Println("\n=== Connection admission ===")
	fmt.Printf("Rate limit:      %v/s (burst %d)\n", c.ConnRateLimit, c.ConnRateBurst)
	fmt.Println("\n=== Event aggregation ===")
	fmt.Printf("Workers:         %d (queue %d)\n", c.AggregatorWorkers, c.AggregatorQueueLen)
	fmt.Println("\n=== $SYS provider ===")
	fmt.Printf("Version:         %s\n", c.Version)
	fmt.Printf("License:         %s\n", c.License)
	fmt.Printf("Refresh:         %s\n", c.SysvarsInterval)
	fmt.Println("\n=== Logging ===")
	fmt.Printf("Level:           %s\n", c.LogLevel)
	fmt.Printf("Format:          %s\n", c.LogFormat)
	fmt.Println("=================================")
}

// LogConfig logs configuration using structured logging (Loki-compatible).
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("tcp_addr", c.TCPAddr).
		Str("ws_addr", c.WSAddr).
		Str("metrics_addr", c.MetricsAddr).
		Str("separator", c.Separator).
		Str("wildcard", c.Wildcard).
		Str("multi_wildcard", c.MultiWildcard).
		Int("channel_buffer_size", c.ChannelBufferSize).
		Dur("keepalive_timeout", c.KeepaliveTimeout).
		Dur("send_timeout", c.SendTimeout).
		Bool("use_persistence", c.UsePersistence).
		Str("data_dir", c.DataDir).
		Dur("persistence_interval", c.PersistenceInterval).
		Bool("auth_required", c.AuthRequired).
		Str("nats_url", c.NATSURL).
		Float64("conn_rate_limit", c.ConnRateLimit).
		Int("conn_rate_burst", c.ConnRateBurst).
		Int("aggregator_workers", c.AggregatorWorkers).
		Str("version", c.Version).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("worterbuch configuration loaded")
}
