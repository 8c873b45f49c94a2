package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port string `mapstructure:"PORT"`
	Env  string `mapstructure:"ENV"`

	RelayPath            string        `mapstructure:"RELAY_PATH"`
	RelaySendBuffer      int           `mapstructure:"RELAY_SEND_BUFFER"`
	RelayMaxMessageBytes int64         `mapstructure:"RELAY_MAX_MESSAGE_BYTES"`
	RelayWriteWait       time.Duration `mapstructure:"RELAY_WRITE_WAIT"`
	RelayPongWait        time.Duration `mapstructure:"RELAY_PONG_WAIT"`

	STUNServers    []string `mapstructure:"STUN_SERVERS"`
	TURNURLs       []string `mapstructure:"TURN_URLS"`
	TURNUsername   string   `mapstructure:"TURN_USERNAME"`
	TURNCredential string   `mapstructure:"TURN_CREDENTIAL"`

	DatabaseURL    string `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32  `mapstructure:"DB_MIN_CONNS"`
	AuditQueueSize int    `mapstructure:"AUDIT_QUEUE_SIZE"`

	TLSEnabled  bool   `mapstructure:"TLS_ENABLED"`
	TLSCertFile string `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile  string `mapstructure:"TLS_KEY_FILE"`
}

var keys = []string{
	"PORT", "ENV",
	"RELAY_PATH", "RELAY_SEND_BUFFER", "RELAY_MAX_MESSAGE_BYTES", "RELAY_WRITE_WAIT", "RELAY_PONG_WAIT",
	"STUN_SERVERS", "TURN_URLS", "TURN_USERNAME", "TURN_CREDENTIAL",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "AUDIT_QUEUE_SIZE",
	"TLS_ENABLED", "TLS_CERT_FILE", "TLS_KEY_FILE",
}

// Load reads configuration from the environment and an optional .env file.
// The result is not validated; call Validate before serving.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("RELAY_PATH", "/webrtc-signaling")
	v.SetDefault("RELAY_SEND_BUFFER", 256)
	v.SetDefault("RELAY_MAX_MESSAGE_BYTES", 64*1024)
	v.SetDefault("RELAY_WRITE_WAIT", 10*time.Second)
	v.SetDefault("RELAY_PONG_WAIT", 60*time.Second)
	v.SetDefault("STUN_SERVERS", "stun:stun.l.google.com:19302")
	v.SetDefault("DB_MAX_CONNS", 5)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("AUDIT_QUEUE_SIZE", 1024)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range keys {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.STUNServers = splitList(cfg.STUNServers, v.GetString("STUN_SERVERS"))
	cfg.TURNURLs = splitList(cfg.TURNURLs, v.GetString("TURN_URLS"))

	return cfg, nil
}

// splitList trims list entries, falling back to splitting raw on commas when
// the decoder left the slice empty.
func splitList(list []string, raw string) []string {
	if len(list) == 0 && raw != "" {
		list = strings.Split(raw, ",")
	}
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// HasDatabase reports whether the attendance audit trail is enabled.
func (c *Config) HasDatabase() bool {
	return c.DatabaseURL != ""
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.RelayPath, "/") {
		return fmt.Errorf("RELAY_PATH must start with \"/\", got %q", c.RelayPath)
	}
	if c.RelaySendBuffer <= 0 {
		return fmt.Errorf("RELAY_SEND_BUFFER must be positive, got %d", c.RelaySendBuffer)
	}
	if c.RelayMaxMessageBytes <= 0 {
		return fmt.Errorf("RELAY_MAX_MESSAGE_BYTES must be positive, got %d", c.RelayMaxMessageBytes)
	}
	if c.RelayWriteWait <= 0 || c.RelayPongWait <= 0 {
		return fmt.Errorf("RELAY_WRITE_WAIT and RELAY_PONG_WAIT must be positive")
	}
	if c.RelayPongWait < c.RelayWriteWait {
		return fmt.Errorf("RELAY_PONG_WAIT (%s) must not be shorter than RELAY_WRITE_WAIT (%s)", c.RelayPongWait, c.RelayWriteWait)
	}

	if len(c.TURNURLs) > 0 && (c.TURNUsername == "" || c.TURNCredential == "") {
		return fmt.Errorf("TURN_USERNAME and TURN_CREDENTIAL are required when TURN_URLS is set")
	}

	if c.HasDatabase() {
		if c.AuditQueueSize <= 0 {
			return fmt.Errorf("AUDIT_QUEUE_SIZE must be positive, got %d", c.AuditQueueSize)
		}
		if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
			return fmt.Errorf("invalid pool bounds DB_MIN_CONNS=%d DB_MAX_CONNS=%d", c.DBMinConns, c.DBMaxConns)
		}
	}

	// TLS validation: when TLS is enabled, cert and key files must be specified.
	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}
