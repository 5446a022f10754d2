package core

import (
	"fmt"
	"strings"
	"time"
)

type DispatchConfig struct {
	TickInterval   time.Duration `koanf:"tick_interval" mapstructure:"tick_interval"`
	BatchSize      int           `koanf:"batch_size" mapstructure:"batch_size"`
	ClaimLease     time.Duration `koanf:"claim_lease" mapstructure:"claim_lease"`
	InitialBackoff time.Duration `koanf:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff" mapstructure:"max_backoff"`
	MaxRetries     int           `koanf:"max_retries" mapstructure:"max_retries"`
	Timeout        time.Duration `koanf:"timeout" mapstructure:"timeout"`
}

type PersistenceConfig struct {
	Driver      string        `koanf:"driver" mapstructure:"driver"`
	DSN         string        `koanf:"dsn" mapstructure:"dsn"`
	Debug       bool          `koanf:"debug" mapstructure:"debug"`
	PingTimeout time.Duration `koanf:"ping_timeout" mapstructure:"ping_timeout"`
}

type Config struct {
	ParticipantID         string            `koanf:"participant_id" mapstructure:"participant_id"`
	CallbackAddress       string            `koanf:"callback_address" mapstructure:"callback_address"`
	Protocol              string            `koanf:"protocol" mapstructure:"protocol"`
	SupportedProtocols    []string          `koanf:"supported_protocols" mapstructure:"supported_protocols"`
	InactivityTimeout     time.Duration     `koanf:"inactivity_timeout" mapstructure:"inactivity_timeout"`
	MaxTransitionAttempts int               `koanf:"max_transition_attempts" mapstructure:"max_transition_attempts"`
	Dispatch              DispatchConfig    `koanf:"dispatch" mapstructure:"dispatch"`
	Persistence           PersistenceConfig `koanf:"persistence" mapstructure:"persistence"`
}

func DefaultConfig() Config {
	return Config{
		ParticipantID:         "connector",
		Protocol:              DefaultProtocolVersion,
		SupportedProtocols:    []string{DefaultProtocolVersion},
		InactivityTimeout:     24 * time.Hour,
		MaxTransitionAttempts: defaultMaxTransitionAttempts,
		Dispatch: DispatchConfig{
			TickInterval:   5 * time.Second,
			BatchSize:      50,
			ClaimLease:     time.Minute,
			InitialBackoff: 2 * time.Second,
			MaxBackoff:     5 * time.Minute,
			MaxRetries:     8,
			Timeout:        30 * time.Second,
		},
		Persistence: PersistenceConfig{
			Driver:      "sqlite3",
			PingTimeout: 5 * time.Second,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ParticipantID) == "" {
		return fmt.Errorf("core: participant_id is required")
	}
	if strings.TrimSpace(c.Protocol) == "" {
		return fmt.Errorf("core: protocol is required")
	}
	if c.Dispatch.MaxRetries < 1 {
		return fmt.Errorf("core: dispatch.max_retries must be at least 1")
	}
	if c.Dispatch.BatchSize < 1 {
		return fmt.Errorf("core: dispatch.batch_size must be at least 1")
	}
	if c.Dispatch.InitialBackoff <= 0 || c.Dispatch.MaxBackoff < c.Dispatch.InitialBackoff {
		return fmt.Errorf("core: dispatch backoff must satisfy 0 < initial_backoff <= max_backoff")
	}
	if c.Dispatch.TickInterval <= 0 {
		return fmt.Errorf("core: dispatch.tick_interval must be positive")
	}
	if c.MaxTransitionAttempts < 1 {
		return fmt.Errorf("core: max_transition_attempts must be at least 1")
	}
	switch strings.TrimSpace(c.Persistence.Driver) {
	case "", "sqlite3", "postgres":
	default:
		return fmt.Errorf("core: persistence.driver %q is not supported", c.Persistence.Driver)
	}
	return nil
}

// Protocols returns the accepted protocol versions, always including Protocol.
func (c Config) Protocols() []string {
	out := []string{strings.TrimSpace(c.Protocol)}
	for _, value := range c.SupportedProtocols {
		value = strings.TrimSpace(value)
		if value != "" && !containsString(out, value) {
			out = append(out, value)
		}
	}
	return out
}
