// ABOUTME: Construction-time settings for the warden server
// ABOUTME: Immutable once the server is built; zero values fall back to defaults

package server

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-warden/internal/transport"
)

const (
	DefaultMaxAgents            = 100
	DefaultStatusUpdateInterval = 10 * time.Second
	DefaultRequestTimeout       = 30 * time.Second

	// reaperInterval is how often terminal agents are evicted.
	reaperInterval = 5 * time.Second
	// gracePeriod is how long shutdown waits between terminate and kill.
	gracePeriod = 2 * time.Second
	// receiveTimeout bounds each wait for the next request so shutdown is
	// noticed promptly.
	receiveTimeout = time.Second
)

// Config holds the server's construction-time settings.
type Config struct {
	Endpoint             string
	ServerID             string
	MaxAgents            int
	StatusUpdateInterval time.Duration
	EnableStatusUpdates  bool
	RequestTimeout       time.Duration
}

// DefaultConfig returns a Config with every field at its default and a
// fresh server id.
func DefaultConfig() Config {
	return Config{
		Endpoint:             transport.DefaultEndpoint,
		ServerID:             NewServerID(),
		MaxAgents:            DefaultMaxAgents,
		StatusUpdateInterval: DefaultStatusUpdateInterval,
		EnableStatusUpdates:  true,
		RequestTimeout:       DefaultRequestTimeout,
	}
}

// NewServerID returns a random server id of the form server-<uuid>.
func NewServerID() string {
	return "server-" + uuid.New().String()
}

// withDefaults fills zero-valued fields. EnableStatusUpdates is taken as
// given.
func (c Config) withDefaults() Config {
	if c.Endpoint == "" {
		c.Endpoint = transport.DefaultEndpoint
	}
	if c.ServerID == "" {
		c.ServerID = NewServerID()
	}
	if c.MaxAgents == 0 {
		c.MaxAgents = DefaultMaxAgents
	}
	if c.StatusUpdateInterval == 0 {
		c.StatusUpdateInterval = DefaultStatusUpdateInterval
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	return c
}

func (c Config) validate() error {
	if _, err := transport.ParseEndpoint(c.Endpoint); err != nil {
		return err
	}
	if c.MaxAgents < 0 {
		return fmt.Errorf("max_agents must be positive, got %d", c.MaxAgents)
	}
	if c.StatusUpdateInterval < 0 {
		return fmt.Errorf("status_update_interval must be positive, got %s", c.StatusUpdateInterval)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout)
	}
	return nil
}
