package geyser

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Default configuration values.
const (
	// DefaultEndpoint is the default stream address.
	DefaultEndpoint = "localhost:10000"

	// DefaultKeepaliveTime is the default interval for keepalive pings.
	DefaultKeepaliveTime = 10 * time.Second

	// DefaultKeepaliveTimeout is the default timeout for keepalive responses.
	DefaultKeepaliveTimeout = 5 * time.Second

	// DefaultReconnectMinDelay is the minimum delay before reconnecting.
	DefaultReconnectMinDelay = 1 * time.Second

	// DefaultReconnectMaxDelay is the maximum delay before reconnecting.
	DefaultReconnectMaxDelay = 60 * time.Second

	// DefaultChannelSize is the default buffer size of a subscription channel.
	DefaultChannelSize = 256

	// DefaultMaxMessageSize is the default maximum gRPC message size (4MB).
	DefaultMaxMessageSize = 4 * 1024 * 1024

	// DefaultPingInterval is the interval between server pings.
	DefaultPingInterval = 15 * time.Second

	// DefaultHealthCheckInterval is the interval between stale checks.
	DefaultHealthCheckInterval = 30 * time.Second

	// DefaultStaleTimeout is how long without messages before a stream is
	// considered stale.
	DefaultStaleTimeout = 60 * time.Second
)

// Configuration errors.
var (
	ErrNoEndpoint    = errors.New("geyser endpoint is required")
	ErrInvalidConfig = errors.New("invalid geyser configuration")
)

// Config holds the configuration for the stream client.
type Config struct {
	// Endpoint is the gRPC address (host:port). Required.
	Endpoint string

	// Token is sent as the x-token header.
	// Can use environment variable expansion with ${VAR_NAME}.
	Token string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// Keepalive configuration.
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration

	// Reconnection configuration.
	ReconnectMinDelay time.Duration
	ReconnectMaxDelay time.Duration
	MaxReconnects     int // 0 = unlimited

	// ChannelSize is the buffer size of subscription channels.
	ChannelSize int

	// MaxMessageSize is the maximum gRPC message size in bytes.
	MaxMessageSize int

	// HealthCheckInterval is how often to check stream health.
	HealthCheckInterval time.Duration

	// StaleTimeout is how long without messages before resubscribing.
	StaleTimeout time.Duration

	// Headers are additional headers to send with the subscription.
	Headers map[string]string

	// OnConnect is called when a subscription stream opens (optional).
	OnConnect func()

	// OnDisconnect is called when a subscription stream fails (optional).
	OnDisconnect func(error)

	// OnReconnect is called when resubscription succeeds (optional).
	OnReconnect func(attempt int)
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Endpoint: DefaultEndpoint,

		KeepaliveTime:    DefaultKeepaliveTime,
		KeepaliveTimeout: DefaultKeepaliveTimeout,

		ReconnectMinDelay: DefaultReconnectMinDelay,
		ReconnectMaxDelay: DefaultReconnectMaxDelay,
		MaxReconnects:     0, // unlimited

		ChannelSize:    DefaultChannelSize,
		MaxMessageSize: DefaultMaxMessageSize,

		HealthCheckInterval: DefaultHealthCheckInterval,
		StaleTimeout:        DefaultStaleTimeout,

		Headers: make(map[string]string),
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return ErrNoEndpoint
	}

	if c.ChannelSize <= 0 {
		return fmt.Errorf("%w: channel size must be positive", ErrInvalidConfig)
	}

	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("%w: max message size must be positive", ErrInvalidConfig)
	}

	if c.KeepaliveTime <= 0 {
		return fmt.Errorf("%w: keepalive time must be positive", ErrInvalidConfig)
	}

	if c.KeepaliveTimeout <= 0 {
		return fmt.Errorf("%w: keepalive timeout must be positive", ErrInvalidConfig)
	}

	if c.ReconnectMinDelay <= 0 {
		return fmt.Errorf("%w: reconnect min delay must be positive", ErrInvalidConfig)
	}

	if c.ReconnectMaxDelay < c.ReconnectMinDelay {
		return fmt.Errorf("%w: reconnect max delay must be >= min delay", ErrInvalidConfig)
	}

	if c.StaleTimeout <= 0 || c.HealthCheckInterval <= 0 {
		return fmt.Errorf("%w: health check interval and stale timeout must be positive", ErrInvalidConfig)
	}

	return nil
}

// WithDefaults returns a new config with default values applied for any
// zero values in the original config.
func (c Config) WithDefaults() Config {
	defaults := DefaultConfig()

	if c.KeepaliveTime == 0 {
		c.KeepaliveTime = defaults.KeepaliveTime
	}
	if c.KeepaliveTimeout == 0 {
		c.KeepaliveTimeout = defaults.KeepaliveTimeout
	}
	if c.ReconnectMinDelay == 0 {
		c.ReconnectMinDelay = defaults.ReconnectMinDelay
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = defaults.ReconnectMaxDelay
	}
	if c.ChannelSize == 0 {
		c.ChannelSize = defaults.ChannelSize
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = defaults.MaxMessageSize
	}
	if c.HealthCheckInterval == 0 {
		c.HealthCheckInterval = defaults.HealthCheckInterval
	}
	if c.StaleTimeout == 0 {
		c.StaleTimeout = defaults.StaleTimeout
	}
	if c.Headers == nil {
		c.Headers = defaults.Headers
	}

	return c
}

// ExpandedToken returns the token with environment variable expansion.
func (c *Config) ExpandedToken() string {
	return expandEnvVars(c.Token)
}

// expandEnvVars expands ${VAR} references in a string.
func expandEnvVars(s string) string {
	result := s
	for {
		start := strings.Index(result, "${")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "}")
		if end == -1 {
			break
		}
		end += start

		result = result[:start] + os.Getenv(result[start+2:end]) + result[end+1:]
	}
	return result
}

// ServerConfig holds the configuration of the stream server.
type ServerConfig struct {
	// Addr is the listen address (host:port).
	Addr string

	// PingInterval is how often idle streams receive a ping.
	PingInterval time.Duration

	// MaxMessageSize is the maximum gRPC message size in bytes.
	MaxMessageSize int

	// KeepaliveTime and KeepaliveTimeout configure transport pings.
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration

	// ShutdownTimeout bounds the graceful stop.
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns the default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:             ":10000",
		PingInterval:     DefaultPingInterval,
		MaxMessageSize:   DefaultMaxMessageSize,
		KeepaliveTime:    DefaultKeepaliveTime * 3,
		KeepaliveTimeout: DefaultKeepaliveTimeout,
		ShutdownTimeout:  5 * time.Second,
	}
}
