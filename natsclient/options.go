package natsclient

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/promotion0824/TwinPlatform-sub045/metric"
)

// ClientOption configures a Client. An option returns an error for values the
// client cannot run with; out-of-range tuning values are replaced by defaults.
type ClientOption func(*Client) error

// WithName sets the connection name shown in server monitoring.
func WithName(name string) ClientOption {
	return func(c *Client) error {
		c.clientName = name
		return nil
	}
}

// WithLogger replaces the default logger. Nil is ignored.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}

// WithMetrics publishes connection state on the registry's core metrics.
func WithMetrics(registry *metric.MetricsRegistry) ClientOption {
	return func(c *Client) error {
		if registry != nil {
			c.metrics = registry.CoreMetrics()
		}
		return nil
	}
}

// WithTimeout bounds the initial dial and each request.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("natsclient: timeout must be positive, got %v", d)
		}
		c.timeout = d
		return nil
	}
}

// WithMaxReconnects limits reconnect attempts after a lost connection.
// Negative means retry forever, zero disables reconnects.
func WithMaxReconnects(n int) ClientOption {
	return func(c *Client) error {
		c.maxReconnects = n
		return nil
	}
}

// WithReconnectWait sets the pause between reconnect attempts.
func WithReconnectWait(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d < 0 {
			return fmt.Errorf("natsclient: reconnect wait must not be negative, got %v", d)
		}
		c.reconnectWait = d
		return nil
	}
}

// WithCircuitBreakerThreshold sets how many consecutive connect failures open
// the circuit. Values below one mean 5.
func WithCircuitBreakerThreshold(failures int32) ClientOption {
	return func(c *Client) error {
		c.circuitThreshold = failures
		if failures < 1 {
			c.circuitThreshold = 5
		}
		return nil
	}
}

// WithMaxBackoff caps how long an open circuit waits before the next attempt.
// Values under a second mean one minute.
func WithMaxBackoff(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.maxBackoff = d
		if d < time.Second {
			c.maxBackoff = time.Minute
		}
		return nil
	}
}

// WithCredentials authenticates with a user name and password.
func WithCredentials(username, password string) ClientOption {
	return func(c *Client) error {
		c.username, c.password = username, password
		return nil
	}
}

// WithToken authenticates with a bearer token.
func WithToken(token string) ClientOption {
	return func(c *Client) error {
		c.token = token
		return nil
	}
}
