package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateScale(); err != nil {
		return err
	}
	if err := c.validateCheckout(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if c.Paths.DataDir == "" {
		return errors.New("paths.data_dir must be set")
	}
	if c.Paths.APIBind != "" {
		host, _, err := net.SplitHostPort(c.Paths.APIBind)
		if err != nil {
			return fmt.Errorf("paths.api_bind %q: %w", c.Paths.APIBind, err)
		}
		if c.Paths.APIToken == "" && !isLoopbackHost(host) {
			return fmt.Errorf("paths.api_bind %q listens beyond loopback; set paths.api_token", c.Paths.APIBind)
		}
	}
	return nil
}

// isLoopbackHost reports whether host only accepts local connections. An
// empty host binds every interface.
func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (c *Config) validateScale() error {
	if c.Scale.FreshnessWindowMillis < 0 {
		return errors.New("scale.freshness_window_ms must be >= 0 (0 disables the age check)")
	}
	return ensurePositive(
		namedInt{"scale.reconnect_attempts", c.Scale.ReconnectAttempts},
		namedInt{"scale.reconnect_delay_ms", c.Scale.ReconnectDelayMillis},
		namedInt{"scale.read_timeout_ms", c.Scale.ReadTimeoutMillis},
	)
}

func (c *Config) validateCheckout() error {
	if err := ensurePositive(
		namedInt{"checkout.retry_attempts", c.Checkout.RetryAttempts},
		namedInt{"checkout.retry_delay_ms", c.Checkout.RetryDelayMillis},
	); err != nil {
		return err
	}
	if _, err := currency.ParseISO(c.Checkout.Currency); err != nil {
		return fmt.Errorf("checkout.currency %q: %w", c.Checkout.Currency, err)
	}
	if _, err := language.Parse(c.Checkout.Locale); err != nil {
		return fmt.Errorf("checkout.locale %q: %w", c.Checkout.Locale, err)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format %q must be console or json", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be debug, info, warn, or error", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be >= 0")
	}
	return nil
}

type namedInt struct {
	key   string
	value int
}

// ensurePositive reports the first non-positive value in argument order.
func ensurePositive(values ...namedInt) error {
	for _, v := range values {
		if v.value <= 0 {
			return fmt.Errorf("%s must be positive", v.key)
		}
	}
	return nil
}
