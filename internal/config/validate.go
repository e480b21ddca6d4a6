package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/giok57/lazoooSplash/internal/validation"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

func (e *ValidationErrors) add(field, format string, args ...any) {
	*e = append(*e, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Validate checks the configuration for errors. Defaults must already be applied.
func (c *Config) Validate() error {
	var errs ValidationErrors

	if err := validation.ValidateInterfaceName(c.Gateway.Interface); err != nil {
		errs.add("gateway.interface", "%v", err)
	}
	if c.Gateway.Address != "" && net.ParseIP(c.Gateway.Address).To4() == nil {
		errs.add("gateway.address", "%q is not an IPv4 address", c.Gateway.Address)
	}
	if err := validation.ValidatePortNumber(c.Gateway.Port); err != nil {
		errs.add("gateway.port", "%v", err)
	}
	if c.Gateway.MaxClients < 0 {
		errs.add("gateway.max_clients", "must not be negative")
	}
	if c.Gateway.AuthAttempts < 0 {
		errs.add("gateway.auth_attempts", "must not be negative")
	}

	if c.Authority.URL != "" {
		u, err := url.Parse(c.Authority.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs.add("authority.url", "%q is not an http(s) URL", c.Authority.URL)
		}
	}

	if err := validation.ValidateIdentifier(c.Firewall.Table); err != nil {
		errs.add("firewall.table", "%v", err)
	}
	switch c.Firewall.Backend {
	case "nftables", "script":
	default:
		errs.add("firewall.backend", "unknown backend %q", c.Firewall.Backend)
	}

	switch c.Journal.Driver {
	case "sqlite":
		if c.Journal.Path == "" {
			errs.add("journal.path", "required for sqlite driver")
		}
	case "redis":
		if err := validation.ValidateHostPort(c.Journal.RedisAddr); err != nil {
			errs.add("journal.redis_addr", "%v", err)
		}
	case "none":
	default:
		errs.add("journal.driver", "unknown driver %q", c.Journal.Driver)
	}

	if c.Metrics.Listen != "" {
		if err := validation.ValidateHostPort(c.Metrics.Listen); err != nil {
			errs.add("metrics.listen", "%v", err)
		}
	}
	if err := validation.ValidateCommand(c.Firmware.FlashCommand); err != nil {
		errs.add("firmware.flash_command", "%v", err)
	}
	if err := validation.ValidateCommand(c.RemoteCommands.Shell); err != nil {
		errs.add("remote_commands.shell", "%v", err)
	}
	if c.Firmware.MaxSizeMB <= 0 {
		errs.add("firmware.max_size_mb", "must be positive")
	}

	_, _ = c.parseDurations(&errs)

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// Durations parses every duration field. Call after Validate.
func (c *Config) Durations() (Durations, error) {
	var errs ValidationErrors
	d, _ := c.parseDurations(&errs)
	if errs.HasErrors() {
		return d, errs
	}
	return d, nil
}

func (c *Config) parseDurations(errs *ValidationErrors) (Durations, error) {
	var d Durations
	before := len(*errs)
	parse := func(field, value string, dst *time.Duration, allowZero bool) {
		v, err := time.ParseDuration(value)
		if err != nil {
			errs.add(field, "invalid duration %q", value)
			return
		}
		if v < 0 || (v == 0 && !allowZero) {
			errs.add(field, "must be positive")
			return
		}
		*dst = v
	}

	parse("timeouts.idle", c.Timeouts.Idle, &d.Idle, false)
	parse("timeouts.default_session", c.Timeouts.DefaultSession, &d.DefaultSession, false)
	parse("timeouts.sweep_interval", c.Timeouts.SweepInterval, &d.SweepInterval, false)
	parse("timeouts.reap_after", c.Timeouts.ReapAfter, &d.ReapAfter, true)
	parse("timeouts.reconcile_interval", c.Timeouts.Reconcile, &d.Reconcile, false)
	parse("authority.poll_timeout", c.Authority.PollTimeout, &d.PollTimeout, false)
	parse("authority.poll_interval", c.Authority.PollInterval, &d.PollInterval, true)
	parse("authority.wait", c.Authority.Wait, &d.Wait, false)
	parse("whitelist.interval", c.Whitelist.Interval, &d.Whitelist, false)
	parse("remote_commands.timeout", c.RemoteCommands.Timeout, &d.CommandTimeout, false)

	if len(*errs) > before {
		return d, (*errs)[before:]
	}
	return d, nil
}
