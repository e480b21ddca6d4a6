package logging

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/giok57/lazoooSplash/internal/brand"
)

// Syslog facilities used by the gateway.
const (
	FacilityUser   = 1
	FacilityDaemon = 3
)

// SyslogConfig holds remote syslog configuration.
type SyslogConfig struct {
	Addr     string // host:port; port defaults to 514
	Protocol string // udp or tcp (default: udp)
	Tag      string // default: brand.LowerName
	Facility int    // default: daemon
}

// SyslogWriter sends each console-formatted record to a remote syslog
// server as an RFC 3164 message.
type SyslogWriter struct {
	mu       sync.Mutex
	conn     net.Conn
	cfg      SyslogConfig
	hostname string
}

// NewSyslogWriter dials the syslog server.
func NewSyslogWriter(cfg SyslogConfig) (*SyslogWriter, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("syslog address is required")
	}
	if _, _, err := net.SplitHostPort(cfg.Addr); err != nil {
		cfg.Addr = net.JoinHostPort(cfg.Addr, "514")
	}
	if cfg.Protocol == "" {
		cfg.Protocol = "udp"
	}
	if cfg.Tag == "" {
		cfg.Tag = brand.LowerName
	}
	if cfg.Facility == 0 {
		cfg.Facility = FacilityDaemon
	}

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = brand.LowerName
	}

	w := &SyslogWriter{cfg: cfg, hostname: hostname}
	if err := w.dial(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *SyslogWriter) dial() error {
	conn, err := net.DialTimeout(w.cfg.Protocol, w.cfg.Addr, 5*time.Second)
	if err != nil {
		return fmt.Errorf("failed to connect to syslog server %s: %w", w.cfg.Addr, err)
	}
	w.conn = conn
	return nil
}

// Write implements io.Writer. A failed write redials once for the next call.
func (w *SyslogWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		if err := w.dial(); err != nil {
			return 0, err
		}
	}

	msg := fmt.Sprintf("<%d>%s %s %s: %s",
		w.cfg.Facility*8+severity(p),
		time.Now().Format(time.Stamp),
		w.hostname,
		w.cfg.Tag,
		bytes.TrimRight(p, "\n"))
	if w.cfg.Protocol == "tcp" {
		msg += "\n"
	}

	if _, err := w.conn.Write([]byte(msg)); err != nil {
		w.conn.Close()
		w.conn = nil
		return 0, err
	}
	return len(p), nil
}

// Close closes the syslog connection.
func (w *SyslogWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return nil
	}
	err := w.conn.Close()
	w.conn = nil
	return err
}

// severity maps the console level tag to a syslog severity.
func severity(p []byte) int {
	switch {
	case bytes.Contains(p, []byte("[error]")):
		return 3
	case bytes.Contains(p, []byte("[warn]")):
		return 4
	case bytes.Contains(p, []byte("[audit]")):
		return 5
	case bytes.Contains(p, []byte("[debug]")):
		return 7
	default:
		return 6
	}
}
