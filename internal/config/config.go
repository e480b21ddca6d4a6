// Package config loads and validates the gateway's HCL configuration.
package config

import "time"

// Config is the top-level structure for the gateway configuration.
// Every block is optional; ApplyDefaults fills what the file leaves out.
type Config struct {
	Gateway        *GatewayConfig        `hcl:"gateway,block" json:"gateway"`
	Timeouts       *TimeoutsConfig       `hcl:"timeouts,block" json:"timeouts"`
	Authority      *AuthorityConfig      `hcl:"authority,block" json:"authority"`
	Whitelist      *WhitelistConfig      `hcl:"whitelist,block" json:"whitelist"`
	Firmware       *FirmwareConfig       `hcl:"firmware,block" json:"firmware"`
	RemoteCommands *RemoteCommandsConfig `hcl:"remote_commands,block" json:"remote_commands"`
	Firewall       *FirewallConfig       `hcl:"firewall,block" json:"firewall"`
	Journal        *JournalConfig        `hcl:"journal,block" json:"journal"`
	Metrics        *MetricsConfig        `hcl:"metrics,block" json:"metrics"`
	Log            *LogConfig            `hcl:"log,block" json:"log"`
}

// GatewayConfig describes the LAN side the portal guards.
type GatewayConfig struct {
	Interface  string `hcl:"interface,optional" json:"interface"`
	Address    string `hcl:"address,optional" json:"address,omitempty"` // discovered from Interface when empty
	Port       int    `hcl:"port,optional" json:"port"`
	MaxClients int    `hcl:"max_clients,optional" json:"max_clients"`
	SplashURL  string `hcl:"splash_url,optional" json:"splash_url,omitempty"`
	// AuthAttempts caps /auth requests per client address per minute. 0 disables the cap.
	AuthAttempts int `hcl:"auth_attempts,optional" json:"auth_attempts"`
}

// TimeoutsConfig controls session expiry.
type TimeoutsConfig struct {
	Idle           string `hcl:"idle,optional" json:"idle"`
	DefaultSession string `hcl:"default_session,optional" json:"default_session"`
	SweepInterval  string `hcl:"sweep_interval,optional" json:"sweep_interval"`
	ReapAfter      string `hcl:"reap_after,optional" json:"reap_after"`
	Reconcile      string `hcl:"reconcile_interval,optional" json:"reconcile_interval"`
}

// AuthorityConfig points at the remote control plane.
type AuthorityConfig struct {
	URL           string `hcl:"url,optional" json:"url"`
	IdentityFile  string `hcl:"identity_file,optional" json:"identity_file"`
	PollTimeout   string `hcl:"poll_timeout,optional" json:"poll_timeout"`
	PollInterval  string `hcl:"poll_interval,optional" json:"poll_interval"`
	Wait          string `hcl:"wait,optional" json:"wait"`
	InsecureTLS   bool   `hcl:"insecure_tls,optional" json:"insecure_tls"`
	ProbeHost     string `hcl:"probe_host,optional" json:"probe_host,omitempty"`
	LoginURL      string `hcl:"login_url,optional" json:"login_url,omitempty"`
	CheckNavigate bool   `hcl:"check_navigate,optional" json:"check_navigate"`
	Enabled       *bool  `hcl:"enabled,optional" json:"enabled,omitempty"`
}

// WhitelistConfig lists hosts reachable before authentication.
type WhitelistConfig struct {
	File     string `hcl:"file,optional" json:"file"`
	Interval string `hcl:"interval,optional" json:"interval"`
	Resolver string `hcl:"resolver,optional" json:"resolver,omitempty"`
}

// FirmwareConfig controls remote-triggered upgrades.
type FirmwareConfig struct {
	DownloadPath string `hcl:"download_path,optional" json:"download_path"`
	FlashCommand string `hcl:"flash_command,optional" json:"flash_command"`
	MaxSizeMB    int    `hcl:"max_size_mb,optional" json:"max_size_mb"`
}

// RemoteCommandsConfig gates the remote shell capability.
type RemoteCommandsConfig struct {
	Enabled *bool  `hcl:"enabled,optional" json:"enabled,omitempty"`
	Shell   string `hcl:"shell,optional" json:"shell"`
	Timeout string `hcl:"timeout,optional" json:"timeout"`
}

// FirewallConfig selects the packet-filter backend.
type FirewallConfig struct {
	Backend string `hcl:"backend,optional" json:"backend"` // nftables | script
	Table   string `hcl:"table,optional" json:"table"`
	NftPath string `hcl:"nft_path,optional" json:"nft_path,omitempty"`
}

// JournalConfig selects where sessions survive restarts.
type JournalConfig struct {
	Driver    string `hcl:"driver,optional" json:"driver"` // sqlite | redis | none
	Path      string `hcl:"path,optional" json:"path,omitempty"`
	RedisAddr string `hcl:"redis_addr,optional" json:"redis_addr,omitempty"`
	RedisDB   int    `hcl:"redis_db,optional" json:"redis_db,omitempty"`
}

// MetricsConfig exposes Prometheus metrics when Listen is set.
type MetricsConfig struct {
	Listen string `hcl:"listen,optional" json:"listen,omitempty"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level      string `hcl:"level,optional" json:"level"`
	JSON       bool   `hcl:"json,optional" json:"json"`
	File       string `hcl:"file,optional" json:"file,omitempty"`
	MaxSizeMB  int    `hcl:"max_size_mb,optional" json:"max_size_mb,omitempty"`
	MaxBackups int    `hcl:"max_backups,optional" json:"max_backups,omitempty"`
	Syslog     string `hcl:"syslog,optional" json:"syslog,omitempty"` // host[:port], udp
}

// Durations is the parsed form of every duration string in Config.
type Durations struct {
	Idle           time.Duration
	DefaultSession time.Duration
	SweepInterval  time.Duration
	ReapAfter      time.Duration
	Reconcile      time.Duration
	PollTimeout    time.Duration
	PollInterval   time.Duration
	Wait           time.Duration
	Whitelist      time.Duration
	CommandTimeout time.Duration
}

// AuthorityEnabled reports whether the control-plane poller should run.
func (c *Config) AuthorityEnabled() bool {
	if c.Authority == nil || c.Authority.URL == "" {
		return false
	}
	return c.Authority.Enabled == nil || *c.Authority.Enabled
}

// RemoteCommandsEnabled reports whether remote shell commands may run.
func (c *Config) RemoteCommandsEnabled() bool {
	return c.RemoteCommands == nil || c.RemoteCommands.Enabled == nil || *c.RemoteCommands.Enabled
}
