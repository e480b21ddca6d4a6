package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/giok57/lazoooSplash/internal/brand"
)

// LoadFile loads a config file (HCL or JSON), applies defaults and validates it.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg *Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		cfg, err = LoadJSON(data)
	default:
		cfg, err = LoadHCL(data, path)
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadHCL decodes HCL bytes and applies defaults. It does not validate.
func LoadHCL(data []byte, filename string) (*Config, error) {
	if filename == "" {
		filename = "config.hcl"
	}
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("HCL parse error: %s", diags.Error())
	}

	var cfg Config
	if diags := gohcl.DecodeBody(file.Body, nil, &cfg); diags.HasErrors() {
		return nil, fmt.Errorf("HCL decode error: %s", diags.Error())
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// LoadJSON decodes JSON bytes and applies defaults. It does not validate.
func LoadJSON(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("JSON parse error: %w", err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// Default returns a configuration with every block populated with defaults.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills in every unset field.
func (c *Config) ApplyDefaults() {
	if c.Gateway == nil {
		c.Gateway = &GatewayConfig{}
	}
	if c.Gateway.Interface == "" {
		c.Gateway.Interface = "br-lan"
	}
	if c.Gateway.Port == 0 {
		c.Gateway.Port = 2050
	}
	if c.Gateway.MaxClients == 0 {
		c.Gateway.MaxClients = 250
	}
	if c.Gateway.AuthAttempts == 0 {
		c.Gateway.AuthAttempts = 10
	}

	if c.Timeouts == nil {
		c.Timeouts = &TimeoutsConfig{}
	}
	setDefault(&c.Timeouts.Idle, "10m")
	setDefault(&c.Timeouts.DefaultSession, "24h")
	setDefault(&c.Timeouts.SweepInterval, "60s")
	setDefault(&c.Timeouts.ReapAfter, "5m")
	setDefault(&c.Timeouts.Reconcile, "5m")

	if c.Authority == nil {
		c.Authority = &AuthorityConfig{}
	}
	setDefault(&c.Authority.IdentityFile, brand.DefaultIdentityPath())
	setDefault(&c.Authority.PollTimeout, "60s")
	setDefault(&c.Authority.PollInterval, "1s")
	setDefault(&c.Authority.Wait, "10s")

	if c.Whitelist == nil {
		c.Whitelist = &WhitelistConfig{}
	}
	setDefault(&c.Whitelist.File, filepath.Join(brand.GetConfigDir(), "whitelist"))
	setDefault(&c.Whitelist.Interval, "30s")

	if c.Firmware == nil {
		c.Firmware = &FirmwareConfig{}
	}
	setDefault(&c.Firmware.DownloadPath, "/tmp/firmware.bin")
	setDefault(&c.Firmware.FlashCommand, "sysupgrade -n")
	if c.Firmware.MaxSizeMB == 0 {
		c.Firmware.MaxSizeMB = 32
	}

	if c.RemoteCommands == nil {
		c.RemoteCommands = &RemoteCommandsConfig{}
	}
	setDefault(&c.RemoteCommands.Shell, "/bin/sh")
	setDefault(&c.RemoteCommands.Timeout, "5m")

	if c.Firewall == nil {
		c.Firewall = &FirewallConfig{}
	}
	setDefault(&c.Firewall.Backend, "nftables")
	setDefault(&c.Firewall.Table, brand.LowerName)
	setDefault(&c.Firewall.NftPath, "nft")

	if c.Journal == nil {
		c.Journal = &JournalConfig{}
	}
	setDefault(&c.Journal.Driver, "sqlite")
	if c.Journal.Driver == "sqlite" {
		setDefault(&c.Journal.Path, filepath.Join(brand.GetStateDir(), "sessions.db"))
	}

	if c.Metrics == nil {
		c.Metrics = &MetricsConfig{}
	}

	if c.Log == nil {
		c.Log = &LogConfig{}
	}
	setDefault(&c.Log.Level, "info")
}

func setDefault(field *string, def string) {
	if *field == "" {
		*field = def
	}
}
