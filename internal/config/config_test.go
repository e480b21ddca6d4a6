package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadHCL_Full(t *testing.T) {
	src := `
gateway {
  interface   = "wlan0"
  address     = "192.168.10.1"
  port        = 2060
  max_clients = 32
}

timeouts {
  idle           = "5m"
  sweep_interval = "30s"
}

authority {
  url           = "https://auth.example.net/api/"
  poll_interval = "2s"
  wait          = "15s"
}

journal {
  driver     = "redis"
  redis_addr = "127.0.0.1:6379"
}

log {
  level = "debug"
  json  = true
}
`
	cfg, err := LoadHCL([]byte(src), "test.hcl")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "wlan0", cfg.Gateway.Interface)
	assert.Equal(t, "192.168.10.1", cfg.Gateway.Address)
	assert.Equal(t, 2060, cfg.Gateway.Port)
	assert.Equal(t, 32, cfg.Gateway.MaxClients)
	assert.True(t, cfg.AuthorityEnabled())
	assert.Equal(t, "redis", cfg.Journal.Driver)
	assert.Empty(t, cfg.Journal.Path, "sqlite path default only applies to sqlite driver")
	assert.True(t, cfg.Log.JSON)

	d, err := cfg.Durations()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, d.Idle)
	assert.Equal(t, 30*time.Second, d.SweepInterval)
	assert.Equal(t, 24*time.Hour, d.DefaultSession)
	assert.Equal(t, 2*time.Second, d.PollInterval)
	assert.Equal(t, 15*time.Second, d.Wait)
	assert.Equal(t, 30*time.Second, d.Whitelist)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "br-lan", cfg.Gateway.Interface)
	assert.Equal(t, 2050, cfg.Gateway.Port)
	assert.Equal(t, "nftables", cfg.Firewall.Backend)
	assert.Equal(t, "sqlite", cfg.Journal.Driver)
	assert.NotEmpty(t, cfg.Journal.Path)
	assert.False(t, cfg.AuthorityEnabled(), "no url means no poller")
	assert.True(t, cfg.RemoteCommandsEnabled())
}

func TestAuthorityEnabled_ExplicitlyOff(t *testing.T) {
	off := false
	cfg := Default()
	cfg.Authority.URL = "https://auth.example.net/"
	cfg.Authority.Enabled = &off
	assert.False(t, cfg.AuthorityEnabled())
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	src := `
gateway {
  address = "not-an-ip"
  port    = 70000
}
timeouts {
  idle = "forever"
}
authority {
  url = "ftp://example.net"
}
firewall {
  backend = "iptables"
}
journal {
  driver = "bolt"
}
`
	cfg, err := LoadHCL([]byte(src), "bad.hcl")
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)

	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	fields := make([]string, 0, len(verrs))
	for _, v := range verrs {
		fields = append(fields, v.Field)
	}
	assert.ElementsMatch(t, []string{
		"gateway.address",
		"gateway.port",
		"timeouts.idle",
		"authority.url",
		"firewall.backend",
		"journal.driver",
	}, fields)
}

func TestValidate_NonPositiveDuration(t *testing.T) {
	cfg := Default()
	cfg.Timeouts.SweepInterval = "0s"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeouts.sweep_interval")
}

func TestLoadHCL_ParseError(t *testing.T) {
	_, err := LoadHCL([]byte(`gateway {`), "broken.hcl")
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "HCL parse error"))
}

func TestLoadHCL_UnknownAttribute(t *testing.T) {
	_, err := LoadHCL([]byte("gateway {\n  colour = \"blue\"\n}\n"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HCL decode error")
}

func TestLoadFile_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gw.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"gateway":{"interface":"lan0","port":8080}}`), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "lan0", cfg.Gateway.Interface)
	assert.Equal(t, 8080, cfg.Gateway.Port)
	assert.Equal(t, 250, cfg.Gateway.MaxClients)
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.hcl"))
	require.Error(t, err)
}

func TestWriteDefault_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "gw.hcl")
	require.NoError(t, WriteDefault(path, false))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, Default().Gateway, cfg.Gateway)
	assert.Equal(t, Default().Timeouts, cfg.Timeouts)
	assert.Equal(t, Default().Firewall, cfg.Firewall)

	err = WriteDefault(path, false)
	require.Error(t, err, "must not overwrite without force")
	require.NoError(t, WriteDefault(path, true))
}

func TestValidate_RejectsUnsafeNames(t *testing.T) {
	cfg := Default()
	cfg.Gateway.Interface = "br-lan; reboot"
	cfg.Firewall.Table = "captive portal"
	cfg.Firmware.FlashCommand = "sysupgrade -n $(id)"
	cfg.Metrics.Listen = "localhost"

	err := cfg.Validate()
	require.Error(t, err)
	for _, field := range []string{"gateway.interface", "firewall.table", "firmware.flash_command", "metrics.listen"} {
		assert.Contains(t, err.Error(), field)
	}
}
