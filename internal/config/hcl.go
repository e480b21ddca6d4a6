package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"
)

// MarshalHCL renders cfg as an HCL document. Empty strings are omitted.
func MarshalHCL(cfg *Config) []byte {
	f := hclwrite.NewEmptyFile()
	root := f.Body()

	if g := cfg.Gateway; g != nil {
		b := root.AppendNewBlock("gateway", nil).Body()
		setString(b, "interface", g.Interface)
		setString(b, "address", g.Address)
		b.SetAttributeValue("port", cty.NumberIntVal(int64(g.Port)))
		b.SetAttributeValue("max_clients", cty.NumberIntVal(int64(g.MaxClients)))
		b.SetAttributeValue("auth_attempts", cty.NumberIntVal(int64(g.AuthAttempts)))
		setString(b, "splash_url", g.SplashURL)
		root.AppendNewline()
	}
	if t := cfg.Timeouts; t != nil {
		b := root.AppendNewBlock("timeouts", nil).Body()
		setString(b, "idle", t.Idle)
		setString(b, "default_session", t.DefaultSession)
		setString(b, "sweep_interval", t.SweepInterval)
		setString(b, "reap_after", t.ReapAfter)
		setString(b, "reconcile_interval", t.Reconcile)
		root.AppendNewline()
	}
	if a := cfg.Authority; a != nil {
		b := root.AppendNewBlock("authority", nil).Body()
		setString(b, "url", a.URL)
		setString(b, "identity_file", a.IdentityFile)
		setString(b, "poll_timeout", a.PollTimeout)
		setString(b, "poll_interval", a.PollInterval)
		setString(b, "wait", a.Wait)
		setString(b, "probe_host", a.ProbeHost)
		setString(b, "login_url", a.LoginURL)
		if a.InsecureTLS {
			b.SetAttributeValue("insecure_tls", cty.True)
		}
		if a.CheckNavigate {
			b.SetAttributeValue("check_navigate", cty.True)
		}
		if a.Enabled != nil {
			b.SetAttributeValue("enabled", cty.BoolVal(*a.Enabled))
		}
		root.AppendNewline()
	}
	if w := cfg.Whitelist; w != nil {
		b := root.AppendNewBlock("whitelist", nil).Body()
		setString(b, "file", w.File)
		setString(b, "interval", w.Interval)
		setString(b, "resolver", w.Resolver)
		root.AppendNewline()
	}
	if fw := cfg.Firmware; fw != nil {
		b := root.AppendNewBlock("firmware", nil).Body()
		setString(b, "download_path", fw.DownloadPath)
		setString(b, "flash_command", fw.FlashCommand)
		b.SetAttributeValue("max_size_mb", cty.NumberIntVal(int64(fw.MaxSizeMB)))
		root.AppendNewline()
	}
	if rc := cfg.RemoteCommands; rc != nil {
		b := root.AppendNewBlock("remote_commands", nil).Body()
		if rc.Enabled != nil {
			b.SetAttributeValue("enabled", cty.BoolVal(*rc.Enabled))
		}
		setString(b, "shell", rc.Shell)
		setString(b, "timeout", rc.Timeout)
		root.AppendNewline()
	}
	if fw := cfg.Firewall; fw != nil {
		b := root.AppendNewBlock("firewall", nil).Body()
		setString(b, "backend", fw.Backend)
		setString(b, "table", fw.Table)
		setString(b, "nft_path", fw.NftPath)
		root.AppendNewline()
	}
	if j := cfg.Journal; j != nil {
		b := root.AppendNewBlock("journal", nil).Body()
		setString(b, "driver", j.Driver)
		setString(b, "path", j.Path)
		setString(b, "redis_addr", j.RedisAddr)
		if j.RedisDB != 0 {
			b.SetAttributeValue("redis_db", cty.NumberIntVal(int64(j.RedisDB)))
		}
		root.AppendNewline()
	}
	if m := cfg.Metrics; m != nil && m.Listen != "" {
		b := root.AppendNewBlock("metrics", nil).Body()
		setString(b, "listen", m.Listen)
		root.AppendNewline()
	}
	if l := cfg.Log; l != nil {
		b := root.AppendNewBlock("log", nil).Body()
		setString(b, "level", l.Level)
		if l.JSON {
			b.SetAttributeValue("json", cty.True)
		}
		setString(b, "file", l.File)
		if l.MaxSizeMB != 0 {
			b.SetAttributeValue("max_size_mb", cty.NumberIntVal(int64(l.MaxSizeMB)))
		}
		if l.MaxBackups != 0 {
			b.SetAttributeValue("max_backups", cty.NumberIntVal(int64(l.MaxBackups)))
		}
		setString(b, "syslog", l.Syslog)
	}
	return hclwrite.Format(f.Bytes())
}

// WriteDefault writes a default configuration to path. It refuses to
// overwrite an existing file unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, MarshalHCL(Default()), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return os.Rename(tmp, path)
}

func setString(b *hclwrite.Body, name, value string) {
	if value != "" {
		b.SetAttributeValue(name, cty.StringVal(value))
	}
}
