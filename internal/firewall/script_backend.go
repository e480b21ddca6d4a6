package firewall

import (
	"bytes"
	"fmt"
	"net"
	"sync"
	"text/template"
)

// Rule templates fed to `nft -f -`. Declaring the table before deleting it
// makes the delete succeed whether or not the table exists.
const (
	tmplTeardown = `table inet {{.Table}}
delete table inet {{.Table}}
`
	tmplInit = tmplTeardown + `table inet {{.Table}} {
	set authorized { type ipv4_addr; }
	set whitelist { type ipv4_addr; }

	chain prerouting {
		type nat hook prerouting priority dstnat; policy accept;
		iifname "{{.Interface}}" ip saddr != @authorized ip daddr != @whitelist tcp dport 80 dnat ip to {{.GatewayIP}}:{{.PortalPort}}
	}

	chain input {
		type filter hook input priority filter; policy accept;
		iifname "{{.Interface}}" tcp dport { {{.PortalPort}}, 53 } accept
		iifname "{{.Interface}}" udp dport { 53, 67 } accept
		iifname "{{.Interface}}" ip saddr @authorized accept
		iifname "{{.Interface}}" ct state established,related accept
		iifname "{{.Interface}}" drop
	}

	chain forward {
		type filter hook forward priority filter; policy accept;
		iifname "{{.Interface}}" ip saddr @authorized accept
		iifname "{{.Interface}}" ip daddr @whitelist accept
		iifname "{{.Interface}}" drop
	}
}
`
	tmplAddElement    = "add element inet {{.Table}} {{.Set}} { {{.IP}} }\n"
	tmplDeleteElement = "delete element inet {{.Table}} {{.Set}} { {{.IP}} }\n"
)

// ScriptBackend renders rule templates and runs them through the nft CLI.
type ScriptBackend struct {
	runner  CommandRunner
	nftPath string
	opts    Options

	mu        sync.Mutex
	templates map[string]*template.Template
}

// NewScriptBackend creates a backend that shells out to nftPath.
func NewScriptBackend(runner CommandRunner, nftPath string, opts Options) (*ScriptBackend, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if runner == nil {
		runner = RealCommandRunner{}
	}
	if nftPath == "" {
		nftPath = "nft"
	}
	return &ScriptBackend{
		runner:    runner,
		nftPath:   nftPath,
		opts:      opts,
		templates: make(map[string]*template.Template),
	}, nil
}

type ruleArgs struct {
	Options
	Set string
	IP  string
}

// RunRule renders tmpl with args and applies the result atomically.
func (b *ScriptBackend) RunRule(tmpl string, args ruleArgs) error {
	t, err := b.compile(tmpl)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, args); err != nil {
		return fmt.Errorf("render rule: %w", err)
	}
	return b.runner.RunInput(buf.String(), b.nftPath, "-f", "-")
}

func (b *ScriptBackend) compile(tmpl string) (*template.Template, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.templates[tmpl]; ok {
		return t, nil
	}
	t, err := template.New("rule").Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("parse rule template: %w", err)
	}
	b.templates[tmpl] = t
	return t, nil
}

func (b *ScriptBackend) args(set string, ip net.IP) ruleArgs {
	a := ruleArgs{Options: b.opts, Set: set}
	if ip != nil {
		a.IP = ip.String()
	}
	return a
}

// Init replaces any previous portal table.
func (b *ScriptBackend) Init() error {
	if err := b.RunRule(tmplInit, b.args("", nil)); err != nil {
		return fmt.Errorf("install portal table: %w", err)
	}
	return nil
}

// Teardown deletes the portal table if present.
func (b *ScriptBackend) Teardown() error {
	if err := b.RunRule(tmplTeardown, b.args("", nil)); err != nil {
		return fmt.Errorf("delete portal table: %w", err)
	}
	return nil
}

func (b *ScriptBackend) element(tmpl, set string, ip net.IP) error {
	v4 := ip.To4()
	if v4 == nil {
		return fmt.Errorf("%v: %w", ip, ErrNotIPv4)
	}
	if err := b.RunRule(tmpl, b.args(set, v4)); err != nil {
		return fmt.Errorf("update set %s for %v: %w", set, v4, err)
	}
	return nil
}

func (b *ScriptBackend) Allow(ip net.IP) error {
	return b.element(tmplAddElement, SetAuthorized, ip)
}

func (b *ScriptBackend) Disallow(ip net.IP) error {
	return b.element(tmplDeleteElement, SetAuthorized, ip)
}

func (b *ScriptBackend) AllowPassthrough(ip net.IP) error {
	return b.element(tmplAddElement, SetWhitelist, ip)
}

func (b *ScriptBackend) DisallowPassthrough(ip net.IP) error {
	return b.element(tmplDeleteElement, SetWhitelist, ip)
}
