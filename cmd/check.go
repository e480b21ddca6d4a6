package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/giok57/lazoooSplash/internal/brand"
	"github.com/giok57/lazoooSplash/internal/config"
)

// RunCheck validates the configuration file syntax and semantics.
func RunCheck(configFile string, verbose bool) error {
	if len(configFile) == 0 {
		return fmt.Errorf("usage: %s check [-v] <config-file>", brand.BinaryName)
	}

	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}
	d, err := cfg.Durations()
	if err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	Printer.Printf("Configuration valid!\n")
	Printer.Printf("Interface: %s (portal port %d)\n", cfg.Gateway.Interface, cfg.Gateway.Port)
	Printer.Printf("Auth attempts: %d per minute per client\n", cfg.Gateway.AuthAttempts)
	if cfg.AuthorityEnabled() {
		Printer.Printf("Authority: %s\n", cfg.Authority.URL)
	} else {
		Printer.Printf("Authority: disabled\n")
	}
	Printer.Printf("Journal: %s\n", cfg.Journal.Driver)

	if verbose {
		Printer.Println()
		printSummary(cfg, d)
	}
	return nil
}

func printSummary(cfg *config.Config, d config.Durations) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)

	Printer.Fprintln(w, "TIMEOUT\tVALUE")
	Printer.Fprintf(w, "idle\t%s\n", d.Idle)
	Printer.Fprintf(w, "default session\t%s\n", d.DefaultSession)
	Printer.Fprintf(w, "sweep interval\t%s\n", d.SweepInterval)
	Printer.Fprintf(w, "reap after\t%s\n", d.ReapAfter)
	Printer.Fprintf(w, "reconcile interval\t%s\n", d.Reconcile)
	Printer.Fprintln(w)
	w.Flush()

	Printer.Fprintln(w, "AUTHORITY\tVALUE")
	Printer.Fprintf(w, "poll timeout\t%s\n", d.PollTimeout)
	Printer.Fprintf(w, "poll interval\t%s\n", d.PollInterval)
	Printer.Fprintf(w, "retry wait\t%s\n", d.Wait)
	Printer.Fprintf(w, "identity file\t%s\n", cfg.Authority.IdentityFile)
	Printer.Fprintf(w, "remote commands\t%t\n", cfg.RemoteCommandsEnabled())
	Printer.Fprintln(w)
	w.Flush()

	Printer.Fprintln(w, "FIREWALL\tVALUE")
	Printer.Fprintf(w, "backend\t%s\n", cfg.Firewall.Backend)
	Printer.Fprintf(w, "table\t%s\n", cfg.Firewall.Table)
	Printer.Fprintf(w, "whitelist\t%s (every %s)\n", cfg.Whitelist.File, d.Whitelist)
	w.Flush()
}
