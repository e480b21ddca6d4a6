package cmd

import (
	"fmt"

	"github.com/spf13/afero"

	"github.com/giok57/lazoooSplash/internal/config"
	"github.com/giok57/lazoooSplash/internal/identity"
)

// RunInitConfig writes a default configuration file and, when missing, a
// fresh access point identity next to the path it names.
func RunInitConfig(path string, force bool) error {
	if err := config.WriteDefault(path, force); err != nil {
		return err
	}
	Printer.Printf("Default configuration written to %s\n", path)

	cfg := config.Default()
	fs := afero.NewOsFs()
	if _, err := identity.Load(fs, cfg.Authority.IdentityFile); err == nil {
		return nil
	}
	id, err := identity.Generate(fs, cfg.Authority.IdentityFile)
	if err != nil {
		return fmt.Errorf("failed to create identity: %w", err)
	}
	Printer.Printf("Access point identity %s written to %s\n", id, cfg.Authority.IdentityFile)
	return nil
}
