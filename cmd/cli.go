// Package cmd implements the gateway's command-line entry points.
package cmd

import "github.com/giok57/lazoooSplash/internal/i18n"

// Printer is the global message printer for the CLI
var Printer = i18n.NewCLIPrinter()
