package main

import (
	"flag"
	"os"

	"github.com/giok57/lazoooSplash/cmd"
	"github.com/giok57/lazoooSplash/internal/brand"
)

var printer = cmd.Printer

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runFlags := flag.NewFlagSet("run", flag.ExitOnError)
		configFile := runFlags.String("config", brand.DefaultConfigPath(), "Configuration file")
		runFlags.StringVar(configFile, "c", brand.DefaultConfigPath(), "Configuration file (short)")
		runFlags.Parse(os.Args[2:])

		if err := cmd.RunGateway(*configFile); err != nil {
			printer.Fprintf(os.Stderr, "Gateway failed: %v\n", err)
			os.Exit(1)
		}

	case "check":
		checkFlags := flag.NewFlagSet("check", flag.ExitOnError)
		verbose := checkFlags.Bool("verbose", false, "Verbose output")
		checkFlags.BoolVar(verbose, "v", false, "Verbose output (short)")
		configFile := checkFlags.String("config", brand.DefaultConfigPath(), "Configuration file")
		checkFlags.StringVar(configFile, "c", brand.DefaultConfigPath(), "Configuration file (short)")
		checkFlags.Parse(os.Args[2:])

		if len(checkFlags.Args()) > 0 {
			*configFile = checkFlags.Arg(0)
		}
		if err := cmd.RunCheck(*configFile, *verbose); err != nil {
			printer.Fprintf(os.Stderr, "Check failed: %v\n", err)
			os.Exit(1)
		}

	case "init-config":
		initFlags := flag.NewFlagSet("init-config", flag.ExitOnError)
		force := initFlags.Bool("force", false, "Overwrite an existing file")
		initFlags.BoolVar(force, "f", false, "Overwrite an existing file (short)")
		initFlags.Parse(os.Args[2:])

		path := brand.DefaultConfigPath()
		if len(initFlags.Args()) > 0 {
			path = initFlags.Arg(0)
		}
		if err := cmd.RunInitConfig(path, *force); err != nil {
			printer.Fprintf(os.Stderr, "init-config failed: %v\n", err)
			os.Exit(1)
		}

	case "version":
		printer.Printf("%s version %s\n", brand.Name, brand.Version)
		printer.Printf("Build: %s (%s)\n", brand.BuildTime, brand.GitCommit)

	case "help", "-h", "--help":
		printUsage()

	default:
		printer.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printer.Printf("%s - captive portal gateway\n\n", brand.Name)
	printer.Printf("Usage:\n")
	printer.Printf("  %s run [-c config]           Run the gateway in the foreground\n", brand.BinaryName)
	printer.Printf("  %s check [-v] [config]       Validate a configuration file\n", brand.BinaryName)
	printer.Printf("  %s init-config [-f] [path]   Write a default configuration\n", brand.BinaryName)
	printer.Printf("  %s version                   Show version\n", brand.BinaryName)
}
