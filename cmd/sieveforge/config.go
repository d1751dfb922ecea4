package main

// config.go - config dump and config validate

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/migadu/sieveforge/config"
)

func runConfig(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to TOML configuration file")
	reveal := fs.Bool("reveal", false, "Show secrets in config dump")

	fs.Usage = func() {
		fmt.Fprintf(stderr, `Dump or validate the configuration

Usage:
  sieveforge config [options] dump
  sieveforge config [options] validate

dump prints the effective configuration (defaults, file and environment
merged) as TOML. validate checks syntax, unknown keys and values and exits
non-zero on errors.

Options:
  --reveal         Show secrets in config dump
  --config string  Path to TOML configuration file (default: %s)
`, defaultConfigPath)
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usage(fs, "a subcommand is required")
	}

	switch fs.Arg(0) {
	case "dump":
		return configDump(fs, *configPath, *reveal)
	case "validate":
		return configValidate(*configPath)
	default:
		return usage(fs, "unknown config subcommand %q", fs.Arg(0))
	}
}

func configDump(fs *flag.FlagSet, path string, reveal bool) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && !isFlagSet(fs, "config") {
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	out, err := cfg.Encode(reveal)
	if err != nil {
		return err
	}
	fmt.Fprint(stdout, out)
	return nil
}

func configValidate(path string) error {
	fmt.Fprintf(stdout, "Validating configuration file: %s\n\n", path)
	if _, err := config.Load(path); err != nil {
		fmt.Fprintf(stdout, "Configuration validation FAILED:\n   %v\n", err)
		return err
	}
	fmt.Fprintln(stdout, "Configuration is valid")
	return nil
}
