package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/migadu/sieveforge/config"
	"github.com/migadu/sieveforge/logger"
	"github.com/migadu/sieveforge/pkg/retry"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Output streams, swapped out by tests.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

const defaultConfigPath = "sieveforge.toml"

// errUsage means the command line was incomplete; the command has already
// printed its usage.
var errUsage = errors.New("invalid usage")

type command func(ctx context.Context, args []string) error

var commands = map[string]command{
	"generate": runGenerate,
	"validate": runValidate,
	"test":     runTest,
	"detect":   runDetect,
	"analyze":  runAnalyze,
	"upload":   runUpload,
	"scripts":  runScripts,
	"serve":    runServe,
	"config":   runConfig,
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	name := os.Args[1]
	switch name {
	case "help", "--help", "-h":
		printUsage()
		return
	case "version", "--version", "-v":
		fmt.Printf("sieveforge version %s (commit: %s, built at: %s)\n", version, commit, date)
		return
	}

	cmd, ok := commands[name]
	if !ok {
		fmt.Printf("Unknown command: %s\n\n", name)
		printUsage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd(ctx, os.Args[2:])
	cancel()
	if err != nil {
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`sieveforge - Sieve filter generation and analysis

Usage:
  sieveforge <command> [options]

Commands:
  generate    Generate a Sieve script from a categories document (JSON or YAML)
  validate    Lint a categories document or a Sieve script
  test        Dry-run a filter against .eml files or Maildir folders
  detect      Detect recurring patterns in a mail corpus or IMAP mailbox
  analyze     Fetch mail, derive a filter, dry-run, save and upload it
  upload      Upload a Sieve script to a ManageSieve server
  scripts     List, show, activate or delete stored and remote scripts
  serve       Run the HTTP API and metrics servers
  config      Dump or validate the configuration
  version     Show version information
  help        Show this help message

Examples:
  sieveforge generate --categories categories.yaml --output filters.sieve
  sieveforge validate filters.sieve
  sieveforge test --script filters.sieve ~/Maildir
  sieveforge detect --categories-out categories.yaml ~/Maildir
  sieveforge analyze --config sieveforge.toml --upload --activate
  sieveforge scripts --remote list

Use 'sieveforge <command> --help' for more information about a command.
`)
}

// environment is what every command needs after flag parsing.
type environment struct {
	cfg     config.Config
	backoff retry.BackoffConfig
	logFile *os.File
}

func (e *environment) close() {
	if e.logFile != nil {
		e.logFile.Close()
	}
}

// setup loads the configuration and initializes logging. A missing default
// configuration file is not an error; a missing --config file is.
func setup(fs *flag.FlagSet, configPath string) (*environment, error) {
	path := configPath
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if isFlagSet(fs, "config") {
			return nil, fmt.Errorf("configuration file '%s' not found", path)
		}
		path = ""
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if path == "" {
		log.Printf("WARNING: default configuration file '%s' not found. Using defaults and environment.", configPath)
	}

	logFile, err := logger.Initialize(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: initializing logger: %v\n", err)
	}

	backoff, err := retry.FromConfig(cfg.Retry)
	if err != nil {
		return nil, fmt.Errorf("retry: %w", err)
	}
	return &environment{cfg: cfg, backoff: backoff, logFile: logFile}, nil
}

// isFlagSet checks if a flag was explicitly set on the command line.
func isFlagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// readInput reads a file, or standard input when path is "-".
func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

// writeOutput writes to a file, or to stdout when path is empty or "-".
func writeOutput(path string, data string) error {
	if path == "" || path == "-" {
		_, err := io.WriteString(stdout, data)
		return err
	}
	return os.WriteFile(path, []byte(data), 0o644)
}

func usage(fs *flag.FlagSet, format string, args ...any) error {
	fmt.Fprintf(stderr, "Error: "+format+"\n\n", args...)
	fs.Usage()
	return errUsage
}
