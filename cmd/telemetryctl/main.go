// telemetryctl inspects, checks and exports the research telemetry written
// by the pipeline's structured logger.
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"research_telemetry/internal/config"
)

// exitError carries a non-default exit status. Code 2 means the command ran
// but the data failed a check.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }
func (e *exitError) ExitCode() int { return e.code }

func failed(format string, args ...any) error {
	return &exitError{code: 2, err: fmt.Errorf(format, args...)}
}

type command struct {
	name    string
	summary string
	run     func(cfg *config.Config, args []string) error
}

var commands = []command{
	{"check", "verify the latest session (manifest, fields, timestamps, digests)", runCheck},
	{"export", "release the latest session at a privacy level", runExport},
	{"validate", "validate an NDJSON data file against its schema", runValidate},
	{"schemas", "list registered artifact types", runSchemas},
	{"seed", "write one session of example records", runSeed},
	{"hash", "hash text|file|doc|prompt|pseudo <value>", runHash},
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		var coder interface{ ExitCode() int }
		if errors.As(err, &coder) {
			fmt.Fprintf(os.Stderr, "FAIL: %v\n", err)
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		usage()
		if len(args) == 0 {
			return errors.New("no command given")
		}
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := setupLogging(cfg); err != nil {
		return err
	}

	for _, c := range commands {
		if c.name == args[0] {
			if err := c.run(cfg, args[1:]); !errors.Is(err, errHelp) {
				return err
			}
			return nil
		}
	}
	usage()
	return fmt.Errorf("unknown command %q", args[0])
}

func setupLogging(cfg *config.Config) error {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("config: TELEMETRY_LOG_LEVEL: %w", err)
	}
	zerolog.SetGlobalLevel(level)
	if cfg.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	return nil
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: telemetryctl <command> [flags]")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Commands:")
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-9s %s\n", c.name, c.summary)
	}
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Settings come from TELEMETRY_* and RKL_* environment variables or ./.env.")
}
