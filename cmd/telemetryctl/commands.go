package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"research_telemetry/internal/config"
	"research_telemetry/internal/export"
	"research_telemetry/internal/hashing"
	"research_telemetry/internal/healthcheck"
	"research_telemetry/internal/privacy"
	"research_telemetry/internal/schema"
	"research_telemetry/internal/telemetry"
)

// errHelp stops a command after pflag has printed its usage.
var errHelp = errors.New("help requested")

func parseFlags(fs *pflag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return errHelp
		}
		return err
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runCheck(cfg *config.Config, args []string) error {
	fs := pflag.NewFlagSet("check", pflag.ContinueOnError)
	base := fs.String("base", cfg.BaseDir, "telemetry base directory")
	outputDir := fs.String("output-dir", cfg.OutputDir, "directory with *_articles.json files (empty to skip)")
	types := fs.StringSlice("types", schema.CoreTypes, "artifact types to spot check")
	asJSON := fs.Bool("json", false, "print the report as JSON")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	report := healthcheck.Run(healthcheck.Options{BaseDir: *base, Types: *types, OutputDir: *outputDir})
	if *asJSON {
		if err := printJSON(report); err != nil {
			return err
		}
	} else {
		if report.Manifest != "" {
			fmt.Printf("manifest: %s\n", filepath.Base(report.Manifest))
		}
		for _, name := range *types {
			fmt.Printf("  %-22s %d rows\n", name, report.Artifacts[name])
		}
		for _, w := range report.Warnings {
			fmt.Printf("WARN: %s\n", w)
		}
	}
	if !report.OK {
		return failed("%s", strings.Join(report.Errors, "; "))
	}
	fmt.Println("OK: telemetry health check passed")
	return nil
}

func runExport(cfg *config.Config, args []string) error {
	fs := pflag.NewFlagSet("export", pflag.ContinueOnError)
	base := fs.String("base", cfg.BaseDir, "telemetry base directory")
	out := fs.String("out", cfg.ExportDir, "export directory")
	levelFlag := fs.String("level", string(privacy.Research), "privacy level: internal, research or public")
	manifest := fs.String("manifest", "", "session manifest to export (default latest)")
	aggregates := fs.StringArray("aggregate", nil, "public count statistic as artifact_type:field (repeatable)")
	noHMAC := fs.Bool("no-hmac", false, "hash sensitive fields with plain SHA-256")
	seed := fs.Int64("seed", cfg.DPSeed, "noise seed for aggregates (0 = random)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	level, err := privacy.ParseLevel(*levelFlag)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := export.Run(ctx, export.Options{
		BaseDir:  *base,
		OutDir:   *out,
		Level:    level,
		Manifest: *manifest,
		Privacy: privacy.Options{
			UseHMAC: !*noHMAC,
			Pepper:  cfg.Pepper,
			Salt:    cfg.Salt,
		},
		Threshold:       cfg.LeakThreshold,
		Recipients:      cfg.Recipients(),
		AggregateFields: *aggregates,
		K:               cfg.KAnonymity,
		Epsilon:         cfg.DPEpsilon,
		Seed:            *seed,
	})
	var leak *privacy.LeakError
	if errors.As(err, &leak) {
		return failed("export stopped: %v", err)
	}
	if err != nil {
		return err
	}
	for _, f := range res.Manifest.Files {
		fmt.Printf("  %-22s %6d rows  %s\n", f.ArtifactType, f.Rows, f.Path)
	}
	fmt.Printf("OK: %s export written to %s\n", level, res.Dir)
	return nil
}

func runValidate(cfg *config.Config, args []string) error {
	fs := pflag.NewFlagSet("validate", pflag.ContinueOnError)
	artifactType := fs.String("type", "", "artifact type (default: the file's directory name)")
	limit := fs.Int("max-errors", 20, "stop printing after this many invalid records")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: telemetryctl validate [--type T] <file>")
	}
	path := fs.Arg(0)
	name := *artifactType
	if name == "" {
		name = filepath.Base(filepath.Dir(path))
	}

	reg := schema.Default()
	if _, ok := reg.Lookup(name); !ok {
		return fmt.Errorf("unknown artifact type %q", name)
	}

	rows, invalid := 0, 0
	err := telemetry.ScanRecords(path, func(rec map[string]any) error {
		rows++
		if ok, errs := reg.Validate(name, rec); !ok {
			invalid++
			if invalid <= *limit {
				fmt.Printf("row %d: %s\n", rows, strings.Join(errs, "; "))
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if invalid > 0 {
		return failed("%d of %d %s records invalid", invalid, rows, name)
	}
	fmt.Printf("OK: %d %s records valid\n", rows, name)
	return nil
}

func runSchemas(cfg *config.Config, args []string) error {
	fs := pflag.NewFlagSet("schemas", pflag.ContinueOnError)
	verbose := fs.BoolP("verbose", "v", false, "show field types")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	reg := schema.Default()
	for _, name := range reg.Names() {
		s, _ := reg.Lookup(name)
		fmt.Printf("%s (v%s): %s\n", s.Name, s.Version, s.Description)
		fmt.Printf("  required: %s\n", strings.Join(s.Required, ", "))
		if *verbose {
			for _, field := range append(append([]string{}, s.Required...), s.Optional...) {
				if t, ok := s.FieldTypes[field]; ok {
					fmt.Printf("    %-26s %s\n", field, t)
				}
			}
		}
	}
	for alias, target := range reg.Aliases() {
		fmt.Printf("alias %s -> %s\n", alias, target)
	}
	return nil
}

func runSeed(cfg *config.Config, args []string) error {
	fs := pflag.NewFlagSet("seed", pflag.ContinueOnError)
	base := fs.String("base", cfg.BaseDir, "telemetry base directory")
	count := fs.Int("count", 3, "records per artifact type")
	all := fs.Bool("all", false, "seed every artifact type, not only the core ones")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	opts, err := cfg.LoggerOptions()
	if err != nil {
		return err
	}
	opts.BaseDir = *base
	l, err := telemetry.New(opts)
	if err != nil {
		return err
	}

	types := schema.CoreTypes
	if *all {
		types = schema.Default().Names()
	}
	if err := seedSession(l, types, *count); err != nil {
		return err
	}
	log.Info().Str("session_id", l.SessionID()).Int("types", len(types)).Msg("seeded example session")
	return nil
}

// seedSession logs count example records per type and closes l, also when a
// Log call fails, so records already buffered still reach disk.
func seedSession(l *telemetry.Logger, types []string, count int) error {
	for _, name := range types {
		for i := 0; i < count; i++ {
			if err := l.Log(name, schema.ExampleRecord(name)); err != nil {
				return errors.Join(err, l.Close())
			}
		}
	}
	return l.Close()
}

func runHash(cfg *config.Config, args []string) error {
	fs := pflag.NewFlagSet("hash", pflag.ContinueOnError)
	source := fs.String("source", "", "document source for doc hashes")
	version := fs.String("version", "v1", "prompt version for prompt hashes")
	useHMAC := fs.Bool("hmac", false, "keyed text hash using RKL_PRIVACY_PEPPER")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return errors.New("usage: telemetryctl hash text|file|doc|prompt|pseudo <value>")
	}
	kind, value := fs.Arg(0), fs.Arg(1)

	var out string
	switch kind {
	case "text":
		if *useHMAC {
			out = hashing.HMACText(value, cfg.Pepper)
		} else {
			out = hashing.Text(value)
		}
	case "file":
		digest, err := hashing.File(value)
		if err != nil {
			return err
		}
		out = digest
	case "doc":
		out = hashing.Document(value, *source)
	case "prompt":
		out = hashing.Prompt(value, *version)
	case "pseudo":
		out = hashing.PseudonymizeID(value, cfg.Salt)
	default:
		return fmt.Errorf("unknown hash kind %q", kind)
	}
	fmt.Println(out)
	return nil
}
