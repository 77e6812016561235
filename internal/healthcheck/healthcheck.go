// Package healthcheck verifies that a telemetry base directory holds a
// complete, untampered session: core artifact types present, required fields
// in the data, UTC timestamps, and manifest digests that match the files.
package healthcheck

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"research_telemetry/internal/hashing"
	"research_telemetry/internal/schema"
	"research_telemetry/internal/telemetry"
)

type Options struct {
	BaseDir  string
	Registry *schema.Registry
	// Types to spot check. Defaults to schema.CoreTypes.
	Types []string
	// Required overrides the schema's required fields for a type.
	Required map[string][]string
	// OutputDir is searched for *_articles.json join files when set.
	OutputDir string
}

// Report is the outcome of Run. Errors fail the check, warnings do not.
type Report struct {
	OK        bool           `json:"ok"`
	Manifest  string         `json:"manifest,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Artifacts map[string]int `json:"artifacts"`
	Errors    []string       `json:"errors"`
	Warnings  []string       `json:"warnings"`
}

func (r *Report) fail(format string, args ...any) {
	r.OK = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Report) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func Run(opts Options) Report {
	report := Report{OK: true, Artifacts: map[string]int{}}
	if opts.BaseDir == "" {
		opts.BaseDir = telemetry.DefaultBaseDir
	}
	if opts.Registry == nil {
		opts.Registry = schema.Default()
	}
	if len(opts.Types) == 0 {
		opts.Types = schema.CoreTypes
	}

	if _, err := os.Stat(opts.BaseDir); err != nil {
		report.fail("base directory %s not found: %v", opts.BaseDir, err)
		return report
	}

	m, path, err := telemetry.LatestManifest(opts.BaseDir)
	if err != nil {
		report.fail("read manifest: %v", err)
		return report
	}
	report.Manifest = path
	report.SessionID = m.SessionID

	for name, art := range m.Artifacts {
		report.Artifacts[name] = art.Rows
	}
	for _, name := range opts.Types {
		art, ok := m.Artifacts[name]
		if !ok || art.Rows <= 0 {
			report.fail("missing or zero rows for %s", name)
		}
	}

	checkIntegrity(&report, opts.BaseDir, m)

	for _, name := range opts.Types {
		required := opts.Required[name]
		if required == nil {
			s, ok := opts.Registry.Lookup(name)
			if !ok {
				report.fail("unknown artifact type %s", name)
				continue
			}
			required = s.Required
		}
		spotCheck(&report, opts.BaseDir, name, required)
	}

	if opts.OutputDir != "" {
		checkJoinKeys(&report, opts.OutputDir)
	}
	return report
}

func checkIntegrity(report *Report, base string, m *telemetry.Manifest) {
	names := make([]string, 0, len(m.Artifacts))
	for name := range m.Artifacts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, f := range m.Artifacts[name].Files {
			got, err := hashing.File(filepath.Join(base, filepath.FromSlash(f.Path)))
			if err != nil {
				report.fail("digest %s: %v", f.Path, err)
				continue
			}
			if got != f.SHA256 {
				report.fail("digest mismatch for %s", f.Path)
			}
		}
	}
	if m.MerkleRoot != "" && telemetry.MerkleRoot(m.Digests()) != m.MerkleRoot {
		report.fail("merkle root mismatch")
	}
}

// latestDataFile prefers NDJSON, then zstd NDJSON. A type that only has
// parquet files returns "" with parquet set.
func latestDataFile(base, name string) (path string, parquet bool, err error) {
	for _, format := range []telemetry.Format{telemetry.FormatNDJSON, telemetry.FormatZstd} {
		paths, err := telemetry.ListDataFiles(base, name, format)
		if err != nil {
			return "", false, err
		}
		if len(paths) > 0 {
			return paths[len(paths)-1], false, nil
		}
	}
	paths, err := filepath.Glob(filepath.Join(base, name, "*.parquet"))
	if err != nil {
		return "", false, err
	}
	return "", len(paths) > 0, nil
}

func spotCheck(report *Report, base, name string, required []string) {
	path, parquet, err := latestDataFile(base, name)
	switch {
	case err != nil:
		report.fail("%s: %v", name, err)
		return
	case parquet:
		report.warn("%s only has parquet files, skipping field check", name)
		return
	case path == "":
		report.fail("no data files for %s", name)
		return
	}

	rec, err := telemetry.ReadFirstRecord(path)
	if err != nil {
		report.fail("%s: %v", name, err)
		return
	}
	var missing []string
	for _, field := range required {
		if _, ok := rec[field]; !ok {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		report.fail("%s missing required fields: %s", name, strings.Join(missing, ", "))
	}

	if ts, ok := rec["timestamp"]; ok {
		checkTimestamp(report, name, ts)
	}
}

func checkTimestamp(report *Report, name string, v any) {
	ts, ok := v.(string)
	if !ok {
		report.warn("%s timestamp is not a string: %v", name, v)
		return
	}
	if !strings.HasSuffix(ts, "Z") {
		report.warn("%s timestamp missing 'Z' suffix: %s", name, ts)
		return
	}
	if _, err := time.Parse(time.RFC3339Nano, ts); err != nil {
		report.warn("%s timestamp format issue: %v", name, err)
	}
}

func checkJoinKeys(report *Report, dir string) {
	if _, err := os.Stat(dir); err != nil {
		report.warn("no %s directory found, skipping join key check", dir)
		return
	}
	paths, err := filepath.Glob(filepath.Join(dir, "*_articles.json"))
	if err != nil || len(paths) == 0 {
		report.warn("no article JSON files found, skipping session_id check")
		return
	}
	sort.Strings(paths)
	latest := paths[len(paths)-1]
	data, err := os.ReadFile(latest)
	if err != nil {
		report.fail("read %s: %v", latest, err)
		return
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		report.fail("decode %s: %v", latest, err)
		return
	}
	if _, ok := doc["session_id"]; !ok {
		report.fail("%s missing 'session_id' field for joins", filepath.Base(latest))
	}
}

// ErrFailed is returned by Err for a report with errors.
var ErrFailed = errors.New("health check failed")

func (r Report) Err() error {
	if r.OK {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrFailed, strings.Join(r.Errors, "; "))
}
