// Package export releases a logged session at a privacy tier. Records are
// transformed and leak-checked in memory first; nothing is written unless
// every record passes.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"filippo.io/age"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"research_telemetry/internal/hashing"
	"research_telemetry/internal/privacy"
	"research_telemetry/internal/telemetry"
)

const (
	DefaultOutDir = "./data/export"
	DefaultK      = 5
	DefaultEps    = 0.7

	manifestName   = "manifest.json"
	aggregatesName = "aggregates.json"
)

type Options struct {
	BaseDir string
	OutDir  string
	Level   privacy.Level
	// Manifest is the session manifest to export. Empty means the latest
	// under BaseDir.
	Manifest string
	Privacy  privacy.Options
	// Threshold is the raw text limit for ValidateNoRawText.
	Threshold int
	// Recipients are age X25519 public keys. When set, internal tier files
	// are encrypted to them.
	Recipients []string
	// AggregateFields are "artifact_type:field" pairs counted into the public
	// tier's aggregates file.
	AggregateFields []string
	K               int
	Epsilon         float64
	Seed            int64
	Logger          *zerolog.Logger
	Now             func() time.Time
}

type File struct {
	ArtifactType string `json:"artifact_type"`
	Path         string `json:"path"`
	SHA256       string `json:"sha256"`
	Rows         int    `json:"rows"`
	Encrypted    bool   `json:"encrypted,omitempty"`
}

// Manifest describes one export directory.
type Manifest struct {
	SessionID      string    `json:"session_id"`
	Level          string    `json:"privacy_level"`
	SourceManifest string    `json:"source_manifest"`
	CreatedAt      time.Time `json:"created_at"`
	Files          []File    `json:"files"`
	MerkleRoot     string    `json:"merkle_root,omitempty"`
}

type Result struct {
	Dir        string                 `json:"dir"`
	Manifest   Manifest               `json:"manifest"`
	Aggregates []privacy.CountSummary `json:"aggregates,omitempty"`
}

type aggregateKey struct {
	artifactType string
	field        string
}

func parseAggregates(fields []string) ([]aggregateKey, error) {
	out := make([]aggregateKey, 0, len(fields))
	for _, f := range fields {
		typ, field, ok := strings.Cut(strings.TrimSpace(f), ":")
		if !ok || typ == "" || field == "" {
			return nil, fmt.Errorf("export: aggregate %q must be artifact_type:field", f)
		}
		out = append(out, aggregateKey{artifactType: typ, field: field})
	}
	return out, nil
}

func parseRecipients(keys []string) ([]age.Recipient, error) {
	out := make([]age.Recipient, 0, len(keys))
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		r, err := age.ParseX25519Recipient(key)
		if err != nil {
			return nil, fmt.Errorf("export: parsing recipient key %q: %w", key, err)
		}
		out = append(out, r)
	}
	return out, nil
}

type pending struct {
	artifactType string
	lines        bytes.Buffer
	rows         int
}

// Run exports one session. A leak in any record aborts the run with the
// *privacy.LeakError before any file is written.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.BaseDir == "" {
		opts.BaseDir = telemetry.DefaultBaseDir
	}
	if opts.OutDir == "" {
		opts.OutDir = DefaultOutDir
	}
	if opts.Level == "" {
		opts.Level = privacy.Research
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	if _, err := privacy.ParseLevel(string(opts.Level)); err != nil {
		return nil, err
	}
	aggs, err := parseAggregates(opts.AggregateFields)
	if err != nil {
		return nil, err
	}
	var recipients []age.Recipient
	if opts.Level == privacy.Internal {
		if recipients, err = parseRecipients(opts.Recipients); err != nil {
			return nil, err
		}
	}
	popts := opts.Privacy
	if opts.Level == privacy.Research {
		popts.StripPII = true
	}

	var (
		m          *telemetry.Manifest
		sourcePath = opts.Manifest
	)
	if sourcePath == "" {
		m, sourcePath, err = telemetry.LatestManifest(opts.BaseDir)
	} else {
		m, err = telemetry.ReadManifest(sourcePath)
	}
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}

	types := make([]string, 0, len(m.Artifacts))
	for name := range m.Artifacts {
		types = append(types, name)
	}
	sort.Strings(types)

	released := map[string][]privacy.Record{}
	var batches []*pending
	for _, name := range types {
		p := &pending{artifactType: name}
		enc := json.NewEncoder(&p.lines)
		enc.SetEscapeHTML(false)

		keep := false
		for _, a := range aggs {
			keep = keep || a.artifactType == name
		}

		for _, f := range m.Artifacts[name].Files {
			path := filepath.Join(opts.BaseDir, filepath.FromSlash(f.Path))
			err := telemetry.ScanRecords(path, func(rec map[string]any) error {
				if err := ctx.Err(); err != nil {
					return err
				}
				out, err := privacy.Apply(opts.Level, rec, popts)
				if err != nil {
					return err
				}
				if opts.Level != privacy.Internal {
					if err := privacy.ValidateNoRawText(out, opts.Threshold); err != nil {
						return fmt.Errorf("%s row %d: %w", name, p.rows+1, err)
					}
				}
				if keep {
					released[name] = append(released[name], out)
				}
				p.rows++
				return enc.Encode(out)
			})
			if err != nil {
				return nil, fmt.Errorf("export %s: %w", f.Path, err)
			}
		}
		batches = append(batches, p)
	}

	session := m.SessionID
	if opts.Level == privacy.Public {
		session = hashing.PseudonymizeID(session, popts.Salt)
	}
	dir := filepath.Join(opts.OutDir, string(opts.Level))
	result := &Result{
		Dir: dir,
		Manifest: Manifest{
			SessionID:      session,
			Level:          string(opts.Level),
			SourceManifest: sourcePath,
			CreatedAt:      opts.Now().UTC(),
			Files:          []File{},
		},
	}

	var digests []string
	for _, p := range batches {
		file, err := writeBatch(dir, session, p, recipients)
		if err != nil {
			return nil, err
		}
		result.Manifest.Files = append(result.Manifest.Files, file)
		digests = append(digests, file.SHA256)
		logger.Info().Str("artifact_type", p.artifactType).Int("rows", p.rows).Str("level", string(opts.Level)).Msg("exported")
	}
	result.Manifest.MerkleRoot = telemetry.MerkleRoot(digests)

	if opts.Level == privacy.Public && len(aggs) > 0 {
		k := opts.K
		if k <= 0 {
			k = DefaultK
		}
		eps := opts.Epsilon
		if eps <= 0 {
			eps = DefaultEps
		}
		for _, a := range aggs {
			counts := privacy.CountBy(released[a.artifactType], a.field)
			summary := privacy.SummarizeCounts(a.artifactType+":"+a.field, counts, k, eps, opts.Seed)
			result.Aggregates = append(result.Aggregates, summary)
		}
		if err := writeJSON(filepath.Join(dir, aggregatesName), result.Aggregates); err != nil {
			return nil, err
		}
	}

	if err := writeJSON(filepath.Join(dir, manifestName), result.Manifest); err != nil {
		return nil, err
	}
	return result, nil
}

func writeBatch(dir, session string, p *pending, recipients []age.Recipient) (File, error) {
	typeDir := filepath.Join(dir, p.artifactType)
	if err := os.MkdirAll(typeDir, 0o755); err != nil {
		return File{}, err
	}
	name := session + ".ndjson"
	data := p.lines.Bytes()
	if len(recipients) > 0 {
		var sealed bytes.Buffer
		w, err := age.Encrypt(&sealed, recipients...)
		if err != nil {
			return File{}, fmt.Errorf("creating age encryptor: %w", err)
		}
		if _, err := w.Write(data); err != nil {
			return File{}, fmt.Errorf("writing plaintext to age encryptor: %w", err)
		}
		if err := w.Close(); err != nil {
			return File{}, fmt.Errorf("finalizing age encryption: %w", err)
		}
		data = sealed.Bytes()
		name += ".age"
	}
	path := filepath.Join(typeDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return File{}, err
	}
	digest, err := hashing.File(path)
	if err != nil {
		return File{}, err
	}
	return File{
		ArtifactType: p.artifactType,
		Path:         filepath.ToSlash(filepath.Join(p.artifactType, name)),
		SHA256:       digest,
		Rows:         p.rows,
		Encrypted:    len(recipients) > 0,
	}, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
