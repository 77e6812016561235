package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"research_telemetry/internal/hashing"
)

// Manifest summarizes one closed session.
type Manifest struct {
	SessionID     string                      `json:"session_id"`
	LoggerVersion string                      `json:"logger_version"`
	CreatedAt     time.Time                   `json:"created_at"`
	ClosedAt      time.Time                   `json:"closed_at"`
	Artifacts     map[string]ArtifactManifest `json:"artifacts"`
	MerkleRoot    string                      `json:"merkle_root,omitempty"`
}

type ArtifactManifest struct {
	Rows        int            `json:"rows"`
	InvalidRows int            `json:"invalid_rows"`
	Files       []FileManifest `json:"files"`
}

// FileManifest names a data file relative to the base directory.
type FileManifest struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
	Rows   int    `json:"rows"`
}

// Digests lists every file digest, ordered by artifact type then file.
func (m *Manifest) Digests() []string {
	types := make([]string, 0, len(m.Artifacts))
	for name := range m.Artifacts {
		types = append(types, name)
	}
	sort.Strings(types)
	var out []string
	for _, name := range types {
		for _, f := range m.Artifacts[name].Files {
			out = append(out, f.SHA256)
		}
	}
	return out
}

func (l *Logger) writeManifest() (string, error) {
	m := Manifest{
		SessionID:     l.sessionID,
		LoggerVersion: l.opts.Version,
		CreatedAt:     l.created,
		ClosedAt:      l.opts.Now().UTC(),
		Artifacts:     map[string]ArtifactManifest{},
	}
	for _, name := range l.order {
		st := l.types[name]
		if st.rows == 0 || st.path == "" {
			continue
		}
		digest, err := hashing.File(st.path)
		if err != nil {
			return "", fmt.Errorf("manifest: digest %s: %w", name, err)
		}
		rel, err := filepath.Rel(l.opts.BaseDir, st.path)
		if err != nil {
			rel = st.path
		}
		m.Artifacts[name] = ArtifactManifest{
			Rows:        st.rows,
			InvalidRows: st.invalid,
			Files:       []FileManifest{{Path: filepath.ToSlash(rel), SHA256: digest, Rows: st.written}},
		}
	}
	m.MerkleRoot = MerkleRoot(m.Digests())

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(l.opts.BaseDir, manifestDir, l.stamp+"_"+l.sessionID+".json")
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("manifest: %w", err)
	}
	return path, nil
}

func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", path, err)
	}
	if m.Artifacts == nil {
		m.Artifacts = map[string]ArtifactManifest{}
	}
	return &m, nil
}

// LatestManifest returns the most recently closed manifest under base and its
// path. Sessions closed at the same instant fall back to name order.
func LatestManifest(base string) (*Manifest, string, error) {
	paths, err := filepath.Glob(filepath.Join(base, manifestDir, "*.json"))
	if err != nil {
		return nil, "", err
	}
	if len(paths) == 0 {
		return nil, "", fmt.Errorf("no manifest files found in %s: %w", filepath.Join(base, manifestDir), os.ErrNotExist)
	}
	sort.Strings(paths)
	var (
		latest     *Manifest
		latestPath string
	)
	for _, path := range paths {
		m, err := ReadManifest(path)
		if err != nil {
			return nil, "", err
		}
		if latest == nil || !m.ClosedAt.Before(latest.ClosedAt) {
			latest, latestPath = m, path
		}
	}
	return latest, latestPath, nil
}
