package export

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"filippo.io/age"
	"github.com/rs/zerolog"

	"research_telemetry/internal/hashing"
	"research_telemetry/internal/privacy"
	"research_telemetry/internal/schema"
	"research_telemetry/internal/telemetry"
)

const testSession = "brief-2025-11-11-001"

var nop = zerolog.Nop()

func writeSession(t *testing.T, extra map[string]any) string {
	t.Helper()
	base := t.TempDir()
	l, err := telemetry.New(telemetry.Options{
		BaseDir:   base,
		SessionID: testSession,
		Logger:    &nop,
		Now:       func() time.Time { return time.Date(2025, 11, 11, 9, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx := schema.ExampleRecord(schema.ExecutionContext)
	ctx["prompt_text"] = "summarize this article"
	ctx["email"] = "researcher@example.org"
	for k, v := range extra {
		ctx[k] = v
	}
	if err := l.Log(schema.ExecutionContext, ctx); err != nil {
		t.Fatal(err)
	}
	for _, rule := range []string{"r1", "r1", "r1", "r2"} {
		ev := schema.ExampleRecord(schema.BoundaryEvent)
		ev["rule_id"] = rule
		if err := l.Log(schema.BoundaryEvent, ev); err != nil {
			t.Fatal(err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	return base
}

func readLines(t *testing.T, r io.Reader) []map[string]any {
	t.Helper()
	var out []map[string]any
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		var rec map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatal(err)
		}
		out = append(out, rec)
	}
	return out
}

func readFile(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	return readLines(t, f)
}

func TestResearchExport(t *testing.T) {
	base := writeSession(t, nil)
	out := t.TempDir()
	res, err := Run(context.Background(), Options{
		BaseDir: base,
		OutDir:  out,
		Level:   privacy.Research,
		Privacy: privacy.Options{UseHMAC: true, Pepper: "pepper"},
		Logger:  &nop,
	})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(res.Manifest.Files) != 2 {
		t.Fatalf("files %+v", res.Manifest.Files)
	}

	recs := readFile(t, filepath.Join(out, "research", schema.ExecutionContext, testSession+".ndjson"))
	if len(recs) != 1 {
		t.Fatalf("rows %d", len(recs))
	}
	rec := recs[0]
	if _, ok := rec["prompt_text"]; ok {
		t.Fatalf("prompt_text exported in clear")
	}
	if rec["prompt_text_hash"] != hashing.HMACText("summarize this article", "pepper") {
		t.Fatalf("prompt hash %v", rec["prompt_text_hash"])
	}
	if _, ok := rec["email"]; ok {
		t.Fatalf("PII should be stripped")
	}
	if _, ok := rec["email_hash"]; ok {
		t.Fatalf("PII should be stripped, not hashed")
	}
	if rec["session_id"] != testSession {
		t.Fatalf("research tier keeps session ids")
	}

	for _, f := range res.Manifest.Files {
		got, err := hashing.File(filepath.Join(res.Dir, filepath.FromSlash(f.Path)))
		if err != nil || got != f.SHA256 {
			t.Fatalf("%s digest %s %v", f.Path, got, err)
		}
	}
	if _, err := os.Stat(filepath.Join(out, "research", manifestName)); err != nil {
		t.Fatalf("export manifest: %v", err)
	}
}

func TestPublicExport(t *testing.T) {
	base := writeSession(t, nil)
	out := t.TempDir()
	res, err := Run(context.Background(), Options{
		BaseDir:         base,
		OutDir:          out,
		Level:           privacy.Public,
		Privacy:         privacy.Options{Salt: "salt"},
		AggregateFields: []string{"boundary_event:rule_id"},
		K:               2,
		Epsilon:         1,
		Seed:            7,
		Logger:          &nop,
	})
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	pseudo := hashing.PseudonymizeID(testSession, "salt")
	if res.Manifest.SessionID != pseudo {
		t.Fatalf("public manifest must not carry the raw session id")
	}
	recs := readFile(t, filepath.Join(out, "public", schema.ExecutionContext, pseudo+".ndjson"))
	rec := recs[0]
	if rec["session_id"] != pseudo {
		t.Fatalf("session id %v", rec["session_id"])
	}
	for key := range rec {
		if key == privacy.LevelKey || key == privacy.AnonymizedKey {
			continue
		}
		stat := strings.HasSuffix(key, "_count") || strings.HasSuffix(key, "_ms") || strings.HasSuffix(key, "_tokens")
		if _, isString := rec[key].(string); isString && !privacy.IsPublic(key) && !stat {
			t.Errorf("non allow-listed string field %s exported", key)
		}
	}
	if _, ok := rec["prompt_text"]; ok {
		t.Fatalf("prompt_text exported")
	}

	if len(res.Aggregates) != 1 {
		t.Fatalf("aggregates %+v", res.Aggregates)
	}
	agg := res.Aggregates[0]
	if agg.TotalSeen != 4 || agg.RedactedCount != 1 || len(agg.Items) != 1 || agg.Items[0].Key != "r1" {
		t.Fatalf("aggregate %+v", agg)
	}
	data, err := os.ReadFile(filepath.Join(out, "public", aggregatesName))
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(data, []byte("r2")) {
		t.Fatalf("suppressed group published: %s", data)
	}
}

func TestLeakStopsExport(t *testing.T) {
	base := writeSession(t, map[string]any{"notes": strings.Repeat("raw ", 500)})
	out := filepath.Join(t.TempDir(), "out")
	_, err := Run(context.Background(), Options{BaseDir: base, OutDir: out, Level: privacy.Research, Logger: &nop})
	var leak *privacy.LeakError
	if !errors.As(err, &leak) {
		t.Fatalf("expected leak error, got %v", err)
	}
	if leak.Field != "notes" || leak.Length != 2000 {
		t.Fatalf("leak %+v", leak)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatalf("nothing should be written on a leak: %v", err)
	}
}

func TestInternalEncrypted(t *testing.T) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatal(err)
	}
	base := writeSession(t, nil)
	out := t.TempDir()
	res, err := Run(context.Background(), Options{
		BaseDir:    base,
		OutDir:     out,
		Level:      privacy.Internal,
		Recipients: []string{identity.Recipient().String()},
		Logger:     &nop,
	})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	var sealed string
	for _, f := range res.Manifest.Files {
		if !f.Encrypted || !strings.HasSuffix(f.Path, ".ndjson.age") {
			t.Fatalf("file not encrypted: %+v", f)
		}
		if f.ArtifactType == schema.BoundaryEvent {
			sealed = filepath.Join(res.Dir, filepath.FromSlash(f.Path))
		}
	}
	f, err := os.Open(sealed)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	r, err := age.Decrypt(f, identity)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	recs := readLines(t, r)
	if len(recs) != 4 {
		t.Fatalf("decrypted %d records", len(recs))
	}
	if recs[0]["event_id"] == nil {
		t.Fatalf("internal tier should be unchanged: %v", recs[0])
	}
}

func TestBadOptions(t *testing.T) {
	base := writeSession(t, nil)
	cases := []Options{
		{BaseDir: base, Level: "secret"},
		{BaseDir: base, Level: privacy.Public, AggregateFields: []string{"rule_id"}},
		{BaseDir: base, Level: privacy.Internal, Recipients: []string{"not-a-key"}},
		{BaseDir: t.TempDir(), Level: privacy.Research},
	}
	for i, opts := range cases {
		opts.OutDir = t.TempDir()
		opts.Logger = &nop
		if _, err := Run(context.Background(), opts); err == nil {
			t.Errorf("case %d: expected error", i)
		}
	}
}

func TestCanceled(t *testing.T) {
	base := writeSession(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, Options{BaseDir: base, OutDir: t.TempDir(), Logger: &nop})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
