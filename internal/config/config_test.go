package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"research_telemetry/internal/telemetry"
)

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()

	cfg, err := LoadFile("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BaseDir != "./data/research" {
		t.Errorf("BaseDir = %q, want ./data/research", cfg.BaseDir)
	}
	if cfg.Version != "1.0" {
		t.Errorf("Version = %q, want 1.0", cfg.Version)
	}
	if cfg.BatchSize != 50 {
		t.Errorf("BatchSize = %d, want 50", cfg.BatchSize)
	}
	if cfg.Validation != "warn" || cfg.Format != "ndjson" {
		t.Errorf("Validation/Format = %q/%q", cfg.Validation, cfg.Format)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "console" {
		t.Errorf("LogLevel/LogFormat = %q/%q", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.OutputDir != "./content/briefs" {
		t.Errorf("OutputDir = %q", cfg.OutputDir)
	}
	if cfg.LeakThreshold != 1024 || cfg.KAnonymity != 5 || cfg.DPEpsilon != 0.7 {
		t.Errorf("privacy defaults %d %d %v", cfg.LeakThreshold, cfg.KAnonymity, cfg.DPEpsilon)
	}
	if cfg.Pepper != "" || cfg.Salt != "" {
		t.Error("secrets should default to empty")
	}
	if cfg.Recipients() != nil {
		t.Errorf("Recipients = %v, want nil", cfg.Recipients())
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	os.Clearenv()
	t.Setenv("TELEMETRY_BASE_DIR", "/tmp/research")
	t.Setenv("TELEMETRY_BATCH_SIZE", "10")
	t.Setenv("TELEMETRY_VALIDATION", "strict")
	t.Setenv("TELEMETRY_FORMAT", "zstd")
	t.Setenv("TELEMETRY_DP_EPSILON", "1.5")
	t.Setenv("RKL_PRIVACY_PEPPER", "pepper")
	t.Setenv("TELEMETRY_EXPORT_RECIPIENTS", " age1a , ,age1b")

	cfg, err := LoadFile("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BaseDir != "/tmp/research" || cfg.BatchSize != 10 {
		t.Errorf("BaseDir/BatchSize = %q/%d", cfg.BaseDir, cfg.BatchSize)
	}
	if cfg.DPEpsilon != 1.5 {
		t.Errorf("DPEpsilon = %v", cfg.DPEpsilon)
	}
	if cfg.Pepper != "pepper" {
		t.Errorf("Pepper = %q", cfg.Pepper)
	}
	if got := cfg.Recipients(); !reflect.DeepEqual(got, []string{"age1a", "age1b"}) {
		t.Errorf("Recipients = %v", got)
	}

	opts, err := cfg.LoggerOptions()
	if err != nil {
		t.Fatalf("LoggerOptions: %v", err)
	}
	if opts.Validation != telemetry.ValidationStrict || opts.Format != telemetry.FormatZstd || opts.BatchSize != 10 {
		t.Errorf("LoggerOptions = %+v", opts)
	}
}

func TestLoad_WithEnvFile(t *testing.T) {
	os.Clearenv()
	path := filepath.Join(t.TempDir(), ".env")
	content := "TELEMETRY_BASE_DIR=/srv/telemetry\nTELEMETRY_K_ANON=7\nRKL_PSEUDO_SALT=from-file\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TELEMETRY_K_ANON", "9")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BaseDir != "/srv/telemetry" {
		t.Errorf("BaseDir = %q, want value from file", cfg.BaseDir)
	}
	if cfg.Salt != "from-file" {
		t.Errorf("Salt = %q", cfg.Salt)
	}
	if cfg.KAnonymity != 9 {
		t.Errorf("KAnonymity = %d, env should override file", cfg.KAnonymity)
	}
}

func TestLoad_KAnonymityFloor(t *testing.T) {
	os.Clearenv()
	t.Setenv("TELEMETRY_K_ANON", "1")
	cfg, err := LoadFile("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.KAnonymity != 2 {
		t.Errorf("KAnonymity = %d, want 2", cfg.KAnonymity)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"TELEMETRY_BATCH_SIZE":     "0",
		"TELEMETRY_VALIDATION":     "loud",
		"TELEMETRY_FORMAT":         "parquet",
		"TELEMETRY_LOG_FORMAT":     "xml",
		"TELEMETRY_LEAK_THRESHOLD": "-1",
		"TELEMETRY_DP_EPSILON":     "0",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			os.Clearenv()
			t.Setenv(key, val)
			if _, err := LoadFile(""); err == nil {
				t.Errorf("%s=%s should be rejected", key, val)
			}
		})
	}
}
