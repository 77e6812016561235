// Package telemetry buffers schema-checked research records per artifact type
// and writes them as NDJSON batches, closing each session with a manifest of
// row counts and file digests.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/metric"

	"research_telemetry/internal/schema"
)

const (
	DefaultBaseDir   = "./data/research"
	DefaultVersion   = "1.0"
	DefaultBatchSize = 50

	manifestDir = "manifests"
	stampLayout = "2006-01-02T15-04-05Z"
)

// ErrClosed is returned by Log, Flush and Close once the logger is closed.
var ErrClosed = errors.New("telemetry: logger closed")

// Validation selects what Log does with a record that fails its schema.
type Validation string

const (
	ValidationOff    Validation = "off"
	ValidationWarn   Validation = "warn"
	ValidationStrict Validation = "strict"
)

func ParseValidation(s string) (Validation, error) {
	switch v := Validation(strings.ToLower(strings.TrimSpace(s))); v {
	case "":
		return ValidationWarn, nil
	case ValidationOff, ValidationWarn, ValidationStrict:
		return v, nil
	}
	return "", fmt.Errorf("telemetry: unknown validation mode %q", s)
}

// ValidationError carries the schema errors of a record rejected in strict mode.
type ValidationError struct {
	ArtifactType string
	Errors       []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("telemetry: invalid %s record: %s", e.ArtifactType, strings.Join(e.Errors, "; "))
}

// FlushError reports a batch that could not be written. The batch stays
// buffered, so when Log returns a FlushError its record was accepted and must
// not be logged again.
type FlushError struct {
	ArtifactType string
	Err          error
}

func (e *FlushError) Error() string { return fmt.Sprintf("flush %s: %v", e.ArtifactType, e.Err) }
func (e *FlushError) Unwrap() error { return e.Err }

// checkName rejects anything that is not a single path element, since
// artifact types and session ids become directory and file names.
func checkName(kind, name string) error {
	if name == "" {
		return fmt.Errorf("telemetry: empty %s", kind)
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return fmt.Errorf("telemetry: invalid %s %q", kind, name)
	}
	return nil
}

type Options struct {
	BaseDir    string
	Version    string
	BatchSize  int
	SessionID  string
	Validation Validation
	Format     Format
	Registry   *schema.Registry
	Logger     *zerolog.Logger
	// Meter defaults to the global otel meter provider.
	Meter metric.Meter
	Now   func() time.Time
}

// typeState holds encoded NDJSON lines waiting for the next flush.
type typeState struct {
	buffer  bytes.Buffer
	pending int
	path    string
	rows    int
	invalid int
	written int
}

// Logger is a single-session writer. It is safe for concurrent use but does
// no background work; records reach disk only on a full batch, Flush or Close.
type Logger struct {
	mu        sync.Mutex
	opts      Options
	log       zerolog.Logger
	metrics   *instruments
	sessionID string
	created   time.Time
	stamp     string
	order     []string
	types     map[string]*typeState
	closed    bool
}

func New(opts Options) (*Logger, error) {
	if opts.BaseDir == "" {
		opts.BaseDir = DefaultBaseDir
	}
	if opts.Version == "" {
		opts.Version = DefaultVersion
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.SessionID == "" {
		opts.SessionID = "session-" + uuid.NewString()
	}
	if err := checkName("session id", opts.SessionID); err != nil {
		return nil, err
	}
	if opts.Validation == "" {
		opts.Validation = ValidationWarn
	}
	if opts.Format == "" {
		opts.Format = FormatNDJSON
	}
	if _, err := opts.Format.Extension(); err != nil {
		return nil, err
	}
	if opts.Registry == nil {
		opts.Registry = schema.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	if err := os.MkdirAll(filepath.Join(opts.BaseDir, manifestDir), 0o755); err != nil {
		return nil, err
	}
	metrics, err := newInstruments(opts.Meter)
	if err != nil {
		return nil, err
	}

	created := opts.Now().UTC()
	l := &Logger{
		opts:      opts,
		log:       logger.With().Str("session_id", opts.SessionID).Logger(),
		metrics:   metrics,
		sessionID: opts.SessionID,
		created:   created,
		stamp:     created.Format(stampLayout),
		types:     map[string]*typeState{},
	}
	l.log.Debug().Str("base_dir", opts.BaseDir).Str("format", string(opts.Format)).Msg("telemetry session opened")
	return l, nil
}

func (l *Logger) SessionID() string { return l.sessionID }

func (l *Logger) BaseDir() string { return l.opts.BaseDir }

// Log encodes record and buffers it under artifactType. The record is
// serialized here, so later changes by the caller, nested values included,
// do not reach disk. A record that cannot be encoded as JSON is rejected
// without touching the buffer. A *FlushError means the record was buffered
// but the batch it completed could not be written yet.
func (l *Logger) Log(artifactType string, record map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if err := checkName("artifact type", artifactType); err != nil {
		return err
	}
	if artifactType == manifestDir {
		return fmt.Errorf("telemetry: artifact type %q is reserved", artifactType)
	}

	ctx := context.Background()
	invalid := false
	if l.opts.Validation != ValidationOff {
		if ok, errs := l.opts.Registry.Validate(artifactType, record); !ok {
			if l.opts.Validation == ValidationStrict {
				l.metrics.invalid(ctx, artifactType)
				return &ValidationError{ArtifactType: artifactType, Errors: errs}
			}
			invalid = true
			l.log.Warn().Str("artifact_type", artifactType).Strs("errors", errs).Msg("record failed schema validation")
		}
	}

	line, err := encodeLine(record)
	if err != nil {
		return fmt.Errorf("telemetry: encode %s record: %w", artifactType, err)
	}

	st := l.state(artifactType)
	st.buffer.Write(line)
	st.pending++
	st.rows++
	l.metrics.record(ctx, artifactType)
	if invalid {
		st.invalid++
		l.metrics.invalid(ctx, artifactType)
	}

	if st.pending >= l.opts.BatchSize {
		if err := l.flushType(artifactType, st); err != nil {
			return err
		}
	}
	return nil
}

// Flush writes every non-empty buffer.
func (l *Logger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	return l.flushAll()
}

// Close flushes all buffers and writes the session manifest. The logger is
// closed even when that fails.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	l.closed = true

	if err := l.flushAll(); err != nil {
		return err
	}
	path, err := l.writeManifest()
	if err != nil {
		return err
	}
	l.log.Info().Str("manifest", path).Int("artifact_types", len(l.order)).Msg("telemetry session closed")
	return nil
}

func (l *Logger) state(artifactType string) *typeState {
	st, ok := l.types[artifactType]
	if !ok {
		st = &typeState{}
		l.types[artifactType] = st
		l.order = append(l.order, artifactType)
	}
	return st
}

func (l *Logger) flushAll() error {
	var errs []error
	for _, name := range l.order {
		st := l.types[name]
		if st.pending == 0 {
			continue
		}
		if err := l.flushType(name, st); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// encodeLine returns record as one NDJSON line.
func encodeLine(record map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(record); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// flushType appends the buffered batch to the type's data file. On error the
// batch is kept so a later flush can retry it.
func (l *Logger) flushType(artifactType string, st *typeState) error {
	if st.path == "" {
		ext, err := l.opts.Format.Extension()
		if err != nil {
			return &FlushError{ArtifactType: artifactType, Err: err}
		}
		dir := filepath.Join(l.opts.BaseDir, artifactType)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &FlushError{ArtifactType: artifactType, Err: err}
		}
		st.path = filepath.Join(dir, l.stamp+"_"+l.sessionID+ext)
	}

	n, err := appendBatch(st.path, l.opts.Format, st.buffer.Bytes())
	if err != nil {
		return &FlushError{ArtifactType: artifactType, Err: err}
	}

	l.metrics.flushed(context.Background(), artifactType, n)
	l.log.Debug().Str("artifact_type", artifactType).Int("rows", st.pending).Str("path", st.path).Msg("batch flushed")
	st.written += st.pending
	st.pending = 0
	st.buffer.Reset()
	return nil
}
