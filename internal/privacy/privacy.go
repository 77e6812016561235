// Package privacy rewrites telemetry records for release at a given trust
// level. Every function returns a new record; inputs are never modified.
package privacy

import (
	"encoding/json"
	"fmt"
	"strings"

	"research_telemetry/internal/hashing"
)

// Level is the exposure tier a record is prepared for.
type Level string

const (
	Internal Level = "internal"
	Research Level = "research"
	Public   Level = "public"
)

func ParseLevel(s string) (Level, error) {
	switch l := Level(strings.ToLower(strings.TrimSpace(s))); l {
	case Internal, Research, Public:
		return l, nil
	}
	return "", fmt.Errorf("privacy: unknown level %q", s)
}

// Record is a field to value mapping as produced by a telemetry caller.
type Record = map[string]any

type set map[string]struct{}

func newSet(items ...string) set {
	s := make(set, len(items))
	for _, item := range items {
		s[item] = struct{}{}
	}
	return s
}

func (s set) has(k string) bool {
	_, ok := s[k]
	return ok
}

// SensitiveFields are hashed by SanitizeForResearch.
var SensitiveFields = newSet(
	"prompt_text", "input_text", "output_text", "raw_content",
	"user_id", "email", "api_key", "token", "password",
)

// PublicFields is the allow-list kept by AnonymizeForPublic.
var PublicFields = newSet(
	// ids and tracing
	"session_id", "turn_id", "agent_id", "publish_id", "edge_id", "event_id",
	// model configuration
	"model_id", "model_rev", "quant", "temp", "top_p",
	// metrics
	"ctx_tokens_used", "gen_tokens", "tool_lat_ms", "cache_hit", "latency_ms", "retry_count",
	// metadata
	"timestamp", "t", "pipeline_phase", "type3_compliant", "rkl_version",
	// boundary and graph structure
	"rule_id", "trigger_tag", "context_tag", "action",
	"from_agent", "to_agent", "msg_type", "intent_tag",
	// hashed cross references
	"prompt_id_hash", "system_prompt_hash", "content_hash", "doc_hash", "url_hash", "parent_edge_id",
	// arrays of hashes and ids
	"verification_hashes", "artifact_ids", "contributing_agent_ids",
	// governance
	"schema_version", "raw_data_exposed", "derived_insights_only", "human_signoff_id", "release_commit_sha",
)

// PIIFields are dropped by StripPII.
var PIIFields = newSet(
	"user_id", "email", "name", "phone", "address", "ip_address", "user_agent", "cookie",
)

// DefaultIDFields are pseudonymized when PseudonymizeIDs is given no fields.
var DefaultIDFields = []string{"session_id", "agent_id", "publish_id", "user_id"}

// IsSensitive, IsPublic and IsPII expose the fixed field sets.
func IsSensitive(field string) bool { return SensitiveFields.has(field) }
func IsPublic(field string) bool    { return PublicFields.has(field) }
func IsPII(field string) bool       { return PIIFields.has(field) }

const (
	LevelKey      = "_privacy_level"
	SanitizedKey  = "_sanitized"
	AnonymizedKey = "_anonymized"
)

// Options carries the secrets the transforms need. Empty secrets fall back
// to the environment, see hashing.HMACText and hashing.PseudonymizeID.
type Options struct {
	UseHMAC bool
	Pepper  string
	Salt    string
	// IDFields overrides DefaultIDFields for the public tier.
	IDFields []string
	// StripPII drops PII fields before the research tier hashes the rest.
	StripPII bool
}

// DefaultOptions hashes with HMAC.
func DefaultOptions() Options {
	return Options{UseHMAC: true}
}

// SanitizeForResearch replaces each sensitive field f with f_hash and keeps
// every other field.
func SanitizeForResearch(rec Record, opts Options) Record {
	out := make(Record, len(rec)+2)
	for key, value := range rec {
		if !SensitiveFields.has(key) {
			out[key] = value
			continue
		}
		if opts.UseHMAC {
			out[key+"_hash"] = hashing.HMACText(value, opts.Pepper)
		} else {
			out[key+"_hash"] = hashing.Text(value)
		}
	}
	out[LevelKey] = string(Research)
	out[SanitizedKey] = true
	return out
}

var statSuffixes = []string{"_count", "_ms", "_tokens"}

// AnonymizeForPublic keeps allow-listed fields, statistical fields and scalar
// numbers and booleans. Everything else is dropped.
func AnonymizeForPublic(rec Record) Record {
	out := make(Record, len(rec)+2)
	for key, value := range rec {
		if PublicFields.has(key) || hasStatSuffix(key) || isScalarNumberOrBool(value) {
			out[key] = value
		}
	}
	out[LevelKey] = string(Public)
	out[AnonymizedKey] = true
	return out
}

func hasStatSuffix(key string) bool {
	for _, suffix := range statSuffixes {
		if strings.HasSuffix(key, suffix) {
			return true
		}
	}
	return false
}

func isScalarNumberOrBool(v any) bool {
	switch v.(type) {
	case bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	}
	_, ok := v.(json.Number)
	return ok
}

// StripPII drops PII-named fields.
func StripPII(rec Record) Record {
	out := make(Record, len(rec))
	for key, value := range rec {
		if !PIIFields.has(key) {
			out[key] = value
		}
	}
	return out
}

// PseudonymizeIDs replaces the string value of each named field with a salted
// pseudonym. Nil or empty fields means DefaultIDFields.
func PseudonymizeIDs(rec Record, fields []string, salt string) Record {
	if len(fields) == 0 {
		fields = DefaultIDFields
	}
	out := make(Record, len(rec))
	for key, value := range rec {
		out[key] = value
	}
	for _, field := range fields {
		if s, ok := out[field].(string); ok {
			out[field] = hashing.PseudonymizeID(s, salt)
		}
	}
	return out
}

// Apply prepares rec for level. The internal tier is a plain copy.
func Apply(level Level, rec Record, opts Options) (Record, error) {
	switch level {
	case Internal:
		out := make(Record, len(rec))
		for k, v := range rec {
			out[k] = v
		}
		return out, nil
	case Research:
		if opts.StripPII {
			rec = StripPII(rec)
		}
		return SanitizeForResearch(rec, opts), nil
	case Public:
		return PseudonymizeIDs(AnonymizeForPublic(rec), opts.IDFields, opts.Salt), nil
	}
	return nil, fmt.Errorf("privacy: unknown level %q", level)
}
