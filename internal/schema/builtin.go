package schema

import "sync"

// Canonical artifact types logged by the pipeline.
const (
	ExecutionContext     = "execution_context"
	ReasoningGraphEdge   = "reasoning_graph_edge"
	BoundaryEvent        = "boundary_event"
	GovernanceLedger     = "governance_ledger"
	RetrievalProvenance  = "retrieval_provenance"
	SecureReasoningTrace = "secure_reasoning_trace"
	SystemState          = "system_state"
	FailureSnapshots     = "failure_snapshots"
	QualityTrajectories  = "quality_trajectories"
	HallucinationMatrix  = "hallucination_matrix"
	HumanInterventions   = "human_interventions"
)

// CoreTypes must all be present and non-empty in a healthy session.
var CoreTypes = []string{ExecutionContext, ReasoningGraphEdge, BoundaryEvent, GovernanceLedger}

// DefaultAliases keeps the older config names working.
var DefaultAliases = map[string]string{
	"agent_graph":     ReasoningGraphEdge,
	"boundary_events": BoundaryEvent,
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the registry of built-in schemas, built once.
func Default() *Registry {
	defaultOnce.Do(func() {
		r, err := NewRegistry(Builtin(), DefaultAliases)
		if err != nil {
			panic("schema: builtin registry: " + err.Error())
		}
		defaultRegistry = r
	})
	return defaultRegistry
}

// Builtin returns fresh copies of the built-in schema definitions.
func Builtin() []Schema {
	return []Schema{
		{
			Name:        ExecutionContext,
			Version:     "v1.0",
			Description: "Model execution context and hyperparameters for agent inferences",
			Required:    []string{"session_id", "turn_id", "agent_id", "model_id", "timestamp"},
			Optional: []string{
				"model_rev", "quant", "temp", "top_p", "seed", "ctx_tokens_used", "gen_tokens",
				"tool_lat_ms", "cache_hit", "prompt_id_hash", "rkl_version", "type3_compliant",
				"pipeline_phase", "care_metadata",
			},
			FieldTypes: map[string]Type{
				"session_id":      TString,
				"turn_id":         TInt,
				"agent_id":        TString,
				"model_id":        TString,
				"model_rev":       TString,
				"quant":           TString,
				"temp":            TFloat,
				"top_p":           TFloat,
				"seed":            TInt,
				"ctx_tokens_used": TInt,
				"gen_tokens":      TInt,
				"tool_lat_ms":     TInt,
				"cache_hit":       TBool,
				"prompt_id_hash":  TString,
				"timestamp":       TString,
				"rkl_version":     TString,
				"type3_compliant": TBool,
				"pipeline_phase":  TString,
				"care_metadata":   TMap,
			},
			Example: map[string]any{
				"session_id":      "brief-2025-11-11-001",
				"turn_id":         42,
				"agent_id":        "summarizer",
				"model_id":        "llama3.2:8b",
				"model_rev":       "8B-q4",
				"quant":           "q4",
				"temp":            0.3,
				"top_p":           0.95,
				"seed":            42,
				"ctx_tokens_used": 2048,
				"gen_tokens":      150,
				"tool_lat_ms":     1234,
				"cache_hit":       false,
				"prompt_id_hash":  "sha256:abc123...",
				"timestamp":       "2025-11-11T09:15:23Z",
				"rkl_version":     "1.0",
				"type3_compliant": true,
				"pipeline_phase":  "processing",
				"care_metadata": map[string]any{
					"collective_benefit":   true,
					"authority_to_control": "local",
					"responsibility":       "audit-2025-11-11-001",
					"ethics":               "consent_verified",
				},
			},
		},
		{
			Name:        ReasoningGraphEdge,
			Version:     "v1.0",
			Description: "Structural representation of agent-to-agent message passing",
			Required:    []string{"edge_id", "session_id", "timestamp", "from_agent", "to_agent", "msg_type", "content_hash"},
			Optional:    []string{"t", "intent_tag", "parent_edge_id", "role_tags", "latency_ms", "retry_count"},
			FieldTypes: map[string]Type{
				"edge_id":        TString,
				"session_id":     TString,
				"timestamp":      TString,
				"t":              TInt,
				"from_agent":     TString,
				"to_agent":       TString,
				"msg_type":       TString,
				"intent_tag":     TString,
				"content_hash":   TString,
				"parent_edge_id": TString,
				"role_tags":      TList,
				"latency_ms":     TInt,
				"retry_count":    TInt,
			},
			Example: map[string]any{
				"edge_id":        "edge-001",
				"session_id":     "brief-2025-11-11-001",
				"timestamp":      "2025-11-11T09:15:23Z",
				"from_agent":     "summarizer",
				"to_agent":       "qa_reviewer",
				"msg_type":       "summary_for_review",
				"intent_tag":     "quality_check",
				"content_hash":   "sha256:def456...",
				"parent_edge_id": "edge-000",
				"role_tags":      []any{"processing", "quality_assurance"},
				"latency_ms":     45,
				"retry_count":    0,
			},
		},
		{
			Name:        BoundaryEvent,
			Version:     "v1.0",
			Description: "Log of Type III secure reasoning boundary enforcement events",
			Required:    []string{"event_id", "timestamp", "agent_id", "rule_id", "trigger_tag", "action"},
			Optional:    []string{"session_id", "t", "context_tag", "reviewer", "severity", "blocked_content_hash"},
			FieldTypes: map[string]Type{
				"event_id":             TString,
				"timestamp":            TString,
				"t":                    TInt,
				"session_id":           TString,
				"agent_id":             TString,
				"rule_id":              TString,
				"trigger_tag":          TString,
				"context_tag":          TString,
				"action":               TString,
				"reviewer":             TString,
				"severity":             TString,
				"blocked_content_hash": TString,
			},
			Example: map[string]any{
				"event_id":             "boundary-evt-001",
				"timestamp":            "2025-11-11T09:15:23Z",
				"agent_id":             "summarizer",
				"rule_id":              "processing_boundary",
				"trigger_tag":          "external_api_attempted",
				"context_tag":          "test_mode",
				"action":               "blocked",
				"reviewer":             "governance_auditor",
				"severity":             "critical",
				"blocked_content_hash": "sha256:ghi789...",
			},
		},
		{
			Name:        GovernanceLedger,
			Version:     "v1.0",
			Description: "Immutable ledger of publication events with full traceability",
			Required:    []string{"publish_id", "timestamp", "artifact_ids", "contributing_agent_ids", "verification_hashes"},
			Optional:    []string{"human_signoff_id", "release_commit_sha", "quality_score", "type3_verified", "care_compliance_verified"},
			FieldTypes: map[string]Type{
				"publish_id":               TString,
				"timestamp":                TString,
				"artifact_ids":             TList,
				"contributing_agent_ids":   TList,
				"verification_hashes":      TList,
				"human_signoff_id":         TString,
				"release_commit_sha":       TString,
				"quality_score":            TFloat,
				"type3_verified":           TBool,
				"care_compliance_verified": TBool,
			},
			Example: map[string]any{
				"publish_id":               "pub-2025-11-11-001",
				"timestamp":                "2025-11-11T10:00:00Z",
				"artifact_ids":             []any{"brief-2025-11-11"},
				"contributing_agent_ids":   []any{"feed_monitor", "summarizer", "qa_reviewer", "brief_composer"},
				"verification_hashes":      []any{"sha256:input_hash...", "sha256:output_hash..."},
				"human_signoff_id":         "reviewer-01",
				"release_commit_sha":       "abc123def456",
				"quality_score":            8.5,
				"type3_verified":           true,
				"care_compliance_verified": true,
			},
		},
		{
			Name:        RetrievalProvenance,
			Version:     "v1.0",
			Description: "Which feed items were considered and selected for a session",
			Required: []string{
				"session_id", "feed_name", "feed_url_hash", "candidate_count", "selected_count",
				"candidate_hashes", "selected_hashes", "cutoff_date", "category",
			},
			FieldTypes: map[string]Type{
				"session_id":       TString,
				"feed_name":        TString,
				"feed_url_hash":    TString,
				"candidate_count":  TInt,
				"selected_count":   TInt,
				"candidate_hashes": TList,
				"selected_hashes":  TList,
				"cutoff_date":      TString,
				"category":         TString,
			},
			Example: map[string]any{
				"session_id":       "brief-2025-11-11-001",
				"feed_name":        "arxiv-cs-ai",
				"feed_url_hash":    "sha256:feed123...",
				"candidate_count":  3,
				"selected_count":   1,
				"candidate_hashes": []any{"doc:aaa...", "doc:bbb...", "doc:ccc..."},
				"selected_hashes":  []any{"doc:bbb..."},
				"cutoff_date":      "2025-11-04",
				"category":         "research",
			},
		},
		{
			Name:        SecureReasoningTrace,
			Version:     "v1.0",
			Description: "Ordered reasoning steps an agent took for one task",
			Required:    []string{"session_id", "task_id", "turn_id", "steps"},
			FieldTypes: map[string]Type{
				"session_id": TString,
				"task_id":    TString,
				"turn_id":    TInt,
				"steps":      TList,
			},
			Example: map[string]any{
				"session_id": "brief-2025-11-11-001",
				"task_id":    "summarize-article-3",
				"turn_id":    3,
				"steps": []any{
					map[string]any{"step": 1, "kind": "retrieve", "output_hash": "sha256:s1..."},
					map[string]any{"step": 2, "kind": "summarize", "output_hash": "sha256:s2..."},
				},
			},
		},
		{
			Name:        SystemState,
			Version:     "v1.0",
			Description: "Host resource snapshot taken at a pipeline stage",
			Required: []string{
				"session_id", "stage", "host", "platform", "cpu_percent", "load1", "load5", "load15",
				"mem_total_bytes", "mem_used_bytes", "mem_free_bytes", "mem_percent",
			},
			FieldTypes: map[string]Type{
				"session_id":       TString,
				"stage":            TString,
				"host":             TString,
				"platform":         TString,
				"cpu_percent":      TNumber,
				"load1":            TNumber,
				"load5":            TNumber,
				"load15":           TNumber,
				"mem_total_bytes":  TInt,
				"mem_used_bytes":   TInt,
				"mem_free_bytes":   TInt,
				"mem_percent":      TNumber,
				"gpus":             TList,
				"gpu_count":        TInt,
				"driver_version":   TString,
				"disk_io":          TMap,
				"net_io":           TMap,
				"proc_cpu_percent": TNumber,
				"proc_mem_bytes":   Of(Map, Integer),
			},
			Example: map[string]any{
				"session_id":      "brief-2025-11-11-001",
				"stage":           "post_summarize",
				"host":            "worker-01",
				"platform":        "linux",
				"cpu_percent":     37.5,
				"load1":           1.2,
				"load5":           0.9,
				"load15":          0.7,
				"mem_total_bytes": 34359738368,
				"mem_used_bytes":  12884901888,
				"mem_free_bytes":  21474836480,
				"mem_percent":     37.5,
				"gpu_count":       0,
				"proc_mem_bytes":  524288000,
			},
		},
		{
			Name:        FailureSnapshots,
			Version:     "v1.0",
			Description: "Items that failed a pipeline stage and why",
			Required:    []string{"session_id", "reason", "failed_count", "failed_titles"},
			FieldTypes: map[string]Type{
				"session_id":    TString,
				"reason":        TString,
				"failed_count":  TInt,
				"failed_titles": TList,
			},
			Example: map[string]any{
				"session_id":    "brief-2025-11-11-001",
				"reason":        "empty_summary",
				"failed_count":  1,
				"failed_titles": []any{"Untitled preprint"},
			},
		},
		{
			Name:        QualityTrajectories,
			Version:     "v1.0",
			Description: "Evaluator scores across successive versions of an artifact",
			Required: []string{
				"session_id", "artifact_id", "version", "score_name", "score",
				"evaluator_id", "reason_tag", "time_to_next_version",
			},
			FieldTypes: map[string]Type{
				"session_id":           TString,
				"artifact_id":          TString,
				"version":              TInt,
				"score_name":           TString,
				"score":                TNumber,
				"evaluator_id":         TString,
				"reason_tag":           TString,
				"time_to_next_version": TNumber,
			},
			Example: map[string]any{
				"session_id":           "brief-2025-11-11-001",
				"artifact_id":          "brief-2025-11-11",
				"version":              2,
				"score_name":           "qa_overall",
				"score":                8.5,
				"evaluator_id":         "qa_reviewer",
				"reason_tag":           "clarity",
				"time_to_next_version": 12,
			},
		},
		{
			Name:        HallucinationMatrix,
			Version:     "v1.0",
			Description: "Per-claim verification verdicts",
			Required:    []string{"session_id", "artifact_id", "verdict", "method"},
			FieldTypes: map[string]Type{
				"session_id":          TString,
				"artifact_id":         TString,
				"verdict":             TString,
				"method":              TString,
				"confidence":          TNumber,
				"evidence_doc_hashes": TList,
				"error_type":          TString,
				"notes":               TString,
			},
			Example: map[string]any{
				"session_id":          "brief-2025-11-11-001",
				"artifact_id":         "brief-2025-11-11#claim-4",
				"verdict":             "supported",
				"method":              "source_overlap",
				"confidence":          0.82,
				"evidence_doc_hashes": []any{"doc:bbb..."},
			},
		},
		{
			Name:        HumanInterventions,
			Version:     "v1.0",
			Description: "Points where a human changed the pipeline's course",
			Required:    []string{"session_id", "event_id", "t", "human_role", "intervention_type"},
			FieldTypes: map[string]Type{
				"session_id":        TString,
				"event_id":          TString,
				"t":                 TInt,
				"human_role":        TString,
				"intervention_type": TString,
				"target_turn_id":    TInt,
				"delta_metrics":     TMap,
				"rationale_tag":     TString,
			},
			Example: map[string]any{
				"session_id":        "brief-2025-11-11-001",
				"event_id":          "hi-001",
				"t":                 1762852523000,
				"human_role":        "editor",
				"intervention_type": "summary_rewrite",
				"target_turn_id":    3,
				"delta_metrics":     map[string]any{"words_changed": 14},
				"rationale_tag":     "accuracy",
			},
		},
	}
}

// ExampleRecord returns a deep copy of the schema's example.
func (s *Schema) ExampleRecord() map[string]any {
	return copyMap(s.Example)
}

// ExampleRecord returns a copy of the built-in example for name, or nil when
// the type is unknown.
func ExampleRecord(name string) map[string]any {
	s, ok := Default().Lookup(name)
	if !ok {
		return nil
	}
	return s.ExampleRecord()
}

func copyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return copyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = copyValue(item)
		}
		return out
	default:
		return val
	}
}
