// Package types defines the core data model for contract provision
// analysis: the provision catalog entries, contract chunks, pre-screening
// candidates, verification findings, and analysis run records shared by
// every stage of the pipeline.
package types

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// PROVISION CATALOG
// =============================================================================

// Priority ranks how important a provision is to verify.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Valid reports whether p is one of the four known tiers.
func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Rank returns the ordering index of the tier: critical first.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

// PriorityOrder lists the tiers in strict verification order.
var PriorityOrder = []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}

// ConfidenceRubric holds the three prose bands an agent uses to assign
// a confidence score to a finding.
type ConfidenceRubric struct {
	High   string `yaml:"high" json:"high"`
	Medium string `yaml:"medium" json:"medium"`
	Low    string `yaml:"low" json:"low"`
}

// Provision is one catalog entry: a contractual clause type the system
// checks for. Immutable after the catalog is loaded.
type Provision struct {
	ID                 string           `yaml:"id" json:"id"`
	Priority           Priority         `yaml:"priority" json:"priority"`
	CanonicalWording   string           `yaml:"canonical_wording" json:"canonical_wording"`
	Synonyms           []string         `yaml:"synonyms" json:"synonyms,omitempty"`
	SearchQueries      []string         `yaml:"search_queries" json:"search_queries,omitempty"`
	ExactMatchPatterns []string         `yaml:"exact_match_patterns" json:"exact_match_patterns,omitempty"`
	Definition         string           `yaml:"definition" json:"definition"`
	FalsePositiveTraps []string         `yaml:"false_positive_traps" json:"false_positive_traps,omitempty"`
	Rubric             ConfidenceRubric `yaml:"confidence_rubric" json:"confidence_rubric"`
	Cluster            string           `yaml:"cluster" json:"cluster,omitempty"`
	SuggestedAction    string           `yaml:"suggested_action" json:"suggested_action,omitempty"`
}

// KeywordPatterns returns the lower-cased patterns used by the exact
// keyword sweep: explicit patterns when present, otherwise synonyms plus
// the full canonical wording.
func (p Provision) KeywordPatterns() []string {
	src := p.ExactMatchPatterns
	if len(src) == 0 {
		src = append(append([]string{}, p.Synonyms...), p.CanonicalWording)
	}
	out := make([]string, 0, len(src))
	for _, s := range src {
		if s != "" {
			out = append(out, strings.ToLower(s))
		}
	}
	return out
}

// =============================================================================
// CONTRACT CHUNKS
// =============================================================================

// Chunk is a page-bounded segment of contract text, the unit of
// retrieval. Created during ingestion; read-only input to the pipeline.
type Chunk struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenant_id"`
	DocumentID  string `json:"document_id"`
	PageStart   int    `json:"page_start"`
	PageEnd     int    `json:"page_end"`
	SectionPath string `json:"section_path,omitempty"`
	Text        string `json:"text"`
	ContentHash string `json:"content_hash"` // duplicate-contract detection
}

// VectorHit is one scored result from the vector index.
type VectorHit struct {
	ChunkID     string
	Score       float64
	PageStart   int
	PageEnd     int
	TextPreview string
}

// =============================================================================
// PRE-SCREENING CANDIDATES
// =============================================================================

// MatchType records which retrieval signal produced a candidate.
type MatchType string

const (
	MatchVector  MatchType = "vector"
	MatchKeyword MatchType = "keyword"
	MatchBoth    MatchType = "both"
)

// CandidateChunk links a chunk to a provision during pre-screening,
// pending LLM verification. Ephemeral: lives only inside one analysis.
type CandidateChunk struct {
	ChunkID         string    `json:"chunk_id"`
	PageStart       int       `json:"page_start"`
	PageEnd         int       `json:"page_end"`
	Score           float64   `json:"score"`
	MatchType       MatchType `json:"match_type"`
	MatchedKeywords []string  `json:"matched_keywords,omitempty"`
	Text            string    `json:"text,omitempty"` // lazily hydrated for vector-only hits
}

// CandidateMap maps provision id to its score-ordered candidate list.
type CandidateMap map[string][]CandidateChunk

// Count returns the number of candidates recorded for a provision.
func (m CandidateMap) Count(provisionID string) int { return len(m[provisionID]) }

// =============================================================================
// FINDINGS
// =============================================================================

// ScreeningResult tags how a finding was produced, distinguishing
// "nothing to look at" from "looked and rejected" and from failures.
type ScreeningResult string

const (
	ScreeningNoCandidates     ScreeningResult = "no_candidates"
	ScreeningAnalyzedNotFound ScreeningResult = "analyzed_not_found"
	ScreeningAnalyzedFound    ScreeningResult = "analyzed_found"
	ScreeningNotAnalyzed      ScreeningResult = "not_analyzed"
	ScreeningError            ScreeningResult = "error"
)

// Finding is the durable per-provision verdict with evidence.
// Invariant: exactly one Finding per provision per analysis.
type Finding struct {
	ProvisionID       string          `json:"provision_id"`
	Priority          Priority        `json:"priority"`
	Matched           bool            `json:"matched"`
	Confidence        float64         `json:"confidence"`
	EvidenceChunkIDs  []string        `json:"evidence_chunk_ids,omitempty"`
	EvidencePages     []int           `json:"evidence_pages,omitempty"`
	EvidenceExcerpts  []string        `json:"evidence_excerpts,omitempty"`
	Reasoning         string          `json:"reasoning,omitempty"`
	RecommendedAction string          `json:"recommended_action,omitempty"`
	ScreeningResult   ScreeningResult `json:"screening_result"`
	CreatedAt         time.Time       `json:"created_at"`
}

// =============================================================================
// ANALYSIS RUNS
// =============================================================================

// AnalysisStatus is the lifecycle state of one analysis run.
type AnalysisStatus string

const (
	AnalysisRunning  AnalysisStatus = "running"
	AnalysisComplete AnalysisStatus = "complete"
	AnalysisPartial  AnalysisStatus = "partial"
	AnalysisFailed   AnalysisStatus = "failed"
)

// Terminal reports whether the status is final.
func (s AnalysisStatus) Terminal() bool { return s != AnalysisRunning }

// AnalysisError is the structured error descriptor attached to partial
// or failed analyses.
type AnalysisError struct {
	Message            string   `json:"message"`
	Code               string   `json:"code,omitempty"`
	FailedBatches      int      `json:"failed_batches"`
	SucceededBatches   int      `json:"succeeded_batches"`
	FailedProvisionIDs []string `json:"failed_provision_ids,omitempty"`
}

func (e *AnalysisError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("%s (code=%s)", e.Message, e.Code)
	}
	return e.Message
}

// SummaryCounts tallies matched findings per priority tier.
type SummaryCounts struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
}

// Add increments the tier counter for p.
func (c *SummaryCounts) Add(p Priority) {
	switch p {
	case PriorityCritical:
		c.Critical++
	case PriorityHigh:
		c.High++
	case PriorityMedium:
		c.Medium++
	case PriorityLow:
		c.Low++
	}
}

// Analysis is one verification run over one contract document.
// Created at analysis start; mutated only by the orchestrating process;
// terminal once status leaves running.
type Analysis struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenant_id"`
	DocumentID  string         `json:"document_id"`
	Model       string         `json:"model"`
	Status      AnalysisStatus `json:"status"`
	Summary     SummaryCounts  `json:"summary"`
	Error       *AnalysisError `json:"error,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at,omitempty"`
}

// =============================================================================
// VERIFICATION BATCHES
// =============================================================================

// ContractContext carries optional document-level hints handed to the
// verification agent alongside each batch.
type ContractContext struct {
	ContractorName string `json:"contractor_name,omitempty"`
	ProjectName    string `json:"project_name,omitempty"`
	State          string `json:"state,omitempty"`
}

// Batch is a priority-homogeneous group of provisions submitted together
// to one agent invocation. Ephemeral; an in-memory unit of work.
type Batch struct {
	Index      int
	Priority   Priority
	Provisions []Provision
}

// ProvisionIDs returns the ids of the provisions in the batch.
func (b Batch) ProvisionIDs() []string {
	ids := make([]string, len(b.Provisions))
	for i, p := range b.Provisions {
		ids[i] = p.ID
	}
	return ids
}

// BatchResult captures one batch's outcome for reconciliation.
type BatchResult struct {
	Batch          Batch
	Success        bool
	StepsCompleted int
	Err            error
	ErrCode        string
}
