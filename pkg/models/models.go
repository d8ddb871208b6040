package models

import (
	"strings"
	"time"
)

// Chunk is one retrievable passage of a document.
type Chunk struct {
	ID          string `json:"id"`
	Text        string `json:"text"`
	ClauseLabel string `json:"clause_label,omitempty"`
	Index       int    `json:"sequence_index"`
	Page        int    `json:"page,omitempty"`
}

// IndexItem is a chunk paired with its passage embedding, ready for upsert.
type IndexItem struct {
	Chunk  Chunk
	Vector []float32
}

// RetrievedChunk is a chunk returned by a similarity query.
type RetrievedChunk struct {
	Chunk    Chunk   `json:"chunk"`
	Distance float64 `json:"distance"`
}

type Session struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	IsolationKey string    `json:"isolation_key"`
}

// ShortID truncates a session id for log fields.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// NormalizeSeverity folds s onto critical, medium or low. Anything
// unrecognised, including "high", becomes medium.
func NormalizeSeverity(s Severity) Severity {
	switch Severity(strings.ToLower(strings.TrimSpace(string(s)))) {
	case SeverityCritical:
		return SeverityCritical
	case SeverityLow:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

type RedFlag struct {
	Title                string   `json:"title"`
	QuotedText           string   `json:"quoted_text"`
	ViolationType        string   `json:"violation_type"`
	LawReference         string   `json:"law_reference"`
	Severity             Severity `json:"severity"`
	Explanation          string   `json:"explanation"`
	Recommendation       string   `json:"recommendation"`
	SuggestedReplacement *string  `json:"suggested_replacement,omitempty"`
}

type MissingClause struct {
	ClauseName    string   `json:"clause_name"`
	Description   string   `json:"description"`
	LawReference  string   `json:"law_reference"`
	RiskIfAbsent  string   `json:"risk_if_absent,omitempty"`
	Severity      Severity `json:"severity"`
	SuggestedText string   `json:"suggested_text"`
}

type SafeClause struct {
	Title       string `json:"title"`
	QuotedText  string `json:"quoted_text"`
	Explanation string `json:"explanation"`
}

// AnalysisResult is the persisted artifact of one risk scoring run.
type AnalysisResult struct {
	AnalysisID       string          `json:"analysis_id"`
	SessionID        string          `json:"session_id"`
	DocumentType     string          `json:"document_type"`
	Language         string          `json:"language"`
	RiskScore        int             `json:"risk_score"`
	RiskLevel        RiskLevel       `json:"risk_level"`
	RedFlags         []RedFlag       `json:"red_flags"`
	MissingClauses   []MissingClause `json:"missing_clauses"`
	SafeClauses      []SafeClause    `json:"safe_clauses"`
	Summary          string          `json:"summary"`
	ProcessingTimeMS int64           `json:"processing_time_ms"`
	CreatedAt        time.Time       `json:"created_at"`
}

type ChangeType string

const (
	ChangeAdded        ChangeType = "added"
	ChangeRemoved      ChangeType = "removed"
	ChangeWeakened     ChangeType = "weakened"
	ChangeStrengthened ChangeType = "strengthened"
	ChangeModified     ChangeType = "modified"
)

type Party string

const (
	FavorsSubmitter    Party = "submitter"
	FavorsCounterparty Party = "counterparty"
	FavorsNeutral      Party = "neutral"
)

// DiffHunk is a contiguous block of removed and/or added lines.
// At least one side is always set.
type DiffHunk struct {
	OldText *string `json:"old_text,omitempty"`
	NewText *string `json:"new_text,omitempty"`
}

type ContractChange struct {
	DiffHunk
	ClauseTitle       string     `json:"clause_title,omitempty"`
	ChangeType        ChangeType `json:"change_type"`
	Severity          Severity   `json:"severity"`
	ImpactExplanation string     `json:"impact_explanation"`
	Favors            Party      `json:"favors"`
}

type DiffReport struct {
	TotalChanges    int              `json:"total_changes"`
	AnalyzedChanges int              `json:"analyzed_changes"`
	CriticalChanges int              `json:"critical_changes"`
	Truncated       bool             `json:"truncated"`
	Changes         []ContractChange `json:"changes"`
	Summary         string           `json:"summary"`
}

type WipeReport struct {
	SessionID     string    `json:"session_id"`
	ChunksDeleted int       `json:"chunks_deleted"`
	IndexDropped  bool      `json:"index_dropped"`
	FilesDeleted  int       `json:"files_deleted"`
	KeysDeleted   int       `json:"keys_deleted"`
	WipedAt       time.Time `json:"wiped_at"`
}
