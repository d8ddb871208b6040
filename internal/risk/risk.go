// Package risk produces the analysis artifact for a session: red flags,
// missing clauses and safe clauses combined into a weighted score.
package risk

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/contractlens/internal/blindspot"
	"github.com/seanblong/contractlens/internal/rag"
	"github.com/seanblong/contractlens/internal/rulebook"
	"github.com/seanblong/contractlens/pkg/models"
	"golang.org/x/sync/errgroup"
)

const maxSafeClauses = 5

var flagWeights = map[models.Severity]int{
	models.SeverityCritical: 20,
	models.SeverityMedium:   8,
	models.SeverityLow:      3,
}

var missingWeights = map[models.Severity]int{
	models.SeverityCritical: 15,
	models.SeverityMedium:   5,
	models.SeverityLow:      2,
}

const (
	unknownFlagWeight    = 5
	unknownMissingWeight = 3
)

// Detector finds missing standard clauses. *blindspot.Detector satisfies it.
type Detector interface {
	Detect(ctx context.Context, sessionID, docType string) ([]models.MissingClause, error)
}

var _ Detector = (*blindspot.Detector)(nil)

type Scorer struct {
	Querier   blindspot.Querier
	Blindspot Detector
	Rulebook  *rulebook.Rulebook

	now     func() time.Time
	mu      sync.Mutex
	entropy io.Reader
}

func NewScorer(q blindspot.Querier, d Detector, rb *rulebook.Rulebook) *Scorer {
	return &Scorer{
		Querier:   q,
		Blindspot: d,
		Rulebook:  rb,
		now:       time.Now,
		entropy:   ulid.Monotonic(rand.Reader, 0),
	}
}

// Score runs red-flag extraction, blindspot detection and safe-clause
// extraction concurrently and combines them. A step that fails contributes
// an empty list; only cancellation of ctx fails the whole run.
func (s *Scorer) Score(ctx context.Context, sessionID, docType, language string) (*models.AnalysisResult, error) {
	start := s.now()

	var (
		flags   []models.RedFlag
		missing []models.MissingClause
		safe    []models.SafeClause
	)
	var g errgroup.Group
	g.Go(func() error {
		flags = s.redFlags(ctx, sessionID, docType, language)
		return nil
	})
	g.Go(func() error {
		mc, err := s.Blindspot.Detect(ctx, sessionID, docType)
		if err != nil {
			log.Warn().Err(err).Str("session_id", models.ShortID(sessionID)).Msg("blindspot detection failed")
		}
		missing = mc
		return nil
	})
	g.Go(func() error {
		safe = s.safeClauses(ctx, sessionID, docType)
		return nil
	})
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("analysis aborted: %w", err)
	}

	if flags == nil {
		flags = []models.RedFlag{}
	}
	if missing == nil {
		missing = []models.MissingClause{}
	}
	if safe == nil {
		safe = []models.SafeClause{}
	}

	score := Compute(flags, missing)
	level := Level(score)
	res := &models.AnalysisResult{
		AnalysisID:       s.newID(),
		SessionID:        sessionID,
		DocumentType:     docType,
		Language:         language,
		RiskScore:        score,
		RiskLevel:        level,
		RedFlags:         flags,
		MissingClauses:   missing,
		SafeClauses:      safe,
		Summary:          Summary(flags, missing, score, level),
		ProcessingTimeMS: s.now().Sub(start).Milliseconds(),
		CreatedAt:        s.now().UTC(),
	}
	log.Info().Str("session_id", models.ShortID(sessionID)).
		Int("score", score).
		Str("level", string(level)).
		Int("flags", len(flags)).
		Int("missing", len(missing)).
		Msg("risk scoring complete")
	return res, nil
}

func (s *Scorer) newID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(s.now()), s.entropy).String()
}

// Compute sums the weights of red flags and missing clauses, clamped to
// [0, 100].
func Compute(flags []models.RedFlag, missing []models.MissingClause) int {
	sum := 0
	for _, f := range flags {
		w, ok := flagWeights[f.Severity]
		if !ok {
			w = unknownFlagWeight
		}
		sum += w
	}
	for _, m := range missing {
		w, ok := missingWeights[m.Severity]
		if !ok {
			w = unknownMissingWeight
		}
		sum += w
	}
	return max(0, min(100, sum))
}

// Level maps a score to low (<=30), medium (<=60) or high.
func Level(score int) models.RiskLevel {
	switch {
	case score <= 30:
		return models.RiskLow
	case score <= 60:
		return models.RiskMedium
	default:
		return models.RiskHigh
	}
}

// Summary renders the counts and the signing recommendation.
func Summary(flags []models.RedFlag, missing []models.MissingClause, score int, level models.RiskLevel) string {
	var critical, medium int
	for _, f := range flags {
		switch f.Severity {
		case models.SeverityCritical:
			critical++
		case models.SeverityMedium:
			medium++
		}
	}

	parts := []string{fmt.Sprintf("Risk Score: %d/100 (%s).", score, strings.ToUpper(string(level)))}
	if critical > 0 {
		parts = append(parts, fmt.Sprintf("%d critical violation(s) found.", critical))
	}
	if medium > 0 {
		parts = append(parts, fmt.Sprintf("%d medium-risk clause(s) identified.", medium))
	}
	if len(missing) > 0 {
		parts = append(parts, fmt.Sprintf("%d standard clause(s) are missing.", len(missing)))
	}
	switch {
	case score > 60:
		parts = append(parts, "You should NOT sign this contract as-is. Seek legal revision.")
	case score > 30:
		parts = append(parts, "Review flagged items carefully before signing.")
	default:
		parts = append(parts, "This contract appears mostly fair.")
	}
	return strings.Join(parts, " ")
}

func (s *Scorer) redFlags(ctx context.Context, sessionID, docType, language string) []models.RedFlag {
	system := "You are an Indian legal expert specializing in contract law. " +
		"Analyze the contract for violations of Indian laws. " +
		"\n\n" + s.Rulebook.StatuteContext(docType) + "\n\n" +
		"Use these specific Indian Acts and their sections when citing violations. " +
		"Return ONLY a JSON array of red flags. Each red flag must have: " +
		`"clause_title", "quoted_text" (exact quote from contract), ` +
		`"violation_type", "law_reference" (specific act and section from the acts listed above), ` +
		`"severity" ("critical" or "medium" or "low"), ` +
		`"plain_explanation", "recommendation", "replacement_clause". ` +
		"Only cite laws you are certain about. If unsure, omit. " +
		"Return an empty array [] if no red flags found." +
		languageInstruction(language)
	question := fmt.Sprintf("This is a %s contract. Analyze ALL clauses for violations of Indian law. "+
		"Look for illegal terms, unfair clauses, and rights violations. "+
		"Cite specific Indian Acts and their sections. Return the red flags as a JSON array.", docType)

	raw, err := s.Querier.Query(ctx, rag.Request{SessionID: sessionID, Question: question, System: system, Structured: true})
	if err != nil {
		log.Warn().Err(err).Str("session_id", models.ShortID(sessionID)).Msg("red flag detection failed")
		return nil
	}
	flags, err := ParseRedFlags(raw)
	if err != nil {
		log.Warn().Err(err).Str("session_id", models.ShortID(sessionID)).Msg("red flag json parse error")
		return nil
	}
	return flags
}

func (s *Scorer) safeClauses(ctx context.Context, sessionID, docType string) []models.SafeClause {
	system := "You are an Indian legal expert. Identify clauses that are FAIR and " +
		"FAVORABLE to the weaker party. Return a JSON array with: " +
		`"clause_title", "quoted_text", "explanation". ` +
		"Return max 5 safe clauses. Return empty array [] if none found."
	question := fmt.Sprintf("Find the clauses in this %s contract that are fair and protect the weaker party.", docType)

	raw, err := s.Querier.Query(ctx, rag.Request{SessionID: sessionID, Question: question, System: system, Structured: true})
	if err != nil {
		log.Warn().Err(err).Str("session_id", models.ShortID(sessionID)).Msg("safe clause detection failed")
		return nil
	}
	safe, err := ParseSafeClauses(raw)
	if err != nil {
		log.Warn().Err(err).Str("session_id", models.ShortID(sessionID)).Msg("safe clause json parse error")
		return nil
	}
	return safe
}

func languageInstruction(lang string) string {
	if lang == "hi" {
		return " Write explanations and recommendations in Hindi; keep quoted_text exactly as in the contract."
	}
	return ""
}

type redFlagJSON struct {
	ClauseTitle       string  `json:"clause_title"`
	Title             string  `json:"title"`
	QuotedText        string  `json:"quoted_text"`
	ViolationType     string  `json:"violation_type"`
	LawReference      string  `json:"law_reference"`
	Severity          string  `json:"severity"`
	PlainExplanation  string  `json:"plain_explanation"`
	Explanation       string  `json:"explanation"`
	Recommendation    string  `json:"recommendation"`
	ReplacementClause *string `json:"replacement_clause"`
}

// ParseRedFlags decodes a JSON list of red flags, or an object holding one
// under "red_flags" or "flags". Entries that are not objects are skipped.
func ParseRedFlags(raw string) ([]models.RedFlag, error) {
	items, err := listOf(raw, "red_flags", "flags")
	if err != nil {
		return nil, err
	}
	out := make([]models.RedFlag, 0, len(items))
	for _, it := range items {
		var f redFlagJSON
		if !isObject(it) || json.Unmarshal(it, &f) != nil {
			continue
		}
		title := firstNonEmpty(f.ClauseTitle, f.Title, "Unknown Clause")
		var repl *string
		if f.ReplacementClause != nil && strings.TrimSpace(*f.ReplacementClause) != "" {
			repl = f.ReplacementClause
		}
		out = append(out, models.RedFlag{
			Title:                title,
			QuotedText:           f.QuotedText,
			ViolationType:        f.ViolationType,
			LawReference:         f.LawReference,
			Severity:             models.NormalizeSeverity(models.Severity(f.Severity)),
			Explanation:          firstNonEmpty(f.PlainExplanation, f.Explanation),
			Recommendation:       f.Recommendation,
			SuggestedReplacement: repl,
		})
	}
	return out, nil
}

type safeClauseJSON struct {
	ClauseTitle string `json:"clause_title"`
	Title       string `json:"title"`
	QuotedText  string `json:"quoted_text"`
	Explanation string `json:"explanation"`
}

// ParseSafeClauses decodes at most five safe clauses from a JSON list or an
// object holding one under "safe_clauses".
func ParseSafeClauses(raw string) ([]models.SafeClause, error) {
	items, err := listOf(raw, "safe_clauses")
	if err != nil {
		return nil, err
	}
	out := make([]models.SafeClause, 0, min(len(items), maxSafeClauses))
	for _, it := range items {
		if len(out) == maxSafeClauses {
			break
		}
		var c safeClauseJSON
		if !isObject(it) || json.Unmarshal(it, &c) != nil {
			continue
		}
		out = append(out, models.SafeClause{
			Title:       firstNonEmpty(c.ClauseTitle, c.Title),
			QuotedText:  c.QuotedText,
			Explanation: c.Explanation,
		})
	}
	return out, nil
}

// listOf returns the elements of a JSON array, or of the array stored under
// the first matching key of a JSON object. Any other shape yields nothing.
func listOf(raw string, keys ...string) ([]json.RawMessage, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal([]byte(raw), &obj); err != nil {
			return nil, err
		}
		for _, k := range keys {
			if v, ok := obj[k]; ok {
				raw = string(v)
				break
			}
		}
		if strings.HasPrefix(raw, "{") {
			return nil, nil
		}
	}
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		var probe any
		if json.Unmarshal([]byte(raw), &probe) == nil {
			// valid JSON of another shape
			return nil, nil
		}
		return nil, err
	}
	return items, nil
}

func isObject(m json.RawMessage) bool {
	return strings.HasPrefix(strings.TrimSpace(string(m)), "{")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
