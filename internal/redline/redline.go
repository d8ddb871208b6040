// Package redline compares two drafts of a document and classifies each
// changed region by its legal effect.
package redline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/contractlens/internal/errs"
	"github.com/seanblong/contractlens/pkg/models"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxHunks = 20
	defaultWorkers  = 4

	notPresent = "[not present]"

	systemPrompt = "You are a contract review expert. Classify this contract change. " +
		`Return ONLY JSON: {"clause_title": str, "change_type": ` +
		`"removed"|"added"|"weakened"|"strengthened"|"modified", ` +
		`"severity": "critical"|"high"|"medium"|"low", ` +
		`"impact_explanation": str, "favorable_to": "you"|"other_party"|"neutral"}`
)

// Generator runs a retrieval-free inference call.
type Generator interface {
	Generate(ctx context.Context, prompt, system string, structured bool) (string, error)
}

type Comparator struct {
	Generator Generator
	// MaxHunks bounds how many hunks are sent for classification.
	MaxHunks int
	Workers  int
}

func NewComparator(gen Generator, maxHunks int) *Comparator {
	if maxHunks <= 0 {
		maxHunks = DefaultMaxHunks
	}
	return &Comparator{Generator: gen, MaxHunks: maxHunks, Workers: defaultWorkers}
}

// Compare diffs a against b line by line and classifies the first MaxHunks
// hunks. Hunks whose classification fails are left out of Changes.
func (c *Comparator) Compare(ctx context.Context, a, b string) (*models.DiffReport, error) {
	hunks := Diff(a, b)
	analyzed := hunks
	if len(analyzed) > c.MaxHunks {
		analyzed = analyzed[:c.MaxHunks]
	}

	slots := make([]*models.ContractChange, len(analyzed))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, c.Workers))
	for i, h := range analyzed {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			ch, err := c.classify(gctx, h)
			if err != nil {
				log.Warn().Err(err).Int("hunk", i).Msg("change classification failed")
				return nil
			}
			slots[i] = ch
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("comparison aborted: %w", err)
	}

	report := &models.DiffReport{
		TotalChanges: len(hunks),
		Truncated:    len(hunks) > len(analyzed),
		Changes:      make([]models.ContractChange, 0, len(analyzed)),
	}
	for _, ch := range slots {
		if ch == nil {
			continue
		}
		report.Changes = append(report.Changes, *ch)
		if ch.Severity == models.SeverityCritical || ch.Severity == models.SeverityHigh {
			report.CriticalChanges++
		}
	}
	report.AnalyzedChanges = len(report.Changes)
	report.Summary = summarize(report, len(analyzed))

	log.Info().Int("hunks", report.TotalChanges).
		Int("changes", report.AnalyzedChanges).
		Int("critical", report.CriticalChanges).
		Bool("truncated", report.Truncated).
		Msg("redline complete")
	return report, nil
}

func summarize(r *models.DiffReport, analyzed int) string {
	s := fmt.Sprintf("Found %d differences. %d are critical.", r.TotalChanges, r.CriticalChanges)
	if r.Truncated {
		s += fmt.Sprintf(" Only the first %d differences were analyzed.", analyzed)
	}
	return s
}

// Diff coalesces consecutive removed and added lines into hunks. Hunks
// that only touch blank lines are dropped.
func Diff(a, b string) []models.DiffHunk {
	la, lb := lines(a), lines(b)
	m := difflib.NewMatcherWithJunk(la, lb, false, nil)

	var (
		hunks          []models.DiffHunk
		removed, added []string
	)
	flush := func() {
		if blank(removed) && blank(added) {
			removed, added = nil, nil
			return
		}
		hunks = append(hunks, models.DiffHunk{OldText: joined(removed), NewText: joined(added)})
		removed, added = nil, nil
	}
	for _, op := range m.GetOpCodes() {
		switch op.Tag {
		case 'e':
			flush()
		case 'd':
			removed = append(removed, la[op.I1:op.I2]...)
		case 'i':
			added = append(added, lb[op.J1:op.J2]...)
		case 'r':
			removed = append(removed, la[op.I1:op.I2]...)
			added = append(added, lb[op.J1:op.J2]...)
		}
	}
	flush()
	return hunks
}

func lines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}

func blank(ls []string) bool {
	for _, l := range ls {
		if strings.TrimSpace(l) != "" {
			return false
		}
	}
	return true
}

func joined(ls []string) *string {
	if len(ls) == 0 {
		return nil
	}
	s := strings.Join(ls, "\n")
	return &s
}

type classification struct {
	ClauseTitle       string `json:"clause_title"`
	ChangeType        string `json:"change_type"`
	Severity          string `json:"severity"`
	ImpactExplanation string `json:"impact_explanation"`
	FavorableTo       string `json:"favorable_to"`
	Favors            string `json:"favors"`
}

func (c *Comparator) classify(ctx context.Context, h models.DiffHunk) (*models.ContractChange, error) {
	prompt := fmt.Sprintf("Old version:\n%s\n\nNew version:\n%s\n\nClassify this change.", side(h.OldText), side(h.NewText))
	raw, err := c.Generator.Generate(ctx, prompt, systemPrompt, true)
	if err != nil {
		return nil, err
	}
	var cl classification
	if err := json.Unmarshal([]byte(raw), &cl); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrParse, err)
	}
	title := cl.ClauseTitle
	if strings.TrimSpace(title) == "" {
		title = "Unknown"
	}
	favors := cl.FavorableTo
	if favors == "" {
		favors = cl.Favors
	}
	return &models.ContractChange{
		DiffHunk:          h,
		ClauseTitle:       title,
		ChangeType:        changeType(cl.ChangeType),
		Severity:          severity(cl.Severity),
		ImpactExplanation: cl.ImpactExplanation,
		Favors:            party(favors),
	}, nil
}

func side(s *string) string {
	if s == nil {
		return notPresent
	}
	return *s
}

func changeType(s string) models.ChangeType {
	switch ct := models.ChangeType(strings.ToLower(strings.TrimSpace(s))); ct {
	case models.ChangeAdded, models.ChangeRemoved, models.ChangeWeakened, models.ChangeStrengthened:
		return ct
	default:
		return models.ChangeModified
	}
}

// severity keeps "high", which counts towards critical changes.
func severity(s string) models.Severity {
	switch sev := models.Severity(strings.ToLower(strings.TrimSpace(s))); sev {
	case models.SeverityCritical, models.SeverityHigh, models.SeverityLow:
		return sev
	default:
		return models.SeverityMedium
	}
}

func party(s string) models.Party {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "you", "submitter":
		return models.FavorsSubmitter
	case "other_party", "other party", "counterparty":
		return models.FavorsCounterparty
	default:
		return models.FavorsNeutral
	}
}
