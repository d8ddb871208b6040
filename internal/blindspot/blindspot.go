// Package blindspot finds standard clauses that a document does not contain.
package blindspot

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/contractlens/internal/rag"
	"github.com/seanblong/contractlens/internal/rulebook"
	"github.com/seanblong/contractlens/pkg/models"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultWorkers = 4

	systemPrompt = "You are a legal document reviewer. You must answer ONLY 'YES' or 'NO'. " +
		"NO other text. Check if the contract has a clause covering the asked topic."

	defaultRisk = "This clause is missing from your contract."
)

// Querier asks a grounded question about a session's document.
type Querier interface {
	Query(ctx context.Context, req rag.Request) (string, error)
}

type Detector struct {
	Querier  Querier
	Rulebook *rulebook.Rulebook
	Workers  int
}

func NewDetector(q Querier, rb *rulebook.Rulebook, workers int) *Detector {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Detector{Querier: q, Rulebook: rb, Workers: workers}
}

// Detect checks every standard clause of docType against the session's
// document and returns the ones judged missing, in rulebook order. A failed
// check is logged and treated as present. The only error returned is the
// caller's context error.
func (d *Detector) Detect(ctx context.Context, sessionID, docType string) ([]models.MissingClause, error) {
	clauses := d.Rulebook.Clauses(docType)
	found := make([]*models.MissingClause, len(clauses))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.Workers)
	for i, c := range clauses {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			answer, err := d.Querier.Query(gctx, rag.Request{
				SessionID: sessionID,
				Question:  Question(c),
				System:    systemPrompt,
			})
			if err != nil {
				log.Warn().Err(err).Str("clause", c.Name).Msg("blindspot check failed")
				return nil
			}
			if IsMissing(answer) {
				found[i] = missingClause(c)
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	missing := make([]models.MissingClause, 0, len(clauses))
	for _, m := range found {
		if m != nil {
			missing = append(missing, *m)
		}
	}
	log.Info().Str("session_id", models.ShortID(sessionID)).
		Int("missing", len(missing)).
		Int("total_checked", len(clauses)).
		Msg("blindspot analysis complete")
	return missing, nil
}

// Question is the presence question asked for one clause.
func Question(c rulebook.Clause) string {
	return fmt.Sprintf("Does this contract contain a clause about '%s'? Look for any mention of: %s. Answer with ONLY 'YES' or 'NO'.",
		c.Name, strings.Join(c.Keywords, ", "))
}

// IsMissing reads a YES/NO answer. An answer holding both tokens counts as
// present.
func IsMissing(answer string) bool {
	a := strings.ToUpper(strings.TrimSpace(answer))
	return strings.Contains(a, "NO") && !strings.Contains(a, "YES")
}

func missingClause(c rulebook.Clause) *models.MissingClause {
	risk := c.RiskIfAbsent
	if risk == "" {
		risk = defaultRisk
	}
	return &models.MissingClause{
		ClauseName:    c.Name,
		Description:   c.Description,
		LawReference:  c.LawReference,
		RiskIfAbsent:  risk,
		Severity:      c.SeverityIfMissing,
		SuggestedText: c.SuggestedText,
	}
}
