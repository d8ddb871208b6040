// Package rulebook maps document types to the standard clauses and statutes
// the analysis checks against. A Rulebook is read-only once loaded.
package rulebook

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/seanblong/contractlens/pkg/models"
	"gopkg.in/yaml.v3"
)

// General is the fallback document type.
const General = "general"

//go:embed rules.yaml
var defaultRules []byte

type Statute struct {
	Title   string `yaml:"title"`
	Summary string `yaml:"summary"`
}

type Clause struct {
	Name              string          `yaml:"name"`
	Keywords          []string        `yaml:"keywords"`
	Description       string          `yaml:"description"`
	SeverityIfMissing models.Severity `yaml:"severity_if_missing"`
	LawReference      string          `yaml:"law_reference"`
	RiskIfAbsent      string          `yaml:"risk_if_absent"`
	SuggestedText     string          `yaml:"suggested_text"`
}

type DocType struct {
	Name     string    `yaml:"name"`
	Detect   []string  `yaml:"detect"`
	Statutes []Statute `yaml:"statutes"`
	Clauses  []Clause  `yaml:"clauses"`
}

type Rulebook struct {
	types  []DocType
	byName map[string]int
}

// Load reads a rulebook from path, or the built-in one when path is empty.
func Load(path string) (*Rulebook, error) {
	if path == "" {
		return Parse(defaultRules)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rulebook: %w", err)
	}
	return Parse(b)
}

// Default returns the built-in rulebook.
func Default() *Rulebook {
	rb, err := Parse(defaultRules)
	if err != nil {
		panic(fmt.Sprintf("built-in rulebook: %v", err))
	}
	return rb
}

func Parse(b []byte) (*Rulebook, error) {
	var doc struct {
		Types []DocType `yaml:"types"`
	}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse rulebook: %w", err)
	}

	rb := &Rulebook{byName: make(map[string]int, len(doc.Types))}
	for _, t := range doc.Types {
		t.Name = strings.ToLower(strings.TrimSpace(t.Name))
		if t.Name == "" {
			return nil, fmt.Errorf("parse rulebook: document type without a name")
		}
		if _, dup := rb.byName[t.Name]; dup {
			return nil, fmt.Errorf("parse rulebook: duplicate document type %q", t.Name)
		}
		for i := range t.Clauses {
			c := &t.Clauses[i]
			if strings.TrimSpace(c.Name) == "" {
				return nil, fmt.Errorf("parse rulebook: %s: clause %d has no name", t.Name, i)
			}
			c.SeverityIfMissing = models.NormalizeSeverity(c.SeverityIfMissing)
		}
		for i := range t.Detect {
			t.Detect[i] = strings.ToLower(t.Detect[i])
		}
		rb.byName[t.Name] = len(rb.types)
		rb.types = append(rb.types, t)
	}
	return rb, nil
}

// Types lists the document type names in rulebook order.
func (r *Rulebook) Types() []string {
	out := make([]string, len(r.types))
	for i, t := range r.types {
		out[i] = t.Name
	}
	return out
}

// Has reports whether docType is defined.
func (r *Rulebook) Has(docType string) bool {
	_, ok := r.byName[strings.ToLower(docType)]
	return ok
}

func (r *Rulebook) lookup(docType string) (DocType, bool) {
	if i, ok := r.byName[strings.ToLower(strings.TrimSpace(docType))]; ok {
		return r.types[i], true
	}
	if i, ok := r.byName[General]; ok {
		return r.types[i], true
	}
	return DocType{}, false
}

// Clauses returns the standard clauses for docType, falling back to the
// general type when docType is unknown. A known type with no clauses
// yields none.
func (r *Rulebook) Clauses(docType string) []Clause {
	t, _ := r.lookup(docType)
	out := make([]Clause, len(t.Clauses))
	copy(out, t.Clauses)
	return out
}

// Statutes returns the statutes relevant to docType, with the same fallback
// as Clauses.
func (r *Rulebook) Statutes(docType string) []Statute {
	t, _ := r.lookup(docType)
	out := make([]Statute, len(t.Statutes))
	copy(out, t.Statutes)
	return out
}

// StatuteContext renders the statutes for docType as prompt context.
func (r *Rulebook) StatuteContext(docType string) string {
	sts := r.Statutes(docType)
	if len(sts) == 0 {
		return "Reference Indian laws as applicable."
	}
	var b strings.Builder
	b.WriteString("Relevant Indian Laws for this analysis:")
	for _, s := range sts {
		b.WriteString("\n- ")
		b.WriteString(s.Title)
		if s.Summary != "" {
			b.WriteString(": ")
			b.WriteString(s.Summary)
		}
	}
	return b.String()
}

// DetectType scores each type by the number of its detection keywords found
// in text and returns the best one; ties go to the earlier type. Text with
// no hits is general.
func (r *Rulebook) DetectType(text string) string {
	lower := strings.ToLower(text)
	best, bestScore := General, 0
	for _, t := range r.types {
		score := 0
		for _, kw := range t.Detect {
			if kw != "" && strings.Contains(lower, kw) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = t.Name, score
		}
	}
	return best
}
