// Package segment splits contract text into clause-bounded, size-bounded
// passages ready for embedding.
package segment

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/seanblong/contractlens/pkg/models"
)

const (
	DefaultMaxSize = 800
	DefaultOverlap = 150
)

var (
	// numbered headings (1. / 1.2.3), lettered items ((a)) and all-caps labels (NOTE.)
	clauseRe = regexp.MustCompile(`(?m)^(\d+\.[\d.]*|\([a-z]+\)|[A-Z]+\.)\s`)
	labelRe  = regexp.MustCompile(`^(?:\d+\.[\d.]*|\([a-z]+\)|[A-Z]+\.)$`)
)

// Config bounds chunk sizes, counted in characters (runes).
type Config struct {
	MaxSize int
	Overlap int
}

func DefaultConfig() Config {
	return Config{MaxSize: DefaultMaxSize, Overlap: DefaultOverlap}
}

func (c Config) normalized() Config {
	if c.MaxSize <= 0 {
		c.MaxSize = DefaultMaxSize
	}
	if c.Overlap < 0 {
		c.Overlap = 0
	}
	if c.Overlap >= c.MaxSize {
		c.Overlap = c.MaxSize / 4
	}
	return c
}

type section struct {
	text  string
	off   int
	label string
}

type sentence struct {
	text string
	off  int
}

// Segment splits text into chunks. Sections start at clause markers; a
// section longer than MaxSize is split on sentence boundaries and each
// follow-on chunk is seeded with up to Overlap characters of whole trailing
// sentences from the previous one. Markdown tables are never split.
//
// The result is deterministic and its sequence indices run 0..n-1.
func Segment(text string, cfg Config) []models.Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	cfg = cfg.normalized()

	text = strings.ReplaceAll(text, "\r\n", "\n")
	// page breaks become their own line so the next page can open a clause
	text = strings.ReplaceAll(text, "\f", "\n\f\n")

	body, restore := extractTables(text)
	pages := newPageIndex(body)

	var out []models.Chunk
	emit := func(s string, label string, off int) {
		s = strings.TrimSpace(strings.ReplaceAll(restore.Replace(s), "\f", ""))
		if s == "" {
			return
		}
		idx := len(out)
		out = append(out, models.Chunk{
			ID:          chunkID(idx, s),
			Text:        s,
			ClauseLabel: label,
			Index:       idx,
			Page:        pages.at(off),
		})
	}

	for _, sec := range splitClauses(body) {
		trimmed := strings.TrimSpace(sec.text)
		if trimmed == "" {
			continue
		}
		if utf8.RuneCountInString(trimmed) <= cfg.MaxSize {
			emit(trimmed, sec.label, sec.off+leadingSpace(sec.text))
			continue
		}
		for _, part := range splitSized(splitSentences(sec.text, sec.off), cfg) {
			emit(part.text, sec.label, part.off)
		}
	}
	return out
}

func splitClauses(body string) []section {
	locs := clauseRe.FindAllStringSubmatchIndex(body, -1)
	if len(locs) == 0 {
		return []section{{text: body}}
	}

	sections := make([]section, 0, len(locs)+1)
	if pre := body[:locs[0][0]]; strings.TrimSpace(pre) != "" {
		sections = append(sections, section{text: pre})
	}
	for i, m := range locs {
		end := len(body)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		sections = append(sections, section{
			text:  body[m[0]:end],
			off:   m[0],
			label: strings.TrimSpace(body[m[2]:m[3]]),
		})
	}
	return sections
}

// splitSentences breaks after '.', '!' or '?' followed by whitespace. A bare
// clause label such as "1." does not end a sentence.
func splitSentences(text string, base int) []sentence {
	var out []sentence
	add := func(from, to int) {
		piece := text[from:to]
		trimmed := strings.TrimSpace(piece)
		if trimmed == "" {
			return
		}
		out = append(out, sentence{text: trimmed, off: base + from + leadingSpace(piece)})
	}

	start := 0
	for i := 0; i < len(text); {
		r, w := utf8.DecodeRuneInString(text[i:])
		i += w
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		k := i
		for k < len(text) {
			r2, w2 := utf8.DecodeRuneInString(text[k:])
			if !unicode.IsSpace(r2) {
				break
			}
			k += w2
		}
		if k == i || labelRe.MatchString(strings.TrimSpace(text[start:i])) {
			continue
		}
		add(start, i)
		start, i = k, k
	}
	add(start, len(text))
	return out
}

func splitSized(sents []sentence, cfg Config) []sentence {
	var (
		chunks []sentence
		cur    []sentence
		curLen int
	)
	for _, s := range sents {
		n := utf8.RuneCountInString(s.text)
		if len(cur) > 0 && curLen+1+n > cfg.MaxSize {
			chunks = append(chunks, join(cur))
			cur = overlapSeed(cur, n, cfg)
			curLen = joinedLen(cur)
		}
		if len(cur) > 0 {
			curLen++
		}
		cur = append(cur, s)
		curLen += n
	}
	if len(cur) > 0 {
		chunks = append(chunks, join(cur))
	}
	return chunks
}

// overlapSeed returns the longest run of trailing sentences of prev that fits
// in cfg.Overlap and still leaves room for a next sentence of n characters.
func overlapSeed(prev []sentence, n int, cfg Config) []sentence {
	if cfg.Overlap == 0 {
		return nil
	}
	i, total := len(prev), 0
	for i > 0 {
		add := utf8.RuneCountInString(prev[i-1].text)
		if total > 0 {
			add++
		}
		if total+add > cfg.Overlap {
			break
		}
		total += add
		i--
	}
	seed := prev[i:]
	for len(seed) > 0 && total+1+n > cfg.MaxSize {
		total -= utf8.RuneCountInString(seed[0].text)
		if len(seed) > 1 {
			total--
		}
		seed = seed[1:]
	}
	return append([]sentence(nil), seed...)
}

func join(ss []sentence) sentence {
	parts := make([]string, len(ss))
	for i, s := range ss {
		parts[i] = s.text
	}
	return sentence{text: strings.Join(parts, " "), off: ss[0].off}
}

func joinedLen(ss []sentence) int {
	if len(ss) == 0 {
		return 0
	}
	n := len(ss) - 1
	for _, s := range ss {
		n += utf8.RuneCountInString(s.text)
	}
	return n
}

// extractTables swaps every run of table lines (| ... |) for an opaque
// placeholder line and returns a Replacer that puts the tables back.
func extractTables(text string) (string, *strings.Replacer) {
	var (
		b     strings.Builder
		run   []string
		pairs []string
	)
	flush := func() {
		if len(run) == 0 {
			return
		}
		ph := placeholder(len(pairs) / 2)
		pairs = append(pairs, ph, strings.TrimRight(strings.Join(run, ""), "\n"))
		b.WriteString(ph)
		b.WriteByte('\n')
		run = run[:0]
	}
	for _, ln := range strings.SplitAfter(text, "\n") {
		t := strings.TrimSpace(ln)
		if len(t) >= 2 && t[0] == '|' && t[len(t)-1] == '|' {
			run = append(run, ln)
			continue
		}
		flush()
		b.WriteString(ln)
	}
	flush()
	return b.String(), strings.NewReplacer(pairs...)
}

func placeholder(i int) string {
	return "" + strconv.Itoa(i) + ""
}

// pageIndex holds the offsets of form feeds; pages are 1-based, 0 means unknown.
type pageIndex []int

func newPageIndex(s string) pageIndex {
	var p pageIndex
	for i := 0; i < len(s); i++ {
		if s[i] == '\f' {
			p = append(p, i)
		}
	}
	return p
}

func (p pageIndex) at(off int) int {
	if len(p) == 0 {
		return 0
	}
	return 1 + sort.SearchInts(p, off)
}

func leadingSpace(s string) int {
	return len(s) - len(strings.TrimLeftFunc(s, unicode.IsSpace))
}

func chunkID(idx int, text string) string {
	h := sha1.Sum([]byte(fmt.Sprintf("%d:%s", idx, text)))
	return hex.EncodeToString(h[:])
}
