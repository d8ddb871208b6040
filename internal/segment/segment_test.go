package segment

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSegment_ClauseExample(t *testing.T) {
	chunks := Segment("1. Rent. INR 25000 per month.\n2. Deposit. INR 150000.", Config{MaxSize: 1000, Overlap: 150})

	if len(chunks) != 2 {
		t.Fatalf("Expected 2 chunks, got %d: %+v", len(chunks), chunks)
	}
	expected := []struct {
		label, text string
	}{
		{"1.", "1. Rent. INR 25000 per month."},
		{"2.", "2. Deposit. INR 150000."},
	}
	for i, e := range expected {
		if chunks[i].ClauseLabel != e.label {
			t.Errorf("chunk %d label = %q, want %q", i, chunks[i].ClauseLabel, e.label)
		}
		if chunks[i].Text != e.text {
			t.Errorf("chunk %d text = %q, want %q", i, chunks[i].Text, e.text)
		}
		if chunks[i].Index != i {
			t.Errorf("chunk %d index = %d", i, chunks[i].Index)
		}
		if chunks[i].Page != 0 {
			t.Errorf("chunk %d page = %d, want 0 without page breaks", i, chunks[i].Page)
		}
	}
}

func TestSegment_EmptyInput(t *testing.T) {
	for _, in := range []string{"", "   ", "\n\n\t", "\f"} {
		if got := Segment(in, DefaultConfig()); len(got) != 0 {
			t.Errorf("Segment(%q) returned %d chunks, want 0", in, len(got))
		}
	}
}

func TestSegment_Markers(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		labels []string
	}{
		{
			name:   "no markers is one section",
			text:   "This agreement is made between the parties. It is binding.",
			labels: []string{""},
		},
		{
			name:   "preamble then lettered items",
			text:   "The tenant agrees to:\n(a) pay rent on time\n(b) keep the premises clean",
			labels: []string{"", "(a)", "(b)"},
		},
		{
			name:   "nested numbering",
			text:   "1.1 Term of lease.\n1.2.3 Renewal terms.\n",
			labels: []string{"1.1", "1.2.3"},
		},
		{
			name:   "all caps labels",
			text:   "WHEREAS. The landlord owns the flat.\nNOW. The parties agree.",
			labels: []string{"WHEREAS.", "NOW."},
		},
		{
			name:   "marker not at line start is ignored",
			text:   "See clause 1. for details and clause 2. for more.",
			labels: []string{""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := Segment(tt.text, DefaultConfig())
			if len(chunks) != len(tt.labels) {
				t.Fatalf("Expected %d chunks, got %d: %+v", len(tt.labels), len(chunks), chunks)
			}
			for i, l := range tt.labels {
				if chunks[i].ClauseLabel != l {
					t.Errorf("chunk %d label = %q, want %q", i, chunks[i].ClauseLabel, l)
				}
			}
		})
	}
}

const fourSentences = "Alpha beta gamma delta. Epsilon zeta eta theta. Iota kappa lambda mu. Nu xi omicron pi rho."

func TestSegment_SentenceSplitWithOverlap(t *testing.T) {
	chunks := Segment(fourSentences, Config{MaxSize: 60, Overlap: 25})

	expected := []string{
		"Alpha beta gamma delta. Epsilon zeta eta theta.",
		"Epsilon zeta eta theta. Iota kappa lambda mu.",
		"Iota kappa lambda mu. Nu xi omicron pi rho.",
	}
	if len(chunks) != len(expected) {
		t.Fatalf("Expected %d chunks, got %d: %+v", len(expected), len(chunks), chunks)
	}
	for i, e := range expected {
		if chunks[i].Text != e {
			t.Errorf("chunk %d = %q, want %q", i, chunks[i].Text, e)
		}
	}
}

func TestSegment_SentenceSplitWithoutOverlap(t *testing.T) {
	chunks := Segment(fourSentences, Config{MaxSize: 60, Overlap: 0})

	expected := []string{
		"Alpha beta gamma delta. Epsilon zeta eta theta.",
		"Iota kappa lambda mu. Nu xi omicron pi rho.",
	}
	if len(chunks) != len(expected) {
		t.Fatalf("Expected %d chunks, got %d: %+v", len(expected), len(chunks), chunks)
	}
	for i, e := range expected {
		if chunks[i].Text != e {
			t.Errorf("chunk %d = %q, want %q", i, chunks[i].Text, e)
		}
	}
}

func TestSegment_OverlapNeverSplitsSentence(t *testing.T) {
	// Each sentence is longer than the overlap, so no seed can be taken.
	chunks := Segment(fourSentences, Config{MaxSize: 30, Overlap: 10})
	for _, c := range chunks {
		if !strings.HasSuffix(c.Text, ".") {
			t.Errorf("chunk %q does not end on a sentence boundary", c.Text)
		}
	}
	if len(chunks) != 4 {
		t.Errorf("Expected one chunk per sentence, got %d", len(chunks))
	}
}

func TestSegment_Properties(t *testing.T) {
	var b strings.Builder
	b.WriteString("RENTAL AGREEMENT between the landlord and the tenant.\n")
	for i := 1; i <= 12; i++ {
		b.WriteString(strings.Repeat("x", i))
		b.WriteString("\n")
		b.WriteString(string(rune('0'+i%10)) + ". ")
		for j := 0; j < i; j++ {
			b.WriteString("The tenant shall not sublet the premises without written consent. ")
			b.WriteString("Rent increases are capped at five percent per annum! ")
			b.WriteString("Is the deposit refundable? ")
		}
		b.WriteString("\n")
	}
	text := b.String()
	cfg := Config{MaxSize: 200, Overlap: 60}

	first := Segment(text, cfg)
	if len(first) == 0 {
		t.Fatal("Expected chunks")
	}

	longest := 0
	for _, s := range []string{
		"The tenant shall not sublet the premises without written consent.",
		"Rent increases are capped at five percent per annum!",
		"Is the deposit refundable?",
	} {
		if n := utf8.RuneCountInString(s); n > longest {
			longest = n
		}
	}

	for i, c := range first {
		if c.Index != i {
			t.Errorf("chunk %d has index %d", i, c.Index)
		}
		if strings.TrimSpace(c.Text) == "" {
			t.Errorf("chunk %d is empty", i)
		}
		if n := utf8.RuneCountInString(c.Text); n > cfg.MaxSize+longest {
			t.Errorf("chunk %d has %d runes, limit %d", i, n, cfg.MaxSize+longest)
		}
		if c.ID == "" {
			t.Errorf("chunk %d has no id", i)
		}
	}

	second := Segment(text, cfg)
	if len(second) != len(first) {
		t.Fatalf("Segment is not deterministic: %d vs %d chunks", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("chunk %d differs between runs", i)
		}
	}
}

func TestSegment_TablesStayWhole(t *testing.T) {
	table := "| Month | Amount. Due |\n| Jan | 100. Paid |"
	text := "1. Payment schedule applies. Rent is due monthly as follows.\n" + table + "\n2. Deposit. INR 5000."

	chunks := Segment(text, Config{MaxSize: 30, Overlap: 0})

	var found bool
	for _, c := range chunks {
		if strings.Contains(c.Text, "| Jan |") || strings.Contains(c.Text, "| Month |") {
			if !strings.Contains(c.Text, table) {
				t.Errorf("table was split: %q", c.Text)
			}
			if c.ClauseLabel != "1." {
				t.Errorf("table chunk label = %q, want 1.", c.ClauseLabel)
			}
			found = true
		}
		if strings.ContainsRune(c.Text, '') {
			t.Errorf("placeholder leaked into %q", c.Text)
		}
	}
	if !found {
		t.Fatal("table text missing from output")
	}

	last := chunks[len(chunks)-1]
	if last.ClauseLabel != "2." || last.Text != "2. Deposit. INR 5000." {
		t.Errorf("Unexpected last chunk %+v", last)
	}
}

func TestSegment_Pages(t *testing.T) {
	chunks := Segment("1. First page clause.\f2. Second page clause.\f\f3. Fourth page.", DefaultConfig())

	expected := []struct {
		label string
		page  int
		text  string
	}{
		{"1.", 1, "1. First page clause."},
		{"2.", 2, "2. Second page clause."},
		{"3.", 4, "3. Fourth page."},
	}
	if len(chunks) != len(expected) {
		t.Fatalf("Expected %d chunks, got %d: %+v", len(expected), len(chunks), chunks)
	}
	for i, e := range expected {
		if chunks[i].ClauseLabel != e.label || chunks[i].Page != e.page || chunks[i].Text != e.text {
			t.Errorf("chunk %d = %+v, want label %q page %d text %q", i, chunks[i], e.label, e.page, e.text)
		}
	}
}

func TestConfigNormalized(t *testing.T) {
	tests := []struct {
		in, expected Config
	}{
		{Config{}, Config{MaxSize: 800, Overlap: 0}},
		{Config{MaxSize: 100, Overlap: -5}, Config{MaxSize: 100, Overlap: 0}},
		{Config{MaxSize: 100, Overlap: 100}, Config{MaxSize: 100, Overlap: 25}},
		{Config{MaxSize: 100, Overlap: 40}, Config{MaxSize: 100, Overlap: 40}},
	}
	for _, tt := range tests {
		if got := tt.in.normalized(); got != tt.expected {
			t.Errorf("%+v.normalized() = %+v, want %+v", tt.in, got, tt.expected)
		}
	}
}

func TestChunkIDDeterministic(t *testing.T) {
	if chunkID(0, "a") != chunkID(0, "a") {
		t.Error("chunkID is not deterministic")
	}
	if chunkID(0, "a") == chunkID(1, "a") {
		t.Error("chunkID ignores the index")
	}
}
