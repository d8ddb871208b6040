package rag

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/seanblong/contractlens/internal/ai"
	"github.com/seanblong/contractlens/internal/errs"
	"github.com/seanblong/contractlens/internal/store"
	"github.com/seanblong/contractlens/pkg/models"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

// MockEmbedder implements ai.Embedder for testing
type MockEmbedder struct {
	EmbedQueryFunc func(ctx context.Context, text string) ([]float32, error)
}

func (m *MockEmbedder) EmbedPassages(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, nil
}

func (m *MockEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if m.EmbedQueryFunc != nil {
		return m.EmbedQueryFunc(ctx, text)
	}
	// Default implementation returns a simple embedding
	return []float32{0.1, 0.2, 0.3}, nil
}

func (m *MockEmbedder) Dim() int { return 3 }

// MockIndex implements store.Index for testing
type MockIndex struct {
	QueryFunc func(ctx context.Context, sessionID string, vec []float32, k int) ([]models.RetrievedChunk, error)
}

func (m *MockIndex) Upsert(ctx context.Context, sessionID string, items []models.IndexItem) error {
	return nil
}

func (m *MockIndex) Query(ctx context.Context, sessionID string, vec []float32, k int) ([]models.RetrievedChunk, error) {
	if m.QueryFunc != nil {
		return m.QueryFunc(ctx, sessionID, vec, k)
	}
	return []models.RetrievedChunk{}, nil
}

func (m *MockIndex) Drop(ctx context.Context, sessionID string) (int, error) { return 0, nil }
func (m *MockIndex) Sessions(ctx context.Context) ([]string, error)         { return nil, nil }
func (m *MockIndex) Count(ctx context.Context, sessionID string) (int, error) {
	return 0, nil
}

// MockGenerator records the last call and returns a canned response
type MockGenerator struct {
	GenerateFunc func(ctx context.Context, prompt, system string, structured bool) (string, error)
	Prompt       string
	System       string
	Structured   bool
}

func (m *MockGenerator) Generate(ctx context.Context, prompt, system string, structured bool) (string, error) {
	m.Prompt, m.System, m.Structured = prompt, system, structured
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, prompt, system, structured)
	}
	return "answer", nil
}

func TestEngine_Query(t *testing.T) {
	rent := models.RetrievedChunk{Chunk: models.Chunk{Text: "Rent is INR 25000.", ClauseLabel: "1.", Page: 2}, Distance: 0.1}
	preamble := models.RetrievedChunk{Chunk: models.Chunk{Text: "This agreement is made at Pune."}, Distance: 0.4}

	tests := []struct {
		name          string
		req           Request
		chunks        []models.RetrievedChunk
		embedErr      error
		queryErr      error
		wantK         int
		wantPrompt    string
		wantNotCover  bool
		expectedError error
	}{
		{
			name:   "context with clause and page",
			req:    Request{SessionID: "s1", Question: " What is the rent? ", System: "be brief"},
			chunks: []models.RetrievedChunk{rent, preamble},
			wantK:  DefaultTopK,
			wantPrompt: "Context from the contract:\n[1] (Clause 1.) [Page 2]: Rent is INR 25000.\n\n" +
				"[2]: This agreement is made at Pune.\n\n---\n\nQuestion:\nWhat is the rent?",
		},
		{
			name:         "empty index still answers",
			req:          Request{SessionID: "s1", Question: "Is there a lock-in?", TopK: 2},
			chunks:       []models.RetrievedChunk{},
			wantK:        2,
			wantPrompt:   "Context from the contract:\n\n\n---\n\nQuestion:\nIs there a lock-in?",
			wantNotCover: true,
		},
		{
			name:          "empty question",
			req:           Request{SessionID: "s1", Question: "   "},
			expectedError: errs.ErrValidation,
		},
		{
			name:          "embedding unavailable",
			req:           Request{SessionID: "s1", Question: "rent?"},
			embedErr:      errs.ErrUpstreamUnavailable,
			expectedError: errs.ErrUpstreamUnavailable,
		},
		{
			name:          "index failure",
			req:           Request{SessionID: "s1", Question: "rent?"},
			queryErr:      errors.New("pool closed"),
			expectedError: errors.New("retrieve passages: pool closed"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &MockGenerator{}
			var gotK int
			eng := NewEngine(
				&MockEmbedder{EmbedQueryFunc: func(ctx context.Context, text string) ([]float32, error) {
					if tt.embedErr != nil {
						return nil, tt.embedErr
					}
					return []float32{1, 0, 0}, nil
				}},
				&MockIndex{QueryFunc: func(ctx context.Context, sessionID string, vec []float32, k int) ([]models.RetrievedChunk, error) {
					gotK = k
					if sessionID != tt.req.SessionID {
						t.Errorf("Expected session %q, got %q", tt.req.SessionID, sessionID)
					}
					if !reflect.DeepEqual(vec, []float32{1, 0, 0}) {
						t.Errorf("Expected query vector [1 0 0], got %v", vec)
					}
					return tt.chunks, tt.queryErr
				}},
				gen, 0,
			)

			got, err := eng.Query(context.Background(), tt.req)

			if tt.expectedError != nil {
				if err == nil {
					t.Fatalf("Expected error '%v', got nil", tt.expectedError)
				}
				if !errors.Is(err, tt.expectedError) && err.Error() != tt.expectedError.Error() {
					t.Errorf("Expected error '%v', got '%v'", tt.expectedError, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != "answer" {
				t.Errorf("Expected 'answer', got %q", got)
			}
			if gotK != tt.wantK {
				t.Errorf("Expected k=%d, got %d", tt.wantK, gotK)
			}
			if gen.Prompt != tt.wantPrompt {
				t.Errorf("Prompt mismatch:\nwant %q\ngot  %q", tt.wantPrompt, gen.Prompt)
			}
			if !strings.HasPrefix(gen.System, tt.req.System) {
				t.Errorf("System instructions lost: %q", gen.System)
			}
			if got := strings.Contains(gen.System, NotCovered); got != tt.wantNotCover {
				t.Errorf("not-covered instruction present=%v, want %v", got, tt.wantNotCover)
			}
		})
	}
}

func TestEngine_QueryStructuredPassThrough(t *testing.T) {
	gen := &MockGenerator{GenerateFunc: func(ctx context.Context, prompt, system string, structured bool) (string, error) {
		return "", errs.ErrParse
	}}
	eng := NewEngine(&MockEmbedder{}, &MockIndex{}, gen, 3)

	_, err := eng.Query(context.Background(), Request{SessionID: "s1", Question: "list flags", Structured: true})
	if !errors.Is(err, errs.ErrParse) {
		t.Errorf("Expected parse error, got %v", err)
	}
	if !gen.Structured {
		t.Error("Expected structured flag to reach the generator")
	}
}

func TestEngine_Generate(t *testing.T) {
	gen := &MockGenerator{}
	eng := NewEngine(&MockEmbedder{EmbedQueryFunc: func(ctx context.Context, text string) ([]float32, error) {
		t.Error("Generate must not embed")
		return nil, nil
	}}, &MockIndex{}, gen, 0)

	out, err := eng.Generate(context.Background(), "compare these", "sys", true)
	if err != nil || out != "answer" {
		t.Fatalf("Generate() = %q, %v", out, err)
	}
	if gen.Prompt != "compare these" || gen.System != "sys" || !gen.Structured {
		t.Errorf("Unexpected call: %+v", gen)
	}
}

func TestEngine_QueryMemoryIndexWithStub(t *testing.T) {
	ctx := context.Background()
	stub := ai.NewStubClient(384)
	idx := store.NewMemoryIndex()

	texts := []string{"The tenant pays rent monthly.", "Either party may terminate with notice."}
	vecs, _ := stub.EmbedPassages(ctx, texts)
	items := make([]models.IndexItem, len(texts))
	for i := range texts {
		items[i] = models.IndexItem{Chunk: models.Chunk{ID: texts[i], Text: texts[i], Index: i}, Vector: vecs[i]}
	}
	if err := idx.Upsert(ctx, "s1", items); err != nil {
		t.Fatal(err)
	}

	gen := &MockGenerator{}
	eng := NewEngine(stub, idx, gen, 1)
	if _, err := eng.Query(ctx, Request{SessionID: "s1", Question: "how is rent paid by the tenant"}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !strings.Contains(gen.Prompt, "[1]: The tenant pays rent monthly.") {
		t.Errorf("Expected rent passage to rank first, prompt: %q", gen.Prompt)
	}
	if strings.Contains(gen.Prompt, "terminate") {
		t.Errorf("Expected top-1 retrieval only, prompt: %q", gen.Prompt)
	}

	gen2 := &MockGenerator{}
	eng2 := NewEngine(stub, idx, gen2, 1)
	if _, err := eng2.Query(ctx, Request{SessionID: "other", Question: "rent"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(gen2.System, NotCovered) {
		t.Error("Expected other session to see no passages")
	}
}
