package ai

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/seanblong/contractlens/internal/errs"
	"google.golang.org/genai"
)

func TestNewVertexAIClient_NilConfig(t *testing.T) {
	if _, err := NewVertexAIClient(context.Background(), nil); err == nil {
		t.Fatal("Expected error for nil config")
	}
}

func TestClassifyGenAI(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected error
	}{
		{"quota", genai.APIError{Code: 429, Message: "quota"}, errs.ErrUpstreamUnavailable},
		{"wrapped permission", fmt.Errorf("call: %w", genai.APIError{Code: 403, Message: "denied"}), errs.ErrUpstreamAuth},
		{"server", genai.APIError{Code: 500, Message: "boom"}, errs.ErrUpstreamUnavailable},
		{"unknown transport", errors.New("dial tcp: refused"), errs.ErrUpstreamUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyGenAI(context.Background(), tt.err)
			if !errors.Is(got, tt.expected) {
				t.Errorf("classifyGenAI(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestClassifyGenAI_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if got := classifyGenAI(ctx, errors.New("x")); !errors.Is(got, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", got)
	}
}
