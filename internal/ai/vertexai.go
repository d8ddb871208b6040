package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/seanblong/contractlens/internal/errs"
	"google.golang.org/genai"
)

const (
	taskRetrievalDocument = "RETRIEVAL_DOCUMENT"
	taskRetrievalQuery    = "RETRIEVAL_QUERY"
)

type VertexAIClient struct {
	config *ClientConfig
	client *genai.Client
}

// NewVertexAIClient creates a new client for the Google Gemini API.
func NewVertexAIClient(ctx context.Context, config *ClientConfig) (*VertexAIClient, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}

	// Defaults for Gemini API
	if config.EmbedModel == "" {
		config.EmbedModel = "text-multilingual-embedding-002"
	}
	if config.GenerateModel == "" {
		config.GenerateModel = "gemini-2.0-flash"
	}
	if config.Dim == 0 {
		config.Dim = 768
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 4096
	}
	if config.Location == "" && strings.TrimSpace(config.APIKey) == "" {
		config.Location = "us-central1"
	}

	cc := genai.ClientConfig{
		Backend: genai.BackendVertexAI,
	}

	if strings.TrimSpace(config.APIKey) != "" {
		cc.APIKey = config.APIKey
	}
	if strings.TrimSpace(config.ProjectID) != "" {
		cc.Project = config.ProjectID
	}
	if strings.TrimSpace(config.Location) != "" {
		cc.Location = config.Location
	}

	client, err := genai.NewClient(ctx, &cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &VertexAIClient{
		config: config,
		client: client,
	}, nil
}

// EmbedPassages embeds document passages with the RETRIEVAL_DOCUMENT task type.
func (c *VertexAIClient) EmbedPassages(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return c.embed(ctx, prefixAll(c.config.PassagePrefix, texts), taskRetrievalDocument)
}

// EmbedQuery embeds a question with the RETRIEVAL_QUERY task type.
func (c *VertexAIClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	out, err := c.embed(ctx, []string{c.config.QueryPrefix + text}, taskRetrievalQuery)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (c *VertexAIClient) embed(ctx context.Context, texts []string, task string) ([][]float32, error) {
	contents := make([]*genai.Content, 0, len(texts))
	for _, t := range texts {
		contents = append(contents, genai.Text(t)...)
	}
	cfg := genai.EmbedContentConfig{
		TaskType: task,
	}

	res, err := c.client.Models.EmbedContent(ctx, c.config.EmbedModel, contents, &cfg)
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", classifyGenAI(ctx, err))
	}

	if res == nil || len(res.Embeddings) != len(texts) {
		return nil, errors.New("embedding count mismatch")
	}

	out := make([][]float32, len(res.Embeddings))
	for i, e := range res.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}

// Complete performs a single GenerateContent call.
func (c *VertexAIClient) Complete(ctx context.Context, in Completion) (string, error) {
	temp := in.Temperature
	if temp == 0 {
		temp = c.config.Temperature
	}
	maxTokens := in.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.config.MaxTokens
	}
	cfg := genai.GenerateContentConfig{
		Temperature:     &temp,
		MaxOutputTokens: int32(maxTokens),
	}
	if in.System != "" {
		cfg.SystemInstruction = genai.Text(in.System)[0]
	}
	if in.JSON {
		cfg.ResponseMIMEType = "application/json"
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.config.GenerateModel, genai.Text(in.Prompt), &cfg)
	if err != nil {
		return "", fmt.Errorf("generation failed: %w", classifyGenAI(ctx, err))
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%w: no candidates returned", errs.ErrUpstreamUnavailable)
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

func (c *VertexAIClient) Dim() int {
	return c.config.Dim
}

// classifyGenAI maps a genai error onto the error taxonomy using its HTTP code.
func classifyGenAI(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.Code, apiErr.Error())
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return classifyStatus(apiErrPtr.Code, apiErrPtr.Error())
	}
	return fmt.Errorf("%w: %v", errs.ErrUpstreamUnavailable, err)
}
