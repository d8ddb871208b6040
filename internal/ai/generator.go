package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/contractlens/internal/errs"
	"golang.org/x/time/rate"
)

const jsonOnlyInstruction = "\n\nRespond ONLY with valid JSON. No markdown, no explanation, no code blocks."

var thinkRe = regexp.MustCompile(`(?s)<think>.*?</think>`)

// GeneratorConfig bounds the retry loop around a Completer.
type GeneratorConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
	// AttemptTimeout caps a single round trip; zero leaves it to the caller's context.
	AttemptTimeout time.Duration
	// RequestsPerSecond throttles outbound calls; zero disables throttling.
	RequestsPerSecond float64
	Burst             int
}

// Generator drives a Completer through Sent -> AwaitingResponse ->
// {Parsed, RetryableFailure -> Sent, FatalFailure}.
type Generator struct {
	completer Completer
	cfg       GeneratorConfig
	limiter   *rate.Limiter
	sleep     func(ctx context.Context, d time.Duration) error
}

func NewGenerator(c Completer, cfg GeneratorConfig) *Generator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	g := &Generator{completer: c, cfg: cfg, sleep: sleepCtx}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return g
}

type genState int

const (
	stateSent genState = iota
	stateAwaiting
	stateParsed
	stateRetryable
	stateFatal
)

// Generate returns the cleaned model output. With structured set the result
// is guaranteed to be valid JSON, otherwise an errs.ErrParse error is returned
// once attempts run out.
func (g *Generator) Generate(ctx context.Context, prompt, system string, structured bool) (string, error) {
	req := Completion{Prompt: prompt, System: system, JSON: structured}
	if structured {
		req.System += jsonOnlyInstruction
	}

	var (
		text    string
		callErr error
		lastErr error
		attempt int
	)
	state := stateSent
	for {
		switch state {
		case stateSent:
			attempt++
			if g.limiter != nil {
				if err := g.limiter.Wait(ctx); err != nil {
					lastErr = err
					state = stateFatal
					continue
				}
			}
			text, callErr = g.complete(ctx, req)
			state = stateAwaiting

		case stateAwaiting:
			if callErr != nil {
				lastErr = callErr
				if ctx.Err() == nil && errs.Retryable(callErr) {
					state = stateRetryable
				} else {
					state = stateFatal
				}
				continue
			}
			text = StripReasoning(text)
			if structured && !json.Valid([]byte(text)) {
				text = ExtractJSON(text)
				if !json.Valid([]byte(text)) {
					lastErr = fmt.Errorf("%w: response is not valid JSON", errs.ErrParse)
					log.Warn().Int("attempt", attempt).Msg("llm returned invalid json")
					state = stateRetryable
					continue
				}
			}
			state = stateParsed

		case stateParsed:
			log.Debug().Int("attempt", attempt).Int("response_len", len(text)).Msg("llm generate")
			return text, nil

		case stateRetryable:
			if attempt >= g.cfg.MaxAttempts {
				return "", fmt.Errorf("inference failed after %d attempts: %w", attempt, lastErr)
			}
			backoff := g.cfg.BaseBackoff << (attempt - 1)
			log.Warn().Err(lastErr).Int("attempt", attempt).Dur("backoff", backoff).Msg("llm retry")
			if err := g.sleep(ctx, backoff); err != nil {
				lastErr = err
				state = stateFatal
				continue
			}
			state = stateSent

		case stateFatal:
			return "", lastErr
		}
	}
}

func (g *Generator) complete(ctx context.Context, req Completion) (string, error) {
	if g.cfg.AttemptTimeout <= 0 {
		return g.completer.Complete(ctx, req)
	}
	actx, cancel := context.WithTimeout(ctx, g.cfg.AttemptTimeout)
	defer cancel()
	text, err := g.completer.Complete(actx, req)
	if err != nil && ctx.Err() == nil && actx.Err() != nil {
		// the attempt timed out, not the caller
		return "", fmt.Errorf("%w: attempt timed out", errs.ErrUpstreamUnavailable)
	}
	return text, err
}

// StripReasoning removes <think>...</think> blocks emitted by reasoning models.
func StripReasoning(s string) string {
	return strings.TrimSpace(thinkRe.ReplaceAllString(s, ""))
}

// ExtractJSON returns the JSON-looking substring of s that starts first,
// preferring one that actually parses. s is returned unchanged when no
// bracketed span is found.
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)
	cands := make([]string, 0, 2)
	ai, arr := span(s, '[', ']')
	oi, obj := span(s, '{', '}')
	switch {
	case arr != "" && obj != "" && oi < ai:
		cands = append(cands, obj, arr)
	default:
		if arr != "" {
			cands = append(cands, arr)
		}
		if obj != "" {
			cands = append(cands, obj)
		}
	}
	for _, c := range cands {
		if json.Valid([]byte(c)) {
			return c
		}
	}
	if len(cands) > 0 {
		return cands[0]
	}
	return s
}

func span(s string, open, shut byte) (int, string) {
	i, j := strings.IndexByte(s, open), strings.LastIndexByte(s, shut)
	if i < 0 || j <= i {
		return -1, ""
	}
	return i, s[i : j+1]
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
