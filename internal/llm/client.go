package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sort"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/aws-agent/verity/internal/engine"
	"github.com/aws-agent/verity/internal/metrics"
	"github.com/aws-agent/verity/internal/safety"
	"github.com/aws-agent/verity/pkg/circuitbreaker"
	"github.com/aws-agent/verity/pkg/config"
	"github.com/aws-agent/verity/pkg/logger"
	"github.com/aws-agent/verity/pkg/retry"
)

var ErrEmptyCompletion = errors.New("completion returned no choices")

type Client struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
}

type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	MaxTokens    int
}

type CompletionResponse struct {
	Content string
	Usage   Usage
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

func NewClient(cfg config.LLMConfig) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}

	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	logger.Info("LLM client initialized", zap.String("model", cfg.Model))

	return &Client{
		client:      openai.NewClientWithConfig(oc),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     timeout,
	}
}

// Complete makes a single chat completion call. Retries and breaking are
// left to the caller. Client errors (4xx other than 429) come back marked
// permanent.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	messages := []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		},
		{
			Role:    openai.ChatMessageRoleUser,
			Content: req.UserPrompt,
		},
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return nil, classify(fmt.Errorf("failed to create completion: %w", err))
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyCompletion
	}

	metrics.LLMTokensUsed.WithLabelValues(c.model, "prompt").Add(float64(resp.Usage.PromptTokens))
	metrics.LLMTokensUsed.WithLabelValues(c.model, "completion").Add(float64(resp.Usage.CompletionTokens))

	logger.Debug("LLM completion generated",
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
	)

	return &CompletionResponse{
		Content: resp.Choices[0].Message.Content,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

const regenerateSystemPrompt = `You answer questions using ONLY the numbered sources provided.

Your answer must:
1. Cite every claim with the source number in square brackets, e.g. [1]
2. Copy numbers exactly as they appear in the sources
3. Say plainly when the sources do not contain the answer
4. Be written in the same language as the question
5. Describe findings, not feelings: never claim opinions, emotions or experiences

Be concise.`

// Regenerate produces a new candidate answer. It satisfies engine.RegenerateFunc.
func (c *Client) Regenerate(ctx context.Context, req *engine.RegenerationRequest) (string, error) {
	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: regenerateSystemPrompt,
		UserPrompt:   BuildRegenerationPrompt(req),
	})
	if err != nil {
		return "", fmt.Errorf("failed to regenerate answer: %w", err)
	}

	logger.Info("Answer regenerated",
		zap.String("request_id", req.RequestID),
		zap.Int("round", req.Round),
		zap.Int("response_length", len(resp.Content)),
	)
	return strings.TrimSpace(resp.Content), nil
}

// BuildRegenerationPrompt lays out the question, numbered evidence and the
// problems found in the previous answer.
func BuildRegenerationPrompt(req *engine.RegenerationRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nSources:\n", req.Query)
	if len(req.Evidence) == 0 {
		b.WriteString("(none)\n")
	}
	for i, e := range req.Evidence {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, e.Text)
	}

	if req.PreviousAnswer != "" {
		fmt.Fprintf(&b, "\nPrevious answer:\n%s\n", req.PreviousAnswer)
	}
	if len(req.Reasons) > 0 {
		b.WriteString("\nProblems found in earlier answers:\n")
		for _, r := range req.Reasons {
			fmt.Fprintf(&b, "- %s\n", describeReason(r))
		}
	}
	b.WriteString("\nWrite an improved answer.")
	return b.String()
}

var reasonHints = map[string]string{
	"missing_citation":      "claims were not attributed to a source",
	"unsupported_citation":  "cited text was not supported by the cited source",
	"low_overlap":           "the answer drifted away from the sources",
	"untraceable_number":    "numbers did not match the sources",
	"unwarranted_certainty": "the answer sounded more certain than the sources allow",
	"anthropomorphic_claim": "the answer claimed feelings or personal opinions",
	"language_mismatch":     "the answer was not in the language of the question",
	"source_contradiction":  "the sources disagree; mention the disagreement",
}

func describeReason(code string) string {
	if hint, ok := reasonHints[code]; ok {
		return hint
	}
	return code
}

func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.HTTPStatusCode
		if code >= 400 && code < 500 && code != http.StatusTooManyRequests {
			return retry.Permanent(err)
		}
	}
	return err
}

// ModerationChecker backs the ethics validator with the OpenAI moderation
// endpoint. Calls are rate limited, retried and circuit broken.
type ModerationChecker struct {
	client  *openai.Client
	limiter *rate.Limiter
	cb      *circuitbreaker.CircuitBreaker
	retry   retry.Config
}

func NewModerationChecker(cfg config.LLMConfig) *ModerationChecker {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}

	rps := cfg.ModerationRPS
	if rps <= 0 {
		rps = 5
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}

	return &ModerationChecker{
		client:  openai.NewClientWithConfig(oc),
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		cb: circuitbreaker.NewCircuitBreaker("moderation", circuitbreaker.Config{
			MaxRequests:      1,
			Interval:         time.Minute,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
			SuccessThreshold: 1,
			OnStateChange:    metrics.ObserveBreaker,
			Logger:           logger.GetLogger(),
		}),
		retry: retry.Config{
			MaxAttempts:    2,
			InitialDelay:   100 * time.Millisecond,
			MaxDelay:       time.Second,
			Multiplier:     2.0,
			JitterFraction: 0.1,
			Logger:         logger.GetLogger(),
		},
	}
}

func (m *ModerationChecker) Check(ctx context.Context, text string) (safety.Result, error) {
	return circuitbreaker.ExecuteWithResult(ctx, m.cb, func() (safety.Result, error) {
		return retry.DoWithResult(ctx, m.retry, func() (safety.Result, error) {
			if err := m.limiter.Wait(ctx); err != nil {
				return safety.Result{}, retry.Permanent(err)
			}
			resp, err := m.client.Moderations(ctx, openai.ModerationRequest{
				Input: text,
				Model: openai.ModerationTextLatest,
			})
			if err != nil {
				return safety.Result{}, classify(fmt.Errorf("moderation request failed: %w", err))
			}
			return moderationResult(resp)
		})
	})
}

func moderationResult(resp openai.ModerationResponse) (safety.Result, error) {
	res := safety.Result{Provider: "openai"}
	for _, r := range resp.Results {
		if !r.Flagged {
			continue
		}
		res.Flagged = true

		// Category names come from the JSON tags so new categories need no code change.
		raw, err := json.Marshal(r.Categories)
		if err != nil {
			return safety.Result{}, fmt.Errorf("failed to read moderation categories: %w", err)
		}
		var cats map[string]bool
		if err := json.Unmarshal(raw, &cats); err != nil {
			return safety.Result{}, fmt.Errorf("failed to read moderation categories: %w", err)
		}
		for name, hit := range cats {
			if hit && !slices.Contains(res.Categories, name) {
				res.Categories = append(res.Categories, name)
			}
		}
	}
	sort.Strings(res.Categories)
	return res, nil
}

var _ safety.Checker = (*ModerationChecker)(nil)
