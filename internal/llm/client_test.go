package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aws-agent/verity/internal/engine"
	"github.com/aws-agent/verity/internal/models"
	"github.com/aws-agent/verity/pkg/config"
	"github.com/aws-agent/verity/pkg/retry"
)

func testLLMConfig(url string) config.LLMConfig {
	return config.LLMConfig{
		APIKey:        "test-key",
		BaseURL:       url + "/v1",
		Model:         "gpt-4o-mini",
		Temperature:   0.2,
		MaxTokens:     256,
		TimeoutSec:    5,
		ModerationRPS: 100,
	}
}

func TestRegenerate(t *testing.T) {
	var prompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		var body struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Messages, 2)
		prompt = body.Messages[1].Content

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","model":"gpt-4o-mini",
			"choices":[{"index":0,"message":{"role":"assistant","content":"  Paris is the capital of France [1]. "},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`))
	}))
	defer srv.Close()

	c := NewClient(testLLMConfig(srv.URL))
	var regen engine.RegenerateFunc = c.Regenerate

	text, err := regen(context.Background(), &engine.RegenerationRequest{
		Query:          "What is the capital of France?",
		Evidence:       []models.Evidence{{ID: "E1", Text: "Paris is the capital of France."}},
		Round:          2,
		PreviousAnswer: "France's capital is Paris.",
		Reasons:        []string{"missing_citation"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Paris is the capital of France [1].", text)
	assert.Contains(t, prompt, "[1] Paris is the capital of France.")
	assert.Contains(t, prompt, "claims were not attributed to a source")
	assert.Contains(t, prompt, "France's capital is Paris.")
}

func TestComplete_ClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	_, err := NewClient(testLLMConfig(srv.URL)).Complete(context.Background(), CompletionRequest{UserPrompt: "hi"})
	require.Error(t, err)
	assert.True(t, retry.IsPermanent(err))
}

func TestComplete_ServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":{"message":"upstream","type":"server_error"}}`))
	}))
	defer srv.Close()

	_, err := NewClient(testLLMConfig(srv.URL)).Complete(context.Background(), CompletionRequest{UserPrompt: "hi"})
	require.Error(t, err)
	assert.False(t, retry.IsPermanent(err))
}

func TestBuildRegenerationPrompt_NoEvidence(t *testing.T) {
	p := BuildRegenerationPrompt(&engine.RegenerationRequest{Query: "Why?", Reasons: []string{"custom_code"}})
	assert.Contains(t, p, "(none)")
	assert.Contains(t, p, "- custom_code")
	assert.NotContains(t, p, "Previous answer")
}

func TestModerationChecker(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.Equal(t, "/v1/moderations", r.URL.Path)
		var body struct {
			Input string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		flagged := strings.Contains(body.Input, "hurt")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":    "modr-1",
			"model": "text-moderation-latest",
			"results": []map[string]any{{
				"flagged":    flagged,
				"categories": map[string]bool{"violence": flagged, "hate": false},
			}},
		})
	}))
	defer srv.Close()

	m := NewModerationChecker(testLLMConfig(srv.URL))

	res, err := m.Check(context.Background(), "I want to hurt them")
	require.NoError(t, err)
	assert.True(t, res.Flagged)
	assert.Equal(t, []string{"violence"}, res.Categories)
	assert.Equal(t, "openai", res.Provider)

	res, err = m.Check(context.Background(), "Paris is in France")
	require.NoError(t, err)
	assert.False(t, res.Flagged)
	assert.EqualValues(t, 2, calls.Load())
}
