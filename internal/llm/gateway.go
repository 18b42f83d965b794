// Package llm provides a provider-neutral structured-output gateway to
// cloud and local language models.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"reflect"
	"time"

	"github.com/rs/zerolog"

	"github.com/hedgeworks/hedged/internal/progress"
)

// DefaultMaxRetries bounds model call attempts before the default factory
// takes over.
const DefaultMaxRetries = 3

// Keys holds API keys for the cloud providers. Empty keys make the matching
// provider fail per-call.
type Keys struct {
	OpenAI    string
	Anthropic string
	Groq      string
	DeepSeek  string
}

// Request describes one structured model call.
type Request struct {
	Prompt       string
	SystemPrompt string
	AgentName    string
	Ticker       string

	Model    string
	Provider string

	// MaxRetries defaults to DefaultMaxRetries when zero.
	MaxRetries int

	// Target is a pointer to the schema struct the response is parsed into.
	Target any

	// Default produces the fallback value assigned to Target after all
	// retries fail. It must return the same concrete type Target points to.
	Default func() any

	// Progress receives per-retry status events when set.
	Progress *progress.Bus
}

// Caller is the capability analysts consume.
type Caller interface {
	Call(ctx context.Context, req Request) error
}

// Gateway dispatches model calls by provider and enforces the
// retry-then-default contract: model failures never propagate to agents.
type Gateway struct {
	httpClient    *http.Client
	keys          Keys
	ollamaBaseURL string
	endpoints     endpoints
	log           zerolog.Logger
}

// endpoints are overridable in tests.
type endpoints struct {
	openAI    string
	groq      string
	deepSeek  string
	anthropic string
}

// NewGateway creates a gateway. The HTTP client pools connections and allows
// generous response-header timeouts because model calls are slow.
func NewGateway(keys Keys, ollamaBaseURL string, log zerolog.Logger) *Gateway {
	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   15 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 120 * time.Second,
	}

	return &Gateway{
		httpClient:    &http.Client{Transport: transport, Timeout: 180 * time.Second},
		keys:          keys,
		ollamaBaseURL: ollamaBaseURL,
		endpoints: endpoints{
			openAI:    "https://api.openai.com/v1",
			groq:      "https://api.groq.com/openai/v1",
			deepSeek:  "https://api.deepseek.com/v1",
			anthropic: "https://api.anthropic.com/v1",
		},
		log: log.With().Str("component", "llm").Logger(),
	}
}

// Call runs the request, parsing the model output into req.Target. After
// MaxRetries failed attempts it assigns the default factory's value instead.
// The returned error is non-nil only for caller bugs (nil target / factory).
func (g *Gateway) Call(ctx context.Context, req Request) error {
	if req.Target == nil {
		return fmt.Errorf("llm call for %s has no target", req.AgentName)
	}
	if reflect.ValueOf(req.Target).Kind() != reflect.Ptr {
		return fmt.Errorf("llm call target for %s must be a pointer", req.AgentName)
	}

	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	for attempt := 1; attempt <= maxRetries; attempt++ {
		err := g.attempt(ctx, req)
		if err == nil {
			return nil
		}

		g.log.Warn().
			Err(err).
			Str("agent", req.AgentName).
			Str("model", req.Model).
			Int("attempt", attempt).
			Msg("Model call failed")

		if req.Progress != nil {
			req.Progress.UpdateStatus(req.AgentName, req.Ticker,
				fmt.Sprintf("Error - retry %d/%d", attempt, maxRetries), "")
		}

		// Context cancellation is not retryable.
		if ctx.Err() != nil {
			break
		}
	}

	if req.Default == nil {
		return fmt.Errorf("llm call for %s exhausted retries and has no default factory", req.AgentName)
	}
	fallback := req.Default()
	target := reflect.ValueOf(req.Target).Elem()
	value := reflect.ValueOf(fallback)
	if !value.Type().AssignableTo(target.Type()) {
		return fmt.Errorf("llm default factory for %s returned %T, target is %s", req.AgentName, fallback, target.Type())
	}
	target.Set(value)
	return nil
}

func (g *Gateway) attempt(ctx context.Context, req Request) error {
	content, err := g.complete(ctx, req)
	if err != nil {
		return err
	}

	// Providers with native JSON mode return a bare object; the rest get the
	// fenced-block extraction.
	payload := content
	if !SupportsJSONMode(req.Provider) {
		payload = ExtractJSON(content)
	}
	if payload == "" {
		return fmt.Errorf("no JSON object in model response")
	}

	if err := json.Unmarshal([]byte(payload), req.Target); err != nil {
		// JSON-mode providers occasionally wrap output anyway; try the
		// extractor before giving up on the attempt.
		extracted := ExtractJSON(content)
		if extracted == "" || json.Unmarshal([]byte(extracted), req.Target) != nil {
			return fmt.Errorf("failed to parse model response: %w", err)
		}
	}
	return nil
}

// complete dispatches the completion call by provider and returns raw text.
func (g *Gateway) complete(ctx context.Context, req Request) (string, error) {
	switch NormalizeProvider(req.Provider) {
	case ProviderOpenAI:
		return g.callOpenAICompatible(ctx, g.endpoints.openAI, g.keys.OpenAI, req)
	case ProviderGroq:
		return g.callOpenAICompatible(ctx, g.endpoints.groq, g.keys.Groq, req)
	case ProviderDeepSeek:
		return g.callOpenAICompatible(ctx, g.endpoints.deepSeek, g.keys.DeepSeek, req)
	case ProviderAnthropic:
		return g.callAnthropic(ctx, req)
	case ProviderOllama:
		return g.callOllama(ctx, req)
	default:
		return "", fmt.Errorf("unknown model provider %q", req.Provider)
	}
}

func (g *Gateway) callOpenAICompatible(ctx context.Context, baseURL, apiKey string, req Request) (string, error) {
	if apiKey == "" {
		return "", fmt.Errorf("no API key configured for provider %s", req.Provider)
	}

	messages := []map[string]string{}
	if req.SystemPrompt != "" {
		messages = append(messages, map[string]string{"role": "system", "content": req.SystemPrompt})
	}
	messages = append(messages, map[string]string{"role": "user", "content": req.Prompt})

	body := map[string]any{
		"model":           req.Model,
		"messages":        messages,
		"temperature":     0.2,
		"response_format": map[string]string{"type": "json_object"},
	}

	data, err := g.post(ctx, baseURL+"/chat/completions", body, map[string]string{
		"Authorization": "Bearer " + apiKey,
	})
	if err != nil {
		return "", err
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("failed to decode completion response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("completion response has no choices")
	}
	return out.Choices[0].Message.Content, nil
}

func (g *Gateway) callAnthropic(ctx context.Context, req Request) (string, error) {
	if g.keys.Anthropic == "" {
		return "", fmt.Errorf("no API key configured for provider %s", req.Provider)
	}

	body := map[string]any{
		"model":      req.Model,
		"max_tokens": 4096,
		"messages": []map[string]string{
			{"role": "user", "content": req.Prompt},
		},
	}
	if req.SystemPrompt != "" {
		body["system"] = req.SystemPrompt
	}

	data, err := g.post(ctx, g.endpoints.anthropic+"/messages", body, map[string]string{
		"x-api-key":         g.keys.Anthropic,
		"anthropic-version": "2023-06-01",
	})
	if err != nil {
		return "", err
	}

	var out struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("failed to decode messages response: %w", err)
	}
	if len(out.Content) == 0 {
		return "", fmt.Errorf("messages response has no content")
	}
	return out.Content[0].Text, nil
}

func (g *Gateway) callOllama(ctx context.Context, req Request) (string, error) {
	messages := []map[string]string{}
	if req.SystemPrompt != "" {
		messages = append(messages, map[string]string{"role": "system", "content": req.SystemPrompt})
	}
	messages = append(messages, map[string]string{"role": "user", "content": req.Prompt})

	body := map[string]any{
		"model":    req.Model,
		"messages": messages,
		"stream":   false,
		"format":   "json",
	}

	data, err := g.post(ctx, g.ollamaBaseURL+"/api/chat", body, nil)
	if err != nil {
		return "", err
	}

	var out struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("failed to decode ollama response: %w", err)
	}
	return out.Message.Content, nil
}

func (g *Gateway) post(ctx context.Context, url string, body any, headers map[string]string) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("model endpoint returned %d: %s", resp.StatusCode, truncate(data, 200))
	}
	return data, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
