package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/LeeSinLiang/Janus-sub000/internal/metrics"
	"github.com/LeeSinLiang/Janus-sub000/internal/models"
)

// ChatClient talks to an OpenAI-compatible chat completions endpoint
type ChatClient struct {
	endpoint   string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewChatClient creates a chat completions client
func NewChatClient(endpoint, apiKey, model string, timeout time.Duration) *ChatClient {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &ChatClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		model:    model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// complete sends one system+user exchange and decodes the JSON reply into out
func (c *ChatClient) complete(ctx context.Context, system, user string, temperature float64, out any) error {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature:    temperature,
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var cr chatResponse
	if resp.StatusCode >= 400 {
		if json.Unmarshal(data, &cr) == nil && cr.Error != nil && cr.Error.Message != "" {
			return fmt.Errorf("API error: %s", cr.Error.Message)
		}
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	if err := json.Unmarshal(data, &cr); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return fmt.Errorf("no choices in response")
	}

	content := stripCodeFence(cr.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return fmt.Errorf("parse reply: %w", err)
	}
	return nil
}

// Generate writes the first A/B pair for a post
func (c *ChatClient) Generate(ctx context.Context, req GenerateRequest) (*Content, error) {
	start := time.Now()
	defer func() { metrics.ObserveGeneration("content", time.Since(start).Seconds()) }()

	var reply contentReply
	if err := c.complete(ctx, contentSystemPrompt, renderGeneratePrompt(req), 0.7, &reply); err != nil {
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}
	return reply.content()
}

// Regenerate writes an improved A/B pair from a performance analysis
func (c *ChatClient) Regenerate(ctx context.Context, req RegenerateRequest) (*Content, error) {
	start := time.Now()
	defer func() { metrics.ObserveGeneration("regenerate", time.Since(start).Seconds()) }()

	var reply contentReply
	if err := c.complete(ctx, contentSystemPrompt, renderRegeneratePrompt(req), 0.7, &reply); err != nil {
		return nil, fmt.Errorf("failed to regenerate content: %w", err)
	}
	return reply.content()
}

// Plan asks for a strategy diagram
func (c *ChatClient) Plan(ctx context.Context, req PlanRequest) (*Plan, error) {
	start := time.Now()
	defer func() { metrics.ObserveGeneration("strategy", time.Since(start).Seconds()) }()

	var plan Plan
	if err := c.complete(ctx, strategySystemPrompt, renderPlanPrompt(req), 0.4, &plan); err != nil {
		return nil, fmt.Errorf("failed to plan strategy: %w", err)
	}
	if strings.TrimSpace(plan.Diagram) == "" {
		return nil, fmt.Errorf("failed to plan strategy: empty diagram")
	}
	return &plan, nil
}

type contentReply struct {
	Variants []struct {
		VariantID string   `json:"variant_id"`
		Content   string   `json:"content"`
		Hook      string   `json:"hook"`
		Reasoning string   `json:"reasoning"`
		Hashtags  hashtags `json:"hashtags"`
		MediaURL  string   `json:"media_url"`
	} `json:"variants"`
}

func (r *contentReply) content() (*Content, error) {
	var out Content
	for _, v := range r.Variants {
		variant := Variant{
			Label:     models.VariantLabel(strings.ToUpper(strings.TrimSpace(v.VariantID))),
			Content:   truncate(strings.TrimSpace(v.Content), MaxContentLength),
			Hook:      v.Hook,
			Hashtags:  v.Hashtags,
			Reasoning: v.Reasoning,
			MediaURL:  v.MediaURL,
		}
		switch variant.Label {
		case models.VariantA:
			out.A = variant
		case models.VariantB:
			out.B = variant
		}
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return &out, nil
}

// hashtags accepts either a JSON array or a space separated string
type hashtags []string

func (h *hashtags) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*h = list
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*h = strings.Fields(strings.ReplaceAll(s, ",", " "))
	return nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
