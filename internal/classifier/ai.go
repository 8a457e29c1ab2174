package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/supportdesk/triage-service/internal/config"
	"github.com/supportdesk/triage-service/internal/domain"
)

const systemPrompt = `You are an assistant for customer support ticket classification.
Analyze the customer message and classify it.

Categories:
- question: customer asking for information or clarification
- request: customer requesting a feature, change, or action
- complaint: customer expressing dissatisfaction or reporting a problem
- feedback: customer providing positive or constructive feedback
- bug_report: customer reporting a technical bug or error
- general: anything that does not fit the other categories

Priority levels:
- urgent: critical issues affecting business operations, security, or causing data loss
- high: important issues like billing problems, account access, or significant bugs
- medium: standard requests, questions, or minor issues
- low: general inquiries, feedback, or feature requests

Respond with ONLY valid JSON in this exact format:
{"category": "complaint", "priority": "high", "tags": ["billing", "refund"], "reasoning": "short explanation", "sentiment": "negative"}`

// OpenAIClient calls an OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	endpoint    string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	timeout     time.Duration
}

// NewOpenAIClient builds the remote classifier from configuration.
func NewOpenAIClient(cfg config.AIConfig) *OpenAIClient {
	return &OpenAIClient{
		endpoint:    cfg.Endpoint,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout(),
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
	MaxTokens      int               `json:"max_tokens"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type aiVerdict struct {
	Category  string   `json:"category"`
	Priority  string   `json:"priority"`
	Tags      []string `json:"tags"`
	Reasoning string   `json:"reasoning"`
	Sentiment string   `json:"sentiment"`
}

// Classify sends one chat completion request. The agent timeout bounds the call
// even when ctx carries no deadline.
func (c *OpenAIClient) Classify(ctx context.Context, in Input) (Classification, error) {
	if err := ctx.Err(); err != nil {
		return Classification{}, err
	}
	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout || timeout <= 0 {
			timeout = remaining
		}
	}

	agent := fiber.Post(c.endpoint)
	agent.Set(fiber.HeaderAuthorization, "Bearer "+c.apiKey)
	agent.JSON(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt(in)},
		},
		Temperature:    c.temperature,
		MaxTokens:      c.maxTokens,
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if timeout > 0 {
		agent.Timeout(timeout)
	}

	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return Classification{}, fmt.Errorf("ai request: %w", errors.Join(errs...))
	}
	if code < 200 || code >= 300 {
		return Classification{}, fmt.Errorf("ai request: unexpected status %d", code)
	}
	return ParseCompletion(body)
}

// ParseCompletion extracts a classification from a chat completion body.
func ParseCompletion(body []byte) (Classification, error) {
	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Classification{}, fmt.Errorf("decode completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Classification{}, errors.New("completion has no choices")
	}
	return ParseVerdict(resp.Choices[0].Message.Content)
}

// ParseVerdict decodes the JSON object the model was asked to produce.
func ParseVerdict(content string) (Classification, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var verdict aiVerdict
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &verdict); err != nil {
		return Classification{}, fmt.Errorf("decode verdict: %w", err)
	}
	priority, ok := domain.ParsePriority(verdict.Priority)
	if !ok {
		return Classification{}, fmt.Errorf("unknown priority %q", verdict.Priority)
	}
	category := domain.QueryCategory(strings.ToLower(strings.TrimSpace(verdict.Category)))
	if !category.Valid() {
		return Classification{}, fmt.Errorf("unknown category %q", verdict.Category)
	}
	return Classification{
		Category:  category,
		Priority:  priority,
		Tags:      NormalizeTags(verdict.Tags),
		Reasoning: verdict.Reasoning,
		Sentiment: verdict.Sentiment,
	}, nil
}

func userPrompt(in Input) string {
	sender := in.Sender
	if sender == "" {
		sender = "Unknown"
	}
	return fmt.Sprintf("Classify this customer message:\n\nSubject: %s\n\nMessage:\n%s\n\nChannel: %s\nSender: %s",
		in.Subject, in.Content, in.Channel, sender)
}
