// Package extract turns raw review text into structured signals using an
// OpenAI-compatible chat completion API with a fixed JSON output schema.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tablesense/repute/config"
	"github.com/tablesense/repute/internal/review"
)

// Usage carries token counts for one API call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Request is one extraction request. Strict asks the model to re-emit the
// schema after a previous structurally invalid answer.
type Request struct {
	Text   string
	Rating int
	Strict bool
}

// Provider is the model behind the extraction engine.
type Provider interface {
	Extract(ctx context.Context, req Request) (review.ExtractedSignals, Usage, error)
}

// APIError carries the upstream HTTP status for retry classification.
type APIError struct {
	Code int
	Body string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("extraction API returned status %d: %s", e.Code, e.Body)
}

// ErrMalformedOutput marks model answers that were not valid JSON for the
// schema. It is never retried as transient; the engine escalates to a
// strict retry instead.
var ErrMalformedOutput = errors.New("model output did not match the schema")

// Transient reports whether an extraction error is worth retrying with
// backoff: throttling, server faults and network errors are, schema and
// hard client errors are not.
func Transient(err error) bool {
	if errors.Is(err, ErrMalformedOutput) || errors.Is(err, context.Canceled) {
		return false
	}
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Code == http.StatusTooManyRequests || ae.Code >= 500
	}
	return true
}

// Client calls an OpenAI-compatible chat completions endpoint.
type Client struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
}

// Message represents a message in a conversation
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// NewClient creates an extraction client from the llm config section.
func NewClient(cfg config.LLMConfig) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &Client{
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
	}
}

const systemPrompt = `You are a restaurant review analyst. You read one customer review and emit structured signals about it.

RULES:
1. Use only information stated in the review text.
2. Sentiments must be one of: positive, negative, mixed, neutral.
3. Omit aspect ratings the text gives no signal for (use null).
4. Flag anomalies conservatively.

RESPONSE FORMAT:
Respond ONLY with valid JSON in the following format:
{
  "overall_sentiment": "positive|negative|mixed|neutral",
  "sentiment_score": -1.0 to 1.0,
  "aspect_ratings": {"food": 1-5 or null, "service": 1-5 or null, "ambiance": 1-5 or null, "value": 1-5 or null},
  "mentioned_items": [{"name": "dish or drink name", "sentiment": "positive|negative|mixed|neutral"}],
  "staff_mentions": [{"name": "staff name or empty", "role": "server|host|manager|chef|unknown", "sentiment": "positive|negative|mixed|neutral", "specific_feedback": "verbatim phrase"}],
  "anomaly_flags": ["potential_fake"|"health_safety_concern"|"extreme_emotion"|"competitor_mention"],
  "key_phrases": {"positive_highlights": ["short phrases"], "negative_issues": ["short phrases"]},
  "themes": ["value", "speed", "atmosphere", ...]
}
Do not include any other text or explanation.`

const strictReminder = `

Your previous answer was not valid for the schema. Respond with EXACTLY the JSON object described above: no markdown fences, no commentary, every field present, sentiments only from the closed set.`

// schemaOutput is the wire shape the model emits; it differs from
// ExtractedSignals only in the nested key_phrases object.
type schemaOutput struct {
	OverallSentiment string               `json:"overall_sentiment"`
	SentimentScore   float64              `json:"sentiment_score"`
	AspectRatings    review.AspectRatings `json:"aspect_ratings"`
	MentionedItems   []review.MenuMention `json:"mentioned_items"`
	StaffMentions    []struct {
		Name             string `json:"name"`
		Role             string `json:"role"`
		Sentiment        string `json:"sentiment"`
		SpecificFeedback string `json:"specific_feedback"`
	} `json:"staff_mentions"`
	AnomalyFlags []string `json:"anomaly_flags"`
	KeyPhrases   struct {
		PositiveHighlights []string `json:"positive_highlights"`
		NegativeIssues     []string `json:"negative_issues"`
	} `json:"key_phrases"`
	Themes []string `json:"themes"`
}

// Extract runs one review through the model and maps the answer onto
// ExtractedSignals. Malformed JSON is reported as ErrMalformedOutput.
func (c *Client) Extract(ctx context.Context, req Request) (review.ExtractedSignals, Usage, error) {
	system := systemPrompt
	if req.Strict {
		system += strictReminder
	}
	userPrompt := fmt.Sprintf("STAR RATING: %d/5\n\nREVIEW TEXT:\n%s", req.Rating, req.Text)

	messages := []Message{
		{Role: "system", Content: system},
		{Role: "user", Content: userPrompt},
	}

	content, usage, err := c.sendRequest(ctx, messages)
	if err != nil {
		return review.ExtractedSignals{}, usage, err
	}

	var out schemaOutput
	if err := json.Unmarshal([]byte(stripFences(content)), &out); err != nil {
		return review.ExtractedSignals{}, usage, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	sig := review.ExtractedSignals{
		Sentiment:       review.Sentiment(strings.ToLower(strings.TrimSpace(out.OverallSentiment))),
		SentimentScore:  out.SentimentScore,
		Aspects:         out.AspectRatings,
		MenuMentions:    out.MentionedItems,
		AnomalyFlags:    out.AnomalyFlags,
		PositivePhrases: out.KeyPhrases.PositiveHighlights,
		NegativePhrases: out.KeyPhrases.NegativeIssues,
		Themes:          out.Themes,
		ExtractedAt:     time.Now().UTC(),
	}
	for _, m := range out.StaffMentions {
		sig.StaffMentions = append(sig.StaffMentions, review.StaffMention{
			Name:      m.Name,
			Role:      m.Role,
			Sentiment: review.Sentiment(strings.ToLower(strings.TrimSpace(m.Sentiment))),
			Feedback:  m.SpecificFeedback,
		})
	}
	return sig, usage, nil
}

func (c *Client) sendRequest(ctx context.Context, messages []Message) (string, Usage, error) {
	requestBody := chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return "", Usage{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", Usage{}, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", Usage{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", Usage{}, &APIError{Code: resp.StatusCode, Body: string(b)}
	}

	// A 200 with an undecodable body is a schema problem, not a transient
	// fault; let the engine escalate to the strict retry.
	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", Usage{}, fmt.Errorf("%w: parsing response: %v", ErrMalformedOutput, err)
	}
	if len(parsed.Choices) == 0 {
		return "", Usage{}, fmt.Errorf("%w: empty choices", ErrMalformedOutput)
	}
	usage := Usage{
		InputTokens:  parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
	}
	return parsed.Choices[0].Message.Content, usage, nil
}

// stripFences drops a markdown code fence if the model wrapped its JSON in
// one despite the instructions.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
