package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// classifierMinTextLength is the "min length" below which text is never
// sent to the classifier (spec.md §4.3.4).
const classifierMinTextLength = 12

const (
	llmAutoStoreThreshold = 0.85
	llmSuggestThreshold   = 0.70
)

// ClassifyResult is the classifier's verdict on one text fragment.
type ClassifyResult struct {
	Type              SuggestionType
	Confidence        float64
	Reasoning         string
	ProcessingTimeMs  int64
	AutoStore         bool
	Suggest           bool
}

// Classifier is the text-to-suggestion-type backend contract; HTTPClassifier
// is the production implementation, talking to an OpenAI-compatible
// completion endpoint the way the teacher's agent/extraction services talk
// to their LLM backend, but over net/http instead of the WASM-only
// syscall/js fetch those packages used.
type Classifier interface {
	Classify(ctx context.Context, text string) (ClassifyResult, error)
	IsAvailable() bool
}

// HTTPClassifier posts text to an OpenAI-compatible /chat/completions
// endpoint and parses a JSON verdict out of the response content.
type HTTPClassifier struct {
	BaseURL string
	Model   string
	APIKey  string
	Client  *http.Client
}

// NewHTTPClassifier builds a classifier; an empty baseURL makes the
// classifier permanently unavailable (spec.md's "unavailable backend"
// case), which in practice means the capture pipeline runs in
// regex-only mode.
func NewHTTPClassifier(baseURL, model, apiKey string) *HTTPClassifier {
	return &HTTPClassifier{
		BaseURL: baseURL,
		Model:   model,
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *HTTPClassifier) IsAvailable() bool {
	return c != nil && c.BaseURL != ""
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

const classifierSystemPrompt = `You classify a piece of text as one of guideline, knowledge, tool, experience, or none.
Respond with compact JSON: {"type": "...", "confidence": 0.0-1.0, "reasoning": "..."}`

// Classify sends text to the configured model and returns a ClassifyResult
// with autoStore/suggest routing already applied, per spec.md §4.3.4.
func (c *HTTPClassifier) Classify(ctx context.Context, text string) (ClassifyResult, error) {
	start := time.Now()
	if !c.IsAvailable() || len(strings.TrimSpace(text)) < classifierMinTextLength {
		return ClassifyResult{Type: SuggestNone, Confidence: 0}, nil
	}

	body, err := json.Marshal(chatRequest{
		Model: c.Model,
		Messages: []chatMessage{
			{Role: "system", Content: classifierSystemPrompt},
			{Role: "user", Content: text},
		},
	})
	if err != nil {
		return ClassifyResult{}, fmt.Errorf("capture: encode classifier request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.BaseURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return ClassifyResult{}, fmt.Errorf("capture: build classifier request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return ClassifyResult{}, fmt.Errorf("capture: classifier call failed: %w", err)
	}
	defer resp.Body.Close()

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return ClassifyResult{}, fmt.Errorf("capture: decode classifier response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return ClassifyResult{Type: SuggestNone, Confidence: 0}, nil
	}

	verdict, err := parseVerdict(parsed.Choices[0].Message.Content)
	if err != nil {
		return ClassifyResult{Type: SuggestNone, Confidence: 0}, nil
	}
	verdict.ProcessingTimeMs = time.Since(start).Milliseconds()
	verdict.AutoStore = verdict.Confidence >= llmAutoStoreThreshold
	verdict.Suggest = !verdict.AutoStore && verdict.Confidence >= llmSuggestThreshold
	return verdict, nil
}

// parseVerdict tolerates markdown-fenced JSON and clamps out-of-range
// confidence to 0, mirroring the teacher's ParseResponse/stripCodeFence
// idiom for LLM responses that aren't always clean JSON.
func parseVerdict(raw string) (ClassifyResult, error) {
	cleaned := stripCodeFence(strings.TrimSpace(raw))
	var v struct {
		Type       string  `json:"type"`
		Confidence float64 `json:"confidence"`
		Reasoning  string  `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(cleaned), &v); err != nil {
		return ClassifyResult{}, err
	}
	if v.Confidence < 0 || v.Confidence > 1 {
		v.Confidence = 0
	}
	return ClassifyResult{
		Type:       SuggestionType(v.Type),
		Confidence: v.Confidence,
		Reasoning:  v.Reasoning,
	}, nil
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) > 0 {
		lines = lines[1:]
	}
	if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}
