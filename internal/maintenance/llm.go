package maintenance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coccobas/agent-memory/internal/store"
)

// llmMinTextLength mirrors the capture classifier's floor: fragments
// shorter than this are never sent to the model.
const llmMinTextLength = 12

// HTTPLLM is the shared OpenAI-compatible chat/completions client the
// three optional maintenance backends (Scorer/Titler/Extractor) embed.
// Modeled on capture.HTTPClassifier's request/response shape; this
// package declares its own copies of those structs, and the three
// backends share this one client.
type HTTPLLM struct {
	BaseURL string
	Model   string
	APIKey  string
	Client  *http.Client
}

func (c *HTTPLLM) IsAvailable() bool { return c != nil && c.BaseURL != "" }

type llmChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type llmChatRequest struct {
	Model    string            `json:"model"`
	Messages []llmChatMessage  `json:"messages"`
}

type llmChatResponse struct {
	Choices []struct {
		Message llmChatMessage `json:"message"`
	} `json:"choices"`
}

// complete sends one system/user exchange and returns the model's raw
// reply content.
func (c *HTTPLLM) complete(ctx context.Context, system, user string) (string, error) {
	if !c.IsAvailable() {
		return "", fmt.Errorf("maintenance: llm backend not configured")
	}
	body, err := json.Marshal(llmChatRequest{
		Model: c.Model,
		Messages: []llmChatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("maintenance: encode llm request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.BaseURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("maintenance: build llm request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("maintenance: llm call failed: %w", err)
	}
	defer resp.Body.Close()

	var parsed llmChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("maintenance: decode llm response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("maintenance: llm returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// HTTPScorer implements MessageScorer by asking the model for a single
// 0-1 relevance number.
type HTTPScorer struct{ HTTPLLM }

const relevanceScorerPrompt = `Rate how relevant this conversation message is to the agent's task, from 0.0 (noise) to 1.0 (critical). Respond with only the number.`

func (s *HTTPScorer) Score(ctx context.Context, m *store.ConversationMessage) (float64, error) {
	if len(strings.TrimSpace(m.Content)) < llmMinTextLength {
		return 0, nil
	}
	reply, err := s.complete(ctx, relevanceScorerPrompt, m.Content)
	if err != nil {
		return 0, err
	}
	score, err := strconv.ParseFloat(strings.TrimSpace(reply), 64)
	if err != nil {
		return 0, fmt.Errorf("maintenance: parse relevance score %q: %w", reply, err)
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, nil
}

// HTTPTitler implements TitleImprover by asking the model to rewrite a
// scenario into a short descriptive title.
type HTTPTitler struct{ HTTPLLM }

const titleImproverPrompt = `Rewrite the following experience scenario into a short, descriptive title (max 8 words). Respond with only the title, no quotes or punctuation beyond what the title needs.`

func (t *HTTPTitler) ImproveTitle(ctx context.Context, scenario, content string) (string, error) {
	user := scenario
	if user == "" {
		user = content
	}
	if len(strings.TrimSpace(user)) < llmMinTextLength {
		return "", nil
	}
	reply, err := t.complete(ctx, titleImproverPrompt, user)
	if err != nil {
		return "", err
	}
	title := strings.TrimSpace(reply)
	if len(title) > 80 {
		title = title[:80]
	}
	return title, nil
}

// HTTPExtractor implements InsightExtractor by asking the model for a
// newline-delimited list of standalone knowledge fragments mined out of
// an episode's message transcript.
type HTTPExtractor struct{ HTTPLLM }

const insightExtractorPrompt = `Read this conversation transcript and list any standalone, reusable pieces of knowledge it reveals, one per line. Respond with only the list, or an empty response if there are none.`

func (e *HTTPExtractor) ExtractInsights(ctx context.Context, messages []*store.ConversationMessage) ([]string, error) {
	var sb strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
	}
	transcript := sb.String()
	if len(strings.TrimSpace(transcript)) < llmMinTextLength {
		return nil, nil
	}
	reply, err := e.complete(ctx, insightExtractorPrompt, transcript)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out, nil
}

// NewHTTPLLM builds the shared client every optional backend embeds; an
// empty baseURL makes IsAvailable false and each task falls back to its
// notExecuted() precondition path, same as the capture classifier.
func NewHTTPLLM(baseURL, model, apiKey string) HTTPLLM {
	return HTTPLLM{BaseURL: baseURL, Model: model, APIKey: apiKey, Client: &http.Client{Timeout: 20 * time.Second}}
}
