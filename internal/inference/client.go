// Package inference talks to the local inference engine over an
// OpenAI-compatible chat API and provides deterministic heuristic
// fallbacks for every operation, so the pipeline keeps working when
// the engine is down, slow, or unsure.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"autocom/internal/config"
	"autocom/internal/logging"
	"autocom/internal/types"
)

// HTTPClient implements types.InferenceClient against a chat
// completions endpoint (Ollama, llama.cpp server, or compatible).
type HTTPClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewHTTPClient creates an inference client from configuration.
func NewHTTPClient(cfg config.InferenceConfig, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// complete sends one system+user exchange and returns the assistant
// text.
func (c *HTTPClient) complete(ctx context.Context, system, user string) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0.1,
		MaxTokens:   1024,
	}
	data, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrAnalysisUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", types.ErrAnalysisUnavailable, resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("%w: %s", types.ErrAnalysisUnavailable, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices", types.ErrAnalysisUnavailable)
	}

	logging.Inference("completion ok in %v", time.Since(start))
	return parsed.Choices[0].Message.Content, nil
}

const intentSystemPrompt = `You classify a user command for a message assistant.
Respond with only JSON: {"action": string, "target": string, "parameters": object of strings, "confidence": number 0..1}.
Actions: fetch, summarize, draft_reply, complete_task, mark_read, archive, add_priority_sender, unknown.
Targets: gmail, slack, tasks, all.`

type intentWire struct {
	Action     string            `json:"action"`
	Target     string            `json:"target"`
	Parameters map[string]string `json:"parameters"`
	Confidence float64           `json:"confidence"`
}

// ClassifyIntent asks the engine for a structured intent.
func (c *HTTPClient) ClassifyIntent(ctx context.Context, text string, history []types.ContextEntry) (types.Intent, error) {
	var b strings.Builder
	if len(history) > 0 {
		b.WriteString("Recent context:\n")
		for _, e := range history {
			fmt.Fprintf(&b, "- user: %s / assistant: %s\n", e.Command, e.Response)
		}
		b.WriteString("\n")
	}
	b.WriteString("Command: " + text)

	out, err := c.complete(ctx, intentSystemPrompt, b.String())
	if err != nil {
		return types.Intent{}, err
	}

	var wire intentWire
	if err := json.Unmarshal([]byte(extractJSON(out)), &wire); err != nil {
		return types.Intent{}, fmt.Errorf("%w: bad intent payload: %v", types.ErrAnalysisUnavailable, err)
	}

	intent := types.Intent{
		Action:     wire.Action,
		Target:     wire.Target,
		Parameters: wire.Parameters,
		Confidence: wire.Confidence,
		RawInput:   text,
	}
	if err := intent.Validate(); err != nil {
		return types.Intent{}, fmt.Errorf("%w: invalid intent", types.ErrAnalysisUnavailable)
	}
	return intent, nil
}

const analysisSystemPrompt = `You analyze one inbound message for an assistant.
Respond with only JSON: {"summary": string, "score": number -1..1, "urgency": number 0..10,
"tone": "urgent"|"negative"|"positive"|"neutral", "tasks": [string], "requires_response": bool}.`

type analysisWire struct {
	Summary          string   `json:"summary"`
	Score            float64  `json:"score"`
	Urgency          float64  `json:"urgency"`
	Tone             string   `json:"tone"`
	Tasks            []string `json:"tasks"`
	RequiresResponse bool     `json:"requires_response"`
}

// AnalyzeMessage asks the engine for a message analysis.
func (c *HTTPClient) AnalyzeMessage(ctx context.Context, msg types.Message) (*types.Analysis, error) {
	user := fmt.Sprintf("From: %s\nSubject: %s\n\n%s", msg.Sender, msg.Subject, msg.Body)
	out, err := c.complete(ctx, analysisSystemPrompt, user)
	if err != nil {
		return nil, err
	}

	var wire analysisWire
	if err := json.Unmarshal([]byte(extractJSON(out)), &wire); err != nil {
		return nil, fmt.Errorf("%w: bad analysis payload: %v", types.ErrAnalysisUnavailable, err)
	}

	analysis := &types.Analysis{
		Summary: wire.Summary,
		Sentiment: &types.SentimentResult{
			Score:   wire.Score,
			Urgency: wire.Urgency,
			Tone:    types.Tone(wire.Tone),
		},
		RequiresResponse: wire.RequiresResponse,
	}
	for _, title := range wire.Tasks {
		title = strings.TrimSpace(title)
		if title == "" {
			continue
		}
		analysis.Tasks = append(analysis.Tasks, types.Task{
			ID:              uuid.NewString(),
			Title:           title,
			Description:     title,
			Priority:        wire.Urgency * 10,
			SourceMessageID: msg.ID,
			Status:          types.TaskPending,
			CreatedAt:       time.Now(),
		})
	}
	return analysis, nil
}

const draftSystemPrompt = `You draft a short reply to the message below.
Match the sender's register. Respond with only the reply text.`

// GenerateDraft asks the engine for a reply draft.
func (c *HTTPClient) GenerateDraft(ctx context.Context, msg types.Message, history []types.ContextEntry) (string, error) {
	var b strings.Builder
	for _, e := range history {
		fmt.Fprintf(&b, "Earlier: %s -> %s\n", e.Command, e.Response)
	}
	fmt.Fprintf(&b, "From: %s\nSubject: %s\n\n%s", msg.Sender, msg.Subject, msg.Body)

	out, err := c.complete(ctx, draftSystemPrompt, b.String())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// extractJSON pulls the first JSON object out of a completion that may
// wrap it in prose or a code fence.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
