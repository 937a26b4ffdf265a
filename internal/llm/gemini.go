package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"clausecheck/internal/logging"
	"clausecheck/internal/types"
)

// GeminiClient implements types.LLMClient against the Gemini REST API.
type GeminiClient struct {
	apiKey          string
	baseURL         string
	model           string
	maxOutputTokens int
	httpClient      *http.Client

	mu          sync.Mutex
	lastRequest time.Time
}

// GeminiConfig configures a GeminiClient.
type GeminiConfig struct {
	APIKey          string
	BaseURL         string
	Model           string
	Timeout         time.Duration
	MaxOutputTokens int
}

// NewGeminiClient creates a Gemini client.
func NewGeminiClient(cfg GeminiConfig) *GeminiClient {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-2.5-flash"
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Minute
	}
	maxTokens := cfg.MaxOutputTokens
	if maxTokens == 0 {
		maxTokens = 65536
	}

	return &GeminiClient{
		apiKey:          cfg.APIKey,
		baseURL:         baseURL,
		model:           model,
		maxOutputTokens: maxTokens,
		httpClient:      &http.Client{Timeout: timeout},
	}
}

// Model returns the model identifier recorded on analyses.
func (c *GeminiClient) Model() string { return c.model }

// Complete sends a prompt and returns the completion.
func (c *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem sends a prompt with a system message.
func (c *GeminiClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := c.CompleteWithTools(ctx, systemPrompt, userPrompt, nil)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// CompleteWithTools sends a prompt with tool definitions and returns
// the response with any tool calls the model requested.
func (c *GeminiClient) CompleteWithTools(ctx context.Context, systemPrompt, userPrompt string, tools []types.ToolDefinition) (*types.LLMToolResponse, error) {
	// Auto-apply timeout if context has no deadline
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	startTime := time.Now()
	logging.APIDebug("[Gemini] CompleteWithTools: model=%s tools=%d system_len=%d user_len=%d",
		c.model, len(tools), len(systemPrompt), len(userPrompt))

	if c.apiKey == "" {
		return nil, fmt.Errorf("API key not configured")
	}

	// Rate limiting
	c.mu.Lock()
	elapsed := time.Since(c.lastRequest)
	if elapsed < 100*time.Millisecond {
		time.Sleep(100*time.Millisecond - elapsed)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()

	geminiTools := make([]geminiFunctionDeclaration, len(tools))
	for i, t := range tools {
		geminiTools[i] = geminiFunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.InputSchema,
		}
	}

	reqBody := geminiRequest{
		Contents: []geminiContent{
			{
				Role:  "user",
				Parts: []geminiPart{{Text: userPrompt}},
			},
		},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     1.0,
			MaxOutputTokens: c.maxOutputTokens,
		},
	}
	if systemPrompt != "" {
		reqBody.SystemInstruction = &geminiContent{
			Parts: []geminiPart{{Text: systemPrompt}},
		}
	}
	if len(geminiTools) > 0 {
		reqBody.Tools = []geminiTool{{FunctionDeclarations: geminiTools}}
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logging.Get(logging.CategoryAPI).Error("[Gemini] request failed after %v: %v", time.Since(startTime), err)
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		logging.Get(logging.CategoryAPI).Error("[Gemini] API returned status %d: %s", resp.StatusCode, string(body))
		return nil, decodeProviderError(resp.StatusCode, body)
	}

	var geminiResp geminiResponse
	if err := json.Unmarshal(body, &geminiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if geminiResp.Error != nil {
		return nil, &ProviderError{Provider: "gemini", Code: geminiResp.Error.Status, Message: geminiResp.Error.Message}
	}

	result := &types.LLMToolResponse{
		Usage: types.UsageMetadata{
			InputTokens:  geminiResp.UsageMetadata.PromptTokenCount,
			OutputTokens: geminiResp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:  geminiResp.UsageMetadata.TotalTokenCount,
		},
	}
	if len(geminiResp.Candidates) > 0 {
		result.StopReason = normalizeStopReason(geminiResp.Candidates[0].FinishReason)
		var textBuilder strings.Builder
		for _, part := range geminiResp.Candidates[0].Content.Parts {
			if part.Text != "" {
				textBuilder.WriteString(part.Text)
			}
			if part.FunctionCall != nil {
				result.ToolCalls = append(result.ToolCalls, types.ToolCall{
					ID:    fmt.Sprintf("call_%d", len(result.ToolCalls)),
					Name:  part.FunctionCall.Name,
					Input: part.FunctionCall.Args,
				})
			}
		}
		result.Text = strings.TrimSpace(textBuilder.String())
	}
	if len(result.ToolCalls) > 0 && result.StopReason == "end_turn" {
		result.StopReason = "tool_use"
	}

	logging.API("[Gemini] completed in %v text_len=%d tool_calls=%d stop_reason=%s",
		time.Since(startTime), len(result.Text), len(result.ToolCalls), result.StopReason)
	return result, nil
}

// normalizeStopReason maps Gemini finish reasons onto the neutral
// vocabulary the agent loop checks.
func normalizeStopReason(finishReason string) string {
	switch strings.ToUpper(finishReason) {
	case "STOP", "":
		return "end_turn"
	case "MAX_TOKENS":
		return "max_tokens"
	default:
		return strings.ToLower(finishReason)
	}
}

// decodeProviderError extracts the provider's status from a non-200
// error body, falling back to the HTTP code.
func decodeProviderError(httpStatus int, body []byte) error {
	var parsed struct {
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != nil {
		code := parsed.Error.Status
		if code == "" {
			code = fmt.Sprintf("HTTP_%d", httpStatus)
		}
		return &ProviderError{Provider: "gemini", Code: code, Message: parsed.Error.Message}
	}
	return &ProviderError{
		Provider: "gemini",
		Code:     fmt.Sprintf("HTTP_%d", httpStatus),
		Message:  strings.TrimSpace(string(body)),
	}
}
