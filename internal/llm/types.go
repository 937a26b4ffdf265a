// Package llm provides the language model clients used by the
// verification agent: a Gemini REST client with native function
// calling and a scripted mock for tests and dry runs.
package llm

import "fmt"

// =============================================================================
// GEMINI WIRE TYPES
// =============================================================================

// geminiContent represents content in the request.
type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

// geminiPart represents a part of the content. Tool results travel
// back to the model as prose in the next turn's prompt, so only text
// and function calls appear on the wire.
type geminiPart struct {
	Text         string              `json:"text,omitempty"`
	FunctionCall *geminiFunctionCall `json:"functionCall,omitempty"`
}

// geminiFunctionCall represents a function call from the model.
type geminiFunctionCall struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

// geminiGenerationConfig represents generation parameters.
type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

// geminiRequest represents the Gemini API request.
type geminiRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig,omitempty"`
	Tools             []geminiTool           `json:"tools,omitempty"`
}

// geminiTool represents a tool declaration for function calling.
type geminiTool struct {
	FunctionDeclarations []geminiFunctionDeclaration `json:"functionDeclarations"`
}

// geminiFunctionDeclaration represents a function declaration.
type geminiFunctionDeclaration struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// geminiResponse represents the API response.
type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiResponsePart `json:"parts"`
			Role  string               `json:"role"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

// geminiResponsePart represents a part of the response content.
type geminiResponsePart struct {
	Text         string              `json:"text,omitempty"`
	FunctionCall *geminiFunctionCall `json:"functionCall,omitempty"`
}

// =============================================================================
// PROVIDER ERRORS
// =============================================================================

// ProviderError is an error surfaced by the LLM provider, carrying the
// provider's own status code so it can be recorded on failed batches.
type ProviderError struct {
	Provider string
	Code     string // provider status, e.g. "RESOURCE_EXHAUSTED", "HTTP_429"
	Message  string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s (code=%s)", e.Provider, e.Message, e.Code)
}
