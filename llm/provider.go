package llm

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/Coldaine/repo-analysis-suite/model"
)

// The wire format here is the OpenAI chat completions schema, which local
// inference servers (Ollama, vLLM, llama.cpp) also speak.

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// chatCompletionsURL appends the chat completions path to a base URL.
func chatCompletionsURL(base string) string {
	base = strings.TrimRight(base, "/")
	if strings.HasSuffix(base, "/chat/completions") {
		return base
	}
	return base + "/chat/completions"
}

// setAuthHeader adds the bearer token when the endpoint names a key variable.
func setAuthHeader(req *http.Request, ep *model.EndpointConfig) {
	if ep.APIKeyEnv == "" {
		return
	}
	if key := os.Getenv(ep.APIKeyEnv); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
}

// buildRequestBody marshals the chat completions request.
func buildRequestBody(modelName string, req Request) ([]byte, error) {
	return json.Marshal(chatRequest{
		Model:       modelName,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
}

// parseResponse decodes a chat completions response.
func parseResponse(body []byte, fallbackModel string) (*Response, error) {
	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, NewFatalError(fmt.Errorf("parse response: %w", err))
	}
	if len(parsed.Choices) == 0 {
		return nil, NewFatalError(fmt.Errorf("response contained no choices"))
	}

	modelName := parsed.Model
	if modelName == "" {
		modelName = fallbackModel
	}

	return &Response{
		Content: parsed.Choices[0].Message.Content,
		Model:   modelName,
		Usage: TokenUsage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
		FinishReason: parsed.Choices[0].FinishReason,
	}, nil
}
