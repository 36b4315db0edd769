package llm

import (
	"context"
	"fmt"
	"strings"
)

// openrouterProvider talks to OpenRouter's OpenAI-compatible chat endpoint.
type openrouterProvider struct {
	httpBackend
}

type orRequest struct {
	Model          string         `json:"model"`
	Messages       []orMessage    `json:"messages"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat *orResponseFmt `json:"response_format,omitempty"`
}

type orMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type orResponseFmt struct {
	Type string `json:"type"`
}

type orChoice struct {
	Message      orMessage `json:"message"`
	FinishReason string    `json:"finish_reason"`
}

type orResponse struct {
	Choices []orChoice `json:"choices"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (o *openrouterProvider) Name() string {
	return "openrouter/" + o.model
}

func (o *openrouterProvider) Complete(ctx context.Context, prompt string, opts CompletionOpts) (string, error) {
	messages := make([]orMessage, 0, 2)
	if opts.System != "" {
		messages = append(messages, orMessage{Role: "system", Content: opts.System})
	}
	messages = append(messages, orMessage{Role: "user", Content: prompt})

	req := orRequest{
		Model:       o.modelFor(opts),
		Messages:    messages,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}
	if opts.JSON {
		req.ResponseFormat = &orResponseFmt{Type: "json_object"}
	}

	headers := map[string]string{
		"Authorization": "Bearer " + o.apiKey,
		"HTTP-Referer":  "https://github.com/hurttlocker/impact",
		"X-Title":       "Impact Engine",
	}
	var resp orResponse
	if err := o.post(ctx, "openrouter", o.baseURL+"/chat/completions", headers, req, &resp); err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", fmt.Errorf("openrouter API error: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from openrouter API")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
