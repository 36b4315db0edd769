package llm

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// googleProvider talks to the Gemini generateContent endpoint.
type googleProvider struct {
	httpBackend
}

type googleRequest struct {
	Contents          []googleContent  `json:"contents"`
	SystemInstruction *googleContent   `json:"systemInstruction,omitempty"`
	GenerationConfig  *googleGenConfig `json:"generationConfig,omitempty"`
}

type googleContent struct {
	Parts []googlePart `json:"parts"`
	Role  string       `json:"role,omitempty"`
}

type googlePart struct {
	Text string `json:"text"`
}

type googleGenConfig struct {
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	Temperature      float64 `json:"temperature"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type googleCandidate struct {
	Content googleContent `json:"content"`
}

type googleResponse struct {
	Candidates []googleCandidate `json:"candidates"`
	Error      *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (g *googleProvider) Name() string {
	return "google/" + g.model
}

func (g *googleProvider) Complete(ctx context.Context, prompt string, opts CompletionOpts) (string, error) {
	req := googleRequest{
		Contents: []googleContent{{Parts: []googlePart{{Text: prompt}}, Role: "user"}},
		GenerationConfig: &googleGenConfig{
			MaxOutputTokens: opts.MaxTokens,
			Temperature:     opts.Temperature,
		},
	}
	if opts.System != "" {
		req.SystemInstruction = &googleContent{Parts: []googlePart{{Text: opts.System}}}
	}
	if opts.JSON {
		req.GenerationConfig.ResponseMimeType = "application/json"
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		g.baseURL, url.PathEscape(g.modelFor(opts)), url.QueryEscape(g.apiKey))

	var resp googleResponse
	if err := g.post(ctx, "google", endpoint, nil, req, &resp); err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", fmt.Errorf("google API error: %s (code %d)", resp.Error.Message, resp.Error.Code)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("empty response from google API")
	}

	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return strings.TrimSpace(sb.String()), nil
}
