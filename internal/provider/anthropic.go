// ABOUTME: Messages API backend for Anthropic Claude models
// ABOUTME: Sends system instructions as system blocks and the transcript as one user turn

package provider

import (
	"context"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type anthropicBackend struct {
	httpClient *http.Client
}

func (b *anthropicBackend) complete(ctx context.Context, req *request) (string, error) {
	opts := []option.RequestOption{
		option.WithAPIKey(req.apiKey),
		option.WithBaseURL(req.endpoint.BaseURL),
		option.WithMaxRetries(0),
	}
	if b.httpClient != nil {
		opts = append(opts, option.WithHTTPClient(b.httpClient))
	}
	client := anthropic.NewClient(opts...)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.model),
		MaxTokens: req.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.user)),
		},
	}
	if len(req.system) > 0 {
		blocks := make([]anthropic.TextBlockParam, 0, len(req.system))
		for _, s := range req.system {
			blocks = append(blocks, anthropic.TextBlockParam{Text: s})
		}
		params.System = blocks
	}
	if req.temperature != nil {
		params.Temperature = anthropic.Float(*req.temperature)
	}

	resp, err := client.Messages.New(ctx, params)
	if err != nil {
		return "", err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.AsText().Text)
		}
	}
	return strings.TrimSpace(text.String()), nil
}
