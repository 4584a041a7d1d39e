// ABOUTME: Chat completions backend for OpenAI and OpenAI-compatible providers
// ABOUTME: Covers openai, openrouter, together, groq, ollama, lmstudio and custom endpoints

package provider

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type openAIBackend struct {
	httpClient *http.Client
}

func (b *openAIBackend) complete(ctx context.Context, req *request) (string, error) {
	opts := []option.RequestOption{
		option.WithBaseURL(req.endpoint.BaseURL),
		option.WithMaxRetries(0),
	}
	// Local servers ignore the key but the SDK still sends a bearer header
	apiKey := req.apiKey
	if apiKey == "" {
		apiKey = "unused"
	}
	opts = append(opts, option.WithAPIKey(apiKey))
	if b.httpClient != nil {
		opts = append(opts, option.WithHTTPClient(b.httpClient))
	}
	client := openai.NewClient(opts...)

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.system)+1)
	for _, s := range req.system {
		messages = append(messages, openai.SystemMessage(s))
	}
	messages = append(messages, openai.UserMessage(req.user))

	params := openai.ChatCompletionNewParams{
		Messages:  messages,
		Model:     req.model,
		MaxTokens: openai.Int(req.maxTokens),
	}
	if req.temperature != nil {
		params.Temperature = openai.Float(*req.temperature)
	}

	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices in completion")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
