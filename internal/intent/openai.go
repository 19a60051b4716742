package intent

import (
	"context"
	"fmt"
	"net/http"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

type OpenAI struct {
	client openai.Client
	model  openai.ChatModel
}

// NewOpenAI builds a chat-completions classifier. httpClient may be nil or a
// proxied client from NewSocksClient.
func NewOpenAI(apiKey, model string, httpClient *http.Client, opts ...option.RequestOption) *OpenAI {
	if model == "" {
		model = string(openai.ChatModelGPT5Nano)
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &OpenAI{
		client: openai.NewClient(opts...),
		model:  openai.ChatModel(model),
	}
}

func (o *OpenAI) Classify(ctx context.Context, text string, hints Hints) (Result, error) {
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt(text, hints)),
		},
		Model: o.model,
	})
	if err != nil {
		return UnknownResult, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return UnknownResult, fmt.Errorf("no choices in response")
	}

	content := resp.Choices[0].Message.Content
	if content == "" {
		return UnknownResult, fmt.Errorf("empty message content")
	}
	return Parse(content)
}
