package provider

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultOpenAIModel is used when neither config nor params name a model.
const DefaultOpenAIModel = openai.ChatModelGPT4o

// OpenAIProvider generates text via the OpenAI chat completions API.
// Config is an opaque map: "api_key" (falls back to OPENAI_API_KEY),
// "model", "base_url".
type OpenAIProvider struct {
	config map[string]string
}

// NewOpenAIProvider creates the provider. Construction never fails; a
// missing key only makes the provider unavailable, which is re-checked on
// every call.
func NewOpenAIProvider(config map[string]string) *OpenAIProvider {
	if config == nil {
		config = map[string]string{}
	}
	return &OpenAIProvider{config: config}
}

func (p *OpenAIProvider) apiKey() string {
	if k := p.config["api_key"]; k != "" {
		return k
	}
	return os.Getenv("OPENAI_API_KEY")
}

// Available reports whether credentials are present right now.
func (p *OpenAIProvider) Available() bool {
	return p.apiKey() != ""
}

// Name returns "openai".
func (p *OpenAIProvider) Name() string { return "openai" }

// Generate runs a single-turn chat completion over the assembled prompt.
func (p *OpenAIProvider) Generate(ctx context.Context, prompt string, params Params) (string, error) {
	key := p.apiKey()
	if key == "" {
		return "", errors.New("openai: no API key")
	}

	opts := []option.RequestOption{option.WithAPIKey(key)}
	if base := p.config["base_url"]; base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	client := openai.NewClient(opts...)

	model := params.Model
	if model == "" {
		model = p.config["model"]
	}
	if model == "" {
		model = DefaultOpenAIModel
	}

	req := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model: model,
	}
	if params.MaxTokens > 0 {
		req.MaxTokens = openai.Int(int64(params.MaxTokens))
	}
	if params.Temperature > 0 {
		req.Temperature = openai.Float(params.Temperature)
	}

	resp, err := client.Chat.Completions.New(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
