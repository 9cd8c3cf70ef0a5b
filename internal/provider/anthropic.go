package provider

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// DefaultAnthropicModel is used when neither config nor params name a model.
const DefaultAnthropicModel = "claude-sonnet-4-20250514"

const defaultAnthropicMaxTokens = 1024

// AnthropicProvider generates text via the Anthropic messages API.
// Config is an opaque map: "api_key" (falls back to ANTHROPIC_API_KEY),
// "model", "base_url".
type AnthropicProvider struct {
	config map[string]string
}

// NewAnthropicProvider creates the provider; availability is re-checked on
// every call.
func NewAnthropicProvider(config map[string]string) *AnthropicProvider {
	if config == nil {
		config = map[string]string{}
	}
	return &AnthropicProvider{config: config}
}

func (p *AnthropicProvider) apiKey() string {
	if k := p.config["api_key"]; k != "" {
		return k
	}
	return os.Getenv("ANTHROPIC_API_KEY")
}

// Available reports whether credentials are present right now.
func (p *AnthropicProvider) Available() bool {
	return p.apiKey() != ""
}

// Name returns "anthropic".
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Generate runs a single-turn message over the assembled prompt.
func (p *AnthropicProvider) Generate(ctx context.Context, prompt string, params Params) (string, error) {
	key := p.apiKey()
	if key == "" {
		return "", errors.New("anthropic: no API key")
	}

	opts := []option.RequestOption{option.WithAPIKey(key)}
	if base := p.config["base_url"]; base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	client := anthropic.NewClient(opts...)

	model := params.Model
	if model == "" {
		model = p.config["model"]
	}
	if model == "" {
		model = DefaultAnthropicModel
	}
	maxTokens := params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	msg, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("messages: %w", err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", errors.New("messages returned no text content")
	}
	return b.String(), nil
}
