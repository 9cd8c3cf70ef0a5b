package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// DefaultOllamaURL is the stock local ollama endpoint.
const DefaultOllamaURL = "http://localhost:11434"

// OllamaProvider generates text from local model weights served by an
// ollama instance. Config is an opaque map: "base_url", "model".
type OllamaProvider struct {
	config map[string]string
	client *http.Client
}

// NewOllamaProvider creates the provider. Availability means the local
// server answers, checked fresh on every call.
func NewOllamaProvider(config map[string]string) *OllamaProvider {
	if config == nil {
		config = map[string]string{}
	}
	return &OllamaProvider{
		config: config,
		client: &http.Client{},
	}
}

func (p *OllamaProvider) baseURL() string {
	if u := p.config["base_url"]; u != "" {
		return u
	}
	return DefaultOllamaURL
}

// Available probes the local server with a short deadline.
func (p *OllamaProvider) Available() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL()+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Name returns "ollama".
func (p *OllamaProvider) Name() string { return "ollama" }

type ollamaRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Error    string `json:"error"`
}

// Generate calls the non-streaming completion endpoint.
func (p *OllamaProvider) Generate(ctx context.Context, prompt string, params Params) (string, error) {
	model := params.Model
	if model == "" {
		model = p.config["model"]
	}
	if model == "" {
		return "", errors.New("ollama: no model configured")
	}

	body := ollamaRequest{Model: model, Prompt: prompt, Stream: false}
	if params.Temperature > 0 {
		body.Options = map[string]any{"temperature": params.Temperature}
	}
	if params.MaxTokens > 0 {
		if body.Options == nil {
			body.Options = map[string]any{}
		}
		body.Options["num_predict"] = params.MaxTokens
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL()+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	defer resp.Body.Close()

	var decoded ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("generate: status %d: %s", resp.StatusCode, decoded.Error)
	}
	if decoded.Error != "" {
		return "", fmt.Errorf("generate: %s", decoded.Error)
	}
	return decoded.Response, nil
}
