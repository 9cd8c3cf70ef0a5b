package embedding

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	// OpenAIModel is the default remote embedding model.
	OpenAIModel = "text-embedding-3-small"

	// OpenAIDimensions is the vector dimension for text-embedding-3-small.
	OpenAIDimensions = 1536
)

// OpenAIProvider generates embeddings via the OpenAI embeddings API.
// It retries with exponential backoff on rate limit errors.
type OpenAIProvider struct {
	client *openai.Client
	model  string
	dims   int
}

// NewOpenAIProvider creates an OpenAI-backed provider. It reads
// OPENAI_API_KEY from the environment and returns an error if not set.
func NewOpenAIProvider(model string, dims int) (*OpenAIProvider, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("%w: OPENAI_API_KEY not set", ErrModelUnavailable)
	}
	if model == "" {
		model = OpenAIModel
	}
	if dims <= 0 {
		dims = OpenAIDimensions
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIProvider{client: &client, model: model, dims: dims}, nil
}

// Embed generates one embedding per input text, in input order.
// The role tag is ignored for OpenAI models; they are trained symmetric.
func (p *OpenAIProvider) Embed(ctx context.Context, texts []string, _ Role) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var embeddings [][]float32
	operation := func() error {
		resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{
				OfArrayOfStrings: texts,
			},
			Model: p.model,
		})
		if err != nil {
			if isRateLimitError(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		if len(resp.Data) != len(texts) {
			return backoff.Permanent(fmt.Errorf("got %d embeddings for %d inputs", len(resp.Data), len(texts)))
		}
		embeddings = make([][]float32, len(resp.Data))
		for i, data := range resp.Data {
			embeddings[i] = toFloat32(data.Embedding)
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	return embeddings, nil
}

// Dimensions returns the fixed vector length for this model.
func (p *OpenAIProvider) Dimensions() int { return p.dims }

// ModelID returns the remote model identifier.
func (p *OpenAIProvider) ModelID() string { return p.model }

// isRateLimitError checks for an HTTP 429 from the OpenAI API.
func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

// toFloat32 converts the API's float64 vectors to float32 for storage.
func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
