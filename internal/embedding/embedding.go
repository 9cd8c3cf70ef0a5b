// Package embedding turns text into fixed-length dense vectors.
//
// An Engine wraps a primary Provider (typically a remote embedding API) and
// falls back once to a local deterministic model when the primary cannot be
// reached. All vectors produced by one Engine share the same dimensionality.
package embedding

import (
	"context"
	"errors"
	"math"
)

// Role tags the purpose of a text being embedded. Providers may alter the
// input based on the role (e.g. a retrieval prefix) but never the output
// dimensionality.
type Role string

const (
	// RoleDocument marks corpus text being indexed.
	RoleDocument Role = "document"

	// RoleQuery marks a transient search query.
	RoleQuery Role = "query"
)

// ErrModelUnavailable is returned when neither the configured model nor the
// fallback model can produce embeddings.
var ErrModelUnavailable = errors.New("embedding model unavailable")

// Provider is the abstraction over a text-embedding backend.
//
// Embed returns one vector per input text, in input order; partial results
// are never returned. Implementations must be safe for concurrent use.
type Provider interface {
	Embed(ctx context.Context, texts []string, role Role) ([][]float32, error)
	Dimensions() int
	ModelID() string
}

// Config configures an Engine.
type Config struct {
	// Model is the primary embedding model identifier.
	Model string `yaml:"model"`

	// Dimensions is the vector length shared by primary and fallback.
	Dimensions int `yaml:"dimensions"`

	// Device is a declarative compute-device directive ("cpu",
	// "accelerator:0"). Remote providers ignore it; the local provider
	// resolves it at load time and downgrades to the default device when
	// the requested one is unavailable.
	Device string `yaml:"device"`

	// BatchSize is the maximum texts per provider call.
	BatchSize int `yaml:"batch_size"`
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Model:      OpenAIModel,
		Dimensions: OpenAIDimensions,
		Device:     "cpu",
		BatchSize:  DefaultBatchSize,
	}
}

// DefaultBatchSize balances requests-per-minute vs tokens-per-minute limits
// on remote providers.
const DefaultBatchSize = 256

// normalize scales v to unit length in place. A zero vector is left as is.
func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
}
