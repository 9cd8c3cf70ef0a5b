package embedding

import (
	"context"
	"hash/fnv"
	"log/slog"
	"strings"
	"unicode"
)

// LocalModel is the identifier of the built-in fallback model.
const LocalModel = "local-hash-v1"

// LocalProvider is a deterministic, dependency-free embedding model used as
// the fallback path when the remote model cannot be reached. It feature-hashes
// word unigrams and bigrams into a fixed-length vector and L2-normalizes the
// result, so identical text always embeds identically.
//
// Retrieval quality is well below a trained model; it exists to keep the
// pipeline degraded-but-alive and to make tests hermetic.
type LocalProvider struct {
	dims   int
	device string
}

// NewLocalProvider creates a local provider with the given dimensionality.
// The device directive is resolved at load time: anything other than "cpu"
// is unavailable to the pure-Go implementation and downgrades to "cpu" with
// a warning rather than failing the pipeline.
func NewLocalProvider(dims int, device string, logger *slog.Logger) *LocalProvider {
	if dims <= 0 {
		dims = 384
	}
	if logger == nil {
		logger = slog.Default()
	}
	if device == "" {
		device = "cpu"
	}
	if device != "cpu" {
		logger.Warn("requested device unavailable, using default",
			"requested", device, "device", "cpu")
		device = "cpu"
	}
	return &LocalProvider{dims: dims, device: device}
}

// Embed produces one vector per text, in input order. The role tag prefixes
// the input ("query: " / "passage: ") so queries and documents land in
// slightly different regions; the output dimensionality never changes.
func (p *LocalProvider) Embed(_ context.Context, texts []string, role Role) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		switch role {
		case RoleQuery:
			text = "query: " + text
		case RoleDocument:
			text = "passage: " + text
		}
		out[i] = p.embedOne(text)
	}
	return out, nil
}

func (p *LocalProvider) embedOne(text string) []float32 {
	v := make([]float32, p.dims)
	tokens := tokenize(text)
	for i, tok := range tokens {
		addFeature(v, tok)
		if i+1 < len(tokens) {
			addFeature(v, tok+" "+tokens[i+1])
		}
	}
	normalize(v)
	return v
}

// addFeature hashes a token into a bucket with a hash-derived sign.
func addFeature(v []float32, token string) {
	h := fnv.New64a()
	h.Write([]byte(token))
	sum := h.Sum64()
	bucket := int(sum % uint64(len(v)))
	if sum&(1<<63) != 0 {
		v[bucket]--
	} else {
		v[bucket]++
	}
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// Dimensions returns the configured vector length.
func (p *LocalProvider) Dimensions() int { return p.dims }

// ModelID returns the local model identifier.
func (p *LocalProvider) ModelID() string { return LocalModel }

// Device returns the resolved compute device.
func (p *LocalProvider) Device() string { return p.device }
