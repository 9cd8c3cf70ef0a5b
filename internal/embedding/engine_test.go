package embedding

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyProvider fails a configurable number of calls before succeeding.
type flakyProvider struct {
	failures int
	calls    int
	dims     int
}

func (p *flakyProvider) Embed(_ context.Context, texts []string, _ Role) ([][]float32, error) {
	p.calls++
	if p.calls <= p.failures {
		return nil, errors.New("backend down")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, p.dims)
		v[0] = 1
		out[i] = v
	}
	return out, nil
}

func (p *flakyProvider) Dimensions() int { return p.dims }
func (p *flakyProvider) ModelID() string { return "flaky-test-model" }

func TestEngine_OutputMatchesInputOrder(t *testing.T) {
	local := NewLocalProvider(64, "cpu", slog.Default())
	e := NewEngine(local, Config{BatchSize: 2}, slog.Default())

	texts := []string{"alpha", "beta", "gamma", "delta", "epsilon"}
	vectors, err := e.Embed(context.Background(), texts, RoleDocument)
	require.NoError(t, err)
	require.Len(t, vectors, len(texts))

	// Re-embedding the same text individually must match its batched vector.
	for i, text := range texts {
		single, err := e.Embed(context.Background(), []string{text}, RoleDocument)
		require.NoError(t, err)
		assert.Equal(t, single[0], vectors[i], "text %d reordered", i)
	}
}

func TestEngine_RoleChangesInputNotDimensions(t *testing.T) {
	local := NewLocalProvider(64, "cpu", slog.Default())
	e := NewEngine(local, Config{}, slog.Default())

	doc, err := e.Embed(context.Background(), []string{"same words"}, RoleDocument)
	require.NoError(t, err)
	query, err := e.Embed(context.Background(), []string{"same words"}, RoleQuery)
	require.NoError(t, err)

	assert.Len(t, doc[0], 64)
	assert.Len(t, query[0], 64)
	assert.NotEqual(t, doc[0], query[0], "role tag should alter the embedding")
}

func TestEngine_FallsBackOnceThenFatal(t *testing.T) {
	primary := &flakyProvider{failures: 100, dims: 32}
	e := NewEngine(primary, Config{}, slog.Default())

	// First call: primary fails, fallback serves it.
	vectors, err := e.Embed(context.Background(), []string{"hello"}, RoleQuery)
	require.NoError(t, err)
	require.Len(t, vectors, 1)
	assert.True(t, e.Degraded())
	assert.Equal(t, LocalModel, e.ModelID())

	// Dimensions stay fixed across the degradation.
	assert.Equal(t, 32, e.Dimensions())
	assert.Len(t, vectors[0], 32)
}

func TestEngine_FatalAfterFallbackFailure(t *testing.T) {
	primary := &flakyProvider{failures: 100, dims: 16}
	e := NewEngine(primary, Config{}, slog.Default())
	// Force the fallback itself to fail too.
	e.fallback = &flakyProvider{failures: 100, dims: 16}

	_, err := e.Embed(context.Background(), []string{"hello"}, RoleQuery)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrModelUnavailable)

	// Later calls fail immediately without retrying.
	_, err = e.Embed(context.Background(), []string{"again"}, RoleQuery)
	assert.ErrorIs(t, err, ErrModelUnavailable)
}

func TestEngine_EmptyInput(t *testing.T) {
	e := NewEngine(NewLocalProvider(16, "cpu", slog.Default()), Config{}, slog.Default())
	vectors, err := e.Embed(context.Background(), nil, RoleDocument)
	require.NoError(t, err)
	assert.Nil(t, vectors)
}

func TestLocalProvider_Deterministic(t *testing.T) {
	p := NewLocalProvider(128, "cpu", slog.Default())

	a, err := p.Embed(context.Background(), []string{"the quick brown fox"}, RoleDocument)
	require.NoError(t, err)
	b, err := p.Embed(context.Background(), []string{"the quick brown fox"}, RoleDocument)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestLocalProvider_DeviceDowngrade(t *testing.T) {
	p := NewLocalProvider(128, "accelerator:0", slog.Default())
	assert.Equal(t, "cpu", p.Device())
}

func TestLocalProvider_SimilarTextsScoreHigher(t *testing.T) {
	p := NewLocalProvider(256, "cpu", slog.Default())

	vectors, err := p.Embed(context.Background(), []string{
		"the cat sat on the mat",
		"the cat sat on a mat",
		"quantum chromodynamics lattice simulation",
	}, RoleDocument)
	require.NoError(t, err)
	for _, v := range vectors {
		normalize(v)
	}

	near := dot(vectors[0], vectors[1])
	far := dot(vectors[0], vectors[2])
	assert.Greater(t, near, far, "overlapping text should be more similar")
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
