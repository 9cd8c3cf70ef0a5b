package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Engine is the embedding entry point for the pipeline. It batches inputs,
// guarantees output length equals input length, and degrades once to the
// local fallback model when the primary provider fails. A failure of the
// fallback as well is fatal: every later call returns ErrModelUnavailable
// without further retries.
type Engine struct {
	mu       sync.Mutex
	provider Provider
	fallback Provider
	degraded bool
	failed   bool

	batchSize int
	logger    *slog.Logger
}

// NewEngine creates an engine over the given primary provider. The fallback
// shares the primary's dimensionality so a mid-life degradation never mixes
// vector lengths in the index.
func NewEngine(primary Provider, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	return &Engine{
		provider:  primary,
		fallback:  NewLocalProvider(primary.Dimensions(), "cpu", logger),
		batchSize: batch,
		logger:    logger,
	}
}

// NewEngineFromConfig builds an engine from configuration. If the primary
// remote model cannot be loaded, the engine starts directly on the local
// fallback and logs the degradation.
func NewEngineFromConfig(cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	primary, err := NewOpenAIProvider(cfg.Model, cfg.Dimensions)
	if err != nil {
		logger.Warn("primary embedding model unavailable, using local fallback",
			"model", cfg.Model, "fallback", LocalModel, "error", err)
		local := NewLocalProvider(cfg.Dimensions, cfg.Device, logger)
		e := NewEngine(local, cfg, logger)
		e.degraded = true
		return e
	}
	return NewEngine(primary, cfg, logger)
}

// Embed returns one vector per input text, in input order, batching
// internally up to the configured batch size. Inputs are never silently
// dropped: the output length equals the input length or the call fails
// entirely. All vectors are L2-normalized.
func (e *Engine) Embed(ctx context.Context, texts []string, role Role) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += e.batchSize {
		end := min(i+e.batchSize, len(texts))
		batch, err := e.embedBatch(ctx, texts[i:end], role)
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", i, end, err)
		}
		out = append(out, batch...)
	}
	return out, nil
}

// embedBatch embeds one batch with the active provider, degrading once to
// the fallback on failure.
func (e *Engine) embedBatch(ctx context.Context, texts []string, role Role) ([][]float32, error) {
	e.mu.Lock()
	if e.failed {
		e.mu.Unlock()
		return nil, ErrModelUnavailable
	}
	provider := e.provider
	e.mu.Unlock()

	vectors, err := provider.Embed(ctx, texts, role)
	if err != nil {
		provider, err = e.degrade(err)
		if err != nil {
			return nil, err
		}
		vectors, err = provider.Embed(ctx, texts, role)
		if err != nil {
			e.mu.Lock()
			e.failed = true
			e.mu.Unlock()
			return nil, fmt.Errorf("%w: fallback failed: %v", ErrModelUnavailable, err)
		}
	}

	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("provider returned %d vectors for %d inputs", len(vectors), len(texts))
	}
	for _, v := range vectors {
		normalize(v)
	}
	return vectors, nil
}

// degrade switches to the fallback provider after a primary failure. If the
// engine already degraded once, the failure is fatal.
func (e *Engine) degrade(cause error) (Provider, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.degraded {
		e.failed = true
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, cause)
	}
	e.logger.Warn("embedding provider failed, degrading to local fallback",
		"from", e.provider.ModelID(), "to", e.fallback.ModelID(), "error", cause)
	e.degraded = true
	e.provider = e.fallback
	return e.provider, nil
}

// Dimensions returns the engine's fixed vector length.
func (e *Engine) Dimensions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.provider.Dimensions()
}

// ModelID returns the active model identifier.
func (e *Engine) ModelID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.provider.ModelID()
}

// Degraded reports whether the engine has fallen back to the local model.
func (e *Engine) Degraded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.degraded
}
