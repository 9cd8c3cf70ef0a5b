// Package pipeline is the single entry point coordinating ingestion
// (chunk -> embed -> index) and query answering (embed -> retrieve ->
// assemble -> generate -> persist).
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/quarrylabs/quarry/internal/chunker"
	"github.com/quarrylabs/quarry/internal/config"
	"github.com/quarrylabs/quarry/internal/embedding"
	"github.com/quarrylabs/quarry/internal/index"
	"github.com/quarrylabs/quarry/internal/memory"
	"github.com/quarrylabs/quarry/internal/prompt"
	"github.com/quarrylabs/quarry/internal/provider"
)

// Stage names the steps of one query's state machine. Transitions are
// sequential and non-skippable; user-visible failures carry the stage that
// failed.
type Stage string

const (
	StageReceived  Stage = "received"
	StageEmbedded  Stage = "embedded"
	StageRetrieved Stage = "retrieved"
	StageAssembled Stage = "assembled"
	StageGenerated Stage = "generated"
	StagePersisted Stage = "persisted"
)

// StageError wraps a failure with the pipeline stage it happened in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// IngestResult reports what one ingestion added.
type IngestResult struct {
	ChunksAdded  int
	VectorsAdded int
}

// Diagnostics reports what retrieval contributed to an answer.
type Diagnostics struct {
	ChunksUsed       int
	MemoryItemsUsed  int
	HistoryItemsUsed int
}

// Answer is the result of one query.
type Answer struct {
	Text         string
	Diagnostics  Diagnostics
	ProviderUsed string
}

// Stats is the core's externally visible state summary.
type Stats struct {
	VectorCount          int
	ChunkCount           int
	IndexKind            index.Kind
	ProviderAvailability map[string]bool
}

// Core owns the components and their lifecycle: init, use, flush. No
// package-level state; tests build isolated cores freely.
type Core struct {
	chunker   *chunker.Chunker
	engine    *embedding.Engine
	index     *index.Index
	memory    *memory.Store
	assembler *prompt.Assembler
	router    *provider.Router

	indexPath string
	topK      int
	logger    *slog.Logger

	// Serializes ingestion so at most one index mutation is in flight.
	ingestMu sync.Mutex
}

// New wires a core from explicitly-owned components. indexPath may be
// empty when persistence is not wanted (tests).
func New(
	ck *chunker.Chunker,
	engine *embedding.Engine,
	ix *index.Index,
	store *memory.Store,
	assembler *prompt.Assembler,
	router *provider.Router,
	indexPath string,
	topK int,
	logger *slog.Logger,
) *Core {
	if logger == nil {
		logger = slog.Default()
	}
	if topK <= 0 {
		topK = 5
	}
	return &Core{
		chunker:   ck,
		engine:    engine,
		index:     ix,
		memory:    store,
		assembler: assembler,
		router:    router,
		indexPath: indexPath,
		topK:      topK,
		logger:    logger,
	}
}

// Open builds a core from configuration: constructs the embedding engine,
// loads the persisted index (failing fast on an inconsistent snapshot),
// and opens the memory store.
func Open(cfg *config.Config, logger *slog.Logger) (*Core, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	engine := embedding.NewEngineFromConfig(cfg.Embedding, logger)

	ixCfg := index.DefaultConfig(engine.Dimensions(), engine.ModelID())
	ixCfg.ApproxThreshold = cfg.Index.ApproxThreshold
	ixCfg.NProbe = cfg.Index.NProbe
	ix := index.New(ixCfg, logger)
	if err := ix.Load(cfg.IndexPath()); err != nil {
		return nil, fmt.Errorf("load index: %w", err)
	}

	store, err := memory.Open(cfg.Memory, engine, logger)
	if err != nil {
		return nil, fmt.Errorf("open memory: %w", err)
	}

	assembler := prompt.New(cfg.Prompt, nil)
	router := provider.NewRouter(buildProviders(cfg.Providers), cfg.Providers.Timeout, logger)
	ck := chunker.New(cfg.Chunker.Size, cfg.Chunker.Overlap)

	return New(ck, engine, ix, store, assembler, router, cfg.IndexPath(), cfg.Retrieval.TopK, logger), nil
}

// buildProviders turns the ordered config into concrete backends. Unknown
// kinds are skipped; the router treats whatever remains as the failover
// order.
func buildProviders(cfg config.ProvidersConfig) []provider.Provider {
	var providers []provider.Provider
	for _, kind := range cfg.Order {
		settings := cfg.Settings[kind]
		switch kind {
		case "openai":
			providers = append(providers, provider.NewOpenAIProvider(settings))
		case "anthropic":
			providers = append(providers, provider.NewAnthropicProvider(settings))
		case "ollama":
			providers = append(providers, provider.NewOllamaProvider(settings))
		}
	}
	return providers
}

// Ingest chunks, embeds, and indexes one document. Re-ingesting a known
// source supersedes its previous chunks wholesale.
func (c *Core) Ingest(ctx context.Context, text, sourceID string) (IngestResult, error) {
	c.ingestMu.Lock()
	defer c.ingestMu.Unlock()

	chunks := c.chunker.Split(text, sourceID)
	if len(chunks) == 0 {
		return IngestResult{}, nil
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vectors, err := c.engine.Embed(ctx, texts, embedding.RoleDocument)
	if err != nil {
		return IngestResult{}, fmt.Errorf("embed chunks: %w", err)
	}
	// The engine may have degraded to the fallback model during the embed.
	// Vectors from two models never mix in one index: that is a
	// configuration error requiring a rebuild from source, not data.
	if model := c.engine.ModelID(); model != c.index.Model() {
		return IngestResult{}, fmt.Errorf("%w: engine now produces %q vectors, index holds %q, rebuild from source required",
			index.ErrModelMismatch, model, c.index.Model())
	}

	if removed := c.index.RemoveSource(sourceID); removed > 0 {
		c.logger.Info("superseding source", "source", sourceID, "removed", removed)
	}
	if err := c.index.Add(chunks, vectors); err != nil {
		return IngestResult{}, fmt.Errorf("index chunks: %w", err)
	}

	c.logger.Info("ingested document", "source", sourceID, "chunks", len(chunks))
	return IngestResult{ChunksAdded: len(chunks), VectorsAdded: len(vectors)}, nil
}

// Ask answers one question. Embedding or retrieval failures degrade to an
// empty bundle and the query continues; assembly and generation failures
// are terminal and carry their stage.
func (c *Core) Ask(ctx context.Context, question, taskID string, params provider.Params) (Answer, error) {
	// received -> embedded
	var results []index.Result
	queryVecs, err := c.engine.Embed(ctx, []string{question}, embedding.RoleQuery)
	switch {
	case err != nil:
		c.logger.Warn("query embedding failed, continuing without document retrieval",
			"stage", StageEmbedded, "error", err)
	case c.engine.ModelID() != c.index.Model() && c.index.Size() > 0:
		// A degraded engine must not score its vectors against an index
		// built by a different model.
		return Answer{}, &StageError{Stage: StageRetrieved, Err: fmt.Errorf(
			"%w: query embedded with %q, index built with %q, rebuild from source required",
			index.ErrModelMismatch, c.engine.ModelID(), c.index.Model())}
	default:
		results, err = c.index.Search(queryVecs[0], c.topK)
		if err != nil {
			c.logger.Warn("index search failed, continuing without document retrieval",
				"stage", StageRetrieved, "error", err)
			results = nil
		}
	}

	// embedded -> retrieved
	bundle, err := c.memory.Retrieve(ctx, question, taskID)
	if err != nil {
		// Permanent and task tiers may still be populated; history is
		// whatever survived.
		c.logger.Warn("memory retrieval degraded", "stage", StageRetrieved, "error", err)
	}

	// retrieved -> assembled
	assembled, err := c.assembler.Assemble(prompt.Input{
		Question: question,
		Memory:   bundle,
		Chunks:   results,
	})
	if err != nil {
		return Answer{}, &StageError{Stage: StageAssembled, Err: err}
	}

	// assembled -> generated
	generated, err := c.router.Generate(ctx, assembled.Text, params)
	if err != nil {
		return Answer{}, &StageError{Stage: StageGenerated, Err: err}
	}

	// generated -> persisted
	if err := c.memory.AppendTurn(ctx, taskID, "user", question); err != nil {
		return Answer{}, &StageError{Stage: StagePersisted, Err: err}
	}
	if err := c.memory.AppendTurn(ctx, taskID, "assistant", generated.Text); err != nil {
		return Answer{}, &StageError{Stage: StagePersisted, Err: err}
	}

	return Answer{
		Text: generated.Text,
		Diagnostics: Diagnostics{
			ChunksUsed:       assembled.ChunksUsed,
			MemoryItemsUsed:  assembled.MemoryItemsUsed,
			HistoryItemsUsed: assembled.HistoryItemsUsed,
		},
		ProviderUsed: generated.Provider,
	}, nil
}

// ClearTask deletes the task's memory entries and chat turns. Permanent
// memory is never deletable through this path.
func (c *Core) ClearTask(ctx context.Context, taskID string) error {
	return c.memory.ClearTask(ctx, taskID)
}

// Remember appends a curated note to permanent memory.
func (c *Core) Remember(note string) error {
	return c.memory.AddPermanent(note)
}

// AddTaskNote attaches an ephemeral note to a task.
func (c *Core) AddTaskNote(ctx context.Context, taskID, note string) error {
	return c.memory.AddTaskNote(ctx, taskID, note)
}

// RebuildIndex retrains the index's search structure from its current
// vectors and flushes a fresh snapshot.
func (c *Core) RebuildIndex(ctx context.Context) error {
	c.ingestMu.Lock()
	defer c.ingestMu.Unlock()

	c.index.Rebuild()
	if c.indexPath != "" {
		if err := c.index.Save(c.indexPath); err != nil {
			return fmt.Errorf("flush rebuilt index: %w", err)
		}
	}
	return nil
}

// Health reports whether the core's persistence layer is reachable.
func (c *Core) Health(ctx context.Context) error {
	return c.memory.Health(ctx)
}

// Stats summarizes the core's state.
func (c *Core) Stats(ctx context.Context) (Stats, error) {
	return Stats{
		VectorCount:          c.index.Size(),
		ChunkCount:           c.index.ChunkCount(),
		IndexKind:            c.index.Kind(),
		ProviderAvailability: c.router.Availability(),
	}, nil
}

// Close flushes the index snapshot and closes the memory store. Any
// pending mutation completes before the flush because both paths hold the
// ingest lock.
func (c *Core) Close(ctx context.Context) error {
	c.ingestMu.Lock()
	defer c.ingestMu.Unlock()

	if c.indexPath != "" {
		if err := c.index.Save(c.indexPath); err != nil {
			return fmt.Errorf("flush index: %w", err)
		}
	}
	if err := c.memory.Close(); err != nil {
		return fmt.Errorf("close memory: %w", err)
	}
	return nil
}
