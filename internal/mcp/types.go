// Package mcp exposes the retrieval pipeline's operations as MCP tools.
package mcp

// AskInput defines the input parameters for the ask tool.
type AskInput struct {
	// Question is the user's question.
	Question string `json:"question" jsonschema:"required,description=The question to answer using retrieved context"`
	// TaskID scopes conversation history and task memory.
	TaskID string `json:"task_id,omitempty" jsonschema:"description=Task identifier scoping history and task memory"`
	// Model optionally overrides the generation model.
	Model string `json:"model,omitempty" jsonschema:"description=Generation model override"`
	// MaxTokens optionally bounds the generation length.
	MaxTokens int `json:"max_tokens,omitempty" jsonschema:"minimum=1,description=Maximum tokens to generate"`
}

// AskOutput contains the generated answer plus retrieval diagnostics.
type AskOutput struct {
	// Answer is the generated text.
	Answer string `json:"answer"`
	// ProviderUsed names the backend that produced the answer.
	ProviderUsed string `json:"provider_used"`
	// ChunksUsed is the number of document chunks that made it into the prompt.
	ChunksUsed int `json:"chunks_used"`
	// MemoryItemsUsed is the number of permanent and task memory items used.
	MemoryItemsUsed int `json:"memory_items_used"`
	// HistoryItemsUsed is the number of prior conversation turns used.
	HistoryItemsUsed int `json:"history_items_used"`
}

// IngestInput defines the input parameters for the ingest tool.
type IngestInput struct {
	// Text is the raw extracted document text.
	Text string `json:"text" jsonschema:"required,description=Raw extracted document text"`
	// SourceID identifies the document; re-ingesting replaces its chunks.
	SourceID string `json:"source_id" jsonschema:"required,description=Stable identifier for the document source"`
}

// IngestOutput reports what one ingestion added to the index.
type IngestOutput struct {
	ChunksAdded  int `json:"chunks_added"`
	VectorsAdded int `json:"vectors_added"`
}

// ClearTaskInput defines the input parameters for the clear_task tool.
type ClearTaskInput struct {
	// TaskID is the task whose notes and history are deleted.
	TaskID string `json:"task_id" jsonschema:"required,description=Task identifier to clear"`
}

// ClearTaskOutput acknowledges the clear.
type ClearTaskOutput struct {
	Cleared bool   `json:"cleared"`
	TaskID  string `json:"task_id"`
}

// StatsInput defines the input parameters for the get_stats tool.
// This tool takes no parameters.
type StatsInput struct {
	// No input parameters required
}

// StatsOutput summarizes index size and generation backend availability.
type StatsOutput struct {
	// VectorCount is the number of vectors in the index.
	VectorCount int `json:"vector_count"`
	// ChunkCount is the number of chunks in the index.
	ChunkCount int `json:"chunk_count"`
	// IndexKind is the active search strategy (flat or ivf).
	IndexKind string `json:"index_kind"`
	// ProviderAvailability maps each configured backend to its current status.
	ProviderAvailability map[string]bool `json:"provider_availability"`
}
