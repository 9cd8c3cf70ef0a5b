package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/quarrylabs/quarry/internal/pipeline"
	"github.com/quarrylabs/quarry/internal/provider"
)

const defaultTaskID = "default"

// makeAskHandler creates the ask tool handler.
// Runs one full query: embed, retrieve, assemble, generate, persist.
func makeAskHandler(core *pipeline.Core) func(
	context.Context, *mcp.CallToolRequest, AskInput,
) (*mcp.CallToolResult, AskOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input AskInput) (
		*mcp.CallToolResult, AskOutput, error,
	) {
		taskID := input.TaskID
		if taskID == "" {
			taskID = defaultTaskID
		}

		answer, err := core.Ask(ctx, input.Question, taskID, provider.Params{
			Model:     input.Model,
			MaxTokens: input.MaxTokens,
		})
		if err != nil {
			return nil, AskOutput{}, fmt.Errorf("ask failed: %w", err)
		}

		return nil, AskOutput{
			Answer:           answer.Text,
			ProviderUsed:     answer.ProviderUsed,
			ChunksUsed:       answer.Diagnostics.ChunksUsed,
			MemoryItemsUsed:  answer.Diagnostics.MemoryItemsUsed,
			HistoryItemsUsed: answer.Diagnostics.HistoryItemsUsed,
		}, nil
	}
}

// makeIngestHandler creates the ingest tool handler.
func makeIngestHandler(core *pipeline.Core) func(
	context.Context, *mcp.CallToolRequest, IngestInput,
) (*mcp.CallToolResult, IngestOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input IngestInput) (
		*mcp.CallToolResult, IngestOutput, error,
	) {
		if input.SourceID == "" {
			return nil, IngestOutput{}, fmt.Errorf("source_id is required")
		}

		result, err := core.Ingest(ctx, input.Text, input.SourceID)
		if err != nil {
			return nil, IngestOutput{}, fmt.Errorf("ingest failed: %w", err)
		}

		return nil, IngestOutput{
			ChunksAdded:  result.ChunksAdded,
			VectorsAdded: result.VectorsAdded,
		}, nil
	}
}

// makeClearTaskHandler creates the clear_task tool handler.
func makeClearTaskHandler(core *pipeline.Core) func(
	context.Context, *mcp.CallToolRequest, ClearTaskInput,
) (*mcp.CallToolResult, ClearTaskOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input ClearTaskInput) (
		*mcp.CallToolResult, ClearTaskOutput, error,
	) {
		if input.TaskID == "" {
			return nil, ClearTaskOutput{}, fmt.Errorf("task_id is required")
		}

		if err := core.ClearTask(ctx, input.TaskID); err != nil {
			return nil, ClearTaskOutput{}, fmt.Errorf("clear task failed: %w", err)
		}

		return nil, ClearTaskOutput{Cleared: true, TaskID: input.TaskID}, nil
	}
}

// makeStatsHandler creates the get_stats tool handler.
func makeStatsHandler(core *pipeline.Core) func(
	context.Context, *mcp.CallToolRequest, StatsInput,
) (*mcp.CallToolResult, StatsOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input StatsInput) (
		*mcp.CallToolResult, StatsOutput, error,
	) {
		stats, err := core.Stats(ctx)
		if err != nil {
			return nil, StatsOutput{}, fmt.Errorf("stats failed: %w", err)
		}

		return nil, StatsOutput{
			VectorCount:          stats.VectorCount,
			ChunkCount:           stats.ChunkCount,
			IndexKind:            string(stats.IndexKind),
			ProviderAvailability: stats.ProviderAvailability,
		}, nil
	}
}
