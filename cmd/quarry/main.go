// Package main provides the quarry CLI: ingest documents, ask questions,
// and manage tasks and memory from the command line.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/quarrylabs/quarry/internal/config"
	"github.com/quarrylabs/quarry/internal/pipeline"
	"github.com/quarrylabs/quarry/internal/provider"
)

var (
	configPath string

	askTask      string
	askModel     string
	askMaxTokens int
	askVerbose   bool

	ingestSource string
)

var rootCmd = &cobra.Command{
	Use:   "quarry",
	Short: "Retrieval-augmented question answering over local documents",
	Long: `Quarry indexes raw document text into a local vector index and answers
questions by combining retrieved chunks, durable memory, and conversation
history into a single prompt for a generation backend.

Environment variables:
  OPENAI_API_KEY     OpenAI API key for embeddings and generation (optional)
  ANTHROPIC_API_KEY  Anthropic API key for generation (optional)

With no API keys configured, embeddings fall back to a local deterministic
model and generation requires a running ollama instance.`,
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [files...]",
	Short: "Chunk, embed, and index document files",
	Long: `Reads each file, splits it into overlapping chunks, embeds them, and adds
them to the index. Re-ingesting a file replaces its previous chunks.
With no arguments, reads a single document from stdin (requires --source).`,
	RunE: runIngest,
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question using the ingested corpus",
	Args:  cobra.ExactArgs(1),
	RunE:  runAsk,
}

var clearCmd = &cobra.Command{
	Use:   "clear <task-id>",
	Short: "Delete a task's notes and conversation history",
	Long:  "Deletes the task's ephemeral notes and chat turns. Permanent memory and other tasks are untouched.",
	Args:  cobra.ExactArgs(1),
	RunE:  runClear,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show index size and generation backend availability",
	RunE:  runStats,
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Retrain the index's search structure",
	Long:  "Retrains the clustered search structure from the indexed vectors and writes a fresh snapshot. Useful after many incremental ingests.",
	RunE:  runRebuild,
}

var rememberCmd = &cobra.Command{
	Use:   "remember <note>",
	Short: "Append a note to permanent memory",
	Long:  "Permanent notes are included in every future prompt regardless of task and survive task clears.",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemember,
}

var noteCmd = &cobra.Command{
	Use:   "note <task-id> <note>",
	Short: "Attach an ephemeral note to a task",
	Args:  cobra.ExactArgs(2),
	RunE:  runNote,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "quarry.yaml", "config file path")

	askCmd.Flags().StringVarP(&askTask, "task", "t", "default", "task identifier scoping history and notes")
	askCmd.Flags().StringVarP(&askModel, "model", "m", "", "generation model override")
	askCmd.Flags().IntVar(&askMaxTokens, "max-tokens", 0, "maximum tokens to generate")
	askCmd.Flags().BoolVarP(&askVerbose, "verbose", "v", false, "print retrieval diagnostics")

	ingestCmd.Flags().StringVarP(&ingestSource, "source", "s", "", "source identifier (defaults to the file path)")

	rootCmd.AddCommand(ingestCmd, askCmd, clearCmd, statsCmd, rebuildCmd, rememberCmd, noteCmd)
}

func main() {
	// Load .env file if present (local development), ignore if missing
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openCore loads configuration and wires the pipeline. The returned cleanup
// flushes the index snapshot and must run even on command failure.
func openCore(ctx context.Context) (*pipeline.Core, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	core, err := pipeline.Open(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := core.Close(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
		}
	}
	return core, cleanup, nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	core, cleanup, err := openCore(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if len(args) == 0 {
		if ingestSource == "" {
			return fmt.Errorf("reading from stdin requires --source")
		}
		raw, err := os.ReadFile("/dev/stdin")
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		result, err := core.Ingest(ctx, string(raw), ingestSource)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d chunks\n", ingestSource, result.ChunksAdded)
		return nil
	}

	start := time.Now()
	total := 0
	for _, path := range args {
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		sourceID := ingestSource
		if sourceID == "" {
			sourceID = filepath.ToSlash(path)
		}
		result, err := core.Ingest(ctx, string(raw), sourceID)
		if err != nil {
			return fmt.Errorf("ingest %s: %w", path, err)
		}
		fmt.Printf("%s: %d chunks\n", sourceID, result.ChunksAdded)
		total += result.ChunksAdded
	}

	fmt.Println()
	fmt.Printf("Ingested %d chunks from %d files in %s\n",
		total, len(args), time.Since(start).Round(time.Millisecond))
	return nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	core, cleanup, err := openCore(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	answer, err := core.Ask(ctx, args[0], askTask, provider.Params{
		Model:     askModel,
		MaxTokens: askMaxTokens,
	})
	if err != nil {
		return err
	}

	fmt.Println(answer.Text)

	if askVerbose {
		fmt.Fprintln(os.Stderr)
		fmt.Fprintf(os.Stderr, "provider: %s  chunks: %d  memory: %d  history: %d\n",
			answer.ProviderUsed,
			answer.Diagnostics.ChunksUsed,
			answer.Diagnostics.MemoryItemsUsed,
			answer.Diagnostics.HistoryItemsUsed)
	}
	return nil
}

func runClear(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	core, cleanup, err := openCore(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := core.ClearTask(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("Cleared task %q\n", args[0])
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	core, cleanup, err := openCore(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	stats, err := core.Stats(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Vectors:  %d\n", stats.VectorCount)
	fmt.Printf("Chunks:   %d\n", stats.ChunkCount)
	fmt.Printf("Index:    %s\n", stats.IndexKind)
	fmt.Println("Providers:")

	names := make([]string, 0, len(stats.ProviderAvailability))
	for name := range stats.ProviderAvailability {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		state := "unavailable"
		if stats.ProviderAvailability[name] {
			state = "available"
		}
		fmt.Printf("  %-10s %s\n", name, state)
	}
	return nil
}

func runRebuild(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	core, cleanup, err := openCore(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := core.RebuildIndex(ctx); err != nil {
		return err
	}

	stats, err := core.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Rebuilt %s index over %d vectors\n", stats.IndexKind, stats.VectorCount)
	return nil
}

func runRemember(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	core, cleanup, err := openCore(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	note := strings.TrimSpace(args[0])
	if err := core.Remember(note); err != nil {
		return err
	}
	fmt.Println("Saved to permanent memory")
	return nil
}

func runNote(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	core, cleanup, err := openCore(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := core.AddTaskNote(ctx, args[0], args[1]); err != nil {
		return err
	}
	fmt.Printf("Noted on task %q\n", args[0])
	return nil
}
