// Package prompt merges retrieved snippets and a system instruction into a
// token-bounded prompt for the generation backend.
package prompt

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/quarrylabs/quarry/internal/index"
	"github.com/quarrylabs/quarry/internal/memory"
)

// ErrBudgetExceeded means even the instruction and question alone do not
// fit the token budget. Fatal for the query.
var ErrBudgetExceeded = errors.New("token budget too small for instruction and question")

// TokenCounter estimates token counts for budget enforcement.
type TokenCounter interface {
	Count(text string) int
}

// EstimateCounter approximates tokens as len(text)/CharsPerToken. Good
// enough for budget enforcement; exact tokenization is the backend's
// business.
type EstimateCounter struct {
	CharsPerToken int
}

// Count returns the estimated token count, always at least 1 for non-empty
// text.
func (c EstimateCounter) Count(text string) int {
	per := c.CharsPerToken
	if per <= 0 {
		per = 4
	}
	if len(text) == 0 {
		return 0
	}
	n := len(text) / per
	if n == 0 {
		n = 1
	}
	return n
}

// DefaultInstruction is the system instruction used when none is configured.
const DefaultInstruction = "You are a helpful assistant. Answer using the provided context when it is relevant; say so when it is not."

// Config configures the assembler.
type Config struct {
	// Instruction is the system instruction placed first in every prompt.
	Instruction string `yaml:"instruction"`

	// TokenBudget bounds the whole assembled prompt.
	TokenBudget int `yaml:"token_budget"`
}

// DefaultConfig returns a 4096-token budget with the default instruction.
func DefaultConfig() Config {
	return Config{Instruction: DefaultInstruction, TokenBudget: 4096}
}

// Input is the retrieval bundle plus the question for one query.
type Input struct {
	Question string
	Memory   memory.Bundle
	Chunks   []index.Result
}

// Prompt is an assembled prompt plus what survived the budget.
type Prompt struct {
	Text             string
	ChunksUsed       int
	MemoryItemsUsed  int
	HistoryItemsUsed int
}

// Assembler builds prompts under a token budget.
type Assembler struct {
	cfg     Config
	counter TokenCounter
}

// New creates an assembler. A nil counter uses the chars/4 estimate.
func New(cfg Config, counter TokenCounter) *Assembler {
	if cfg.Instruction == "" {
		cfg.Instruction = DefaultInstruction
	}
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = 4096
	}
	if counter == nil {
		counter = EstimateCounter{CharsPerToken: 4}
	}
	return &Assembler{cfg: cfg, counter: counter}
}

// Assemble produces the prompt: instruction first, then memory and history
// (oldest relevant first), then retrieved document chunks, then the
// question last. When over budget it drops whole memory/history items from
// the least relevant end, and document snippets only once memory is
// exhausted; the instruction and question are never truncated. An entirely
// empty bundle still yields a valid instruction+question prompt.
func (a *Assembler) Assemble(in Input) (Prompt, error) {
	permanent := append([]memory.Entry(nil), in.Memory.Permanent...)
	task := append([]memory.Entry(nil), in.Memory.Task...)
	history := append([]memory.Turn(nil), in.Memory.History...)
	chunks := append([]index.Result(nil), in.Chunks...)

	for {
		text := a.render(in.Question, permanent, task, history, chunks)
		if a.counter.Count(text) <= a.cfg.TokenBudget {
			return Prompt{
				Text:             text,
				ChunksUsed:       len(chunks),
				MemoryItemsUsed:  len(permanent) + len(task),
				HistoryItemsUsed: len(history),
			}, nil
		}

		// Memory and history give way before document snippets. Within
		// each list the least relevant item sits at the end.
		switch {
		case len(history) > 0:
			history = history[:len(history)-1]
		case len(task) > 0:
			task = task[:len(task)-1]
		case len(permanent) > 0:
			permanent = permanent[:len(permanent)-1]
		case len(chunks) > 0:
			chunks = chunks[:len(chunks)-1]
		default:
			return Prompt{}, fmt.Errorf("%w: budget %d", ErrBudgetExceeded, a.cfg.TokenBudget)
		}
	}
}

func (a *Assembler) render(question string, permanent, task []memory.Entry, history []memory.Turn, chunks []index.Result) string {
	var b strings.Builder
	b.WriteString(a.cfg.Instruction)
	b.WriteString("\n")

	if len(permanent) > 0 {
		b.WriteString("\n## Long-term notes\n")
		for _, e := range permanent {
			fmt.Fprintf(&b, "- %s\n", e.Content)
		}
	}
	if len(task) > 0 {
		b.WriteString("\n## Task notes\n")
		for _, e := range task {
			fmt.Fprintf(&b, "- %s\n", e.Content)
		}
	}
	if len(history) > 0 {
		b.WriteString("\n## Conversation history\n")
		// Selected by relevance, rendered in chronological order.
		ordered := append([]memory.Turn(nil), history...)
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
		})
		for _, t := range ordered {
			fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
		}
	}
	if len(chunks) > 0 {
		b.WriteString("\n## Retrieved context\n")
		for _, r := range chunks {
			fmt.Fprintf(&b, "[%s#%d] %s\n", r.Chunk.SourceID, r.Chunk.Position, r.Chunk.Text)
		}
	}

	b.WriteString("\n## Question\n")
	b.WriteString(question)
	return b.String()
}
