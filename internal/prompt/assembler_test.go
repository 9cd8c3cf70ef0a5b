package prompt

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/quarry/internal/chunker"
	"github.com/quarrylabs/quarry/internal/index"
	"github.com/quarrylabs/quarry/internal/memory"
)

func fullInput() Input {
	now := time.Now()
	return Input{
		Question: "what is the deploy process?",
		Memory: memory.Bundle{
			Permanent: []memory.Entry{
				{Content: "Deploys go through CI only.", Scope: memory.ScopePermanent},
				{Content: "Staging mirrors production.", Scope: memory.ScopePermanent},
			},
			Task: []memory.Entry{
				{Content: "User is migrating service X.", Scope: memory.ScopeTask},
			},
			History: []memory.Turn{
				{Role: "user", Content: "how do I roll back?", Score: 0.9, CreatedAt: now.Add(-2 * time.Minute)},
				{Role: "assistant", Content: "use the revert pipeline", Score: 0.8, CreatedAt: now.Add(-1 * time.Minute)},
			},
		},
		Chunks: []index.Result{
			{Chunk: chunker.Chunk{Text: "The deploy process starts with a tagged release.", SourceID: "handbook", Position: 3}, Score: 0.95},
			{Chunk: chunker.Chunk{Text: "Rollbacks re-deploy the previous tag.", SourceID: "handbook", Position: 4}, Score: 0.80},
		},
	}
}

func TestAssemble_Ordering(t *testing.T) {
	a := New(Config{Instruction: "SYSTEM", TokenBudget: 4096}, nil)
	p, err := a.Assemble(fullInput())
	require.NoError(t, err)

	text := p.Text
	iInstr := strings.Index(text, "SYSTEM")
	iMem := strings.Index(text, "Long-term notes")
	iHist := strings.Index(text, "Conversation history")
	iDocs := strings.Index(text, "Retrieved context")
	iQ := strings.Index(text, "what is the deploy process?")

	require.NotEqual(t, -1, iInstr)
	require.NotEqual(t, -1, iMem)
	require.NotEqual(t, -1, iHist)
	require.NotEqual(t, -1, iDocs)
	require.NotEqual(t, -1, iQ)
	assert.True(t, iInstr < iMem && iMem < iHist && iHist < iDocs && iDocs < iQ,
		"expected instruction < memory < history < docs < question")

	assert.Equal(t, 2, p.ChunksUsed)
	assert.Equal(t, 3, p.MemoryItemsUsed)
	assert.Equal(t, 2, p.HistoryItemsUsed)
}

func TestAssemble_HistoryChronological(t *testing.T) {
	a := New(DefaultConfig(), nil)
	p, err := a.Assemble(fullInput())
	require.NoError(t, err)

	// Most relevant turn is the older one; rendering must still be
	// chronological.
	first := strings.Index(p.Text, "how do I roll back?")
	second := strings.Index(p.Text, "use the revert pipeline")
	assert.True(t, first < second)
}

func TestAssemble_NeverExceedsBudget(t *testing.T) {
	counter := EstimateCounter{CharsPerToken: 4}
	in := fullInput()

	for budget := 30; budget <= 400; budget += 10 {
		a := New(Config{Instruction: "Answer briefly.", TokenBudget: budget}, counter)
		p, err := a.Assemble(in)
		if err != nil {
			assert.ErrorIs(t, err, ErrBudgetExceeded)
			continue
		}
		assert.LessOrEqual(t, counter.Count(p.Text), budget, "budget %d", budget)
		assert.Contains(t, p.Text, in.Question, "question is never dropped")
	}
}

func TestAssemble_DropsMemoryBeforeChunks(t *testing.T) {
	counter := EstimateCounter{CharsPerToken: 4}
	in := fullInput()

	// A budget that forces drops but can still hold the chunks.
	a := New(Config{Instruction: "Answer briefly.", TokenBudget: 60}, counter)
	p, err := a.Assemble(in)
	require.NoError(t, err)

	if p.ChunksUsed < len(in.Chunks) {
		assert.Zero(t, p.MemoryItemsUsed, "chunks dropped while memory remained")
		assert.Zero(t, p.HistoryItemsUsed, "chunks dropped while history remained")
	}
}

func TestAssemble_EmptyBundleStillValid(t *testing.T) {
	a := New(DefaultConfig(), nil)
	p, err := a.Assemble(Input{Question: "hello?"})
	require.NoError(t, err)

	assert.Contains(t, p.Text, DefaultInstruction)
	assert.Contains(t, p.Text, "hello?")
	assert.Zero(t, p.ChunksUsed)
	assert.Zero(t, p.MemoryItemsUsed)
	assert.Zero(t, p.HistoryItemsUsed)
}

func TestAssemble_BudgetTooSmallForQuestion(t *testing.T) {
	a := New(Config{Instruction: strings.Repeat("long instruction ", 50), TokenBudget: 10}, nil)
	_, err := a.Assemble(Input{Question: "why?"})
	assert.ErrorIs(t, err, ErrBudgetExceeded)
}
