// Package memory provides the three independent retrieval tiers behind a
// query: permanent curated notes, per-task ephemeral notes, and an
// embedding-indexed conversation history. Each tier is queried
// independently and merged by the caller.
//
// Task notes and chat turns persist in SQLite; permanent notes load from an
// append-only curated text file at startup.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/quarrylabs/quarry/internal/embedding"
)

// Scope identifies which tier a memory entry belongs to.
type Scope string

const (
	// ScopePermanent marks curated notes that survive task clears.
	ScopePermanent Scope = "permanent"

	// ScopeTask marks ephemeral notes deleted with their task.
	ScopeTask Scope = "task"
)

// Entry is one permanent or task memory item.
type Entry struct {
	ID        string
	Content   string
	Scope     Scope
	TaskID    string
	CreatedAt time.Time
}

// Turn is one appended chat exchange half, indexed by embedding for
// similarity retrieval scoped to its task. Never mutated after creation.
type Turn struct {
	ID        string
	Role      string // "user" or "assistant"
	Content   string
	TaskID    string
	Score     float32
	CreatedAt time.Time
}

// Bundle is the merged retrieval output of all three tiers for one query.
type Bundle struct {
	Permanent []Entry
	Task      []Entry
	History   []Turn
}

// Embedder is the slice of the embedding engine the store needs for
// history retrieval and turn indexing.
type Embedder interface {
	Embed(ctx context.Context, texts []string, role embedding.Role) ([][]float32, error)
}

// Config configures the store.
type Config struct {
	// DBPath is the SQLite file holding turns and task notes.
	DBPath string `yaml:"db_path"`

	// PermanentPath is the curated append-only notes file. One note per
	// blank-line-separated paragraph. Optional.
	PermanentPath string `yaml:"permanent_path"`

	// TaskLimit bounds task notes returned per retrieval.
	TaskLimit int `yaml:"task_limit"`

	// HistoryLimit bounds history turns returned per retrieval.
	HistoryLimit int `yaml:"history_limit"`
}

// DefaultConfig returns the default limits: a small fixed task tier and
// five history turns.
func DefaultConfig() Config {
	return Config{TaskLimit: 4, HistoryLimit: 5}
}

// Store owns the three memory tiers. The pipeline orchestrator is the sole
// writer; all other callers only query.
type Store struct {
	db       *sql.DB
	embedder Embedder
	cfg      Config
	logger   *slog.Logger

	mu        sync.RWMutex
	permanent []Entry
}

const schema = `
CREATE TABLE IF NOT EXISTS turns (
	id         TEXT PRIMARY KEY,
	task_id    TEXT NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	embedding  BLOB NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turns_task ON turns(task_id);

CREATE TABLE IF NOT EXISTS task_notes (
	id         TEXT PRIMARY KEY,
	task_id    TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notes_task ON task_notes(task_id);
`

// Open opens (creating if needed) the store's SQLite database and loads
// the permanent notes file once.
func Open(cfg Config, embedder Embedder, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TaskLimit <= 0 {
		cfg.TaskLimit = 4
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 5
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "memory.db"
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create memory schema: %w", err)
	}

	s := &Store{db: db, embedder: embedder, cfg: cfg, logger: logger}
	if err := s.loadPermanent(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// loadPermanent reads the curated notes file. Missing file means no
// permanent tier, not an error.
func (s *Store) loadPermanent() error {
	if s.cfg.PermanentPath == "" {
		return nil
	}
	raw, err := os.ReadFile(s.cfg.PermanentPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read permanent notes: %w", err)
	}

	var entries []Entry
	for _, block := range strings.Split(string(raw), "\n\n") {
		note := strings.TrimSpace(block)
		if note == "" {
			continue
		}
		entries = append(entries, Entry{
			ID:      uuid.New().String(),
			Content: note,
			Scope:   ScopePermanent,
		})
	}
	s.mu.Lock()
	s.permanent = entries
	s.mu.Unlock()
	s.logger.Info("loaded permanent memory", "notes", len(entries))
	return nil
}

// AddPermanent appends a curated note to the permanent tier and its
// backing file. Permanent notes are never deleted through task clears.
func (s *Store) AddPermanent(content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return errors.New("empty permanent note")
	}
	if s.cfg.PermanentPath != "" {
		f, err := os.OpenFile(s.cfg.PermanentPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("append permanent note: %w", err)
		}
		if _, err := fmt.Fprintf(f, "%s\n\n", content); err != nil {
			f.Close()
			return fmt.Errorf("append permanent note: %w", err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("append permanent note: %w", err)
		}
	}
	s.mu.Lock()
	s.permanent = append(s.permanent, Entry{
		ID:        uuid.New().String(),
		Content:   content,
		Scope:     ScopePermanent,
		CreatedAt: time.Now(),
	})
	s.mu.Unlock()
	return nil
}

// AddTaskNote stores an ephemeral note under taskID.
func (s *Store) AddTaskNote(ctx context.Context, taskID, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return errors.New("empty task note")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO task_notes (id, task_id, content, created_at) VALUES (?, ?, ?, ?)`,
		uuid.New().String(), taskID, content, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("add task note: %w", err)
	}
	return nil
}

// AppendTurn embeds content and appends it to the task's chat-turn log.
// Turns are append-only; deletion happens only via ClearTask.
func (s *Store) AppendTurn(ctx context.Context, taskID, role, content string) error {
	vectors, err := s.embedder.Embed(ctx, []string{content}, embedding.RoleDocument)
	if err != nil {
		return fmt.Errorf("embed turn: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO turns (id, task_id, role, content, embedding, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), taskID, role, content, encodeVector(vectors[0]), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// Retrieve queries the three tiers independently and merges them. The
// permanent and task tiers never depend on the embedding engine, so a
// history embedding failure still returns those two tiers along with the
// error; callers may treat that as a degraded (not fatal) retrieval.
func (s *Store) Retrieve(ctx context.Context, query, taskID string) (Bundle, error) {
	var bundle Bundle

	s.mu.RLock()
	bundle.Permanent = append([]Entry(nil), s.permanent...)
	s.mu.RUnlock()

	task, err := s.taskNotes(ctx, taskID)
	if err != nil {
		return bundle, err
	}
	bundle.Task = task

	history, err := s.similarTurns(ctx, query, taskID)
	if err != nil {
		return bundle, fmt.Errorf("history retrieval: %w", err)
	}
	bundle.History = history
	return bundle, nil
}

func (s *Store) taskNotes(ctx context.Context, taskID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, created_at FROM task_notes
		 WHERE task_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		taskID, s.cfg.TaskLimit)
	if err != nil {
		return nil, fmt.Errorf("query task notes: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e := Entry{Scope: ScopeTask, TaskID: taskID}
		if err := rows.Scan(&e.ID, &e.Content, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan task note: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// similarTurns ranks the task's chat turns by cosine similarity to the
// query. It never reads turns from other tasks.
func (s *Store) similarTurns(ctx context.Context, query, taskID string) ([]Turn, error) {
	vectors, err := s.embedder.Embed(ctx, []string{query}, embedding.RoleQuery)
	if err != nil {
		return nil, err
	}
	queryVec := vectors[0]

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, embedding, created_at FROM turns
		 WHERE task_id = ? ORDER BY created_at ASC, rowid ASC`,
		taskID)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var blob []byte
		if err := rows.Scan(&t.ID, &t.Role, &t.Content, &blob, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.TaskID = taskID
		t.Score = cosine(queryVec, decodeVector(blob))
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(turns, func(a, b int) bool {
		return turns[a].Score > turns[b].Score
	})
	if len(turns) > s.cfg.HistoryLimit {
		turns = turns[:s.cfg.HistoryLimit]
	}
	return turns, nil
}

// ClearTask deletes the task's notes and chat turns. Other tasks and the
// permanent tier are untouched.
func (s *Store) ClearTask(ctx context.Context, taskID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM turns WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("clear turns: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM task_notes WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("clear task notes: %w", err)
	}
	return nil
}

// Health pings the backing database.
func (s *Store) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// TurnCount returns the number of stored turns across all tasks.
func (s *Store) TurnCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM turns`).Scan(&n)
	return n, err
}

// Close closes the backing database.
func (s *Store) Close() error {
	return s.db.Close()
}
