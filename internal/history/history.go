// Package history persists finalized conversation turns in a local SQLite
// database. The CLI records every completed turn through it and the
// development backend uses it as conversation memory.
//
// The table is append-only: turns are never updated or deleted.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/54b3r/ragchat-go/internal/api"
	"github.com/54b3r/ragchat-go/internal/streamchat"
)

// Record is one persisted turn.
type Record struct {
	// ID is a random UUID assigned on append.
	ID string
	streamchat.ConversationTurn
}

// Conversation summarises one conversation id.
type Conversation struct {
	ID           int64
	Turns        int
	FirstPrompt  string
	LastActivity time.Time
}

// Store is an append-only turn log backed by SQLite. It implements
// streamchat.HistoryRecorder and is safe for concurrent use.
type Store struct {
	db *sql.DB
}

var _ streamchat.HistoryRecorder = (*Store)(nil)

// Open opens (or creates) the database at path and migrates the schema.
// Use ":memory:" in tests. Parent directories are created as needed.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("history: create directory for %s: %w", path, err)
		}
		dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	// One connection: a single writer avoids SQLITE_BUSY, and every query
	// against ":memory:" must share the same database.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS turns (
    seq               INTEGER PRIMARY KEY AUTOINCREMENT,
    id                TEXT    NOT NULL UNIQUE,
    conversation_id   INTEGER NOT NULL,
    prompt            TEXT    NOT NULL,
    response          TEXT    NOT NULL,
    thinking          TEXT    NOT NULL,
    model             TEXT    NOT NULL,
    query_rewrite     TEXT    NOT NULL,
    prompt_tokens     INTEGER,
    completion_tokens INTEGER,
    total_tokens      INTEGER,
    rag_documents     TEXT    NOT NULL, -- JSON array of VectorSearchResult
    started_at        INTEGER NOT NULL, -- Unix milliseconds
    ended_at          INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turns_conversation
    ON turns (conversation_id, seq);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}

// Append persists turn under a fresh UUID.
func (s *Store) Append(ctx context.Context, turn *streamchat.ConversationTurn) error {
	_, err := s.AppendRecord(ctx, turn)
	return err
}

// AppendRecord is Append that also returns the assigned id.
func (s *Store) AppendRecord(ctx context.Context, turn *streamchat.ConversationTurn) (string, error) {
	docs := turn.VectorSearchResults
	if docs == nil {
		docs = []api.VectorSearchResult{}
	}
	rag, err := json.Marshal(docs)
	if err != nil {
		return "", fmt.Errorf("history: encode rag documents: %w", err)
	}

	var promptTok, completionTok, totalTok *int
	if u := turn.TokenUsage; u != nil {
		promptTok, completionTok, totalTok = u.Prompt, u.Completion, u.Total
	}

	id := uuid.NewString()
	const q = `
INSERT INTO turns (id, conversation_id, prompt, response, thinking, model, query_rewrite,
                   prompt_tokens, completion_tokens, total_tokens, rag_documents, started_at, ended_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q,
		id, turn.ConversationID, turn.Prompt, turn.Response, turn.Thinking, turn.Model, turn.QueryRewrite,
		nullInt(promptTok), nullInt(completionTok), nullInt(totalTok), string(rag),
		turn.RequestStartTime.UnixMilli(), turn.RequestEndTime.UnixMilli(),
	); err != nil {
		return "", fmt.Errorf("history: append: %w", err)
	}
	return id, nil
}

// Recent returns the most recent n turns of a conversation, oldest first.
// A conversationID of zero selects the most recent turns across all
// conversations.
func (s *Store) Recent(ctx context.Context, conversationID int64, n int) ([]Record, error) {
	const q = `
SELECT id, conversation_id, prompt, response, thinking, model, query_rewrite,
       prompt_tokens, completion_tokens, total_tokens, rag_documents, started_at, ended_at
FROM (
    SELECT * FROM turns
    WHERE  (? = 0 OR conversation_id = ?)
    ORDER  BY seq DESC
    LIMIT  ?
) ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, q, conversationID, conversationID, n)
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r                          Record
			promptTok, complTok, total sql.NullInt64
			rag                        string
			started, ended             int64
		)
		if err := rows.Scan(&r.ID, &r.ConversationID, &r.Prompt, &r.Response, &r.Thinking, &r.Model,
			&r.QueryRewrite, &promptTok, &complTok, &total, &rag, &started, &ended); err != nil {
			return nil, fmt.Errorf("history: recent scan: %w", err)
		}
		if err := json.Unmarshal([]byte(rag), &r.VectorSearchResults); err != nil {
			return nil, fmt.Errorf("history: decode rag documents of %s: %w", r.ID, err)
		}
		if len(r.VectorSearchResults) == 0 {
			r.VectorSearchResults = nil
		}
		if promptTok.Valid || complTok.Valid || total.Valid {
			r.TokenUsage = &streamchat.TokenUsage{
				Prompt:     intPtr(promptTok),
				Completion: intPtr(complTok),
				Total:      intPtr(total),
			}
		}
		r.RequestStartTime = time.UnixMilli(started)
		r.RequestEndTime = time.UnixMilli(ended)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: recent rows: %w", err)
	}
	return out, nil
}

// Conversations lists every conversation with at least one turn, most
// recently active first.
func (s *Store) Conversations(ctx context.Context) ([]Conversation, error) {
	const q = `
SELECT conversation_id,
       COUNT(*),
       (SELECT prompt FROM turns f WHERE f.conversation_id = t.conversation_id ORDER BY seq LIMIT 1),
       MAX(ended_at)
FROM   turns t
GROUP  BY conversation_id
ORDER  BY MAX(ended_at) DESC, conversation_id DESC`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("history: conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		var last int64
		if err := rows.Scan(&c.ID, &c.Turns, &c.FirstPrompt, &last); err != nil {
			return nil, fmt.Errorf("history: conversations scan: %w", err)
		}
		c.LastActivity = time.UnixMilli(last)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: conversations rows: %w", err)
	}
	return out, nil
}

// MaxConversationID returns the highest conversation id stored, or 0.
func (s *Store) MaxConversationID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(conversation_id) FROM turns`).Scan(&id); err != nil {
		return 0, fmt.Errorf("history: max conversation id: %w", err)
	}
	return id.Int64, nil
}

// Name labels the store in readiness responses.
func (s *Store) Name() string { return "history" }

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("history: ping: %w", err)
	}
	return nil
}

// Close releases the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("history: close: %w", err)
	}
	return nil
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
