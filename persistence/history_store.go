package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"gopkg.in/yaml.v3"

	"github.com/lexcodex/mcphost/framework"
)

// Transcript is one answered (or failed) question.
type Transcript struct {
	ID         string                       `json:"id"`
	Question   string                       `json:"question"`
	Model      string                       `json:"model"`
	Servers    []framework.ToolServerConfig `json:"servers"`
	Segments   []string                     `json:"segments"`
	Tools      []string                     `json:"tools,omitempty"`
	Failures   []string                     `json:"failures,omitempty"`
	Error      string                       `json:"error,omitempty"`
	Usage      framework.Usage              `json:"usage"`
	StartedAt  time.Time                    `json:"started_at"`
	FinishedAt time.Time                    `json:"finished_at"`
}

// HistoryStore persists transcripts.
type HistoryStore interface {
	Save(ctx context.Context, t Transcript) error
	Recent(ctx context.Context, limit int) ([]Transcript, error)
	Close() error
}

// SQLiteHistoryStore keeps transcripts in a SQLite database.
type SQLiteHistoryStore struct {
	db *sql.DB
}

// NewSQLiteHistoryStore opens/creates the database at dbPath.
func NewSQLiteHistoryStore(dbPath string) (*SQLiteHistoryStore, error) {
	if dbPath == "" {
		return nil, errors.New("history database path required")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	// a single connection keeps :memory: databases shared
	db.SetMaxOpenConns(1)
	store := &SQLiteHistoryStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteHistoryStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS transcripts (
		id TEXT PRIMARY KEY,
		question TEXT NOT NULL,
		model TEXT,
		servers TEXT,
		segments TEXT,
		tools TEXT,
		failures TEXT,
		error TEXT,
		prompt_tokens INTEGER,
		completion_tokens INTEGER,
		started_at TIMESTAMP,
		finished_at TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_transcripts_started ON transcripts(started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Save inserts or replaces a transcript.
func (s *SQLiteHistoryStore) Save(ctx context.Context, t Transcript) error {
	if t.ID == "" {
		return errors.New("transcript id required")
	}
	servers, err := yaml.Marshal(t.Servers)
	if err != nil {
		return fmt.Errorf("encode servers: %w", err)
	}
	segments, err := json.Marshal(nonNil(t.Segments))
	if err != nil {
		return err
	}
	tools, err := json.Marshal(nonNil(t.Tools))
	if err != nil {
		return err
	}
	failures, err := json.Marshal(nonNil(t.Failures))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO transcripts
			(id, question, model, servers, segments, tools, failures, error,
			 prompt_tokens, completion_tokens, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Question, t.Model, string(servers), string(segments), string(tools), string(failures), t.Error,
		t.Usage.PromptTokens, t.Usage.CompletionTokens, t.StartedAt.UTC(), t.FinishedAt.UTC())
	return err
}

// Recent returns up to limit transcripts, newest first.
func (s *SQLiteHistoryStore) Recent(ctx context.Context, limit int) ([]Transcript, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, question, model, servers, segments, tools, failures, error,
			prompt_tokens, completion_tokens, started_at, finished_at
		FROM transcripts
		ORDER BY started_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transcript
	for rows.Next() {
		var (
			t                                  Transcript
			model, errText                     sql.NullString
			servers, segments, tools, failures sql.NullString
			prompt, completion                 sql.NullInt64
		)
		if err := rows.Scan(&t.ID, &t.Question, &model, &servers, &segments, &tools, &failures, &errText,
			&prompt, &completion, &t.StartedAt, &t.FinishedAt); err != nil {
			return nil, err
		}
		t.Model = model.String
		t.Error = errText.String
		t.Usage = framework.Usage{PromptTokens: int(prompt.Int64), CompletionTokens: int(completion.Int64)}
		if servers.String != "" {
			if err := yaml.Unmarshal([]byte(servers.String), &t.Servers); err != nil {
				return nil, fmt.Errorf("decode servers of %s: %w", t.ID, err)
			}
		}
		if err := decodeList(segments, &t.Segments); err != nil {
			return nil, err
		}
		if err := decodeList(tools, &t.Tools); err != nil {
			return nil, err
		}
		if err := decodeList(failures, &t.Failures); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Close releases the database.
func (s *SQLiteHistoryStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func decodeList(raw sql.NullString, dst *[]string) error {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw.String), dst); err != nil {
		return err
	}
	if len(*dst) == 0 {
		*dst = nil
	}
	return nil
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
