package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// FileHistoryStore keeps transcripts as JSON files, one per run. It needs no
// cgo and suits read-only inspection of a workspace.
type FileHistoryStore struct {
	root string
	mu   sync.RWMutex
}

// NewFileHistoryStore builds a store in the provided root directory.
func NewFileHistoryStore(root string) (*FileHistoryStore, error) {
	if root == "" {
		return nil, errors.New("history store root required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &FileHistoryStore{root: root}, nil
}

func (s *FileHistoryStore) pathFor(id string) string {
	return filepath.Join(s.root, id+".transcript.json")
}

// Save writes the transcript, replacing an earlier one with the same id.
func (s *FileHistoryStore) Save(ctx context.Context, t Transcript) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if t.ID == "" {
		return errors.New("transcript id required")
	}
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return os.WriteFile(s.pathFor(t.ID), data, 0o644)
}

// Recent returns up to limit transcripts, newest first.
func (s *FileHistoryStore) Recent(ctx context.Context, limit int) ([]Transcript, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if limit <= 0 {
		limit = 20
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	matches, err := filepath.Glob(filepath.Join(s.root, "*.transcript.json"))
	if err != nil {
		return nil, err
	}
	out := make([]Transcript, 0, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var t Transcript
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close is a no-op.
func (s *FileHistoryStore) Close() error { return nil }
