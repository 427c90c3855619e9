package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/mcphost/framework"
)

func sampleTranscripts() []Transcript {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return []Transcript{
		{
			ID:         "run-1",
			Question:   "What is S3?",
			Model:      "llama3.1",
			Servers:    framework.DefaultToolServers(),
			Segments:   []string{"Let me check.", "S3 is object storage."},
			Tools:      []string{"search_documentation"},
			Usage:      framework.Usage{PromptTokens: 10, CompletionTokens: 5},
			StartedAt:  base,
			FinishedAt: base.Add(2 * time.Second),
		},
		{
			ID:         "run-2",
			Question:   "And Lambda?",
			Model:      "llama3.1",
			Servers:    []framework.ToolServerConfig{{Mechanism: framework.LaunchHTTP, Package: "http://localhost:9000/mcp"}},
			Failures:   []string{"tool server #1: refused"},
			Error:      framework.ErrStreamTimeout.Error(),
			StartedAt:  base.Add(time.Minute),
			FinishedAt: base.Add(2 * time.Minute),
		},
	}
}

func exerciseStore(t *testing.T, store HistoryStore) {
	t.Helper()
	ctx := context.Background()
	for _, tr := range sampleTranscripts() {
		require.NoError(t, store.Save(ctx, tr))
	}
	require.Error(t, store.Save(ctx, Transcript{Question: "no id"}))

	recent, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "run-2", recent[0].ID)
	assert.Equal(t, "run-1", recent[1].ID)

	first := recent[1]
	assert.Equal(t, "What is S3?", first.Question)
	assert.Equal(t, framework.DefaultToolServers(), first.Servers)
	assert.Equal(t, []string{"Let me check.", "S3 is object storage."}, first.Segments)
	assert.Equal(t, []string{"search_documentation"}, first.Tools)
	assert.Equal(t, 15, first.Usage.Total())
	assert.True(t, first.StartedAt.Equal(sampleTranscripts()[0].StartedAt))

	second := recent[0]
	assert.Empty(t, second.Segments)
	assert.Equal(t, framework.LaunchHTTP, second.Servers[0].Mechanism)
	assert.Equal(t, framework.ErrStreamTimeout.Error(), second.Error)

	limited, err := store.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "run-2", limited[0].ID)

	updated := sampleTranscripts()[0]
	updated.Segments = []string{"rewritten"}
	require.NoError(t, store.Save(ctx, updated))
	recent, err = store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, []string{"rewritten"}, recent[1].Segments)
}

func TestSQLiteHistoryStore(t *testing.T) {
	store, err := NewSQLiteHistoryStore(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	defer store.Close()
	exerciseStore(t, store)
}

func TestFileHistoryStore(t *testing.T) {
	store, err := NewFileHistoryStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	exerciseStore(t, store)
}

func TestHistoryStoreRequiresLocation(t *testing.T) {
	_, err := NewSQLiteHistoryStore("")
	require.Error(t, err)
	_, err = NewFileHistoryStore("")
	require.Error(t, err)
}
