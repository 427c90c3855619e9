package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/mcphost/framework"
	runtimesvc "github.com/lexcodex/mcphost/internal/mcphost/runtime"
)

func TestConfigDocGetSet(t *testing.T) {
	doc := configDoc{
		"servers": []any{
			map[string]any{"mechanism": "uvx", "package": "docs"},
		},
	}
	value, ok := doc.get("servers.0.package")
	require.True(t, ok)
	require.Equal(t, "docs", value)
	_, ok = doc.get("servers.3.package")
	require.False(t, ok)

	require.NoError(t, doc.set("model", "qwen2.5"))
	value, ok = doc.get("model")
	require.True(t, ok)
	require.Equal(t, "qwen2.5", value)

	require.NoError(t, doc.set("limits.max_iterations", 10))
	value, ok = doc.get("limits.max_iterations")
	require.True(t, ok)
	require.Equal(t, 10, value)

	require.Error(t, doc.set("a..b", 1))
	require.Equal(t, "[mechanism: uvx\npackage: docs]", prettyValue(doc["servers"]))
}

func TestConfigDocSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	doc, err := loadConfigDoc(path)
	require.NoError(t, err)
	assert.Empty(t, doc)

	require.NoError(t, doc.set("timeout", "2m"))
	require.NoError(t, doc.save(path))
	loaded, err := loadConfigDoc(path)
	require.NoError(t, err)
	assert.Equal(t, "2m", loaded["timeout"])
}

func TestParseValue(t *testing.T) {
	assert.Equal(t, true, parseValue("true"))
	assert.Equal(t, 8, parseValue("8"))
	assert.Equal(t, 0.5, parseValue("0.5"))
	assert.Equal(t, "2m", parseValue("2m"))
	assert.Equal(t, "", parseValue(""))
	assert.Equal(t, "[a, b]", parseValue("[a, b]"))
}

func TestConfigDocCheck(t *testing.T) {
	assert.NoError(t, configDoc{"timeout": "2m"}.check())
	assert.Error(t, configDoc{"timeout": "soon"}.check())
	assert.Error(t, configDoc{
		"servers": []any{map[string]any{"mechanism": "pip", "package": "x"}},
	}.check())
}

func TestLoadConfigLayersFileAndFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".mcphost", "config.yaml")
	require.NoError(t, runtimesvc.SaveConfigFile(path, runtimesvc.Config{
		OllamaModel: "from-file",
		Timeout:     3 * time.Minute,
		Servers:     []framework.ToolServerConfig{{Mechanism: framework.LaunchNPX, Package: "file-server"}},
	}))

	loaded, err := loadConfig(runtimesvc.Config{Workspace: dir}, nil)
	require.NoError(t, err)
	assert.Equal(t, "from-file", loaded.OllamaModel)
	assert.Equal(t, 3*time.Minute, loaded.Timeout)
	assert.Equal(t, "file-server", loaded.Servers[0].Package)
	assert.Equal(t, filepath.Join(dir, ".mcphost", "history.db"), loaded.HistoryPath)

	loaded, err = loadConfig(runtimesvc.Config{Workspace: dir, OllamaModel: "from-flag"}, []string{"uvx:a", "http:http://localhost:1/mcp"})
	require.NoError(t, err)
	assert.Equal(t, "from-flag", loaded.OllamaModel)
	require.Len(t, loaded.Servers, 2)
	assert.Equal(t, framework.LaunchHTTP, loaded.Servers[1].Mechanism)

	_, err = loadConfig(runtimesvc.Config{Workspace: dir}, []string{"nope"})
	assert.Error(t, err)
}

func TestLoadConfigWithoutFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	loaded, err := loadConfig(runtimesvc.Config{Workspace: dir}, nil)
	require.NoError(t, err)
	assert.Equal(t, framework.DefaultToolServers(), loaded.Servers)
	_, statErr := os.Stat(filepath.Join(dir, ".mcphost", "config.yaml"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestTerminalSinkPrintsDeltas(t *testing.T) {
	var out, status bytes.Buffer
	sink := newTerminalSink(&out, &status)
	for _, in := range []framework.Instruction{
		{Kind: framework.InstructionRender, Text: "Hel"},
		{Kind: framework.InstructionRender, Text: "Hello"},
		{Kind: framework.InstructionFlush, Text: "Hello"},
		{Kind: framework.InstructionAnnounce, ToolName: "search"},
		{Kind: framework.InstructionRender, Text: "World"},
		{Kind: framework.InstructionFinalFlush, Text: "World"},
		{Kind: framework.InstructionNotice, Text: "server 2 failed"},
	} {
		require.NoError(t, sink.Apply(in))
	}
	assert.Equal(t, "Hello\n\nWorld\n", out.String())
	assert.Equal(t, "→ running tool: search\nwarning: server 2 failed\n", status.String())
}

func TestRootCommandTree(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, cmd := range root.Commands() {
		names[cmd.Name()] = true
	}
	for _, want := range []string{"chat", "ask", "serve", "servers", "history", "token", "config"} {
		assert.True(t, names[want], want)
	}
}
