package runtime

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lexcodex/mcphost/framework"
	"github.com/lexcodex/mcphost/llm"
)

const (
	HistoryBackendSQLite = "sqlite"
	HistoryBackendFile   = "file"

	DefaultTimeout = 10 * time.Minute
	DefaultModel   = "llama3.1"
)

// Config captures every knob shared across the mcphost CLI, TUI, and server
// entry points. Fields without a yaml tag only come from flags.
type Config struct {
	Workspace      string                       `yaml:"-"`
	ConfigPath     string                       `yaml:"-"`
	LogPath        string                       `yaml:"log_path,omitempty"`
	TelemetryPath  string                       `yaml:"telemetry_path,omitempty"`
	HistoryPath    string                       `yaml:"history_path,omitempty"`
	HistoryBackend string                       `yaml:"history_backend,omitempty"`
	OllamaEndpoint string                       `yaml:"ollama_endpoint,omitempty"`
	OllamaModel    string                       `yaml:"model,omitempty"`
	Temperature    float64                      `yaml:"temperature,omitempty"`
	MaxIterations  int                          `yaml:"max_iterations,omitempty"`
	Timeout        time.Duration                `yaml:"timeout,omitempty"`
	Servers        []framework.ToolServerConfig `yaml:"servers,omitempty"`
	ServerAddr     string                       `yaml:"server_addr,omitempty"`
	AuthSecret     string                       `yaml:"auth_secret,omitempty"`
	Cursor         string                       `yaml:"cursor,omitempty"`
	Debug          bool                         `yaml:"debug,omitempty"`
}

// DefaultConfig infers sensible defaults based on the current working
// directory. Errors from os.Getwd are ignored so callers can override manually.
func DefaultConfig() Config {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	return Config{
		Workspace:      cwd,
		ConfigPath:     filepath.Join(cwd, ".mcphost", "config.yaml"),
		LogPath:        filepath.Join(cwd, ".mcphost", "mcphost.log"),
		HistoryPath:    filepath.Join(cwd, ".mcphost", "history.db"),
		HistoryBackend: HistoryBackendSQLite,
		OllamaEndpoint: llm.DefaultEndpoint,
		OllamaModel:    DefaultModel,
		Timeout:        DefaultTimeout,
		Servers:        framework.DefaultToolServers(),
		ServerAddr:     ":8080",
		Cursor:         framework.DefaultCursor,
	}
}

// Normalize ensures every filesystem path is absolute and fills missing
// defaults so runtime initialization never has to re-check the same invariants.
func (c *Config) Normalize() error {
	if c.Workspace == "" {
		return fmt.Errorf("workspace path required")
	}
	absWorkspace, err := filepath.Abs(c.Workspace)
	if err != nil {
		return fmt.Errorf("resolve workspace: %w", err)
	}
	c.Workspace = absWorkspace
	c.ConfigPath = c.resolve(c.ConfigPath, filepath.Join(".mcphost", "config.yaml"))
	c.LogPath = c.resolve(c.LogPath, filepath.Join(".mcphost", "mcphost.log"))
	if c.TelemetryPath != "" {
		c.TelemetryPath = c.resolve(c.TelemetryPath, "")
	}
	switch c.HistoryBackend {
	case "":
		c.HistoryBackend = HistoryBackendSQLite
	case HistoryBackendSQLite, HistoryBackendFile:
	default:
		return fmt.Errorf("unknown history backend %q", c.HistoryBackend)
	}
	defaultHistory := filepath.Join(".mcphost", "history.db")
	if c.HistoryBackend == HistoryBackendFile {
		defaultHistory = filepath.Join(".mcphost", "history")
	}
	c.HistoryPath = c.resolve(c.HistoryPath, defaultHistory)
	if c.OllamaEndpoint == "" {
		c.OllamaEndpoint = llm.DefaultEndpoint
	}
	if c.OllamaModel == "" {
		c.OllamaModel = DefaultModel
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.ServerAddr == "" {
		c.ServerAddr = ":8080"
	}
	for i, server := range c.Servers {
		if err := server.Validate(); err != nil {
			return fmt.Errorf("servers[%d]: %w", i, err)
		}
	}
	return nil
}

func (c *Config) resolve(path, fallback string) string {
	if path == "" {
		path = fallback
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(c.Workspace, path)
	}
	return path
}

// Overlay copies every non-zero field of other onto c.
func (c *Config) Overlay(other Config) {
	if other.Workspace != "" {
		c.Workspace = other.Workspace
	}
	if other.ConfigPath != "" {
		c.ConfigPath = other.ConfigPath
	}
	if other.LogPath != "" {
		c.LogPath = other.LogPath
	}
	if other.TelemetryPath != "" {
		c.TelemetryPath = other.TelemetryPath
	}
	if other.HistoryPath != "" {
		c.HistoryPath = other.HistoryPath
	}
	if other.HistoryBackend != "" {
		c.HistoryBackend = other.HistoryBackend
	}
	if other.OllamaEndpoint != "" {
		c.OllamaEndpoint = other.OllamaEndpoint
	}
	if other.OllamaModel != "" {
		c.OllamaModel = other.OllamaModel
	}
	if other.Temperature != 0 {
		c.Temperature = other.Temperature
	}
	if other.MaxIterations != 0 {
		c.MaxIterations = other.MaxIterations
	}
	if other.Timeout != 0 {
		c.Timeout = other.Timeout
	}
	if len(other.Servers) > 0 {
		c.Servers = append([]framework.ToolServerConfig(nil), other.Servers...)
	}
	if other.ServerAddr != "" {
		c.ServerAddr = other.ServerAddr
	}
	if other.AuthSecret != "" {
		c.AuthSecret = other.AuthSecret
	}
	if other.Cursor != "" {
		c.Cursor = other.Cursor
	}
	if other.Debug {
		c.Debug = true
	}
}

// LoadConfigFile reads the yaml config at path. Missing files return an error
// wrapping os.ErrNotExist so callers can treat them as empty.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, fmt.Errorf("config path required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// SaveConfigFile persists cfg for future sessions.
func SaveConfigFile(path string, cfg Config) error {
	if path == "" {
		return fmt.Errorf("config path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
