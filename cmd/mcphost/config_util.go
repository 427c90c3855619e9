package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	runtimesvc "github.com/lexcodex/mcphost/internal/mcphost/runtime"
)

// configDoc is config.yaml decoded into generic maps so `config get/set` can
// address any key, including ones the runtime does not know yet.
type configDoc map[string]any

func loadConfigDoc(path string) (configDoc, error) {
	doc := configDoc{}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

func (d configDoc) save(path string) error {
	raw, err := yaml.Marshal(map[string]any(d))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

// check round-trips the document through runtime.Config and rejects edits
// the runtime would refuse to load.
func (d configDoc) check() error {
	raw, err := yaml.Marshal(map[string]any(d))
	if err != nil {
		return err
	}
	var parsed runtimesvc.Config
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for i, server := range parsed.Servers {
		if err := server.Validate(); err != nil {
			return fmt.Errorf("invalid config: servers[%d]: %w", i, err)
		}
	}
	return nil
}

// get resolves a dotted key. Numeric parts index into lists.
func (d configDoc) get(key string) (any, bool) {
	var node any = map[string]any(d)
	for _, part := range strings.Split(key, ".") {
		switch cur := node.(type) {
		case map[string]any:
			next, ok := cur[part]
			if !ok {
				return nil, false
			}
			node = next
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(cur) {
				return nil, false
			}
			node = cur[i]
		default:
			return nil, false
		}
	}
	return node, true
}

// set writes value under a dotted key, creating intermediate maps.
func (d configDoc) set(key string, value any) error {
	parts := strings.Split(key, ".")
	for _, part := range parts {
		if part == "" {
			return fmt.Errorf("invalid key %q", key)
		}
	}
	node := map[string]any(d)
	for _, part := range parts[:len(parts)-1] {
		next, ok := node[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			node[part] = next
		}
		node = next
	}
	node[parts[len(parts)-1]] = value
	return nil
}

// parseValue decodes a command-line value as a yaml scalar, so "true", "8"
// and "0.5" keep their types while "2m" stays a string.
func parseValue(input string) any {
	var value any
	if err := yaml.Unmarshal([]byte(input), &value); err != nil || value == nil {
		return input
	}
	switch value.(type) {
	case map[string]any, []any:
		return input
	}
	return value
}

// prettyValue renders a value on as few lines as yaml allows.
func prettyValue(v any) string {
	switch value := v.(type) {
	case []any:
		items := make([]string, len(value))
		for i, item := range value {
			items[i] = prettyValue(item)
		}
		return "[" + strings.Join(items, ", ") + "]"
	case map[string]any:
		raw, _ := yaml.Marshal(value)
		return strings.TrimSpace(string(raw))
	default:
		return fmt.Sprint(value)
	}
}
