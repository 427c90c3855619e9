package framework

import (
	"fmt"
	"sort"
	"strings"
)

// LaunchMechanism selects how a tool server is reached.
type LaunchMechanism string

const (
	LaunchUVX  LaunchMechanism = "uvx"
	LaunchNPX  LaunchMechanism = "npx"
	LaunchHTTP LaunchMechanism = "http"
)

// LaunchMechanisms lists the supported mechanisms in display order.
var LaunchMechanisms = []LaunchMechanism{LaunchUVX, LaunchNPX, LaunchHTTP}

// ParseLaunchMechanism validates a user supplied mechanism name.
func ParseLaunchMechanism(raw string) (LaunchMechanism, error) {
	value := LaunchMechanism(strings.ToLower(strings.TrimSpace(raw)))
	for _, m := range LaunchMechanisms {
		if m == value {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown launch mechanism %q (want uvx, npx or http)", raw)
}

// ToolServerConfig is one entry of the tool-server list. Package holds a
// package identifier for subprocess mechanisms and a URL for http.
type ToolServerConfig struct {
	Mechanism LaunchMechanism `yaml:"mechanism" json:"mechanism"`
	Package   string          `yaml:"package" json:"package"`
}

// ParseToolServerConfig parses "mechanism:package", e.g. "npx:@scope/server"
// or "http:https://example.com/mcp".
func ParseToolServerConfig(raw string) (ToolServerConfig, error) {
	mech, pkg, ok := strings.Cut(raw, ":")
	if !ok {
		return ToolServerConfig{}, fmt.Errorf("tool server %q: expected mechanism:package", raw)
	}
	m, err := ParseLaunchMechanism(mech)
	if err != nil {
		return ToolServerConfig{}, err
	}
	cfg := ToolServerConfig{Mechanism: m, Package: strings.TrimSpace(pkg)}
	if err := cfg.Validate(); err != nil {
		return ToolServerConfig{}, err
	}
	return cfg, nil
}

// Validate checks a single entry.
func (c ToolServerConfig) Validate() error {
	if _, err := ParseLaunchMechanism(string(c.Mechanism)); err != nil {
		return err
	}
	if strings.TrimSpace(c.Package) == "" {
		return fmt.Errorf("%s tool server has no package", c.Mechanism)
	}
	return nil
}

// Command resolves the subprocess command line. npx receives -y so it never
// blocks on an install prompt.
func (c ToolServerConfig) Command() (string, []string, error) {
	switch c.Mechanism {
	case LaunchNPX:
		return "npx", []string{"-y", c.Package}, nil
	case LaunchUVX:
		return "uvx", []string{c.Package}, nil
	default:
		return "", nil, fmt.Errorf("%s tool servers are not launched as subprocesses", c.Mechanism)
	}
}

// String renders the entry as "mechanism:package".
func (c ToolServerConfig) String() string {
	return string(c.Mechanism) + ":" + c.Package
}

// DefaultToolServers is the seed list for a new session.
func DefaultToolServers() []ToolServerConfig {
	return []ToolServerConfig{
		{Mechanism: LaunchUVX, Package: "awslabs.aws-documentation-mcp-server@latest"},
	}
}

// ServerList is the caller-owned, ordered, mutable list of tool servers for a
// session. It is not safe for concurrent mutation.
type ServerList struct {
	items []ToolServerConfig
}

// NewServerList copies items into a new list.
func NewServerList(items ...ToolServerConfig) *ServerList {
	return &ServerList{items: append([]ToolServerConfig(nil), items...)}
}

// Len returns the number of entries.
func (l *ServerList) Len() int {
	if l == nil {
		return 0
	}
	return len(l.items)
}

// At returns entry i.
func (l *ServerList) At(i int) (ToolServerConfig, error) {
	if err := l.checkIndex(i); err != nil {
		return ToolServerConfig{}, err
	}
	return l.items[i], nil
}

// All returns a copy of the entries in order.
func (l *ServerList) All() []ToolServerConfig {
	if l == nil {
		return nil
	}
	return append([]ToolServerConfig(nil), l.items...)
}

// Add appends an entry. Entries may be incomplete until Validate is called.
func (l *ServerList) Add(cfg ToolServerConfig) {
	l.items = append(l.items, cfg)
}

// Update replaces entry i.
func (l *ServerList) Update(i int, cfg ToolServerConfig) error {
	if err := l.checkIndex(i); err != nil {
		return err
	}
	l.items[i] = cfg
	return nil
}

// Remove deletes entry i.
func (l *ServerList) Remove(i int) error {
	if err := l.checkIndex(i); err != nil {
		return err
	}
	l.items = append(l.items[:i], l.items[i+1:]...)
	return nil
}

// RemoveMany deletes several entries by their current indices. Indices are
// validated up front and removed from the highest down so earlier removals
// never shift later ones.
func (l *ServerList) RemoveMany(indices []int) error {
	unique := make(map[int]struct{}, len(indices))
	for _, i := range indices {
		if err := l.checkIndex(i); err != nil {
			return err
		}
		unique[i] = struct{}{}
	}
	ordered := make([]int, 0, len(unique))
	for i := range unique {
		ordered = append(ordered, i)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(ordered)))
	for _, i := range ordered {
		l.items = append(l.items[:i], l.items[i+1:]...)
	}
	return nil
}

// Validate reports whether the list can be used for a run.
func (l *ServerList) Validate() error {
	if l.Len() == 0 {
		return ErrNoToolServers
	}
	for i, cfg := range l.items {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("tool server %d: %w", i+1, err)
		}
	}
	return nil
}

func (l *ServerList) checkIndex(i int) error {
	if i < 0 || i >= l.Len() {
		return fmt.Errorf("tool server index %d out of range (have %d)", i+1, l.Len())
	}
	return nil
}

// DefaultServerList returns a fresh list seeded with DefaultToolServers.
func DefaultServerList() *ServerList {
	return NewServerList(DefaultToolServers()...)
}
