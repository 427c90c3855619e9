package tools

import (
	"strings"
	"time"
)

// ProcessMetadata captures runtime details for a spawned tool server.
type ProcessMetadata struct {
	PID     int
	Command string
	Args    []string
	Started time.Time
}

// CommandLine renders the launch command as typed in a shell.
func (m ProcessMetadata) CommandLine() string {
	return strings.TrimSpace(m.Command + " " + strings.Join(m.Args, " "))
}

// ProcessMetadataProvider is implemented by clients backed by a subprocess.
type ProcessMetadataProvider interface {
	ProcessMetadata() ProcessMetadata
}

// ProcessMetadataFor reports the subprocess behind a connection, if any.
func ProcessMetadataFor(conn *Connection) (ProcessMetadata, bool) {
	if conn == nil {
		return ProcessMetadata{}, false
	}
	provider, ok := conn.Client.(ProcessMetadataProvider)
	if !ok {
		return ProcessMetadata{}, false
	}
	return provider.ProcessMetadata(), true
}
