package framework

import "errors"

var (
	// ErrNoToolServers blocks a run when the tool-server list is empty.
	ErrNoToolServers = errors.New("no tool servers configured; add at least one before asking")
	// ErrNoConnections is returned when every configured tool server failed.
	ErrNoConnections = errors.New("no tool server could be reached")
	// ErrStreamTimeout marks a response stream that exceeded its deadline.
	// The partial answer is discarded; the user may simply ask again.
	ErrStreamTimeout = errors.New("response stream timed out")
	// ErrEmptyQuestion rejects blank submissions.
	ErrEmptyQuestion = errors.New("question is empty")
)
