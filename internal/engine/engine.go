// Package engine abstracts the AI coding agent that does the actual work.
//
// Two implementations exist: CLIEngine drives the claude command-line agent
// as a subprocess with streaming JSON output, and APIEngine talks to the
// Anthropic Messages API directly. Both expose the same pull-based Stream so
// callers consume events the same way regardless of transport.
package engine

import (
	"context"
)

// EventKind discriminates stream events.
type EventKind string

const (
	// EventText is a chunk of assistant text.
	EventText EventKind = "text"
	// EventToolUse indicates the agent invoked a tool.
	EventToolUse EventKind = "tool_use"
	// EventResult is the terminal event carrying the final outcome.
	EventResult EventKind = "result"
)

// Event is one element of an agent output stream.
type Event struct {
	Kind EventKind

	// Text is set for EventText.
	Text string

	// ToolName is set for EventToolUse.
	ToolName string

	// Result fields, set for EventResult.
	IsError  bool
	Subtype  string
	ResultOf string // final result text, when the transport reports one
}

// Stream is a pull-based agent event stream. Recv blocks for the next event
// and returns io.EOF when the agent finishes cleanly. Close aborts the
// underlying agent; it is safe to call concurrently with Recv and more than
// once.
type Stream interface {
	Recv() (*Event, error)
	Close() error
}

// Request describes one agent invocation.
type Request struct {
	// Prompt is the full prompt text.
	Prompt string

	// Model overrides the engine's default model when non-empty.
	Model string

	// WorkDir is the directory the agent operates in. CLIEngine runs the
	// subprocess there; APIEngine includes it in the prompt context.
	WorkDir string

	// MaxTurns bounds the agent's tool-use turns. 0 means engine default.
	MaxTurns int

	// Images are paths to image files attached to the prompt.
	Images []string
}

// Engine starts agent runs. Run returns once the agent is launched; the
// returned Stream yields output as it arrives. Cancelling ctx aborts the run.
type Engine interface {
	Run(ctx context.Context, req Request) (Stream, error)
}
