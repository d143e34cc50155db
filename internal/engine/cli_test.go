package engine

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStreamLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []*Event
	}{
		{
			name: "assistant text",
			line: `{"type":"assistant","message":{"content":[{"type":"text","text":"working on it"}]}}`,
			want: []*Event{{Kind: EventText, Text: "working on it"}},
		},
		{
			name: "tool use",
			line: `{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Edit"}]}}`,
			want: []*Event{{Kind: EventToolUse, ToolName: "Edit"}},
		},
		{
			name: "mixed content blocks",
			line: `{"type":"assistant","message":{"content":[{"type":"text","text":"editing"},{"type":"tool_use","name":"Bash"}]}}`,
			want: []*Event{
				{Kind: EventText, Text: "editing"},
				{Kind: EventToolUse, ToolName: "Bash"},
			},
		},
		{
			name: "success result",
			line: `{"type":"result","subtype":"success","is_error":false,"result":"all done"}`,
			want: []*Event{{Kind: EventResult, Subtype: "success", ResultOf: "all done"}},
		},
		{
			name: "error result",
			line: `{"type":"result","subtype":"error_max_turns","is_error":true}`,
			want: []*Event{{Kind: EventResult, Subtype: "error_max_turns", IsError: true}},
		},
		{
			name: "system init is dropped",
			line: `{"type":"system","subtype":"init"}`,
			want: nil,
		},
		{
			name: "non-json passes through as text",
			line: `plain output line`,
			want: []*Event{{Kind: EventText, Text: "plain output line\n"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseStreamLine(tt.line))
		})
	}
}

// fakeAgent writes a shell script that emits canned stream-json, standing in
// for the real agent binary.
func fakeAgent(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-agent")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755))
	return path
}

func TestCLIEngineStreamsEvents(t *testing.T) {
	bin := fakeAgent(t, `
echo '{"type":"system","subtype":"init"}'
echo '{"type":"assistant","message":{"content":[{"type":"text","text":"hello"}]}}'
echo '{"type":"result","subtype":"success","result":"done"}'
`)
	e := &CLIEngine{Binary: bin}

	stream, err := e.Run(context.Background(), Request{Prompt: "do the thing"})
	require.NoError(t, err)
	defer stream.Close()

	var events []*Event
	for {
		ev, err := stream.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		events = append(events, ev)
	}

	require.Len(t, events, 2)
	assert.Equal(t, EventText, events[0].Kind)
	assert.Equal(t, "hello", events[0].Text)
	assert.Equal(t, EventResult, events[1].Kind)
	assert.Equal(t, "done", events[1].ResultOf)
}

func TestCLIEngineReportsExitFailure(t *testing.T) {
	bin := fakeAgent(t, `
echo '{"type":"assistant","message":{"content":[{"type":"text","text":"partial"}]}}'
exit 3
`)
	e := &CLIEngine{Binary: bin}

	stream, err := e.Run(context.Background(), Request{Prompt: "x"})
	require.NoError(t, err)
	defer stream.Close()

	var last error
	for {
		_, err := stream.Recv()
		if err != nil {
			last = err
			break
		}
	}
	require.Error(t, last)
	assert.NotEqual(t, io.EOF, last)
	assert.Contains(t, last.Error(), "agent exited")
}

func TestCLIEngineClose(t *testing.T) {
	bin := fakeAgent(t, `
echo '{"type":"assistant","message":{"content":[{"type":"text","text":"starting"}]}}'
sleep 30
`)
	e := &CLIEngine{Binary: bin}

	stream, err := e.Run(context.Background(), Request{Prompt: "x"})
	require.NoError(t, err)

	ev, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "starting", ev.Text)

	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close()) // second close is safe
}

func TestLoadProjectContext(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "CLAUDE.md"), []byte("Use tabs.\n"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".mira"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".mira", "context.md"), []byte("Prefer small PRs.\n"), 0644))

	got := LoadProjectContext(dir)
	assert.Contains(t, got, "## CLAUDE.md")
	assert.Contains(t, got, "Use tabs.")
	assert.Contains(t, got, "Prefer small PRs.")
	assert.True(t, strings.Index(got, "Use tabs.") < strings.Index(got, "Prefer small PRs."))
}

func TestLoadProjectContextEmpty(t *testing.T) {
	assert.Empty(t, LoadProjectContext(t.TempDir()))
}
