package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
)

const maxScanTokenSize = 10 * 1024 * 1024 // agent lines can carry large tool results

// CLIEngine runs the claude command-line agent as a subprocess and parses its
// stream-json output into Events.
type CLIEngine struct {
	// Binary is the agent executable. Defaults to "claude".
	Binary string

	// DefaultModel is used when the request doesn't name one.
	DefaultModel string

	// SkipPermissions passes --dangerously-skip-permissions. Only safe when
	// the agent runs inside an isolated worktree.
	SkipPermissions bool
}

// NewCLIEngine returns a CLIEngine with the given default model.
func NewCLIEngine(defaultModel string) *CLIEngine {
	return &CLIEngine{Binary: "claude", DefaultModel: defaultModel}
}

// Run launches the agent subprocess. The returned stream yields one event per
// parsed stream-json line; unparseable lines are surfaced as raw text so no
// output is silently lost.
func (e *CLIEngine) Run(ctx context.Context, req Request) (Stream, error) {
	binary := e.Binary
	if binary == "" {
		binary = "claude"
	}
	model := req.Model
	if model == "" {
		model = e.DefaultModel
	}

	prompt := req.Prompt
	if len(req.Images) > 0 {
		// The agent reads files named in the prompt.
		prompt += "\n\nReference images:\n"
		for _, img := range req.Images {
			prompt += "- " + img + "\n"
		}
	}

	args := []string{"-p", prompt, "--output-format", "stream-json", "--verbose"}
	if model != "" {
		args = append(args, "--model", model)
	}
	if req.MaxTurns > 0 {
		args = append(args, "--max-turns", fmt.Sprintf("%d", req.MaxTurns))
	}
	if e.SkipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	}

	runCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(runCtx, binary, args...)
	if req.WorkDir != "" {
		cmd.Dir = req.WorkDir
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start agent: %w", err)
	}

	s := &cliStream{
		cmd:    cmd,
		cancel: cancel,
		events: make(chan *Event, 64),
		done:   make(chan struct{}),
	}
	go s.pump(stdout)
	return s, nil
}

type cliStream struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	events chan *Event
	done   chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	runErr    error
}

func (s *cliStream) pump(stdout io.Reader) {
	defer close(s.done)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxScanTokenSize)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		for _, ev := range parseStreamLine(line) {
			s.events <- ev
		}
	}

	err := s.cmd.Wait()
	s.mu.Lock()
	if err != nil && s.runErr == nil {
		s.runErr = fmt.Errorf("agent exited: %w", err)
	}
	s.mu.Unlock()
	close(s.events)
}

func (s *cliStream) Recv() (*Event, error) {
	ev, ok := <-s.events
	if !ok {
		<-s.done
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.runErr != nil {
			return nil, s.runErr
		}
		return nil, io.EOF
	}
	return ev, nil
}

func (s *cliStream) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		if s.runErr == nil {
			s.runErr = context.Canceled
		}
		s.mu.Unlock()
		s.cancel()
		// Drain so pump can finish and Wait reaps the process.
		go func() {
			for range s.events {
			}
		}()
	})
	return nil
}

// streamLine mirrors the stream-json wire format the agent emits: one JSON
// object per line, discriminated by type.
type streamLine struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`
	IsError bool   `json:"is_error"`
	Result  string `json:"result"`
	Message struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
			Name string `json:"name"`
		} `json:"content"`
	} `json:"message"`
}

func parseStreamLine(line string) []*Event {
	var msg streamLine
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		// Not stream-json; pass the raw line through as text.
		return []*Event{{Kind: EventText, Text: line + "\n"}}
	}

	switch msg.Type {
	case "assistant":
		var out []*Event
		for _, block := range msg.Message.Content {
			switch block.Type {
			case "text":
				if block.Text != "" {
					out = append(out, &Event{Kind: EventText, Text: block.Text})
				}
			case "tool_use":
				out = append(out, &Event{Kind: EventToolUse, ToolName: block.Name})
			}
		}
		return out
	case "result":
		return []*Event{{
			Kind:     EventResult,
			IsError:  msg.IsError,
			Subtype:  msg.Subtype,
			ResultOf: msg.Result,
		}}
	case "system", "user":
		// Init handshakes and echoed tool results carry nothing we surface.
		return nil
	default:
		return nil
	}
}
