// Package console is the interactive control surface for a running
// scheduler: reviewing plans, approving or rejecting them, and stopping
// features, from a readline prompt.
package console

import (
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"

	"github.com/mirahq/mira/internal/store"
	"github.com/mirahq/mira/internal/types"
)

// Controller is the subset of scheduler operations the console drives.
type Controller interface {
	Approve(id string) error
	Reject(id, feedback string) error
	StopFeature(id string) error
	ActiveRuns() []string
}

// Console is an interactive review shell bound to one project.
type Console struct {
	store      *store.Store
	controller Controller
	rl         *readline.Instance
}

// New creates a Console.
func New(st *store.Store, ctrl Controller) (*Console, error) {
	if st == nil || ctrl == nil {
		return nil, fmt.Errorf("store and controller are required")
	}
	return &Console{store: st, controller: ctrl}, nil
}

// Run starts the readline loop. Returns on Ctrl+D or the quit command.
func (c *Console) Run() error {
	cyan := color.New(color.FgCyan).SprintFunc()
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            cyan("mira> "),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()
	c.rl = rl

	fmt.Println("Commands: pending, plan <id>, approve <id>, reject <id> <feedback>, stop <id>, active, quit")

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			if err == io.EOF {
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := c.dispatch(line); err != nil {
			if err == io.EOF {
				return nil
			}
			red := color.New(color.FgRed).SprintFunc()
			fmt.Printf("%s %v\n", red("Error:"), err)
		}
	}
}

func (c *Console) dispatch(line string) error {
	parts := strings.Fields(line)
	command := parts[0]
	args := parts[1:]

	switch command {
	case "pending", "p":
		return c.showPending()
	case "plan":
		if len(args) != 1 {
			return fmt.Errorf("usage: plan <feature-id>")
		}
		return c.showPlan(args[0])
	case "approve", "a":
		if len(args) != 1 {
			return fmt.Errorf("usage: approve <feature-id>")
		}
		return c.controller.Approve(args[0])
	case "reject", "r":
		if len(args) < 2 {
			return fmt.Errorf("usage: reject <feature-id> <feedback>")
		}
		return c.controller.Reject(args[0], strings.Join(args[1:], " "))
	case "stop":
		if len(args) != 1 {
			return fmt.Errorf("usage: stop <feature-id>")
		}
		return c.controller.StopFeature(args[0])
	case "active":
		for _, id := range c.controller.ActiveRuns() {
			fmt.Printf("  %s\n", id)
		}
		return nil
	case "quit", "exit", "q":
		return io.EOF
	case "help", "?":
		fmt.Println("Commands: pending, plan <id>, approve <id>, reject <id> <feedback>, stop <id>, active, quit")
		return nil
	default:
		return fmt.Errorf("unknown command %q (try help)", command)
	}
}

func (c *Console) showPending() error {
	waiting, err := c.store.ListByStatus(types.StatusWaitingApproval)
	if err != nil {
		return err
	}
	if len(waiting) == 0 {
		fmt.Println("Nothing waiting for approval.")
		return nil
	}
	magenta := color.New(color.FgMagenta).SprintFunc()
	for _, f := range waiting {
		version := 0
		if f.Plan != nil {
			version = f.Plan.Version
		}
		fmt.Printf("%s %s  %s (plan v%d)\n", magenta("◉"), f.ID, f.Title, version)
	}
	return nil
}

func (c *Console) showPlan(id string) error {
	f, err := c.store.Get(id)
	if err != nil {
		return err
	}
	if f.Plan == nil || f.Plan.Content == "" {
		return fmt.Errorf("feature %s has no plan yet", id)
	}
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	fmt.Printf("\n%s (v%d, %s)\n\n%s\n\n", cyan(f.Title), f.Plan.Version, f.Plan.Status, f.Plan.Content)
	for _, fb := range f.Plan.Feedback {
		gray := color.New(color.FgHiBlack).SprintFunc()
		fmt.Printf("%s %s\n", gray("feedback:"), fb)
	}
	return nil
}
