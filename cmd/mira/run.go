package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mirahq/mira/internal/config"
	"github.com/mirahq/mira/internal/console"
	"github.com/mirahq/mira/internal/engine"
	"github.com/mirahq/mira/internal/events"
	"github.com/mirahq/mira/internal/scheduler"
	"github.com/mirahq/mira/internal/store"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the scheduler loop for this project",
	Long: `Start the scheduler loop. The loop will:

1. Poll for pending features whose dependencies are completed
2. Create an isolated git worktree for each feature with a branch
3. Generate a plan and wait for your approval (unless disabled)
4. Drive the coding agent through the implementation
5. Continue until stopped with Ctrl+C

With --console, an interactive prompt is available for approving plans and
stopping features while the loop runs.`,
	Run: func(cmd *cobra.Command, args []string) {
		withConsole, _ := cmd.Flags().GetBool("console")
		maxConcurrent, _ := cmd.Flags().GetInt("max-concurrent")
		pollSeconds, _ := cmd.Flags().GetInt("poll-interval")
		useAPI, _ := cmd.Flags().GetBool("api")

		project := resolveProject()
		cfg, err := config.Load(project)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if maxConcurrent > 0 {
			cfg.MaxConcurrent = maxConcurrent
		}
		if pollSeconds > 0 {
			cfg.PollInterval = time.Duration(pollSeconds) * time.Second
		}

		eng := buildEngine(cfg, useAPI)
		sink := events.NewChannelSink(256)

		registry := scheduler.NewRegistry(eng, sink)
		sched, err := registry.Start(project, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		pidFile := filepath.Join(project, ".mira", "scheduler.pid")
		if err := os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to write pid file: %v\n", err)
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Scheduler running for %s (poll %v, max %d concurrent)\n",
			green("✓"), project, cfg.PollInterval, cfg.MaxConcurrent)

		// Event printer.
		go func() {
			for ev := range sink.Events() {
				displayEvent(ev)
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		if withConsole {
			st, err := store.New(project)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			go func() {
				c, err := console.New(st, sched)
				if err == nil {
					c.Run()
				}
				sigCh <- os.Interrupt
			}()
		}

		<-sigCh
		fmt.Println("\nShutting down...")
		if err := registry.StopAll(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		}
		sink.Close()
		if err := os.Remove(pidFile); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "warning: failed to remove pid file: %v\n", err)
		}
	},
}

// buildEngine picks the agent transport. Default is the claude CLI agent;
// --api switches to the Anthropic Messages API (text only, no tool loop).
func buildEngine(cfg config.Config, useAPI bool) engine.Engine {
	if useAPI {
		key := os.Getenv("ANTHROPIC_API_KEY")
		if key == "" {
			fmt.Fprintf(os.Stderr, "Error: --api requires ANTHROPIC_API_KEY\n")
			os.Exit(1)
		}
		return engine.NewAPIEngine(engine.APIConfig{
			APIKey:       key,
			DefaultModel: cfg.DefaultModel,
			MaxInFlight:  int64(cfg.MaxConcurrent),
		})
	}
	e := engine.NewCLIEngine(cfg.DefaultModel)
	// Worktrees isolate the agent from the main checkout, so autonomous
	// edits are contained.
	e.SkipPermissions = cfg.EnableIsolation
	return e
}

func init() {
	runCmd.Flags().Bool("console", false, "start an interactive approval console alongside the loop")
	runCmd.Flags().Int("max-concurrent", 0, "override max concurrent features")
	runCmd.Flags().Int("poll-interval", 0, "override poll interval in seconds")
	runCmd.Flags().Bool("api", false, "use the Anthropic API instead of the claude CLI agent")
	rootCmd.AddCommand(runCmd)
}
