package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mirahq/mira/internal/types"
)

var stopCmd = &cobra.Command{
	Use:   "stop [feature-id]",
	Short: "Stop the running scheduler, or requeue an orphaned feature",
	Long: `With no arguments, find the scheduler started by 'mira run' in this project
and shut it down gracefully (SIGINT, then SIGKILL after the timeout).

With a feature id, return an orphaned in-progress feature to the queue. This
only applies when the scheduler is not running; a live run is stopped from the
'mira run --console' shell instead.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		timeout, _ := cmd.Flags().GetDuration("timeout")
		force, _ := cmd.Flags().GetBool("force")

		if len(args) == 1 {
			if err := requeueOrphan(args[0]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		}
		if err := stopScheduler(timeout, force); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

// stopScheduler finds the scheduler process via the pid file and stops it.
func stopScheduler(timeout time.Duration, force bool) error {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	pidFile := filepath.Join(resolveProject(), ".mira", "scheduler.pid")
	data, err := os.ReadFile(pidFile)
	if os.IsNotExist(err) {
		fmt.Printf("%s No running scheduler found\n", yellow("ℹ"))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read pid file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return fmt.Errorf("corrupt pid file %s: %w", pidFile, err)
	}

	if !processExists(pid) {
		fmt.Printf("%s Scheduler not running (stale pid file)\n", yellow("⚠"))
		os.Remove(pidFile)
		fmt.Printf("%s Cleaned up\n", green("✓"))
		return nil
	}

	if force {
		fmt.Printf("Sending SIGKILL to pid %d...\n", pid)
		if err := syscall.Kill(pid, syscall.SIGKILL); err != nil {
			return fmt.Errorf("failed to send SIGKILL: %w", err)
		}
	} else {
		fmt.Printf("Sending SIGINT to pid %d...\n", pid)
		if err := syscall.Kill(pid, syscall.SIGINT); err != nil {
			return fmt.Errorf("failed to send SIGINT: %w", err)
		}
	}

	if err := waitForExit(pid, timeout); err != nil {
		fmt.Printf("%s Graceful shutdown timeout after %s\n", yellow("⚠"), timeout)
		if killErr := syscall.Kill(pid, syscall.SIGKILL); killErr != nil {
			return fmt.Errorf("failed to send SIGKILL after timeout: %w", killErr)
		}
		if waitErr := waitForExit(pid, 5*time.Second); waitErr != nil {
			return fmt.Errorf("process %d did not exit after SIGKILL", pid)
		}
	}

	os.Remove(pidFile)
	fmt.Printf("%s Scheduler stopped\n", green("✓"))
	return nil
}

// requeueOrphan returns an in-progress feature left behind by a dead scheduler
// to pending.
func requeueOrphan(id string) error {
	pidFile := filepath.Join(resolveProject(), ".mira", "scheduler.pid")
	if data, err := os.ReadFile(pidFile); err == nil {
		if pid, perr := strconv.Atoi(strings.TrimSpace(string(data))); perr == nil && processExists(pid) {
			return fmt.Errorf("scheduler is running (pid %d); stop the feature from the run console", pid)
		}
	}

	st := openStore()
	f, err := st.Get(id)
	if err != nil {
		return err
	}
	if f.Status != types.StatusInProgress {
		return fmt.Errorf("feature %s is %s, not in_progress", id, f.Status)
	}
	if _, err := st.Update(id, func(f *types.Feature) error {
		f.Status = types.StatusPending
		f.StartedAt = nil
		return nil
	}); err != nil {
		return err
	}

	green := color.New(color.FgGreen).SprintFunc()
	fmt.Printf("%s Requeued %s\n", green("✓"), id)
	return nil
}

func processExists(pid int) bool {
	return syscall.Kill(pid, syscall.Signal(0)) == nil
}

func waitForExit(pid int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !processExists(pid) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for process %d to exit", pid)
}

func init() {
	stopCmd.Flags().Duration("timeout", 30*time.Second, "graceful shutdown timeout before force kill")
	stopCmd.Flags().Bool("force", false, "send SIGKILL immediately")
	rootCmd.AddCommand(stopCmd)
}
