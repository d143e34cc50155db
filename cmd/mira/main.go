// Command mira is an autonomous feature scheduler: it drives features through
// plan, approval and implementation phases using an AI coding agent, with
// dependency ordering and per-feature git worktree isolation.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mirahq/mira/internal/deps"
	"github.com/mirahq/mira/internal/store"
)

var projectPath string

var rootCmd = &cobra.Command{
	Use:   "mira",
	Short: "Autonomous feature scheduler",
	Long: `mira queues features, plans them with an AI coding agent, gates the
plans behind your approval, and implements them in isolated git worktrees
while respecting the dependency order you declare.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&projectPath, "project", "C", ".", "project directory")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveProject returns the absolute project path from the --project flag.
func resolveProject() string {
	abs, err := filepath.Abs(projectPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid project path: %v\n", err)
		os.Exit(1)
	}
	return abs
}

func openStore() *store.Store {
	st, err := store.New(resolveProject())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return st
}

func openGraph(st *store.Store) *deps.Graph {
	g, err := deps.Open(st.Root())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return g
}
