package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mirahq/mira/internal/deps"
	"github.com/mirahq/mira/internal/store"
	"github.com/mirahq/mira/internal/types"
)

var depsCmd = &cobra.Command{
	Use:   "deps",
	Short: "Inspect and edit feature dependencies",
}

var depsSetCmd = &cobra.Command{
	Use:   "set <feature-id> [dep-id...]",
	Short: "Replace a feature's dependencies",
	Long: `Replace the full dependency list of a feature. With no dep-ids the
feature's dependencies are cleared. The feature will not be scheduled until
every dependency has completed.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id := args[0]
		dependsOn := args[1:]

		st := openStore()
		if _, err := st.Get(id); err != nil {
			exitNotFound(id, err)
		}
		for _, dep := range dependsOn {
			if _, err := st.Get(dep); err != nil {
				exitNotFound(dep, err)
			}
		}

		graph := openGraph(st)
		defer graph.Close()
		if err := graph.SetDependencies(id, dependsOn); err != nil {
			if errors.Is(err, deps.ErrCycleDetected) {
				fmt.Fprintf(os.Stderr, "Error: dependency cycle: %v\n", err)
			} else {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}
			os.Exit(1)
		}

		green := color.New(color.FgGreen).SprintFunc()
		if len(dependsOn) == 0 {
			fmt.Printf("%s Cleared dependencies of %s\n", green("✓"), id)
		} else {
			fmt.Printf("%s %s now depends on %s\n", green("✓"), id, strings.Join(dependsOn, ", "))
		}
	},
}

var depsShowCmd = &cobra.Command{
	Use:   "show <feature-id>",
	Short: "Show what a feature depends on and what blocks on it",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id := args[0]

		st := openStore()
		if _, err := st.Get(id); err != nil {
			exitNotFound(id, err)
		}

		graph := openGraph(st)
		defer graph.Close()
		dependsOn, err := graph.Dependencies(id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		dependents, err := graph.Dependents(id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Feature: %s\n", id)
		printDepList("Depends on", dependsOn, st)
		printDepList("Blocks", dependents, st)

		lookup := cliStatusLookup{st: st}
		ready, err := graph.Satisfied(id, lookup)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if ready {
			green := color.New(color.FgGreen).SprintFunc()
			fmt.Printf("Ready: %s\n", green("all dependencies completed"))
			return
		}
		blocking, failed, err := graph.BlockingStatus(id, lookup)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		yellow := color.New(color.FgYellow).SprintFunc()
		fmt.Printf("Ready: %s\n", yellow(fmt.Sprintf("blocked by %s", strings.Join(blocking, ", "))))
		if len(failed) > 0 {
			red := color.New(color.FgRed).SprintFunc()
			fmt.Printf("       %s\n", red(fmt.Sprintf("failed: %s", strings.Join(failed, ", "))))
		}
	},
}

// cliStatusLookup feeds feature statuses to the dependency graph. An unknown
// id reads as an empty status, which the graph treats as blocking.
type cliStatusLookup struct{ st *store.Store }

func (l cliStatusLookup) Status(id string) (types.FeatureStatus, error) {
	f, err := l.st.Get(id)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return f.Status, nil
}

func printDepList(label string, ids []string, st *store.Store) {
	if len(ids) == 0 {
		gray := color.New(color.FgHiBlack).SprintFunc()
		fmt.Printf("%s: %s\n", label, gray("none"))
		return
	}
	fmt.Printf("%s:\n", label)
	for _, dep := range ids {
		status := "?"
		if f, err := st.Get(dep); err == nil {
			status = string(f.Status)
		}
		fmt.Printf("  %s (%s)\n", dep, status)
	}
}

func exitNotFound(id string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		fmt.Fprintf(os.Stderr, "Error: feature %s not found\n", id)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(1)
}

func init() {
	depsCmd.AddCommand(depsSetCmd)
	depsCmd.AddCommand(depsShowCmd)
	rootCmd.AddCommand(depsCmd)
}
