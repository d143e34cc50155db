package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mirahq/mira/internal/types"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List features",
	Run: func(cmd *cobra.Command, args []string) {
		statusFilter, _ := cmd.Flags().GetString("status")

		st := openStore()
		features, err := st.List()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if len(features) == 0 {
			fmt.Println("No features yet. Add one with: mira add \"title\"")
			return
		}

		g := openGraph(st)
		defer g.Close()

		for _, f := range features {
			if statusFilter != "" && string(f.Status) != statusFilter {
				continue
			}

			icon, paint := statusDisplay(f.Status)
			fmt.Printf("%s %s  %s %s\n", paint(icon), f.ID, paint(string(f.Status)), f.Title)

			if depIDs, err := g.Dependencies(f.ID); err == nil && len(depIDs) > 0 {
				gray := color.New(color.FgHiBlack).SprintFunc()
				fmt.Printf("    %s\n", gray(fmt.Sprintf("deps: %v", depIDs)))
			}
			if f.Error != "" {
				red := color.New(color.FgRed).SprintFunc()
				fmt.Printf("    %s\n", red(truncate(f.Error, 100)))
			}
		}
	},
}

func statusDisplay(s types.FeatureStatus) (string, func(a ...interface{}) string) {
	switch s {
	case types.StatusBacklog:
		return "○", color.New(color.FgHiBlack).SprintFunc()
	case types.StatusPending:
		return "◌", color.New(color.FgYellow).SprintFunc()
	case types.StatusInProgress:
		return "●", color.New(color.FgCyan).SprintFunc()
	case types.StatusWaitingApproval:
		return "◉", color.New(color.FgMagenta).SprintFunc()
	case types.StatusCompleted:
		return "✓", color.New(color.FgGreen).SprintFunc()
	case types.StatusFailed:
		return "✗", color.New(color.FgRed).SprintFunc()
	default:
		return "?", fmt.Sprint
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func init() {
	listCmd.Flags().String("status", "", "only show features with this status")
	rootCmd.AddCommand(listCmd)
}
