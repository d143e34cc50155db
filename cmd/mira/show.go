package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show <feature-id>",
	Short: "Show a feature's details, plan and recent output",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		showPlan, _ := cmd.Flags().GetBool("plan")
		showOutput, _ := cmd.Flags().GetBool("output")

		st := openStore()
		f, err := st.Get(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()
		_, paint := statusDisplay(f.Status)

		fmt.Printf("\n%s\n\n", cyan(f.Title))
		fmt.Printf("  ID:       %s\n", f.ID)
		fmt.Printf("  Status:   %s\n", paint(string(f.Status)))
		fmt.Printf("  Planning: %s", f.PlanningMode)
		if f.RequireApproval {
			fmt.Printf(" (approval required)")
		}
		fmt.Println()
		if f.Branch != "" {
			fmt.Printf("  Branch:   %s\n", f.Branch)
		}
		if f.Model != "" {
			fmt.Printf("  Model:    %s\n", f.Model)
		}
		if f.WorktreePath != "" {
			fmt.Printf("  Worktree: %s\n", f.WorktreePath)
		}
		fmt.Printf("  Created:  %s\n", f.CreatedAt.Format("2006-01-02 15:04:05"))
		if f.StartedAt != nil {
			fmt.Printf("  Started:  %s\n", f.StartedAt.Format("2006-01-02 15:04:05"))
		}
		if f.Error != "" {
			red := color.New(color.FgRed).SprintFunc()
			fmt.Printf("  Error:    %s\n", red(f.Error))
		}
		if f.Description != "" {
			fmt.Printf("\n%s\n", f.Description)
		}

		g := openGraph(st)
		defer g.Close()
		if depIDs, err := g.Dependencies(f.ID); err == nil && len(depIDs) > 0 {
			fmt.Printf("\n  Depends on: %s\n", strings.Join(depIDs, ", "))
		}
		if depIDs, err := g.Dependents(f.ID); err == nil && len(depIDs) > 0 {
			fmt.Printf("  Blocks:     %s\n", strings.Join(depIDs, ", "))
		}

		if f.Plan != nil && (showPlan || f.Plan.Status != "") {
			fmt.Printf("\n%s (v%d, %s)\n\n", cyan("Plan"), f.Plan.Version, f.Plan.Status)
			if showPlan {
				fmt.Println(f.Plan.Content)
			} else {
				fmt.Printf("  %d tasks. Use --plan to print the full plan.\n", len(f.Plan.Tasks))
			}
			for _, fb := range f.Plan.Feedback {
				fmt.Printf("  %s %s\n", gray("feedback:"), fb)
			}
		}

		if f.Summary != "" {
			fmt.Printf("\n%s\n\n%s\n", cyan("Summary"), f.Summary)
		}

		if showOutput {
			transcript, err := st.ReadTranscript(f.ID)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if transcript != "" {
				fmt.Printf("\n%s\n\n%s\n", cyan("Agent output"), tail(transcript, 50))
			}
		}
		fmt.Println()
	},
}

// tail returns the last n lines of text.
func tail(text string, n int) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

func init() {
	showCmd.Flags().Bool("plan", false, "print the full plan")
	showCmd.Flags().Bool("output", false, "print the tail of the agent transcript")
	rootCmd.AddCommand(showCmd)
}
