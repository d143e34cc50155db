package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mirahq/mira/internal/types"
)

var addCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Add a feature to the queue",
	Long: `Add a feature to the project's queue.

By default the feature goes straight to pending and will be picked up by a
running scheduler. Use --backlog to park it instead.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		description, _ := cmd.Flags().GetString("description")
		branch, _ := cmd.Flags().GetString("branch")
		model, _ := cmd.Flags().GetString("model")
		planMode, _ := cmd.Flags().GetString("plan")
		noApproval, _ := cmd.Flags().GetBool("no-approval")
		backlog, _ := cmd.Flags().GetBool("backlog")
		dependsOn, _ := cmd.Flags().GetStringSlice("depends-on")
		images, _ := cmd.Flags().GetStringSlice("image")

		mode := types.PlanningMode(planMode)
		if !mode.IsValid() {
			fmt.Fprintf(os.Stderr, "Error: invalid planning mode %q (skip, lite, spec, full)\n", planMode)
			os.Exit(1)
		}

		status := types.StatusPending
		if backlog {
			status = types.StatusBacklog
		}

		f := &types.Feature{
			Title:           args[0],
			Description:     description,
			Status:          status,
			Branch:          branch,
			Model:           model,
			Images:          images,
			PlanningMode:    mode,
			RequireApproval: !noApproval,
		}

		st := openStore()
		if err := st.Create(f); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if len(dependsOn) > 0 {
			g := openGraph(st)
			defer g.Close()
			if err := g.SetDependencies(f.ID, dependsOn); err != nil {
				// Roll the feature back so a typo'd dependency doesn't leave
				// a half-configured record.
				st.Delete(f.ID)
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Added feature %s (%s)\n", green("✓"), f.ID, f.Status)
		if len(dependsOn) > 0 {
			fmt.Printf("  depends on: %s\n", strings.Join(dependsOn, ", "))
		}
	},
}

func init() {
	addCmd.Flags().StringP("description", "d", "", "longer feature description")
	addCmd.Flags().StringP("branch", "b", "", "git branch for isolated execution")
	addCmd.Flags().StringP("model", "m", "", "model override for this feature")
	addCmd.Flags().String("plan", string(types.PlanModeLite), "planning mode: skip, lite, spec or full")
	addCmd.Flags().Bool("no-approval", false, "implement without waiting for plan approval")
	addCmd.Flags().Bool("backlog", false, "park the feature in the backlog instead of queueing it")
	addCmd.Flags().StringSlice("depends-on", nil, "feature ids this feature depends on")
	addCmd.Flags().StringSlice("image", nil, "image files to attach to the prompt")
	rootCmd.AddCommand(addCmd)
}
