package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mirahq/mira/internal/config"
	"github.com/mirahq/mira/internal/store"
	"github.com/mirahq/mira/internal/types"
	"github.com/mirahq/mira/internal/worktree"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <feature-id>",
	Short: "Delete a feature and its worktree",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id := args[0]
		force, _ := cmd.Flags().GetBool("force")

		st := openStore()
		f, err := st.Get(id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				fmt.Fprintf(os.Stderr, "Error: feature %s not found\n", id)
			} else {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}
			os.Exit(1)
		}
		if f.Status == types.StatusInProgress && !force {
			fmt.Fprintf(os.Stderr, "Error: feature %s is in progress; stop it first or use --force\n", id)
			os.Exit(1)
		}

		graph := openGraph(st)
		defer graph.Close()
		dependents, err := graph.Dependents(id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if len(dependents) > 0 && !force {
			fmt.Fprintf(os.Stderr, "Error: %d feature(s) depend on %s; use --force to delete anyway\n",
				len(dependents), id)
			os.Exit(1)
		}

		project := resolveProject()
		cfg, err := config.Load(project)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if f.WorktreePath != "" {
			provider, err := worktree.NewProvider(project, st.Root(), cfg.WorktreeRoot)
			if err != nil {
				fmt.Fprintf(os.Stderr, "warning: %v\n", err)
			} else {
				provider.SetReferenceClearer(func(featureID string) error {
					_, err := st.Update(featureID, func(f *types.Feature) error {
						f.WorktreePath = ""
						return nil
					})
					if errors.Is(err, store.ErrNotFound) {
						return nil
					}
					return err
				})
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				if err := provider.DeleteByFeature(ctx, id); err != nil {
					fmt.Fprintf(os.Stderr, "warning: failed to remove worktree: %v\n", err)
				}
				cancel()
				provider.Close()
			}
		}

		if err := graph.RemoveFeature(id); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := st.Delete(id); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Deleted feature %s\n", green("✓"), id)
	},
}

func init() {
	deleteCmd.Flags().Bool("force", false, "delete even if in progress or depended on")
	rootCmd.AddCommand(deleteCmd)
}
