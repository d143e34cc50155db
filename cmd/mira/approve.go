package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mirahq/mira/internal/console"
	"github.com/mirahq/mira/internal/planner"
	"github.com/mirahq/mira/internal/types"
)

var approveCmd = &cobra.Command{
	Use:   "approve [feature-id]",
	Short: "Approve a feature's generated plan",
	Long: `Approve the plan of a feature waiting for approval.

The decision is persisted on the feature record; a running scheduler picks it
up on its next pass and resumes the feature.

With -i, open an interactive console to review pending plans and approve or
reject them one by one.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		interactive, _ := cmd.Flags().GetBool("interactive")
		if interactive {
			reviewConsole()
			return
		}
		if len(args) != 1 {
			fmt.Fprintf(os.Stderr, "Error: feature id required (or use -i)\n")
			os.Exit(1)
		}
		if err := decideOnRecord(args[0], planner.Decision{Approved: true}); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Plan approved for %s\n", green("✓"), args[0])
	},
}

var rejectCmd = &cobra.Command{
	Use:   "reject <feature-id>",
	Short: "Reject a feature's plan with feedback",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		feedback, _ := cmd.Flags().GetString("feedback")
		if feedback == "" {
			fmt.Fprintf(os.Stderr, "Error: rejection needs feedback (-f) so the plan can be revised\n")
			os.Exit(1)
		}
		if err := decideOnRecord(args[0], planner.Decision{Feedback: feedback}); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		yellow := color.New(color.FgYellow).SprintFunc()
		fmt.Printf("%s Plan rejected for %s, it will be revised\n", yellow("↻"), args[0])
	},
}

// decideOnRecord persists an approval decision directly on the feature
// record. This is the out-of-process counterpart to resolving a live run's
// approval wait.
func decideOnRecord(id string, d planner.Decision) error {
	st := openStore()
	_, err := st.Update(id, func(f *types.Feature) error {
		if f.Status != types.StatusWaitingApproval {
			return fmt.Errorf("feature is %s, not awaiting approval", f.Status)
		}
		return planner.ApplyDecision(f, d)
	})
	return err
}

// reviewConsole opens the interactive shell against the persisted records. It
// shares the console with 'run --console' but decisions land on disk for the
// scheduler to pick up, and features cannot be stopped from here.
func reviewConsole() {
	st := openStore()
	c, err := console.New(st, recordController{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := c.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// recordController satisfies console.Controller without a running scheduler.
type recordController struct{}

func (recordController) Approve(id string) error {
	return decideOnRecord(id, planner.Decision{Approved: true})
}

func (recordController) Reject(id, feedback string) error {
	return decideOnRecord(id, planner.Decision{Feedback: feedback})
}

func (recordController) StopFeature(id string) error {
	return fmt.Errorf("no scheduler attached; stop features from the 'run --console' shell")
}

func (recordController) ActiveRuns() []string {
	return nil
}

func init() {
	approveCmd.Flags().BoolP("interactive", "i", false, "review pending plans in an interactive console")
	rejectCmd.Flags().StringP("feedback", "f", "", "why the plan was rejected")
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(rejectCmd)
}
