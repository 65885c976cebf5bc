package cmd

import (
	"fmt"

	"github.com/avaprime/spooky-logic/services/rollback"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var (
	rollbackReason   string
	rollbackStages   []float64
	rollbackInterval int
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Staged capability rollbacks",
}

var rollbackStartCmd = &cobra.Command{
	Use:   "start <capability-id>",
	Short: "Start a staged rollback",
	Args:  cobra.ExactArgs(1),
	RunE:  runRollbackStart,
}

var rollbackStatusCmd = &cobra.Command{
	Use:   "status <capability-id>",
	Short: "Show a rollback plan",
	Args:  cobra.ExactArgs(1),
	RunE:  runRollbackStatus,
}

var rollbackTickCmd = &cobra.Command{
	Use:   "tick <capability-id>",
	Short: "Advance a rollback plan by elapsed time",
	Args:  cobra.ExactArgs(1),
	RunE:  runRollbackTick,
}

func init() {
	rootCmd.AddCommand(rollbackCmd)
	rollbackCmd.AddCommand(rollbackStartCmd)
	rollbackCmd.AddCommand(rollbackStatusCmd)
	rollbackCmd.AddCommand(rollbackTickCmd)

	rollbackStartCmd.Flags().StringVar(&rollbackReason, "reason", "", "reason for the rollback (required)")
	rollbackStartCmd.Flags().Float64SliceVar(&rollbackStages, "stages", nil, "blast radius per stage, e.g. 0.25,0.5,1")
	rollbackStartCmd.Flags().IntVar(&rollbackInterval, "interval-sec", 0, "seconds between stages")
	_ = rollbackStartCmd.MarkFlagRequired("reason")
}

func runRollbackStart(cmd *cobra.Command, args []string) error {
	req := rollback.StartRequest{
		CapabilityID: args[0],
		Reason:       rollbackReason,
		Stages:       rollbackStages,
		IntervalSec:  rollbackInterval,
	}
	var plan rollback.Plan
	if err := newClient().Post(cmd.Context(), "/rollback/start", req, &plan); err != nil {
		return err
	}
	return renderPlan(cmd, plan)
}

func runRollbackStatus(cmd *cobra.Command, args []string) error {
	var plan rollback.Plan
	if err := newClient().Get(cmd.Context(), "/rollback/"+args[0], nil, &plan); err != nil {
		return err
	}
	return renderPlan(cmd, plan)
}

func runRollbackTick(cmd *cobra.Command, args []string) error {
	var result rollback.TickResult
	if err := newClient().Post(cmd.Context(), "/rollback/"+args[0]+"/tick", nil, &result); err != nil {
		return err
	}
	if isJSONOutput() {
		return printJSON(cmd.OutOrStdout(), result)
	}

	out := cmd.OutOrStdout()
	if !result.Active {
		_, err := fmt.Fprintln(out, "no active rollback")
		return err
	}
	msg := "stage unchanged"
	if result.Progressed {
		msg = "advanced"
	}
	var err error
	if result.Stage != nil && result.BlastRadius != nil {
		_, err = fmt.Fprintf(out, "%s: stage %d, blast radius %.2f\n", msg, *result.Stage, *result.BlastRadius)
	} else {
		_, err = fmt.Fprintln(out, msg)
	}
	return err
}

func renderPlan(cmd *cobra.Command, plan rollback.Plan) error {
	header := []string{"Capability", "Stage", "Stages", "Interval (s)", "Active", "Reason"}
	return render(cmd, plan, header, func(table *tablewriter.Table) error {
		return table.Append(plan.CapabilityID, fmt.Sprint(plan.CurrentStage), fmt.Sprint(plan.Stages),
			fmt.Sprintf("%.0f", plan.IntervalSec), fmt.Sprint(plan.Active), plan.Reason)
	})
}
