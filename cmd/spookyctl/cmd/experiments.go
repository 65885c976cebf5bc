package cmd

import (
	"fmt"
	"net/url"

	"github.com/avaprime/spooky-logic/services/experiments"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var (
	expArm       string
	expScore     float64
	expCost      float64
	expLatencyMs float64
	expDomain    string
	expArmA      string
	expArmB      string
)

var expCmd = &cobra.Command{
	Use:   "exp",
	Short: "Record and summarize A/B experiments",
}

var expRecordCmd = &cobra.Command{
	Use:   "record <experiment>",
	Short: "Record one run outcome for an arm",
	Args:  cobra.ExactArgs(1),
	RunE:  runExpRecord,
}

var expSummaryCmd = &cobra.Command{
	Use:   "summary <experiment>",
	Short: "Compare two arms of an experiment",
	Args:  cobra.ExactArgs(1),
	RunE:  runExpSummary,
}

func init() {
	rootCmd.AddCommand(expCmd)
	expCmd.AddCommand(expRecordCmd)
	expCmd.AddCommand(expSummaryCmd)

	expRecordCmd.Flags().StringVar(&expArm, "arm", "", "arm name (required)")
	expRecordCmd.Flags().Float64Var(&expScore, "score", 0, "outcome score in [0,1]")
	expRecordCmd.Flags().Float64Var(&expCost, "cost", 0, "cost in USD")
	expRecordCmd.Flags().Float64Var(&expLatencyMs, "latency-ms", 0, "latency in milliseconds")
	expRecordCmd.Flags().StringVar(&expDomain, "domain", "", "task domain for adaptive sampling")
	_ = expRecordCmd.MarkFlagRequired("arm")

	expSummaryCmd.Flags().StringVar(&expArmA, "arm-a", "control", "baseline arm")
	expSummaryCmd.Flags().StringVar(&expArmB, "arm-b", "variant", "candidate arm")
}

func runExpRecord(cmd *cobra.Command, args []string) error {
	body := map[string]interface{}{
		"experiment": args[0],
		"arm":        expArm,
		"score":      expScore,
		"cost":       expCost,
		"latency_ms": expLatencyMs,
		"domain":     expDomain,
	}
	var result struct {
		OK    bool `json:"ok"`
		Count int  `json:"count"`
	}
	if err := newClient().Post(cmd.Context(), "/experiments/record", body, &result); err != nil {
		return err
	}
	if isJSONOutput() {
		return printJSON(cmd.OutOrStdout(), result)
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "recorded %s/%s (n=%d)\n", args[0], expArm, result.Count)
	return err
}

func runExpSummary(cmd *cobra.Command, args []string) error {
	query := url.Values{"experiment": {args[0]}, "a": {expArmA}, "b": {expArmB}}
	var summary experiments.Summary
	if err := newClient().Get(cmd.Context(), "/experiments/summary", query, &summary); err != nil {
		return err
	}

	header := []string{"Experiment", "A", "B", "N(A)", "N(B)", "Ready", "Uplift", "Cost Δ", "Promote"}
	return render(cmd, summary, header, func(table *tablewriter.Table) error {
		return table.Append(summary.Experiment, summary.ArmA, summary.ArmB,
			fmt.Sprint(summary.NA), fmt.Sprint(summary.NB), fmt.Sprint(summary.Ready),
			ff(summary.Uplift), ff(summary.CostDelta), fmt.Sprint(summary.RecommendPromote))
	})
}
