package cmd

import (
	"fmt"

	"github.com/avaprime/spooky-logic/services/capabilities"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var (
	quarantineReason string
	quarantineRate   float64
)

var capabilitiesCmd = &cobra.Command{
	Use:     "capabilities",
	Aliases: []string{"caps"},
	Short:   "Quarantined capabilities",
}

var capabilitiesQuarantineCmd = &cobra.Command{
	Use:   "quarantine <capability-id>",
	Short: "Quarantine a capability behind a canary share",
	Args:  cobra.ExactArgs(1),
	RunE:  runCapabilitiesQuarantine,
}

var capabilitiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List quarantined capabilities",
	RunE:  runCapabilitiesList,
}

func init() {
	rootCmd.AddCommand(capabilitiesCmd)
	capabilitiesCmd.AddCommand(capabilitiesQuarantineCmd)
	capabilitiesCmd.AddCommand(capabilitiesListCmd)

	capabilitiesQuarantineCmd.Flags().StringVar(&quarantineReason, "reason", "", "reason (required)")
	capabilitiesQuarantineCmd.Flags().Float64Var(&quarantineRate, "canary-rate", 0, "share of traffic in (0,1] (server default when 0)")
	_ = capabilitiesQuarantineCmd.MarkFlagRequired("reason")
}

type quarantineListResponse struct {
	Quarantined []capabilities.Quarantined `json:"quarantined"`
	Total       int                        `json:"total"`
}

func runCapabilitiesQuarantine(cmd *cobra.Command, args []string) error {
	req := capabilities.QuarantineRequest{
		CapabilityID: args[0],
		Reason:       quarantineReason,
		CanaryRate:   quarantineRate,
	}
	var q capabilities.Quarantined
	if err := newClient().Post(cmd.Context(), "/capabilities/quarantine", req, &q); err != nil {
		return err
	}
	if isJSONOutput() {
		return printJSON(cmd.OutOrStdout(), q)
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "quarantined %s at canary rate %.2f\n", q.CapabilityID, q.CanaryRate)
	return err
}

func runCapabilitiesList(cmd *cobra.Command, args []string) error {
	var result quarantineListResponse
	if err := newClient().Get(cmd.Context(), "/capabilities/quarantine/list", nil, &result); err != nil {
		return err
	}

	header := []string{"ID", "Rate", "Success", "Fail", "Since", "Reason"}
	return render(cmd, result, header, func(table *tablewriter.Table) error {
		for _, q := range result.Quarantined {
			if err := table.Append(q.CapabilityID, fmt.Sprintf("%.2f", q.CanaryRate),
				fmt.Sprint(q.Stats.Success), fmt.Sprint(q.Stats.Fail),
				q.InsertedAt.Format("2006-01-02 15:04"), q.Reason); err != nil {
				return err
			}
		}
		return nil
	})
}
