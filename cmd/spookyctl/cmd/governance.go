package cmd

import (
	"fmt"

	"github.com/avaprime/spooky-logic/models"
	"github.com/avaprime/spooky-logic/services/governance"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var (
	govTenant    string
	govTitle     string
	govRationale string
	govApprovals int
	govVoter     string
	govReject    bool
	govWeight    float64
	govComment   string
)

var govCmd = &cobra.Command{
	Use:   "gov",
	Short: "Governance proposals and votes",
}

var govProposeCmd = &cobra.Command{
	Use:   "propose <capability-id> <action>",
	Short: "Propose an action on a capability",
	Long:  `Propose create, update, delete, suspend, activate or configure on a capability. Executed suspensions start a staged rollback.`,
	Args:  cobra.ExactArgs(2),
	RunE:  runGovPropose,
}

var govVoteCmd = &cobra.Command{
	Use:   "vote <proposal-id>",
	Short: "Vote on a proposal",
	Args:  cobra.ExactArgs(1),
	RunE:  runGovVote,
}

var govBoardCmd = &cobra.Command{
	Use:   "board",
	Short: "Show every proposal with its tally",
	RunE:  runGovBoard,
}

func init() {
	rootCmd.AddCommand(govCmd)
	govCmd.AddCommand(govProposeCmd)
	govCmd.AddCommand(govVoteCmd)
	govCmd.AddCommand(govBoardCmd)

	govProposeCmd.Flags().StringVar(&govTenant, "tenant", "default", "tenant the proposal applies to")
	govProposeCmd.Flags().StringVar(&govTitle, "title", "", "short title")
	govProposeCmd.Flags().StringVar(&govRationale, "rationale", "", "why the change is needed (required)")
	govProposeCmd.Flags().IntVar(&govApprovals, "approvals", 0, "approvals required (server default when 0)")
	_ = govProposeCmd.MarkFlagRequired("rationale")

	govVoteCmd.Flags().StringVar(&govVoter, "voter", "", "voter name; ignored when the token identifies the caller")
	govVoteCmd.Flags().BoolVar(&govReject, "reject", false, "vote against")
	govVoteCmd.Flags().Float64Var(&govWeight, "weight", 0, "vote weight (server default when 0)")
	govVoteCmd.Flags().StringVar(&govComment, "comment", "", "comment")
}

func runGovPropose(cmd *cobra.Command, args []string) error {
	body := map[string]interface{}{
		"tenant":        govTenant,
		"capability_id": args[0],
		"action":        args[1],
		"title":         govTitle,
		"rationale":     govRationale,
	}
	if govApprovals > 0 {
		body["required_approvals"] = govApprovals
	}

	var result models.Proposal
	if err := newClient().Post(cmd.Context(), "/governance/propose", body, &result); err != nil {
		return err
	}
	if isJSONOutput() {
		return printJSON(cmd.OutOrStdout(), result)
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "proposal %s created (%s %s, needs %d approvals)\n",
		result.ID, result.Action, result.CapabilityID, result.RequiredApprovals)
	return err
}

func runGovVote(cmd *cobra.Command, args []string) error {
	body := map[string]interface{}{
		"proposal_id": args[0],
		"voter":       govVoter,
		"approve":     !govReject,
		"comment":     govComment,
	}
	if govWeight > 0 {
		body["weight"] = govWeight
	}

	var result governance.VoteResult
	if err := newClient().Post(cmd.Context(), "/governance/vote", body, &result); err != nil {
		return err
	}
	if isJSONOutput() {
		return printJSON(cmd.OutOrStdout(), result)
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "vote recorded: %d for, %d against, status %s\n",
		result.Tally.VotesFor, result.Tally.VotesAgainst, result.Proposal.Status)
	return err
}

func runGovBoard(cmd *cobra.Command, args []string) error {
	var board governance.Board
	if err := newClient().Get(cmd.Context(), "/governance/board", nil, &board); err != nil {
		return err
	}

	header := []string{"ID", "Tenant", "Capability", "Action", "Status", "For", "Against", "Needed"}
	err := render(cmd, board, header, func(table *tablewriter.Table) error {
		for _, p := range board.Proposals {
			if err := table.Append(p.ID, p.Tenant, p.CapabilityID, string(p.Action), string(p.Status),
				fmt.Sprint(p.VotesFor), fmt.Sprint(p.VotesAgainst), fmt.Sprint(p.RequiredApprovals)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil || isJSONOutput() {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "\nTotal: %d  Active: %d  Completed: %d\n",
		board.TotalProposals, board.ActiveProposals, board.CompletedProposals)
	return err
}
