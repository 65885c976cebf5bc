package cmd

import (
	"fmt"
	"strings"

	"github.com/avaprime/spooky-logic/services/playbook"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var playbooksCmd = &cobra.Command{
	Use:   "playbooks",
	Short: "Inspect playbooks",
}

var playbooksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the playbooks available to the router",
	RunE:  runPlaybooksList,
}

func init() {
	rootCmd.AddCommand(playbooksCmd)
	playbooksCmd.AddCommand(playbooksListCmd)
}

type playbooksResponse struct {
	Playbooks []playbook.Info `json:"playbooks"`
	Trials    []string        `json:"trials"`
}

func runPlaybooksList(cmd *cobra.Command, args []string) error {
	var result playbooksResponse
	if err := newClient().Get(cmd.Context(), "/playbooks", nil, &result); err != nil {
		return err
	}

	trial := make(map[string]bool, len(result.Trials))
	for _, name := range result.Trials {
		trial[name] = true
	}
	return render(cmd, result, []string{"Name", "Steps", "Trial", "Description"}, func(table *tablewriter.Table) error {
		for _, pb := range result.Playbooks {
			if err := table.Append(pb.Name, fmt.Sprint(pb.Steps), fmt.Sprint(trial[pb.Name]), strings.TrimSpace(pb.Description)); err != nil {
				return err
			}
		}
		return nil
	})
}
