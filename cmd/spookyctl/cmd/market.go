package cmd

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/avaprime/spooky-logic/services/marketplace"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var (
	marketQuery      string
	marketCategory   string
	marketVersion    string
	marketNoVerify   bool
	marketAutoUpdate bool
	marketByID       bool
)

var marketCmd = &cobra.Command{
	Use:   "market",
	Short: "Marketplace packages",
}

var marketListCmd = &cobra.Command{
	Use:   "list",
	Short: "List or search catalog packages",
	RunE:  runMarketList,
}

var marketInstallCmd = &cobra.Command{
	Use:   "install <package>",
	Short: "Download, verify and install a package",
	Args:  cobra.ExactArgs(1),
	RunE:  runMarketInstall,
}

var marketStatusCmd = &cobra.Command{
	Use:   "status <package|installation-id>",
	Short: "Show installation health",
	Args:  cobra.ExactArgs(1),
	RunE:  runMarketStatus,
}

func init() {
	rootCmd.AddCommand(marketCmd)
	marketCmd.AddCommand(marketListCmd)
	marketCmd.AddCommand(marketInstallCmd)
	marketCmd.AddCommand(marketStatusCmd)

	marketListCmd.Flags().StringVar(&marketQuery, "query", "", "free text filter")
	marketListCmd.Flags().StringVar(&marketCategory, "category", "", "category filter")

	marketInstallCmd.Flags().StringVar(&marketVersion, "version", "", "package version (latest when empty)")
	marketInstallCmd.Flags().BoolVar(&marketNoVerify, "no-verify", false, "skip signature verification")
	marketInstallCmd.Flags().BoolVar(&marketAutoUpdate, "auto-update", false, "enable auto update")

	marketStatusCmd.Flags().BoolVar(&marketByID, "id", false, "treat the argument as an installation id")
}

func runMarketList(cmd *cobra.Command, args []string) error {
	c := newClient()

	var packages []marketplace.Manifest
	var payload interface{}
	if marketQuery != "" || marketCategory != "" {
		var result marketplace.SearchResponse
		query := url.Values{}
		if marketQuery != "" {
			query.Set("query", marketQuery)
		}
		if marketCategory != "" {
			query.Set("category", marketCategory)
		}
		if err := c.Get(cmd.Context(), "/marketplace/search", query, &result); err != nil {
			return err
		}
		packages, payload = result.Packages, result
	} else {
		var result marketplace.ListResponse
		if err := c.Get(cmd.Context(), "/marketplace/packages", nil, &result); err != nil {
			return err
		}
		packages, payload = result.Packages, result
	}

	header := []string{"Name", "Version", "Category", "Author", "Signed", "Capabilities"}
	return render(cmd, payload, header, func(table *tablewriter.Table) error {
		for _, m := range packages {
			if err := table.Append(m.Name, m.Version, m.Category, m.Author,
				fmt.Sprint(m.Signature != ""), strings.Join(m.Capabilities, ",")); err != nil {
				return err
			}
		}
		return nil
	})
}

func runMarketInstall(cmd *cobra.Command, args []string) error {
	req := marketplace.InstallRequest{
		PackageName:     args[0],
		Version:         marketVersion,
		VerifySignature: !marketNoVerify,
		AutoUpdate:      marketAutoUpdate,
	}
	var result marketplace.InstallResponse
	if err := newClient().Post(cmd.Context(), "/marketplace/install", req, &result); err != nil {
		return err
	}
	if isJSONOutput() {
		return printJSON(cmd.OutOrStdout(), result)
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %s (%s)\ninstallation id: %s\npath: %s\n",
		result.PackageName, result.Version, result.Status, result.Message, result.InstallationID, result.InstallPath)
	return err
}

func runMarketStatus(cmd *cobra.Command, args []string) error {
	key := "package_name"
	if marketByID {
		key = "installation_id"
	}
	var result marketplace.StatusResponse
	if err := newClient().Get(cmd.Context(), "/marketplace/status", url.Values{key: {args[0]}}, &result); err != nil {
		return err
	}

	header := []string{"Installation", "Package", "Version", "Status", "Health", "Available"}
	return render(cmd, result, header, func(table *tablewriter.Table) error {
		return table.Append(result.InstallationID, result.PackageName, result.Version,
			result.Status, result.HealthStatus, fmt.Sprint(result.PackageAvailable))
	})
}
