package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/avaprime/spooky-logic/internal/client"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	apiURL       string
	apiToken     string
	outputFormat string
	timeout      time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "spookyfed",
	Short:         "Federated experiment samples across clusters",
	Long:          `spookyfed submits cluster samples to a Spooky Logic control plane and reads the federated summaries, drift reports and cluster health.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "control plane URL (default $SPOOKY_API_URL or "+client.DefaultBaseURL+")")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", "", "bearer token")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format: table or json")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")
}

func initConfig() {
	_ = viper.BindEnv("api_url", "SPOOKY_API_URL")
	_ = viper.BindEnv("token", "SPOOKY_API_TOKEN")
	if apiURL == "" {
		apiURL = viper.GetString("api_url")
	}
	if apiToken == "" {
		apiToken = viper.GetString("token")
	}
}

func newClient() *client.Client {
	return client.New(apiURL, apiToken, timeout)
}

func writeJSON(w io.Writer, v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

// output writes v as JSON or as a table of rows
func output(cmd *cobra.Command, v interface{}, header []string, rows [][]string) error {
	w := cmd.OutOrStdout()
	if strings.EqualFold(outputFormat, "json") {
		return writeJSON(w, v)
	}

	table := tablewriter.NewWriter(w)
	h := make([]any, len(header))
	for i, col := range header {
		h[i] = col
	}
	table.Header(h...)
	for _, row := range rows {
		cells := make([]any, len(row))
		for i, c := range row {
			cells[i] = c
		}
		if err := table.Append(cells...); err != nil {
			return err
		}
	}
	return table.Render()
}

func f4(v float64) string {
	return fmt.Sprintf("%.4f", v)
}
