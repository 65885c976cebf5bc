package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
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
	cfgFile      string
	timeout      time.Duration
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:           "spookyctl",
	Short:         "CLI for the Spooky Logic control plane",
	Long:          `spookyctl manages playbooks, experiments, governance, rollbacks, quarantined capabilities and marketplace packages of a Spooky Logic control plane.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.spooky/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "control plane URL (default from config or "+client.DefaultBaseURL+")")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", "", "bearer token for mutating calls")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format: table or json")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".spooky"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	_ = viper.BindEnv("api_url", "SPOOKY_API_URL")
	_ = viper.BindEnv("token", "SPOOKY_API_TOKEN")
	_ = viper.ReadInConfig()

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

// isJSONOutput returns true if JSON output is requested
func isJSONOutput() bool {
	return strings.EqualFold(outputFormat, "json")
}

func printJSON(w io.Writer, v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

// render prints v as JSON, or as the table built by fill
func render(cmd *cobra.Command, v interface{}, header []string, fill func(table *tablewriter.Table) error) error {
	w := cmd.OutOrStdout()
	if isJSONOutput() {
		return printJSON(w, v)
	}

	table := tablewriter.NewWriter(w)
	h := make([]any, len(header))
	for i, col := range header {
		h[i] = col
	}
	table.Header(h...)
	if err := fill(table); err != nil {
		return err
	}
	return table.Render()
}

func ff(v float64) string {
	return fmt.Sprintf("%.4f", v)
}
