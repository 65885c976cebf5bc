package cmd

import (
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/avaprime/spooky-logic/services/federation"
	"github.com/spf13/cobra"
)

var (
	sample federation.ClusterSample

	summaryArmA string
	summaryArmB string

	driftZ float64
)

var submitSampleCmd = &cobra.Command{
	Use:   "submit-sample",
	Short: "Submit one cluster result",
	RunE: func(cmd *cobra.Command, args []string) error {
		if sample.TS == 0 {
			sample.TS = float64(time.Now().Unix())
		}
		var res federation.IngestResult
		if err := newClient().Post(cmd.Context(), "/federation/ingest", sample, &res); err != nil {
			return err
		}
		return output(cmd, res, []string{"Sample", "Cluster", "Status", "Samples", "Participants"}, [][]string{{
			res.SampleID, res.ClusterID, res.Status,
			fmt.Sprint(res.ClusterSampleCount), fmt.Sprint(res.ParticipantCount),
		}})
	},
}

var summarizeCmd = &cobra.Command{
	Use:   "summarize <tenant>",
	Short: "Compare two arms across all clusters",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{"tenant": {args[0]}, "a": {summaryArmA}, "b": {summaryArmB}}
		var s federation.GlobalSummary
		if err := newClient().Get(cmd.Context(), "/federation/summary", q, &s); err != nil {
			return err
		}

		rows := [][]string{{"global", fmt.Sprint(s.NA), fmt.Sprint(s.NB), f4(s.Uplift), fmt.Sprint(s.Ready)}}
		ids := make([]string, 0, len(s.ClusterResults))
		for id := range s.ClusterResults {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			cr := s.ClusterResults[id]
			rows = append(rows, []string{id, fmt.Sprint(cr.A.N), fmt.Sprint(cr.B.N), f4(cr.Uplift), ""})
		}
		return output(cmd, s, []string{"Scope", "N(A)", "N(B)", "Uplift", "Ready"}, rows)
	},
}

var driftCmd = &cobra.Command{
	Use:   "drift <tenant> <arm>",
	Short: "Find clusters whose mean score is an outlier",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{"tenant": {args[0]}, "arm": {args[1]}}
		if driftZ > 0 {
			q.Set("z", fmt.Sprint(driftZ))
		}
		var report federation.DriftReport
		if err := newClient().Get(cmd.Context(), "/federation/drift", q, &report); err != nil {
			return err
		}
		if !report.EnoughData && outputFormat != "json" {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "not enough clusters reporting")
			return err
		}

		rows := make([][]string, 0, len(report.Outliers))
		for _, o := range report.Outliers {
			rows = append(rows, []string{o.ClusterID, f4(o.Mean), f4(o.Z), fmt.Sprint(o.Samples)})
		}
		return output(cmd, report, []string{"Cluster", "Mean", "Z", "Samples"}, rows)
	},
}

var healthCmd = &cobra.Command{
	Use:   "health <cluster-id>",
	Short: "Show cluster health",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var h federation.ClusterHealth
		if err := newClient().Get(cmd.Context(), "/federation/clusters/"+url.PathEscape(args[0])+"/health", nil, &h); err != nil {
			return err
		}
		return output(cmd, h, []string{"Cluster", "Status", "Participants", "Active", "Samples", "Last Activity"}, [][]string{{
			h.ClusterID, h.Status, fmt.Sprint(h.ParticipantCount), fmt.Sprint(h.ActiveParticipants),
			fmt.Sprint(h.TotalSamples), h.LastActivity.Format(time.RFC3339),
		}})
	},
}

func init() {
	rootCmd.AddCommand(submitSampleCmd, summarizeCmd, driftCmd, healthCmd)

	f := submitSampleCmd.Flags()
	f.StringVar(&sample.ClusterID, "cluster", "", "cluster id (required)")
	f.StringVar(&sample.Tenant, "tenant", "", "tenant (required)")
	f.StringVar(&sample.Arm, "arm", "", "experiment arm (required)")
	f.Float64Var(&sample.Score, "score", 0, "score in [0,1]")
	f.Float64Var(&sample.Cost, "cost", 0, "cost")
	f.Float64Var(&sample.LatencyMs, "latency-ms", 0, "latency in milliseconds")
	f.StringVar(&sample.ParticipantID, "participant", "", "participant id")
	f.Float64SliceVar(&sample.Features, "features", nil, "feature vector")
	for _, name := range []string{"cluster", "tenant", "arm"} {
		_ = submitSampleCmd.MarkFlagRequired(name)
	}

	summarizeCmd.Flags().StringVar(&summaryArmA, "arm-a", "control", "first arm")
	summarizeCmd.Flags().StringVar(&summaryArmB, "arm-b", "variant", "second arm")

	driftCmd.Flags().Float64Var(&driftZ, "z", 0, "z-score threshold (server default when 0)")
}
