package main

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect execution audit records",
}

var (
	auditUsageType  string
	auditLimit      int
	auditSinceHours int
)

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent audit records",
	RunE:  runAuditList,
}

var auditSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Aggregate usage and cost per usage type and model",
	Long: `Aggregate audit records into per-model usage and cost totals.

Examples:
  # All-time summary
  dispatchctl audit summary

  # Last 24 hours only
  dispatchctl audit summary --since-hours 24`,
	RunE: runAuditSummary,
}

func init() {
	auditListCmd.Flags().StringVar(&auditUsageType, "usage-type", "", "filter by usage type")
	auditListCmd.Flags().IntVar(&auditLimit, "limit", 20, "maximum number of records")
	auditSummaryCmd.Flags().IntVar(&auditSinceHours, "since-hours", 0, "only include records from the last N hours")
	auditCmd.AddCommand(auditListCmd, auditSummaryCmd)
	rootCmd.AddCommand(auditCmd)
}

func runAuditList(cmd *cobra.Command, args []string) error {
	q := url.Values{}
	if auditUsageType != "" {
		q.Set("usage_type", auditUsageType)
	}
	q.Set("limit", strconv.Itoa(auditLimit))

	var resp struct {
		Records []struct {
			UsageType    string    `json:"usage_type"`
			Provider     string    `json:"provider"`
			Model        string    `json:"model"`
			InputTokens  int       `json:"input_tokens"`
			OutputTokens int       `json:"output_tokens"`
			Cost         float64   `json:"cost"`
			CacheHit     bool      `json:"cache_hit"`
			Status       string    `json:"status"`
			CreatedAt    time.Time `json:"created_at"`
		} `json:"records"`
	}
	if err := getJSON("/api/v1/audit?"+q.Encode(), &resp); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tUSAGE TYPE\tPROVIDER/MODEL\tTOKENS\tCOST\tSTATUS")
	for _, r := range resp.Records {
		status := r.Status
		if r.CacheHit {
			status += " (cached)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s/%s\t%d/%d\t$%.4f\t%s\n",
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
			r.UsageType, r.Provider, r.Model,
			r.InputTokens, r.OutputTokens, r.Cost, status)
	}
	return w.Flush()
}

func runAuditSummary(cmd *cobra.Command, args []string) error {
	path := "/api/v1/audit/summary"
	if auditSinceHours > 0 {
		path += "?since_hours=" + strconv.Itoa(auditSinceHours)
	}

	var resp struct {
		Summary []struct {
			UsageType    string        `json:"usage_type"`
			Provider     string        `json:"provider"`
			Model        string        `json:"model"`
			Executions   int           `json:"executions"`
			Errors       int           `json:"errors"`
			CacheHits    int           `json:"cache_hits"`
			InputTokens  int           `json:"input_tokens"`
			OutputTokens int           `json:"output_tokens"`
			TotalCost    float64       `json:"total_cost"`
			AvgLatency   time.Duration `json:"avg_latency"`
		} `json:"summary"`
	}
	if err := getJSON(path, &resp); err != nil {
		return err
	}

	if len(resp.Summary) == 0 {
		fmt.Println("No audit records")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "USAGE TYPE\tPROVIDER/MODEL\tEXECUTIONS\tERRORS\tCACHE HITS\tTOKENS\tCOST\tAVG LATENCY")
	for _, row := range resp.Summary {
		fmt.Fprintf(w, "%s\t%s/%s\t%d\t%d\t%d\t%d/%d\t$%.4f\t%s\n",
			row.UsageType, row.Provider, row.Model,
			row.Executions, row.Errors, row.CacheHits,
			row.InputTokens, row.OutputTokens, row.TotalCost,
			row.AvgLatency.Round(time.Millisecond))
	}
	return w.Flush()
}
