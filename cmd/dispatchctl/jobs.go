package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// jobView matches the Job JSON emitted by the server.
type jobView struct {
	ID              string     `json:"id"`
	Type            string     `json:"type"`
	Status          string     `json:"status"`
	Result          string     `json:"result,omitempty"`
	Error           string     `json:"error,omitempty"`
	ProgressPercent int        `json:"progress_percent"`
	ProgressMessage string     `json:"progress_message,omitempty"`
	CancelRequested bool       `json:"cancel_requested"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage async jobs",
}

var (
	jobsListStatus string
	jobsListLimit  int
	jobsWait       bool
	jobsCleanDays  int
)

var jobsSubmitCmd = &cobra.Command{
	Use:   "submit [type] [input]",
	Short: "Submit an async job",
	Long: `Submit a job for background execution.

Examples:
  # Submit an execute job and return immediately
  dispatchctl jobs submit execute '{"usage_type":"chat","messages":[{"role":"user","content":"hi"}]}'

  # Submit and poll until it reaches a terminal state
  dispatchctl jobs submit execute '{...}' --wait`,
	Args: cobra.ExactArgs(2),
	RunE: runJobsSubmit,
}

var jobsGetCmd = &cobra.Command{
	Use:   "get [job-id]",
	Short: "Show a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsGet,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	RunE:  runJobsList,
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel [job-id]",
	Short: "Request cancellation of a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsCancel,
}

var jobsDeleteCmd = &cobra.Command{
	Use:   "delete [job-id]",
	Short: "Delete a terminal job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsDelete,
}

var jobsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete terminal jobs older than the retention window",
	RunE:  runJobsCleanup,
}

func init() {
	jobsSubmitCmd.Flags().BoolVar(&jobsWait, "wait", false, "poll until the job reaches a terminal state")
	jobsListCmd.Flags().StringVar(&jobsListStatus, "status", "", "filter by status")
	jobsListCmd.Flags().IntVar(&jobsListLimit, "limit", 50, "maximum number of jobs to list")
	jobsCleanupCmd.Flags().IntVar(&jobsCleanDays, "days", 7, "delete terminal jobs older than this many days")
	jobsCmd.AddCommand(jobsSubmitCmd, jobsGetCmd, jobsListCmd, jobsCancelCmd, jobsDeleteCmd, jobsCleanupCmd)
	rootCmd.AddCommand(jobsCmd)
}

func runJobsSubmit(cmd *cobra.Command, args []string) error {
	var resp struct {
		JobID  string `json:"job_id"`
		Status string `json:"status"`
	}
	req := map[string]string{"type": args[0], "input": args[1]}
	if err := postJSON("/api/v1/jobs", req, &resp); err != nil {
		return err
	}
	fmt.Printf("Job %s accepted (%s)\n", resp.JobID, resp.Status)

	if !jobsWait {
		return nil
	}
	for {
		time.Sleep(500 * time.Millisecond)
		var job jobView
		if err := getJSON("/api/v1/jobs/"+resp.JobID, &job); err != nil {
			return err
		}
		fmt.Printf("  %3d%%  %s  %s\n", job.ProgressPercent, job.Status, job.ProgressMessage)
		switch job.Status {
		case "completed":
			fmt.Println(job.Result)
			return nil
		case "failed":
			return fmt.Errorf("job failed: %s", job.Error)
		case "cancelled":
			return fmt.Errorf("job was cancelled")
		}
	}
}

func runJobsGet(cmd *cobra.Command, args []string) error {
	var job jobView
	if err := getJSON("/api/v1/jobs/"+url.PathEscape(args[0]), &job); err != nil {
		return err
	}
	printJob(&job)
	return nil
}

func runJobsList(cmd *cobra.Command, args []string) error {
	var resp struct {
		Jobs []jobView `json:"jobs"`
	}
	q := url.Values{}
	if jobsListStatus != "" {
		q.Set("status", jobsListStatus)
	}
	q.Set("limit", strconv.Itoa(jobsListLimit))
	if err := getJSON("/api/v1/jobs?"+q.Encode(), &resp); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tPROGRESS\tCREATED")
	for _, j := range resp.Jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d%%\t%s\n",
			j.ID, j.Type, j.Status, j.ProgressPercent, j.CreatedAt.Local().Format(time.RFC3339))
	}
	return w.Flush()
}

func runJobsCancel(cmd *cobra.Command, args []string) error {
	var resp struct {
		Cancelled bool `json:"cancelled"`
	}
	path := "/api/v1/jobs/" + url.PathEscape(args[0]) + "/cancel"
	if err := doJSON(http.MethodPatch, path, nil, &resp); err != nil {
		return err
	}
	if resp.Cancelled {
		fmt.Println("Cancellation requested")
	} else {
		fmt.Println("Job already finished; nothing to cancel")
	}
	return nil
}

func runJobsDelete(cmd *cobra.Command, args []string) error {
	path := "/api/v1/jobs/" + url.PathEscape(args[0])
	if err := doJSON(http.MethodDelete, path, nil, nil); err != nil {
		return err
	}
	fmt.Println("Job deleted")
	return nil
}

func runJobsCleanup(cmd *cobra.Command, args []string) error {
	var resp struct {
		Deleted int `json:"deleted"`
	}
	path := fmt.Sprintf("/api/v1/jobs/cleanup?days=%d", jobsCleanDays)
	if err := postJSON(path, nil, &resp); err != nil {
		return err
	}
	fmt.Printf("Deleted %d jobs\n", resp.Deleted)
	return nil
}

func printJob(j *jobView) {
	fmt.Printf("ID:       %s\n", j.ID)
	fmt.Printf("Type:     %s\n", j.Type)
	fmt.Printf("Status:   %s\n", j.Status)
	fmt.Printf("Progress: %d%%", j.ProgressPercent)
	if j.ProgressMessage != "" {
		fmt.Printf(" (%s)", j.ProgressMessage)
	}
	fmt.Println()
	if j.CancelRequested {
		fmt.Println("Cancel:   requested")
	}
	fmt.Printf("Created:  %s\n", j.CreatedAt.Local().Format(time.RFC3339))
	if j.StartedAt != nil {
		fmt.Printf("Started:  %s\n", j.StartedAt.Local().Format(time.RFC3339))
	}
	if j.CompletedAt != nil {
		fmt.Printf("Finished: %s\n", j.CompletedAt.Local().Format(time.RFC3339))
	}
	if j.Result != "" {
		fmt.Printf("Result:   %s\n", j.Result)
	}
	if j.Error != "" {
		fmt.Printf("Error:    %s\n", j.Error)
	}
}
