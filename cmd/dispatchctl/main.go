// Package main implements the dispatchctl CLI for manual operations
// against a running dispatchd server.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the dispatchd HTTP server
	serverURL string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dispatchctl",
	Short: "CLI for dispatchd HTTP server operations",
	Long: `dispatchctl is a command-line interface for interacting with the
dispatchd HTTP server. It provides commands for executing requests,
managing async jobs, model configs and the knowledge store.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:9180", "dispatchd server URL")
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(executeCmd)
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check dispatchd server health",
	RunE:  runHealth,
}

func runHealth(cmd *cobra.Command, args []string) error {
	var resp struct {
		Status string `json:"status"`
	}
	if err := getJSON("/health", &resp); err != nil {
		return err
	}
	fmt.Printf("Server status: %s\n", resp.Status)
	return nil
}

var (
	execUsageType   string
	execSystem      string
	execProject     string
	execRetrieval   bool
	execTopK        int
	execMaxTokens   int
	execTemperature float64
)

var executeCmd = &cobra.Command{
	Use:   "execute [prompt]",
	Short: "Run a synchronous execution",
	Long: `Run a prompt through the execution pipeline.

Examples:
  # Simple execution
  dispatchctl execute --usage-type chat "summarize the release notes"

  # With knowledge retrieval scoped to a project
  dispatchctl execute --usage-type chat --retrieval --project p1 "how was auth implemented"`,
	Args: cobra.ExactArgs(1),
	RunE: runExecute,
}

func init() {
	executeCmd.Flags().StringVar(&execUsageType, "usage-type", "", "usage type to execute (required)")
	executeCmd.Flags().StringVar(&execSystem, "system", "", "system prompt")
	executeCmd.Flags().StringVar(&execProject, "project", "", "project scope for retrieval")
	executeCmd.Flags().BoolVar(&execRetrieval, "retrieval", false, "enable knowledge retrieval")
	executeCmd.Flags().IntVar(&execTopK, "top-k", 0, "retrieval result limit")
	executeCmd.Flags().IntVar(&execMaxTokens, "max-tokens", 0, "max completion tokens")
	executeCmd.Flags().Float64Var(&execTemperature, "temperature", 0, "sampling temperature (an explicit 0 is honored)")
	_ = executeCmd.MarkFlagRequired("usage-type")
}

func runExecute(cmd *cobra.Command, args []string) error {
	req := map[string]any{
		"usage_type": execUsageType,
		"messages": []map[string]string{
			{"role": "user", "content": args[0]},
		},
	}
	if execSystem != "" {
		req["system_prompt"] = execSystem
	}
	if execProject != "" {
		req["project_id"] = execProject
	}
	if execRetrieval {
		req["retrieval"] = map[string]any{
			"enabled":        true,
			"include_global": true,
			"top_k":          execTopK,
		}
	}
	if execMaxTokens > 0 {
		req["max_tokens"] = execMaxTokens
	}
	// Only a flag the user actually set is forwarded, so zero means
	// deterministic sampling rather than "use the config default".
	if cmd.Flags().Changed("temperature") {
		req["temperature"] = execTemperature
	}

	var resp struct {
		Content  string `json:"content"`
		CacheHit bool   `json:"cache_hit"`
		Strategy string `json:"cache_strategy"`
		RAG      bool   `json:"rag_enhanced"`
		Usage    struct {
			InputTokens  int  `json:"input_tokens"`
			OutputTokens int  `json:"output_tokens"`
			Estimated    bool `json:"estimated"`
		} `json:"usage"`
	}
	if err := postJSON("/api/v1/execute", req, &resp); err != nil {
		return err
	}

	fmt.Println(resp.Content)
	fmt.Fprintf(os.Stderr, "\ntokens: %d in / %d out", resp.Usage.InputTokens, resp.Usage.OutputTokens)
	if resp.Usage.Estimated {
		fmt.Fprint(os.Stderr, " (estimated)")
	}
	if resp.CacheHit {
		fmt.Fprintf(os.Stderr, ", cache hit (%s)", resp.Strategy)
	}
	if resp.RAG {
		fmt.Fprint(os.Stderr, ", rag enhanced")
	}
	fmt.Fprintln(os.Stderr)
	return nil
}

// httpClient is shared by all commands.
var httpClient = &http.Client{Timeout: 5 * time.Minute}

// apiError matches the server's error payload.
type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func getJSON(path string, out any) error {
	return doJSON(http.MethodGet, path, nil, out)
}

func postJSON(path string, body, out any) error {
	return doJSON(http.MethodPost, path, body, out)
}

func doJSON(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, serverURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed (is dispatchd running at %s?): %w", serverURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Code != "" {
			return fmt.Errorf("%s: %s", apiErr.Error.Code, apiErr.Error.Message)
		}
		return fmt.Errorf("server returned %s: %s", resp.Status, string(data))
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
