package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// modelView matches the ModelConfig JSON emitted by the server.
type modelView struct {
	ID              string     `json:"id"`
	UsageType       string     `json:"usage_type"`
	Provider        string     `json:"provider"`
	Model           string     `json:"model"`
	CredentialRef   string     `json:"credential_ref,omitempty"`
	Active          bool       `json:"active"`
	Priority        int        `json:"priority"`
	MaxTokens       int        `json:"max_tokens"`
	Temperature     float64    `json:"temperature"`
	CostPer1KInput  float64    `json:"cost_per_1k_input"`
	CostPer1KOutput float64    `json:"cost_per_1k_output"`
	CreatedAt       time.Time  `json:"created_at"`
	ActivatedAt     *time.Time `json:"activated_at,omitempty"`
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Manage model configurations",
}

var (
	modelsUsageType string
	addProvider     string
	addModel        string
	addCredential   string
	addActive       bool
	addPriority     int
	addMaxTokens    int
	addTemperature  float64
	addCostInput    float64
	addCostOutput   float64
)

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List model configurations",
	RunE:  runModelsList,
}

var modelsAddCmd = &cobra.Command{
	Use:   "add [usage-type]",
	Short: "Add a model configuration",
	Long: `Add a model configuration for a usage type.

Examples:
  dispatchctl models add chat --provider openai --model gpt-4o --active \
    --cost-input 0.0025 --cost-output 0.01

  dispatchctl models add summarize --provider ollama --model llama3 --active`,
	Args: cobra.ExactArgs(1),
	RunE: runModelsAdd,
}

var modelsActivateCmd = &cobra.Command{
	Use:   "activate [config-id]",
	Short: "Activate a model configuration",
	Args:  cobra.ExactArgs(1),
	RunE:  runModelsActivate,
}

var modelsDeactivateCmd = &cobra.Command{
	Use:   "deactivate [config-id]",
	Short: "Deactivate a model configuration",
	Args:  cobra.ExactArgs(1),
	RunE:  runModelsDeactivate,
}

var modelsDeleteCmd = &cobra.Command{
	Use:   "delete [config-id]",
	Short: "Delete a model configuration",
	Args:  cobra.ExactArgs(1),
	RunE:  runModelsDelete,
}

func init() {
	modelsListCmd.Flags().StringVar(&modelsUsageType, "usage-type", "", "filter by usage type")
	modelsAddCmd.Flags().StringVar(&addProvider, "provider", "", "provider name: openai, anthropic or ollama (required)")
	modelsAddCmd.Flags().StringVar(&addModel, "model", "", "model identifier (required)")
	modelsAddCmd.Flags().StringVar(&addCredential, "credential", "", "environment variable holding the API key")
	modelsAddCmd.Flags().BoolVar(&addActive, "active", false, "activate immediately")
	modelsAddCmd.Flags().IntVar(&addPriority, "priority", 0, "selection priority, higher wins")
	modelsAddCmd.Flags().IntVar(&addMaxTokens, "max-tokens", 0, "default max completion tokens")
	modelsAddCmd.Flags().Float64Var(&addTemperature, "temperature", 0, "default sampling temperature")
	modelsAddCmd.Flags().Float64Var(&addCostInput, "cost-input", 0, "USD per 1K input tokens")
	modelsAddCmd.Flags().Float64Var(&addCostOutput, "cost-output", 0, "USD per 1K output tokens")
	_ = modelsAddCmd.MarkFlagRequired("provider")
	_ = modelsAddCmd.MarkFlagRequired("model")
	modelsCmd.AddCommand(modelsListCmd, modelsAddCmd, modelsActivateCmd, modelsDeactivateCmd, modelsDeleteCmd)
	rootCmd.AddCommand(modelsCmd)
}

func runModelsList(cmd *cobra.Command, args []string) error {
	path := "/api/v1/models"
	if modelsUsageType != "" {
		path += "?usage_type=" + url.QueryEscape(modelsUsageType)
	}
	var resp struct {
		Models []modelView `json:"models"`
	}
	if err := getJSON(path, &resp); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSAGE TYPE\tPROVIDER\tMODEL\tACTIVE\tPRIORITY")
	for _, m := range resp.Models {
		active := ""
		if m.Active {
			active = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
			m.ID, m.UsageType, m.Provider, m.Model, active, m.Priority)
	}
	return w.Flush()
}

func runModelsAdd(cmd *cobra.Command, args []string) error {
	req := map[string]any{
		"usage_type":         args[0],
		"provider":           addProvider,
		"model":              addModel,
		"active":             addActive,
		"priority":           addPriority,
		"max_tokens":         addMaxTokens,
		"temperature":        addTemperature,
		"cost_per_1k_input":  addCostInput,
		"cost_per_1k_output": addCostOutput,
	}
	if addCredential != "" {
		req["credential_ref"] = addCredential
	}

	var created modelView
	if err := postJSON("/api/v1/models", req, &created); err != nil {
		return err
	}
	fmt.Printf("Created config %s (%s/%s for %s)\n", created.ID, created.Provider, created.Model, created.UsageType)
	return nil
}

func runModelsActivate(cmd *cobra.Command, args []string) error {
	path := "/api/v1/models/" + url.PathEscape(args[0]) + "/activate"
	if err := doJSON(http.MethodPatch, path, nil, nil); err != nil {
		return err
	}
	fmt.Println("Config activated")
	return nil
}

func runModelsDeactivate(cmd *cobra.Command, args []string) error {
	path := "/api/v1/models/" + url.PathEscape(args[0]) + "/deactivate"
	if err := doJSON(http.MethodPatch, path, nil, nil); err != nil {
		return err
	}
	fmt.Println("Config deactivated")
	return nil
}

func runModelsDelete(cmd *cobra.Command, args []string) error {
	path := "/api/v1/models/" + url.PathEscape(args[0])
	if err := doJSON(http.MethodDelete, path, nil, nil); err != nil {
		return err
	}
	fmt.Println("Config deleted")
	return nil
}
