package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var knowledgeCmd = &cobra.Command{
	Use:   "knowledge",
	Short: "Manage the knowledge store",
}

var (
	knowProject   string
	knowGlobal    bool
	knowType      string
	knowTopK      int
	knowThreshold float64
	knowMetadata  []string
)

var knowledgeSearchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search stored knowledge",
	Long: `Search the knowledge store by semantic similarity.

Examples:
  dispatchctl knowledge search "how is auth handled" --project p1 --global
  dispatchctl knowledge search "deployment runbook" --top-k 3`,
	Args: cobra.ExactArgs(1),
	RunE: runKnowledgeSearch,
}

var knowledgeStoreCmd = &cobra.Command{
	Use:   "store [content]",
	Short: "Store a knowledge document",
	Args:  cobra.ExactArgs(1),
	RunE:  runKnowledgeStore,
}

var knowledgeDeleteCmd = &cobra.Command{
	Use:   "delete [document-id]",
	Short: "Delete a knowledge document",
	Args:  cobra.ExactArgs(1),
	RunE:  runKnowledgeDelete,
}

var knowledgeDeleteProjectCmd = &cobra.Command{
	Use:   "delete-project [project-id]",
	Short: "Delete all documents scoped to a project",
	Args:  cobra.ExactArgs(1),
	RunE:  runKnowledgeDeleteProject,
}

func init() {
	knowledgeSearchCmd.Flags().StringVar(&knowProject, "project", "", "project scope")
	knowledgeSearchCmd.Flags().BoolVar(&knowGlobal, "global", false, "include global documents")
	knowledgeSearchCmd.Flags().StringVar(&knowType, "type", "", "filter by document type")
	knowledgeSearchCmd.Flags().IntVar(&knowTopK, "top-k", 0, "maximum results")
	knowledgeSearchCmd.Flags().Float64Var(&knowThreshold, "threshold", 0, "minimum similarity")
	knowledgeStoreCmd.Flags().StringVar(&knowProject, "project", "", "project scope (empty = global)")
	knowledgeStoreCmd.Flags().StringArrayVar(&knowMetadata, "meta", nil, "metadata entry as key=value (repeatable)")
	knowledgeCmd.AddCommand(knowledgeSearchCmd, knowledgeStoreCmd, knowledgeDeleteCmd, knowledgeDeleteProjectCmd)
	rootCmd.AddCommand(knowledgeCmd)
}

func runKnowledgeSearch(cmd *cobra.Command, args []string) error {
	q := url.Values{}
	q.Set("query", args[0])
	if knowProject != "" {
		q.Set("project_id", knowProject)
	}
	if knowGlobal {
		q.Set("include_global", "true")
	}
	if knowType != "" {
		q.Set("type", knowType)
	}
	if knowTopK > 0 {
		q.Set("top_k", strconv.Itoa(knowTopK))
	}
	if knowThreshold > 0 {
		q.Set("similarity_threshold", strconv.FormatFloat(knowThreshold, 'f', -1, 64))
	}

	var resp struct {
		Matches []struct {
			ID         string            `json:"id"`
			Content    string            `json:"content"`
			Similarity float32           `json:"similarity"`
			Metadata   map[string]string `json:"metadata"`
		} `json:"matches"`
	}
	if err := getJSON("/api/v1/knowledge/search?"+q.Encode(), &resp); err != nil {
		return err
	}

	if len(resp.Matches) == 0 {
		fmt.Println("No matches")
		return nil
	}
	for i, m := range resp.Matches {
		scope := m.Metadata["project_id"]
		if scope == "" {
			scope = "global"
		}
		fmt.Printf("%d. [%.3f] (%s) %s\n   %s\n", i+1, m.Similarity, scope, m.ID, m.Content)
	}
	return nil
}

func runKnowledgeStore(cmd *cobra.Command, args []string) error {
	req := map[string]any{"content": args[0]}
	if knowProject != "" {
		req["project_id"] = knowProject
	}
	if len(knowMetadata) > 0 {
		meta := make(map[string]string, len(knowMetadata))
		for _, kv := range knowMetadata {
			key, value, ok := strings.Cut(kv, "=")
			if !ok || key == "" {
				return fmt.Errorf("invalid --meta entry %q, expected key=value", kv)
			}
			meta[key] = value
		}
		req["metadata"] = meta
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := postJSON("/api/v1/knowledge", req, &resp); err != nil {
		return err
	}
	fmt.Printf("Stored document %s\n", resp.ID)
	return nil
}

func runKnowledgeDelete(cmd *cobra.Command, args []string) error {
	path := "/api/v1/knowledge/" + url.PathEscape(args[0])
	if err := doJSON(http.MethodDelete, path, nil, nil); err != nil {
		return err
	}
	fmt.Println("Document deleted")
	return nil
}

func runKnowledgeDeleteProject(cmd *cobra.Command, args []string) error {
	var resp struct {
		Deleted int `json:"deleted"`
	}
	path := "/api/v1/knowledge/projects/" + url.PathEscape(args[0])
	if err := doJSON(http.MethodDelete, path, nil, &resp); err != nil {
		return err
	}
	fmt.Printf("Deleted %d documents\n", resp.Deleted)
	return nil
}
