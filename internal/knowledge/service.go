package knowledge

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
)

// DefaultTopK is the default maximum number of search results.
const DefaultTopK = 5

// DefaultThreshold is the default minimum similarity for search results.
const DefaultThreshold = 0.5

// Query describes a knowledge search.
type Query struct {
	// Text is the search text; embedded with the store's embedder.
	Text string

	// ProjectID restricts results to a project's documents.
	// Empty searches only the global corpus.
	ProjectID string

	// IncludeGlobal merges global documents into project-scoped results.
	IncludeGlobal bool

	// Type filters by document type when non-empty.
	Type string

	// TopK caps the number of results. Defaults to DefaultTopK.
	TopK int

	// Threshold is the minimum similarity. Defaults to DefaultThreshold.
	Threshold float32
}

// Service provides scope-aware knowledge retrieval on top of a Store.
//
// Project-scoped queries can merge in the global corpus; results are
// re-ranked by similarity across both scopes.
type Service struct {
	store  Store
	logger *zap.Logger
}

// NewService creates a knowledge service.
func NewService(store Store, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, logger: logger}, nil
}

// StoreDocument embeds and stores a single document, returning its id.
func (s *Service) StoreDocument(ctx context.Context, doc Document) (string, error) {
	start := time.Now()

	ids, err := s.store.Add(ctx, []Document{doc})
	observeStore(time.Since(start), err)
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// StoreDocuments embeds and stores a batch of documents.
func (s *Service) StoreDocuments(ctx context.Context, docs []Document) ([]string, error) {
	start := time.Now()

	ids, err := s.store.Add(ctx, docs)
	observeStore(time.Since(start), err)
	return ids, err
}

// Search retrieves documents ranked by similarity, merging project and
// global scopes when requested.
func (s *Service) Search(ctx context.Context, q Query) ([]Match, error) {
	if q.Text == "" {
		return nil, ErrEmptyQuery
	}
	if q.TopK <= 0 {
		q.TopK = DefaultTopK
	}
	if q.Threshold == 0 {
		q.Threshold = DefaultThreshold
	}

	start := time.Now()

	var matches []Match
	var err error
	switch {
	case q.ProjectID == "":
		matches, err = s.store.Retrieve(ctx, q.Text, s.filterFor(ScopeGlobal, "", q.Type), q.TopK, q.Threshold)
	case !q.IncludeGlobal:
		matches, err = s.store.Retrieve(ctx, q.Text, s.filterFor(ScopeProject, q.ProjectID, q.Type), q.TopK, q.Threshold)
	default:
		matches, err = s.mergedSearch(ctx, q)
	}

	observeRetrieve(time.Since(start), len(matches), err)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("knowledge search completed",
		zap.String("project_id", q.ProjectID),
		zap.Bool("include_global", q.IncludeGlobal),
		zap.Int("results", len(matches)),
	)

	return matches, nil
}

// mergedSearch queries the project scope and the global corpus separately,
// then re-ranks the union. Exact-match filters cannot express the OR.
func (s *Service) mergedSearch(ctx context.Context, q Query) ([]Match, error) {
	project, err := s.store.Retrieve(ctx, q.Text, s.filterFor(ScopeProject, q.ProjectID, q.Type), q.TopK, q.Threshold)
	if err != nil {
		return nil, err
	}
	global, err := s.store.Retrieve(ctx, q.Text, s.filterFor(ScopeGlobal, "", q.Type), q.TopK, q.Threshold)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(project)+len(global))
	merged := make([]Match, 0, len(project)+len(global))
	for _, m := range append(project, global...) {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		merged = append(merged, m)
	}

	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Similarity > merged[j].Similarity
	})
	if len(merged) > q.TopK {
		merged = merged[:q.TopK]
	}
	return merged, nil
}

// filterFor builds the backend filter for a scope and optional type.
func (s *Service) filterFor(scope, projectID, docType string) map[string]string {
	filter := map[string]string{MetaScope: scope}
	if projectID != "" {
		filter[MetaProject] = projectID
	}
	if docType != "" {
		filter[MetaType] = docType
	}
	return filter
}

// Delete removes a single document by id.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, []string{id})
}

// DeleteProject removes every document owned by a project.
// Called when the owning project is deleted.
func (s *Service) DeleteProject(ctx context.Context, projectID string) (int, error) {
	if projectID == "" {
		return 0, fmt.Errorf("project id cannot be empty")
	}
	return s.store.DeleteByFilter(ctx, map[string]string{MetaProject: projectID})
}

// Close closes the underlying store.
func (s *Service) Close() error {
	return s.store.Close()
}
