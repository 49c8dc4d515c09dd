// Package knowledge stores domain documents with embeddings and answers
// similarity-search queries scoped to a project or to the global corpus.
package knowledge

import (
	"context"
	"errors"
)

// Reserved metadata keys used for filtering.
const (
	// MetaProject is the owning project id; empty means global.
	MetaProject = "project_id"

	// MetaType is the document type (e.g. "code", "knowledge", "conversation").
	MetaType = "type"

	// MetaScope marks a document "project" or "global" for payload filtering.
	MetaScope = "scope"
)

// Scope values for MetaScope.
const (
	ScopeGlobal  = "global"
	ScopeProject = "project"
)

// Sentinel errors for knowledge store operations.
var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrEmptyContent indicates empty document content.
	ErrEmptyContent = errors.New("empty document content")

	// ErrEmptyQuery indicates an empty search query.
	ErrEmptyQuery = errors.New("empty search query")
)

// Document is a (content, embedding, metadata, scope) tuple.
// The embedding is generated at store time by the configured embedder
// and is never mutated in place; an update re-embeds and overwrites.
type Document struct {
	// ID is the unique identifier. Generated if empty.
	ID string

	// Content is the text content of the document.
	Content string

	// Metadata contains additional key-value pairs for filtering.
	Metadata map[string]string

	// ProjectID is the owning project. Empty means global scope.
	ProjectID string
}

// Match is a single retrieval result.
type Match struct {
	// ID is the document identifier.
	ID string `json:"id"`

	// Content is the document text content.
	Content string `json:"content"`

	// Similarity is the cosine similarity to the query (higher = closer).
	Similarity float32 `json:"similarity"`

	// Metadata contains the document metadata.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Store is the backend contract for document storage and similarity search.
//
// The filter is an exact-match conjunction over metadata keys. Results are
// sorted by similarity descending, every similarity is >= threshold, and at
// most topK results are returned. An index-backed implementation is an
// acceleration structure only: its top-k set must agree with LinearStore.
//
// Implementations:
//   - ChromemStore: embedded chromem-go (default)
//   - QdrantStore: external Qdrant over gRPC
//   - LinearStore: in-memory linear scan, the reference implementation
type Store interface {
	// Add stores documents, embedding their content. Returns assigned IDs.
	Add(ctx context.Context, docs []Document) ([]string, error)

	// Retrieve performs similarity search restricted by filter.
	Retrieve(ctx context.Context, query string, filter map[string]string, topK int, threshold float32) ([]Match, error)

	// Delete removes documents by ID.
	Delete(ctx context.Context, ids []string) error

	// DeleteByFilter removes all documents matching the filter and
	// returns how many were removed.
	DeleteByFilter(ctx context.Context, filter map[string]string) (int, error)

	// Count returns the number of stored documents.
	Count(ctx context.Context) (int, error)

	// Close releases backend resources.
	Close() error
}

// scopeMetadata returns the reserved metadata entries for a document.
func scopeMetadata(doc Document) map[string]string {
	meta := make(map[string]string, len(doc.Metadata)+2)
	for k, v := range doc.Metadata {
		meta[k] = v
	}
	if doc.ProjectID == "" {
		meta[MetaScope] = ScopeGlobal
	} else {
		meta[MetaScope] = ScopeProject
		meta[MetaProject] = doc.ProjectID
	}
	return meta
}
