package knowledge

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/dispatchd/internal/embeddings"
)

// LinearStore is the in-memory, linear-scan reference implementation.
//
// It computes cosine similarity between the query embedding and every
// stored embedding. Index-backed stores must produce top-k sets that
// agree with this implementation; the tests compare them. It is also a
// perfectly serviceable backend for small corpora.
type LinearStore struct {
	embedder embeddings.Embedder

	mu   sync.RWMutex
	docs map[string]linearDoc
}

type linearDoc struct {
	content   string
	embedding []float32
	metadata  map[string]string
}

// NewLinearStore creates an empty linear-scan store.
func NewLinearStore(embedder embeddings.Embedder) (*LinearStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	return &LinearStore{
		embedder: embedder,
		docs:     make(map[string]linearDoc),
	}, nil
}

// Add stores documents, embedding their content.
func (s *LinearStore) Add(ctx context.Context, docs []Document) ([]string, error) {
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: no documents", ErrEmptyContent)
	}

	texts := make([]string, len(docs))
	for i, doc := range docs {
		if doc.Content == "" {
			return nil, fmt.Errorf("%w: document at index %d", ErrEmptyContent, i)
		}
		texts[i] = doc.Content
	}

	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding documents: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, len(docs))
	for i, doc := range docs {
		id := doc.ID
		if id == "" {
			id = uuid.New().String()
		}
		ids[i] = id
		s.docs[id] = linearDoc{
			content:   doc.Content,
			embedding: vectors[i],
			metadata:  scopeMetadata(doc),
		}
	}
	return ids, nil
}

// Retrieve scans every stored document and ranks by cosine similarity.
func (s *LinearStore) Retrieve(ctx context.Context, query string, filter map[string]string, topK int, threshold float32) ([]Match, error) {
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if topK <= 0 {
		return nil, fmt.Errorf("top_k must be positive, got %d", topK)
	}

	queryVec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]Match, 0, topK)
	for id, doc := range s.docs {
		if !matchesFilter(doc.metadata, filter) {
			continue
		}
		sim := CosineSimilarity(queryVec, doc.embedding)
		if sim < threshold {
			continue
		}
		matches = append(matches, Match{
			ID:         id,
			Content:    doc.content,
			Similarity: sim,
			Metadata:   doc.metadata,
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].ID < matches[j].ID
	})

	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Delete removes documents by ID. Unknown IDs are ignored.
func (s *LinearStore) Delete(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.docs, id)
	}
	return nil
}

// DeleteByFilter removes documents matching the filter.
func (s *LinearStore) DeleteByFilter(_ context.Context, filter map[string]string) (int, error) {
	if len(filter) == 0 {
		return 0, fmt.Errorf("filter cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, doc := range s.docs {
		if matchesFilter(doc.metadata, filter) {
			delete(s.docs, id)
			deleted++
		}
	}
	return deleted, nil
}

// Count returns the number of stored documents.
func (s *LinearStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs), nil
}

// Close is a no-op for the in-memory store.
func (s *LinearStore) Close() error { return nil }

// matchesFilter reports whether metadata satisfies every filter condition.
func matchesFilter(metadata, filter map[string]string) bool {
	for k, want := range filter {
		if metadata[k] != want {
			return false
		}
	}
	return true
}

// CosineSimilarity computes the cosine similarity between two vectors.
// Returns 0 for mismatched or zero-length vectors.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

var _ Store = (*LinearStore)(nil)
