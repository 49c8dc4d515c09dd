package knowledge

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dispatchd/internal/embeddings"
)

// Backend identifiers for NewStore.
const (
	BackendChromem = "chromem"
	BackendQdrant  = "qdrant"
)

// StoreConfig selects and configures a knowledge store backend.
type StoreConfig struct {
	// Backend is "chromem" or "qdrant".
	Backend string

	Chromem ChromemConfig
	Qdrant  QdrantConfig
}

// NewStore creates the configured store backend.
func NewStore(cfg StoreConfig, embedder embeddings.Embedder, logger *zap.Logger) (Store, error) {
	switch cfg.Backend {
	case BackendChromem, "":
		return NewChromemStore(cfg.Chromem, embedder, logger)
	case BackendQdrant:
		return NewQdrantStore(cfg.Qdrant, embedder, logger)
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, cfg.Backend)
	}
}
