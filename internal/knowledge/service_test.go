package knowledge_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dispatchd/internal/knowledge"
)

func newTestService(t *testing.T) *knowledge.Service {
	t.Helper()

	store, err := knowledge.NewLinearStore(&vocabEmbedder{})
	require.NoError(t, err)

	svc, err := knowledge.NewService(store, zap.NewNop())
	require.NoError(t, err)
	return svc
}

func TestService_ProjectScopedSearchExcludesOtherProjects(t *testing.T) {
	svc := newTestService(t)
	defer svc.Close()

	ctx := context.Background()
	_, err := svc.StoreDocuments(ctx, []knowledge.Document{
		{ID: "d1", Content: "JWT auth with refresh tokens", ProjectID: "p1"},
		{ID: "d2", Content: "interview question auth notes", ProjectID: "p2"},
	})
	require.NoError(t, err)

	matches, err := svc.Search(ctx, knowledge.Query{
		Text:      "how was authentication implemented",
		ProjectID: "p1",
		TopK:      5,
		Threshold: 0.5,
	})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "d1", matches[0].ID)
}

func TestService_IncludeGlobalMergesScopes(t *testing.T) {
	svc := newTestService(t)
	defer svc.Close()

	ctx := context.Background()
	_, err := svc.StoreDocuments(ctx, []knowledge.Document{
		{ID: "proj", Content: "login flow for auth", ProjectID: "p1"},
		{ID: "glob", Content: "auth token best practices"},
		{ID: "other", Content: "kanban task board", ProjectID: "p2"},
	})
	require.NoError(t, err)

	matches, err := svc.Search(ctx, knowledge.Query{
		Text:          "auth login token",
		ProjectID:     "p1",
		IncludeGlobal: true,
		TopK:          5,
		Threshold:     0.3,
	})
	require.NoError(t, err)
	require.Len(t, matches, 2)

	ids := []string{matches[0].ID, matches[1].ID}
	assert.Contains(t, ids, "proj")
	assert.Contains(t, ids, "glob")

	// Merged results stay ranked by similarity.
	assert.GreaterOrEqual(t, matches[0].Similarity, matches[1].Similarity)
}

func TestService_GlobalOnlySearch(t *testing.T) {
	svc := newTestService(t)
	defer svc.Close()

	ctx := context.Background()
	_, err := svc.StoreDocuments(ctx, []knowledge.Document{
		{ID: "glob", Content: "auth token rotation"},
		{ID: "proj", Content: "auth token project notes", ProjectID: "p1"},
	})
	require.NoError(t, err)

	matches, err := svc.Search(ctx, knowledge.Query{Text: "auth token", Threshold: 0.3})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "glob", matches[0].ID)
}

func TestService_SearchDefaults(t *testing.T) {
	svc := newTestService(t)
	defer svc.Close()

	ctx := context.Background()
	docs := make([]knowledge.Document, 0, knowledge.DefaultTopK+3)
	for range knowledge.DefaultTopK + 3 {
		docs = append(docs, knowledge.Document{Content: "auth token login"})
	}
	_, err := svc.StoreDocuments(ctx, docs)
	require.NoError(t, err)

	matches, err := svc.Search(ctx, knowledge.Query{Text: "auth token login"})
	require.NoError(t, err)
	assert.Len(t, matches, knowledge.DefaultTopK)
}

func TestService_EmptyQueryRejected(t *testing.T) {
	svc := newTestService(t)
	defer svc.Close()

	_, err := svc.Search(context.Background(), knowledge.Query{})
	assert.ErrorIs(t, err, knowledge.ErrEmptyQuery)
}

func TestService_DeleteProject(t *testing.T) {
	svc := newTestService(t)
	defer svc.Close()

	ctx := context.Background()
	_, err := svc.StoreDocuments(ctx, []knowledge.Document{
		{ID: "a", Content: "auth notes", ProjectID: "p1"},
		{ID: "b", Content: "login notes", ProjectID: "p1"},
		{ID: "c", Content: "task notes", ProjectID: "p2"},
	})
	require.NoError(t, err)

	deleted, err := svc.DeleteProject(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	matches, err := svc.Search(ctx, knowledge.Query{Text: "task notes", ProjectID: "p2"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "c", matches[0].ID)
}
