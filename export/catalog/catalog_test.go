package catalog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/athena/core"
	"github.com/poiesic/athena/export"
)

func openTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "index", "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func refs(pairs ...any) []export.ConceptRef {
	var out []export.ConceptRef
	for i := 0; i < len(pairs); i += 3 {
		out = append(out, export.ConceptRef{
			Concept:    &core.ConceptRecord{Id: core.ID(pairs[i].(int)), Phrase: pairs[i+1].(string)},
			Confidence: float32(pairs[i+2].(float64)),
		})
	}
	return out
}

func TestExportAndQuery(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()
	paper := &core.PaperRecord{Id: 10, Title: "Neural plasticity", Authors: []string{"A. Author"}, Year: 2021}

	require.NoError(t, c.Export(ctx, paper, refs(1, "synaptic plasticity", 0.7, 2, "hebbian learning", 0.9)))

	n, err := c.PaperCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	phrases, err := c.ConceptPhrases(ctx, paper.Id)
	require.NoError(t, err)
	assert.Equal(t, []string{"hebbian learning", "synaptic plasticity"}, phrases)
}

func TestExportReplacesLinks(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()
	paper := &core.PaperRecord{Id: 10, Title: "Neural plasticity"}

	require.NoError(t, c.Export(ctx, paper, refs(1, "synaptic plasticity", 0.7)))
	paper.Summary = "updated"
	require.NoError(t, c.Export(ctx, paper, refs(2, "hebbian learning", 0.9)))

	n, err := c.PaperCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	phrases, err := c.ConceptPhrases(ctx, paper.Id)
	require.NoError(t, err)
	assert.Equal(t, []string{"hebbian learning"}, phrases)
}

func TestRemoveKeepsSharedConcepts(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()
	a := &core.PaperRecord{Id: 1, Title: "A"}
	b := &core.PaperRecord{Id: 2, Title: "B"}
	require.NoError(t, c.Export(ctx, a, refs(5, "shared", 0.5)))
	require.NoError(t, c.Export(ctx, b, refs(5, "shared", 0.6)))

	require.NoError(t, c.Remove(ctx, a.Id))
	require.NoError(t, c.Remove(ctx, a.Id))

	n, err := c.PaperCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	phrases, err := c.ConceptPhrases(ctx, b.Id)
	require.NoError(t, err)
	assert.Equal(t, []string{"shared"}, phrases)

	phrases, err = c.ConceptPhrases(ctx, a.Id)
	require.NoError(t, err)
	assert.Empty(t, phrases)
}

func TestExportRequiresFingerprint(t *testing.T) {
	c := openTestCatalog(t)
	err := c.Export(context.Background(), &core.PaperRecord{Title: "x"}, nil)
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	c, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, c.Export(context.Background(), &core.PaperRecord{Id: 3, Title: "Persisted"}, nil))
	require.NoError(t, c.Close())

	c, err = Open(path)
	require.NoError(t, err)
	defer c.Close()
	n, err := c.PaperCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
