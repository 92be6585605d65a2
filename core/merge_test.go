package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergePaper_NilExisting(t *testing.T) {
	incoming := &PaperRecord{Id: 7, Title: "T"}
	merged, changed := MergePaper(nil, incoming)
	require.NotNil(t, merged)
	assert.True(t, changed)
	assert.Equal(t, *incoming, *merged)
	assert.NotSame(t, incoming, merged)
}

func TestMergePaper_KeepsLongerAbstract(t *testing.T) {
	existing := &PaperRecord{Id: 1, DOI: "10.1/x", Title: "T", Abstract: "A study of"}
	incoming := &PaperRecord{Id: 1, DOI: "10.1/x", Title: "T", Abstract: "A study of plasticity in cortical circuits."}

	merged, changed := MergePaper(existing, incoming)
	assert.True(t, changed)
	assert.Equal(t, incoming.Abstract, merged.Abstract)

	// A later truncated copy never shortens it again.
	again, changed := MergePaper(merged, existing)
	assert.False(t, changed)
	assert.Equal(t, incoming.Abstract, again.Abstract)
}

func TestMergePaper_FillsEmptyFieldsOnly(t *testing.T) {
	retrieved := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	existing := &PaperRecord{
		Id:      1,
		Title:   "Original Title",
		Authors: []string{"A. Author"},
		Venue:   "",
	}
	incoming := &PaperRecord{
		Id:          1,
		Title:       "Different Title",
		Authors:     []string{"B. Author"},
		Venue:       "NeurIPS",
		Year:        2024,
		Tags:        []string{"ml"},
		RetrievedAt: retrieved,
	}

	merged, changed := MergePaper(existing, incoming)
	assert.True(t, changed)
	assert.Equal(t, "Original Title", merged.Title)
	assert.Equal(t, []string{"A. Author"}, merged.Authors)
	assert.Equal(t, "NeurIPS", merged.Venue)
	assert.Equal(t, 2024, merged.Year)
	assert.Equal(t, []string{"ml"}, merged.Tags)
	assert.Equal(t, retrieved, merged.RetrievedAt)

	// existing is not mutated
	assert.Empty(t, existing.Venue)
	assert.Zero(t, existing.Year)
}

func TestMergePaper_Unchanged(t *testing.T) {
	existing := &PaperRecord{Id: 1, Title: "T", Abstract: "long abstract", Summary: "s"}
	incoming := &PaperRecord{Id: 1, Title: "T", Abstract: "short"}

	_, changed := MergePaper(existing, incoming)
	assert.False(t, changed)
}

func TestMergePaper_ReprocessingFlag(t *testing.T) {
	t.Run("summary clears flag", func(t *testing.T) {
		existing := &PaperRecord{Id: 1, Title: "T", NeedsReprocessing: true}
		incoming := &PaperRecord{Id: 1, Title: "T", Summary: "now summarized"}
		merged, changed := MergePaper(existing, incoming)
		assert.True(t, changed)
		assert.False(t, merged.NeedsReprocessing)
		assert.Equal(t, "now summarized", merged.Summary)
	})

	t.Run("flag carried while unsummarized", func(t *testing.T) {
		existing := &PaperRecord{Id: 1, Title: "T"}
		incoming := &PaperRecord{Id: 1, Title: "T", NeedsReprocessing: true}
		merged, changed := MergePaper(existing, incoming)
		assert.True(t, changed)
		assert.True(t, merged.NeedsReprocessing)
	})

	t.Run("flag ignored when summary exists", func(t *testing.T) {
		existing := &PaperRecord{Id: 1, Title: "T", Summary: "s"}
		incoming := &PaperRecord{Id: 1, Title: "T", NeedsReprocessing: true}
		merged, _ := MergePaper(existing, incoming)
		assert.False(t, merged.NeedsReprocessing)
	})
}

func TestMergePaper_VectorTravelsWithHash(t *testing.T) {
	existing := &PaperRecord{Id: 1, Title: "T"}
	incoming := &PaperRecord{Id: 1, Title: "T", Vector: []float32{1, 0}, ContentHash: 99}
	merged, changed := MergePaper(existing, incoming)
	assert.True(t, changed)
	assert.Equal(t, []float32{1, 0}, merged.Vector)
	assert.Equal(t, ID(99), merged.ContentHash)
}
