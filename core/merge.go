package core

import "slices"

// MergePaper folds incoming into existing and returns the merged copy.
//
// Fields that are empty on existing take the incoming value; populated fields are kept.
// Abstract is the exception: the longer text wins, so a truncated abstract is repaired
// by a later complete one. The reprocessing flag survives only while no summary exists.
// changed reports whether the merged record differs from existing.
func MergePaper(existing, incoming *PaperRecord) (merged *PaperRecord, changed bool) {
	if existing == nil {
		cp := *incoming
		return &cp, true
	}
	m := *existing
	m.Authors = slices.Clone(existing.Authors)
	m.Tags = slices.Clone(existing.Tags)

	fill := func(dst *string, src string) {
		if *dst == "" && src != "" {
			*dst = src
			changed = true
		}
	}
	fill(&m.DOI, incoming.DOI)
	fill(&m.ExternalID, incoming.ExternalID)
	fill(&m.Title, incoming.Title)
	fill(&m.FullText, incoming.FullText)
	fill(&m.SourceURL, incoming.SourceURL)
	fill(&m.PDFURL, incoming.PDFURL)
	fill(&m.Venue, incoming.Venue)
	fill(&m.Query, incoming.Query)
	fill(&m.Summary, incoming.Summary)

	if len([]rune(incoming.Abstract)) > len([]rune(m.Abstract)) {
		m.Abstract = incoming.Abstract
		changed = true
	}
	if len(m.Authors) == 0 && len(incoming.Authors) > 0 {
		m.Authors = slices.Clone(incoming.Authors)
		changed = true
	}
	if len(m.Tags) == 0 && len(incoming.Tags) > 0 {
		m.Tags = slices.Clone(incoming.Tags)
		changed = true
	}
	if m.Year == 0 && incoming.Year != 0 {
		m.Year = incoming.Year
		changed = true
	}
	if m.RetrievedAt.IsZero() && !incoming.RetrievedAt.IsZero() {
		m.RetrievedAt = incoming.RetrievedAt
		changed = true
	}
	if len(m.Vector) == 0 && len(incoming.Vector) > 0 {
		m.Vector = slices.Clone(incoming.Vector)
		m.ContentHash = incoming.ContentHash
		changed = true
	}

	flag := m.Summary == "" && (existing.NeedsReprocessing || incoming.NeedsReprocessing)
	if flag != m.NeedsReprocessing {
		m.NeedsReprocessing = flag
		changed = true
	}
	return &m, changed
}
