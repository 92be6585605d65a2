package search

import (
	"iter"

	"github.com/poiesic/athena/core"
)

// SearchMonitor provides hooks to observe the search process.
// Implement this interface to track intermediate steps and results during search.
type SearchMonitor interface {
	Start(query string)
	AfterSemanticSearch(ids []core.ID)
	AfterQueryConceptExtraction(phrases []string)
	FoundRelatedConcepts(phrase string, concepts []*core.ConceptRecord)
	AfterConceptuallyRelatedSearch(ids iter.Seq[core.ID])
	AfterRecordRetrieval(papers []*core.PaperRecord)
	SemanticAndConceptualHit(paper *core.PaperRecord)
	SemanticHit(paper *core.PaperRecord)
	ConceptualHit(paper *core.PaperRecord)
	Finish(results []core.ScoredPaper)
}

// noopMonitor is a no-op implementation of SearchMonitor
type noopMonitor struct{}

var _ SearchMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ string)                                         {}
func (n *noopMonitor) AfterSemanticSearch(_ []core.ID)                        {}
func (n *noopMonitor) AfterQueryConceptExtraction(_ []string)                 {}
func (n *noopMonitor) FoundRelatedConcepts(_ string, _ []*core.ConceptRecord) {}
func (n *noopMonitor) AfterConceptuallyRelatedSearch(_ iter.Seq[core.ID])     {}
func (n *noopMonitor) AfterRecordRetrieval(_ []*core.PaperRecord)             {}
func (n *noopMonitor) SemanticAndConceptualHit(_ *core.PaperRecord)           {}
func (n *noopMonitor) SemanticHit(_ *core.PaperRecord)                        {}
func (n *noopMonitor) ConceptualHit(_ *core.PaperRecord)                      {}
func (n *noopMonitor) Finish(_ []core.ScoredPaper)                            {}
