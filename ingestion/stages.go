package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/poiesic/athena/ai"
	"github.com/poiesic/athena/core"
	"github.com/poiesic/athena/export"
	"github.com/poiesic/athena/semantic"
	"github.com/poiesic/athena/sources"
	"github.com/poiesic/athena/storage"
)

// process drives one paper through its stages in order. abort cancels the whole batch.
func (p *Pipeline) process(ctx context.Context, abort context.CancelCauseFunc, query string, j *job) {
	j.stage = StageFetched
	if ctx.Err() != nil {
		return
	}
	if j.paper == nil && !p.fetch(ctx, abort, query, j) {
		return
	}
	if !p.extract(ctx, j) {
		return
	}

	if e := j.existing; e != nil && e.Summary != "" && !e.NeedsReprocessing {
		// Already enriched: only merge new metadata.
		j.stage = StageConceptExtracted
	} else {
		if !p.summarize(ctx, j) {
			return
		}
		if !p.extractConcepts(ctx, abort, j) {
			return
		}
	}
	p.persist(ctx, abort, j)
}

// fetch turns the search result into a fingerprinted record and merges it with any stored version.
func (p *Pipeline) fetch(ctx context.Context, abort context.CancelCauseFunc, query string, j *job) bool {
	paper, err := sources.Adapt(j.result, query, "", p.now())
	if err != nil {
		j.fail(StageFetched, "search result has nothing to fingerprint", err)
		return false
	}
	j.paper = paper

	existing, err := p.store.GetPaper(ctx, paper.Id)
	switch {
	case err == nil:
		j.existing = existing
		j.paper, _ = core.MergePaper(existing, paper)
	case errors.Is(err, storage.ErrNotFound):
	case ctx.Err() != nil:
		return false
	default:
		j.fail(StageFetched, "looking up stored paper", err)
		p.abortOn(abort, err)
		return false
	}
	return true
}

// extract fills in full text. Any failure leaves the paper with metadata only.
func (p *Pipeline) extract(ctx context.Context, j *job) bool {
	paper := j.paper
	url := paper.PDFURL
	if url == "" {
		url = paper.SourceURL
	}
	if paper.FullText != "" || p.extractor == nil || url == "" {
		j.stage = StageExtracted
		return true
	}

	text, err := call(ctx, p, func(ctx context.Context) (string, error) {
		return p.extractor.Extract(ctx, sources.Document{URL: url, Name: paper.Id.String()})
	})
	if ctx.Err() != nil {
		return false
	}
	switch {
	case err != nil:
		p.metrics.stageFailures.WithLabelValues(StageExtracted.String()).Inc()
		p.logger.Info("full text unavailable, continuing with metadata", "paper", paper.Id, "url", url, "err", err)
	case !sources.UsableText(text):
		p.logger.Info("extracted text too short, continuing with metadata", "paper", paper.Id, "runes", len([]rune(text)))
	default:
		paper.FullText = strings.TrimSpace(text)
	}
	j.stage = StageExtracted
	return true
}

// summarize summarizes the full text, or the abstract when there is none.
// Exhaustion stores the paper without a summary, flagged for reprocessing.
func (p *Pipeline) summarize(ctx context.Context, j *job) bool {
	paper := j.paper
	text := firstNonEmpty(paper.FullText, paper.Abstract, paper.Title)

	summary, err := call(ctx, p, func(ctx context.Context) (*ai.Summary, error) {
		return p.summarizer.Summarize(ctx, text, p.summaryOpts)
	})
	if ctx.Err() != nil {
		return false
	}
	if err == nil && (summary == nil || strings.TrimSpace(summary.Text) == "") {
		err = fmt.Errorf("%w: summarizer returned no text", core.ErrPersistentProvider)
	}
	if err != nil {
		paper.NeedsReprocessing = true
		j.degrade(StageSummarized, "summarization failed, flagged for reprocessing", err)
		p.logger.Warn("summarization failed", "paper", paper.Id, "err", err)
		j.stage = StageSummarized
		return true
	}

	paper.Summary = summary.Text
	paper.NeedsReprocessing = false
	if len(paper.Tags) == 0 {
		paper.Tags = summary.Tags
	}
	j.stage = StageSummarized
	return true
}

// extractConcepts extracts phrases from the summary and resolves them to concepts.
func (p *Pipeline) extractConcepts(ctx context.Context, abort context.CancelCauseFunc, j *job) bool {
	paper := j.paper
	text := firstNonEmpty(paper.Summary, paper.Abstract, paper.FullText)
	if text == "" {
		j.stage = StageConceptExtracted
		return true
	}

	extracted, err := call(ctx, p, func(ctx context.Context) ([]ai.ExtractedConcept, error) {
		return p.concepts.ExtractConcepts(ctx, text)
	})
	if ctx.Err() != nil {
		return false
	}
	if err != nil {
		j.degrade(StageConceptExtracted, "concept extraction failed", err)
		p.logger.Warn("concept extraction failed", "paper", paper.Id, "err", err)
		j.stage = StageConceptExtracted
		return true
	}

	resolution, err := p.linker.Resolve(ctx, paper.Id, extracted)
	if ctx.Err() != nil {
		return false
	}
	if err != nil {
		if fatal(err) {
			j.fail(StageConceptExtracted, "resolving concepts", err)
			p.abortOn(abort, err)
			return false
		}
		j.degrade(StageConceptExtracted, "resolving concepts", err)
		j.stage = StageConceptExtracted
		return true
	}
	for _, f := range resolution.Failures {
		j.degrade(StageConceptExtracted, fmt.Sprintf("concept %q skipped", f.Phrase), f.Err)
	}
	j.links = resolution.Links
	j.stage = StageConceptExtracted
	return true
}

// persist upserts the paper, then its links, then hands it to the exporter when the paper changed.
func (p *Pipeline) persist(ctx context.Context, abort context.CancelCauseFunc, j *job) {
	stored, change, err := p.store.UpsertPaper(ctx, j.paper)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		j.fail(StageStored, "storing paper", err)
		p.abortOn(abort, err)
		return
	}
	j.paper = stored
	j.stage = StageStored

	if len(j.links) > 0 {
		if err := p.store.UpsertLinks(ctx, j.links...); err != nil {
			j.degrade(StageStored, "storing concept links", err)
			p.abortOn(abort, err)
			j.links = nil
		}
	}

	// a duplicate later in the same batch merges into nothing new and is not exported again
	if change != semantic.Unchanged {
		p.export(ctx, stored)
	}
	p.logger.Debug("paper stored", "paper", stored.Id, "change", change, "concepts", len(j.links))
}

// export runs the exporter on a detached context so the batch never waits on it.
func (p *Pipeline) export(ctx context.Context, paper *core.PaperRecord) {
	if p.exporter == nil {
		return
	}
	p.exports.Add(1)
	go func() {
		defer p.exports.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.exportTimeout)
		defer cancel()

		refs, err := p.conceptRefs(ctx, paper.Id)
		if err == nil {
			err = p.exporter.Export(ctx, paper, refs)
		}
		if err != nil {
			p.metrics.exportFailures.Inc()
			p.logger.Error("export failed", "paper", paper.Id, "err", err)
		}
	}()
}

// conceptRefs loads the paper's concepts with their corpus-wide paper counts.
// Synonymous phrases collapse into one ref carrying the highest confidence.
func (p *Pipeline) conceptRefs(ctx context.Context, paperID core.ID) ([]export.ConceptRef, error) {
	links, err := p.store.LinksForPaper(ctx, paperID)
	if err != nil {
		return nil, err
	}
	refs := make([]export.ConceptRef, 0, len(links))
	for _, link := range links {
		if n := len(refs); n > 0 && refs[n-1].Concept.Id == link.ConceptId {
			refs[n-1].Confidence = max(refs[n-1].Confidence, link.Confidence)
			continue
		}
		concept, err := p.store.GetConcept(ctx, link.ConceptId)
		if err != nil {
			return nil, err
		}
		papers, err := p.store.PapersForConcept(ctx, link.ConceptId)
		if err != nil {
			return nil, err
		}
		refs = append(refs, export.ConceptRef{Concept: concept, Confidence: link.Confidence, PaperCount: len(papers)})
	}
	return refs, nil
}

func (p *Pipeline) abortOn(abort context.CancelCauseFunc, err error) {
	if fatal(err) {
		p.logger.Error("aborting batch", "err", err)
		abort(err)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
