// Package sources adapts external search providers and text extractors to paper records.
package sources

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/poiesic/athena/core"
)

// MinTextLength is the shortest extracted text treated as a paper's full text.
// Anything shorter is a failed extraction (cover pages, paywalls, error pages).
const MinTextLength = 300

// ErrNoText indicates an extractor produced no usable text.
var ErrNoText = errors.New("no usable text extracted")

// Result is one search hit as reported by a provider.
type Result struct {
	Title      string
	Authors    []string
	Abstract   string
	URL        string
	ExternalID string
	DOI        string
	PDFURL     string
	Venue      string
	Year       int
	FullText   string // Set by providers that return content inline
}

// Searcher finds papers for a query. An empty result is valid.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}

// Document is something to extract text from: a URL to fetch or bytes already in hand.
type Document struct {
	URL   string
	Bytes []byte

	// Name identifies the document in archives, usually the paper fingerprint.
	Name string
}

// Extractor turns a document into plain text.
type Extractor interface {
	Extract(ctx context.Context, doc Document) (string, error)
}

// UsableText reports whether text is long enough to stand in for a paper's full text.
func UsableText(text string) bool {
	return len([]rune(strings.TrimSpace(text))) >= MinTextLength
}

// Adapt normalizes a search result plus extracted text into a fingerprinted PaperRecord.
//
// fullText wins over text the provider returned inline; text shorter than
// MinTextLength is dropped. A result with nothing to fingerprint returns core.ErrInvalidInput.
func Adapt(r Result, query, fullText string, retrievedAt time.Time) (*core.PaperRecord, error) {
	paper := &core.PaperRecord{
		DOI:         core.NormalizeDOI(r.DOI),
		ExternalID:  strings.TrimSpace(r.ExternalID),
		Title:       collapse(r.Title),
		Authors:     cleanAuthors(r.Authors),
		Abstract:    strings.TrimSpace(r.Abstract),
		SourceURL:   strings.TrimSpace(r.URL),
		PDFURL:      strings.TrimSpace(r.PDFURL),
		Venue:       collapse(r.Venue),
		Year:        r.Year,
		Query:       strings.TrimSpace(query),
		RetrievedAt: retrievedAt.UTC(),
	}
	if paper.PDFURL == "" {
		paper.PDFURL = PDFURL(paper.SourceURL)
	}
	switch {
	case UsableText(fullText):
		paper.FullText = strings.TrimSpace(fullText)
	case UsableText(r.FullText):
		paper.FullText = strings.TrimSpace(r.FullText)
	}

	id, err := core.Fingerprint(paper)
	if err != nil {
		return nil, err
	}
	paper.Id = id
	return paper, nil
}

// PDFURL derives a direct PDF link from a landing page URL. Returns "" when unknown.
func PDFURL(url string) string {
	url = strings.TrimSpace(url)
	lower := strings.ToLower(url)
	switch {
	case lower == "":
		return ""
	case strings.HasSuffix(lower, ".pdf"):
		return url
	case strings.Contains(lower, "arxiv.org/abs/"):
		id := url[strings.Index(lower, "/abs/")+len("/abs/"):]
		if q := strings.IndexAny(id, "?#"); q >= 0 {
			id = id[:q]
		}
		return "https://arxiv.org/pdf/" + id + ".pdf"
	case strings.Contains(lower, "arxiv.org/pdf/"):
		if q := strings.IndexAny(url, "?#"); q >= 0 {
			url = url[:q]
		}
		return url + ".pdf"
	}
	return ""
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func cleanAuthors(authors []string) []string {
	out := make([]string, 0, len(authors))
	for _, a := range authors {
		if a = collapse(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}
