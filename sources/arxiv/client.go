// Package arxiv searches papers through the arXiv Atom API.
package arxiv

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/poiesic/athena/core"
	"github.com/poiesic/athena/sources"
)

// DefaultBaseURL is the arXiv query endpoint.
const DefaultBaseURL = "https://export.arxiv.org/api/query"

// Client implements sources.Searcher against arXiv.
type Client struct {
	baseURL   string
	http      *http.Client
	userAgent string
	logger    *slog.Logger
}

var _ sources.Searcher = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another server.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.http = client }
}

// New creates an arXiv client.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL:   DefaultBaseURL,
		http:      &http.Client{Timeout: 30 * time.Second},
		userAgent: "athena/1.0",
		logger:    slog.Default().With("component", "arxiv"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Search queries arXiv for query across all fields, most relevant first.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]sources.Result, error) {
	terms := strings.Fields(query)
	if len(terms) == 0 {
		return nil, fmt.Errorf("%w: empty query", core.ErrInvalidInput)
	}
	if maxResults <= 0 {
		return []sources.Result{}, nil
	}

	params := url.Values{}
	params.Set("search_query", "all:"+strings.Join(terms, " AND all:"))
	params.Set("start", "0")
	params.Set("max_results", strconv.Itoa(maxResults))
	params.Set("sortBy", "relevance")
	params.Set("sortOrder", "descending")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidInput, err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, sources.TransportError(err, "arxiv")
	}
	defer resp.Body.Close()

	if err := sources.CheckResponse(resp, "arxiv"); err != nil {
		return nil, err
	}

	var f feed
	if err := xml.NewDecoder(resp.Body).Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: parsing arXiv response: %w", core.ErrTransientProvider, err)
	}

	results := make([]sources.Result, 0, len(f.Entries))
	for _, e := range f.Entries {
		id := extractID(e.ID)
		if id == "" {
			continue
		}
		r := sources.Result{
			Title:      collapse(e.Title),
			Abstract:   collapse(e.Summary),
			URL:        strings.TrimSpace(e.ID),
			ExternalID: "arxiv:" + id,
			DOI:        strings.TrimSpace(e.DOI),
			Venue:      collapse(e.JournalRef),
		}
		for _, a := range e.Authors {
			r.Authors = append(r.Authors, strings.TrimSpace(a.Name))
		}
		for _, l := range e.Links {
			if l.Title == "pdf" || l.Type == "application/pdf" {
				r.PDFURL = l.Href
			}
		}
		if r.PDFURL == "" {
			r.PDFURL = sources.PDFURL(r.URL)
		}
		if t, err := time.Parse(time.RFC3339, strings.TrimSpace(e.Published)); err == nil {
			r.Year = t.Year()
		}
		results = append(results, r)
	}
	c.logger.Info("arxiv search finished", "query", query, "results", len(results))
	return results, nil
}

// Atom feed structures. Element names match regardless of namespace.
type feed struct {
	Entries []entry `xml:"entry"`
}

type entry struct {
	ID         string   `xml:"id"`
	Title      string   `xml:"title"`
	Summary    string   `xml:"summary"`
	Published  string   `xml:"published"`
	DOI        string   `xml:"doi"`
	JournalRef string   `xml:"journal_ref"`
	Authors    []author `xml:"author"`
	Links      []link   `xml:"link"`
}

type author struct {
	Name string `xml:"name"`
}

type link struct {
	Href  string `xml:"href,attr"`
	Title string `xml:"title,attr"`
	Type  string `xml:"type,attr"`
}

// extractID pulls the version-less arXiv id from an entry id URL
// (e.g. "http://arxiv.org/abs/2301.07041v1" -> "2301.07041").
func extractID(idURL string) string {
	return core.NormalizeArxivID(idURL)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
