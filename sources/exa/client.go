// Package exa searches papers through the Exa neural search API.
package exa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/poiesic/athena/core"
	"github.com/poiesic/athena/sources"
)

// DefaultBaseURL is the hosted Exa API.
const DefaultBaseURL = "https://api.exa.ai"

const pageSize = 10

// Client implements sources.Searcher against Exa.
type Client struct {
	baseURL       string
	apiKey        string
	http          *http.Client
	domains       []string
	startYear     int
	endYear       int
	liveCrawl     string
	fetchContents bool
	logger        *slog.Logger
}

var _ sources.Searcher = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another server.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(url, "/") }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.http = client }
}

// WithDomains restricts results to the given domains. Defaults to arxiv.org.
func WithDomains(domains ...string) Option {
	return func(c *Client) { c.domains = domains }
}

// WithYears restricts results to a publication year range. 0 leaves a bound open.
func WithYears(start, end int) Option {
	return func(c *Client) {
		c.startYear = start
		c.endYear = end
	}
}

// WithLiveCrawl sets the livecrawl mode ("always", "fallback", "never").
func WithLiveCrawl(mode string) Option {
	return func(c *Client) { c.liveCrawl = mode }
}

// WithContents controls whether full content is fetched for each hit.
func WithContents(enabled bool) Option {
	return func(c *Client) { c.fetchContents = enabled }
}

// New creates an Exa client.
func New(apiKey string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("%w: exa API key is required", core.ErrInvalidInput)
	}
	c := &Client{
		baseURL:       DefaultBaseURL,
		apiKey:        apiKey,
		http:          &http.Client{Timeout: 30 * time.Second},
		domains:       []string{"arxiv.org"},
		startYear:     2000,
		liveCrawl:     "always",
		fetchContents: true,
		logger:        slog.Default().With("component", "exa"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type searchRequest struct {
	Query          string   `json:"query"`
	NumResults     int      `json:"numResults"`
	Offset         int      `json:"offset"`
	LiveCrawl      string   `json:"livecrawl,omitempty"`
	IncludeDomains []string `json:"includeDomains,omitempty"`
	StartYear      int      `json:"startYear,omitempty"`
	EndYear        int      `json:"endYear,omitempty"`
}

type searchResult struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	URL           string `json:"url"`
	Author        string `json:"author"`
	PublishedDate string `json:"publishedDate"`
	Extract       string `json:"extract"`
	Summary       string `json:"summary"`
	Text          string `json:"text"`
}

type searchResponse struct {
	Results []searchResult `json:"results"`
}

type contentsResult struct {
	Content  string `json:"content"`
	Text     string `json:"text"`
	Metadata struct {
		Year int `json:"year"`
	} `json:"metadata"`
}

type contentsResponse struct {
	Results []contentsResult `json:"results"`
}

// Search pages through Exa results until maxResults hits or an empty page.
// A failure on the first page is returned; later failures end the search early.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]sources.Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", core.ErrInvalidInput)
	}
	if maxResults <= 0 {
		return []sources.Result{}, nil
	}

	endYear := c.endYear
	if endYear == 0 {
		endYear = time.Now().Year()
	}

	var hits []searchResult
	for len(hits) < maxResults {
		req := searchRequest{
			Query:          query,
			NumResults:     min(pageSize, maxResults-len(hits)),
			Offset:         len(hits),
			LiveCrawl:      c.liveCrawl,
			IncludeDomains: c.domains,
			StartYear:      c.startYear,
			EndYear:        endYear,
		}
		var resp searchResponse
		if err := c.post(ctx, "/search", req, &resp); err != nil {
			if len(hits) == 0 {
				return nil, err
			}
			c.logger.Warn("stopping pagination after failed page", "query", query, "offset", len(hits), "err", err)
			break
		}
		if len(resp.Results) == 0 {
			break
		}
		hits = append(hits, resp.Results...)
	}
	if len(hits) > maxResults {
		hits = hits[:maxResults]
	}

	results := make([]sources.Result, 0, len(hits))
	for _, hit := range hits {
		if strings.TrimSpace(hit.Title) == "" || strings.TrimSpace(hit.URL) == "" {
			continue
		}
		results = append(results, c.toResult(ctx, hit))
	}
	c.logger.Info("exa search finished", "query", query, "results", len(results))
	return results, nil
}

func (c *Client) toResult(ctx context.Context, hit searchResult) sources.Result {
	r := sources.Result{
		Title:      strings.TrimSpace(hit.Title),
		URL:        hit.URL,
		Authors:    FilterAuthors(hit.Author),
		Abstract:   firstNonEmpty(hit.Extract, hit.Summary),
		ExternalID: hit.ID,
		PDFURL:     sources.PDFURL(hit.URL),
		Year:       yearOf(hit.PublishedDate),
		FullText:   hit.Text,
	}
	if id := core.NormalizeArxivID(hit.URL); id != "" {
		r.ExternalID = "arxiv:" + id
	}
	if c.fetchContents && hit.ID != "" {
		contents, err := c.contents(ctx, hit.ID)
		if err != nil {
			c.logger.Warn("failed to fetch contents", "id", hit.ID, "err", err)
			return r
		}
		if text := firstNonEmpty(contents.Content, contents.Text); text != "" {
			r.FullText = text
		}
		if contents.Metadata.Year != 0 {
			r.Year = contents.Metadata.Year
		}
	}
	return r
}

func (c *Client) contents(ctx context.Context, id string) (*contentsResult, error) {
	var resp contentsResponse
	if err := c.post(ctx, "/contents", map[string][]string{"ids": {id}}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return &contentsResult{}, nil
	}
	return &resp.Results[0], nil
}

func (c *Client) post(ctx context.Context, path string, body, dst any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrInvalidInput, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return sources.TransportError(err, "exa")
	}
	defer resp.Body.Close()

	if err := sources.CheckResponse(resp, "exa"); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: decoding exa response: %w", core.ErrTransientProvider, err)
	}
	return nil
}

// FilterAuthors splits Exa's comma-separated author field and keeps entries that
// look like names: no e-mail addresses, one to four words, alphabetic words capitalised.
func FilterAuthors(field string) []string {
	authors := []string{}
	for _, item := range strings.Split(field, ",") {
		item = strings.TrimSpace(item)
		if item == "" || strings.Contains(item, "@") {
			continue
		}
		words := strings.Fields(item)
		if len(words) < 1 || len(words) > 4 || !capitalised(words) {
			continue
		}
		authors = append(authors, strings.Join(words, " "))
	}
	return authors
}

func capitalised(words []string) bool {
	for _, w := range words {
		if !isAlpha(w) {
			continue
		}
		if first := []rune(w)[0]; !unicode.IsUpper(first) {
			return false
		}
	}
	return true
}

func isAlpha(w string) bool {
	for _, r := range w {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return w != ""
}

// yearOf reads the year from an ISO date such as "2023-05-01T00:00:00.000Z".
func yearOf(date string) int {
	if len(date) < 4 {
		return 0
	}
	year, err := strconv.Atoi(date[:4])
	if err != nil {
		return 0
	}
	return year
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
