// Package tika extracts paper text by downloading PDFs and handing them to an Apache Tika server.
package tika

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/poiesic/athena/core"
	"github.com/poiesic/athena/sources"
)

// maxDocumentBytes bounds a downloaded PDF.
const maxDocumentBytes = 64 << 20

// Archive keeps a copy of every document the extractor fetched.
type Archive interface {
	Put(ctx context.Context, name string, data []byte) error
}

// Extractor implements sources.Extractor with a Tika server.
type Extractor struct {
	serverURL string
	http      *http.Client
	archive   Archive
	minLength int
	logger    *slog.Logger
}

var _ sources.Extractor = (*Extractor)(nil)

// Option configures an Extractor.
type Option func(*Extractor)

// WithHTTPClient replaces the HTTP client used for downloads and Tika calls.
func WithHTTPClient(client *http.Client) Option {
	return func(e *Extractor) { e.http = client }
}

// WithArchive stores each downloaded document before extraction.
func WithArchive(archive Archive) Option {
	return func(e *Extractor) { e.archive = archive }
}

// WithMinLength overrides the minimum accepted text length in characters.
func WithMinLength(n int) Option {
	return func(e *Extractor) { e.minLength = n }
}

// New creates an extractor for the Tika server at serverURL.
func New(serverURL string, opts ...Option) (*Extractor, error) {
	if strings.TrimSpace(serverURL) == "" {
		return nil, fmt.Errorf("%w: tika server URL is required", core.ErrInvalidInput)
	}
	e := &Extractor{
		serverURL: strings.TrimSuffix(serverURL, "/"),
		http:      &http.Client{Timeout: 2 * time.Minute},
		minLength: sources.MinTextLength,
		logger:    slog.Default().With("component", "tika"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Extract returns the plain text of doc. Text shorter than the minimum length
// is reported as sources.ErrNoText.
func (e *Extractor) Extract(ctx context.Context, doc sources.Document) (string, error) {
	data := doc.Bytes
	if len(data) == 0 {
		if doc.URL == "" {
			return "", fmt.Errorf("%w: document has neither bytes nor URL", core.ErrInvalidInput)
		}
		var err error
		if data, err = e.download(ctx, doc.URL); err != nil {
			return "", err
		}
	}

	if e.archive != nil {
		if err := e.archive.Put(ctx, doc.Name, data); err != nil {
			e.logger.Warn("failed to archive document", "name", doc.Name, "err", err)
		}
	}

	text, err := e.parse(ctx, data)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if len([]rune(text)) < e.minLength {
		return "", fmt.Errorf("%w: %d characters from %s", sources.ErrNoText, len([]rune(text)), describe(doc))
	}
	e.logger.Debug("extracted text", "document", describe(doc), "length", len(text))
	return text, nil
}

func (e *Extractor) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidInput, err)
	}
	resp, err := e.http.Do(req)
	if err != nil {
		return nil, sources.TransportError(err, "pdf download")
	}
	defer resp.Body.Close()
	if err := sources.CheckResponse(resp, "pdf download"); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, sources.TransportError(err, "pdf download")
	}
	return data, nil
}

func (e *Extractor) parse(ctx context.Context, data []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, e.serverURL+"/tika", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %w", core.ErrInvalidInput, err)
	}
	req.Header.Set("Accept", "text/plain")
	req.Header.Set("Content-Type", "application/pdf")

	resp, err := e.http.Do(req)
	if err != nil {
		return "", sources.TransportError(err, "tika")
	}
	defer resp.Body.Close()
	if err := sources.CheckResponse(resp, "tika"); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, resp.Body); err != nil {
		return "", sources.TransportError(err, "tika")
	}
	return buf.String(), nil
}

func describe(doc sources.Document) string {
	if doc.Name != "" {
		return doc.Name
	}
	if doc.URL != "" {
		return doc.URL
	}
	return "document"
}
