package sources

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/poiesic/athena/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdapt(t *testing.T) {
	retrieved := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	longText := strings.Repeat("word ", 100)

	paper, err := Adapt(Result{
		Title:    "  Attention   Is All You Need ",
		Authors:  []string{" Ashish  Vaswani", "", "Noam Shazeer"},
		Abstract: " The dominant sequence transduction models... ",
		URL:      "https://arxiv.org/abs/1706.03762v5",
		DOI:      "https://doi.org/10.48550/arXiv.1706.03762",
		Year:     2017,
	}, " transformers ", longText, retrieved)
	require.NoError(t, err)

	assert.Equal(t, "Attention Is All You Need", paper.Title)
	assert.Equal(t, []string{"Ashish Vaswani", "Noam Shazeer"}, paper.Authors)
	assert.Equal(t, "10.48550/arxiv.1706.03762", paper.DOI)
	assert.Equal(t, "https://arxiv.org/pdf/1706.03762v5.pdf", paper.PDFURL)
	assert.Equal(t, "transformers", paper.Query)
	assert.Equal(t, strings.TrimSpace(longText), paper.FullText)
	assert.Equal(t, retrieved, paper.RetrievedAt)
	assert.Equal(t, core.IDFromContent("arxiv:1706.03762"), paper.Id)
}

func TestAdaptDropsShortText(t *testing.T) {
	paper, err := Adapt(Result{Title: "Short", FullText: "too short"}, "q", "also short", time.Now())
	require.NoError(t, err)
	assert.Empty(t, paper.FullText)

	inline := strings.Repeat("x", MinTextLength)
	paper, err = Adapt(Result{Title: "Inline", FullText: inline}, "q", "", time.Now())
	require.NoError(t, err)
	assert.Equal(t, inline, paper.FullText)
}

func TestAdaptWithoutIdentity(t *testing.T) {
	_, err := Adapt(Result{URL: "https://example.com"}, "q", "", time.Now())
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestPDFURL(t *testing.T) {
	tests := []struct{ in, want string }{
		{"https://arxiv.org/abs/2301.07041", "https://arxiv.org/pdf/2301.07041.pdf"},
		{"https://arxiv.org/abs/2301.07041v2?context=cs", "https://arxiv.org/pdf/2301.07041v2.pdf"},
		{"https://arxiv.org/pdf/2301.07041", "https://arxiv.org/pdf/2301.07041.pdf"},
		{"https://example.com/paper.PDF", "https://example.com/paper.PDF"},
		{"https://example.com/landing", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PDFURL(tt.in), tt.in)
	}
}

func TestCheckResponse(t *testing.T) {
	respond := func(code int) *http.Response {
		return &http.Response{StatusCode: code, Body: io.NopCloser(strings.NewReader("details"))}
	}
	assert.NoError(t, CheckResponse(respond(200), "svc"))
	assert.ErrorIs(t, CheckResponse(respond(429), "svc"), core.ErrTransientProvider)
	assert.ErrorIs(t, CheckResponse(respond(503), "svc"), core.ErrTransientProvider)
	assert.ErrorIs(t, CheckResponse(respond(401), "svc"), core.ErrInvalidInput)
	assert.Contains(t, CheckResponse(respond(404), "svc").Error(), "details")
}
