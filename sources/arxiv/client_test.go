package arxiv

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/poiesic/athena/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom" xmlns:arxiv="http://arxiv.org/schemas/atom">
  <entry>
    <id>http://arxiv.org/abs/1706.03762v7</id>
    <published>2017-06-12T17:57:34Z</published>
    <title>Attention Is All
      You Need</title>
    <summary>  The dominant sequence transduction models are based on complex recurrent networks.  </summary>
    <author><name>Ashish Vaswani</name></author>
    <author><name>Noam Shazeer</name></author>
    <arxiv:doi>10.48550/arXiv.1706.03762</arxiv:doi>
    <arxiv:journal_ref>NeurIPS 2017</arxiv:journal_ref>
    <link href="http://arxiv.org/abs/1706.03762v7" rel="alternate" type="text/html"/>
    <link title="pdf" href="http://arxiv.org/pdf/1706.03762v7" rel="related" type="application/pdf"/>
  </entry>
  <entry>
    <id>not-an-arxiv-id</id>
    <title>Skipped</title>
  </entry>
</feed>`

func TestSearchParsesFeed(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("search_query")
		assert.Equal(t, "5", r.URL.Query().Get("max_results"))
		w.Header().Set("Content-Type", "application/atom+xml")
		_, _ = w.Write([]byte(sampleFeed))
	}))
	defer server.Close()

	results, err := New(WithBaseURL(server.URL)).Search(context.Background(), "attention  transformers", 5)
	require.NoError(t, err)
	assert.Equal(t, "all:attention AND all:transformers", gotQuery)

	require.Len(t, results, 1)
	r := results[0]
	assert.Equal(t, "Attention Is All You Need", r.Title)
	assert.Equal(t, "arxiv:1706.03762", r.ExternalID)
	assert.Equal(t, []string{"Ashish Vaswani", "Noam Shazeer"}, r.Authors)
	assert.Equal(t, "10.48550/arXiv.1706.03762", r.DOI)
	assert.Equal(t, "NeurIPS 2017", r.Venue)
	assert.Equal(t, "http://arxiv.org/pdf/1706.03762v7", r.PDFURL)
	assert.Equal(t, 2017, r.Year)
	assert.Equal(t, "The dominant sequence transduction models are based on complex recurrent networks.", r.Abstract)
}

func TestSearchErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := New(WithBaseURL(server.URL)).Search(context.Background(), "q", 5)
	assert.ErrorIs(t, err, core.ErrTransientProvider)

	_, err = New().Search(context.Background(), "   ", 5)
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestExtractID(t *testing.T) {
	assert.Equal(t, "2301.07041", extractID("http://arxiv.org/abs/2301.07041v1"))
	assert.Equal(t, "hep-th/9901001", extractID("http://arxiv.org/abs/hep-th/9901001v2"))
	assert.Equal(t, "", extractID("https://example.com/abs/nothing"))
}
