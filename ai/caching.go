package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/poiesic/athena/core"
	"github.com/poiesic/athena/storage"
)

// CachingSummarizer memoizes summaries by model and text hash.
// Cache failures are logged and never fail a summary.
type CachingSummarizer struct {
	next   Summarizer
	cache  storage.Cache
	ttl    time.Duration
	logger *slog.Logger
}

var _ Summarizer = (*CachingSummarizer)(nil)

// NewCachingSummarizer wraps next with cache. A ttl of 0 keeps entries indefinitely.
func NewCachingSummarizer(next Summarizer, cache storage.Cache, ttl time.Duration) *CachingSummarizer {
	return &CachingSummarizer{
		next:   next,
		cache:  cache,
		ttl:    ttl,
		logger: slog.Default().With("component", "summary-cache"),
	}
}

// Summarize returns a cached summary or generates and caches a new one.
func (c *CachingSummarizer) Summarize(ctx context.Context, text string, opts SummaryOptions) (*Summary, error) {
	key := SummaryCacheKey(text, opts)

	if data, ok, err := c.cache.Get(ctx, key); err != nil {
		c.logger.Warn("summary cache read failed", "err", err)
	} else if ok {
		var summary Summary
		if err := json.Unmarshal(data, &summary); err == nil {
			c.logger.Debug("summary cache hit", "key", key)
			return &summary, nil
		}
		c.logger.Warn("discarding unreadable summary cache entry", "key", key)
	}

	summary, err := c.next.Summarize(ctx, text, opts)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(summary)
	if err == nil {
		err = c.cache.Put(ctx, key, data, c.ttl)
	}
	if err != nil {
		c.logger.Warn("summary cache write failed", "err", err)
	}
	return summary, nil
}

// SummaryCacheKey identifies a summary by the text and the settings that shape it.
func SummaryCacheKey(text string, opts SummaryOptions) string {
	settings := opts.Model + "|" + strconv.FormatFloat(opts.Temperature, 'f', -1, 64) + "|" + strconv.Itoa(opts.MaxTokens)
	return fmt.Sprintf("summary:%s:%s", core.IDFromContent(settings), core.IDFromContent(text))
}
