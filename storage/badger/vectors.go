package badger

import (
	"bytes"
	"cmp"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/athena/core"
	"github.com/poiesic/athena/storage"
)

// Vectors live in their own key space next to the records they belong to, so a
// similarity scan never decodes paper bodies. An entry is the record's insertion
// time followed by the length-prefixed vector.

type vectorEntry struct {
	insertedAt time.Time
	vector     []float32
}

func marshalVectorEntry(insertedAt time.Time, vector []float32) []byte {
	nanos := insertedAt.UnixNano()
	size := varint.Int64.Size(nanos) + varint.Int.Size(len(vector))
	for _, f := range vector {
		size += raw.Float32.Size(f)
	}
	buf := make([]byte, size)
	n := varint.Int64.Marshal(nanos, buf)
	n += varint.Int.Marshal(len(vector), buf[n:])
	for _, f := range vector {
		n += raw.Float32.Marshal(f, buf[n:])
	}
	return buf
}

func unmarshalVectorEntry(data []byte) (vectorEntry, error) {
	var entry vectorEntry
	nanos, n, err := varint.Int64.Unmarshal(data)
	if err != nil {
		return entry, err
	}
	length, m, err := varint.Int.Unmarshal(data[n:])
	if err != nil {
		return entry, err
	}
	n += m
	if length < 0 || length > len(data)-n {
		return entry, core.ErrCorruptRecord
	}
	entry.insertedAt = time.Unix(0, nanos).UTC()
	entry.vector = make([]float32, length)
	for i := range entry.vector {
		f, m, err := raw.Float32.Unmarshal(data[n:])
		if err != nil {
			return entry, err
		}
		entry.vector[i] = f
		n += m
	}
	return entry, nil
}

// vectorHit is one candidate from a similarity scan.
type vectorHit struct {
	id         core.ID
	score      float32
	insertedAt time.Time
}

// findSimilar scans every vector under prefix and returns the best matches.
// Vectors whose dimension differs from the query are skipped.
// Hits are ordered by score descending, then by most recent insertion.
func (b *Backend) findSimilar(prefix string, vector []float32, minSimilarity float32, limit int) ([]vectorHit, error) {
	if len(vector) == 0 || limit <= 0 {
		return nil, storage.ErrInvalidQuery
	}

	var hits []vectorHit
	err := b.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		skipped := 0
		for iter.Rewind(); iter.Valid(); iter.Next() {
			item := iter.Item()
			id, ok := idFromKey(prefix, item.Key())
			if !ok {
				continue
			}

			var entry vectorEntry
			err := item.Value(func(val []byte) error {
				var err error
				entry, err = unmarshalVectorEntry(val)
				return err
			})
			if err != nil {
				return err
			}
			if len(entry.vector) != len(vector) {
				skipped++
				continue
			}

			similarity := dotProduct(vector, entry.vector)
			if similarity >= minSimilarity {
				hits = append(hits, vectorHit{id: id, score: similarity, insertedAt: entry.insertedAt})
			}
		}
		if skipped > 0 {
			b.logger.Warn("skipped vectors with mismatched dimension", "prefix", prefix, "count", skipped)
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}

	slices.SortFunc(hits, func(a, b vectorHit) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		if c := b.insertedAt.Compare(a.insertedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.id, b.id)
	})

	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// listIDs returns up to limit IDs under prefix greater than after, in key order.
func (b *Backend) listIDs(prefix string, after core.ID, limit int) ([]core.ID, error) {
	var ids []core.ID
	err := b.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Seek(makeIDKey(prefix, after)); iter.Valid(); iter.Next() {
			key := iter.Item().Key()
			if !bytes.HasPrefix(key, []byte(prefix)) {
				break
			}
			id, ok := idFromKey(prefix, key)
			if !ok || id <= after {
				continue
			}
			ids = append(ids, id)
			if limit > 0 && len(ids) >= limit {
				break
			}
		}
		return nil
	}, false)
	return ids, err
}

// dotProduct calculates the dot product of two vectors.
func dotProduct(a, b []float32) float32 {
	var sum float32
	minLen := len(a)
	if len(b) < minLen {
		minLen = len(b)
	}
	for i := 0; i < minLen; i++ {
		sum += a[i] * b[i]
	}
	return sum
}
