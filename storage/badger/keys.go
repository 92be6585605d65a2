package badger

import (
	"encoding/binary"
	"strings"

	"github.com/poiesic/athena/core"
)

// Key prefixes for different data types.
// IDs are written big-endian so lexicographic order matches numeric order.
const (
	paperPrefix         = "paper:"
	conceptPrefix       = "concept:"
	conceptIDSeq        = "seq:concept"
	paperVectorPrefix   = "vec:p:"
	conceptVectorPrefix = "vec:c:"
	linkByPaperPrefix   = "link:p:"
	linkByConceptPrefix = "link:c:"
	schemaKey           = "meta:schema"
	checkpointPrefix    = "chkpt:"
	cachePrefix         = "cache:"
)

// makeIDKey generates a key of the form prefix + id.
func makeIDKey(prefix string, id core.ID) []byte {
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(id))
	return buf
}

// makePairKey generates a composite key of the form prefix + first + second.
func makePairKey(prefix string, first, second core.ID) []byte {
	buf := make([]byte, len(prefix)+16)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(first))
	offset += 8
	binary.BigEndian.PutUint64(buf[offset:], uint64(second))
	return buf
}

// idFromKey extracts the 8-byte ID that follows prefix.
func idFromKey(prefix string, key []byte) (core.ID, bool) {
	if len(key) < len(prefix)+8 {
		return 0, false
	}
	return core.ID(binary.BigEndian.Uint64(key[len(prefix):])), true
}

// pairFromKey extracts both IDs of a composite key.
func pairFromKey(prefix string, key []byte) (core.ID, core.ID, bool) {
	if len(key) != len(prefix)+16 {
		return 0, 0, false
	}
	first := core.ID(binary.BigEndian.Uint64(key[len(prefix):]))
	second := core.ID(binary.BigEndian.Uint64(key[len(prefix)+8:]))
	return first, second, true
}

func makePaperKey(id core.ID) []byte         { return makeIDKey(paperPrefix, id) }
func makeConceptKey(id core.ID) []byte       { return makeIDKey(conceptPrefix, id) }
func makePaperVectorKey(id core.ID) []byte   { return makeIDKey(paperVectorPrefix, id) }
func makeConceptVectorKey(id core.ID) []byte { return makeIDKey(conceptVectorPrefix, id) }

// makePaperLinkKey generates the paper-side link key.
// Format: prefix:paperID:conceptID:phraseHash
// The phrase hash is case-insensitive and 0 for links without a phrase.
func makePaperLinkKey(paperID, conceptID core.ID, phrase string) []byte {
	pair := makePairKey(linkByPaperPrefix, paperID, conceptID)
	var hash core.ID
	if phrase = strings.ToLower(strings.TrimSpace(phrase)); phrase != "" {
		hash = core.IDFromContent(phrase)
	}
	return binary.BigEndian.AppendUint64(pair, uint64(hash))
}

// conceptFromPaperLinkKey extracts the concept ID of a paper-side link key.
func conceptFromPaperLinkKey(key []byte) (core.ID, bool) {
	if len(key) != len(linkByPaperPrefix)+24 {
		return 0, false
	}
	return core.ID(binary.BigEndian.Uint64(key[len(linkByPaperPrefix)+8:])), true
}

// makeConceptLinkKey generates the concept-side link key.
// Format: prefix:conceptID:paperID
func makeConceptLinkKey(conceptID, paperID core.ID) []byte {
	return makePairKey(linkByConceptPrefix, conceptID, paperID)
}

// makeCheckpointKey generates a key for job checkpoints.
func makeCheckpointKey(name string) []byte {
	return []byte(checkpointPrefix + name)
}

// makeCacheKey generates a key for cache entries.
func makeCacheKey(key string) []byte {
	return []byte(cachePrefix + key)
}
