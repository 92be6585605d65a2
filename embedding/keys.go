package embedding

import (
	"encoding/hex"

	"github.com/go-crypt/x/blake2b"
)

// cacheKey identifies a vector by model, kind, prefix and text.
func (s *Service) cacheKey(kind Kind, text string) string {
	h, _ := blake2b.New(16, nil)
	h.Write([]byte(s.prefixes[kind]))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return "emb:" + s.model + ":" + kind.String() + ":" + hex.EncodeToString(h.Sum(nil))
}
