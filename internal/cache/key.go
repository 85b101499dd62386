package cache

import (
	"encoding/binary"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Key derives the cache key of a recognition from the encoded image bytes,
// the token limit and the model identity.
func Key(model string, image []byte, maxTokens int) string {
	h := xxhash.New()

	_, _ = h.WriteString(model)
	_, _ = h.WriteString("|")

	_, _ = h.WriteString("t:")
	var tokenBuf [4]byte
	binary.BigEndian.PutUint32(tokenBuf[:], uint32(int32(maxTokens)))
	_, _ = h.Write(tokenBuf[:])
	_, _ = h.WriteString("|")

	_, _ = h.WriteString("i:")
	_, _ = h.Write(image)

	return "ocr:" + strconv.FormatUint(h.Sum64(), 16)
}
