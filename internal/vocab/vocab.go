// Package vocab maps decoder token ids back to text fragments.
package vocab

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

// SpecialTokenThreshold is the first id that carries text. Ids below it are
// reserved control tokens (pad, start, end, ...).
const SpecialTokenThreshold = 5

// Vocabulary is an immutable, ordered list of text fragments indexed by
// token id. It is safe for concurrent use.
type Vocabulary struct {
	fragments []string
}

// New creates a Vocabulary from fragments. The slice is copied.
func New(fragments []string) *Vocabulary {
	cp := make([]string, len(fragments))
	copy(cp, fragments)
	return &Vocabulary{fragments: cp}
}

// Load reads a vocabulary file. See Parse for the accepted formats.
func Load(path string) (*Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading vocabulary: %w", err)
	}
	return Parse(data)
}

// Parse decodes a JSON vocabulary. Two layouts are accepted: an array of
// fragments, or an object keyed by decimal token id. Ids missing from an
// object decode to empty fragments.
func Parse(data []byte) (*Vocabulary, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("parsing vocabulary: empty input")
	}

	switch data[0] {
	case '[':
		var fragments []string
		if err := json.Unmarshal(data, &fragments); err != nil {
			return nil, fmt.Errorf("parsing vocabulary array: %w", err)
		}
		return &Vocabulary{fragments: fragments}, nil
	case '{':
		var raw map[string]string
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parsing vocabulary object: %w", err)
		}
		return fromMap(raw)
	default:
		return nil, fmt.Errorf("parsing vocabulary: expected JSON array or object")
	}
}

func fromMap(raw map[string]string) (*Vocabulary, error) {
	maxID := -1
	ids := make(map[int]string, len(raw))
	for k, v := range raw {
		id, err := strconv.Atoi(k)
		if err != nil || id < 0 {
			return nil, fmt.Errorf("invalid token ID %q", k)
		}
		ids[id] = v
		if id > maxID {
			maxID = id
		}
	}

	fragments := make([]string, maxID+1)
	for id, v := range ids {
		fragments[id] = v
	}
	return &Vocabulary{fragments: fragments}, nil
}

// Size returns the number of entries.
func (v *Vocabulary) Size() int {
	return len(v.fragments)
}

// Fragment returns the text for id, or false when id is out of range.
func (v *Vocabulary) Fragment(id int) (string, bool) {
	if id < 0 || id >= len(v.fragments) {
		return "", false
	}
	return v.fragments[id], true
}

// DecodeTokens concatenates the fragments of ids in order. Control tokens
// and ids outside the vocabulary are skipped.
func (v *Vocabulary) DecodeTokens(ids []int32) string {
	var b strings.Builder
	b.Grow(len(ids) * 3)
	for _, id := range ids {
		if id < SpecialTokenThreshold {
			continue
		}
		if frag, ok := v.Fragment(int(id)); ok {
			b.WriteString(frag)
		}
	}
	return b.String()
}
