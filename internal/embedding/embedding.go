// Package embedding holds the decoder's token embedding table.
package embedding

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Table is an immutable token_id -> vector lookup of shape [vocab, hidden].
type Table struct {
	data   []float32
	vocab  int
	hidden int
}

// FromBytes decodes a little-endian float32 table. The byte length must be
// exactly vocab*hidden*4.
func FromBytes(data []byte, vocab, hidden int) (*Table, error) {
	if vocab <= 0 || hidden <= 0 {
		return nil, fmt.Errorf("invalid embedding shape [%d, %d]", vocab, hidden)
	}
	want := vocab * hidden * 4
	if len(data) != want {
		return nil, fmt.Errorf("embedding table has wrong size: got %d bytes, expected %d", len(data), want)
	}

	values := make([]float32, vocab*hidden)
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return &Table{data: values, vocab: vocab, hidden: hidden}, nil
}

// FromFloats wraps an existing slice of length vocab*hidden. The slice is
// copied.
func FromFloats(values []float32, vocab, hidden int) (*Table, error) {
	if vocab <= 0 || hidden <= 0 {
		return nil, fmt.Errorf("invalid embedding shape [%d, %d]", vocab, hidden)
	}
	if len(values) != vocab*hidden {
		return nil, fmt.Errorf("embedding table has wrong size: got %d floats, expected %d", len(values), vocab*hidden)
	}
	cp := make([]float32, len(values))
	copy(cp, values)
	return &Table{data: cp, vocab: vocab, hidden: hidden}, nil
}

// Encode serializes values as little-endian float32 bytes, the layout
// accepted by FromBytes.
func Encode(values []float32) []byte {
	out := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

// VocabSize returns the number of rows.
func (t *Table) VocabSize() int { return t.vocab }

// HiddenSize returns the vector width.
func (t *Table) HiddenSize() int { return t.hidden }

// Row returns the vector for token. The returned slice aliases the table and
// must not be modified.
func (t *Table) Row(token int32) ([]float32, bool) {
	if token < 0 || int(token) >= t.vocab {
		return nil, false
	}
	off := int(token) * t.hidden
	return t.data[off : off+t.hidden], true
}

// CopyRow copies the vector for token into dst, which must hold at least
// HiddenSize values.
func (t *Table) CopyRow(token int32, dst []float32) bool {
	row, ok := t.Row(token)
	if !ok || len(dst) < t.hidden {
		return false
	}
	copy(dst, row)
	return true
}
