// Package textnorm turns raw decoder output into display text.
package textnorm

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/width"
)

// TableSize is the number of code points covered by the conversion table.
const TableSize = 127

const (
	ellipsis  = '…'
	middleDot = '・'
)

// ConversionTable maps code points 0..126 to their full-width counterparts.
// Entries without a full-width form map to themselves.
type ConversionTable [TableSize]rune

// NewConversionTable builds the half-width to full-width table.
func NewConversionTable() *ConversionTable {
	var t ConversionTable
	for i := range t {
		t[i] = rune(i)
	}
	for r := rune('!'); r <= '~'; r++ {
		wide, size := utf8.DecodeRuneInString(width.Widen.String(string(r)))
		if size > 0 && wide != utf8.RuneError {
			t[r] = wide
		}
	}
	// Quotes stay ASCII; the grave accent folds into the apostrophe.
	t['"'] = '"'
	t['\''] = '\''
	t['`'] = '\''
	return &t
}

// Lookup returns the mapped rune and whether r is covered by the table.
func (t *ConversionTable) Lookup(r rune) (rune, bool) {
	if r < 0 || r >= TableSize {
		return r, false
	}
	return t[r], true
}

// Normalizer applies the canonical display transform. It is immutable after
// construction and safe for concurrent use.
type Normalizer struct {
	table *ConversionTable
}

// New creates a Normalizer with a freshly built conversion table.
func New() *Normalizer {
	return &Normalizer{table: NewConversionTable()}
}

// NewWithTable creates a Normalizer that uses the given table.
func NewWithTable(table *ConversionTable) *Normalizer {
	if table == nil {
		table = NewConversionTable()
	}
	return &Normalizer{table: table}
}

// Normalize elides whitespace, expands the ellipsis character, collapses
// runs of dots and middle dots into ASCII dots and widens ASCII characters.
func (n *Normalizer) Normalize(text string) string {
	if text == "" {
		return text
	}

	runes := []rune(text)
	var b strings.Builder
	b.Grow(len(text) * 2)

	for i := 0; i < len(runes); {
		c := runes[i]

		if unicode.IsSpace(c) {
			i++
			continue
		}

		if c == ellipsis {
			b.WriteString("...")
			i++
			continue
		}

		if isDot(c) {
			j := i + 1
			for j < len(runes) && isDot(runes[j]) {
				j++
			}
			if k := j - i; k >= 2 {
				b.WriteString(strings.Repeat(".", k))
				i = j
				continue
			}
		}

		if mapped, ok := n.table.Lookup(c); ok {
			b.WriteRune(mapped)
		} else {
			b.WriteRune(c)
		}
		i++
	}

	return b.String()
}

func isDot(r rune) bool {
	return r == '.' || r == middleDot
}
