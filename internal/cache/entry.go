// Package cache stores recognition results in a local TTL cache backed by an
// optional Redis tier.
package cache

// Entry is a cached recognition result.
type Entry struct {
	Text    string  `json:"text"`
	RawText string  `json:"raw_text"`
	Tokens  []int32 `json:"token_ids"`
	State   string  `json:"state"`
}
