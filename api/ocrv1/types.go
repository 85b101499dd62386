// Package ocrv1 defines the ocr.v1.Recognizer gRPC service. Messages are
// plain Go structs carried by a JSON codec.
package ocrv1

// RecognizeRequest carries one encoded image (PNG, JPEG, GIF, BMP, TIFF or
// WebP).
type RecognizeRequest struct {
	Image []byte `json:"image"`
	// MaxTokens bounds the decoded sequence including the start token.
	// Zero selects the model's sequence capacity.
	MaxTokens int32 `json:"max_tokens,omitempty"`
	SkipCache bool  `json:"skip_cache,omitempty"`
}

type RecognizeResponse struct {
	Text     string  `json:"text"`
	RawText  string  `json:"raw_text"`
	TokenIds []int32 `json:"token_ids"`
	// State is DONE, TRUNCATED or INTERRUPTED.
	State  string `json:"state"`
	Cached bool   `json:"cached,omitempty"`
	// Error describes why an INTERRUPTED decode stopped early.
	Error string `json:"error,omitempty"`
}

type BatchRecognizeRequest struct {
	Requests []*RecognizeRequest `json:"requests"`
}

type BatchRecognizeResponse struct {
	Responses []*RecognizeResponse `json:"responses"`
}

type NormalizeRequest struct {
	Text string `json:"text"`
}

type NormalizeResponse struct {
	Text string `json:"text"`
}

type StatusRequest struct{}

type StatusResponse struct {
	Ready      bool `json:"ready"`
	UsingGpu   bool `json:"using_gpu"`
	EncoderGpu bool `json:"encoder_gpu"`
	DecoderGpu bool `json:"decoder_gpu"`
}
