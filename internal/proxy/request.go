package proxy

import (
	"fmt"
	"os"

	"visiond/internal/common/fsutil"
)

// Sampling defaults applied by NewRequest.
const (
	DefaultTemperature = 0.7
	DefaultTopP        = 0.95
	DefaultMaxTokens   = 512
)

// PredictionRequest is one image+prompt generation request.
type PredictionRequest struct {
	Image       []byte
	Prompt      string
	Temperature float64
	TopP        float64
	MaxTokens   int
}

// Option adjusts a PredictionRequest built by NewRequest.
type Option func(*PredictionRequest)

func WithTemperature(v float64) Option { return func(r *PredictionRequest) { r.Temperature = v } }
func WithTopP(v float64) Option        { return func(r *PredictionRequest) { r.TopP = v } }
func WithMaxTokens(n int) Option       { return func(r *PredictionRequest) { r.MaxTokens = n } }

// NewRequest builds a request with the default sampling parameters and then
// applies opts. The image slice is not copied.
func NewRequest(image []byte, prompt string, opts ...Option) PredictionRequest {
	r := PredictionRequest{
		Image:       image,
		Prompt:      prompt,
		Temperature: DefaultTemperature,
		TopP:        DefaultTopP,
		MaxTokens:   DefaultMaxTokens,
	}
	for _, o := range opts {
		o(&r)
	}
	return r
}

// Validate checks the parameter ranges accepted by the backend.
func (r PredictionRequest) Validate() error {
	if len(r.Image) == 0 {
		return &RequestError{Field: "image", Msg: "image is required"}
	}
	if !(r.Temperature >= 0 && r.Temperature <= 1) {
		return &RequestError{Field: "temperature", Msg: fmt.Sprintf("must be within [0, 1], got %v", r.Temperature)}
	}
	if !(r.TopP >= 0 && r.TopP <= 1) {
		return &RequestError{Field: "top_p", Msg: fmt.Sprintf("must be within [0, 1], got %v", r.TopP)}
	}
	if r.MaxTokens < 1 {
		return &RequestError{Field: "max_tokens", Msg: fmt.Sprintf("must be >= 1, got %d", r.MaxTokens)}
	}
	return nil
}

// LoadImage reads an image file from disk. A leading ~ is expanded.
func LoadImage(path string) ([]byte, error) {
	p, err := fsutil.ExpandHome(path)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if len(b) == 0 {
		return nil, &RequestError{Field: "image", Msg: "image file is empty: " + path}
	}
	return b, nil
}
