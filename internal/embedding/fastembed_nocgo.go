//go:build !cgo

package embedding

import (
	"context"
	"errors"
)

// ErrFastEmbedUnavailable is returned when the binary was built without cgo.
// The ONNX runtime binding needs it; use the gemini or openai provider on
// such builds.
var ErrFastEmbedUnavailable = errors.New("fastembed: not available (built without cgo)")

// FastEmbed is a stub for non-cgo builds.
type FastEmbed struct{}

// NewFastEmbed always fails on non-cgo builds.
func NewFastEmbed(_ FastEmbedConfig) (*FastEmbed, error) {
	return nil, ErrFastEmbedUnavailable
}

func (p *FastEmbed) EmbedDocuments(_ context.Context, _ []string) ([][]float32, error) {
	return nil, ErrFastEmbedUnavailable
}

func (p *FastEmbed) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	return nil, ErrFastEmbedUnavailable
}

func (p *FastEmbed) Dimension() int {
	return 0
}

func (p *FastEmbed) Close() error {
	return nil
}

// Ensure the stub still satisfies Provider.
var _ Provider = (*FastEmbed)(nil)
