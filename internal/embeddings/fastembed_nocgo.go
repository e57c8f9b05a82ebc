//go:build !cgo

package embeddings

import (
	"context"
	"errors"
)

// ErrFastEmbedNotAvailable means the binary was built with CGO_ENABLED=0,
// which leaves out the ONNX runtime. Use embeddings.provider tei or openai.
var ErrFastEmbedNotAvailable = errors.New("fastembed: built without cgo; use the tei or openai provider")

// FastEmbedConfig mirrors the cgo build so config wiring compiles either way.
type FastEmbedConfig struct {
	Model     string
	CacheDir  string
	MaxLength int
}

// FastEmbedProvider never embeds in this build.
type FastEmbedProvider struct{}

var _ Provider = (*FastEmbedProvider)(nil)

func NewFastEmbedProvider(FastEmbedConfig) (*FastEmbedProvider, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (*FastEmbedProvider) Embed(context.Context, string) ([]float32, error) {
	return nil, &EmbeddingError{Op: "embed", Err: ErrFastEmbedNotAvailable}
}

func (*FastEmbedProvider) Dimension() int { return 0 }

func (*FastEmbedProvider) Close() error { return nil }
