package vectorstore

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/commitdelta/internal/config"
	"github.com/fyrsmithlabs/commitdelta/internal/logging"
)

// NewSink creates the sink selected by cfg.Provider for vectors of the
// given dimension:
//   - "chromem" (default): embedded ChromemSink, no external service
//   - "qdrant": QdrantSink against an external Qdrant server
func NewSink(ctx context.Context, cfg config.VectorStoreConfig, dimension int, logger *logging.Logger) (Sink, error) {
	switch cfg.Provider {
	case "chromem", "":
		sink, err := NewChromemSink(ChromemConfig{
			Path:       cfg.Path,
			Compress:   cfg.Compress,
			Collection: cfg.Collection,
			VectorSize: dimension,
		}, logger)
		if err != nil {
			return nil, err
		}
		return sink, nil

	case "qdrant":
		sink, err := NewQdrantSink(ctx, QdrantConfig{
			Host:       cfg.QdrantHost,
			Port:       cfg.QdrantPort,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.Collection,
			VectorSize: uint64(dimension),
			UseTLS:     cfg.QdrantTLS,
			Timeout:    cfg.Timeout,
			MaxRetries: config.Retries(cfg.MaxRetries),
		}, logger)
		if err != nil {
			return nil, err
		}
		return sink, nil

	default:
		return nil, fmt.Errorf("unsupported vectorstore provider: %s (supported: chromem, qdrant)", cfg.Provider)
	}
}
