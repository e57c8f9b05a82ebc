package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fyrsmithlabs/commitdelta/internal/delta"
	"github.com/fyrsmithlabs/commitdelta/internal/logging"
	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// chromemTracer for OpenTelemetry instrumentation.
var chromemTracer = otel.Tracer("deltasync.vectorstore.chromem")

// errNoEmbedder is returned if chromem ever tries to embed on its own.
// Units always arrive with vectors.
var errNoEmbedder = errors.New("chromem sink does not embed text")

// ChromemConfig holds configuration for chromem-go embedded vector database.
type ChromemConfig struct {
	// Path is the directory for persistent storage. Empty keeps the index
	// in memory only.
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool

	// Collection is the collection name. Default: "commit_deltas"
	Collection string

	// VectorSize is the expected embedding dimension.
	// Must match the embedder's output dimension.
	VectorSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Collection == "" {
		c.Collection = "commit_deltas"
	}
}

// Validate validates the configuration.
func (c *ChromemConfig) Validate() error {
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	return ValidateCollectionName(c.Collection)
}

// ChromemSink implements Sink using chromem-go.
//
// chromem-go is an embeddable vector database with zero third-party
// dependencies: pure Go, no external service, optional gob persistence.
// AddDocument replaces any document with the same id, which gives upsert
// semantics directly.
type ChromemSink struct {
	db         *chromem.DB
	collection *chromem.Collection
	config     ChromemConfig
	logger     *logging.Logger

	// chromem sorts results but caps nResults at the document count; the
	// count check and query must not interleave with a write.
	mu sync.RWMutex
}

var _ Sink = (*ChromemSink)(nil)

// NewChromemSink opens or creates the configured collection.
func NewChromemSink(config ChromemConfig, logger *logging.Logger) (*ChromemSink, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	var (
		db  *chromem.DB
		err error
	)
	if config.Path == "" {
		db = chromem.NewDB()
	} else {
		expandedPath, err := expandChromemPath(config.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding path: %w", err)
		}
		if err := os.MkdirAll(expandedPath, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", expandedPath, err)
		}
		db, err = chromem.NewPersistentDB(expandedPath, config.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
		config.Path = expandedPath
	}

	collection, err := db.GetOrCreateCollection(config.Collection, nil, noEmbedding)
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", config.Collection, err)
	}

	logger = logger.Named("chromem")
	logger.Info(context.Background(), "chromem sink initialized",
		zap.String("path", config.Path),
		zap.Bool("compress", config.Compress),
		zap.Int("vector_size", config.VectorSize),
		zap.String("collection", config.Collection),
		zap.Int("documents", collection.Count()),
	)

	return &ChromemSink{db: db, collection: collection, config: config, logger: logger}, nil
}

func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errNoEmbedder
}

// expandChromemPath expands ~ to home directory.
func expandChromemPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// Upsert validates unit and stores it under unit.ID.
func (s *ChromemSink) Upsert(ctx context.Context, unit delta.Unit) (err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemSink.Upsert")
	defer span.End()
	start := time.Now()
	defer func() { observe("chromem", "upsert", start, err) }()

	span.SetAttributes(
		attribute.String("unit.id", unit.ID),
		attribute.String("collection", s.config.Collection),
	)

	if err := ValidateUnit(unit, s.config.VectorSize); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	doc := chromem.Document{
		ID:        unit.ID,
		Content:   unit.Text,
		Metadata:  unit.Metadata.StringMap(),
		Embedding: unit.Vector,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.collection.AddDocument(ctx, doc); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &SinkError{Op: "upsert", Err: err}
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Debug(ctx, "upserted unit", zap.String("id", unit.ID))
	return nil
}

// Query returns the topK most similar units.
func (s *ChromemSink) Query(ctx context.Context, vector []float32, topK int) (matches []Match, err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemSink.Query")
	defer span.End()
	start := time.Now()
	defer func() { observe("chromem", "query", start, err) }()

	span.SetAttributes(
		attribute.String("collection", s.config.Collection),
		attribute.Int("k", topK),
	)

	if err := validateQuery(vector, topK, s.config.VectorSize); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	// Cap k at collection size (chromem requires nResults <= doc count)
	docCount := s.collection.Count()
	if docCount == 0 {
		return []Match{}, nil
	}
	if topK > docCount {
		topK = docCount
	}

	results, err := s.collection.QueryEmbedding(ctx, vector, topK, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, &SinkError{Op: "query", Err: err}
	}

	matches = make([]Match, len(results))
	for i, r := range results {
		matches[i] = Match{
			ID:       r.ID,
			Text:     r.Content,
			Score:    r.Similarity,
			Metadata: delta.MetadataFromStrings(r.Metadata),
		}
	}

	span.SetAttributes(attribute.Int("results_count", len(matches)))
	span.SetStatus(codes.Ok, "success")
	return matches, nil
}

// Count returns the number of stored units.
func (s *ChromemSink) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collection.Count()
}

// Get returns the stored unit with id, without its vector.
func (s *ChromemSink) Get(ctx context.Context, id string) (Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, err := s.collection.GetByID(ctx, id)
	if err != nil {
		return Match{}, &SinkError{Op: "get", Err: err}
	}
	return Match{ID: doc.ID, Text: doc.Content, Metadata: delta.MetadataFromStrings(doc.Metadata)}, nil
}

// Close releases the store. chromem persists on every write, so there is
// nothing to flush.
func (s *ChromemSink) Close() error {
	return nil
}
