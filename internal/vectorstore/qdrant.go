package vectorstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/fyrsmithlabs/commitdelta/internal/config"
	"github.com/fyrsmithlabs/commitdelta/internal/delta"
	"github.com/fyrsmithlabs/commitdelta/internal/logging"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Tracer for OpenTelemetry instrumentation.
var tracer = otel.Tracer("deltasync.vectorstore.qdrant")

// Payload keys beyond the unit metadata.
const (
	payloadContent = "content"
	payloadUnitID  = "unit_id"
)

// pointNamespace seeds the UUIDv5 point ids derived from unit ids.
var pointNamespace = uuid.MustParse("6f1c9e1a-3b0e-5d3c-9a59-1f0b8f3d2c41")

// QdrantConfig holds configuration for Qdrant gRPC client.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	// Default: "localhost"
	Host string

	// Port is the Qdrant gRPC port (NOT HTTP REST port).
	// Default: 6334 (gRPC), not 6333 (HTTP)
	Port int

	APIKey config.Secret

	// Collection is the collection units are written to.
	Collection string

	// VectorSize is the dimensionality of embeddings.
	// MUST match Embedder output dimensions.
	VectorSize uint64

	// UseTLS enables TLS encryption for gRPC connection.
	UseTLS bool

	// Timeout bounds each gRPC call. Default: 30s
	Timeout time.Duration

	// MaxRetries is the maximum number of retry attempts for transient failures.
	// Zero selects the default of 3; a negative value makes a single attempt.
	MaxRetries int

	// RetryBackoff is the initial backoff duration for retries.
	// Doubles on each retry (exponential backoff).
	// Default: 1 second
	RetryBackoff time.Duration

	// MaxMessageSize is the maximum gRPC message size in bytes.
	// Default: 50MB (to handle large patches)
	MaxMessageSize int
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if c.VectorSize == 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	return ValidateCollectionName(c.Collection)
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024 // 50MB
	}
}

// IsTransientError checks if an error is transient (should retry).
// Returns true for network timeouts, temporary unavailability.
// Returns false for invalid arguments, not found, permission denied.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// QdrantSink implements Sink using Qdrant's native gRPC client.
//
// Point ids are UUIDv5 values derived from the unit id, so the same unit
// always maps to the same point and Upsert replaces it. The unit id itself
// is kept in the payload.
type QdrantSink struct {
	client *qdrant.Client
	config QdrantConfig
	logger *logging.Logger
}

var _ Sink = (*QdrantSink)(nil)

// NewQdrantSink connects to Qdrant and ensures the collection and its
// payload indexes exist.
func NewQdrantSink(ctx context.Context, config QdrantConfig, logger *logging.Logger) (*QdrantSink, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	logger = logger.Named("qdrant")

	if !config.UseTLS {
		logger.Warn(ctx, "qdrant gRPC using plaintext (TLS disabled)", zap.String("host", config.Host))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		APIKey: config.APIKey.Value(),
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	s := &QdrantSink{client: client, config: config, logger: logger}
	if err := s.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

// retryOperation retries an operation with exponential backoff. Each
// attempt runs under the configured timeout.
func (s *QdrantSink) retryOperation(ctx context.Context, operationName string, operation func(ctx context.Context) error) error {
	backoff := s.config.RetryBackoff
	retries := max(s.config.MaxRetries, 0)

	for attempt := 0; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
		err := operation(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		if !IsTransientError(err) {
			return &SinkError{Op: operationName, Err: err}
		}
		if attempt == retries {
			return &SinkError{Op: operationName, Err: fmt.Errorf("failed after %d retries: %w", retries, err)}
		}

		s.logger.Debug(ctx, "retrying qdrant operation",
			zap.String("op", operationName),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return &SinkError{Op: operationName, Err: ctx.Err()}
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

// payloadIndexes lists the filterable payload fields and their index type.
var payloadIndexes = []struct {
	field string
	typ   qdrant.FieldType
}{
	{delta.KeyFilename, qdrant.FieldType_FieldTypeKeyword},
	{delta.KeyRevisionID, qdrant.FieldType_FieldTypeKeyword},
	{delta.KeyStatus, qdrant.FieldType_FieldTypeKeyword},
	{delta.KeyAdditions, qdrant.FieldType_FieldTypeInteger},
	{delta.KeyDeletions, qdrant.FieldType_FieldTypeInteger},
	{delta.KeyTimestamp, qdrant.FieldType_FieldTypeDatetime},
	{payloadContent, qdrant.FieldType_FieldTypeText},
}

func (s *QdrantSink) ensureCollection(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "QdrantSink.EnsureCollection")
	defer span.End()

	var exists bool
	err := s.retryOperation(ctx, "collection_exists", func(ctx context.Context) error {
		var err error
		exists, err = s.client.CollectionExists(ctx, s.config.Collection)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	if exists {
		return nil
	}

	err = s.retryOperation(ctx, "create_collection", func(ctx context.Context) error {
		return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.config.Collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     s.config.VectorSize,
				Distance: qdrant.Distance_Cosine,
			}),
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("creating collection %s: %w", s.config.Collection, err)
	}

	for _, idx := range payloadIndexes {
		err := s.retryOperation(ctx, "create_field_index", func(ctx context.Context) error {
			_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
				CollectionName: s.config.Collection,
				FieldName:      idx.field,
				FieldType:      idx.typ.Enum(),
				Wait:           qdrant.PtrOf(true),
			})
			return err
		})
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("creating payload index %s: %w", idx.field, err)
		}
	}

	s.logger.Info(ctx, "created qdrant collection",
		zap.String("collection", s.config.Collection),
		zap.Uint64("vector_size", s.config.VectorSize))
	span.SetStatus(codes.Ok, "created")
	return nil
}

// PointID returns the Qdrant point id for a unit id.
func PointID(unitID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(unitID)).String()
}

func unitPayload(unit delta.Unit) map[string]*qdrant.Value {
	payload := map[string]*qdrant.Value{
		payloadContent: {Kind: &qdrant.Value_StringValue{StringValue: unit.Text}},
		payloadUnitID:  {Kind: &qdrant.Value_StringValue{StringValue: unit.ID}},
	}
	for k, v := range unit.Metadata.Map() {
		switch val := v.(type) {
		case string:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: val}}
		case int:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
		}
	}
	return payload
}

func matchFromPoint(point *qdrant.ScoredPoint) Match {
	m := Match{Score: point.GetScore()}
	strs := make(map[string]string, len(point.GetPayload()))
	for k, v := range point.GetPayload() {
		switch val := v.GetKind().(type) {
		case *qdrant.Value_StringValue:
			strs[k] = val.StringValue
		case *qdrant.Value_IntegerValue:
			strs[k] = strconv.FormatInt(val.IntegerValue, 10)
		}
	}
	m.ID = strs[payloadUnitID]
	m.Text = strs[payloadContent]
	m.Metadata = delta.MetadataFromStrings(strs)
	return m
}

// Upsert validates unit and writes it as a single point.
func (s *QdrantSink) Upsert(ctx context.Context, unit delta.Unit) (err error) {
	ctx, span := tracer.Start(ctx, "QdrantSink.Upsert")
	defer span.End()
	start := time.Now()
	defer func() { observe("qdrant", "upsert", start, err) }()

	span.SetAttributes(
		attribute.String("unit.id", unit.ID),
		attribute.String("collection", s.config.Collection),
	)

	if err := ValidateUnit(unit, int(s.config.VectorSize)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	point := &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(PointID(unit.ID)),
		Vectors: qdrant.NewVectors(unit.Vector...),
		Payload: unitPayload(unit),
	}
	err = s.retryOperation(ctx, "upsert", func(ctx context.Context) error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.config.Collection,
			Wait:           qdrant.PtrOf(true),
			Points:         []*qdrant.PointStruct{point},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Query returns the topK nearest points by cosine similarity.
func (s *QdrantSink) Query(ctx context.Context, vector []float32, topK int) (matches []Match, err error) {
	ctx, span := tracer.Start(ctx, "QdrantSink.Query")
	defer span.End()
	start := time.Now()
	defer func() { observe("qdrant", "query", start, err) }()

	span.SetAttributes(
		attribute.String("collection", s.config.Collection),
		attribute.Int("k", topK),
	)

	if err := validateQuery(vector, topK, int(s.config.VectorSize)); err != nil {
		return nil, err
	}
	const maxK = 10000
	if topK > maxK {
		topK = maxK
	}

	var results []*qdrant.ScoredPoint
	err = s.retryOperation(ctx, "query", func(ctx context.Context) error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.config.Collection,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(topK)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		results = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	matches = make([]Match, len(results))
	for i, point := range results {
		matches[i] = matchFromPoint(point)
	}
	span.SetAttributes(attribute.Int("results_count", len(matches)))
	span.SetStatus(codes.Ok, "success")
	return matches, nil
}

// Close closes the Qdrant gRPC connection.
func (s *QdrantSink) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
