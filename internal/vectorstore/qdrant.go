package vectorstore

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/ordermatch/internal/logging"
)

// collectionNamePattern: lowercase letters, numbers, underscores and
// hyphens, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// QdrantConfig holds configuration for the Qdrant gRPC client.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	Host string

	// Port is the Qdrant gRPC port (NOT the HTTP REST port).
	// Default: 6334
	Port int

	UseTLS bool

	// MaxRetries is the maximum number of retry attempts for transient failures.
	// Default: 3
	MaxRetries int

	// RetryBackoff is the initial backoff, doubled on each retry.
	// Default: 1 second
	RetryBackoff time.Duration

	// MaxMessageSize is the maximum gRPC message size in bytes.
	// Default: 16MB
	MaxMessageSize int

	// CircuitBreakerThreshold is the number of failures before the
	// circuit opens. Default: 5
	CircuitBreakerThreshold int
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	return nil
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 16 * 1024 * 1024
	}
	if c.CircuitBreakerThreshold == 0 {
		c.CircuitBreakerThreshold = 5
	}
}

// ValidateCollectionName validates a collection name.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match pattern ^[a-z0-9_-]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
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

// QdrantStore queries Qdrant collections over gRPC. Points keep the
// catalog id in the "id" payload field, since Qdrant point ids must be
// integers or UUIDs.
type QdrantStore struct {
	client *qdrant.Client
	config QdrantConfig
	logger *logging.Logger

	circuitBreaker struct {
		failures int
		lastFail time.Time
		mu       sync.Mutex
	}
}

// NewQdrantStore connects to Qdrant and verifies it with a health check.
func NewQdrantStore(ctx context.Context, config QdrantConfig, logger *logging.Logger) (*QdrantStore, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.Named("qdrant")
	if !config.UseTLS {
		logger.Warn(ctx, "qdrant gRPC using plaintext, TLS disabled", zap.String("host", config.Host))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
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

	store := &QdrantStore{client: client, config: config, logger: logger}

	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(hctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check: %v", ErrConnectionFailed, err)
	}
	return store, nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

// retryOperation retries an operation with exponential backoff.
func (s *QdrantStore) retryOperation(ctx context.Context, operationName string, operation func() error) error {
	if s.isCircuitOpen() {
		return fmt.Errorf("%s: circuit breaker open", operationName)
	}
	backoff := s.config.RetryBackoff

	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		err := operation()
		if err == nil {
			s.resetCircuitBreaker()
			return nil
		}
		if !IsTransientError(err) {
			return fmt.Errorf("%s failed (permanent): %w", operationName, err)
		}

		s.recordFailure()
		if s.isCircuitOpen() {
			return fmt.Errorf("%s: circuit breaker open: %w", operationName, err)
		}
		if attempt == s.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", operationName, s.config.MaxRetries, err)
		}

		s.logger.Debug(ctx, "retrying transient qdrant error",
			zap.String("operation", operationName), zap.Int("attempt", attempt+1), zap.Error(err))
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", operationName, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return nil
}

func (s *QdrantStore) recordFailure() {
	s.circuitBreaker.mu.Lock()
	defer s.circuitBreaker.mu.Unlock()
	s.circuitBreaker.failures++
	s.circuitBreaker.lastFail = time.Now()
}

func (s *QdrantStore) resetCircuitBreaker() {
	s.circuitBreaker.mu.Lock()
	defer s.circuitBreaker.mu.Unlock()
	s.circuitBreaker.failures = 0
}

func (s *QdrantStore) isCircuitOpen() bool {
	s.circuitBreaker.mu.Lock()
	defer s.circuitBreaker.mu.Unlock()

	if s.circuitBreaker.failures >= s.config.CircuitBreakerThreshold {
		// Half-open after 30 seconds.
		if time.Since(s.circuitBreaker.lastFail) > 30*time.Second {
			s.circuitBreaker.failures = 0
			return false
		}
		return true
	}
	return false
}

// Query runs a similarity query, or a filtered scroll when req.Vector
// is all zeros.
func (s *QdrantStore) Query(ctx context.Context, req QueryRequest) (matches []Match, err error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.Query")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", req.Index),
		attribute.Int("top_k", req.TopK),
		attribute.String("filter", req.Filter.String()),
	)

	start := time.Now()
	defer func() {
		observeQuery("qdrant", req.Index, start, len(matches), err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := ValidateCollectionName(req.Index); err != nil {
		return nil, err
	}
	filter, err := QdrantFilter(req.Filter)
	if err != nil {
		return nil, err
	}

	if IsZero(req.Vector) {
		var points []*qdrant.RetrievedPoint
		err = s.retryOperation(ctx, "scroll", func() error {
			res, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
				CollectionName: req.Index,
				Filter:         filter,
				Limit:          qdrant.PtrOf(uint32(req.TopK)),
				WithPayload:    qdrant.NewWithPayload(true),
			})
			points = res
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("%w: scrolling %s: %v", ErrQueryFailed, req.Index, err)
		}
		matches = make([]Match, 0, len(points))
		for _, p := range points {
			md := payloadToMetadata(p.GetPayload())
			matches = append(matches, Match{ID: pointID(p.GetId(), md), Metadata: md})
		}
		return matches, nil
	}

	var points []*qdrant.ScoredPoint
	err = s.retryOperation(ctx, "query", func() error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: req.Index,
			Query:          qdrant.NewQuery(req.Vector...),
			Limit:          qdrant.PtrOf(uint64(req.TopK)),
			WithPayload:    qdrant.NewWithPayload(true),
			Filter:         filter,
		})
		points = res
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: searching %s: %v", ErrQueryFailed, req.Index, err)
	}

	matches = make([]Match, 0, len(points))
	for _, p := range points {
		md := payloadToMetadata(p.GetPayload())
		matches = append(matches, Match{ID: pointID(p.GetId(), md), Score: float64(p.GetScore()), Metadata: md})
	}
	span.SetAttributes(attribute.Int("results_count", len(matches)))
	span.SetStatus(codes.Ok, "success")
	return matches, nil
}

// QdrantFilter translates f into a Qdrant must-filter.
func QdrantFilter(f Filter) (*qdrant.Filter, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if len(f) == 0 {
		return nil, nil
	}
	must := make([]*qdrant.Condition, 0, len(f))
	for _, c := range f {
		switch c.Op {
		case OpEq:
			cond, err := qdrantEq(c.Field, c.Value)
			if err != nil {
				return nil, err
			}
			must = append(must, cond)
		case OpIn:
			must = append(must, qdrantIn(c.Field, c.Value.([]interface{})))
		case OpGte:
			v, _ := toFloat(c.Value)
			must = append(must, qdrant.NewRange(c.Field, &qdrant.Range{Gte: &v}))
		case OpLt:
			v, _ := toFloat(c.Value)
			must = append(must, qdrant.NewRange(c.Field, &qdrant.Range{Lt: &v}))
		}
	}
	return &qdrant.Filter{Must: must}, nil
}

func qdrantEq(field string, value interface{}) (*qdrant.Condition, error) {
	switch v := value.(type) {
	case string:
		return qdrant.NewMatch(field, v), nil
	case bool:
		return qdrant.NewMatchBool(field, v), nil
	}
	f, ok := toFloat(value)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported $eq value %T for %s", ErrInvalidFilter, value, field)
	}
	if f == math.Trunc(f) {
		return qdrant.NewMatchInt(field, int64(f)), nil
	}
	return qdrant.NewRange(field, &qdrant.Range{Gte: &f, Lte: &f}), nil
}

func qdrantIn(field string, values []interface{}) *qdrant.Condition {
	ints := make([]int64, 0, len(values))
	for _, v := range values {
		if _, isString := v.(string); isString {
			break
		}
		f, ok := toFloat(v)
		if !ok || f != math.Trunc(f) {
			break
		}
		ints = append(ints, int64(f))
	}
	if len(ints) == len(values) && len(ints) > 0 {
		return qdrant.NewMatchInts(field, ints...)
	}
	strs := make([]string, len(values))
	for i, v := range values {
		strs[i] = Metadata{"v": v}.String("v")
	}
	return qdrant.NewMatchKeywords(field, strs...)
}

func payloadToMetadata(payload map[string]*qdrant.Value) Metadata {
	if payload == nil {
		return Metadata{}
	}
	md := make(Metadata, len(payload))
	for k, v := range payload {
		switch val := v.GetKind().(type) {
		case *qdrant.Value_StringValue:
			md[k] = val.StringValue
		case *qdrant.Value_IntegerValue:
			md[k] = val.IntegerValue
		case *qdrant.Value_DoubleValue:
			md[k] = val.DoubleValue
		case *qdrant.Value_BoolValue:
			md[k] = val.BoolValue
		}
	}
	return md
}

func pointID(id *qdrant.PointId, md Metadata) string {
	if s := md.String("id"); s != "" {
		return s
	}
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return strconv.FormatUint(id.GetNum(), 10)
}

var _ Index = (*QdrantStore)(nil)
