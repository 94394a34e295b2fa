package vectorstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/ordermatch/internal/logging"
)

func TestQdrantFilter(t *testing.T) {
	qf, err := QdrantFilter(Filter{
		In("country", "de", "DE"),
		Gte("customer", 1000000),
		Lt("customer", 2000000),
		Eq("international", true),
		Eq("customer", 1000001),
		Eq("material", "12345V"),
		In("customer", 1000001, 1000002),
	})
	require.NoError(t, err)
	require.Len(t, qf.Must, 7)

	assert.Equal(t, []string{"de", "DE"}, qf.Must[0].GetField().GetMatch().GetKeywords().GetStrings())
	assert.Equal(t, float64(1000000), qf.Must[1].GetField().GetRange().GetGte())
	assert.Equal(t, float64(2000000), qf.Must[2].GetField().GetRange().GetLt())
	assert.True(t, qf.Must[3].GetField().GetMatch().GetBoolean())
	assert.Equal(t, int64(1000001), qf.Must[4].GetField().GetMatch().GetInteger())
	assert.Equal(t, "12345V", qf.Must[5].GetField().GetMatch().GetKeyword())
	assert.Equal(t, []int64{1000001, 1000002}, qf.Must[6].GetField().GetMatch().GetIntegers().GetIntegers())

	nilFilter, err := QdrantFilter(nil)
	require.NoError(t, err)
	assert.Nil(t, nilFilter)

	_, err = QdrantFilter(Filter{{Field: "x", Op: "$ne", Value: 1}})
	assert.ErrorIs(t, err, ErrInvalidFilter)
}

func TestIsTransientError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "plain", err: errors.New("x"), want: false},
		{name: "unavailable", err: status.Error(grpccodes.Unavailable, "down"), want: true},
		{name: "deadline", err: status.Error(grpccodes.DeadlineExceeded, "slow"), want: true},
		{name: "not found", err: status.Error(grpccodes.NotFound, "missing"), want: false},
		{name: "invalid", err: status.Error(grpccodes.InvalidArgument, "bad"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransientError(tt.err))
		})
	}
}

func newRetryStore(maxRetries, threshold int) *QdrantStore {
	return &QdrantStore{
		config: QdrantConfig{MaxRetries: maxRetries, RetryBackoff: time.Millisecond, CircuitBreakerThreshold: threshold},
		logger: logging.NewNop(),
	}
}

func TestQdrantStore_RetryTransient(t *testing.T) {
	s := newRetryStore(3, 10)
	calls := 0
	err := s.retryOperation(context.Background(), "query", func() error {
		calls++
		if calls < 3 {
			return status.Error(grpccodes.Unavailable, "down")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestQdrantStore_PermanentErrorNotRetried(t *testing.T) {
	s := newRetryStore(3, 10)
	calls := 0
	err := s.retryOperation(context.Background(), "query", func() error {
		calls++
		return status.Error(grpccodes.InvalidArgument, "bad vector")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Contains(t, err.Error(), "permanent")
}

func TestQdrantStore_CircuitBreaker(t *testing.T) {
	s := newRetryStore(5, 2)
	calls := 0
	op := func() error {
		calls++
		return status.Error(grpccodes.Unavailable, "down")
	}

	err := s.retryOperation(context.Background(), "query", op)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker open")
	assert.Equal(t, 2, calls)

	err = s.retryOperation(context.Background(), "query", op)
	require.Error(t, err)
	assert.Equal(t, 2, calls, "open circuit must short-circuit")
}

func TestValidateCollectionName(t *testing.T) {
	assert.NoError(t, ValidateCollectionName("customer_addresses"))
	assert.NoError(t, ValidateCollectionName("materials-v2"))
	assert.ErrorIs(t, ValidateCollectionName(""), ErrInvalidCollectionName)
	assert.ErrorIs(t, ValidateCollectionName("../etc"), ErrInvalidCollectionName)
	assert.ErrorIs(t, ValidateCollectionName("Upper"), ErrInvalidCollectionName)
}
