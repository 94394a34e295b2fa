package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirst_ReturnsFirstSuccess(t *testing.T) {
	idx, v, err := First(context.Background(), 2, func(ctx context.Context, i int) (string, error) {
		if i == 0 {
			return "", errors.New("primary down")
		}
		return "secondary", nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
	assert.Equal(t, "secondary", v)
}

func TestFirst_CancelsLosers(t *testing.T) {
	cancelled := make(chan struct{})
	idx, _, err := First(context.Background(), 2, func(ctx context.Context, i int) (int, error) {
		if i == 0 {
			return 0, nil
		}
		select {
		case <-ctx.Done():
			close(cancelled)
			return 0, ctx.Err()
		case <-time.After(5 * time.Second):
			return 1, nil
		}
	})
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("losing call was not cancelled")
	}
}

func TestFirst_AllFail(t *testing.T) {
	_, _, err := First(context.Background(), 3, func(ctx context.Context, i int) (int, error) {
		return 0, errors.New("boom")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.Contains(t, err.Error(), "boom")
}

func TestFirst_NoEndpoints(t *testing.T) {
	_, _, err := First(context.Background(), 0, func(ctx context.Context, i int) (int, error) {
		return 1, nil
	})
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestDecodeJSON(t *testing.T) {
	var out struct {
		SoldTo interface{} `json:"sold_to"`
	}
	require.NoError(t, DecodeJSON("```json\n{\"sold_to\": 2}\n```", &out))
	assert.EqualValues(t, 2, out.SoldTo)

	assert.ErrorIs(t, DecodeJSON("not json", &out), ErrMalformedResponse)
	assert.ErrorIs(t, DecodeJSON("  ", &out), ErrMalformedResponse)
}
