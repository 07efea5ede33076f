package hostfuncs

import (
	"context"
	"errors"
	"testing"

	domainerrors "github.com/reglet-dev/portbridge/domain/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValueHandler(t *testing.T) {
	var got any
	h := NewValueHandler(func(ctx context.Context, msg any) error {
		got = msg
		return nil
	})

	require.NoError(t, h(context.Background(), []byte(`{"a":[1,"x",null]}`)))
	assert.Equal(t, map[string]any{"a": []any{float64(1), "x", nil}}, got)
}

func TestNewValueHandler_Malformed(t *testing.T) {
	called := false
	h := NewValueHandler(func(ctx context.Context, msg any) error {
		called = true
		return nil
	})

	err := h(context.Background(), []byte(`{"a":`))
	require.Error(t, err)
	assert.False(t, called)

	var decErr *domainerrors.DecodeError
	assert.True(t, errors.As(err, &decErr))
}

func TestNewValueHandler_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	h := NewValueHandler(func(ctx context.Context, msg any) error { return boom })

	assert.ErrorIs(t, h(context.Background(), []byte(`1`)), boom)
}

func TestNewJSONHandler(t *testing.T) {
	type result struct {
		ID    string   `json:"id"`
		Score float64  `json:"score"`
		Tags  []string `json:"tags"`
	}

	var got result
	h := NewJSONHandler(func(ctx context.Context, r result) error {
		got = r
		return nil
	})

	require.NoError(t, h(context.Background(), []byte(`{"id":"r1","score":0.5,"tags":["a"]}`)))
	assert.Equal(t, result{ID: "r1", Score: 0.5, Tags: []string{"a"}}, got)
}

func TestNewJSONHandler_TypeMismatch(t *testing.T) {
	h := NewJSONHandler(func(ctx context.Context, n int) error { return nil })

	err := h(context.Background(), []byte(`"text"`))
	var decErr *domainerrors.DecodeError
	assert.True(t, errors.As(err, &decErr))
}
