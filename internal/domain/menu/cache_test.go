package menu

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	items []Item
	err   error
}

func (s *stubSource) FetchMenu(context.Context) ([]Item, error) {
	return s.items, s.err
}

func TestCache_Refresh(t *testing.T) {
	src := &stubSource{items: []Item{
		{ID: "1", Name: "Waffle", Price: decimal.RequireFromString("6.50")},
	}}
	c := NewCache(src)
	require.NotNil(t, c.Catalog())
	assert.Zero(t, c.Catalog().Len())
	assert.True(t, c.LoadedAt().IsZero())

	require.NoError(t, c.Refresh(context.Background()))
	assert.Equal(t, 1, c.Catalog().Len())
	assert.False(t, c.LoadedAt().IsZero())

	t.Run("failure keeps previous catalog", func(t *testing.T) {
		src.err = errors.New("boom")
		require.Error(t, c.Refresh(context.Background()))
		assert.True(t, c.Catalog().Has("1"))
	})

	t.Run("empty menu rejected", func(t *testing.T) {
		src.err = nil
		src.items = nil
		require.Error(t, c.Refresh(context.Background()))
		assert.True(t, c.Catalog().Has("1"))
	})
}

func TestCache_RunStopsOnCancel(t *testing.T) {
	c := NewCache(&stubSource{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, c.Run(ctx, 0))
}
