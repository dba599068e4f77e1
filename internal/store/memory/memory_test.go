package store_memory

import (
	"context"
	"testing"

	"github.com/rankparty/core/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetMissingKey(t *testing.T) {
	d := New()

	_, err := d.Get(context.Background(), "rooms/XXXX")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSetThenGet(t *testing.T) {
	d := New()
	ctx := context.Background()

	require.NoError(t, d.Set(ctx, "rooms/ABCD", map[string]any{"prompt": "p"}))

	raw, err := d.Get(ctx, "rooms/ABCD")
	require.NoError(t, err)
	assert.JSONEq(t, `{"prompt":"p"}`, string(raw))
}

func TestUpdateMissingKey(t *testing.T) {
	d := New()

	err := d.Update(context.Background(), "rooms/XXXX", map[string]any{"status": "lobby"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSubscribeFiresImmediatelyAndOnChange(t *testing.T) {
	d := New()
	ctx := context.Background()
	require.NoError(t, d.Set(ctx, "rooms/ABCD", map[string]any{"status": "waiting"}))

	var got []string
	release, err := d.Subscribe("rooms/ABCD", func(doc []byte) {
		got = append(got, string(doc))
	})
	require.NoError(t, err)
	require.Len(t, got, 1, "current value delivered on subscribe")

	require.NoError(t, d.Update(ctx, "rooms/ABCD", map[string]any{"status": "lobby"}))
	require.Len(t, got, 2)
	assert.Contains(t, got[1], "lobby")

	release()
	release() // idempotent

	require.NoError(t, d.Update(ctx, "rooms/ABCD", map[string]any{"status": "completed"}))
	assert.Len(t, got, 2, "released subscriber no longer fires")
}

func TestSubscribeBeforeDocumentExists(t *testing.T) {
	d := New()
	ctx := context.Background()

	var got int
	release, err := d.Subscribe("rooms/ABCD", func([]byte) { got++ })
	require.NoError(t, err)
	defer release()

	assert.Zero(t, got, "no document, no initial delivery")

	require.NoError(t, d.Set(ctx, "rooms/ABCD", map[string]any{"status": "waiting"}))
	assert.Equal(t, 1, got)
}

func TestIndependentSubscribers(t *testing.T) {
	d := New()
	ctx := context.Background()
	require.NoError(t, d.Set(ctx, "rooms/ABCD", map[string]any{"n": 0}))

	var a, b int
	releaseA, err := d.Subscribe("rooms/ABCD", func([]byte) { a++ })
	require.NoError(t, err)
	_, err = d.Subscribe("rooms/ABCD", func([]byte) { b++ })
	require.NoError(t, err)

	releaseA()
	require.NoError(t, d.Update(ctx, "rooms/ABCD", map[string]any{"n": 1}))

	assert.Equal(t, 1, a, "only the initial delivery")
	assert.Equal(t, 2, b)
}
