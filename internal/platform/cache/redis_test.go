package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPingsServer(t *testing.T) {
	srv := miniredis.RunT(t)
	srv.RequireAuth("s3cret")

	client, err := New(context.Background(), Options{Addr: srv.Addr(), Password: "s3cret"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	srv.CheckGet(t, "k", "v")
}

func TestNewRejectsBadPassword(t *testing.T) {
	srv := miniredis.RunT(t)
	srv.RequireAuth("s3cret")

	client, err := New(context.Background(), Options{Addr: srv.Addr(), Password: "wrong"})
	assert.Nil(t, client)
	require.Error(t, err)
	assert.Contains(t, err.Error(), srv.Addr())
}
