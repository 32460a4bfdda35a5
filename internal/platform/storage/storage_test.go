package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewS3FileStoreValidation(t *testing.T) {
	ctx := context.Background()

	_, err := NewS3FileStore(ctx, Config{AccessKey: "k", SecretKey: "s"})
	require.ErrorContains(t, err, "bucket is required")

	_, err = NewS3FileStore(ctx, Config{Bucket: "b", AccessKey: "k"})
	require.ErrorContains(t, err, "secret key")

	store, err := NewS3FileStore(ctx, Config{Bucket: "invoices", AccessKey: "k", SecretKey: "s", Endpoint: "localhost:9000", UsePathStyle: true})
	require.NoError(t, err)
	require.Equal(t, "invoices", store.Bucket())
}

func TestObjectKey(t *testing.T) {
	a := ObjectKey("payments/7", "proof.pdf")
	b := ObjectKey("payments/7", "proof.pdf")
	require.NotEqual(t, a, b)
	require.True(t, strings.HasPrefix(a, "payments/7/"))
	require.True(t, strings.HasSuffix(a, "-proof.pdf"))

	require.False(t, strings.Contains(ObjectKey("x", `..\..\etc\passwd`), ".."))
	require.Len(t, strings.TrimPrefix(ObjectKey("x", ""), "x/"), 36)
	require.Len(t, strings.TrimPrefix(ObjectKey("x", ".."), "x/"), 36)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	key, err := m.Store(ctx, "a/b.txt", strings.NewReader("hello"), "text/plain")
	require.NoError(t, err)
	got, ok := m.Get(key)
	require.True(t, ok)
	require.Equal(t, "hello", string(got))

	require.NoError(t, m.Delete(ctx, key))
	require.Empty(t, m.Keys())
	require.Equal(t, []string{"a/b.txt"}, m.Deleted())
}
