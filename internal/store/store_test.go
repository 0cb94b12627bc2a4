package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/flashgen/internal/config"
	"github.com/digkill/flashgen/internal/database"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "a", []byte("one")))
	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "one", string(got))

	require.NoError(t, s.Set(ctx, "a", []byte("two")))
	got, err = s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "two", string(got))

	require.NoError(t, s.Delete(ctx, "a"))
	_, err = s.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Delete(ctx, "never-set"))
}

func TestMemory(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestMemory_CopiesValues(t *testing.T) {
	m := NewMemory()
	buf := []byte("abc")
	require.NoError(t, m.Set(context.Background(), "k", buf))
	buf[0] = 'x'
	got, _ := m.Get(context.Background(), "k")
	assert.Equal(t, "abc", string(got))
}

func TestSQLite(t *testing.T) {
	s, err := OpenSQL(context.Background(), database.DialectSQLite, filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	exerciseStore(t, s)
}

func TestNamespaced(t *testing.T) {
	inner := NewMemory()
	s := WithNamespace("alpha", inner)
	exerciseStore(t, s)

	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "results", []byte("[]")))
	raw, err := inner.Get(ctx, "alpha:results")
	require.NoError(t, err)
	assert.Equal(t, "[]", string(raw))

	other := WithNamespace("beta", inner)
	_, err = other.Get(ctx, "results")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Same(t, inner, WithNamespace("", inner))
}

func TestOpen(t *testing.T) {
	s, err := Open(context.Background(), config.Config{StoreDriver: config.StoreMemory, StoreNamespace: "ns"})
	require.NoError(t, err)
	exerciseStore(t, s)

	s, err = Open(context.Background(), config.Config{
		StoreDriver: config.StoreSQLite,
		StoreDSN:    filepath.Join(t.TempDir(), "open.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	exerciseStore(t, s)

	_, err = Open(context.Background(), config.Config{StoreDriver: "etcd"})
	assert.Error(t, err)

	_, err = Open(context.Background(), config.Config{StoreDriver: config.StoreS3})
	assert.Error(t, err)
}

func TestS3ObjectKey(t *testing.T) {
	s, err := NewS3(S3Config{Region: "us-east-1", AccessKey: "a", SecretKey: "b", Bucket: "bkt", Prefix: "/data/"})
	require.NoError(t, err)
	assert.Equal(t, "data/ns/results.json", s.objectKey("ns:results"))
}
