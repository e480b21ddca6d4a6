package state

import (
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storeFactory func(t *testing.T) Store

func sqliteFactory(t *testing.T) Store {
	s, err := NewSQLiteStore(DefaultOptions(":memory:"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func redisFactory(t *testing.T) Store {
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(RedisOptions{Addr: mr.Addr(), Prefix: "test:"})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var backends = map[string]storeFactory{
	"sqlite": sqliteFactory,
	"redis":  redisFactory,
}

func TestBucketOperations(t *testing.T) {
	for name, factory := range backends {
		t.Run(name, func(t *testing.T) {
			s := factory(t)

			require.NoError(t, s.CreateBucket("test"))
			assert.ErrorIs(t, s.CreateBucket("test"), ErrBucketExists)

			buckets, err := s.ListBuckets()
			require.NoError(t, err)
			assert.Equal(t, []string{"test"}, buckets)

			require.NoError(t, s.DeleteBucket("test"))
			assert.ErrorIs(t, s.DeleteBucket("nonexistent"), ErrBucketMissing)

			buckets, err = s.ListBuckets()
			require.NoError(t, err)
			assert.Empty(t, buckets)
		})
	}
}

func TestKeyValueOperations(t *testing.T) {
	for name, factory := range backends {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			require.NoError(t, s.CreateBucket("kv"))

			_, err := s.Get("kv", "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Set("kv", "a", []byte("1")))
			require.NoError(t, s.Set("kv", "b", []byte("2")))
			require.NoError(t, s.Set("kv", "a", []byte("3")))

			v, err := s.Get("kv", "a")
			require.NoError(t, err)
			assert.Equal(t, []byte("3"), v)

			all, err := s.List("kv")
			require.NoError(t, err)
			assert.Len(t, all, 2)

			require.NoError(t, s.Delete("kv", "a"))
			assert.ErrorIs(t, s.Delete("kv", "a"), ErrNotFound)

			assert.ErrorIs(t, s.Set("nobucket", "k", []byte("v")), ErrBucketMissing)
		})
	}
}

func TestClosedStore(t *testing.T) {
	for name, factory := range backends {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			require.NoError(t, s.Close())
			require.NoError(t, s.Close())

			_, err := s.Get("b", "k")
			assert.ErrorIs(t, err, ErrStoreClosed)
			assert.ErrorIs(t, s.CreateBucket("b"), ErrStoreClosed)
		})
	}
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := NewSQLiteStore(DefaultOptions(path))
	require.NoError(t, err)
	require.NoError(t, s.CreateBucket("b"))
	require.NoError(t, s.Set("b", "k", []byte("v")))
	assert.Equal(t, uint64(1), s.CurrentVersion())
	require.NoError(t, s.Close())

	s2, err := NewSQLiteStore(DefaultOptions(path))
	require.NoError(t, err)
	defer s2.Close()

	v, err := s2.Get("b", "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)
	assert.Equal(t, uint64(1), s2.CurrentVersion())
}
