package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionBucket(t *testing.T) {
	for name, factory := range backends {
		t.Run(name, func(t *testing.T) {
			b, err := NewSessionBucket(factory(t))
			require.NoError(t, err)

			now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
			rec := &SessionRecord{
				MAC:          "AA:BB:CC:DD:EE:01",
				IP:           "10.0.0.5",
				Token:        "tok-1",
				State:        "authenticated",
				CreatedAt:    now,
				LastActivity: now,
			}
			require.NoError(t, b.Put(rec))

			got, err := b.Get("aa:bb:cc:dd:ee:01")
			require.NoError(t, err)
			assert.Equal(t, "tok-1", got.Token)
			assert.True(t, now.Equal(got.CreatedAt))

			list, err := b.List()
			require.NoError(t, err)
			assert.Len(t, list, 1)

			require.NoError(t, b.Delete("aa:bb:cc:dd:ee:01"))
			require.NoError(t, b.Delete("aa:bb:cc:dd:ee:01"), "deleting twice is fine")

			_, err = b.Get("aa:bb:cc:dd:ee:01")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestSessionBucket_ReopenExisting(t *testing.T) {
	s := sqliteFactory(t)
	_, err := NewSessionBucket(s)
	require.NoError(t, err)
	_, err = NewSessionBucket(s)
	require.NoError(t, err)
}

func TestRemoteBucket(t *testing.T) {
	b, err := NewRemoteBucket(redisFactory(t))
	require.NoError(t, err)

	_, err = b.Load()
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, b.Save(&RemoteRecord{Token: "gw-token", LastStatus: 200}))
	rec, err := b.Load()
	require.NoError(t, err)
	assert.Equal(t, "gw-token", rec.Token)
	assert.Equal(t, 200, rec.LastStatus)
}
