package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giok57/lazoooSplash/internal/state"
)

func TestStoreJournal_PersistsRegistryChanges(t *testing.T) {
	store, err := state.NewSQLiteStore(state.DefaultOptions(":memory:"))
	require.NoError(t, err)
	defer store.Close()

	j, err := NewStoreJournal(store, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go j.Run(ctx)

	r, _ := newTestRegistry(WithJournal(j))
	require.NoError(t, r.Insert(Session{MAC: "aa:bb:cc:00:00:01", IP: "10.0.0.5", Token: "tok1"}))
	require.NoError(t, r.WithLock(func(tx *Txn) error {
		if err := tx.UpdateState("aa:bb:cc:00:00:01", Authenticated); err != nil {
			return err
		}
		return tx.SetQuota("aa:bb:cc:00:00:01", Quota{Seconds: 3600, BandwidthKbps: 1000})
	}))
	require.NoError(t, r.Insert(Session{MAC: "aa:bb:cc:00:00:02", IP: "10.0.0.6"}))
	r.Remove("aa:bb:cc:00:00:02")

	flushCtx, flushCancel := context.WithTimeout(ctx, 5*time.Second)
	defer flushCancel()
	require.NoError(t, j.Flush(flushCtx))

	loaded, err := j.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	s := loaded[0]
	assert.Equal(t, "aa:bb:cc:00:00:01", s.MAC)
	assert.Equal(t, "10.0.0.5", s.IP)
	assert.Equal(t, "tok1", s.Token)
	assert.Equal(t, Authenticated, s.State)
	assert.Equal(t, Quota{Seconds: 3600, BandwidthKbps: 1000}, s.Quota)
	assert.True(t, t0.Equal(s.AuthenticatedAt))
}

func TestStoreJournal_KeepsLastChangePerClient(t *testing.T) {
	store, err := state.NewSQLiteStore(state.DefaultOptions(":memory:"))
	require.NoError(t, err)
	defer store.Close()

	j, err := NewStoreJournal(store, nil)
	require.NoError(t, err)

	// Run is not started: a burst of changes piles up without loss.
	for i := 0; i < 5000; i++ {
		j.Save(Session{MAC: fmt.Sprintf("aa:bb:cc:00:%02x:%02x", i/256%256, i%256), State: Authenticated})
	}
	j.Save(Session{MAC: "aa:bb:cc:00:00:01", State: Deauthenticated})
	j.Delete("aa:bb:cc:00:00:02")
	assert.Equal(t, 5000, j.Pending())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	j.Run(ctx)
	assert.Zero(t, j.Pending())

	loaded, err := j.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 4999)
	byMAC := make(map[string]Session, len(loaded))
	for _, s := range loaded {
		byMAC[s.MAC] = s
	}
	assert.Equal(t, Deauthenticated, byMAC["aa:bb:cc:00:00:01"].State, "final deauthentication is not lost")
	assert.NotContains(t, byMAC, "aa:bb:cc:00:00:02")

	// A change recorded after Run returned is written by Drain.
	j.Delete("aa:bb:cc:00:00:01")
	j.Drain()
	loaded, err = j.Load()
	require.NoError(t, err)
	assert.Len(t, loaded, 4998)
}

func TestStoreJournal_RunDrainsOnCancel(t *testing.T) {
	store, err := state.NewSQLiteStore(state.DefaultOptions(":memory:"))
	require.NoError(t, err)
	defer store.Close()

	j, err := NewStoreJournal(store, nil)
	require.NoError(t, err)
	j.Save(Session{MAC: "aa:bb:cc:00:00:01", State: Authenticated})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	j.Run(ctx)

	loaded, err := j.Load()
	require.NoError(t, err)
	assert.Len(t, loaded, 1)
}
