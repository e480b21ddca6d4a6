package firewall

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type opRecorder struct {
	mu  sync.Mutex
	ops []string
}

func (r *opRecorder) FirewallOp(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		op += ":error"
	}
	r.ops = append(r.ops, op)
}

func TestSynchronizer_GrantIsIdempotent(t *testing.T) {
	backend := NewMockBackend().Permissive()
	syncer := NewSynchronizer(backend)
	require.NoError(t, syncer.Initialize())

	require.NoError(t, syncer.Grant("10.0.0.5"))
	require.NoError(t, syncer.Grant("10.0.0.5"))

	backend.AssertNumberOfCalls(t, "Allow", 1)
	assert.Equal(t, []string{"10.0.0.5"}, backend.Authorized())
	assert.Equal(t, []string{"10.0.0.5"}, syncer.Installed())
	assert.True(t, syncer.IsGranted("10.0.0.5"))
}

func TestSynchronizer_RevokeOnlyWhenGranted(t *testing.T) {
	backend := NewMockBackend().Permissive()
	syncer := NewSynchronizer(backend)

	require.NoError(t, syncer.Revoke("10.0.0.5"))
	backend.AssertNotCalled(t, "Disallow", mock.Anything)

	require.NoError(t, syncer.Grant("10.0.0.5"))
	require.NoError(t, syncer.Revoke("10.0.0.5"))
	require.NoError(t, syncer.Revoke("10.0.0.5"))
	backend.AssertNumberOfCalls(t, "Disallow", 1)
	assert.Empty(t, backend.Authorized())
}

func TestSynchronizer_FailedGrantRetriesNextTime(t *testing.T) {
	backend := NewMockBackend()
	backend.On("Allow", "10.0.0.5").Return(errors.New("netlink busy")).Once()
	backend.Permissive()

	rec := &opRecorder{}
	syncer := NewSynchronizer(backend, WithObserver(rec))

	err := syncer.Grant("10.0.0.5")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "netlink busy")
	assert.False(t, syncer.IsGranted("10.0.0.5"))

	require.NoError(t, syncer.Grant("10.0.0.5"))
	assert.True(t, syncer.IsGranted("10.0.0.5"))
	assert.Equal(t, []string{"grant:error", "grant"}, rec.ops)
}

func TestSynchronizer_RejectsNonIPv4(t *testing.T) {
	syncer := NewSynchronizer(NewMockBackend())
	assert.ErrorIs(t, syncer.Grant("fe80::1"), ErrNotIPv4)
	assert.ErrorIs(t, syncer.Grant("bogus"), ErrNotIPv4)
	assert.ErrorIs(t, syncer.GrantPassthrough(""), ErrNotIPv4)
}

func TestSynchronizer_Passthrough(t *testing.T) {
	backend := NewMockBackend().Permissive()
	syncer := NewSynchronizer(backend)

	for i := 0; i < 3; i++ {
		require.NoError(t, syncer.GrantPassthrough("93.184.216.34"))
	}
	backend.AssertNumberOfCalls(t, "AllowPassthrough", 1)
	assert.Equal(t, []string{"93.184.216.34"}, syncer.Passthrough())
	assert.Empty(t, syncer.Installed(), "passthrough does not authorize clients")

	require.NoError(t, syncer.RevokePassthrough("93.184.216.34"))
	assert.Empty(t, backend.Whitelisted())
}

func TestSynchronizer_TeardownRunsOnce(t *testing.T) {
	backend := NewMockBackend().Permissive()
	syncer := NewSynchronizer(backend)
	require.NoError(t, syncer.Grant("10.0.0.5"))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = syncer.Teardown()
		}()
	}
	wg.Wait()

	assert.False(t, syncer.Ready())
	backend.AssertNumberOfCalls(t, "Teardown", 1)
	assert.Empty(t, syncer.Installed())
}

func TestSynchronizer_TeardownErrorIsSticky(t *testing.T) {
	backend := NewMockBackend()
	backend.On("Teardown").Return(errors.New("permission denied")).Once()

	syncer := NewSynchronizer(backend)
	require.Error(t, syncer.Teardown())
	require.Error(t, syncer.Teardown())
	backend.AssertNumberOfCalls(t, "Teardown", 1)
}

func TestSynchronizer_InitializeRetries(t *testing.T) {
	backend := NewMockBackend()
	backend.On("Init").Return(errors.New("resource busy")).Twice()
	backend.On("Init").Return(nil).Once()

	syncer := NewSynchronizer(backend, WithInitRetry(3, time.Millisecond))
	assert.False(t, syncer.Ready())
	require.NoError(t, syncer.Initialize())
	assert.True(t, syncer.Ready())
	backend.AssertNumberOfCalls(t, "Init", 3)
}

func TestSynchronizer_InitializeGivesUp(t *testing.T) {
	backend := NewMockBackend()
	backend.On("Init").Return(errors.New("no nf_tables"))

	syncer := NewSynchronizer(backend, WithInitRetry(2, time.Millisecond))
	err := syncer.Initialize()
	require.Error(t, err)
	assert.False(t, syncer.Ready())
	assert.Contains(t, err.Error(), "no nf_tables")
	backend.AssertNumberOfCalls(t, "Init", 2)
}

func TestSynchronizer_InitializeReappliesTracked(t *testing.T) {
	backend := NewMockBackend().Permissive()
	syncer := NewSynchronizer(backend)
	require.NoError(t, syncer.Initialize())
	require.NoError(t, syncer.Grant("10.0.0.5"))
	require.NoError(t, syncer.GrantPassthrough("1.1.1.1"))

	require.NoError(t, syncer.Initialize())
	assert.Equal(t, []string{"10.0.0.5"}, backend.Authorized())
	assert.Equal(t, []string{"1.1.1.1"}, backend.Whitelisted())
}

func TestSynchronizer_Reconcile(t *testing.T) {
	backend := NewMockBackend().Permissive()
	syncer := NewSynchronizer(backend)
	require.NoError(t, syncer.Grant("10.0.0.1"))
	require.NoError(t, syncer.Grant("10.0.0.2"))

	granted, revoked, err := syncer.Reconcile([]string{"10.0.0.2", "10.0.0.3", "10.0.0.3"})
	require.NoError(t, err)
	assert.Equal(t, 1, granted)
	assert.Equal(t, 1, revoked)
	assert.Equal(t, []string{"10.0.0.2", "10.0.0.3"}, syncer.Installed())
	assert.Equal(t, []string{"10.0.0.2", "10.0.0.3"}, backend.Authorized())

	_, _, err = syncer.Reconcile([]string{"not-an-ip"})
	assert.ErrorIs(t, err, ErrNotIPv4)
}
