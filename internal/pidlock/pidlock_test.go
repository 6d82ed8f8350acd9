package pidlock

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandboxhost/boxlock/internal/boxerrors"
	"github.com/sandboxhost/boxlock/internal/identity"
	"github.com/sandboxhost/boxlock/internal/lockdir"
	"github.com/sandboxhost/boxlock/internal/sandboxrunner"
)

func newTestProtocol(t *testing.T, self identity.Identity) *Protocol {
	t.Helper()
	layout, err := lockdir.Ensure(t.TempDir())
	require.NoError(t, err)
	return New(layout, self, self, sandboxrunner.New("true"))
}

func selfIdentity(t *testing.T) identity.Identity {
	t.Helper()
	id, err := identity.Of()
	require.NoError(t, err)
	return id
}

// deadIdentity names a process that the kernel will reject any null-signal
// probe against, simulating a pidlock record left by a crashed holder.
func deadIdentity() identity.Identity {
	return identity.Identity{PID: 1 << 30, StartToken: 1}
}

func TestTryAcquireGrantsFreeBox(t *testing.T) {
	p := newTestProtocol(t, selfIdentity(t))
	ok, err := p.TryAcquire(0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []int{0}, p.Holdings.Snapshot())
}

func TestTryAcquireRejectsAlreadyHeldBox(t *testing.T) {
	self := selfIdentity(t)
	p := newTestProtocol(t, self)
	ok, err := p.TryAcquire(0)
	require.NoError(t, err)
	require.True(t, ok)

	// The contender's identity must be live but distinct from self, or
	// TryAcquire would treat it as re-entrant acquisition of its own
	// queue slot. The parent process (e.g. the test runner) is live and
	// distinct from this test binary's own pid.
	contender, err := identity.OfParent()
	require.NoError(t, err)
	require.NotEqual(t, self.PID, contender.PID)
	other := New(p.Layout, contender, contender, sandboxrunner.New("true"))
	ok, err = other.TryAcquire(0)
	require.NoError(t, err)
	assert.False(t, ok, "a second holder must never win a box already held live")
}

func TestTryAcquireRecoversDeadHolder(t *testing.T) {
	layout, err := lockdir.Ensure(t.TempDir())
	require.NoError(t, err)

	dead := deadIdentity()
	require.NoError(t, os.WriteFile(layout.LockPath(0), []byte(dead.String()+"\n"), 0o666))

	self := selfIdentity(t)
	p := New(layout, self, self, sandboxrunner.New("true"))
	ok, err := p.TryAcquire(0)
	require.NoError(t, err)
	assert.True(t, ok, "a box held by a dead identity must be recoverable")
}

func TestReleaseRoundTrip(t *testing.T) {
	p := newTestProtocol(t, selfIdentity(t))
	ok, err := p.TryAcquire(2)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, p.Release(context.Background(), 2, nil))
	assert.Equal(t, 0, p.Holdings.Len())

	if _, err := os.Stat(p.Layout.FreePath(2)); err != nil {
		t.Fatalf("expected freed pidlock file at %s: %v", p.Layout.FreePath(2), err)
	}
}

func TestReleaseRejectsNonOwner(t *testing.T) {
	self := selfIdentity(t)
	p := newTestProtocol(t, self)
	ok, err := p.TryAcquire(1)
	require.NoError(t, err)
	require.True(t, ok)

	stranger := New(p.Layout, deadIdentity(), identity.Identity{PID: os.Getpid() + 1, StartToken: 1}, sandboxrunner.New("true"))
	err = stranger.Release(context.Background(), 1, nil)
	assert.ErrorIs(t, err, boxerrors.ErrNotYours)
}

func TestReleaseRejectsMissingPidlock(t *testing.T) {
	p := newTestProtocol(t, selfIdentity(t))
	err := p.Release(context.Background(), 9, nil)
	assert.ErrorIs(t, err, boxerrors.ErrInvalidPidlock)
}

func TestReleaseAllHeldClearsHoldings(t *testing.T) {
	p := newTestProtocol(t, selfIdentity(t))
	for _, b := range []int{0, 1, 2} {
		ok, err := p.TryAcquire(b)
		require.NoError(t, err)
		require.True(t, ok)
	}

	p.ReleaseAllHeld(context.Background())
	assert.Equal(t, 0, p.Holdings.Len())
}
