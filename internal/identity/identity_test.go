package identity

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityStringParseRoundTrip(t *testing.T) {
	id := Identity{PID: 4242, StartToken: 99}
	parsed, err := Parse(id.String())
	require.NoError(t, err)
	assert.True(t, id.Equal(parsed))
}

func TestParseMalformed(t *testing.T) {
	tests := []string{"", "notanumber:1", "1:notanumber", "1", "1:2:3"}
	for _, line := range tests {
		_, err := Parse(line)
		assert.Error(t, err, "line %q should fail to parse", line)
	}
}

func TestEqual(t *testing.T) {
	a := Identity{PID: 1, StartToken: 2}
	b := Identity{PID: 1, StartToken: 2}
	c := Identity{PID: 1, StartToken: 3}
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestOfSelf(t *testing.T) {
	self, err := Of()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), self.PID)
	assert.True(t, IsLive(self), "the running test process must be observed as live")
}

func TestIsLiveRejectsStaleToken(t *testing.T) {
	self, err := Of()
	require.NoError(t, err)
	stale := Identity{PID: self.PID, StartToken: self.StartToken + 1}
	assert.False(t, IsLive(stale), "a mismatched start token must never be reported live")
}

func TestIsLiveRejectsImpossiblePID(t *testing.T) {
	// PID 1<<30 is far outside any PID namespace's allocatable range, so
	// the null-signal probe must fail and IsLive must report false rather
	// than erroring.
	assert.False(t, IsLive(Identity{PID: 1 << 30, StartToken: 1}))
}

func TestStartTimeUnknownPID(t *testing.T) {
	_, err := StartTime(1 << 30)
	assert.Error(t, err)
}
