package harness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestArmDeadlineNeverForNonPositiveDuration(t *testing.T) {
	h := New()
	cancel := h.ArmDeadline(0)
	defer cancel()
	assert.False(t, h.Alarmed())

	cancel2 := h.ArmDeadline(-1 * time.Second)
	defer cancel2()
	assert.False(t, h.Alarmed())
}

func TestArmDeadlineFiresAndStaysFired(t *testing.T) {
	h := New()
	cancel := h.ArmDeadline(10 * time.Millisecond)
	defer cancel()

	assert.False(t, h.Alarmed(), "deadline should not have elapsed immediately")
	assert.Eventually(t, h.Alarmed, time.Second, time.Millisecond)
	// Alarmed must stay true on repeated polls -- unlike a one-shot flag,
	// nothing here consumes the deadline.
	assert.True(t, h.Alarmed())
	assert.True(t, h.Alarmed())
}

func TestCancelDisarmsDeadline(t *testing.T) {
	h := New()
	cancel := h.ArmDeadline(5 * time.Millisecond)
	cancel()
	time.Sleep(20 * time.Millisecond)
	assert.False(t, h.Alarmed(), "a cancelled deadline must never report alarmed")
}

func TestWatchFatalSignalsStopDoesNotRelease(t *testing.T) {
	h := New()
	released := false
	h.WatchFatalSignals(func() { released = true })
	h.Stop()
	assert.False(t, released, "Stop alone must not trigger the release callback")
}
