// Package acquirer implements the multi-lock acquisition strategy: a quick
// sweep of free/, a randomised full scan, and a global-latch-serialised
// change-notification wait, per §4.5.
package acquirer

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/sandboxhost/boxlock/internal/boxid"
	"github.com/sandboxhost/boxlock/internal/harness"
	"github.com/sandboxhost/boxlock/internal/pidlock"
)

// Timeout encodes the three acquisition regimes from §4.5: negative is
// non-blocking, zero blocks indefinitely, positive blocks up to that many
// seconds.
type Timeout float64

// NonBlocking reports whether the timeout forbids the wait phase entirely.
func (t Timeout) NonBlocking() bool { return t < 0 }

// Infinite reports whether the wait phase should block with no deadline.
func (t Timeout) Infinite() bool { return t == 0 }

// Duration converts a positive timeout to a time.Duration.
func (t Timeout) Duration() time.Duration {
	return time.Duration(float64(t) * float64(time.Second))
}

// Acquirer runs the multi-lock strategy against one pidlock.Protocol.
type Acquirer struct {
	Protocol *pidlock.Protocol
	Harness  *harness.Harness
	BoxCount int

	// rng is seeded once per Acquirer, from wall-clock time and pid, per
	// the REDESIGN FLAG recommending a genuine Fisher-Yates shuffle over
	// the source's biased bit-mix generator.
	rng *rand.Rand
}

// New builds an Acquirer for boxCount boxes against protocol, wrapped by h.
func New(protocol *pidlock.Protocol, h *harness.Harness, boxCount int) *Acquirer {
	seed := time.Now().UnixNano() ^ int64(os.Getpid())
	return &Acquirer{
		Protocol: protocol,
		Harness:  h,
		BoxCount: boxCount,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// Acquire attempts to obtain k boxes within the given timeout regime. It is
// transactional: on any outcome short of k boxes, every box obtained during
// this call is released before returning, so a failed call never consumes
// boxes out of free/ (P4).
func (a *Acquirer) Acquire(k int, timeout Timeout) []int {
	a.scanFree(k)
	a.scanAll(k)

	if a.Protocol.Holdings.Len() >= k {
		return a.Protocol.Holdings.Snapshot()
	}

	// Release current partial holdings before blocking, so two multi-box
	// acquirers can never each hold part of what the other needs.
	a.Protocol.ReleaseAllHeld(context.Background())

	if timeout.NonBlocking() {
		return nil
	}

	return a.waitPath(k, timeout)
}

// waitPath implements §4.5 phase 3: latch, watch, retry.
func (a *Acquirer) waitPath(k int, timeout Timeout) []int {
	var cancel func()
	if timeout.Infinite() {
		cancel = a.Harness.ArmDeadline(0)
	} else {
		cancel = a.Harness.ArmDeadline(timeout.Duration())
	}
	defer cancel()

	if k > 1 {
		unlock, ok := a.acquireLatch()
		if !ok {
			return nil
		}
		defer unlock()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logrus.WithError(err).Warn("could not install free directory watch")
		a.Protocol.ReleaseAllHeld(context.Background())
		return nil
	}
	defer watcher.Close()

	freeDir := a.freeDir()
	if err := watcher.Add(freeDir); err != nil {
		logrus.WithError(err).Warn("could not watch free directory")
		a.Protocol.ReleaseAllHeld(context.Background())
		return nil
	}

	// A box may have freed between the latch/watch setup and now.
	a.scanFree(k)

	const backstop = 100 * time.Millisecond
	ticker := time.NewTicker(backstop)
	defer ticker.Stop()

	for a.Protocol.Holdings.Len() < k && !a.Harness.Alarmed() {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				break
			}
			if event.Op&(fsnotify.Create|fsnotify.Rename|fsnotify.Write) != 0 {
				a.scanFree(k)
			}
		case <-watcher.Errors:
			// Keep polling; a transient watch error shouldn't abort the wait.
		case <-ticker.C:
			// Backstop: re-checks the alarm predicate every tick even if no
			// filesystem event arrives, mirroring the itimer's 100ms
			// interval backstop.
		}
	}

	if a.Protocol.Holdings.Len() < k {
		a.Protocol.ReleaseAllHeld(context.Background())
		return nil
	}
	return a.Protocol.Holdings.Snapshot()
}

// acquireLatch opens free/ and blocks, under the harness deadline, until an
// exclusive advisory lock on it is obtained. This serialises multi-box
// acquirers so two brokers each wanting 2-of-2 available boxes cannot
// deadlock by each grabbing one.
func (a *Acquirer) acquireLatch() (unlock func(), ok bool) {
	fd, err := unix.Open(a.freeDir(), unix.O_RDONLY, 0)
	if err != nil {
		logrus.WithError(err).Warn("could not open free directory for latch")
		return nil, false
	}

	const retryInterval = 20 * time.Millisecond
	for {
		err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return func() {
				_ = unix.Flock(fd, unix.LOCK_UN)
				_ = unix.Close(fd)
			}, true
		}
		if a.Harness.Alarmed() {
			_ = unix.Close(fd)
			return nil, false
		}
		time.Sleep(retryInterval)
	}
}

// pidlockEntry matches "<b>.pidlock" filenames.
var pidlockEntry = regexp.MustCompile(`^(\d+)\.pidlock$`)

// scanFree sweeps free/ for candidate boxes in a shuffled order, trying
// each until k are held or the directory is exhausted.
func (a *Acquirer) scanFree(k int) {
	if a.Protocol.Holdings.Len() >= k {
		return
	}
	entries, err := os.ReadDir(a.freeDir())
	if err != nil {
		logrus.WithError(err).Warn("could not list free directory")
		return
	}

	boxes := make([]int, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := pidlockEntry.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		b, err := strconv.Atoi(m[1])
		if err != nil || !boxid.Valid(a.BoxCount, b) {
			continue
		}
		boxes = append(boxes, b)
	}
	a.shuffle(boxes)

	for _, b := range boxes {
		if ok, err := a.Protocol.TryAcquire(b); err != nil {
			logrus.WithField("box", b).WithError(err).Warn("error acquiring box during free-directory sweep")
		} else if ok && a.Protocol.Holdings.Len() >= k {
			return
		}
	}
}

// scanAll walks every box in a randomised rotation starting from a uniform
// random offset, trying each until k are held.
func (a *Acquirer) scanAll(k int) {
	if a.Protocol.Holdings.Len() >= k || a.BoxCount == 0 {
		return
	}
	offset := a.rng.Intn(a.BoxCount)
	for i := 0; i < a.BoxCount; i++ {
		b := (offset + i) % a.BoxCount
		if ok, err := a.Protocol.TryAcquire(b); err != nil {
			logrus.WithField("box", b).WithError(err).Warn("error acquiring box during full scan")
		} else if ok && a.Protocol.Holdings.Len() >= k {
			return
		}
	}
}

// shuffle performs a Fisher-Yates shuffle of boxes in place, per the
// REDESIGN FLAG calling out the source's biased bit-mix enumerator.
func (a *Acquirer) shuffle(boxes []int) {
	for i := len(boxes) - 1; i > 0; i-- {
		j := a.rng.Intn(i + 1)
		boxes[i], boxes[j] = boxes[j], boxes[i]
	}
}

func (a *Acquirer) freeDir() string {
	return filepath.Clean(a.Protocol.Layout.Free)
}
