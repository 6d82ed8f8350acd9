// Package identity reads process identity from the kernel's per-process
// metadata and answers liveness queries that are safe under PID reuse.
package identity

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/sandboxhost/boxlock/internal/boxerrors"
)

// Identity is a (pid, start-time-token) pair that remains unique across PID
// reuse: two processes that share a pid at different times carry different
// tokens.
type Identity struct {
	PID        int
	StartToken uint64
}

// String renders the identity in the on-disk "<pid>:<token>" line format.
func (id Identity) String() string {
	return fmt.Sprintf("%d:%d", id.PID, id.StartToken)
}

// Equal reports whether two identities name the same process incarnation.
func (id Identity) Equal(other Identity) bool {
	return id.PID == other.PID && id.StartToken == other.StartToken
}

// Parse reads a single "<pid>:<token>" line.
func Parse(line string) (Identity, error) {
	line = strings.TrimSpace(line)
	parts := strings.SplitN(line, ":", 2)
	if len(parts) != 2 {
		return Identity{}, errors.Errorf("malformed identity line %q", line)
	}
	pid, err := strconv.Atoi(parts[0])
	if err != nil {
		return Identity{}, errors.Wrapf(err, "malformed pid in %q", line)
	}
	tok, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return Identity{}, errors.Wrapf(err, "malformed start token in %q", line)
	}
	return Identity{PID: pid, StartToken: tok}, nil
}

// Of returns the current process's own identity.
func Of() (Identity, error) {
	return ofPID(os.Getpid())
}

// OfParent returns the identity of the process's parent.
func OfParent() (Identity, error) {
	return ofPID(os.Getppid())
}

func ofPID(pid int) (Identity, error) {
	tok, err := StartTime(pid)
	if err != nil {
		return Identity{}, err
	}
	return Identity{PID: pid, StartToken: tok}, nil
}

// StartTime reads the process-start field (the 22nd whitespace-delimited
// field of /proc/<pid>/stat, in clock ticks since boot) for pid. It fails
// fatally in spirit: any caller that cannot resolve this cannot reason about
// liveness and should treat the error (ErrKernelMetadataRead or
// ErrKernelMetadataParse) as fatal.
func StartTime(pid int) (uint64, error) {
	path := fmt.Sprintf("/proc/%d/stat", pid)
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrapf(boxerrors.ErrKernelMetadataRead, "open %s: %v", path, err)
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 512)
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return 0, errors.Wrapf(boxerrors.ErrKernelMetadataRead, "read %s: %v", path, err)
	}

	// Field 2 (comm) is parenthesized and may itself contain spaces or
	// closing parens, so split on the last ')' rather than whitespace.
	closeParen := strings.LastIndexByte(line, ')')
	if closeParen < 0 {
		return 0, errors.Wrapf(boxerrors.ErrKernelMetadataParse, "unparseable stat record for pid %d", pid)
	}
	rest := strings.Fields(line[closeParen+1:])
	// rest[0] is field 3 (state); field 22 is rest[22-3] = rest[19].
	const startTimeIndex = 22 - 3
	if len(rest) <= startTimeIndex {
		return 0, errors.Wrapf(boxerrors.ErrKernelMetadataParse, "stat record for pid %d too short", pid)
	}
	tok, err := strconv.ParseUint(rest[startTimeIndex], 10, 64)
	if err != nil {
		return 0, errors.Wrapf(boxerrors.ErrKernelMetadataParse, "parsing start time for pid %d: %v", pid, err)
	}
	return tok, nil
}

// IsLive returns true iff a null-signal probe succeeds and the process's
// current start-time token still matches id's. Any failure -- including the
// process having exited entirely -- is interpreted as "not live". The null
// signal is used rather than /proc existence so that a process we lack
// permission to signal, but which nevertheless exists, is still reported
// live.
func IsLive(id Identity) bool {
	if err := unix.Kill(id.PID, 0); err != nil && err != unix.EPERM {
		return false
	}
	tok, err := StartTime(id.PID)
	if err != nil {
		logrus.WithField("pid", id.PID).Debug("start time unavailable during liveness check")
		return false
	}
	return tok == id.StartToken
}
