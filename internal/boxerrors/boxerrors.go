// Package boxerrors defines the sentinel error kinds the driver maps to
// exit codes, and the corresponding exit code table from the command-line
// surface.
package boxerrors

import "errors"

// Exit codes, per the command-line surface table.
const (
	ExitOK                  = 0
	ExitInsufficientBoxes   = 1
	ExitUsage               = 2
	ExitInvalidBoxID        = 3
	ExitFreeNoID            = 4
	ExitInvalidOption       = 7
	ExitInitFailed          = 10
	ExitKernelMetadataRead  = 11
	ExitKernelMetadataParse = 12
	ExitSandboxInitFailed   = 256
)

// Sentinel kinds, one per §7 error kind. Wrap these with
// github.com/pkg/errors so callers retain the underlying cause while the
// driver still recovers the kind via errors.Is.
var (
	// ErrConfiguration covers host-probe failures and zero box counts
	// encountered during startup.
	ErrConfiguration = errors.New("configuration error")
	// ErrPermission covers lock-directory setup failures and pidlock open
	// and rename failures during acquisition or release.
	ErrPermission = errors.New("permission error")
	// ErrInvalidBoxID covers an out-of-range box identifier.
	ErrInvalidBoxID = errors.New("invalid box id")
	// ErrFreeNoID covers a free-mode invocation with no box id supplied.
	ErrFreeNoID = errors.New("no box id supplied to free")
	// ErrInvalidOption covers a malformed pass-through option.
	ErrInvalidOption = errors.New("invalid pass-through option")
	// ErrInsufficientBoxes covers a lock budget exhausted without reaching k.
	ErrInsufficientBoxes = errors.New("insufficient boxes available")
	// ErrNotYours covers a release requested by a non-owning identity.
	ErrNotYours = errors.New("box not held by caller")
	// ErrInvalidPidlock covers a release requested for a box with no pidlock record.
	ErrInvalidPidlock = errors.New("invalid pidlock file")
	// ErrSandboxInit covers a failed sandbox --init after a successful lock.
	ErrSandboxInit = errors.New("sandbox init failed")
	// ErrKernelMetadataRead covers a missing /proc/<pid>/stat file.
	ErrKernelMetadataRead = errors.New("kernel metadata unavailable")
	// ErrKernelMetadataParse covers an unparseable /proc/<pid>/stat record.
	ErrKernelMetadataParse = errors.New("kernel metadata unparseable")
)

// ExitCodeFor maps a sentinel kind to its documented exit code. Unknown
// errors fall back to ExitUsage.
func ExitCodeFor(err error) int {
	switch {
	case errors.Is(err, ErrConfiguration):
		return ExitInitFailed
	case errors.Is(err, ErrPermission):
		return ExitInsufficientBoxes
	case errors.Is(err, ErrInvalidBoxID):
		return ExitInvalidBoxID
	case errors.Is(err, ErrFreeNoID):
		return ExitFreeNoID
	case errors.Is(err, ErrInvalidOption):
		return ExitInvalidOption
	case errors.Is(err, ErrInsufficientBoxes):
		return ExitInsufficientBoxes
	case errors.Is(err, ErrNotYours), errors.Is(err, ErrInvalidPidlock):
		return ExitInsufficientBoxes
	case errors.Is(err, ErrSandboxInit):
		return ExitSandboxInitFailed
	case errors.Is(err, ErrKernelMetadataRead):
		return ExitKernelMetadataRead
	case errors.Is(err, ErrKernelMetadataParse):
		return ExitKernelMetadataParse
	default:
		return ExitUsage
	}
}
