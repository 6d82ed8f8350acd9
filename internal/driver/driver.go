// Package driver sequences the other components into the lock/free
// invocation the command line describes: probe, directory setup,
// acquisition or release, and the optional sandbox init/cleanup pass.
package driver

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/sandboxhost/boxlock/internal/acquirer"
	"github.com/sandboxhost/boxlock/internal/boxerrors"
	"github.com/sandboxhost/boxlock/internal/boxid"
	"github.com/sandboxhost/boxlock/internal/config"
	"github.com/sandboxhost/boxlock/internal/harness"
	"github.com/sandboxhost/boxlock/internal/identity"
	"github.com/sandboxhost/boxlock/internal/lockdir"
	"github.com/sandboxhost/boxlock/internal/pidlock"
	"github.com/sandboxhost/boxlock/internal/sandboxprobe"
	"github.com/sandboxhost/boxlock/internal/sandboxrunner"
)

// Mode selects which of the two operations the driver performs.
type Mode string

const (
	ModeLock Mode = "lock"
	ModeFree Mode = "free"
)

// Params is the invocation the command line asked for, already parsed out
// of cobra/pflag flags and positional arguments.
type Params struct {
	Mode Mode
	// BoxIDs is the explicit list of boxes to act on. For lock mode, an
	// empty list means "use Count instead". For free mode it is required.
	BoxIDs          []int
	Count           int
	Timeout         float64
	NoInit          bool
	PassThroughOpts []string
}

// Run sequences the components for one invocation and returns the process
// exit code, per the exit-code table in spec.md §6. Diagnostics go to
// errOut; the stdout contract (granted or released identifiers, one per
// line) goes to out.
func Run(ctx context.Context, cfg config.Config, params Params, out, errOut io.Writer, log *logrus.Entry) int {
	runner := sandboxrunner.New(cfg.SandboxTool)

	host, err := sandboxprobe.Probe(ctx, runner)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return boxerrors.ExitCodeFor(err)
	}
	log.WithField("box_count", host.BoxCount).Debug("sandbox host probed")

	layout, err := lockdir.Ensure(cfg.LockRoot)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return boxerrors.ExitCodeFor(err)
	}

	parent, err := identity.OfParent()
	if err != nil {
		fmt.Fprintln(errOut, err)
		return boxerrors.ExitCodeFor(err)
	}
	self, err := identity.Of()
	if err != nil {
		fmt.Fprintln(errOut, err)
		return boxerrors.ExitCodeFor(err)
	}
	log.WithField("parent", parent.String()).WithField("self", self.String()).Debug("resolved broker identities")

	protocol := pidlock.New(layout, parent, self, runner)

	h := harness.New()
	h.WatchFatalSignals(func() {
		log.Warn("fatal signal received, releasing held boxes")
		protocol.ReleaseAllHeld(context.Background())
	})
	defer h.Stop()

	for _, opt := range params.PassThroughOpts {
		if err := boxid.ValidateOption(opt); err != nil {
			fmt.Fprintln(errOut, err)
			return boxerrors.ExitCodeFor(err)
		}
	}

	if params.Mode == ModeFree {
		return runFree(ctx, protocol, host, params, out, errOut)
	}
	return runLock(ctx, protocol, h, host, params, out, errOut)
}

func runLock(ctx context.Context, protocol *pidlock.Protocol, h *harness.Harness, host sandboxprobe.HostInfo, params Params, out, errOut io.Writer) int {
	var acquired []int

	if len(params.BoxIDs) > 0 {
		for _, b := range params.BoxIDs {
			if err := boxid.Validate(host.BoxCount, b); err != nil {
				fmt.Fprintln(errOut, err)
				return boxerrors.ExitCodeFor(err)
			}
		}
		for _, b := range params.BoxIDs {
			ok, err := protocol.TryAcquire(b)
			if err != nil {
				fmt.Fprintln(errOut, err)
				return boxerrors.ExitCodeFor(err)
			}
			if !ok {
				fmt.Fprintf(errOut, "Isolate box %d unavailable.\n", b)
				continue
			}
			acquired = append(acquired, b)
		}
	} else {
		count := params.Count
		if count <= 0 {
			count = 1
		}
		a := acquirer.New(protocol, h, host.BoxCount)
		acquired = a.Acquire(count, acquirer.Timeout(params.Timeout))
		if len(acquired) < count {
			fmt.Fprintln(errOut, "Insufficient isolate boxes available.")
			return boxerrors.ExitInsufficientBoxes
		}
	}

	for _, b := range acquired {
		fmt.Fprintln(out, b)
	}

	if params.NoInit {
		return boxerrors.ExitOK
	}
	for _, b := range acquired {
		if err := protocol.Sandbox.Init(ctx, b, params.PassThroughOpts); err != nil {
			fmt.Fprintf(errOut, "Lock acquired, but sandbox init for box %d failed: %v\n", b, err)
			return boxerrors.ExitCodeFor(errors.Wrap(boxerrors.ErrSandboxInit, err.Error()))
		}
	}
	return boxerrors.ExitOK
}

func runFree(ctx context.Context, protocol *pidlock.Protocol, host sandboxprobe.HostInfo, params Params, out, errOut io.Writer) int {
	if len(params.BoxIDs) == 0 {
		err := errors.Wrap(boxerrors.ErrFreeNoID, "no box_id was specified - cannot free lock")
		fmt.Fprintln(errOut, err)
		return boxerrors.ExitCodeFor(err)
	}
	for _, b := range params.BoxIDs {
		if err := boxid.Validate(host.BoxCount, b); err != nil {
			fmt.Fprintln(errOut, err)
			return boxerrors.ExitCodeFor(err)
		}
	}

	fails := 0
	for _, b := range params.BoxIDs {
		if err := protocol.Release(ctx, b, params.PassThroughOpts); err != nil {
			fmt.Fprintln(errOut, err)
			fails++
			continue
		}
		fmt.Fprintln(out, b)
	}
	if fails > 0 {
		return boxerrors.ExitInsufficientBoxes
	}
	return boxerrors.ExitOK
}
