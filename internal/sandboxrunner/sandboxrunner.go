// Package sandboxrunner wraps the external sandbox-management tool that
// actually creates or tears down a box's filesystem. It is invoked as an
// opaque subprocess, always via an argv-array exec form -- never a shell
// string -- per the defence-in-depth requirement on pass-through options.
package sandboxrunner

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Runner invokes the sandbox tool's version/init/cleanup subcommands.
type Runner struct {
	// Tool is the executable name or path, e.g. "isolate".
	Tool string
}

// New returns a Runner for the named sandbox tool executable.
func New(tool string) Runner {
	return Runner{Tool: tool}
}

// Version runs "<tool> --version" and returns its stdout.
func (r Runner) Version(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, r.Tool, "--version")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", errors.Wrapf(err, "running %s --version", r.Tool)
	}
	return out.String(), nil
}

// Init runs "<tool> <opts...> -b<box> --init". A non-zero exit is returned
// to the caller, who decides whether it is fatal (it is, for the lock
// driver's post-acquisition init step).
func (r Runner) Init(ctx context.Context, box int, opts []string) error {
	args := initArgs(box, opts)
	logrus.WithField("box", box).Debugf("running %s %v", r.Tool, args)
	cmd := exec.CommandContext(ctx, r.Tool, args...)
	// stdout/stderr discarded per the sandbox-tool invocation contract.
	return cmd.Run()
}

// Cleanup runs "<tool> <opts...> -b<box> --cleanup". Its exit status is
// ignored -- cleanup is best-effort and may fail if the box was never
// initialised.
func (r Runner) Cleanup(ctx context.Context, box int, opts []string) {
	args := cleanupArgs(box, opts)
	logrus.WithField("box", box).Debugf("running %s %v", r.Tool, args)
	cmd := exec.CommandContext(ctx, r.Tool, args...)
	_ = cmd.Run()
}

func initArgs(box int, opts []string) []string {
	args := append([]string{}, opts...)
	args = append(args, boxFlag(box), "--init")
	return args
}

func cleanupArgs(box int, opts []string) []string {
	args := append([]string{}, opts...)
	args = append(args, boxFlag(box), "--cleanup")
	return args
}

func boxFlag(box int) string {
	return "-b" + strconv.Itoa(box)
}
