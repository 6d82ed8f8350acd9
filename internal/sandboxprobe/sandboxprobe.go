// Package sandboxprobe performs the one-shot query of the sandbox tool
// needed to learn the box count and sandbox working directory, by scanning
// the labeled lines of "<tool> --version" the way podman's libpod/util.go
// scans subprocess output for known prefixes.
package sandboxprobe

import (
	"context"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/sandboxhost/boxlock/internal/boxerrors"
	"github.com/sandboxhost/boxlock/internal/sandboxrunner"
)

const (
	directoryLabel   = "Sandbox directory: "
	credentialsLabel = "Sandbox credentials: "
)

// HostInfo is what the probe learns about the sandbox host.
type HostInfo struct {
	SandboxRoot string
	BoxCount    int
}

// Probe runs the sandbox tool's version query and parses the directory and
// credentials labels. It fails if either value is absent or the uid/gid
// ranges are inconsistent.
func Probe(ctx context.Context, runner sandboxrunner.Runner) (HostInfo, error) {
	out, err := runner.Version(ctx)
	if err != nil {
		return HostInfo{}, errors.Wrapf(boxerrors.ErrConfiguration, "probing sandbox tool: %v", err)
	}

	var info HostInfo
	for _, line := range strings.Split(out, "\n") {
		switch {
		case strings.HasPrefix(line, directoryLabel):
			info.SandboxRoot = strings.TrimSpace(strings.TrimPrefix(line, directoryLabel))
		case strings.HasPrefix(line, credentialsLabel):
			count, err := parseCredentials(strings.TrimPrefix(line, credentialsLabel))
			if err != nil {
				logrus.WithError(err).Debug("ignoring unparseable credentials line")
				continue
			}
			info.BoxCount = count
		}
	}

	if info.SandboxRoot == "" {
		return HostInfo{}, errors.Wrap(boxerrors.ErrConfiguration, "sandbox directory could not be detected")
	}
	if info.BoxCount == 0 {
		return HostInfo{}, errors.Wrap(boxerrors.ErrConfiguration, "number of sandbox boxes allocated is zero")
	}
	logrus.WithField("box_count", info.BoxCount).WithField("sandbox_root", info.SandboxRoot).Debug("sandbox host probed")
	return info, nil
}

// parseCredentials parses "uid=A-B gid=C-D" and derives box_count = B-A+1,
// requiring the uid and gid ranges to be the same width.
func parseCredentials(s string) (int, error) {
	s = strings.TrimSpace(s)
	var uidPart, gidPart string
	for _, field := range strings.Fields(s) {
		switch {
		case strings.HasPrefix(field, "uid="):
			uidPart = strings.TrimPrefix(field, "uid=")
		case strings.HasPrefix(field, "gid="):
			gidPart = strings.TrimPrefix(field, "gid=")
		}
	}
	a, b, err := parseRange(uidPart)
	if err != nil {
		return 0, err
	}
	c, d, err := parseRange(gidPart)
	if err != nil {
		return 0, err
	}
	if (b - a) != (d - c) {
		return 0, errors.New("uid and gid ranges are inconsistent")
	}
	return b - a + 1, nil
}

func parseRange(s string) (int, int, error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return 0, 0, errors.Errorf("malformed range %q", s)
	}
	lo, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, errors.Wrapf(err, "malformed range lower bound %q", s)
	}
	hi, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, errors.Wrapf(err, "malformed range upper bound %q", s)
	}
	return lo, hi, nil
}
