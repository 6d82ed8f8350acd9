// Package logging configures the process-wide logrus logger once at
// startup, grounded on podman's cmd/podman/root.go loggingHook: validate
// the requested level, parse it, and install it before anything else logs.
package logging

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Configure validates and installs levelName as the process log level, and
// returns a logger entry tagged with a fresh invocation id so concurrent
// brokers' interleaved stderr output can be told apart.
func Configure(levelName string) (*logrus.Entry, error) {
	level, err := logrus.ParseLevel(levelName)
	if err != nil {
		return nil, errors.Wrapf(err, "log level %q is not supported", levelName)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: false,
		FullTimestamp:    true,
	})

	invocation := uuid.NewString()
	return logrus.WithField("invocation", invocation), nil
}
