// Package lockdir ensures the two-directory pidlock state tree exists with
// the modes the protocol relies on for cross-user contention.
package lockdir

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/sandboxhost/boxlock/internal/boxerrors"
)

// Layout names the three directories that make up a lock root.
type Layout struct {
	Root string
	Lock string
	Free string
}

// worldWritableDir is the mode newly created lock/free subdirectories get so
// unrelated users can contend for boxes.
const worldWritableDir = 0o777

// rootMode is the mode the lock root itself is constrained to once its
// children exist.
const rootMode = 0o755

// Ensure creates root, root/lock, and root/free if absent, then constrains
// root to 0755. It is safe to call repeatedly.
func Ensure(root string) (Layout, error) {
	layout := Layout{
		Root: root,
		Lock: filepath.Join(root, "lock"),
		Free: filepath.Join(root, "free"),
	}

	if err := ensureDir(root, worldWritableDir); err != nil {
		return Layout{}, err
	}
	if err := ensureDir(layout.Lock, worldWritableDir); err != nil {
		return Layout{}, err
	}
	if err := ensureDir(layout.Free, worldWritableDir); err != nil {
		return Layout{}, err
	}
	if err := os.Chmod(root, rootMode); err != nil {
		return Layout{}, errors.Wrapf(boxerrors.ErrPermission, "chmod %s: %v", root, err)
	}
	logrus.WithField("lock_root", root).Debug("lock directory tree ready")
	return layout, nil
}

func ensureDir(path string, mode os.FileMode) error {
	info, err := os.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return errors.Wrapf(boxerrors.ErrPermission, "%s exists and is not a directory", path)
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return errors.Wrapf(boxerrors.ErrPermission, "stat %s: %v", path, err)
	}
	if err := os.MkdirAll(path, mode); err != nil {
		return errors.Wrapf(boxerrors.ErrPermission, "mkdir %s: %v", path, err)
	}
	// MkdirAll applies umask; force the intended world-writable bits.
	if err := os.Chmod(path, mode); err != nil {
		return errors.Wrapf(boxerrors.ErrPermission, "chmod %s: %v", path, err)
	}
	return nil
}

// LockPath returns the lock/<b>.pidlock path for box b.
func (l Layout) LockPath(b int) string {
	return filepath.Join(l.Lock, pidlockName(b))
}

// FreePath returns the free/<b>.pidlock path for box b.
func (l Layout) FreePath(b int) string {
	return filepath.Join(l.Free, pidlockName(b))
}

func pidlockName(b int) string {
	return strconv.Itoa(b) + ".pidlock"
}
