// Package boxid validates box identifiers and sandbox pass-through options
// against the ranges and character classes the command-line surface
// requires.
package boxid

import (
	"regexp"

	"github.com/pkg/errors"

	"github.com/sandboxhost/boxlock/internal/boxerrors"
)

// Valid reports whether b is a legal box identifier for a host with
// boxCount boxes.
func Valid(boxCount, b int) bool {
	return b >= 0 && b < boxCount
}

// Validate returns ErrInvalidBoxID if b is not a legal box identifier.
func Validate(boxCount, b int) error {
	if !Valid(boxCount, b) {
		return errors.Wrapf(boxerrors.ErrInvalidBoxID, "%d is an invalid box id", b)
	}
	return nil
}

// optionPattern matches the restrictive character class pass-through
// options must obey: letters, digits, '-', '=', '/', ':'.
var optionPattern = regexp.MustCompile(`^[A-Za-z0-9=/:-]+$`)

// ValidateOption returns ErrInvalidOption if opt is "--" or contains any
// character outside the restrictive class, preventing shell injection when
// the option is later composed into the sandbox-tool command line.
func ValidateOption(opt string) error {
	if opt == "--" {
		return errors.Wrap(boxerrors.ErrInvalidOption, "`--` is an invalid option")
	}
	if !optionPattern.MatchString(opt) {
		return errors.Wrapf(boxerrors.ErrInvalidOption, "`%s` is an invalid option", opt)
	}
	return nil
}
