package boxid

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sandboxhost/boxlock/internal/boxerrors"
)

func TestValid(t *testing.T) {
	tests := []struct {
		name     string
		boxCount int
		box      int
		want     bool
	}{
		{"lower bound", 10, 0, true},
		{"upper bound", 10, 9, true},
		{"at count", 10, 10, false},
		{"negative", 10, -1, false},
		{"zero boxes", 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Valid(tt.boxCount, tt.box))
		})
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(10, 5))
	err := Validate(10, 10)
	assert.ErrorIs(t, err, boxerrors.ErrInvalidBoxID)
}

func TestValidateOption(t *testing.T) {
	tests := []struct {
		name    string
		opt     string
		wantErr bool
	}{
		{"plain flag", "--init", false},
		{"flag with value", "--root=/mnt/sandbox", false},
		{"box flag", "-b3", false},
		{"path-like value", "/var/lib/sandbox:ro", false},
		{"bare double dash", "--", true},
		{"embedded space", "--root /mnt", true},
		{"shell metacharacter", "--root=$(rm -rf /)", true},
		{"semicolon injection", "--root=/tmp;rm", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOption(tt.opt)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
