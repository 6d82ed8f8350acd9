package sandboxrunner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInitArgs(t *testing.T) {
	got := initArgs(3, []string{"--quiet", "--root=/srv"})
	assert.Equal(t, []string{"--quiet", "--root=/srv", "-b3", "--init"}, got)
}

func TestCleanupArgs(t *testing.T) {
	got := cleanupArgs(5, nil)
	assert.Equal(t, []string{"-b5", "--cleanup"}, got)
}

func TestBoxFlag(t *testing.T) {
	assert.Equal(t, "-b0", boxFlag(0))
	assert.Equal(t, "-b42", boxFlag(42))
}
