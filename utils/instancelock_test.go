package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeLockName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"athena", "athena"},
		{"bot/prod", "bot--prod"},
		{"C:\\bots\\athena", "C----bots--athena"},
		{"name with spaces?", "name-with-spaces"},
		{"", "default"},
		{"...", "default"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, sanitizeLockName(tt.input), tt.input)
	}
}

func TestInstanceLock(t *testing.T) {
	dir := t.TempDir()

	first, err := NewInstanceLock(dir, "athena-dev")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "athena-dev.lock"), first.Path())
	require.NoError(t, first.TryLock())

	second, err := NewInstanceLock(dir, "athena-dev")
	require.NoError(t, err)
	assert.Error(t, second.TryLock())

	other, err := NewInstanceLock(dir, "athena-prod")
	require.NoError(t, err)
	require.NoError(t, other.TryLock())
	require.NoError(t, other.Unlock())

	require.NoError(t, first.Unlock())
	_, err = os.Stat(first.Path())
	assert.True(t, os.IsNotExist(err))
	require.NoError(t, first.Unlock())

	require.NoError(t, second.TryLock())
	require.NoError(t, second.Unlock())
}

func TestAssertInvariant(t *testing.T) {
	assert.NotPanics(t, func() { AssertInvariant(true, "holds") })
	assert.PanicsWithValue(t, "invariant violated - broken", func() { AssertInvariant(false, "broken") })
}
