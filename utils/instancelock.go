package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gofrs/flock"
)

var unsafeNameChars = regexp.MustCompile(`[^\w\-.]`)

// InstanceLock is a file lock that keeps a second bot process with the same token
// from starting and double-delivering reminders.
type InstanceLock struct {
	lockFile *flock.Flock
	lockPath string
}

// sanitizeLockName converts an arbitrary identifier into a safe filename
func sanitizeLockName(name string) string {
	sanitized := strings.ReplaceAll(name, "/", "--")
	sanitized = strings.ReplaceAll(sanitized, "\\", "--")
	sanitized = strings.ReplaceAll(sanitized, ":", "--")
	sanitized = unsafeNameChars.ReplaceAllString(sanitized, "-")
	sanitized = strings.Trim(sanitized, ".-")

	if sanitized == "" {
		sanitized = "default"
	}
	return sanitized
}

// NewInstanceLock prepares a lock file named after name inside dir. An empty dir
// means the OS temp directory.
func NewInstanceLock(dir, name string) (*InstanceLock, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "athena")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	lockPath := filepath.Join(dir, sanitizeLockName(name)+".lock")
	return &InstanceLock{
		lockFile: flock.New(lockPath),
		lockPath: lockPath,
	}, nil
}

// TryLock acquires the lock without waiting
func (l *InstanceLock) TryLock() error {
	locked, err := l.lockFile.TryLock()
	if err != nil {
		return fmt.Errorf("failed to try lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another instance is already running (lock %s)", l.lockPath)
	}
	return nil
}

// Unlock releases the lock and removes the lock file. It is safe to call twice.
func (l *InstanceLock) Unlock() error {
	if !l.lockFile.Locked() {
		return nil
	}
	if err := l.lockFile.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock: %w", err)
	}
	if err := os.Remove(l.lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

func (l *InstanceLock) Path() string {
	return l.lockPath
}
