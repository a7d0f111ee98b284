package bot

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// LockFile guards against a second daemon pointed at the same store. Two
// gateways with one bot token fight over events, so startup refuses to
// proceed while another live process holds the lock.
type LockFile struct {
	path string
}

// AcquireLock takes the lock at path, reclaiming it when the recorded
// process is no longer running.
func AcquireLock(path string) (*LockFile, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("bot: create lock dir %s: %w", dir, err)
		}
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			return &LockFile{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("bot: create lock %s: %w", path, err)
		}

		pid, readErr := readLockPID(path)
		if readErr == nil && processAlive(pid) {
			return nil, fmt.Errorf("bot: another instance is running (pid %d, lock %s)", pid, path)
		}
		// Stale or unreadable lock from a dead process.
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, fmt.Errorf("bot: remove stale lock %s: %w", path, rmErr)
		}
	}
	return nil, fmt.Errorf("bot: could not acquire lock %s", path)
}

// Release removes the lock file.
func (l *LockFile) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("bot: release lock %s: %w", l.path, err)
	}
	return nil
}

func readLockPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// processAlive probes a pid with signal 0.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
