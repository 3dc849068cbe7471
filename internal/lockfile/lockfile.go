// Package lockfile guards a SQLite state directory against a second IntakePipe process.
//
// The lock is an flock on a file inside the directory; the kernel drops it when
// the process exits, so a crash never leaves the directory locked.
package lockfile

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the lock file created in the state directory.
const LockFileName = "intakepipe.lock"

// ErrLocked is matched by the error returned when another process holds the lock.
var ErrLocked = errors.New("state directory is locked by another process")

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes the exclusive lock on stateDir, creating the directory when needed.
// addr is written into the lock file to help identify the holder.
func Acquire(stateDir, addr string) (*Lock, error) {
	path := filepath.Join(stateDir, LockFileName)
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory %s: %w", stateDir, err)
	}

	// O_TRUNC is deferred until the lock is held so a loser never wipes the holder's info.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		lockErr := &LockError{Path: path, Holder: describeHolder(path), Cause: err}
		slog.Error("lockfile.Acquire: state directory in use", "lock_path", path, "holder", lockErr.Holder)
		return nil, lockErr
	}

	info := fmt.Sprintf("pid=%d addr=%s started=%s\n", os.Getpid(), addr, time.Now().UTC().Format(time.RFC3339))
	if err := writeInfo(file, info); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("write lock file %s: %w", path, err)
	}

	slog.Info("lockfile.Acquire: state directory locked", "lock_path", path, "pid", os.Getpid())
	return &Lock{file: file, path: path}, nil
}

func writeInfo(f *os.File, info string) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.WriteAt([]byte(info), 0); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		slog.Warn("lockfile.writeInfo: sync failed", "error", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Release drops the lock and removes the lock file. Calling it again is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	var errs []error
	// Remove while still holding the lock so a waiting process never sees our stale info.
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, err)
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		errs = append(errs, err)
	}
	if err := l.file.Close(); err != nil {
		errs = append(errs, err)
	}
	l.file = nil
	slog.Debug("Lock.Release: state directory unlocked", "lock_path", l.path)
	return errors.Join(errs...)
}

// LockError reports a lock held by another process.
type LockError struct {
	Path   string
	Holder string
	Cause  error
}

func (e *LockError) Error() string {
	msg := fmt.Sprintf("another IntakePipe instance is using this state directory (lock file %s", e.Path)
	if e.Holder != "" {
		msg += ", holder " + e.Holder
	}
	return msg + "); stop it or point -state-dir elsewhere"
}

func (e *LockError) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, ErrLocked) match.
func (e *LockError) Is(target error) bool { return target == ErrLocked }

// describeHolder summarizes the lock file content for error messages.
func describeHolder(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return ""
	}
	pid := parsePID(content)
	if pid <= 0 {
		return content
	}
	state := "not running"
	if processRunning(pid) {
		state = "running"
	}
	return fmt.Sprintf("%s (%s)", content, state)
}

// parsePID extracts the value of the pid= field, or 0.
func parsePID(content string) int {
	for _, field := range strings.Fields(content) {
		if v, ok := strings.CutPrefix(field, "pid="); ok {
			if pid, err := strconv.Atoi(v); err == nil {
				return pid
			}
		}
	}
	return 0
}

// processRunning checks pid with signal 0.
func processRunning(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
