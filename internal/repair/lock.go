package repair

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// sessionLock serializes repair sessions on one working tree.
type sessionLock struct {
	file *os.File
}

// tryLock attempts to lock <stateDir>/locks/run.lock without blocking.
// ok is false when another session holds it.
func tryLock(stateDir string) (*sessionLock, bool, error) {
	locksDir := filepath.Join(stateDir, "locks")
	if err := os.MkdirAll(locksDir, 0o755); err != nil {
		return nil, false, fmt.Errorf("create locks dir: %w", err)
	}
	file, err := os.OpenFile(filepath.Join(locksDir, "run.lock"), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, false, fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = file.Close()
		return nil, false, nil
	}
	return &sessionLock{file: file}, true, nil
}

func (l *sessionLock) release() error {
	if l == nil || l.file == nil {
		return nil
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		_ = l.file.Close()
		return err
	}
	return l.file.Close()
}

// AcquireLock takes the session lock for maintenance commands. It fails with
// ErrSessionLocked while a session is running.
func AcquireLock(stateDir string) (func() error, error) {
	lock, ok, err := tryLock(stateDir)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSessionLocked
	}
	return lock.release, nil
}
