package runner

//
// Global run lock
//

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/aqmlab/aqmbench/internal/errorsx"
	"github.com/aqmlab/aqmbench/internal/model"
	"github.com/pkg/errors"
)

// runLock is the process-wide exclusion for the emulated bottleneck.
// Only one matrix may drive the shared network resources at a time, so
// the lock file records the owning pid and is created exclusively.
type runLock struct {
	path string
}

// pidAlive reports whether the process with the given pid exists.
func pidAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// acquireLock takes the run lock at path. A lock file owned by a live
// process yields [errorsx.ErrLockBusy]; a lock file left behind by a
// dead process is reclaimed.
func acquireLock(path string, logger model.Logger) (*runLock, error) {
	for attempt := 0; attempt < 2; attempt++ {
		filep, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(filep, "%d\n", os.Getpid())
			filep.Close()
			return &runLock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, errors.Wrap(err, "creating lock file")
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "reading lock file")
		}
		pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
		if err == nil && pidAlive(pid) {
			return nil, errors.Wrapf(errorsx.ErrLockBusy, "pid %d owns %s", pid, path)
		}
		logger.Warnf("runner: reclaiming stale lock %s (pid %d is gone)", path, pid)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrap(err, "removing stale lock file")
		}
	}
	return nil, errors.Wrapf(errorsx.ErrLockBusy, "could not acquire %s", path)
}

// release drops the lock.
func (l *runLock) release() error {
	return os.Remove(l.path)
}
