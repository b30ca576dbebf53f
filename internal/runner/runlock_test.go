package runner

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/aqmlab/aqmbench/internal/errorsx"
	"github.com/aqmlab/aqmbench/internal/model"
)

func TestAcquireLock(t *testing.T) {
	t.Run("acquire and release", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "aqmbench.lock")
		lock, err := acquireLock(path, model.DiscardLogger)
		if err != nil {
			t.Fatal(err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != fmt.Sprintf("%d\n", os.Getpid()) {
			t.Fatalf("got %q", data)
		}
		if err := lock.release(); err != nil {
			t.Fatal(err)
		}
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Fatal("expected the lock file to be gone")
		}
	})

	t.Run("a live owner makes the lock busy", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "aqmbench.lock")
		content := fmt.Sprintf("%d\n", os.Getpid())
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		_, err := acquireLock(path, model.DiscardLogger)
		if !errors.Is(err, errorsx.ErrLockBusy) {
			t.Fatal("not the error we expected", err)
		}
	})

	t.Run("a dead owner's lock is reclaimed", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "aqmbench.lock")
		// A pid above the kernel's pid_max cannot be alive.
		if err := os.WriteFile(path, []byte("99999999\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		lock, err := acquireLock(path, model.DiscardLogger)
		if err != nil {
			t.Fatal(err)
		}
		defer lock.release()
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != fmt.Sprintf("%d\n", os.Getpid()) {
			t.Fatalf("got %q", data)
		}
	})

	t.Run("garbage lock content is reclaimed", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "aqmbench.lock")
		if err := os.WriteFile(path, []byte("antani"), 0o644); err != nil {
			t.Fatal(err)
		}
		lock, err := acquireLock(path, model.DiscardLogger)
		if err != nil {
			t.Fatal(err)
		}
		lock.release()
	})
}
