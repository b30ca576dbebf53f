package shellx

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/sys/execabs"
)

func TestStart(t *testing.T) {
	t.Run("propagates LookPath failures", func(t *testing.T) {
		expected := errors.New("mocked error")
		swapLibrary(t, &dependencies{
			MockLookPath: func(file string) (string, error) {
				return "", expected
			},
		})
		if _, err := Start(context.Background(), nil, "iperf3"); !errors.Is(err, expected) {
			t.Fatal("not the error we expected", err)
		}
	})

	t.Run("propagates start failures", func(t *testing.T) {
		expected := errors.New("mocked error")
		swapLibrary(t, &dependencies{
			MockLookPath: func(file string) (string, error) {
				return "/usr/bin/" + file, nil
			},
			MockCmdStart: func(c *execabs.Cmd) error {
				return expected
			},
		})
		if _, err := Start(context.Background(), nil, "iperf3"); !errors.Is(err, expected) {
			t.Fatal("not the error we expected", err)
		}
	})

	t.Run("join observes the child exit", func(t *testing.T) {
		swapLibrary(t, &dependencies{
			MockLookPath: func(file string) (string, error) {
				return "/usr/bin/" + file, nil
			},
			MockCmdStart: func(c *execabs.Cmd) error {
				// The cmd was never really started, so the reaper's
				// Wait fails immediately, which is exactly what we
				// need to observe the exit path.
				return nil
			},
		})
		proc, err := Start(context.Background(), nil, "iperf3")
		if err != nil {
			t.Fatal(err)
		}
		if proc.StartedAt().IsZero() {
			t.Fatal("expected a start timestamp")
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := proc.Join(ctx); err == nil {
			t.Fatal("expected the reaper error")
		}
		if !proc.Exited() {
			t.Fatal("expected the process to have exited")
		}
	})
}
