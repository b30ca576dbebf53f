package shellx

//
// Background processes with explicit, joinable handles
//

import (
	"bytes"
	"context"
	"os"
	"time"

	"github.com/aqmlab/aqmbench/internal/model"
	"golang.org/x/sys/execabs"
)

// Proc is a background process started with [Start] or [StartEx]. It
// captures the child's stdout and stderr and exposes a cancellable
// join, so callers wait with bounded timeouts instead of blocking on
// the child forever.
type Proc struct {
	cmd     *execabs.Cmd
	stdout  bytes.Buffer
	stderr  bytes.Buffer
	started time.Time
	done    chan struct{}
	waitErr error
}

// StartEx starts the given argv in the background. The returned [Proc]
// owns the child; the caller must eventually call [Proc.Join] or
// [Proc.Kill] to reap it.
func StartEx(ctx context.Context, config *Config, argv *Argv, envp *Envp) (*Proc, error) {
	c := cmd(ctx, config, argv, envp)
	p := &Proc{
		cmd:  c,
		done: make(chan struct{}),
	}
	c.Stdout = &p.stdout
	c.Stderr = &p.stderr
	if err := Library.CmdStart(c); err != nil { // allows mocking
		return nil, err
	}
	p.started = time.Now()
	go func() {
		p.waitErr = c.Wait()
		close(p.done)
	}()
	return p, nil
}

// Start logs and starts the given command in the background.
func Start(ctx context.Context, logger model.Logger, command string, args ...string) (*Proc, error) {
	argv, err := NewArgv(command, args...)
	if err != nil {
		return nil, err
	}
	if logger != nil {
		logger.Infof("+ %s &", quotedCommandLine(argv.P, argv.V...))
	}
	return StartEx(ctx, &Config{}, argv, &Envp{})
}

// StartedAt returns when the child started.
func (p *Proc) StartedAt() time.Time {
	return p.started
}

// Done returns a channel closed when the child exits.
func (p *Proc) Done() <-chan struct{} {
	return p.done
}

// Exited returns whether the child already exited.
func (p *Proc) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Signal delivers sig to the child.
func (p *Proc) Signal(sig os.Signal) error {
	return p.cmd.Process.Signal(sig)
}

// Kill forcibly terminates the child.
func (p *Proc) Kill() error {
	return p.cmd.Process.Kill()
}

// Join waits for the child to exit or the context to expire. When the
// context expires the child is still running: the caller decides
// whether to signal or kill it.
func (p *Proc) Join(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return p.waitErr
	}
}

// Stdout returns the captured stdout. Only call this after the
// process has exited.
func (p *Proc) Stdout() []byte {
	return p.stdout.Bytes()
}

// Stderr returns the captured stderr. Only call this after the
// process has exited.
func (p *Proc) Stderr() []byte {
	return p.stderr.Bytes()
}
