// Package shellx helps to drive the external tools the pipeline
// depends on (tc, ip, iperf3, tcpdump) with shell-like Go code.
package shellx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aqmlab/aqmbench/internal/model"
	"github.com/google/shlex"
	"golang.org/x/sys/execabs"
)

// Dependencies is the library on which this package depends.
type Dependencies interface {
	// CmdOutput is equivalent to calling c.Output.
	CmdOutput(c *execabs.Cmd) ([]byte, error)

	// CmdCombinedOutput is equivalent to calling c.CombinedOutput.
	CmdCombinedOutput(c *execabs.Cmd) ([]byte, error)

	// CmdRun is equivalent to calling c.Run.
	CmdRun(c *execabs.Cmd) error

	// CmdStart is equivalent to calling c.Start.
	CmdStart(c *execabs.Cmd) error

	// LookPath is equivalent to calling execabs.LookPath.
	LookPath(file string) (string, error)
}

// Library contains the default dependencies.
var Library Dependencies = &StdlibDependencies{}

// StdlibDependencies contains the stdlib implementation of the [Dependencies].
type StdlibDependencies struct{}

// CmdOutput implements [Dependencies].
func (*StdlibDependencies) CmdOutput(c *execabs.Cmd) ([]byte, error) {
	return c.Output()
}

// CmdCombinedOutput implements [Dependencies].
func (*StdlibDependencies) CmdCombinedOutput(c *execabs.Cmd) ([]byte, error) {
	return c.CombinedOutput()
}

// CmdRun implements [Dependencies].
func (*StdlibDependencies) CmdRun(c *execabs.Cmd) error {
	return c.Run()
}

// CmdStart implements [Dependencies].
func (*StdlibDependencies) CmdStart(c *execabs.Cmd) error {
	return c.Start()
}

// LookPath implements [Dependencies].
func (*StdlibDependencies) LookPath(file string) (string, error) {
	return execabs.LookPath(file)
}

// Envp is the environment in which we execute commands.
type Envp struct {
	// V contains the OPTIONAL environment variables to add to the current
	// environment when we're executing commands.
	V []string
}

// Append appends an environment variable to the environment.
func (e *Envp) Append(key, value string) {
	e.V = append(e.V, fmt.Sprintf("%s=%s", key, value))
}

// Argv contains the complete argv.
type Argv struct {
	// P is the MANDATORY program to execute.
	P string

	// V contains the OPTIONAL arguments.
	V []string
}

// NewArgv creates a new [Argv] from the given command and arguments.
func NewArgv(command string, args ...string) (*Argv, error) {
	fullpath, err := Library.LookPath(command) // allows mocking
	if err != nil {
		return nil, err
	}
	argv := &Argv{
		P: fullpath,
		V: args,
	}
	return argv, nil
}

// ParseCommandLine creates an instance of [Argv] from the given command line.
func ParseCommandLine(cmdline string) (*Argv, error) {
	args, err := shlex.Split(cmdline)
	if err != nil {
		return nil, err
	}
	if len(args) < 1 {
		return nil, ErrNoCommandToExecute
	}
	return NewArgv(args[0], args[1:]...)
}

// NewNetnsArgv wraps command and args so that they execute inside the
// given network namespace through `ip netns exec`.
func NewNetnsArgv(namespace, command string, args ...string) (*Argv, error) {
	full := append([]string{"netns", "exec", namespace, command}, args...)
	return NewArgv("ip", full...)
}

// Append appends arguments to the command line.
func (a *Argv) Append(args ...string) {
	a.V = append(a.V, args...)
}

const (
	// FlagShowStdoutStderr enables connecting the child's stdout and stderr
	// to the current program's stdout and stderr.
	FlagShowStdoutStderr = 1 << iota
)

// Config contains config for executing programs.
type Config struct {
	// Logger is the OPTIONAL logger to use.
	Logger model.Logger

	// Flags contains OPTIONAL binary flags to configure the program.
	Flags int64
}

// cmd creates a new [execabs.Cmd] instance bound to the given context.
func cmd(ctx context.Context, config *Config, argv *Argv, envp *Envp) *execabs.Cmd {
	cmd := execabs.CommandContext(ctx, argv.P, argv.V...)
	cmd.Env = os.Environ()
	for _, entry := range envp.V {
		if config.Logger != nil {
			config.Logger.Infof("+ export %s", entry)
		}
		cmd.Env = append(cmd.Env, entry)
	}
	if config.Logger != nil {
		cmdline := quotedCommandLine(argv.P, argv.V...)
		config.Logger.Infof("+ %s", cmdline)
	}
	return cmd
}

// OutputEx implements [Output] and [OutputQuiet].
func OutputEx(ctx context.Context, config *Config, argv *Argv, envp *Envp) ([]byte, error) {
	cmd := cmd(ctx, config, argv, envp)
	if (config.Flags & FlagShowStdoutStderr) != 0 {
		// note: cmd.Output wants the stdout to be nil
		cmd.Stderr = os.Stderr
	}
	return Library.CmdOutput(cmd) // allows mocking
}

// CombinedOutputEx runs the command and captures both stdout and
// stderr, which is what tc diagnostics require.
func CombinedOutputEx(ctx context.Context, config *Config, argv *Argv, envp *Envp) ([]byte, error) {
	cmd := cmd(ctx, config, argv, envp)
	return Library.CmdCombinedOutput(cmd) // allows mocking
}

// output is the common implementation of [Output] and [OutputQuiet].
func output(ctx context.Context, logger model.Logger, flags int64, command string, args ...string) ([]byte, error) {
	argv, err := NewArgv(command, args...)
	if err != nil {
		return nil, err
	}
	envp := &Envp{}
	config := &Config{
		Logger: logger,
		Flags:  flags,
	}
	return OutputEx(ctx, config, argv, envp)
}

// OutputQuiet is like [RunQuiet] except that, in case of success, it captures
// the standard output and returns it to the caller.
func OutputQuiet(ctx context.Context, command string, args ...string) ([]byte, error) {
	return output(ctx, nil, 0, command, args...)
}

// Output is like [OutputQuiet] except that it logs the command to be executed
// and the environment variables specific to this command.
func Output(ctx context.Context, logger model.Logger, command string, args ...string) ([]byte, error) {
	return output(ctx, logger, FlagShowStdoutStderr, command, args...)
}

// CombinedOutput runs the command logging it and returns the combined
// stdout and stderr, also on failure.
func CombinedOutput(ctx context.Context, logger model.Logger, command string, args ...string) ([]byte, error) {
	argv, err := NewArgv(command, args...)
	if err != nil {
		return nil, err
	}
	return CombinedOutputEx(ctx, &Config{Logger: logger}, argv, &Envp{})
}

// RunEx implements [Run] and [RunQuiet].
func RunEx(ctx context.Context, config *Config, argv *Argv, envp *Envp) error {
	cmd := cmd(ctx, config, argv, envp)
	if (config.Flags & FlagShowStdoutStderr) != 0 {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}
	return Library.CmdRun(cmd) // allows mocking
}

// run is the common implementation of [Run] and [RunQuiet].
func run(ctx context.Context, logger model.Logger, flags int64, command string, args ...string) error {
	argv, err := NewArgv(command, args...)
	if err != nil {
		return err
	}
	envp := &Envp{}
	config := &Config{
		Logger: logger,
		Flags:  flags,
	}
	return RunEx(ctx, config, argv, envp)
}

// RunQuiet runs the given command without emitting any output.
func RunQuiet(ctx context.Context, command string, args ...string) error {
	return run(ctx, nil, 0, command, args...)
}

// Run is like [RunQuiet] except that it also logs the command to
// exec, the environment variables specific to this command, the text
// logged to stdout and stderr.
func Run(ctx context.Context, logger model.Logger, command string, args ...string) error {
	return run(ctx, logger, FlagShowStdoutStderr, command, args...)
}

// ErrNoCommandToExecute means that the command line is empty.
var ErrNoCommandToExecute = errors.New("shellx: no command to execute")

// quotedCommandLine returns a quoted command line.
func quotedCommandLine(command string, args ...string) string {
	v := []string{}
	v = append(v, maybeQuoteArg(command))
	for _, a := range args {
		v = append(v, maybeQuoteArg(a))
	}
	return strings.Join(v, " ")
}

// maybeQuoteArg quotes a command line argument if needed.
func maybeQuoteArg(a string) string {
	if strings.Contains(a, "\"") {
		a = strings.ReplaceAll(a, "\"", "\\\"")
	}
	if strings.Contains(a, " ") {
		a = "\"" + a + "\""
	}
	return a
}
