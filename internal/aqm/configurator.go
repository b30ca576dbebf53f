// Package aqm applies an AQM mechanism's parameters to the bottleneck
// interface and resets them afterwards. The configurator is a small
// state machine (Unconfigured -> Configuring -> Active -> Reset) and
// the reset is best effort: it always runs before topology teardown
// so no queue state leaks into later runs.
package aqm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/aqmlab/aqmbench/internal/errorsx"
	"github.com/aqmlab/aqmbench/internal/model"
	"github.com/aqmlab/aqmbench/internal/shellx"
)

// State is the configurator state.
type State int

const (
	// StateUnconfigured means no discipline is installed.
	StateUnconfigured = State(iota)

	// StateConfiguring means an apply is in flight.
	StateConfiguring

	// StateActive means the discipline is installed.
	StateActive

	// StateReset means a reset ran and no new apply happened yet.
	StateReset
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateConfiguring:
		return "configuring"
	case StateActive:
		return "active"
	case StateReset:
		return "reset"
	default:
		return "unknown"
	}
}

// Runner abstracts command execution for testing.
type Runner interface {
	// CombinedOutput runs the tool and returns its combined output.
	CombinedOutput(ctx context.Context, logger model.Logger, command string, args ...string) ([]byte, error)
}

// shellxRunner is the production [Runner].
type shellxRunner struct{}

// CombinedOutput implements [Runner].
func (shellxRunner) CombinedOutput(ctx context.Context, logger model.Logger, command string, args ...string) ([]byte, error) {
	return shellx.CombinedOutput(ctx, logger, command, args...)
}

// Configurator installs and removes AQM disciplines on the
// bottleneck interface.
type Configurator struct {
	// Logger is the logger to use.
	Logger model.Logger

	// Run executes the tc tool.
	Run Runner

	mu    sync.Mutex
	state State
}

// NewConfigurator creates a [Configurator] using the real tc tool.
func NewConfigurator(logger model.Logger) *Configurator {
	return &Configurator{
		Logger: model.ValidLoggerOrDefault(logger),
		Run:    shellxRunner{},
	}
}

// State returns the current state.
func (c *Configurator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Configurator) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// unavailableMarkers are the tc diagnostics indicating that the
// discipline module is not present on this system.
var unavailableMarkers = []string{
	"Unknown qdisc",
	"Specified qdisc kind is unknown",
	"no such file or directory",
}

// Apply maps the profile's abstract parameters onto the discipline's
// native ones and installs it under the bottleneck shaper. It returns
// a [errorsx.ConfigurationError] when the discipline is unavailable
// or rejects the parameters.
func (c *Configurator) Apply(ctx context.Context, iface string, profile *model.AQMProfile) error {
	c.setState(StateConfiguring)
	output, err := c.Run.CombinedOutput(ctx, c.Logger, "tc", tcArgs(iface, profile)...)
	if err != nil {
		c.setState(StateUnconfigured)
		diag := strings.TrimSpace(string(output))
		for _, marker := range unavailableMarkers {
			if strings.Contains(diag, marker) {
				return errorsx.NewConfigurationError(
					fmt.Sprintf("discipline %s unavailable", profile.Mechanism()),
					fmt.Errorf("%s: %w", diag, err),
				)
			}
		}
		return errorsx.NewConfigurationError(
			fmt.Sprintf("apply %s", profile.Mechanism()),
			fmt.Errorf("%s: %w", diag, err),
		)
	}
	c.setState(StateActive)
	return nil
}

// ReadBack reads the installed discipline's parameters back from the
// kernel, keyed by their native names, for read-after-write checks.
func (c *Configurator) ReadBack(ctx context.Context, iface string) (model.Mechanism, map[string]string, error) {
	output, err := c.Run.CombinedOutput(ctx, c.Logger, "tc", "qdisc", "show", "dev", iface)
	if err != nil {
		return "", nil, errorsx.NewConfigurationError("read back", err)
	}
	mechanism, params, ok := parseQdiscShow(string(output))
	if !ok {
		return "", nil, errorsx.NewConfigurationError("read back",
			fmt.Errorf("no discipline with handle %s on %s", aqmHandle, iface))
	}
	return mechanism, params, nil
}

// Reset removes the discipline. It is best effort and never fails:
// a missing discipline is already the state we want.
func (c *Configurator) Reset(ctx context.Context, iface string) {
	output, err := c.Run.CombinedOutput(ctx, c.Logger, "tc",
		"qdisc", "del", "dev", iface, "parent", bottleneckHandle, "handle", aqmHandle)
	if err != nil {
		c.Logger.Debugf("aqm: reset %s: %s: %s", iface, err.Error(),
			strings.TrimSpace(string(output)))
	}
	c.setState(StateReset)
	c.setState(StateUnconfigured)
}

// parseQdiscShow extracts the AQM discipline kind and parameters from
// `tc qdisc show` output. Numeric values keep tc's formatting except
// that packet and byte counts drop their unit suffix.
func parseQdiscShow(output string) (model.Mechanism, map[string]string, bool) {
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		// qdisc <kind> 2: parent 1: <key> <value> ... <flag> ...
		if len(fields) < 3 || fields[0] != "qdisc" || fields[2] != aqmHandle {
			continue
		}
		mechanism := mechanismForQdisc(fields[1])
		params := make(map[string]string)
		rest := fields[3:]
		for i := 0; i < len(rest); {
			key := rest[i]
			if key == "parent" {
				i += 2
				continue
			}
			if isFlagParam(key) {
				params[key] = "true"
				i++
				continue
			}
			if i+1 < len(rest) {
				params[key] = trimUnitSuffix(rest[i+1])
			}
			i += 2
		}
		return mechanism, params, true
	}
	return "", nil, false
}

// trimUnitSuffix drops the "p" (packets) or "b" (bytes) unit suffix
// from a numeric tc value, leaving durations and rates untouched.
func trimUnitSuffix(value string) string {
	trimmed := strings.TrimSuffix(strings.TrimSuffix(value, "p"), "b")
	if trimmed == "" {
		return value
	}
	for _, r := range trimmed {
		if r < '0' || r > '9' {
			return value
		}
	}
	return trimmed
}

// mechanismForQdisc maps a tc qdisc kind back to a mechanism tag.
func mechanismForQdisc(kind string) model.Mechanism {
	if kind == "red" {
		return model.MechanismARED
	}
	return model.Mechanism(kind)
}
