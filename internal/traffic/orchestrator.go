// Package traffic starts and joins the generator processes producing
// the primary and competing flows of a run. All flows of a run share
// one epoch: each client starts at epoch plus its offset, and the
// orchestrator verifies the actual starts landed within a bounded
// tolerance so that competing flows genuinely overlap.
package traffic

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/aqmlab/aqmbench/internal/errorsx"
	"github.com/aqmlab/aqmbench/internal/model"
	"github.com/aqmlab/aqmbench/internal/shellx"
	"golang.org/x/sync/errgroup"
)

// DefaultStartTolerance bounds how far a flow's actual start may
// drift from its scheduled start.
const DefaultStartTolerance = 250 * time.Millisecond

// DefaultServerWarmup is how long we give the generator servers to
// begin listening before the epoch may fire.
const DefaultServerWarmup = 500 * time.Millisecond

// joinSlack is the extra time a client gets beyond its nominal
// duration before we declare it hung.
const joinSlack = 15 * time.Second

// Proc is the process-handle surface the orchestrator needs; it is
// satisfied by [*shellx.Proc] and mockable in tests.
type Proc interface {
	StartedAt() time.Time
	Join(ctx context.Context) error
	Signal(sig os.Signal) error
	Kill() error
	Stdout() []byte
	Stderr() []byte
}

// StartFunc spawns a background process.
type StartFunc func(ctx context.Context, logger model.Logger, command string, args ...string) (Proc, error)

// shellxStart adapts [shellx.Start] to [StartFunc].
func shellxStart(ctx context.Context, logger model.Logger, command string, args ...string) (Proc, error) {
	return shellx.Start(ctx, logger, command, args...)
}

// Orchestrator starts and joins generator processes.
type Orchestrator struct {
	// Logger is the logger to use.
	Logger model.Logger

	// StartTolerance bounds scheduled-to-actual start drift.
	StartTolerance time.Duration

	// ServerWarmup is the listen delay granted to servers.
	ServerWarmup time.Duration

	// Start spawns processes; tests replace it.
	Start StartFunc
}

// NewOrchestrator creates an [Orchestrator] running real iperf3.
func NewOrchestrator(logger model.Logger) *Orchestrator {
	return &Orchestrator{
		Logger:         model.ValidLoggerOrDefault(logger),
		StartTolerance: DefaultStartTolerance,
		ServerWarmup:   DefaultServerWarmup,
		Start:          shellxStart,
	}
}

// Session is a set of running flows joined as one unit.
type Session struct {
	orch    *Orchestrator
	epoch   time.Time
	flows   []model.TrafficFlow
	servers []Proc
	group   *errgroup.Group

	mu   sync.Mutex
	logs map[string]*model.FlowLog
}

// serverArgs builds the generator server argv for a flow.
func serverArgs(host model.Host, flow *model.TrafficFlow) []string {
	return []string{
		"netns", "exec", host.Namespace,
		"iperf3", "--server", "--one-off", "--json",
		"--port", strconv.Itoa(flow.Port),
	}
}

// clientArgs builds the generator client argv for a flow.
func clientArgs(src, dst model.Host, flow *model.TrafficFlow) []string {
	args := []string{
		"netns", "exec", src.Namespace,
		"iperf3", "--client", dst.Addr, "--json",
		"--port", strconv.Itoa(flow.Port),
		"--time", strconv.FormatInt(int64(flow.Duration/time.Second), 10),
	}
	if flow.Proto == model.ProtocolUDP {
		args = append(args, "--udp")
	}
	if flow.TargetRate > 0 {
		args = append(args, "--bitrate",
			strconv.FormatInt(flow.TargetRate.BitsPerSecond(), 10))
	}
	return args
}

// StartFlows validates the schedule, starts one server per flow, and
// schedules one client per flow against the given epoch. The epoch
// must leave room for the server warmup. Any flow that fails to start
// or crashes fails the whole session.
func (o *Orchestrator) StartFlows(ctx context.Context, topo *model.Topology, flows []model.TrafficFlow, epoch time.Time) (*Session, error) {
	if err := model.ValidateFlows(flows); err != nil {
		return nil, errorsx.NewFlowError("schedule", "validate", err)
	}
	if time.Until(epoch) < o.ServerWarmup {
		return nil, errorsx.NewFlowError("schedule", "validate",
			fmt.Errorf("epoch %s does not leave %s of server warmup", epoch, o.ServerWarmup))
	}

	sess := &Session{
		orch:  o,
		epoch: epoch,
		flows: flows,
		logs:  make(map[string]*model.FlowLog),
	}

	for i := range flows {
		flow := &flows[i]
		dst, ok := topo.HostByName(flow.Destination)
		if !ok {
			sess.Abort()
			return nil, errorsx.NewFlowError(flow.Label, "resolve destination",
				fmt.Errorf("no host %q", flow.Destination))
		}
		server, err := o.Start(ctx, o.Logger, "ip", serverArgs(dst, flow)...)
		if err != nil {
			sess.Abort()
			return nil, errorsx.NewFlowError(flow.Label, "start server", err)
		}
		sess.servers = append(sess.servers, server)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	sess.group = group
	for i := range flows {
		flow := flows[i] // copy for the goroutine
		src, ok := topo.HostByName(flow.Source)
		if !ok {
			sess.Abort()
			return nil, errorsx.NewFlowError(flow.Label, "resolve source",
				fmt.Errorf("no host %q", flow.Source))
		}
		dst, _ := topo.HostByName(flow.Destination)
		group.Go(func() error {
			return sess.runFlow(groupCtx, &flow, src, dst)
		})
	}
	return sess, nil
}

// runFlow sleeps until the flow's scheduled start, runs the client to
// completion, and records its log.
func (s *Session) runFlow(ctx context.Context, flow *model.TrafficFlow, src, dst model.Host) error {
	scheduled := s.epoch.Add(flow.StartOffset)
	timer := time.NewTimer(time.Until(scheduled))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return errorsx.NewFlowError(flow.Label, "await start", ctx.Err())
	case <-timer.C:
	}

	client, err := s.orch.Start(ctx, s.orch.Logger, "ip", clientArgs(src, dst, flow)...)
	if err != nil {
		return errorsx.NewFlowError(flow.Label, "start client", err)
	}
	started := client.StartedAt()
	if drift := started.Sub(scheduled); drift < -s.orch.StartTolerance || drift > s.orch.StartTolerance {
		client.Kill()
		return errorsx.NewFlowError(flow.Label, "synchronize start",
			fmt.Errorf("drift %s exceeds tolerance %s", drift, s.orch.StartTolerance))
	}

	joinCtx, cancel := context.WithDeadline(ctx, scheduled.Add(flow.Duration+joinSlack))
	defer cancel()
	if err := client.Join(joinCtx); err != nil {
		client.Kill()
		if errors.Is(err, context.DeadlineExceeded) {
			return errorsx.NewFlowError(flow.Label, "await completion", err)
		}
		return errorsx.NewFlowError(flow.Label, "generator crashed",
			fmt.Errorf("%w: %s", err, tail(client.Stderr())))
	}
	ended := time.Now()

	flowLog, err := parseClientOutput(flow, client.Stdout(), started, ended)
	if err != nil {
		return errorsx.NewFlowError(flow.Label, "parse generator output", err)
	}
	s.mu.Lock()
	s.logs[flow.Label] = flowLog
	s.mu.Unlock()
	return nil
}

// Wait joins every flow, bounded by the given timeout, and returns
// the logs in schedule order. On any flow failure the whole session
// is aborted and the run must be marked failed.
func (s *Session) Wait(ctx context.Context, timeout time.Duration) ([]model.FlowLog, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.group.Wait() }()
	var err error
	select {
	case err = <-done:
	case <-waitCtx.Done():
		err = errorsx.NewFlowError("schedule", "wait", waitCtx.Err())
	}
	s.stopServers()
	if err != nil {
		s.Abort()
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var logs []model.FlowLog
	for i := range s.flows {
		flowLog := s.logs[s.flows[i].Label]
		if flowLog == nil {
			return nil, errorsx.NewFlowError(s.flows[i].Label, "collect log",
				errors.New("missing flow log"))
		}
		logs = append(logs, *flowLog)
	}
	return logs, nil
}

// Abort kills every process of the session.
func (s *Session) Abort() {
	s.stopServers()
}

// stopServers terminates the generator servers, which otherwise
// outlive their one-off clients when a client never connected.
func (s *Session) stopServers() {
	for _, server := range s.servers {
		server.Kill()
	}
}

// tail returns the last portion of diagnostic output.
func tail(data []byte) string {
	const max = 512
	if len(data) > max {
		data = data[len(data)-max:]
	}
	return string(data)
}
