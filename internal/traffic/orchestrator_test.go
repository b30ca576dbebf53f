package traffic

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aqmlab/aqmbench/internal/errorsx"
	"github.com/aqmlab/aqmbench/internal/model"
	"github.com/google/go-cmp/cmp"
)

// mockProc is a mockable [Proc].
type mockProc struct {
	startedAt time.Time
	joinErr   error
	stdout    []byte

	mu     sync.Mutex
	killed bool
}

func (p *mockProc) StartedAt() time.Time {
	return p.startedAt
}

func (p *mockProc) Join(ctx context.Context) error {
	return p.joinErr
}

func (p *mockProc) Signal(sig os.Signal) error {
	return nil
}

func (p *mockProc) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killed = true
	return nil
}

func (p *mockProc) Stdout() []byte {
	return p.stdout
}

func (p *mockProc) Stderr() []byte {
	return nil
}

func testTopology() *model.Topology {
	return &model.Topology{
		Hosts: []model.Host{
			{Name: "h1", Namespace: "aqmb-h1", Addr: "10.42.0.1"},
			{Name: "h2", Namespace: "aqmb-h2", Addr: "10.42.0.2"},
			{Name: "h3", Namespace: "aqmb-h3", Addr: "10.42.0.3"},
			{Name: "h4", Namespace: "aqmb-h4", Addr: "10.42.0.4"},
		},
	}
}

// shortSchedule is a schedule that completes quickly under mocks.
func shortSchedule() []model.TrafficFlow {
	return []model.TrafficFlow{{
		Label:       "bulk",
		Proto:       model.ProtocolTCP,
		Source:      "h1",
		Destination: "h3",
		Port:        5201,
		Duration:    10 * time.Millisecond,
		Role:        model.FlowRolePrimary,
	}, {
		Label:       "cross",
		Proto:       model.ProtocolUDP,
		Source:      "h2",
		Destination: "h4",
		Port:        5202,
		TargetRate:  2 * model.MegabitPerSecond,
		Duration:    10 * time.Millisecond,
		Role:        model.FlowRoleCompeting,
		StartOffset: 10 * time.Millisecond,
	}}
}

func TestServerArgs(t *testing.T) {
	topo := testTopology()
	dst, _ := topo.HostByName("h3")
	flows := shortSchedule()
	got := serverArgs(dst, &flows[0])
	expect := []string{
		"netns", "exec", "aqmb-h3",
		"iperf3", "--server", "--one-off", "--json",
		"--port", "5201",
	}
	if diff := cmp.Diff(expect, got); diff != "" {
		t.Fatal(diff)
	}
}

func TestClientArgs(t *testing.T) {
	topo := testTopology()
	src, _ := topo.HostByName("h2")
	dst, _ := topo.HostByName("h4")
	flows := shortSchedule()
	flows[1].Duration = 50 * time.Second
	got := clientArgs(src, dst, &flows[1])
	expect := []string{
		"netns", "exec", "aqmb-h2",
		"iperf3", "--client", "10.42.0.4", "--json",
		"--port", "5202",
		"--time", "50",
		"--udp",
		"--bitrate", "2000000",
	}
	if diff := cmp.Diff(expect, got); diff != "" {
		t.Fatal(diff)
	}
}

// newTestOrchestrator builds an orchestrator whose Start returns mocks
// produced by the given factory.
func newTestOrchestrator(start StartFunc) *Orchestrator {
	return &Orchestrator{
		Logger:         model.DiscardLogger,
		StartTolerance: time.Second,
		ServerWarmup:   10 * time.Millisecond,
		Start:          start,
	}
}

func TestStartFlows(t *testing.T) {
	t.Run("runs the schedule and returns logs in order", func(t *testing.T) {
		start := func(ctx context.Context, logger model.Logger, command string, args ...string) (Proc, error) {
			stdout := []byte(tcpClientOutput)
			for _, arg := range args {
				if arg == "--udp" {
					stdout = []byte(udpClientOutput)
				}
			}
			return &mockProc{startedAt: time.Now(), stdout: stdout}, nil
		}
		orch := newTestOrchestrator(start)
		epoch := time.Now().Add(50 * time.Millisecond)
		sess, err := orch.StartFlows(context.Background(), testTopology(), shortSchedule(), epoch)
		if err != nil {
			t.Fatal(err)
		}
		logs, err := sess.Wait(context.Background(), 5*time.Second)
		if err != nil {
			t.Fatal(err)
		}
		if len(logs) != 2 || logs[0].Label != "bulk" || logs[1].Label != "cross" {
			t.Fatalf("got %+v", logs)
		}
		if logs[1].PacketsSent != 8500 {
			t.Fatalf("got %+v", logs[1])
		}
	})

	t.Run("rejects an epoch inside the warmup", func(t *testing.T) {
		orch := newTestOrchestrator(nil)
		_, err := orch.StartFlows(context.Background(), testTopology(),
			shortSchedule(), time.Now())
		var fe *errorsx.FlowError
		if !errors.As(err, &fe) {
			t.Fatalf("expected a flow error, got %v", err)
		}
	})

	t.Run("rejects an invalid schedule", func(t *testing.T) {
		orch := newTestOrchestrator(nil)
		flows := shortSchedule()
		flows[1].Port = flows[0].Port
		_, err := orch.StartFlows(context.Background(), testTopology(),
			flows, time.Now().Add(time.Second))
		if err == nil {
			t.Fatal("expected an error")
		}
	})

	t.Run("a start drift violation fails the session", func(t *testing.T) {
		start := func(ctx context.Context, logger model.Logger, command string, args ...string) (Proc, error) {
			// Servers and clients both report a start far in the
			// past, violating any reasonable tolerance.
			return &mockProc{
				startedAt: time.Now().Add(-time.Minute),
				stdout:    []byte(tcpClientOutput),
			}, nil
		}
		orch := newTestOrchestrator(start)
		orch.StartTolerance = 100 * time.Millisecond
		epoch := time.Now().Add(50 * time.Millisecond)
		sess, err := orch.StartFlows(context.Background(), testTopology(), shortSchedule(), epoch)
		if err != nil {
			t.Fatal(err)
		}
		_, err = sess.Wait(context.Background(), 5*time.Second)
		var fe *errorsx.FlowError
		if !errors.As(err, &fe) {
			t.Fatalf("expected a flow error, got %v", err)
		}
		if !strings.Contains(fe.Op, "synchronize") {
			t.Fatalf("got op %q", fe.Op)
		}
	})

	t.Run("a crashed generator fails the session", func(t *testing.T) {
		start := func(ctx context.Context, logger model.Logger, command string, args ...string) (Proc, error) {
			proc := &mockProc{startedAt: time.Now(), stdout: []byte(tcpClientOutput)}
			for _, arg := range args {
				if arg == "--client" {
					proc.joinErr = errors.New("exit status 1")
				}
			}
			return proc, nil
		}
		orch := newTestOrchestrator(start)
		epoch := time.Now().Add(50 * time.Millisecond)
		sess, err := orch.StartFlows(context.Background(), testTopology(), shortSchedule(), epoch)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := sess.Wait(context.Background(), 5*time.Second); err == nil {
			t.Fatal("expected an error")
		}
	})

	t.Run("a failed server start aborts immediately", func(t *testing.T) {
		expected := errors.New("mocked error")
		start := func(ctx context.Context, logger model.Logger, command string, args ...string) (Proc, error) {
			return nil, expected
		}
		orch := newTestOrchestrator(start)
		epoch := time.Now().Add(time.Second)
		_, err := orch.StartFlows(context.Background(), testTopology(), shortSchedule(), epoch)
		if !errors.Is(err, expected) {
			t.Fatal("not the error we expected", err)
		}
	})
}
