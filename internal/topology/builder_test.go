package topology

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aqmlab/aqmbench/internal/errorsx"
	"github.com/aqmlab/aqmbench/internal/model"
	"github.com/aqmlab/aqmbench/internal/shellx"
	"github.com/google/go-cmp/cmp"
	"golang.org/x/sys/execabs"
)

// mockOps is a mockable [NetOps] that records every mutation.
type mockOps struct {
	calls []string

	MockCreateNamespace  func(ctx context.Context, name string) error
	MockDeleteNamespace  func(ctx context.Context, name string) error
	MockListNamespaces   func() ([]string, error)
	MockCreateVethPair   func(name, peer string) error
	MockCreateBridge     func(name string) error
	MockAttachToBridge   func(link, bridge string) error
	MockMoveToNamespace  func(link, namespace string) error
	MockConfigureAddress func(namespace, link, cidr string) error
	MockDeleteLink       func(name string) error
	MockSetNetemDelay    func(iface string, delay time.Duration) error
	MockSysctl           func(ctx context.Context, namespace, key, value string) error
}

func (m *mockOps) record(call string) {
	m.calls = append(m.calls, call)
}

func (m *mockOps) CreateNamespace(ctx context.Context, name string) error {
	m.record("netns add " + name)
	if m.MockCreateNamespace != nil {
		return m.MockCreateNamespace(ctx, name)
	}
	return nil
}

func (m *mockOps) DeleteNamespace(ctx context.Context, name string) error {
	m.record("netns del " + name)
	if m.MockDeleteNamespace != nil {
		return m.MockDeleteNamespace(ctx, name)
	}
	return nil
}

func (m *mockOps) ListNamespaces() ([]string, error) {
	if m.MockListNamespaces != nil {
		return m.MockListNamespaces()
	}
	return nil, nil
}

func (m *mockOps) CreateVethPair(name, peer string) error {
	m.record("veth " + name + " " + peer)
	if m.MockCreateVethPair != nil {
		return m.MockCreateVethPair(name, peer)
	}
	return nil
}

func (m *mockOps) CreateBridge(name string) error {
	m.record("bridge " + name)
	if m.MockCreateBridge != nil {
		return m.MockCreateBridge(name)
	}
	return nil
}

func (m *mockOps) AttachToBridge(link, bridge string) error {
	m.record("attach " + link + " " + bridge)
	if m.MockAttachToBridge != nil {
		return m.MockAttachToBridge(link, bridge)
	}
	return nil
}

func (m *mockOps) MoveToNamespace(link, namespace string) error {
	m.record("move " + link + " " + namespace)
	if m.MockMoveToNamespace != nil {
		return m.MockMoveToNamespace(link, namespace)
	}
	return nil
}

func (m *mockOps) ConfigureAddress(namespace, link, cidr string) error {
	m.record("addr " + namespace + " " + link + " " + cidr)
	if m.MockConfigureAddress != nil {
		return m.MockConfigureAddress(namespace, link, cidr)
	}
	return nil
}

func (m *mockOps) DeleteLink(name string) error {
	m.record("del link " + name)
	if m.MockDeleteLink != nil {
		return m.MockDeleteLink(name)
	}
	return nil
}

func (m *mockOps) SetNetemDelay(iface string, delay time.Duration) error {
	m.record("netem " + iface + " " + delay.String())
	if m.MockSetNetemDelay != nil {
		return m.MockSetNetemDelay(iface, delay)
	}
	return nil
}

func (m *mockOps) Sysctl(ctx context.Context, namespace, key, value string) error {
	m.record("sysctl " + namespace + " " + key)
	if m.MockSysctl != nil {
		return m.MockSysctl(ctx, namespace, key, value)
	}
	return nil
}

// shellxDeps mocks the [shellx.Dependencies] so that the tc and ping
// invocations of the builder never touch the system.
type shellxDeps struct {
	MockCmdRun func(c *execabs.Cmd) error
}

func (d *shellxDeps) CmdOutput(c *execabs.Cmd) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (d *shellxDeps) CmdCombinedOutput(c *execabs.Cmd) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (d *shellxDeps) CmdRun(c *execabs.Cmd) error {
	if d.MockCmdRun != nil {
		return d.MockCmdRun(c)
	}
	return nil
}

func (d *shellxDeps) CmdStart(c *execabs.Cmd) error {
	return errors.New("not implemented")
}

func (d *shellxDeps) LookPath(file string) (string, error) {
	return "/sbin/" + file, nil
}

func swapShellx(t *testing.T, deps shellx.Dependencies) {
	previous := shellx.Library
	shellx.Library = deps
	t.Cleanup(func() {
		shellx.Library = previous
	})
}

func codelSpec() *model.TopologySpec {
	return &model.TopologySpec{
		Name:       "baseline",
		Bandwidth:  10 * model.MegabitPerSecond,
		Delay:      50 * time.Millisecond,
		BufferSize: 64,
		BufferUnit: model.BufferUnitPackets,
	}
}

func codelProfile(t *testing.T) *model.AQMProfile {
	profile, err := model.NewCoDelProfile(model.CoDelParams{
		Target:       5 * time.Millisecond,
		Interval:     100 * time.Millisecond,
		LimitPackets: 1000,
	})
	if err != nil {
		t.Fatal(err)
	}
	return profile
}

func newTestBuilder(ops NetOps) *Builder {
	return &Builder{
		Logger:            model.DiscardLogger,
		Ops:               ops,
		Prefix:            DefaultPrefix,
		ConnectivityCheck: false,
	}
}

func TestBuilderBuild(t *testing.T) {
	t.Run("constructs the dumbbell", func(t *testing.T) {
		swapShellx(t, &shellxDeps{})
		ops := &mockOps{}
		builder := newTestBuilder(ops)
		topo, err := builder.Build(context.Background(), codelSpec(), codelProfile(t))
		if err != nil {
			t.Fatal(err)
		}
		if topo.BottleneckInterface != "aqmb-bn1" || topo.DelayInterface != "aqmb-bn2" {
			t.Fatalf("unexpected bottleneck names: %+v", topo)
		}
		expectBridges := []string{"aqmb-s1", "aqmb-s2"}
		if diff := cmp.Diff(expectBridges, topo.Bridges); diff != "" {
			t.Fatal(diff)
		}
		if len(topo.Hosts) != 4 {
			t.Fatalf("expected 4 hosts, got %d", len(topo.Hosts))
		}
		if host, _ := topo.HostByName("h2"); host.Addr != "10.42.0.2" {
			t.Fatalf("got %+v", host)
		}
		// Senders attach to s1, receivers to s2.
		wantCalls := map[string]bool{
			"attach aqmb-h1b aqmb-s1": false,
			"attach aqmb-h3b aqmb-s2": false,
			"attach aqmb-bn1 aqmb-s1": false,
			"attach aqmb-bn2 aqmb-s2": false,
			"netem aqmb-bn2 50ms":     false,
		}
		for _, call := range ops.calls {
			if _, ok := wantCalls[call]; ok {
				wantCalls[call] = true
			}
		}
		for call, seen := range wantCalls {
			if !seen {
				t.Fatalf("missing call %q in %v", call, ops.calls)
			}
		}
	})

	t.Run("rejects a buffer unit the mechanism does not use", func(t *testing.T) {
		swapShellx(t, &shellxDeps{})
		spec := codelSpec()
		spec.BufferUnit = model.BufferUnitBytes
		spec.BufferSize = 96000
		builder := newTestBuilder(&mockOps{})
		_, err := builder.Build(context.Background(), spec, codelProfile(t))
		var te *errorsx.TopologyError
		if !errors.As(err, &te) {
			t.Fatalf("expected a topology error, got %v", err)
		}
	})

	t.Run("rejects an invalid spec", func(t *testing.T) {
		swapShellx(t, &shellxDeps{})
		spec := codelSpec()
		spec.Bandwidth = 0
		builder := newTestBuilder(&mockOps{})
		if _, err := builder.Build(context.Background(), spec, codelProfile(t)); err == nil {
			t.Fatal("expected an error")
		}
	})

	t.Run("tears down after a construction failure", func(t *testing.T) {
		swapShellx(t, &shellxDeps{})
		expected := errors.New("mocked error")
		ops := &mockOps{
			MockCreateVethPair: func(name, peer string) error {
				return expected
			},
		}
		builder := newTestBuilder(ops)
		if _, err := builder.Build(context.Background(), codelSpec(), codelProfile(t)); !errors.Is(err, expected) {
			t.Fatal("not the error we expected", err)
		}
		deleted := 0
		for _, call := range ops.calls {
			if call == "netns del aqmb-h1" || call == "netns del aqmb-h2" ||
				call == "netns del aqmb-h3" || call == "netns del aqmb-h4" {
				deleted++
			}
		}
		if deleted != 4 {
			t.Fatalf("expected 4 namespace deletions, got %d in %v", deleted, ops.calls)
		}
	})
}

func TestBuilderTeardown(t *testing.T) {
	t.Run("keeps going and returns the first error", func(t *testing.T) {
		expected := errors.New("mocked error")
		ops := &mockOps{
			MockDeleteNamespace: func(ctx context.Context, name string) error {
				if name == "aqmb-h1" {
					return expected
				}
				return nil
			},
		}
		builder := newTestBuilder(ops)
		topo := &model.Topology{
			BottleneckInterface: "aqmb-bn1",
			DelayInterface:      "aqmb-bn2",
			Bridges:             []string{"aqmb-s1", "aqmb-s2"},
			Hosts: []model.Host{
				{Name: "h1", Namespace: "aqmb-h1"},
				{Name: "h2", Namespace: "aqmb-h2"},
			},
		}
		err := builder.Teardown(context.Background(), topo)
		if !errors.Is(err, expected) {
			t.Fatal("not the error we expected", err)
		}
		// The second namespace must still have been deleted.
		found := false
		for _, call := range ops.calls {
			if call == "netns del aqmb-h2" {
				found = true
			}
		}
		if !found {
			t.Fatal("teardown stopped at the first error")
		}
	})
}

func TestBuilderStaleResources(t *testing.T) {
	ops := &mockOps{
		MockListNamespaces: func() ([]string, error) {
			return []string{"aqmb-h1", "aqmb-h3", "unrelated"}, nil
		},
	}
	builder := newTestBuilder(ops)
	stale, err := builder.StaleResources()
	if err != nil {
		t.Fatal(err)
	}
	expect := []string{"aqmb-h1", "aqmb-h3"}
	if diff := cmp.Diff(expect, stale); diff != "" {
		t.Fatal(diff)
	}
}
