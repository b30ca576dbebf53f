// Package topology builds and tears down the emulated dumbbell
// network hosting a single run: two sender hosts and two receiver
// hosts on two bridges joined by the bottleneck link. The rate limiter
// lives on the sender-side bottleneck interface and the propagation
// delay on its peer, so that the AQM discipline under test attaches
// exactly where the queue forms.
package topology

import (
	"context"
	"fmt"
	"strings"

	"github.com/aqmlab/aqmbench/internal/errorsx"
	"github.com/aqmlab/aqmbench/internal/model"
	"github.com/aqmlab/aqmbench/internal/shellx"
)

// DefaultPrefix is the name prefix of every virtual resource we
// create. Stale-resource detection keys on it.
const DefaultPrefix = "aqmb"

// assumedKernelHZ is the timer frequency used to size the token
// bucket burst, following the common CONFIG_HZ_250 configuration.
const assumedKernelHZ = 250

// minBurstBytes is the lower bound for the token bucket burst.
const minBurstBytes = 1600

// Builder constructs and destroys topologies. The zero value is not
// valid; use [NewBuilder].
type Builder struct {
	// Logger is the logger to use.
	Logger model.Logger

	// Ops is the plumbing implementation.
	Ops NetOps

	// Prefix is the virtual resource name prefix.
	Prefix string

	// ConnectivityCheck pings across the bottleneck after building.
	ConnectivityCheck bool
}

// NewBuilder creates a [Builder] with the netlink-backed plumbing.
func NewBuilder(logger model.Logger) *Builder {
	return &Builder{
		Logger:            model.ValidLoggerOrDefault(logger),
		Ops:               NewNetOps(),
		Prefix:            DefaultPrefix,
		ConnectivityCheck: true,
	}
}

// hostAddrs maps the four hosts onto the emulated subnet.
var hostAddrs = map[string]string{
	"h1": "10.42.0.1",
	"h2": "10.42.0.2",
	"h3": "10.42.0.3",
	"h4": "10.42.0.4",
}

// hostBridge maps each host onto its switch: senders on s1 and
// receivers on s2, joined through the bottleneck.
var hostBridge = map[string]string{
	"h1": "s1",
	"h2": "s1",
	"h3": "s2",
	"h4": "s2",
}

// hostOrder keeps host handling deterministic.
var hostOrder = []string{"h1", "h2", "h3", "h4"}

// Build validates spec against profile and constructs the topology.
// On failure it tears down whatever it already created. The returned
// topology lives for exactly one run.
func (b *Builder) Build(ctx context.Context, spec *model.TopologySpec, profile *model.AQMProfile) (*model.Topology, error) {
	if err := spec.Validate(); err != nil {
		return nil, errorsx.NewTopologyError("validate spec", err)
	}
	if want := profile.Mechanism().BufferUnit(); spec.BufferUnit != want {
		err := fmt.Errorf("buffer unit %q but %s sizes its queue in %q",
			spec.BufferUnit, profile.Mechanism(), want)
		return nil, errorsx.NewTopologyError("validate spec", err)
	}

	topo := &model.Topology{
		Spec:                *spec,
		BottleneckInterface: b.name("bn1"),
		DelayInterface:      b.name("bn2"),
		Bridges:             []string{b.name("s1"), b.name("s2")},
	}
	for _, host := range hostOrder {
		topo.Hosts = append(topo.Hosts, model.Host{
			Name:      host,
			Namespace: b.name(host),
			Addr:      hostAddrs[host],
		})
	}

	if err := b.construct(ctx, topo); err != nil {
		b.Teardown(ctx, topo) // best effort
		return nil, err
	}
	return topo, nil
}

func (b *Builder) construct(ctx context.Context, topo *model.Topology) error {
	for _, bridge := range topo.Bridges {
		if err := b.Ops.CreateBridge(bridge); err != nil {
			return errorsx.NewTopologyError("create bridge "+bridge, err)
		}
	}

	for _, host := range topo.Hosts {
		if err := b.Ops.CreateNamespace(ctx, host.Namespace); err != nil {
			return errorsx.NewTopologyError("create namespace "+host.Namespace, err)
		}
		inner, outer := b.name(host.Name+"i"), b.name(host.Name+"b")
		if err := b.Ops.CreateVethPair(inner, outer); err != nil {
			return errorsx.NewTopologyError("create veth "+inner, err)
		}
		bridge := b.name(hostBridge[host.Name])
		if err := b.Ops.AttachToBridge(outer, bridge); err != nil {
			return errorsx.NewTopologyError("attach "+outer, err)
		}
		if err := b.Ops.MoveToNamespace(inner, host.Namespace); err != nil {
			return errorsx.NewTopologyError("move "+inner, err)
		}
		cidr := host.Addr + "/24"
		if err := b.Ops.ConfigureAddress(host.Namespace, inner, cidr); err != nil {
			return errorsx.NewTopologyError("address "+inner, err)
		}
	}

	if err := b.Ops.CreateVethPair(topo.BottleneckInterface, topo.DelayInterface); err != nil {
		return errorsx.NewTopologyError("create bottleneck veth", err)
	}
	if err := b.Ops.AttachToBridge(topo.BottleneckInterface, b.name("s1")); err != nil {
		return errorsx.NewTopologyError("attach bottleneck", err)
	}
	if err := b.Ops.AttachToBridge(topo.DelayInterface, b.name("s2")); err != nil {
		return errorsx.NewTopologyError("attach bottleneck peer", err)
	}
	if topo.Spec.Delay > 0 {
		if err := b.Ops.SetNetemDelay(topo.DelayInterface, topo.Spec.Delay); err != nil {
			return errorsx.NewTopologyError("set delay", err)
		}
	}
	if err := b.applyShaper(ctx, topo); err != nil {
		return err
	}
	if err := b.applyHostBuffers(ctx, topo); err != nil {
		return err
	}
	if b.ConnectivityCheck {
		if err := b.checkConnectivity(ctx, topo); err != nil {
			return err
		}
	}
	return nil
}

// applyShaper installs the token bucket filter that realizes the
// bottleneck bandwidth. The AQM discipline attaches under its handle.
func (b *Builder) applyShaper(ctx context.Context, topo *model.Topology) error {
	spec := &topo.Spec
	burst := spec.Bandwidth.BytesPerSecond() / assumedKernelHZ
	if burst < minBurstBytes {
		burst = minBurstBytes
	}
	err := shellx.Run(ctx, b.Logger, "tc", "qdisc", "replace",
		"dev", topo.BottleneckInterface, "root", "handle", "1:", "tbf",
		"rate", spec.Bandwidth.String(),
		"burst", fmt.Sprintf("%d", burst),
		"limit", fmt.Sprintf("%d", bottleneckLimitBytes(spec)),
	)
	if err != nil {
		return errorsx.NewTopologyError("apply shaper", err)
	}
	return nil
}

// bottleneckLimitBytes maps the buffer size onto the shaper's byte
// limit. Byte-sized buffers apply directly; packet-sized buffers are
// enforced by the AQM discipline's own limit, so the shaper just gets
// enough headroom not to interfere (ten times the BDP, matching the
// headroom used when sizing host buffers).
func bottleneckLimitBytes(spec *model.TopologySpec) int64 {
	if spec.BufferUnit == model.BufferUnitBytes {
		return spec.BufferSize
	}
	return 10 * spec.BDPBytes()
}

// applyHostBuffers raises the host TCP buffers to twenty times the
// BDP so that the sender never becomes the bottleneck itself.
func (b *Builder) applyHostBuffers(ctx context.Context, topo *model.Topology) error {
	maxBuf := 20 * topo.Spec.BDPBytes()
	value := fmt.Sprintf("10240 87380 %d", maxBuf)
	for _, host := range topo.Hosts {
		for _, key := range []string{"net.ipv4.tcp_rmem", "net.ipv4.tcp_wmem"} {
			if err := b.Ops.Sysctl(ctx, host.Namespace, key, value); err != nil {
				return errorsx.NewTopologyError("sysctl "+host.Namespace, err)
			}
		}
	}
	return nil
}

// checkConnectivity pings from the first sender to the first receiver
// across the bottleneck.
func (b *Builder) checkConnectivity(ctx context.Context, topo *model.Topology) error {
	sender, _ := topo.HostByName("h1")
	receiver, _ := topo.HostByName("h3")
	err := shellx.RunQuiet(ctx, "ip", "netns", "exec", sender.Namespace,
		"ping", "-c", "1", "-W", "5", receiver.Addr)
	if err != nil {
		return errorsx.NewTopologyError("connectivity check", err)
	}
	return nil
}

// Teardown force-releases every virtual resource of the topology. It
// is idempotent and keeps going on partial failure, returning the
// first error it met. Flows still marked active do not prevent it.
func (b *Builder) Teardown(ctx context.Context, topo *model.Topology) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, host := range topo.Hosts {
		keep(b.Ops.DeleteNamespace(ctx, host.Namespace))
		keep(b.Ops.DeleteLink(b.name(host.Name + "b")))
	}
	// Deleting one veth end removes its peer too.
	keep(b.Ops.DeleteLink(topo.BottleneckInterface))
	for _, bridge := range topo.Bridges {
		keep(b.Ops.DeleteLink(bridge))
	}
	if firstErr != nil {
		return errorsx.NewTopologyError("teardown", firstErr)
	}
	return nil
}

// StaleResources returns the names of leftover namespaces created by
// a previous run that did not tear down. The runner refuses to start
// while any exist.
func (b *Builder) StaleResources() ([]string, error) {
	names, err := b.Ops.ListNamespaces()
	if err != nil {
		return nil, errorsx.NewTopologyError("list namespaces", err)
	}
	var stale []string
	for _, name := range names {
		if strings.HasPrefix(name, b.prefix()+"-") {
			stale = append(stale, name)
		}
	}
	return stale, nil
}

// Clean force-removes every stale resource.
func (b *Builder) Clean(ctx context.Context) error {
	stale, err := b.StaleResources()
	if err != nil {
		return err
	}
	for _, name := range stale {
		if err := b.Ops.DeleteNamespace(ctx, name); err != nil {
			return errorsx.NewTopologyError("delete "+name, err)
		}
		b.Logger.Infof("topology: removed stale namespace %s", name)
	}
	for _, link := range []string{"bn1", "s1", "s2", "h1b", "h2b", "h3b", "h4b"} {
		if err := b.Ops.DeleteLink(b.name(link)); err != nil {
			return errorsx.NewTopologyError("delete link "+b.name(link), err)
		}
	}
	return nil
}

func (b *Builder) prefix() string {
	if b.Prefix != "" {
		return b.Prefix
	}
	return DefaultPrefix
}

func (b *Builder) name(suffix string) string {
	return b.prefix() + "-" + suffix
}
