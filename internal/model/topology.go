package model

//
// Topology modeling
//

import (
	"errors"
	"fmt"
	"time"
)

// BufferUnit is the measurement unit of a bottleneck buffer size.
type BufferUnit string

// BufferUnitPackets means the buffer size counts packets.
const BufferUnitPackets = BufferUnit("packets")

// BufferUnitBytes means the buffer size counts bytes.
const BufferUnitBytes = BufferUnit("bytes")

// ErrInvalidTopologySpec indicates that a [TopologySpec] does not
// describe a realizable topology.
var ErrInvalidTopologySpec = errors.New("model: invalid topology spec")

// defaultSocketBufferBytes is the default buffer allocated by the
// kernel when applications create a TCP socket. The bandwidth-delay
// product never shrinks below this value.
const defaultSocketBufferBytes = 87380

// TopologySpec describes the emulated dumbbell network we build for a
// single run: two sender hosts and two receiver hosts attached to two
// switches joined by the bottleneck link. The zero value is invalid;
// fill all the fields and call [TopologySpec.Validate].
type TopologySpec struct {
	// Name identifies this topology profile inside the run matrix.
	Name string `yaml:"name"`

	// Bandwidth is the MANDATORY bottleneck link bandwidth.
	Bandwidth Bandwidth `yaml:"bandwidth"`

	// Delay is the one-way propagation delay of the bottleneck link.
	Delay time.Duration `yaml:"delay"`

	// BufferSize is the MANDATORY bottleneck buffer size expressed
	// in BufferUnit units.
	BufferSize int64 `yaml:"buffer_size"`

	// BufferUnit is the measurement unit of BufferSize. Each AQM
	// mechanism expects a specific unit; see [Mechanism.BufferUnit].
	BufferUnit BufferUnit `yaml:"buffer_unit"`
}

// Validate returns an error wrapping [ErrInvalidTopologySpec] when the
// spec does not describe a realizable topology.
func (s *TopologySpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidTopologySpec)
	}
	if s.Bandwidth <= 0 {
		return fmt.Errorf("%w: bandwidth must be positive", ErrInvalidTopologySpec)
	}
	if s.Delay < 0 {
		return fmt.Errorf("%w: delay must not be negative", ErrInvalidTopologySpec)
	}
	if s.BufferSize <= 0 {
		return fmt.Errorf("%w: buffer size must be positive", ErrInvalidTopologySpec)
	}
	if s.BufferUnit != BufferUnitPackets && s.BufferUnit != BufferUnitBytes {
		return fmt.Errorf("%w: unknown buffer unit %q", ErrInvalidTopologySpec, s.BufferUnit)
	}
	return nil
}

// BDPBytes returns the bandwidth-delay product in bytes, using twice
// the one-way delay as the round trip. The result is rounded up to a
// multiple of 1024 and never smaller than the kernel's default TCP
// socket buffer.
func (s *TopologySpec) BDPBytes() int64 {
	rttSeconds := 2 * s.Delay.Seconds()
	bdp := int64(float64(s.Bandwidth.BitsPerSecond()) * rttSeconds / 8)
	if bdp%1024 != 0 {
		bdp = (bdp/1024 + 1) * 1024
	}
	if bdp < defaultSocketBufferBytes {
		bdp = defaultSocketBufferBytes
	}
	return bdp
}

// Host is a host realized inside the emulated network.
type Host struct {
	// Name is the logical host name (h1..h4).
	Name string

	// Namespace is the network namespace hosting this host.
	Namespace string

	// Addr is the host address without the prefix length.
	Addr string
}

// Topology is a realized emulated network. It lives for exactly one
// run: the builder creates it at run start and tears it down at run
// end, releasing every virtual resource.
type Topology struct {
	// Spec is the spec this topology realizes.
	Spec TopologySpec

	// Hosts contains the realized hosts. By convention h1 and h2 are
	// the senders and h3 and h4 the receivers.
	Hosts []Host

	// BottleneckInterface is the egress interface where the rate
	// limiter and the AQM discipline are installed.
	BottleneckInterface string

	// DelayInterface is the peer interface carrying the netem
	// propagation delay.
	DelayInterface string

	// Bridges contains the names of the switch bridges.
	Bridges []string
}

// HostByName returns the host with the given name, or false when the
// topology has no such host.
func (t *Topology) HostByName(name string) (Host, bool) {
	for _, h := range t.Hosts {
		if h.Name == name {
			return h, true
		}
	}
	return Host{}, false
}
