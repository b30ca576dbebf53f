package model

//
// Traffic flows and generator logs
//

import (
	"errors"
	"fmt"
	"time"
)

// Protocol is the transport protocol of a traffic flow.
type Protocol string

// ProtocolTCP is a TCP flow.
const ProtocolTCP = Protocol("tcp")

// ProtocolUDP is a UDP flow.
const ProtocolUDP = Protocol("udp")

// FlowRole distinguishes the flow under observation from the flows
// competing with it for the bottleneck.
type FlowRole string

// FlowRolePrimary marks the flow under observation.
const FlowRolePrimary = FlowRole("primary")

// FlowRoleCompeting marks a competing flow.
const FlowRoleCompeting = FlowRole("competing")

// ErrInvalidFlow indicates that a [TrafficFlow] is not runnable.
var ErrInvalidFlow = errors.New("model: invalid traffic flow")

// TrafficFlow describes one generated flow inside a run.
type TrafficFlow struct {
	// Label identifies the flow inside the run.
	Label string `yaml:"label"`

	// Proto is the transport protocol.
	Proto Protocol `yaml:"protocol"`

	// Source is the logical name of the sending host.
	Source string `yaml:"source"`

	// Destination is the logical name of the receiving host.
	Destination string `yaml:"destination"`

	// Port is the destination port the generator listens on. Every
	// flow of a run must use a distinct port so that the extractor
	// can classify captured packets.
	Port int `yaml:"port"`

	// TargetRate is the generator target rate. Zero means unlimited,
	// which is only meaningful for TCP.
	TargetRate Bandwidth `yaml:"target_rate"`

	// Duration is how long the flow transmits.
	Duration time.Duration `yaml:"duration"`

	// Role marks the flow as primary or competing.
	Role FlowRole `yaml:"role"`

	// StartOffset delays the flow start relative to the run epoch.
	StartOffset time.Duration `yaml:"start_offset"`
}

// Validate returns an error wrapping [ErrInvalidFlow] when the flow
// cannot be run.
func (f *TrafficFlow) Validate() error {
	if f.Label == "" {
		return fmt.Errorf("%w: empty label", ErrInvalidFlow)
	}
	if f.Proto != ProtocolTCP && f.Proto != ProtocolUDP {
		return fmt.Errorf("%w: %s: unknown protocol %q", ErrInvalidFlow, f.Label, f.Proto)
	}
	if f.Source == "" || f.Destination == "" {
		return fmt.Errorf("%w: %s: missing endpoint", ErrInvalidFlow, f.Label)
	}
	if f.Port <= 0 || f.Port > 65535 {
		return fmt.Errorf("%w: %s: port out of range", ErrInvalidFlow, f.Label)
	}
	if f.TargetRate < 0 {
		return fmt.Errorf("%w: %s: negative target rate", ErrInvalidFlow, f.Label)
	}
	if f.Proto == ProtocolUDP && f.TargetRate == 0 {
		return fmt.Errorf("%w: %s: udp flows need a target rate", ErrInvalidFlow, f.Label)
	}
	if f.Duration <= 0 {
		return fmt.Errorf("%w: %s: duration must be positive", ErrInvalidFlow, f.Label)
	}
	if f.Role != FlowRolePrimary && f.Role != FlowRoleCompeting {
		return fmt.Errorf("%w: %s: unknown role %q", ErrInvalidFlow, f.Label, f.Role)
	}
	if f.StartOffset < 0 {
		return fmt.Errorf("%w: %s: negative start offset", ErrInvalidFlow, f.Label)
	}
	return nil
}

// ValidateFlows validates each flow and the schedule as a whole:
// exactly one primary flow and pairwise distinct ports and labels.
func ValidateFlows(flows []TrafficFlow) error {
	if len(flows) < 1 {
		return fmt.Errorf("%w: empty schedule", ErrInvalidFlow)
	}
	primary := 0
	ports := make(map[int]string)
	labels := make(map[string]bool)
	for i := range flows {
		f := &flows[i]
		if err := f.Validate(); err != nil {
			return err
		}
		if f.Role == FlowRolePrimary {
			primary++
		}
		if other, ok := ports[f.Port]; ok {
			return fmt.Errorf("%w: %s and %s share port %d", ErrInvalidFlow, other, f.Label, f.Port)
		}
		ports[f.Port] = f.Label
		if labels[f.Label] {
			return fmt.Errorf("%w: duplicate label %s", ErrInvalidFlow, f.Label)
		}
		labels[f.Label] = true
	}
	if primary != 1 {
		return fmt.Errorf("%w: want exactly one primary flow, got %d", ErrInvalidFlow, primary)
	}
	return nil
}

// ThroughputSample is one generator-reported throughput interval.
type ThroughputSample struct {
	// Start is the interval start in seconds since the flow start.
	Start float64 `json:"start"`

	// End is the interval end in seconds since the flow start.
	End float64 `json:"end"`

	// BitsPerSecond is the measured rate over the interval.
	BitsPerSecond float64 `json:"bits_per_second"`
}

// FlowLog is the generator-side record of one completed flow. It is
// the ground truth for sent counts when computing loss.
type FlowLog struct {
	// Label is the flow label.
	Label string `json:"label"`

	// Start is when the generator actually started transmitting.
	Start time.Time `json:"start"`

	// End is when the generator stopped.
	End time.Time `json:"end"`

	// BytesSent counts payload bytes handed to the network.
	BytesSent int64 `json:"bytes_sent"`

	// PacketsSent counts datagrams for UDP flows and is zero for TCP.
	PacketsSent int64 `json:"packets_sent"`

	// PacketsLost is the generator-reported loss count (UDP).
	PacketsLost int64 `json:"packets_lost"`

	// Retransmits is the sender retransmit count (TCP).
	Retransmits int64 `json:"retransmits"`

	// JitterMillis is the generator-reported jitter (UDP).
	JitterMillis float64 `json:"jitter_ms"`

	// RTTMillis contains sender-side smoothed RTT samples (TCP).
	RTTMillis []float64 `json:"rtt_ms"`

	// Samples contains per-interval throughput measurements.
	Samples []ThroughputSample `json:"samples"`
}
