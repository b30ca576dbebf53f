package model

//
// AQM mechanisms and their parameters
//

import (
	"errors"
	"fmt"
	"time"
)

// Mechanism is the tag of an AQM mechanism under test.
type Mechanism string

// MechanismARED is Adaptive Random Early Detection (tc "red" with the
// adaptive flag). Its thresholds and limit are byte-based.
const MechanismARED = Mechanism("ared")

// MechanismCoDel is Controlled Delay (tc "codel").
const MechanismCoDel = Mechanism("codel")

// MechanismPIE is Proportional Integral controller Enhanced (tc "pie").
const MechanismPIE = Mechanism("pie")

// MechanismSFQ is Stochastic Fairness Queueing (tc "sfq").
const MechanismSFQ = Mechanism("sfq")

// AllMechanisms lists every supported mechanism in the deterministic
// order used by the run matrix.
var AllMechanisms = []Mechanism{
	MechanismARED,
	MechanismCoDel,
	MechanismPIE,
	MechanismSFQ,
}

// BufferUnit returns the buffer-size unit the mechanism expects: ARED
// sizes its queue in bytes while CoDel, PIE, and SFQ count packets.
func (m Mechanism) BufferUnit() BufferUnit {
	if m == MechanismARED {
		return BufferUnitBytes
	}
	return BufferUnitPackets
}

// Valid returns whether this is a supported mechanism tag.
func (m Mechanism) Valid() bool {
	switch m {
	case MechanismARED, MechanismCoDel, MechanismPIE, MechanismSFQ:
		return true
	default:
		return false
	}
}

// ErrInvalidAQMParams indicates that mechanism parameters are outside
// the discipline's valid range.
var ErrInvalidAQMParams = errors.New("model: invalid AQM parameters")

// AREDParams contains the ARED parameters. All sizes are in bytes.
type AREDParams struct {
	// LimitBytes is the hard queue limit.
	LimitBytes int64 `yaml:"limit_bytes"`

	// MinThresholdBytes is the queue average below which no packet
	// is marked. Zero lets the discipline derive it from the limit.
	MinThresholdBytes int64 `yaml:"min_threshold_bytes"`

	// MaxThresholdBytes is the queue average above which every packet
	// is marked. Zero lets the discipline derive it from the limit.
	MaxThresholdBytes int64 `yaml:"max_threshold_bytes"`

	// AvgPacketBytes is the average packet size used by the EWMA.
	AvgPacketBytes int64 `yaml:"avg_packet_bytes"`

	// Bandwidth is the link bandwidth used to compute the queue
	// averaging time constant.
	Bandwidth Bandwidth `yaml:"bandwidth"`

	// Adaptive enables the adaptive variant, which continuously
	// tunes the marking probability.
	Adaptive bool `yaml:"adaptive"`

	// ECN marks packets instead of dropping them when possible.
	ECN bool `yaml:"ecn"`
}

// CoDelParams contains the CoDel parameters.
type CoDelParams struct {
	// Target is the acceptable minimum standing-queue delay.
	Target time.Duration `yaml:"target"`

	// Interval is the sliding window used to track the minimum delay.
	Interval time.Duration `yaml:"interval"`

	// LimitPackets is the hard queue limit in packets.
	LimitPackets int64 `yaml:"limit_packets"`

	// ECN marks packets instead of dropping them when possible.
	ECN bool `yaml:"ecn"`
}

// PIEParams contains the PIE parameters.
type PIEParams struct {
	// Target is the queueing latency the controller aims for.
	Target time.Duration `yaml:"target"`

	// TUpdate is the drop-probability update period.
	TUpdate time.Duration `yaml:"tupdate"`

	// LimitPackets is the hard queue limit in packets.
	LimitPackets int64 `yaml:"limit_packets"`

	// Alpha weighs the current latency deviation (0..32).
	Alpha int64 `yaml:"alpha"`

	// Beta weighs the latency trend (0..32).
	Beta int64 `yaml:"beta"`

	// ECN marks packets instead of dropping them when possible.
	ECN bool `yaml:"ecn"`
}

// SFQParams contains the SFQ parameters.
type SFQParams struct {
	// LimitPackets is the hard queue limit in packets (at most 127).
	LimitPackets int64 `yaml:"limit_packets"`

	// QuantumBytes is the amount of bytes a flow may dequeue per
	// round. Zero means one MTU.
	QuantumBytes int64 `yaml:"quantum_bytes"`

	// Perturb is the period of hash perturbation. Zero disables it.
	Perturb time.Duration `yaml:"perturb"`
}

// AQMProfile pairs a mechanism with its validated parameter set. The
// profile is immutable once constructed; build one through the
// mechanism-specific constructor and never mutate the params after.
type AQMProfile struct {
	mechanism Mechanism
	ared      *AREDParams
	codel     *CoDelParams
	pie       *PIEParams
	sfq       *SFQParams
}

// NewAREDProfile validates params and builds an ARED profile.
func NewAREDProfile(p AREDParams) (*AQMProfile, error) {
	if p.LimitBytes <= 0 {
		return nil, fmt.Errorf("%w: ared: limit must be positive", ErrInvalidAQMParams)
	}
	if p.AvgPacketBytes <= 0 {
		return nil, fmt.Errorf("%w: ared: avg packet size must be positive", ErrInvalidAQMParams)
	}
	if p.Bandwidth <= 0 {
		return nil, fmt.Errorf("%w: ared: bandwidth must be positive", ErrInvalidAQMParams)
	}
	if p.MinThresholdBytes < 0 || p.MaxThresholdBytes < 0 {
		return nil, fmt.Errorf("%w: ared: thresholds must not be negative", ErrInvalidAQMParams)
	}
	if p.MaxThresholdBytes > 0 && p.MinThresholdBytes >= p.MaxThresholdBytes {
		return nil, fmt.Errorf("%w: ared: min threshold must be below max", ErrInvalidAQMParams)
	}
	if p.MaxThresholdBytes > p.LimitBytes {
		return nil, fmt.Errorf("%w: ared: max threshold must not exceed limit", ErrInvalidAQMParams)
	}
	return &AQMProfile{mechanism: MechanismARED, ared: &p}, nil
}

// NewCoDelProfile validates params and builds a CoDel profile.
func NewCoDelProfile(p CoDelParams) (*AQMProfile, error) {
	if p.Target <= 0 {
		return nil, fmt.Errorf("%w: codel: target must be positive", ErrInvalidAQMParams)
	}
	if p.Interval <= p.Target {
		return nil, fmt.Errorf("%w: codel: interval must exceed target", ErrInvalidAQMParams)
	}
	if p.LimitPackets <= 0 {
		return nil, fmt.Errorf("%w: codel: limit must be positive", ErrInvalidAQMParams)
	}
	return &AQMProfile{mechanism: MechanismCoDel, codel: &p}, nil
}

// NewPIEProfile validates params and builds a PIE profile.
func NewPIEProfile(p PIEParams) (*AQMProfile, error) {
	if p.Target <= 0 {
		return nil, fmt.Errorf("%w: pie: target must be positive", ErrInvalidAQMParams)
	}
	if p.TUpdate <= 0 {
		return nil, fmt.Errorf("%w: pie: tupdate must be positive", ErrInvalidAQMParams)
	}
	if p.LimitPackets <= 0 {
		return nil, fmt.Errorf("%w: pie: limit must be positive", ErrInvalidAQMParams)
	}
	if p.Alpha < 0 || p.Alpha > 32 || p.Beta < 0 || p.Beta > 32 {
		return nil, fmt.Errorf("%w: pie: alpha and beta must be in [0, 32]", ErrInvalidAQMParams)
	}
	return &AQMProfile{mechanism: MechanismPIE, pie: &p}, nil
}

// NewSFQProfile validates params and builds an SFQ profile.
func NewSFQProfile(p SFQParams) (*AQMProfile, error) {
	if p.LimitPackets <= 0 || p.LimitPackets > 127 {
		return nil, fmt.Errorf("%w: sfq: limit must be in [1, 127]", ErrInvalidAQMParams)
	}
	if p.QuantumBytes < 0 {
		return nil, fmt.Errorf("%w: sfq: quantum must not be negative", ErrInvalidAQMParams)
	}
	if p.Perturb < 0 {
		return nil, fmt.Errorf("%w: sfq: perturb must not be negative", ErrInvalidAQMParams)
	}
	return &AQMProfile{mechanism: MechanismSFQ, sfq: &p}, nil
}

// Mechanism returns the mechanism tag.
func (p *AQMProfile) Mechanism() Mechanism {
	return p.mechanism
}

// ARED returns the ARED params or nil for other mechanisms.
func (p *AQMProfile) ARED() *AREDParams { return p.ared }

// CoDel returns the CoDel params or nil for other mechanisms.
func (p *AQMProfile) CoDel() *CoDelParams { return p.codel }

// PIE returns the PIE params or nil for other mechanisms.
func (p *AQMProfile) PIE() *PIEParams { return p.pie }

// SFQ returns the SFQ params or nil for other mechanisms.
func (p *AQMProfile) SFQ() *SFQParams { return p.sfq }
