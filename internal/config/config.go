// Package config reads the experiment configuration. The file is YAML
// describing the run matrix: topology profiles, AQM profiles, the
// flow schedule, and the repetition count. Durations and bandwidths
// are strings in their usual notation ("50ms", "10mbit") and are
// validated when the document is converted into a matrix.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/aqmlab/aqmbench/internal/model"
	"github.com/aqmlab/aqmbench/internal/runner"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Topology is the YAML shape of a topology profile.
type Topology struct {
	Name       string `yaml:"name"`
	Bandwidth  string `yaml:"bandwidth"`
	Delay      string `yaml:"delay"`
	BufferSize int64  `yaml:"buffer_size"`
	BufferUnit string `yaml:"buffer_unit"`
}

// ARED is the YAML shape of the ARED parameters.
type ARED struct {
	LimitBytes        int64  `yaml:"limit_bytes"`
	MinThresholdBytes int64  `yaml:"min_threshold_bytes"`
	MaxThresholdBytes int64  `yaml:"max_threshold_bytes"`
	AvgPacketBytes    int64  `yaml:"avg_packet_bytes"`
	Bandwidth         string `yaml:"bandwidth"`
	Adaptive          bool   `yaml:"adaptive"`
	ECN               bool   `yaml:"ecn"`
}

// CoDel is the YAML shape of the CoDel parameters.
type CoDel struct {
	Target       string `yaml:"target"`
	Interval     string `yaml:"interval"`
	LimitPackets int64  `yaml:"limit_packets"`
	ECN          bool   `yaml:"ecn"`
}

// PIE is the YAML shape of the PIE parameters.
type PIE struct {
	Target       string `yaml:"target"`
	TUpdate      string `yaml:"tupdate"`
	LimitPackets int64  `yaml:"limit_packets"`
	Alpha        int64  `yaml:"alpha"`
	Beta         int64  `yaml:"beta"`
	ECN          bool   `yaml:"ecn"`
}

// SFQ is the YAML shape of the SFQ parameters.
type SFQ struct {
	LimitPackets int64  `yaml:"limit_packets"`
	QuantumBytes int64  `yaml:"quantum_bytes"`
	Perturb      string `yaml:"perturb"`
}

// Profile is the YAML shape of one AQM profile. Exactly one parameter
// block must be set and it must match the mechanism tag.
type Profile struct {
	Mechanism string `yaml:"mechanism"`
	ARED      *ARED  `yaml:"ared,omitempty"`
	CoDel     *CoDel `yaml:"codel,omitempty"`
	PIE       *PIE   `yaml:"pie,omitempty"`
	SFQ       *SFQ   `yaml:"sfq,omitempty"`
}

// Flow is the YAML shape of one traffic flow.
type Flow struct {
	Label       string `yaml:"label"`
	Protocol    string `yaml:"protocol"`
	Source      string `yaml:"source"`
	Destination string `yaml:"destination"`
	Port        int    `yaml:"port"`
	TargetRate  string `yaml:"target_rate,omitempty"`
	Duration    string `yaml:"duration"`
	Role        string `yaml:"role"`
	StartOffset string `yaml:"start_offset,omitempty"`
}

// Document is the whole configuration file.
type Document struct {
	Topologies  []Topology `yaml:"topologies"`
	Profiles    []Profile  `yaml:"profiles"`
	Flows       []Flow     `yaml:"flows"`
	Repetitions int        `yaml:"repetitions"`
}

// Parse decodes a configuration document.
func Parse(data []byte) (*Document, error) {
	doc := &Document{}
	if err := yaml.Unmarshal(data, doc); err != nil {
		return nil, errors.Wrap(err, "parsing configuration")
	}
	return doc, nil
}

// ReadFile reads and decodes the configuration at path.
func ReadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading configuration")
	}
	return Parse(data)
}

// parseDuration parses an optional duration string; empty means zero.
func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, errors.Wrapf(err, "parsing %s", field)
	}
	return d, nil
}

// parseBandwidth parses an optional bandwidth string; empty means zero.
func parseBandwidth(field, s string) (model.Bandwidth, error) {
	if s == "" {
		return 0, nil
	}
	b, err := model.ParseBandwidth(s)
	if err != nil {
		return 0, errors.Wrapf(err, "parsing %s", field)
	}
	return b, nil
}

// topologySpec converts one topology profile.
func (t *Topology) topologySpec() (model.TopologySpec, error) {
	bandwidth, err := parseBandwidth("bandwidth", t.Bandwidth)
	if err != nil {
		return model.TopologySpec{}, err
	}
	delay, err := parseDuration("delay", t.Delay)
	if err != nil {
		return model.TopologySpec{}, err
	}
	spec := model.TopologySpec{
		Name:       t.Name,
		Bandwidth:  bandwidth,
		Delay:      delay,
		BufferSize: t.BufferSize,
		BufferUnit: model.BufferUnit(t.BufferUnit),
	}
	return spec, spec.Validate()
}

// aqmProfile converts one AQM profile through the mechanism-specific
// validating constructor.
func (p *Profile) aqmProfile() (*model.AQMProfile, error) {
	switch model.Mechanism(p.Mechanism) {
	case model.MechanismARED:
		if p.ARED == nil {
			return nil, fmt.Errorf("profile %s: missing ared block", p.Mechanism)
		}
		bandwidth, err := parseBandwidth("ared bandwidth", p.ARED.Bandwidth)
		if err != nil {
			return nil, err
		}
		return model.NewAREDProfile(model.AREDParams{
			LimitBytes:        p.ARED.LimitBytes,
			MinThresholdBytes: p.ARED.MinThresholdBytes,
			MaxThresholdBytes: p.ARED.MaxThresholdBytes,
			AvgPacketBytes:    p.ARED.AvgPacketBytes,
			Bandwidth:         bandwidth,
			Adaptive:          p.ARED.Adaptive,
			ECN:               p.ARED.ECN,
		})
	case model.MechanismCoDel:
		if p.CoDel == nil {
			return nil, fmt.Errorf("profile %s: missing codel block", p.Mechanism)
		}
		target, err := parseDuration("codel target", p.CoDel.Target)
		if err != nil {
			return nil, err
		}
		interval, err := parseDuration("codel interval", p.CoDel.Interval)
		if err != nil {
			return nil, err
		}
		return model.NewCoDelProfile(model.CoDelParams{
			Target:       target,
			Interval:     interval,
			LimitPackets: p.CoDel.LimitPackets,
			ECN:          p.CoDel.ECN,
		})
	case model.MechanismPIE:
		if p.PIE == nil {
			return nil, fmt.Errorf("profile %s: missing pie block", p.Mechanism)
		}
		target, err := parseDuration("pie target", p.PIE.Target)
		if err != nil {
			return nil, err
		}
		tupdate, err := parseDuration("pie tupdate", p.PIE.TUpdate)
		if err != nil {
			return nil, err
		}
		return model.NewPIEProfile(model.PIEParams{
			Target:       target,
			TUpdate:      tupdate,
			LimitPackets: p.PIE.LimitPackets,
			Alpha:        p.PIE.Alpha,
			Beta:         p.PIE.Beta,
			ECN:          p.PIE.ECN,
		})
	case model.MechanismSFQ:
		if p.SFQ == nil {
			return nil, fmt.Errorf("profile %s: missing sfq block", p.Mechanism)
		}
		perturb, err := parseDuration("sfq perturb", p.SFQ.Perturb)
		if err != nil {
			return nil, err
		}
		return model.NewSFQProfile(model.SFQParams{
			LimitPackets: p.SFQ.LimitPackets,
			QuantumBytes: p.SFQ.QuantumBytes,
			Perturb:      perturb,
		})
	default:
		return nil, fmt.Errorf("unknown mechanism %q", p.Mechanism)
	}
}

// trafficFlow converts one flow.
func (f *Flow) trafficFlow() (model.TrafficFlow, error) {
	rate, err := parseBandwidth("target_rate", f.TargetRate)
	if err != nil {
		return model.TrafficFlow{}, err
	}
	duration, err := parseDuration("duration", f.Duration)
	if err != nil {
		return model.TrafficFlow{}, err
	}
	offset, err := parseDuration("start_offset", f.StartOffset)
	if err != nil {
		return model.TrafficFlow{}, err
	}
	return model.TrafficFlow{
		Label:       f.Label,
		Proto:       model.Protocol(f.Protocol),
		Source:      f.Source,
		Destination: f.Destination,
		Port:        f.Port,
		TargetRate:  rate,
		Duration:    duration,
		Role:        model.FlowRole(f.Role),
		StartOffset: offset,
	}, nil
}

// Matrix validates the document and converts it into a run matrix.
func (d *Document) Matrix() (*runner.Matrix, error) {
	if len(d.Topologies) < 1 {
		return nil, errors.New("configuration declares no topologies")
	}
	if len(d.Profiles) < 1 {
		return nil, errors.New("configuration declares no profiles")
	}
	if d.Repetitions < 1 {
		return nil, errors.New("repetitions must be at least 1")
	}
	matrix := &runner.Matrix{Repetitions: d.Repetitions}
	seen := make(map[string]bool)
	for i := range d.Topologies {
		spec, err := d.Topologies[i].topologySpec()
		if err != nil {
			return nil, err
		}
		if seen[spec.Name] {
			return nil, fmt.Errorf("duplicate topology profile %q", spec.Name)
		}
		seen[spec.Name] = true
		matrix.Topologies = append(matrix.Topologies, spec)
	}
	mechs := make(map[model.Mechanism]bool)
	for i := range d.Profiles {
		profile, err := d.Profiles[i].aqmProfile()
		if err != nil {
			return nil, err
		}
		if mechs[profile.Mechanism()] {
			return nil, fmt.Errorf("duplicate profile for mechanism %s", profile.Mechanism())
		}
		mechs[profile.Mechanism()] = true
		matrix.Profiles = append(matrix.Profiles, profile)
	}
	for i := range d.Flows {
		flow, err := d.Flows[i].trafficFlow()
		if err != nil {
			return nil, err
		}
		matrix.Flows = append(matrix.Flows, flow)
	}
	if err := model.ValidateFlows(matrix.Flows); err != nil {
		return nil, err
	}
	return matrix, nil
}
