package runner

//
// Run-matrix expansion
//

import (
	"github.com/aqmlab/aqmbench/internal/model"
)

// Matrix is the cartesian experiment plan: every AQM profile crossed
// with every topology profile, repeated.
type Matrix struct {
	// Topologies are the topology profiles to sweep.
	Topologies []model.TopologySpec

	// Profiles are the AQM profiles to sweep.
	Profiles []*model.AQMProfile

	// Flows is the flow schedule shared by every run.
	Flows []model.TrafficFlow

	// Repetitions is how many times each cell repeats.
	Repetitions int
}

// adaptPacketBytes converts between packet and byte buffer sizes when
// a topology profile's unit differs from what a mechanism expects.
const adaptPacketBytes = 1500

// adaptSpec returns the topology spec with its buffer size expressed
// in the unit the mechanism expects. A packet-sized buffer becomes a
// byte-sized one assuming MTU-sized packets, and vice versa, so one
// topology profile can sweep every mechanism.
func adaptSpec(spec model.TopologySpec, mechanism model.Mechanism) model.TopologySpec {
	want := mechanism.BufferUnit()
	if spec.BufferUnit == want {
		return spec
	}
	adapted := spec
	adapted.BufferUnit = want
	if want == model.BufferUnitBytes {
		adapted.BufferSize = spec.BufferSize * adaptPacketBytes
	} else {
		adapted.BufferSize = spec.BufferSize / adaptPacketBytes
		if adapted.BufferSize < 1 {
			adapted.BufferSize = 1
		}
	}
	return adapted
}

// mechanismRank orders profiles by the canonical mechanism order so
// that expansion does not depend on the configuration file's order.
func mechanismRank(m model.Mechanism) int {
	for i, known := range model.AllMechanisms {
		if known == m {
			return i
		}
	}
	return len(model.AllMechanisms)
}

// Runs expands the matrix into its runs in execution order: mechanism
// varies slowest, then topology, then repetition. The order is a
// deterministic function of the matrix, so resumption and logs line
// up across executions.
func (m *Matrix) Runs() []*model.Run {
	profiles := make([]*model.AQMProfile, len(m.Profiles))
	copy(profiles, m.Profiles)
	for i := 1; i < len(profiles); i++ {
		for j := i; j > 0 && mechanismRank(profiles[j].Mechanism()) <
			mechanismRank(profiles[j-1].Mechanism()); j-- {
			profiles[j], profiles[j-1] = profiles[j-1], profiles[j]
		}
	}
	var runs []*model.Run
	for _, profile := range profiles {
		for _, topology := range m.Topologies {
			spec := adaptSpec(topology, profile.Mechanism())
			for rep := 0; rep < m.Repetitions; rep++ {
				runs = append(runs, model.NewRun(spec, profile, m.Flows, rep))
			}
		}
	}
	return runs
}
