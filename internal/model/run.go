package model

//
// Run identity and lifecycle
//

import (
	"fmt"
	"time"
)

// RunID is the deterministic identity of a run inside the matrix. Two
// executions of the same matrix entry share the same RunID, which is
// what makes partial-matrix resumption well defined.
type RunID string

// MakeRunID derives the run identity from the matrix coordinates.
func MakeRunID(mechanism Mechanism, topology string, repetition int) RunID {
	return RunID(fmt.Sprintf("%s-%s-r%03d", mechanism, topology, repetition))
}

// RunStatus is the lifecycle state of a run.
type RunStatus string

// RunPlanned means the run has not started yet.
const RunPlanned = RunStatus("planned")

// RunActive means the run currently holds the bottleneck.
const RunActive = RunStatus("active")

// RunDone means the run completed and produced a record.
const RunDone = RunStatus("done")

// RunFailed means the run failed after exhausting its retries.
const RunFailed = RunStatus("failed")

// Run is one entry of the run matrix: exactly one topology spec, one
// AQM profile, an ordered flow schedule, and a repetition index.
type Run struct {
	// ID is the deterministic run identity.
	ID RunID

	// Topology is the topology profile for this run.
	Topology TopologySpec

	// Profile is the AQM profile for this run.
	Profile *AQMProfile

	// Flows is the ordered flow schedule.
	Flows []TrafficFlow

	// Repetition is the zero-based repetition index.
	Repetition int

	// Status is the current lifecycle state.
	Status RunStatus
}

// NewRun builds a run from its matrix coordinates.
func NewRun(topology TopologySpec, profile *AQMProfile, flows []TrafficFlow, repetition int) *Run {
	return &Run{
		ID:         MakeRunID(profile.Mechanism(), topology.Name, repetition),
		Topology:   topology,
		Profile:    profile,
		Flows:      flows,
		Repetition: repetition,
		Status:     RunPlanned,
	}
}

// MaxFlowEnd returns the instant at which the last flow stops, given
// the epoch at which the schedule is anchored.
func (r *Run) MaxFlowEnd(epoch time.Time) time.Time {
	var end time.Time
	for _, f := range r.Flows {
		stop := epoch.Add(f.StartOffset + f.Duration)
		if stop.After(end) {
			end = stop
		}
	}
	return end
}
