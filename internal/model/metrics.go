package model

//
// Metric records: the output contract of the pipeline
//

import "time"

// ThroughputPoint is one fixed-width throughput window.
type ThroughputPoint struct {
	// Start is the window start in seconds since the capture start.
	Start float64 `json:"start"`

	// BitsPerSecond is the rate measured over the window.
	BitsPerSecond float64 `json:"bits_per_second"`
}

// OccupancyPoint is one queue-occupancy estimate, inferred from the
// inter-packet delay variance observed at the bottleneck.
type OccupancyPoint struct {
	// Start is the window start in seconds since the capture start.
	Start float64 `json:"start"`

	// Packets is the estimated number of queued packets.
	Packets float64 `json:"packets"`
}

// BacklogPoint is one instantaneous backlog sample read back from the
// queueing discipline while the run was active.
type BacklogPoint struct {
	// At is the sampling instant.
	At time.Time `json:"at"`

	// Packets is the instantaneous backlog in packets.
	Packets int64 `json:"packets"`

	// Bytes is the instantaneous backlog in bytes.
	Bytes int64 `json:"bytes"`

	// Drops is the cumulative drop count at the sampling instant.
	Drops int64 `json:"drops"`
}

// FlowMetrics contains the per-flow slice of a [MetricRecord].
type FlowMetrics struct {
	// Label is the flow label.
	Label string `json:"label"`

	// Role is the flow role.
	Role FlowRole `json:"role"`

	// CapturedPackets counts this flow's packets seen at the
	// bottleneck. A zero here invalidates the whole record.
	CapturedPackets int64 `json:"captured_packets"`

	// Throughput is the capture-derived throughput series.
	Throughput []ThroughputPoint `json:"throughput"`

	// LossRate is (sent - received) / sent with the generator log as
	// ground truth for the sent count.
	LossRate float64 `json:"loss_rate"`
}

// MetricRecord is the structured result of one run. It is a
// deterministic function of the capture artifact, the flow logs, and
// the backlog samples; it carries no hidden state. Invalid records are
// stored with Valid set to false rather than dropped.
type MetricRecord struct {
	// RunID is the deterministic run identity.
	RunID RunID `json:"run_id"`

	// AttemptID is the unique identifier of the execution attempt
	// that produced this record.
	AttemptID string `json:"attempt_id"`

	// Mechanism is the AQM mechanism under test.
	Mechanism Mechanism `json:"mechanism"`

	// TopologyProfile is the topology profile name.
	TopologyProfile string `json:"topology_profile"`

	// Repetition is the zero-based repetition index.
	Repetition int `json:"repetition"`

	// Throughput is the aggregate throughput series across flows.
	Throughput []ThroughputPoint `json:"throughput"`

	// LatencyP50Millis is the median latency in milliseconds.
	LatencyP50Millis float64 `json:"latency_p50"`

	// LatencyP95Millis is the 95th percentile latency.
	LatencyP95Millis float64 `json:"latency_p95"`

	// LatencyP99Millis is the 99th percentile latency.
	LatencyP99Millis float64 `json:"latency_p99"`

	// LossRate is the aggregate loss rate across flows.
	LossRate float64 `json:"loss_rate"`

	// QueueOccupancy is the inferred queue-occupancy series.
	QueueOccupancy []OccupancyPoint `json:"queue_occupancy"`

	// Backlog is the discipline-reported backlog series.
	Backlog []BacklogPoint `json:"backlog,omitempty"`

	// Flows contains the per-flow metrics.
	Flows []FlowMetrics `json:"flows"`

	// CapturePath points at the capture artifact on disk.
	CapturePath string `json:"capture_path"`

	// Valid is false when the record must not contribute to
	// aggregate statistics.
	Valid bool `json:"valid"`

	// InvalidReason says why the record is invalid.
	InvalidReason string `json:"invalid_reason,omitempty"`
}

// NewInvalidMetricRecord builds an invalid record for the given run
// with the given reason. Aggregate fields stay at their zero values on
// purpose: consumers must check Valid, not probe for NaN.
func NewInvalidMetricRecord(run *Run, attemptID, reason string) *MetricRecord {
	return &MetricRecord{
		RunID:           run.ID,
		AttemptID:       attemptID,
		Mechanism:       run.Profile.Mechanism(),
		TopologyProfile: run.Topology.Name,
		Repetition:      run.Repetition,
		Valid:           false,
		InvalidReason:   reason,
	}
}
