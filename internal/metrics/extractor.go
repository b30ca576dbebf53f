// Package metrics turns a closed capture artifact and the generator
// logs into a structured metric record. The record is a deterministic
// function of its inputs: parsing the same capture and logs twice
// yields the same record. Malformed inputs mark the record invalid
// instead of dropping it, so the result set never silently loses runs.
package metrics

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/aqmlab/aqmbench/internal/errorsx"
	"github.com/aqmlab/aqmbench/internal/model"
	"github.com/google/gopacket/pcapgo"
	"github.com/montanaflynn/stats"
)

// DefaultThroughputWindow is the fixed width of throughput windows.
const DefaultThroughputWindow = time.Second

// DefaultOccupancyWindow is the default width of queue-occupancy
// windows. The right bucketing for occupancy is an analysis choice,
// so it stays configurable.
const DefaultOccupancyWindow = 100 * time.Millisecond

// assumedMSS estimates TCP segments from sent bytes when computing
// the retransmit-based loss rate.
const assumedMSS = 1448

// Extractor computes metric records from run artifacts.
type Extractor struct {
	// Logger is the logger to use.
	Logger model.Logger

	// ThroughputWindow is the throughput window width.
	ThroughputWindow time.Duration

	// OccupancyWindow is the queue-occupancy window width.
	OccupancyWindow time.Duration
}

// NewExtractor creates an [Extractor] with default windows.
func NewExtractor(logger model.Logger) *Extractor {
	return &Extractor{
		Logger:           model.ValidLoggerOrDefault(logger),
		ThroughputWindow: DefaultThroughputWindow,
		OccupancyWindow:  DefaultOccupancyWindow,
	}
}

// flowState accumulates what the capture tells us about one flow.
type flowState struct {
	flow     *model.TrafficFlow
	arrivals []arrival
	rtt      *rttMatcher
}

// Parse computes the metric record for a run. On malformed input it
// returns an invalid record together with a [errorsx.ParseError]; the
// caller stores the record either way.
func (e *Extractor) Parse(run *model.Run, attemptID string, artifact *model.CaptureArtifact, logs []model.FlowLog, backlog []model.BacklogPoint) (*model.MetricRecord, error) {
	states := make([]*flowState, len(run.Flows))
	byPort := make(map[int]*flowState, len(run.Flows))
	for i := range run.Flows {
		flow := &run.Flows[i]
		states[i] = &flowState{flow: flow}
		if flow.Proto == model.ProtocolTCP {
			states[i].rtt = newRTTMatcher()
		}
		byPort[flow.Port] = states[i]
	}

	if err := e.readCapture(artifact, byPort); err != nil {
		wrapped := errorsx.NewParseError("read capture", err)
		return model.NewInvalidMetricRecord(run, attemptID, wrapped.Error()), wrapped
	}

	record := &model.MetricRecord{
		RunID:           run.ID,
		AttemptID:       attemptID,
		Mechanism:       run.Profile.Mechanism(),
		TopologyProfile: run.Topology.Name,
		Repetition:      run.Repetition,
		Backlog:         backlog,
		CapturePath:     artifact.Path,
		Valid:           true,
	}

	var merged []arrival
	for _, state := range states {
		if len(state.arrivals) == 0 {
			// One silent flow poisons every aggregate, so the whole
			// record becomes invalid instead of zero-filled.
			reason := fmt.Sprintf("flow %s contributed zero captured packets", state.flow.Label)
			e.Logger.Warnf("metrics: %s", reason)
			return model.NewInvalidMetricRecord(run, attemptID, reason), nil
		}
		flowMetrics := model.FlowMetrics{
			Label:           state.flow.Label,
			Role:            state.flow.Role,
			CapturedPackets: int64(len(state.arrivals)),
			Throughput:      throughputSeries(state.arrivals, artifact.Start, e.ThroughputWindow),
			LossRate:        lossRate(state.flow, findLog(logs, state.flow.Label)),
		}
		record.Flows = append(record.Flows, flowMetrics)
		merged = append(merged, state.arrivals...)
	}

	// Per-flow arrivals are concatenated, so restore capture order
	// before gap analysis.
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].ts.Before(merged[j].ts)
	})
	record.Throughput = throughputSeries(merged, artifact.Start, e.ThroughputWindow)
	record.QueueOccupancy = estimateOccupancy(merged, artifact.Start,
		e.OccupancyWindow, run.Topology.Bandwidth)
	record.LossRate = aggregateLossRate(run.Flows, logs)

	samples := e.latencySamples(states, logs)
	if len(samples) == 0 {
		reason := "no latency samples in capture or generator logs"
		e.Logger.Warnf("metrics: %s", reason)
		return model.NewInvalidMetricRecord(run, attemptID, reason), nil
	}
	var err error
	if record.LatencyP50Millis, err = stats.Percentile(samples, 50); err != nil {
		return model.NewInvalidMetricRecord(run, attemptID, err.Error()),
			errorsx.NewParseError("latency percentiles", err)
	}
	record.LatencyP95Millis, _ = stats.Percentile(samples, 95)
	record.LatencyP99Millis, _ = stats.Percentile(samples, 99)
	return record, nil
}

// readCapture streams the pcap file, classifying each packet by its
// transport ports: a packet towards a flow's port is forward traffic,
// a packet from it feeds the round-trip matcher.
func (e *Extractor) readCapture(artifact *model.CaptureArtifact, byPort map[int]*flowState) error {
	filep, err := os.Open(artifact.Path)
	if err != nil {
		return err
	}
	defer filep.Close()
	reader, err := pcapgo.NewReader(filep)
	if err != nil {
		return err
	}
	for {
		data, ci, err := reader.ReadPacketData()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("truncated capture: %w", err)
		}
		dp, err := dissect(data, ci)
		if err != nil {
			continue // non-IP noise such as ARP
		}
		src, dst := dp.ports()
		if state, ok := byPort[dst]; ok {
			state.arrivals = append(state.arrivals, arrival{ts: dp.ts, bytes: dp.wireLength})
			if state.rtt != nil && dp.tcp != nil {
				state.rtt.observeData(dp.tcp, dp.payloadLength, dp.ts)
			}
			continue
		}
		if state, ok := byPort[src]; ok {
			if state.rtt != nil && dp.tcp != nil {
				state.rtt.observeAck(dp.tcp, dp.ts)
			}
		}
	}
}

// latencySamples gathers round-trip samples, preferring the capture
// pairing and falling back to generator-embedded measurements.
func (e *Extractor) latencySamples(states []*flowState, logs []model.FlowLog) []float64 {
	var samples []float64
	for _, state := range states {
		if state.rtt != nil {
			samples = append(samples, state.rtt.samples...)
		}
	}
	if len(samples) > 0 {
		return samples
	}
	for _, flowLog := range logs {
		samples = append(samples, flowLog.RTTMillis...)
	}
	return samples
}

// throughputSeries buckets arrivals into fixed windows anchored at
// the capture start.
func throughputSeries(arrivals []arrival, start time.Time, window time.Duration) []model.ThroughputPoint {
	if len(arrivals) == 0 || window <= 0 {
		return nil
	}
	bits := make(map[int]float64)
	maxIdx := 0
	for _, a := range arrivals {
		idx := int(a.ts.Sub(start) / window)
		if idx < 0 {
			idx = 0
		}
		bits[idx] += float64(a.bytes) * 8
		if idx > maxIdx {
			maxIdx = idx
		}
	}
	var series []model.ThroughputPoint
	for idx := 0; idx <= maxIdx; idx++ {
		series = append(series, model.ThroughputPoint{
			Start:         float64(idx) * window.Seconds(),
			BitsPerSecond: bits[idx] / window.Seconds(),
		})
	}
	return series
}

// findLog returns the generator log for the given flow label.
func findLog(logs []model.FlowLog, label string) *model.FlowLog {
	for i := range logs {
		if logs[i].Label == label {
			return &logs[i]
		}
	}
	return nil
}

// sentUnits estimates how many loss-countable units a flow sent:
// datagrams for UDP and segments for TCP.
func sentUnits(flow *model.TrafficFlow, flowLog *model.FlowLog) float64 {
	if flowLog == nil {
		return 0
	}
	if flow.Proto == model.ProtocolUDP {
		return float64(flowLog.PacketsSent)
	}
	segments := float64(flowLog.BytesSent) / assumedMSS
	if segments < 1 {
		segments = 1
	}
	return segments
}

// lostUnits returns the generator-reported loss count for a flow:
// lost datagrams for UDP and retransmitted segments for TCP.
func lostUnits(flow *model.TrafficFlow, flowLog *model.FlowLog) float64 {
	if flowLog == nil {
		return 0
	}
	if flow.Proto == model.ProtocolUDP {
		return float64(flowLog.PacketsLost)
	}
	return float64(flowLog.Retransmits)
}

// lossRate computes (sent - received) / sent for one flow with the
// generator log as ground truth for the sent count.
func lossRate(flow *model.TrafficFlow, flowLog *model.FlowLog) float64 {
	sent := sentUnits(flow, flowLog)
	if sent <= 0 {
		return 0
	}
	return lostUnits(flow, flowLog) / sent
}

// aggregateLossRate pools every flow's loss over every flow's sent
// units.
func aggregateLossRate(flows []model.TrafficFlow, logs []model.FlowLog) float64 {
	var sent, lost float64
	for i := range flows {
		flowLog := findLog(logs, flows[i].Label)
		sent += sentUnits(&flows[i], flowLog)
		lost += lostUnits(&flows[i], flowLog)
	}
	if sent <= 0 {
		return 0
	}
	return lost / sent
}
