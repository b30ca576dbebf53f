package traffic

//
// Parsing iperf3 --json output into flow logs
//

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/aqmlab/aqmbench/internal/model"
)

// iperfOutput mirrors the subset of `iperf3 --json` we consume.
type iperfOutput struct {
	Intervals []struct {
		Sum struct {
			Start         float64 `json:"start"`
			End           float64 `json:"end"`
			Bytes         int64   `json:"bytes"`
			BitsPerSecond float64 `json:"bits_per_second"`
			Retransmits   int64   `json:"retransmits"`
		} `json:"sum"`
	} `json:"intervals"`
	End struct {
		SumSent struct {
			Bytes       int64 `json:"bytes"`
			Retransmits int64 `json:"retransmits"`
		} `json:"sum_sent"`
		Sum struct {
			Bytes       int64   `json:"bytes"`
			JitterMs    float64 `json:"jitter_ms"`
			LostPackets int64   `json:"lost_packets"`
			Packets     int64   `json:"packets"`
		} `json:"sum"`
		Streams []struct {
			Sender struct {
				MinRTT  int64 `json:"min_rtt"`
				MeanRTT int64 `json:"mean_rtt"`
				MaxRTT  int64 `json:"max_rtt"`
			} `json:"sender"`
		} `json:"streams"`
	} `json:"end"`
	Error string `json:"error"`
}

// errEmptyGeneratorOutput means the generator produced no JSON at all.
var errEmptyGeneratorOutput = errors.New("traffic: empty generator output")

// parseClientOutput converts one client's JSON output into the flow's
// log. The generator-reported counters are the ground truth for sent
// bytes and packets when computing loss later.
func parseClientOutput(flow *model.TrafficFlow, data []byte, started, ended time.Time) (*model.FlowLog, error) {
	if len(data) == 0 {
		return nil, errEmptyGeneratorOutput
	}
	var out iperfOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	if out.Error != "" {
		return nil, errors.New(out.Error)
	}
	flowLog := &model.FlowLog{
		Label: flow.Label,
		Start: started,
		End:   ended,
	}
	for _, interval := range out.Intervals {
		flowLog.Samples = append(flowLog.Samples, model.ThroughputSample{
			Start:         interval.Sum.Start,
			End:           interval.Sum.End,
			BitsPerSecond: interval.Sum.BitsPerSecond,
		})
	}
	switch flow.Proto {
	case model.ProtocolUDP:
		flowLog.BytesSent = out.End.Sum.Bytes
		flowLog.PacketsSent = out.End.Sum.Packets
		flowLog.PacketsLost = out.End.Sum.LostPackets
		flowLog.JitterMillis = out.End.Sum.JitterMs
	default:
		flowLog.BytesSent = out.End.SumSent.Bytes
		flowLog.Retransmits = out.End.SumSent.Retransmits
		for _, stream := range out.End.Streams {
			sender := stream.Sender
			for _, rtt := range []int64{sender.MinRTT, sender.MeanRTT, sender.MaxRTT} {
				if rtt > 0 {
					flowLog.RTTMillis = append(flowLog.RTTMillis, float64(rtt)/1000.0)
				}
			}
		}
	}
	return flowLog, nil
}
