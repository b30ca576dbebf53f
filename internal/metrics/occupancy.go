package metrics

//
// Queue-occupancy estimation from inter-packet delay variance
//

import (
	"math"
	"time"

	"github.com/aqmlab/aqmbench/internal/model"
)

// arrival is one forward packet seen at the bottleneck.
type arrival struct {
	ts    time.Time
	bytes int
}

// estimateOccupancy derives a coarse queue-occupancy series from the
// arrival process at the bottleneck egress. Within each window the
// dispersion of inter-packet gaps, normalized by the per-packet
// service time of the link, approximates how many packets were
// queued ahead: an idle queue forwards packets with the sender's
// spacing, while a standing queue releases them back to back with
// occasional long gaps whose variance grows with the backlog.
func estimateOccupancy(arrivals []arrival, start time.Time, window time.Duration, bandwidth model.Bandwidth) []model.OccupancyPoint {
	if len(arrivals) < 2 || window <= 0 || bandwidth <= 0 {
		return nil
	}
	var (
		points    []model.OccupancyPoint
		gaps      []float64
		sumBytes  int
		windowIdx = 0
	)
	flush := func() {
		if len(gaps) == 0 {
			return
		}
		mean := 0.0
		for _, g := range gaps {
			mean += g
		}
		mean /= float64(len(gaps))
		variance := 0.0
		for _, g := range gaps {
			variance += (g - mean) * (g - mean)
		}
		variance /= float64(len(gaps))
		avgPkt := float64(sumBytes) / float64(len(gaps)+1)
		serviceTime := avgPkt * 8 / float64(bandwidth.BitsPerSecond())
		if serviceTime <= 0 {
			return
		}
		points = append(points, model.OccupancyPoint{
			Start:   float64(windowIdx) * window.Seconds(),
			Packets: math.Sqrt(variance) / serviceTime,
		})
	}
	for i := 1; i < len(arrivals); i++ {
		idx := int(arrivals[i].ts.Sub(start) / window)
		if idx != windowIdx {
			flush()
			gaps = gaps[:0]
			sumBytes = 0
			windowIdx = idx
		}
		gaps = append(gaps, arrivals[i].ts.Sub(arrivals[i-1].ts).Seconds())
		sumBytes += arrivals[i].bytes
	}
	flush()
	return points
}
