package aqm

//
// Backlog readback: instantaneous queue state from tc statistics
//

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/aqmlab/aqmbench/internal/errorsx"
	"github.com/aqmlab/aqmbench/internal/model"
)

// backlogRe matches the backlog line of `tc -s qdisc show`, for
// example "backlog 0b 12p requeues 0".
var backlogRe = regexp.MustCompile(`backlog\s+(\d+)b\s+(\d+)p`)

// droppedRe matches the cumulative drop counter, for example
// "Sent 836 bytes 10 pkt (dropped 3, overlimits 0 requeues 0)".
var droppedRe = regexp.MustCompile(`dropped\s+(\d+)`)

// SampleBacklog reads the AQM discipline's instantaneous backlog and
// cumulative drops from the kernel statistics.
func (c *Configurator) SampleBacklog(ctx context.Context, iface string) (model.BacklogPoint, error) {
	output, err := c.Run.CombinedOutput(ctx, c.Logger, "tc",
		"-s", "qdisc", "show", "dev", iface)
	if err != nil {
		return model.BacklogPoint{}, errorsx.NewConfigurationError("sample backlog", err)
	}
	point, err := parseBacklog(string(output))
	if err != nil {
		return model.BacklogPoint{}, errorsx.NewConfigurationError("sample backlog", err)
	}
	point.At = time.Now()
	return point, nil
}

// parseBacklog extracts the backlog of the AQM discipline (handle 2:)
// from `tc -s qdisc show` output. Statistics for the shaper above it
// are ignored.
func parseBacklog(output string) (model.BacklogPoint, error) {
	section := qdiscSection(output, aqmHandle)
	if section == "" {
		return model.BacklogPoint{}, fmt.Errorf("no discipline with handle %s", aqmHandle)
	}
	m := backlogRe.FindStringSubmatch(section)
	if m == nil {
		return model.BacklogPoint{}, fmt.Errorf("no backlog line in %q", section)
	}
	bytes, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return model.BacklogPoint{}, err
	}
	packets, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return model.BacklogPoint{}, err
	}
	var drops int64
	if dm := droppedRe.FindStringSubmatch(section); dm != nil {
		drops, _ = strconv.ParseInt(dm[1], 10, 64)
	}
	return model.BacklogPoint{Bytes: bytes, Packets: packets, Drops: drops}, nil
}

// qdiscSection returns the statistics block of the qdisc with the
// given handle.
func qdiscSection(output, handle string) string {
	var (
		inside bool
		lines  []string
	)
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 3 && fields[0] == "qdisc" {
			inside = fields[2] == handle
		}
		if inside {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// Sampler periodically samples the backlog while a run is active.
type Sampler struct {
	points chan []model.BacklogPoint
	stop   chan struct{}
}

// StartSampler samples the backlog of iface every interval until
// [Sampler.Stop] is called. Sampling failures are logged and skipped:
// a missed sample must not fail the run.
func (c *Configurator) StartSampler(ctx context.Context, iface string, interval time.Duration) *Sampler {
	s := &Sampler{
		points: make(chan []model.BacklogPoint, 1),
		stop:   make(chan struct{}),
	}
	go func() {
		var collected []model.BacklogPoint
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.points <- collected
				return
			case <-s.stop:
				s.points <- collected
				return
			case <-ticker.C:
				point, err := c.SampleBacklog(ctx, iface)
				if err != nil {
					c.Logger.Debugf("aqm: %s", err.Error())
					continue
				}
				collected = append(collected, point)
			}
		}
	}()
	return s
}

// Stop ends sampling and returns the collected points.
func (s *Sampler) Stop() []model.BacklogPoint {
	close(s.stop)
	return <-s.points
}
