package aqm

//
// Mapping abstract profiles onto native tc parameters
//

import (
	"fmt"
	"time"

	"github.com/aqmlab/aqmbench/internal/model"
	"github.com/aqmlab/aqmbench/internal/runtimex"
)

// bottleneckHandle is the handle of the shaper installed by the
// topology builder; the AQM discipline attaches beneath it.
const bottleneckHandle = "1:"

// aqmHandle is the handle of the AQM discipline itself.
const aqmHandle = "2:"

// tcDuration formats a duration the way tc expects it.
func tcDuration(d time.Duration) string {
	if d >= time.Millisecond && d%time.Millisecond == 0 {
		return fmt.Sprintf("%dms", d/time.Millisecond)
	}
	return fmt.Sprintf("%dus", d/time.Microsecond)
}

// tcArgs returns the tc arguments installing the profile's discipline
// under the shaper on the given interface, using each discipline's
// native parameter names.
func tcArgs(iface string, profile *model.AQMProfile) []string {
	args := []string{
		"qdisc", "replace", "dev", iface,
		"parent", bottleneckHandle, "handle", aqmHandle,
	}
	switch profile.Mechanism() {
	case model.MechanismARED:
		args = append(args, aredArgs(profile.ARED())...)
	case model.MechanismCoDel:
		args = append(args, codelArgs(profile.CoDel())...)
	case model.MechanismPIE:
		args = append(args, pieArgs(profile.PIE())...)
	case model.MechanismSFQ:
		args = append(args, sfqArgs(profile.SFQ())...)
	default:
		runtimex.PanicIfTrue(true, "aqm: unknown mechanism")
	}
	return args
}

// aredArgs maps [model.AREDParams] onto tc red parameters. Thresholds
// left at zero follow the tc guidance of max = limit/4 and min = max/3,
// and the burst derives from the thresholds and the average packet
// size as (2*min + max) / (3*avpkt).
func aredArgs(p *model.AREDParams) []string {
	min, max := p.MinThresholdBytes, p.MaxThresholdBytes
	if max == 0 {
		max = p.LimitBytes / 4
	}
	if min == 0 {
		min = max / 3
	}
	burst := (2*min + max) / (3 * p.AvgPacketBytes)
	if burst < 1 {
		burst = 1
	}
	args := []string{
		"red",
		"limit", fmt.Sprintf("%d", p.LimitBytes),
		"min", fmt.Sprintf("%d", min),
		"max", fmt.Sprintf("%d", max),
		"avpkt", fmt.Sprintf("%d", p.AvgPacketBytes),
		"burst", fmt.Sprintf("%d", burst),
		"bandwidth", p.Bandwidth.String(),
	}
	if p.ECN {
		args = append(args, "ecn")
	}
	if p.Adaptive {
		args = append(args, "adaptive")
	}
	return args
}

// codelArgs maps [model.CoDelParams] onto tc codel parameters.
func codelArgs(p *model.CoDelParams) []string {
	args := []string{
		"codel",
		"limit", fmt.Sprintf("%d", p.LimitPackets),
		"target", tcDuration(p.Target),
		"interval", tcDuration(p.Interval),
	}
	if p.ECN {
		args = append(args, "ecn")
	} else {
		args = append(args, "noecn")
	}
	return args
}

// pieArgs maps [model.PIEParams] onto tc pie parameters.
func pieArgs(p *model.PIEParams) []string {
	args := []string{
		"pie",
		"limit", fmt.Sprintf("%d", p.LimitPackets),
		"target", tcDuration(p.Target),
		"tupdate", tcDuration(p.TUpdate),
		"alpha", fmt.Sprintf("%d", p.Alpha),
		"beta", fmt.Sprintf("%d", p.Beta),
	}
	if p.ECN {
		args = append(args, "ecn")
	} else {
		args = append(args, "noecn")
	}
	return args
}

// sfqArgs maps [model.SFQParams] onto tc sfq parameters.
func sfqArgs(p *model.SFQParams) []string {
	args := []string{
		"sfq",
		"limit", fmt.Sprintf("%d", p.LimitPackets),
	}
	if p.QuantumBytes > 0 {
		args = append(args, "quantum", fmt.Sprintf("%d", p.QuantumBytes))
	}
	if p.Perturb > 0 {
		args = append(args, "perturb", fmt.Sprintf("%d", int64(p.Perturb/time.Second)))
	}
	return args
}

// NativeParams returns the native parameter names and values the
// profile maps onto, keyed the way `tc qdisc show` prints them. This
// is what read-after-write verification compares against.
func NativeParams(profile *model.AQMProfile) map[string]string {
	args := tcArgs("any", profile)
	// skip "qdisc replace dev any parent 1: handle 2: <kind>"
	args = args[9:]
	params := make(map[string]string)
	for i := 0; i < len(args); {
		key := args[i]
		if isFlagParam(key) {
			params[key] = "true"
			i++
			continue
		}
		if i+1 < len(args) {
			params[key] = args[i+1]
		}
		i += 2
	}
	return params
}

// isFlagParam returns whether the tc parameter is a bare flag.
func isFlagParam(name string) bool {
	switch name {
	case "ecn", "noecn", "adaptive":
		return true
	default:
		return false
	}
}
