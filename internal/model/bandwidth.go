package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Bandwidth is the maximum data transfer across a given path
// expressed in bits per second.
type Bandwidth int64

// BitPerSecond is the constant to multiply a [Bandwidth] for so that
// the measurement unit is bits per second.
const BitPerSecond = Bandwidth(1)

// KilobitPerSecond is like [BitPerSecond] but for kbit/s.
const KilobitPerSecond = 1000 * BitPerSecond

// MegabitPerSecond is like [KilobitPerSecond] but for Mbit/s.
const MegabitPerSecond = 1000 * KilobitPerSecond

// GigabitPerSecond is like [MegabitPerSecond] but for Gbit/s.
const GigabitPerSecond = 1000 * MegabitPerSecond

// String formats the bandwidth using the suffixes understood by tc
// and iperf3 ("bit", "kbit", "mbit", "gbit").
func (b Bandwidth) String() string {
	switch {
	case b >= GigabitPerSecond && b%GigabitPerSecond == 0:
		return fmt.Sprintf("%dgbit", b/GigabitPerSecond)
	case b >= MegabitPerSecond && b%MegabitPerSecond == 0:
		return fmt.Sprintf("%dmbit", b/MegabitPerSecond)
	case b >= KilobitPerSecond && b%KilobitPerSecond == 0:
		return fmt.Sprintf("%dkbit", b/KilobitPerSecond)
	default:
		return fmt.Sprintf("%dbit", int64(b))
	}
}

// BitsPerSecond returns the bandwidth as a plain bits-per-second count.
func (b Bandwidth) BitsPerSecond() int64 {
	return int64(b)
}

// BytesPerSecond returns the bandwidth as a bytes-per-second count.
func (b Bandwidth) BytesPerSecond() int64 {
	return int64(b) / 8
}

// ErrInvalidBandwidth indicates that a bandwidth string cannot be
// parsed.
var ErrInvalidBandwidth = errors.New("model: invalid bandwidth")

// bandwidthSuffixes maps the accepted suffixes to their multiplier,
// ordered longest first so "kbit" wins over "bit".
var bandwidthSuffixes = []struct {
	suffix string
	unit   Bandwidth
}{
	{"gbit", GigabitPerSecond},
	{"mbit", MegabitPerSecond},
	{"kbit", KilobitPerSecond},
	{"bit", BitPerSecond},
}

// ParseBandwidth parses a bandwidth string in the format produced by
// [Bandwidth.String], e.g. "10mbit". A bare number means bits per
// second.
func ParseBandwidth(s string) (Bandwidth, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("%w: empty string", ErrInvalidBandwidth)
	}
	unit := BitPerSecond
	for _, entry := range bandwidthSuffixes {
		if strings.HasSuffix(s, entry.suffix) {
			unit = entry.unit
			s = strings.TrimSuffix(s, entry.suffix)
			break
		}
	}
	value, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrInvalidBandwidth, err.Error())
	}
	if value <= 0 {
		return 0, fmt.Errorf("%w: must be positive", ErrInvalidBandwidth)
	}
	return Bandwidth(value) * unit, nil
}
