package aqm

import (
	"testing"
	"time"

	"github.com/aqmlab/aqmbench/internal/model"
	"github.com/google/go-cmp/cmp"
)

func aredProfile(t *testing.T) *model.AQMProfile {
	profile, err := model.NewAREDProfile(model.AREDParams{
		LimitBytes:     96000,
		AvgPacketBytes: 1000,
		Bandwidth:      10 * model.MegabitPerSecond,
		Adaptive:       true,
	})
	if err != nil {
		t.Fatal(err)
	}
	return profile
}

func codelProfile(t *testing.T) *model.AQMProfile {
	profile, err := model.NewCoDelProfile(model.CoDelParams{
		Target:       5 * time.Millisecond,
		Interval:     100 * time.Millisecond,
		LimitPackets: 1000,
	})
	if err != nil {
		t.Fatal(err)
	}
	return profile
}

func pieProfile(t *testing.T) *model.AQMProfile {
	profile, err := model.NewPIEProfile(model.PIEParams{
		Target:       15 * time.Millisecond,
		TUpdate:      15 * time.Millisecond,
		LimitPackets: 1000,
		Alpha:        2,
		Beta:         20,
	})
	if err != nil {
		t.Fatal(err)
	}
	return profile
}

func sfqProfile(t *testing.T) *model.AQMProfile {
	profile, err := model.NewSFQProfile(model.SFQParams{
		LimitPackets: 127,
		Perturb:      10 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	return profile
}

func TestTCArgs(t *testing.T) {
	type testcase struct {
		name    string
		profile func(t *testing.T) *model.AQMProfile
		expect  []string
	}
	cases := []testcase{{
		name:    "ared derives thresholds from the limit",
		profile: aredProfile,
		// max = 96000/4 = 24000, min = 24000/3 = 8000,
		// burst = (2*8000 + 24000) / (3*1000) = 13
		expect: []string{
			"qdisc", "replace", "dev", "aqmb-bn1",
			"parent", "1:", "handle", "2:",
			"red",
			"limit", "96000",
			"min", "8000",
			"max", "24000",
			"avpkt", "1000",
			"burst", "13",
			"bandwidth", "10mbit",
			"adaptive",
		},
	}, {
		name:    "codel",
		profile: codelProfile,
		expect: []string{
			"qdisc", "replace", "dev", "aqmb-bn1",
			"parent", "1:", "handle", "2:",
			"codel",
			"limit", "1000",
			"target", "5ms",
			"interval", "100ms",
			"noecn",
		},
	}, {
		name:    "pie",
		profile: pieProfile,
		expect: []string{
			"qdisc", "replace", "dev", "aqmb-bn1",
			"parent", "1:", "handle", "2:",
			"pie",
			"limit", "1000",
			"target", "15ms",
			"tupdate", "15ms",
			"alpha", "2",
			"beta", "20",
			"noecn",
		},
	}, {
		name:    "sfq",
		profile: sfqProfile,
		expect: []string{
			"qdisc", "replace", "dev", "aqmb-bn1",
			"parent", "1:", "handle", "2:",
			"sfq",
			"limit", "127",
			"perturb", "10",
		},
	}}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tcArgs("aqmb-bn1", tc.profile(t))
			if diff := cmp.Diff(tc.expect, got); diff != "" {
				t.Fatal(diff)
			}
		})
	}
}

func TestTCDuration(t *testing.T) {
	if got := tcDuration(5 * time.Millisecond); got != "5ms" {
		t.Fatalf("got %q", got)
	}
	if got := tcDuration(1500 * time.Microsecond); got != "1500us" {
		t.Fatalf("got %q", got)
	}
}

func TestNativeParams(t *testing.T) {
	params := NativeParams(codelProfile(t))
	expect := map[string]string{
		"limit":    "1000",
		"target":   "5ms",
		"interval": "100ms",
		"noecn":    "true",
	}
	if diff := cmp.Diff(expect, params); diff != "" {
		t.Fatal(diff)
	}
}
