package model

import (
	"errors"
	"testing"
	"time"
)

func validTopologySpec() TopologySpec {
	return TopologySpec{
		Name:       "baseline",
		Bandwidth:  10 * MegabitPerSecond,
		Delay:      50 * time.Millisecond,
		BufferSize: 64,
		BufferUnit: BufferUnitPackets,
	}
}

func TestTopologySpecValidate(t *testing.T) {
	t.Run("valid spec", func(t *testing.T) {
		spec := validTopologySpec()
		if err := spec.Validate(); err != nil {
			t.Fatal(err)
		}
	})

	type testcase struct {
		name   string
		mutate func(spec *TopologySpec)
	}
	cases := []testcase{{
		name:   "empty name",
		mutate: func(spec *TopologySpec) { spec.Name = "" },
	}, {
		name:   "zero bandwidth",
		mutate: func(spec *TopologySpec) { spec.Bandwidth = 0 },
	}, {
		name:   "negative delay",
		mutate: func(spec *TopologySpec) { spec.Delay = -time.Millisecond },
	}, {
		name:   "zero buffer size",
		mutate: func(spec *TopologySpec) { spec.BufferSize = 0 },
	}, {
		name:   "unknown buffer unit",
		mutate: func(spec *TopologySpec) { spec.BufferUnit = "frames" },
	}}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			spec := validTopologySpec()
			tc.mutate(&spec)
			if err := spec.Validate(); !errors.Is(err, ErrInvalidTopologySpec) {
				t.Fatalf("expected ErrInvalidTopologySpec, got %v", err)
			}
		})
	}
}

func TestTopologySpecBDPBytes(t *testing.T) {
	t.Run("rounds up to a multiple of 1024", func(t *testing.T) {
		// 10 Mbit/s with a 100 ms round trip is 125000 bytes,
		// which rounds up to 123 KiB.
		spec := validTopologySpec()
		if got := spec.BDPBytes(); got != 125952 {
			t.Fatalf("got %d", got)
		}
	})

	t.Run("never below the kernel default socket buffer", func(t *testing.T) {
		spec := validTopologySpec()
		spec.Bandwidth = 1 * MegabitPerSecond
		spec.Delay = 5 * time.Millisecond
		if got := spec.BDPBytes(); got != 87380 {
			t.Fatalf("got %d", got)
		}
	})
}

func TestTopologyHostByName(t *testing.T) {
	topo := &Topology{
		Hosts: []Host{
			{Name: "h1", Namespace: "aqmb-h1", Addr: "10.42.0.1"},
			{Name: "h3", Namespace: "aqmb-h3", Addr: "10.42.0.3"},
		},
	}
	host, ok := topo.HostByName("h3")
	if !ok || host.Addr != "10.42.0.3" {
		t.Fatalf("got %+v, %v", host, ok)
	}
	if _, ok := topo.HostByName("h9"); ok {
		t.Fatal("expected no host")
	}
}
