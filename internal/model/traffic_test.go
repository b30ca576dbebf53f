package model

import (
	"errors"
	"testing"
	"time"
)

func validSchedule() []TrafficFlow {
	return []TrafficFlow{{
		Label:       "bulk",
		Proto:       ProtocolTCP,
		Source:      "h1",
		Destination: "h3",
		Port:        5201,
		Duration:    60 * time.Second,
		Role:        FlowRolePrimary,
	}, {
		Label:       "cross",
		Proto:       ProtocolUDP,
		Source:      "h2",
		Destination: "h4",
		Port:        5202,
		TargetRate:  2 * MegabitPerSecond,
		Duration:    50 * time.Second,
		Role:        FlowRoleCompeting,
		StartOffset: 5 * time.Second,
	}}
}

func TestValidateFlows(t *testing.T) {
	t.Run("valid schedule", func(t *testing.T) {
		if err := ValidateFlows(validSchedule()); err != nil {
			t.Fatal(err)
		}
	})

	type testcase struct {
		name   string
		mutate func(flows []TrafficFlow) []TrafficFlow
	}
	cases := []testcase{{
		name: "empty schedule",
		mutate: func(flows []TrafficFlow) []TrafficFlow {
			return nil
		},
	}, {
		name: "no primary flow",
		mutate: func(flows []TrafficFlow) []TrafficFlow {
			flows[0].Role = FlowRoleCompeting
			return flows
		},
	}, {
		name: "two primary flows",
		mutate: func(flows []TrafficFlow) []TrafficFlow {
			flows[1].Role = FlowRolePrimary
			return flows
		},
	}, {
		name: "shared port",
		mutate: func(flows []TrafficFlow) []TrafficFlow {
			flows[1].Port = flows[0].Port
			return flows
		},
	}, {
		name: "duplicate label",
		mutate: func(flows []TrafficFlow) []TrafficFlow {
			flows[1].Label = flows[0].Label
			return flows
		},
	}, {
		name: "udp without target rate",
		mutate: func(flows []TrafficFlow) []TrafficFlow {
			flows[1].TargetRate = 0
			return flows
		},
	}, {
		name: "zero duration",
		mutate: func(flows []TrafficFlow) []TrafficFlow {
			flows[0].Duration = 0
			return flows
		},
	}, {
		name: "port out of range",
		mutate: func(flows []TrafficFlow) []TrafficFlow {
			flows[0].Port = 70000
			return flows
		},
	}}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			flows := tc.mutate(validSchedule())
			if err := ValidateFlows(flows); !errors.Is(err, ErrInvalidFlow) {
				t.Fatalf("expected ErrInvalidFlow, got %v", err)
			}
		})
	}
}

func TestMakeRunID(t *testing.T) {
	id := MakeRunID(MechanismCoDel, "baseline", 3)
	if id != RunID("codel-baseline-r003") {
		t.Fatalf("got %s", id)
	}
}

func TestRunMaxFlowEnd(t *testing.T) {
	epoch := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	run := &Run{Flows: validSchedule()}
	// bulk ends at epoch+60s, cross at epoch+55s
	if got := run.MaxFlowEnd(epoch); !got.Equal(epoch.Add(60 * time.Second)) {
		t.Fatalf("got %s", got)
	}
}

func TestCaptureArtifactCovers(t *testing.T) {
	start := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	artifact := &CaptureArtifact{
		Start: start,
		End:   start.Add(time.Minute),
	}
	if !artifact.Covers(start.Add(time.Second), start.Add(50*time.Second)) {
		t.Fatal("expected coverage")
	}
	if artifact.Covers(start.Add(-time.Second), start.Add(50*time.Second)) {
		t.Fatal("unexpected coverage before start")
	}
	if artifact.Covers(start.Add(time.Second), start.Add(2*time.Minute)) {
		t.Fatal("unexpected coverage after end")
	}
}
