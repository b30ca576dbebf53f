package config

//
// Built-in experiment plan
//

// Default returns the built-in experiment plan used when no
// configuration file is given: a 10 Mbit/s bottleneck with 50 ms of
// one-way delay and a shallow 64-packet buffer, swept across all four
// mechanisms, with a long-lived TCP transfer observed against a
// constant-rate UDP competitor.
func Default() *Document {
	return &Document{
		Topologies: []Topology{{
			Name:       "baseline",
			Bandwidth:  "10mbit",
			Delay:      "50ms",
			BufferSize: 64,
			BufferUnit: "packets",
		}},
		Profiles: []Profile{
			{
				Mechanism: "ared",
				ARED: &ARED{
					LimitBytes:     96000,
					AvgPacketBytes: 1000,
					Bandwidth:      "10mbit",
					Adaptive:       true,
				},
			},
			{
				Mechanism: "codel",
				CoDel: &CoDel{
					Target:       "5ms",
					Interval:     "100ms",
					LimitPackets: 1000,
				},
			},
			{
				Mechanism: "pie",
				PIE: &PIE{
					Target:       "15ms",
					TUpdate:      "15ms",
					LimitPackets: 1000,
					Alpha:        2,
					Beta:         20,
				},
			},
			{
				Mechanism: "sfq",
				SFQ: &SFQ{
					LimitPackets: 127,
					Perturb:      "10s",
				},
			},
		},
		Flows: []Flow{
			{
				Label:       "bulk",
				Protocol:    "tcp",
				Source:      "h1",
				Destination: "h3",
				Port:        5201,
				Duration:    "60s",
				Role:        "primary",
			},
			{
				Label:       "cross",
				Protocol:    "udp",
				Source:      "h2",
				Destination: "h4",
				Port:        5202,
				TargetRate:  "2mbit",
				Duration:    "50s",
				Role:        "competing",
				StartOffset: "5s",
			},
		},
		Repetitions: 5,
	}
}
