package model

//
// Capture artifacts
//

import "time"

// CaptureArtifact is the handle to a finished packet capture. The
// artifact's [Start, End) interval must fully contain every flow's
// active interval; the runner verifies this before extraction.
type CaptureArtifact struct {
	// Path is the pcap file location.
	Path string `json:"path"`

	// Start is when the capture began.
	Start time.Time `json:"start"`

	// End is when the capture was closed.
	End time.Time `json:"end"`

	// Packets is the tool-reported captured packet count.
	Packets int64 `json:"packets"`

	// KernelDrops is the tool-reported count of packets the kernel
	// dropped because the capture could not keep up. Drops are
	// recorded as a warning, never allowed to backpressure the link.
	KernelDrops int64 `json:"kernel_drops"`

	// Warnings contains non-fatal capture anomalies.
	Warnings []string `json:"warnings,omitempty"`
}

// Covers returns whether the artifact interval fully contains the
// [start, end) interval.
func (a *CaptureArtifact) Covers(start, end time.Time) bool {
	return !a.Start.After(start) && !a.End.Before(end)
}
