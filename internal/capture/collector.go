// Package capture records the packets traversing the bottleneck
// concurrently with the traffic. The capture opens strictly before
// the first flow starts and closes after the last flow stops. When
// the capture cannot keep up the kernel drops excess packets and we
// record a warning: blocking the capture path would distort the very
// queueing behavior under test.
package capture

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"syscall"
	"time"

	"github.com/aqmlab/aqmbench/internal/errorsx"
	"github.com/aqmlab/aqmbench/internal/model"
	"github.com/aqmlab/aqmbench/internal/shellx"
)

// DefaultSnapLen truncates captured packets to their headers: the
// extractor only needs addressing and timing.
const DefaultSnapLen = 96

// DefaultFlushTimeout bounds how long Stop waits for the capture
// tool to flush and exit after the interrupt.
const DefaultFlushTimeout = 10 * time.Second

// attachDelay is how long the capture tool gets to attach to the
// interface before we consider the capture open.
const attachDelay = 200 * time.Millisecond

// Proc is the process-handle surface the collector needs.
type Proc interface {
	Join(ctx context.Context) error
	Signal(sig os.Signal) error
	Kill() error
	Stderr() []byte
}

// StartFunc spawns a background process.
type StartFunc func(ctx context.Context, logger model.Logger, command string, args ...string) (Proc, error)

// shellxStart adapts [shellx.Start] to [StartFunc].
func shellxStart(ctx context.Context, logger model.Logger, command string, args ...string) (Proc, error) {
	return shellx.Start(ctx, logger, command, args...)
}

// Collector drives the capture tool for one run.
type Collector struct {
	// Logger is the logger to use.
	Logger model.Logger

	// SnapLen is the per-packet truncation length.
	SnapLen int

	// FlushTimeout bounds the stop-and-flush wait.
	FlushTimeout time.Duration

	// Start spawns processes; tests replace it.
	Start StartFunc

	proc    Proc
	path    string
	started time.Time
}

// NewCollector creates a [Collector] running real tcpdump.
func NewCollector(logger model.Logger) *Collector {
	return &Collector{
		Logger:       model.ValidLoggerOrDefault(logger),
		SnapLen:      DefaultSnapLen,
		FlushTimeout: DefaultFlushTimeout,
		Start:        shellxStart,
	}
}

// bufferKiB sizes the capture buffer from the bottleneck bandwidth:
// one second of traffic at line rate, clamped to [4096, 65536] KiB,
// so the capture pipeline never becomes the bottleneck.
func bufferKiB(bandwidth model.Bandwidth) int64 {
	kib := bandwidth.BytesPerSecond() / 1024
	if kib < 4096 {
		kib = 4096
	}
	if kib > 65536 {
		kib = 65536
	}
	return kib
}

// StartCapture begins capturing on iface into path. It returns only
// after the tool had time to attach, so callers may start flows as
// soon as it returns.
func (c *Collector) StartCapture(ctx context.Context, iface string, bandwidth model.Bandwidth, path string) error {
	if c.proc != nil {
		return errorsx.NewCaptureError("start", fmt.Errorf("capture already active on %s", c.path))
	}
	args := []string{
		"--interface", iface,
		"-w", path,
		"--snapshot-length", strconv.Itoa(c.SnapLen),
		"--buffer-size", strconv.FormatInt(bufferKiB(bandwidth), 10),
		"--packet-buffered",
		"--no-promiscuous-mode",
	}
	proc, err := c.Start(ctx, c.Logger, "tcpdump", args...)
	if err != nil {
		return errorsx.NewCaptureError("start", err)
	}
	c.proc = proc
	c.path = path
	c.started = time.Now()

	timer := time.NewTimer(attachDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		proc.Kill()
		c.proc = nil
		return errorsx.NewCaptureError("start", ctx.Err())
	case <-timer.C:
	}
	return nil
}

// capturedRe matches tcpdump's "N packets captured" summary line.
var capturedRe = regexp.MustCompile(`(\d+) packets captured`)

// kernelDropsRe matches tcpdump's "N packets dropped by kernel" line.
var kernelDropsRe = regexp.MustCompile(`(\d+) packets? dropped by kernel`)

// StopCapture interrupts the tool, waits for the flush, and returns
// the artifact. Kernel drops become a recorded warning, not an error.
func (c *Collector) StopCapture(ctx context.Context) (*model.CaptureArtifact, error) {
	if c.proc == nil {
		return nil, errorsx.NewCaptureError("stop", fmt.Errorf("no active capture"))
	}
	proc := c.proc
	c.proc = nil

	if err := proc.Signal(syscall.SIGINT); err != nil {
		proc.Kill()
		return nil, errorsx.NewCaptureError("interrupt", err)
	}
	joinCtx, cancel := context.WithTimeout(ctx, c.FlushTimeout)
	defer cancel()
	if err := proc.Join(joinCtx); err != nil {
		proc.Kill()
		return nil, errorsx.NewCaptureError("flush", err)
	}
	end := time.Now()

	artifact := &model.CaptureArtifact{
		Path:  c.path,
		Start: c.started,
		End:   end,
	}
	stderr := string(proc.Stderr())
	if m := capturedRe.FindStringSubmatch(stderr); m != nil {
		artifact.Packets, _ = strconv.ParseInt(m[1], 10, 64)
	}
	if m := kernelDropsRe.FindStringSubmatch(stderr); m != nil {
		artifact.KernelDrops, _ = strconv.ParseInt(m[1], 10, 64)
	}
	if artifact.KernelDrops > 0 {
		warning := fmt.Sprintf("kernel dropped %d packets during capture", artifact.KernelDrops)
		artifact.Warnings = append(artifact.Warnings, warning)
		c.Logger.Warnf("capture: %s", warning)
	}
	if _, err := os.Stat(c.path); err != nil {
		return nil, errorsx.NewCaptureError("verify artifact", err)
	}
	return artifact, nil
}
