// Package runner sequences the experiment pipeline over the run
// matrix. Exactly one run is active at a time: the runner holds a
// global lock for the whole matrix, executes runs in deterministic
// order, retries transient per-run failures up to a bound, and skips
// runs whose record already exists so an interrupted matrix resumes
// where it stopped.
package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aqmlab/aqmbench/internal/aqm"
	"github.com/aqmlab/aqmbench/internal/capture"
	"github.com/aqmlab/aqmbench/internal/errorsx"
	"github.com/aqmlab/aqmbench/internal/metrics"
	"github.com/aqmlab/aqmbench/internal/model"
	"github.com/aqmlab/aqmbench/internal/results"
	"github.com/aqmlab/aqmbench/internal/topology"
	"github.com/aqmlab/aqmbench/internal/traffic"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// DefaultQuiescent is the settling pause between consecutive runs.
const DefaultQuiescent = 2 * time.Second

// DefaultMaxRetries bounds how often one run is retried after a
// transient failure.
const DefaultMaxRetries = 2

// DefaultSampleInterval is the backlog sampling period.
const DefaultSampleInterval = 500 * time.Millisecond

// DefaultEpochLead is how far in the future the flow epoch is
// anchored, leaving room for server warmup and capture attach.
const DefaultEpochLead = time.Second

// teardownGrace bounds cleanup work after the matrix context is
// cancelled, so an interrupt still releases namespaces and qdiscs.
const teardownGrace = 15 * time.Second

// waitSlack extends the traffic join deadline past the scheduled end.
const waitSlack = 30 * time.Second

// TopologyBuilder constructs and destroys the emulated network.
type TopologyBuilder interface {
	Build(ctx context.Context, spec *model.TopologySpec, profile *model.AQMProfile) (*model.Topology, error)
	Teardown(ctx context.Context, topo *model.Topology) error
	StaleResources() ([]string, error)
}

// BacklogSampler drains to the samples it collected.
type BacklogSampler interface {
	Stop() []model.BacklogPoint
}

// AQMConfigurator installs and removes the discipline under test.
type AQMConfigurator interface {
	Apply(ctx context.Context, iface string, profile *model.AQMProfile) error
	Reset(ctx context.Context, iface string)
	StartSampler(ctx context.Context, iface string, interval time.Duration) BacklogSampler
}

// TrafficSession is an in-flight flow schedule.
type TrafficSession interface {
	Wait(ctx context.Context, timeout time.Duration) ([]model.FlowLog, error)
	Abort()
}

// TrafficOrchestrator starts the flow schedule.
type TrafficOrchestrator interface {
	StartFlows(ctx context.Context, topo *model.Topology, flows []model.TrafficFlow, epoch time.Time) (TrafficSession, error)
}

// CaptureCollector records bottleneck traffic for one run.
type CaptureCollector interface {
	StartCapture(ctx context.Context, iface string, bandwidth model.Bandwidth, path string) error
	StopCapture(ctx context.Context) (*model.CaptureArtifact, error)
}

// MetricsExtractor turns run artifacts into a record.
type MetricsExtractor interface {
	Parse(run *model.Run, attemptID string, artifact *model.CaptureArtifact,
		logs []model.FlowLog, backlog []model.BacklogPoint) (*model.MetricRecord, error)
}

// RecordStore is the append-only result sink.
type RecordStore interface {
	Has(runID model.RunID) (bool, error)
	Append(record *model.MetricRecord) error
}

// aqmAdapter exposes [aqm.Configurator] through [AQMConfigurator].
type aqmAdapter struct {
	conf *aqm.Configurator
}

func (a *aqmAdapter) Apply(ctx context.Context, iface string, profile *model.AQMProfile) error {
	return a.conf.Apply(ctx, iface, profile)
}

func (a *aqmAdapter) Reset(ctx context.Context, iface string) {
	a.conf.Reset(ctx, iface)
}

func (a *aqmAdapter) StartSampler(ctx context.Context, iface string, interval time.Duration) BacklogSampler {
	return a.conf.StartSampler(ctx, iface, interval)
}

// trafficAdapter exposes [traffic.Orchestrator] through
// [TrafficOrchestrator].
type trafficAdapter struct {
	orch *traffic.Orchestrator
}

func (a *trafficAdapter) StartFlows(ctx context.Context, topo *model.Topology,
	flows []model.TrafficFlow, epoch time.Time) (TrafficSession, error) {
	return a.orch.StartFlows(ctx, topo, flows, epoch)
}

// Runner executes a run matrix.
type Runner struct {
	// Logger is the logger to use.
	Logger model.Logger

	// Builder builds topologies.
	Builder TopologyBuilder

	// AQM configures disciplines.
	AQM AQMConfigurator

	// Traffic starts flow schedules.
	Traffic TrafficOrchestrator

	// Capture records bottleneck traffic.
	Capture CaptureCollector

	// Extract computes metric records.
	Extract MetricsExtractor

	// Store persists records.
	Store RecordStore

	// WorkDir holds the lock file and capture artifacts.
	WorkDir string

	// Quiescent is the pause between runs.
	Quiescent time.Duration

	// MaxRetries bounds per-run retries.
	MaxRetries int

	// SampleInterval is the backlog sampling period.
	SampleInterval time.Duration

	// EpochLead anchors the flow epoch in the future.
	EpochLead time.Duration
}

// New assembles a [Runner] over the production pipeline components.
func New(logger model.Logger, workDir string, store *results.Store) *Runner {
	logger = model.ValidLoggerOrDefault(logger)
	return &Runner{
		Logger:         logger,
		Builder:        topology.NewBuilder(logger),
		AQM:            &aqmAdapter{conf: aqm.NewConfigurator(logger)},
		Traffic:        &trafficAdapter{orch: traffic.NewOrchestrator(logger)},
		Capture:        capture.NewCollector(logger),
		Extract:        metrics.NewExtractor(logger),
		Store:          store,
		WorkDir:        workDir,
		Quiescent:      DefaultQuiescent,
		MaxRetries:     DefaultMaxRetries,
		SampleInterval: DefaultSampleInterval,
		EpochLead:      DefaultEpochLead,
	}
}

// lockPath returns where the global run lock lives.
func (r *Runner) lockPath() string {
	return filepath.Join(r.WorkDir, "aqmbench.lock")
}

// RunMatrix executes every run of the matrix and returns how many
// runs failed permanently. Fatal preconditions (busy lock, stale
// resources) abort before the first run.
func (r *Runner) RunMatrix(ctx context.Context, matrix *Matrix) (int, error) {
	if err := os.MkdirAll(filepath.Join(r.WorkDir, "captures"), 0o755); err != nil {
		return 0, errors.Wrap(err, "creating work directory")
	}
	lock, err := acquireLock(r.lockPath(), r.Logger)
	if err != nil {
		return 0, err
	}
	defer lock.release()

	stale, err := r.Builder.StaleResources()
	if err != nil {
		return 0, errors.Wrap(err, "scanning for stale resources")
	}
	if len(stale) > 0 {
		return 0, errors.Wrapf(errorsx.ErrStaleResources,
			"found %d leftovers (%v), run the clean command first", len(stale), stale)
	}

	runs := matrix.Runs()
	r.Logger.Infof("runner: matrix expands to %d runs", len(runs))
	failed := 0
	for idx, run := range runs {
		if ctx.Err() != nil {
			r.Logger.Warnf("runner: interrupted after %d of %d runs", idx, len(runs))
			break
		}
		exists, err := r.Store.Has(run.ID)
		if err != nil {
			return failed, errors.Wrap(err, "querying result store")
		}
		if exists {
			r.Logger.Infof("runner: %s already has a record, skipping", run.ID)
			continue
		}
		if err := r.executeRun(ctx, run); err != nil {
			if errorsx.IsFatal(err) {
				return failed, err
			}
			r.Logger.Warnf("runner: %s failed permanently: %s", run.ID, err.Error())
			run.Status = model.RunFailed
			failed++
		}
		r.pause(ctx)
	}
	return failed, nil
}

// pause sleeps for the quiescent period unless cancelled.
func (r *Runner) pause(ctx context.Context) {
	timer := time.NewTimer(r.Quiescent)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// executeRun drives one run through its bounded retries. A produced
// record, valid or invalid, ends the retries: an invalid record is a
// definitive statement about the run, not a transient failure.
func (r *Runner) executeRun(ctx context.Context, run *model.Run) error {
	var lastErr error
	for attempt := 0; attempt <= r.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt > 0 {
			r.Logger.Infof("runner: retrying %s (attempt %d of %d)",
				run.ID, attempt+1, r.MaxRetries+1)
			r.pause(ctx)
		}
		record, err := r.runOnce(ctx, run)
		if record != nil {
			run.Status = model.RunDone
			if err != nil {
				r.Logger.Warnf("runner: %s produced an invalid record: %s", run.ID, err.Error())
			}
			return errors.Wrap(r.Store.Append(record), "storing record")
		}
		lastErr = err
		r.Logger.Warnf("runner: attempt %d for %s failed: %s", attempt+1, run.ID, err.Error())
	}
	return lastErr
}

// runOnce performs a single attempt: build the topology, install the
// discipline, capture while the flows run, then extract. Cleanup is
// deferred in reverse order so the discipline resets before the
// topology disappears, and runs on a fresh context so cancellation
// still cleans up.
func (r *Runner) runOnce(ctx context.Context, run *model.Run) (*model.MetricRecord, error) {
	attemptID := uuid.NewString()
	run.Status = model.RunActive
	r.Logger.Infof("runner: starting %s attempt %s", run.ID, attemptID)

	topo, err := r.Builder.Build(ctx, &run.Topology, run.Profile)
	if err != nil {
		return nil, err
	}
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), teardownGrace)
		defer cancel()
		if err := r.Builder.Teardown(cleanupCtx, topo); err != nil {
			r.Logger.Warnf("runner: teardown of %s failed: %s", run.ID, err.Error())
		}
	}()

	iface := topo.BottleneckInterface
	if err := r.AQM.Apply(ctx, iface, run.Profile); err != nil {
		return nil, err
	}
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), teardownGrace)
		defer cancel()
		r.AQM.Reset(cleanupCtx, iface)
	}()

	capturePath := filepath.Join(r.WorkDir, "captures",
		fmt.Sprintf("%s-%s.pcap", run.ID, attemptID))
	if err := r.Capture.StartCapture(ctx, iface, run.Topology.Bandwidth, capturePath); err != nil {
		return nil, err
	}
	captureOpen := true
	defer func() {
		if captureOpen {
			cleanupCtx, cancel := context.WithTimeout(context.Background(), teardownGrace)
			defer cancel()
			r.Capture.StopCapture(cleanupCtx)
		}
	}()

	sampler := r.AQM.StartSampler(ctx, iface, r.SampleInterval)

	epoch := time.Now().Add(r.EpochLead)
	session, err := r.Traffic.StartFlows(ctx, topo, run.Flows, epoch)
	if err != nil {
		sampler.Stop()
		return nil, err
	}
	timeout := time.Until(run.MaxFlowEnd(epoch)) + waitSlack
	logs, err := session.Wait(ctx, timeout)
	backlog := sampler.Stop()
	if err != nil {
		session.Abort()
		return nil, err
	}

	cleanupCtx, cancel := context.WithTimeout(context.Background(), teardownGrace)
	defer cancel()
	artifact, err := r.Capture.StopCapture(cleanupCtx)
	captureOpen = false
	if err != nil {
		return nil, err
	}
	if !artifact.Covers(epoch, run.MaxFlowEnd(epoch)) {
		return nil, errorsx.NewCaptureError("verify coverage",
			fmt.Errorf("capture [%s, %s] does not cover the flow schedule",
				artifact.Start.Format(time.RFC3339), artifact.End.Format(time.RFC3339)))
	}

	record, err := r.Extract.Parse(run, attemptID, artifact, logs, backlog)
	if record != nil && err != nil {
		// Parse failures still produce a stored, invalid record.
		return record, err
	}
	return record, err
}
