// Package orchestrator runs the external crawler: one subprocess at a time,
// either for a single platform or sequentially across a batch, and triggers
// a feed sync after each run.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawlctl/internal/crawler"
	"github.com/JakeFAU/crawlctl/internal/logbuffer"
	"github.com/JakeFAU/crawlctl/internal/metrics"
	"github.com/JakeFAU/crawlctl/internal/process"
)

// Messages returned by Stop.
const (
	MsgBatchStopRequested = "Batch crawler stop requested"
	MsgStopped            = "Crawler stopped successfully"
)

// CommandFactory resolves the subprocess invocation for one platform.
type CommandFactory interface {
	Build(ctx context.Context, platform crawler.Platform, req crawler.CrawlRequest) (crawler.Command, error)
}

// Syncer folds a platform's freshly crawled records into the feed.
type Syncer interface {
	SyncPlatform(ctx context.Context, platform crawler.Platform) (crawler.SyncResult, error)
}

// Config controls Orchestrator behavior.
type Config struct {
	// StopGrace is how long Stop waits after SIGTERM.
	StopGrace time.Duration
	// WaitDelay bounds output draining after the process exits.
	WaitDelay time.Duration
	// KillOnTimeout escalates to SIGKILL when StopGrace expires.
	KillOnTimeout bool
	// SyncAfterRun syncs the platform after every subprocess exit.
	SyncAfterRun bool
}

type runTag struct {
	platform crawler.Platform
	runID    string
}

// Orchestrator owns all crawl state. The zero value is not usable; build one
// with New.
type Orchestrator struct {
	mu           sync.Mutex
	current      crawler.RunDescriptor
	runID        string
	startedAt    time.Time
	batch        []crawler.Platform
	batchIndex   int
	batchRunning bool
	cancel       chan struct{}

	sup      *process.Supervisor
	commands CommandFactory
	syncer   Syncer
	logs     *logbuffer.Buffer
	clock    crawler.Clock
	ids      crawler.IDGenerator
	cfg      Config
	logger   *zap.Logger

	// tag labels mirrored log lines; read by output readers without mu.
	tag atomic.Pointer[runTag]

	bg       sync.WaitGroup
	bgCtx    context.Context
	bgCancel context.CancelFunc
}

// New constructs an Orchestrator. syncer may be nil to disable post-run sync.
func New(
	commands CommandFactory,
	syncer Syncer,
	logs *logbuffer.Buffer,
	clock crawler.Clock,
	ids crawler.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if logs == nil {
		logs = logbuffer.New(logbuffer.DefaultCapacity)
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		current: crawler.RunDescriptor{
			Platform:    crawler.DefaultPlatform,
			LoginType:   crawler.DefaultLoginType,
			CrawlerType: crawler.DefaultCrawlerType,
		},
		commands: commands,
		syncer:   syncer,
		logs:     logs,
		clock:    clock,
		ids:      ids,
		cfg:      cfg,
		logger:   logger,
		bgCtx:    ctx,
		bgCancel: cancel,
	}
	o.tag.Store(&runTag{})
	o.sup = process.NewSupervisor(mirror{o}, logger.Named("process"),
		process.WithGrace(cfg.StopGrace),
		process.WithWaitDelay(cfg.WaitDelay),
		process.WithClock(clock.Now),
	)
	return o
}

// mirror appends to the log buffer and repeats the line through zap.
type mirror struct{ o *Orchestrator }

func (m mirror) Append(level logbuffer.Level, message string) {
	m.o.logs.Append(level, message)
	tag := m.o.tag.Load()
	fields := []zap.Field{
		zap.String("platform", string(tag.platform)),
		zap.String("run_id", tag.runID),
	}
	if level == logbuffer.LevelError {
		m.o.logger.Error(message, fields...)
		return
	}
	m.o.logger.Info(message, fields...)
}

func (o *Orchestrator) record(level logbuffer.Level, message string) {
	mirror{o}.Append(level, message)
}

// Start validates req and launches it. A single-platform request spawns the
// subprocess before returning; a multi-platform request returns as soon as
// the batch loop is scheduled. It fails with crawler.ErrBusy while a run or a
// batch is active.
func (o *Orchestrator) Start(ctx context.Context, req crawler.CrawlRequest) (string, error) {
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return "", err
	}
	runID, err := o.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.busyLocked() {
		return "", crawler.ErrBusy
	}

	if req.IsBatch() {
		o.beginBatchLocked(runID, req)
		return runID, nil
	}

	platform := req.Platforms[0]
	h, err := o.launchLocked(ctx, runID, platform, req)
	if err != nil {
		return "", err
	}
	o.bg.Add(1)
	go o.watch(platform, h)
	return runID, nil
}

func (o *Orchestrator) busyLocked() bool {
	return o.batchRunning || o.sup.Running()
}

// Busy reports whether a run or a batch is active.
func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.busyLocked()
}

func (o *Orchestrator) setCurrentLocked(runID string, platform crawler.Platform, req crawler.CrawlRequest) {
	o.runID = runID
	o.current = crawler.RunDescriptor{
		Platform:    platform,
		LoginType:   req.LoginType,
		CrawlerType: req.CrawlerType,
	}
	o.tag.Store(&runTag{platform: platform, runID: runID})
}

// launchLocked builds and spawns the crawler with o.mu held. The fork/exec
// happens under the lock so the busy check and the spawn are one step.
func (o *Orchestrator) launchLocked(
	ctx context.Context,
	runID string,
	platform crawler.Platform,
	req crawler.CrawlRequest,
) (*process.Handle, error) {
	o.setCurrentLocked(runID, platform, req)

	cmd, err := o.commands.Build(ctx, platform, req)
	if err != nil {
		metrics.ObserveRun(string(platform), "spawn_error", 0)
		return nil, fmt.Errorf("build command for %s: %w", platform, err)
	}
	h, err := o.sup.Start(cmd, string(platform))
	if err != nil {
		metrics.ObserveRun(string(platform), "spawn_error", 0)
		if !errors.Is(err, crawler.ErrBusy) {
			o.record(logbuffer.LevelError, fmt.Sprintf("Failed to start crawler: %v", err))
		}
		return nil, err
	}
	if !o.batchRunning {
		o.startedAt = h.StartedAt
	}
	o.record(logbuffer.LevelInfo, fmt.Sprintf("Crawler started: %s %s", platform, req.CrawlerType))
	return h, nil
}

func (o *Orchestrator) beginBatchLocked(runID string, req crawler.CrawlRequest) {
	o.batchRunning = true
	o.cancel = make(chan struct{})
	o.batch = append([]crawler.Platform(nil), req.Platforms...)
	o.batchIndex = 0
	o.startedAt = o.clock.Now()
	o.setCurrentLocked(runID, req.Platforms[0], req)

	names := make([]string, len(req.Platforms))
	for i, p := range req.Platforms {
		names[i] = string(p)
	}
	o.record(logbuffer.LevelInfo, "Batch crawler started: "+strings.Join(names, ", "))

	o.bg.Add(1)
	go o.runBatch(runID, req, o.cancel)
}

// runBatch crawls the platforms strictly one after another. Cancellation is
// observed between platforms only.
func (o *Orchestrator) runBatch(runID string, req crawler.CrawlRequest, cancel <-chan struct{}) {
	defer o.bg.Done()
	defer func() {
		o.mu.Lock()
		o.batchRunning = false
		o.batch = nil
		o.batchIndex = 0
		o.mu.Unlock()
	}()

	for i, platform := range req.Platforms {
		o.mu.Lock()
		select {
		case <-cancel:
			o.mu.Unlock()
			o.record(logbuffer.LevelInfo, "Batch crawler cancelled")
			metrics.ObserveBatchCancel()
			return
		default:
		}
		o.batchIndex = i
		h, err := o.launchLocked(o.bgCtx, runID, platform, req)
		o.mu.Unlock()
		if err != nil {
			o.record(logbuffer.LevelError, fmt.Sprintf("Batch crawler aborted at %s: %v", platform, err))
			return
		}
		o.reap(platform, h)
	}
	o.logger.Info("batch finished", zap.String("run_id", runID), zap.Int("platforms", len(req.Platforms)))
}

func (o *Orchestrator) watch(platform crawler.Platform, h *process.Handle) {
	defer o.bg.Done()
	o.reap(platform, h)
}

// reap waits for h, records the outcome and runs the post-run sync.
func (o *Orchestrator) reap(platform crawler.Platform, h *process.Handle) {
	code := o.sup.Wait(h)
	outcome := "success"
	if code != 0 {
		outcome = "failure"
	}
	metrics.ObserveRun(string(platform), outcome, o.clock.Now().Sub(h.StartedAt))

	if !o.cfg.SyncAfterRun || o.syncer == nil {
		return
	}
	res, err := o.syncer.SyncPlatform(o.bgCtx, platform)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		o.record(logbuffer.LevelError, fmt.Sprintf("Feed sync failed for %s: %v", platform, err))
		return
	}
	o.record(logbuffer.LevelInfo, fmt.Sprintf("Feed sync for %s: %d rows", platform, res.Synced()))
}

// RequestCancel asks the active batch to stop before its next platform. The
// running subprocess is left alone. It reports whether a batch was active.
func (o *Orchestrator) RequestCancel() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.requestCancelLocked()
}

func (o *Orchestrator) requestCancelLocked() bool {
	if !o.batchRunning {
		return false
	}
	select {
	case <-o.cancel:
	default:
		close(o.cancel)
	}
	return true
}

// Stop terminates the live subprocess. During a batch it also cancels the
// remaining platforms; with a batch active but no subprocess alive it only
// records the cancellation. With nothing active it returns
// crawler.ErrNotRunning.
func (o *Orchestrator) Stop(ctx context.Context) (string, error) {
	o.mu.Lock()
	batch := o.requestCancelLocked()
	running := o.sup.Running()
	o.mu.Unlock()

	if !running {
		if batch {
			o.record(logbuffer.LevelInfo, MsgBatchStopRequested)
			return MsgBatchStopRequested, nil
		}
		return "", crawler.ErrNotRunning
	}

	err := o.sup.Stop(ctx)
	switch {
	case err == nil, errors.Is(err, crawler.ErrNotRunning):
	case errors.Is(err, crawler.ErrStopTimeout) && o.cfg.KillOnTimeout:
		o.record(logbuffer.LevelError, "Crawler ignored SIGTERM, killing")
		if kerr := o.sup.Kill(); kerr != nil && !errors.Is(kerr, crawler.ErrNotRunning) {
			return "", kerr
		}
	default:
		return "", fmt.Errorf("stop crawler: %w", err)
	}
	o.record(logbuffer.LevelInfo, "Crawler stopped")
	return MsgStopped, nil
}

// Status snapshots the current run.
func (o *Orchestrator) Status() crawler.Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	st := crawler.Status{
		Running:     o.busyLocked(),
		State:       crawler.StateIdle,
		Platform:    o.current.Platform,
		LoginType:   o.current.LoginType,
		CrawlerType: o.current.CrawlerType,
	}
	switch {
	case o.batchRunning:
		st.State = crawler.StateBatchRunning
		st.Batch = append([]crawler.Platform(nil), o.batch...)
		st.BatchIndex = o.batchIndex
	case o.sup.Running():
		st.State = crawler.StateRunning
	}
	if st.Running {
		st.RunID = o.runID
		if !o.startedAt.IsZero() {
			t := o.startedAt
			st.StartedAt = &t
		}
	}
	return st
}

// Logs returns up to limit recent log lines, oldest first.
func (o *Orchestrator) Logs(limit int) []logbuffer.Entry {
	return o.logs.Recent(limit)
}

// Close cancels any batch, stops the live subprocess (killing it if it
// ignores SIGTERM) and waits for background work until ctx expires.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.RequestCancel()
	if o.sup.Running() {
		if err := o.sup.Stop(ctx); err != nil && !errors.Is(err, crawler.ErrNotRunning) {
			o.logger.Warn("crawler did not stop cleanly, killing", zap.Error(err))
			_ = o.sup.Kill()
		}
	}
	o.bgCancel()

	done := make(chan struct{})
	go func() {
		o.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for background tasks: %w", ctx.Err())
	}
}
