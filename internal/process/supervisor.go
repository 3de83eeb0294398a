// Package process owns the single external crawler subprocess: it spawns it,
// drains both output streams into a log sink, and reports its exit.
package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawlctl/internal/crawler"
	"github.com/JakeFAU/crawlctl/internal/logbuffer"
	"github.com/JakeFAU/crawlctl/internal/metrics"
)

// DefaultGrace is how long Stop waits for the process after SIGTERM.
const DefaultGrace = 5 * time.Second

// Sink receives captured output lines. Append is called concurrently from the
// stdout and stderr readers and must not block on the caller of Stop.
type Sink interface {
	Append(level logbuffer.Level, message string)
}

// Handle is a started process. Done is closed once the process has exited and
// both output streams are fully drained.
type Handle struct {
	Label     string
	StartedAt time.Time

	cmd      *exec.Cmd
	done     chan struct{}
	exitCode int
}

// Done returns a channel closed when the process has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// ExitCode returns the exit status. It is only meaningful after Done is
// closed; processes killed by a signal report -1.
func (h *Handle) ExitCode() int {
	<-h.done
	return h.exitCode
}

// Pid returns the OS process id.
func (h *Handle) Pid() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

func (h *Handle) exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Supervisor holds at most one live Handle.
type Supervisor struct {
	mu      sync.Mutex
	current *Handle

	sink      Sink
	logger    *zap.Logger
	grace     time.Duration
	waitDelay time.Duration
	now       func() time.Time
}

// Option customises a Supervisor.
type Option func(*Supervisor)

// WithGrace sets the SIGTERM grace period used by Stop.
func WithGrace(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.grace = d
		}
	}
}

// WithWaitDelay bounds how long output copying may outlive the process, e.g.
// when a grandchild keeps the pipes open.
func WithWaitDelay(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.waitDelay = d
		}
	}
}

// WithClock overrides the time source for StartedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Supervisor) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSupervisor returns a Supervisor writing output to sink.
func NewSupervisor(sink Sink, logger *zap.Logger, opts ...Option) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Supervisor{
		sink:      sink,
		logger:    logger,
		grace:     DefaultGrace,
		waitDelay: 10 * time.Second,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Running reports whether a started process has not yet exited.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runningLocked()
}

func (s *Supervisor) runningLocked() bool {
	return s.current != nil && !s.current.exited()
}

// Current returns the live handle, or nil.
func (s *Supervisor) Current() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.runningLocked() {
		return nil
	}
	return s.current
}

// Start spawns cmd. It fails with crawler.ErrBusy while another process is
// alive. label names the run in log output, usually the platform code.
func (s *Supervisor) Start(cmd crawler.Command, label string) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runningLocked() {
		return nil, crawler.ErrBusy
	}

	c := exec.Command(cmd.Path, cmd.Args...) //nolint:gosec // command comes from operator configuration
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}
	c.WaitDelay = s.waitDelay

	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	c.Stdout = outW
	c.Stderr = errW

	if err := c.Start(); err != nil {
		_ = outW.Close()
		_ = errW.Close()
		return nil, fmt.Errorf("start %s: %w", cmd.Path, err)
	}

	h := &Handle{
		Label:     label,
		StartedAt: s.now(),
		cmd:       c,
		done:      make(chan struct{}),
	}
	s.current = h
	metrics.IncActiveRuns()
	s.logger.Debug("crawler process started",
		zap.String("platform", label),
		zap.Int("pid", c.Process.Pid),
		zap.String("command", cmd.String()),
	)

	var readers sync.WaitGroup
	readers.Add(2)
	go s.drain(&readers, outR, logbuffer.LevelInfo, label)
	go s.drain(&readers, errR, logbuffer.LevelError, label)

	go func() {
		waitErr := c.Wait()
		_ = outW.Close()
		_ = errW.Close()
		readers.Wait()
		h.exitCode = exitCode(c, waitErr)
		metrics.DecActiveRuns()
		close(h.done)
	}()

	return h, nil
}

// drain copies r line by line into the sink until EOF. Lines are unbounded
// in length; a trailing partial line is emitted too.
func (s *Supervisor) drain(wg *sync.WaitGroup, r *io.PipeReader, level logbuffer.Level, label string) {
	defer wg.Done()
	defer func() { _ = r.Close() }()

	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if line != "" {
			s.emit(level, line)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				s.logger.Warn("crawler output read failed", zap.String("platform", label), zap.Error(err))
			}
			return
		}
	}
}

func (s *Supervisor) emit(level logbuffer.Level, line string) {
	if s.sink != nil {
		s.sink.Append(level, line)
	}
	metrics.ObserveLogLine(string(level))
}

// Wait blocks until h exits, clears the live slot and records the exit code.
func (s *Supervisor) Wait(h *Handle) int {
	code := h.ExitCode()

	s.mu.Lock()
	if s.current == h {
		s.current = nil
	}
	s.mu.Unlock()

	msg := fmt.Sprintf("Crawler exited with code %d", code)
	level := logbuffer.LevelInfo
	if code != 0 {
		level = logbuffer.LevelError
	}
	if s.sink != nil {
		s.sink.Append(level, msg)
	}
	s.logger.Debug("crawler process reaped",
		zap.String("platform", h.Label),
		zap.Int("exit_code", code),
		zap.Duration("elapsed", s.now().Sub(h.StartedAt)),
	)
	return code
}

// Stop sends SIGTERM to the live process and waits up to the grace period.
// It returns crawler.ErrNotRunning when nothing is alive and
// crawler.ErrStopTimeout when the process outlives the grace period.
func (s *Supervisor) Stop(ctx context.Context) error {
	h := s.Current()
	if h == nil {
		return crawler.ErrNotRunning
	}
	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		return fmt.Errorf("signal crawler: %w", err)
	}

	timer := time.NewTimer(s.grace)
	defer timer.Stop()
	select {
	case <-h.done:
		return nil
	case <-timer.C:
		return crawler.ErrStopTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Kill sends SIGKILL to the live process, if any.
func (s *Supervisor) Kill() error {
	h := s.Current()
	if h == nil {
		return crawler.ErrNotRunning
	}
	if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill crawler: %w", err)
	}
	return nil
}

func exitCode(c *exec.Cmd, err error) int {
	if c.ProcessState != nil {
		return c.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	if err != nil {
		return -1
	}
	return 0
}
