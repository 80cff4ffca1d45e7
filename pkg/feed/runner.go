package feed

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// State represents a producer connection state.
type State int32

const (
	StateConnecting State = iota
	StateStreaming
	StateDegraded
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handlers contains callback functions for producer events. All callbacks
// for a single runner are invoked from one goroutine, so per-source envelope
// order is preserved.
type Handlers struct {
	OnEnvelope    func(src SourceID, env Envelope)
	OnStateChange func(src SourceID, old, new State)
	OnError       func(src SourceID, err error)
}

// RunnerConfig holds subprocess producer configuration.
type RunnerConfig struct {
	Source  SourceID
	Command []string // argv; Command[0] is the executable

	// Restart backoff
	RestartMinDelay time.Duration
	RestartMaxDelay time.Duration
	MaxRestarts     int // 0 = unlimited

	// StallTimeout kills a producer that stops emitting output.
	StallTimeout time.Duration

	// ShutdownGracePeriod bounds Wait after the process context is cancelled.
	ShutdownGracePeriod time.Duration
}

// DefaultRunnerConfig returns a config with sensible defaults.
func DefaultRunnerConfig(src SourceID, command []string) RunnerConfig {
	return RunnerConfig{
		Source:              src,
		Command:             command,
		RestartMinDelay:     1 * time.Second,
		RestartMaxDelay:     30 * time.Second,
		MaxRestarts:         0, // unlimited
		StallTimeout:        2 * time.Minute,
		ShutdownGracePeriod: 3 * time.Second,
	}
}

// Runner manages a single producer subprocess: it spawns the command,
// decodes its stdout as NDJSON envelopes, and restarts it with exponential
// backoff when it exits or stalls. A consumer disconnecting never tears the
// runner down mid-line; Close kills the process via its context.
type Runner struct {
	config   RunnerConfig
	handlers Handlers

	state     int32 // atomic State
	restarts  int
	closeCh   chan struct{}
	closeOnce sync.Once

	lastOutput atomic.Int64 // unix nanos of last envelope
}

// NewRunner creates a subprocess producer runner.
func NewRunner(config RunnerConfig, handlers Handlers) *Runner {
	return &Runner{
		config:   config,
		handlers: handlers,
		closeCh:  make(chan struct{}),
	}
}

// State returns the current producer state.
func (r *Runner) State() State {
	return State(atomic.LoadInt32(&r.state))
}

// LastOutput returns the time of the most recent envelope, zero if none yet.
func (r *Runner) LastOutput() time.Time {
	n := r.lastOutput.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Close stops the runner. Safe to call more than once.
func (r *Runner) Close() {
	r.closeOnce.Do(func() {
		r.setState(StateClosed)
		close(r.closeCh)
	})
}

// Run drives the subprocess until ctx is cancelled or Close is called.
// It blocks; callers run it in its own goroutine, one per source.
func (r *Runner) Run(ctx context.Context) {
	defer r.setState(StateClosed)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.closeCh:
			return
		default:
		}

		r.setState(StateConnecting)
		err := r.runOnce(ctx)
		if r.State() == StateClosed || ctx.Err() != nil {
			return
		}

		r.setState(StateDegraded)
		if err != nil {
			r.emitError(fmt.Errorf("producer %s exited: %w", r.config.Source, err))
		}

		r.restarts++
		if r.config.MaxRestarts > 0 && r.restarts > r.config.MaxRestarts {
			r.emitError(fmt.Errorf("producer %s: max restarts (%d) exceeded", r.config.Source, r.config.MaxRestarts))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-r.closeCh:
			return
		case <-time.After(restartDelay(r.config.RestartMinDelay, r.config.RestartMaxDelay, r.restarts)):
		}
	}
}

// restartDelay computes the exponential backoff delay for the given attempt
// (attempt counts from 1).
func restartDelay(min, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 30 {
		attempt = 30 // avoid shift overflow; already beyond any sane max
	}
	delay := min * time.Duration(1<<uint(attempt-1))
	if delay > max || delay <= 0 {
		delay = max
	}
	return delay
}

// runOnce starts the subprocess and consumes its stdout until it exits.
func (r *Runner) runOnce(ctx context.Context) error {
	if len(r.config.Command) == 0 {
		return errors.New("empty producer command")
	}

	procCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := exec.CommandContext(procCtx, r.config.Command[0], r.config.Command[1:]...)
	cmd.WaitDelay = r.config.ShutdownGracePeriod

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	// Surface stderr lines as errors without failing the stream.
	go r.drainStderr(stderr)

	// Kill a stalled producer so the restart loop can replace it.
	if r.config.StallTimeout > 0 {
		go r.watchStall(procCtx, cancel)
	}

	// React to Close while blocked in ReadMessage-equivalent.
	go func() {
		select {
		case <-r.closeCh:
			cancel()
		case <-procCtx.Done():
		}
	}()

	dec := NewDecoder(stdout)
	for {
		env, err := dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			cancel()
			_ = cmd.Wait()
			return fmt.Errorf("read: %w", err)
		}

		r.lastOutput.Store(time.Now().UnixNano())
		if r.State() == StateConnecting {
			r.setState(StateStreaming)
		}
		if env.Type == TypeError {
			r.emitError(fmt.Errorf("producer %s: %s", r.config.Source, env.Message))
		}
		if r.handlers.OnEnvelope != nil {
			r.handlers.OnEnvelope(r.config.Source, env)
		}
	}

	return cmd.Wait()
}

func (r *Runner) drainStderr(rd io.Reader) {
	sc := bufio.NewScanner(rd)
	for sc.Scan() {
		line := sc.Text()
		if line != "" {
			r.emitError(fmt.Errorf("producer %s stderr: %s", r.config.Source, line))
		}
	}
}

// watchStall cancels the subprocess when no output arrives within
// StallTimeout.
func (r *Runner) watchStall(ctx context.Context, cancel context.CancelFunc) {
	ticker := time.NewTicker(r.config.StallTimeout / 2)
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			last := r.LastOutput()
			if last.IsZero() {
				last = start
			}
			if time.Since(last) > r.config.StallTimeout {
				r.emitError(fmt.Errorf("producer %s stalled (no output for %s)", r.config.Source, r.config.StallTimeout))
				cancel()
				return
			}
		}
	}
}

func (r *Runner) setState(s State) {
	old := State(atomic.SwapInt32(&r.state, int32(s)))
	if old != s && r.handlers.OnStateChange != nil {
		r.handlers.OnStateChange(r.config.Source, old, s)
	}
}

func (r *Runner) emitError(err error) {
	if r.handlers.OnError != nil {
		r.handlers.OnError(r.config.Source, err)
	}
}
