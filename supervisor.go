package xwalk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// supervisorStopTimeout bounds the shutdown performed by Run.
	supervisorStopTimeout = 10 * time.Second

	// eventChannelBuffer is the size of the event channel buffer. Events are
	// dropped rather than blocking the supervisor when nobody is reading.
	eventChannelBuffer = 256
)

// State is the Supervisor's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateExited
	StateSpawnFailed
	StateGaveUp
	StateStopped
)

var stateNames = map[State]string{
	StateIdle:        "idle",
	StateStarting:    "starting",
	StateRunning:     "running",
	StateExited:      "exited",
	StateSpawnFailed: "spawn_failed",
	StateGaveUp:      "gave_up",
	StateStopped:     "stopped",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// SupervisorConfig configures a Supervisor. Only Command is required.
type SupervisorConfig struct {
	Clock          Clock
	Logger         *zap.Logger
	OnPersistError func(*PersistError)
	Command        Command
	Policy         RestartPolicy
	MaxLineBytes   int
}

// Supervisor keeps one instance of the analysis engine running and routes
// its output to a Router.
//
// Every exit, whatever the code, schedules exactly one relaunch through the
// Clock after the policy's delay. A spawn failure is terminal unless the
// policy grants spawn retries. Use Stop (or cancel Run's context) to end
// supervision; Stop is idempotent.
type Supervisor struct {
	launcher       Launcher
	router         *Router
	clock          Clock
	logger         *zap.Logger
	onPersistError func(*PersistError)
	cmd            Command
	maxLineBytes   int

	// mu guards every field below.
	mu            sync.Mutex
	policy        RestartPolicy
	state         State
	started       bool
	stopped       bool
	restarts      int
	spawnFailures int
	alerts        int
	lost          int
	proc          Process
	timer         Timer
	err           error
	ctx           context.Context
	cancel        context.CancelFunc

	// cycles counts launch attempts whose exit handling has not finished.
	cycles sync.WaitGroup

	events   chan Event
	evMu     sync.Mutex
	evClosed bool
	done     chan struct{}
	once     sync.Once
}

// NewSupervisor returns an idle Supervisor. Zero Policy fields take their
// DefaultRestartPolicy values; a nil Clock selects SystemClock.
func NewSupervisor(launcher Launcher, router *Router, cfg SupervisorConfig) *Supervisor {
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	cfg.Policy = cfg.Policy.withDefaults()
	return &Supervisor{
		launcher:       launcher,
		router:         router,
		clock:          cfg.Clock,
		logger:         cfg.Logger,
		onPersistError: cfg.OnPersistError,
		cmd:            cfg.Command,
		maxLineBytes:   cfg.MaxLineBytes,
		policy:         cfg.Policy,
		events:         make(chan Event, eventChannelBuffer),
		done:           make(chan struct{}),
	}
}

// Start launches the engine and returns without waiting for it. A spawn
// failure is not returned here; it is reported through Events, Done and Err.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	// Persist calls outlive the caller's cancellation until Stop has drained
	// the engine's output.
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Unlock()

	s.launch()
	return nil
}

// Run starts supervision and blocks until ctx is cancelled or supervision
// ends on its own. It then stops the engine and returns the terminal error,
// if any.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
	case <-s.done:
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), supervisorStopTimeout)
	defer cancel()
	if err := s.Stop(stopCtx); err != nil {
		return err
	}
	return s.Err()
}

// Stop cancels any pending relaunch, kills the running engine and waits
// until its remaining output has been routed or ctx expires. Supervision
// ends either way; on expiry Err reports ctx's error and a late exit of the
// engine is not relaunched.
//
// Stop is idempotent: calling it after supervision has ended returns nil.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return s.waitCycles(ctx)
	}
	s.stopped = true
	s.started = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	proc := s.proc
	s.mu.Unlock()

	var killErr error
	if proc != nil {
		s.logger.Info("stopping engine")
		killErr = proc.Kill()
	}

	waitErr := s.waitCycles(ctx)

	s.mu.Lock()
	if !s.terminalLocked() {
		s.state = StateStopped
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	if waitErr != nil {
		s.logger.Warn("engine output not drained before stop deadline", zap.Error(waitErr))
		s.finish(waitErr)
		return waitErr
	}
	s.finish(nil)
	return killErr
}

func (s *Supervisor) waitCycles(ctx context.Context) error {
	drained := make(chan struct{})
	go func() {
		s.cycles.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetPolicy replaces the restart policy. Zero fields take their defaults as
// in NewSupervisor. It applies from the next scheduling decision; a relaunch
// that is already pending keeps its delay.
func (s *Supervisor) SetPolicy(p RestartPolicy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	p = p.withDefaults()
	s.mu.Lock()
	s.policy = p
	s.mu.Unlock()
	s.logger.Info("restart policy updated",
		zap.Duration("delay", p.Delay),
		zap.Float64("multiplier", p.Multiplier),
		zap.Int("max_restarts", p.MaxRestarts),
		zap.Int("spawn_retries", p.SpawnRetries))
	return nil
}

// Policy returns the current restart policy.
func (s *Supervisor) Policy() RestartPolicy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Restarts returns how many relaunches have been scheduled after engine exits.
func (s *Supervisor) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

// Alerts returns how many alerts were persisted by finished cycles.
func (s *Supervisor) Alerts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alerts
}

// Lost returns how many alerts finished cycles failed to persist.
func (s *Supervisor) Lost() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lost
}

// Err returns the error that ended supervision: a *SpawnError, an error
// wrapping ErrGaveUp, or nil.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed when supervision has ended.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// Events returns the supervisor's event stream. It is closed after
// EventStopped. Consuming it is optional; events are dropped when the
// buffer is full.
func (s *Supervisor) Events() <-chan Event {
	return s.events
}

// launch runs one supervision cycle up to the point where the engine is
// running. It is called by Start and by restart timers.
func (s *Supervisor) launch() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.cycles.Add(1)
	s.timer = nil
	s.state = StateStarting
	s.emit(Event{Type: EventStarting, Code: s.restarts})
	ctx := s.ctx
	s.mu.Unlock()

	s.logger.Info("starting engine", zap.String("command", s.cmd.String()))

	pipe := NewPipeline(ctx, s.router, s.maxLineBytes, s.logger, s.emit)
	pipe.OnPersistError = s.onPersistError

	proc, err := s.launcher.Launch(ctx, s.cmd, pipe.Stdout(), pipe.Stderr())
	if err != nil {
		s.spawnFailed(err)
		s.cycles.Done()
		return
	}

	s.mu.Lock()
	s.proc = proc
	s.state = StateRunning
	s.spawnFailures = 0
	stopped := s.stopped
	s.emit(Event{Type: EventRunning, Data: s.cmd.String()})
	s.mu.Unlock()

	if stopped {
		// Stop ran while we were launching and could not see proc.
		_ = proc.Kill()
	}

	go func() {
		defer s.cycles.Done()
		code, waitErr := proc.Wait()
		pipe.Close()
		s.exited(code, waitErr, pipe)
	}()
}

func (s *Supervisor) exited(code int, waitErr error, pipe *Pipeline) {
	s.mu.Lock()
	s.proc = nil
	s.state = StateExited
	s.alerts += pipe.Alerts()
	s.lost += pipe.Lost()
	s.emit(Event{Type: EventExited, Code: code})
	exitErr := fmt.Errorf("%w with code %d", ErrEngineExited, code)

	if waitErr != nil {
		s.logger.Warn("engine wait failed", zap.Error(waitErr))
	}

	if s.stopped {
		select {
		case <-s.done:
			// Stop gave up waiting for this exit.
			s.state = StateStopped
		default:
		}
		s.mu.Unlock()
		s.logger.Info("engine stopped", zap.Error(exitErr))
		return
	}

	n := s.restarts + 1
	if !s.policy.allowRestart(n) {
		s.state = StateGaveUp
		err := fmt.Errorf("%w after %d restarts: %w", ErrGaveUp, s.restarts, exitErr)
		s.mu.Unlock()
		s.logger.Error("engine exited, not restarting", zap.Error(err))
		s.finish(err)
		return
	}

	s.restarts = n
	delay := s.policy.Backoff(n)
	s.emit(Event{Type: EventRestartScheduled, Delay: delay, Code: n})
	s.timer = s.clock.AfterFunc(delay, s.launch)
	s.mu.Unlock()

	s.logger.Warn("engine exited, restarting",
		zap.Error(exitErr),
		zap.Duration("delay", delay),
		zap.Int("restart", n))
}

func (s *Supervisor) spawnFailed(err error) {
	s.mu.Lock()
	s.state = StateSpawnFailed
	s.spawnFailures++
	s.emit(Event{Type: EventSpawnFailed, Data: err.Error()})

	s.logger.Error("failed to start engine; check the configured interpreter path",
		zap.String("path", s.cmd.Path),
		zap.Strings("args", s.cmd.Args),
		zap.Error(err))

	if s.stopped {
		s.mu.Unlock()
		return
	}

	if s.spawnFailures <= s.policy.SpawnRetries {
		delay := s.policy.Delay
		attempt := s.spawnFailures
		s.emit(Event{Type: EventRestartScheduled, Delay: delay})
		s.timer = s.clock.AfterFunc(delay, s.launch)
		s.mu.Unlock()
		s.logger.Warn("retrying engine spawn",
			zap.Duration("delay", delay),
			zap.Int("attempt", attempt))
		return
	}
	s.mu.Unlock()
	s.finish(err)
}

// finish ends supervision exactly once.
func (s *Supervisor) finish(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		if s.err == nil {
			s.err = err
		}
		state := s.state
		s.emit(Event{Type: EventStopped, Data: state.String()})
		s.mu.Unlock()

		close(s.done)
		s.closeEvents()
	})
}

func (s *Supervisor) terminalLocked() bool {
	switch s.state {
	case StateSpawnFailed, StateGaveUp:
		select {
		case <-s.done:
			return true
		default:
		}
	}
	return false
}

// emit sends e without blocking. It may be called with mu held, which keeps
// lifecycle events in state-transition order, and from pipeline goroutines.
func (s *Supervisor) emit(e Event) {
	if e.Time.IsZero() {
		e.Time = s.clock.Now()
	}
	s.evMu.Lock()
	defer s.evMu.Unlock()
	if s.evClosed {
		return
	}
	select {
	case s.events <- e:
	default:
		// Channel full; drop this event.
	}
}

func (s *Supervisor) closeEvents() {
	s.evMu.Lock()
	defer s.evMu.Unlock()
	if !s.evClosed {
		s.evClosed = true
		close(s.events)
	}
}
