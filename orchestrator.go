package auth

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Phase is a step of session bootstrap.
type Phase string

const (
	PhaseIdle          Phase = "idle"
	PhaseLiffInit      Phase = "liff_init"
	PhaseAuthStateInit Phase = "auth_state_init"
	PhaseAutoLogin     Phase = "auto_login"
	PhaseComplete      Phase = "complete"
	PhaseError         Phase = "error"
)

// Terminal reports whether p ends the bootstrap.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseError
}

// Progress is the orchestration record exposed to the UI.
type Progress struct {
	Phase          Phase
	PhaseDone      bool
	Err            error
	StartTime      time.Time
	PhaseStartTime time.Time
}

// ProgressListener observes phase changes.
type ProgressListener func(Progress)

// HostBridge is what the orchestrator needs from the social mini-app bridge.
type HostBridge interface {
	Initialize(ctx context.Context) bool
	InClient() bool
	LoggedIn() bool
	SignInWithHostToken(ctx context.Context) error
}

// OrchestratorOption customizes an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithHostBridge enables the embedded-host phases.
func WithHostBridge(bridge HostBridge) OrchestratorOption {
	return func(o *Orchestrator) {
		o.bridge = bridge
	}
}

// WithOrchestratorLogger overrides the logger.
func WithOrchestratorLogger(logger Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithOrchestratorClock injects a custom clock (useful for tests).
func WithOrchestratorClock(clock func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) {
		if clock != nil {
			o.now = clock
		}
	}
}

// WithOrchestratorSessionID tags every phase with the session correlation id.
func WithOrchestratorSessionID(id string) OrchestratorOption {
	return func(o *Orchestrator) {
		o.sessionID = id
	}
}

// WithOrchestratorActivitySink records phase changes.
func WithOrchestratorActivitySink(sink ActivitySink) OrchestratorOption {
	return func(o *Orchestrator) {
		o.activitySink = NormalizeActivitySink(sink)
	}
}

// Orchestrator sequences session bootstrap: host SDK init, state derivation,
// host auto-login. Run executes the sequence at most once per instance; the
// composition root owns exactly one instance per process.
type Orchestrator struct {
	machine      *StateMachine
	bridge       HostBridge
	logger       Logger
	now          func() time.Time
	sessionID    string
	activitySink ActivitySink

	once sync.Once

	mu        sync.Mutex
	progress  Progress
	listeners []listenerProgress
	nextID    int
}

type listenerProgress struct {
	id int
	fn ProgressListener
}

// NewOrchestrator returns an idle orchestrator driving machine.
func NewOrchestrator(machine *StateMachine, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		machine:      machine,
		logger:       defLogger{},
		now:          time.Now,
		activitySink: noopActivitySink{},
		progress:     Progress{Phase: PhaseIdle},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// Progress returns a snapshot of the orchestration record.
func (o *Orchestrator) Progress() Progress {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.progress
}

// Subscribe registers fn for phase changes and returns an unsubscribe func.
func (o *Orchestrator) Subscribe(fn ProgressListener) func() {
	if fn == nil {
		return func() {}
	}
	o.mu.Lock()
	o.nextID++
	id := o.nextID
	o.listeners = append(o.listeners, listenerProgress{id: id, fn: fn})
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		for i, l := range o.listeners {
			if l.id == id {
				o.listeners = append(o.listeners[:i:i], o.listeners[i+1:]...)
				return
			}
		}
	}
}

// Run executes the bootstrap sequence once. Concurrent and later callers block
// until the first run finishes and share its outcome.
func (o *Orchestrator) Run(ctx context.Context) Progress {
	o.once.Do(func() {
		if o.sessionID != "" {
			ctx = WithSessionID(ctx, o.sessionID)
		}
		o.run(ctx)
	})
	return o.Progress()
}

func (o *Orchestrator) run(ctx context.Context) {
	start := o.now()
	o.mu.Lock()
	o.progress.StartTime = start
	o.mu.Unlock()

	hostReady := false

	steps := []struct {
		phase Phase
		fn    func(context.Context) error
	}{
		{PhaseLiffInit, func(ctx context.Context) error {
			hostReady = o.initHost(ctx)
			return nil
		}},
		{PhaseAuthStateInit, o.initState},
		{PhaseAutoLogin, func(ctx context.Context) error {
			return o.autoLogin(ctx, hostReady)
		}},
	}

	for _, step := range steps {
		o.enter(ctx, step.phase)
		if err := o.guard(ctx, step.phase, step.fn); err != nil {
			o.fail(ctx, step.phase, err)
			return
		}
		o.leave(step.phase)
	}

	o.enter(ctx, PhaseComplete)
	o.logger.Info("auth bootstrap complete",
		"session_id", o.sessionID,
		"state", o.machine.GetState(),
		"elapsed", o.now().Sub(start),
	)
}

func (o *Orchestrator) guard(ctx context.Context, phase Phase, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Classify(KindUnknown, string(phase), fmt.Errorf("panic: %v", r), nil)
		}
	}()
	if err := ctx.Err(); err != nil {
		return Classify(KindNetwork, string(phase), err, nil)
	}
	return fn(ctx)
}

func (o *Orchestrator) initHost(ctx context.Context) bool {
	if o.bridge == nil || !o.bridge.InClient() {
		o.logger.Debug("not running inside embedded host, skipping host init")
		return false
	}
	if !o.bridge.Initialize(ctx) {
		o.logger.Warn("host SDK init failed, continuing without embedded host")
		return false
	}
	return true
}

func (o *Orchestrator) initState(ctx context.Context) error {
	state := o.machine.Initialize(ctx)
	o.logger.Debug("auth state initialized", "state", state)
	return ctx.Err()
}

func (o *Orchestrator) autoLogin(ctx context.Context, hostReady bool) error {
	if !hostReady || !o.bridge.LoggedIn() {
		return nil
	}
	if o.machine.GetState().AtLeast(StateLineAuthenticated) {
		o.logger.Debug("existing session found, skipping auto login", "state", o.machine.GetState())
		return nil
	}

	if err := o.bridge.SignInWithHostToken(ctx); err != nil {
		ReportError(o.logger, string(PhaseAutoLogin), err)
		o.logger.Warn("auto login failed, falling back to login entry", "error", err)
		return nil
	}

	o.machine.Initialize(ctx)
	return nil
}

func (o *Orchestrator) enter(ctx context.Context, phase Phase) {
	now := o.now()
	o.mu.Lock()
	o.progress.Phase = phase
	o.progress.PhaseDone = false
	o.progress.PhaseStartTime = now
	snapshot := o.progress
	o.mu.Unlock()

	RecordActivity(ctx, o.activitySink, o.logger, ActivityEvent{
		EventType:  ActivityEventOrchestrationPhase,
		SessionID:  o.sessionID,
		Metadata:   map[string]any{"phase": phase},
		OccurredAt: now,
	})
	o.notify(snapshot)
}

func (o *Orchestrator) leave(phase Phase) {
	o.mu.Lock()
	o.progress.PhaseDone = true
	snapshot := o.progress
	o.mu.Unlock()

	o.logger.Debug("auth bootstrap phase finished", "phase", phase, "elapsed", o.now().Sub(snapshot.PhaseStartTime))
	o.notify(snapshot)
}

func (o *Orchestrator) fail(ctx context.Context, phase Phase, err error) {
	ReportError(o.logger, string(phase), err)
	o.mu.Lock()
	o.progress.Phase = PhaseError
	o.progress.PhaseDone = true
	o.progress.Err = err
	o.progress.PhaseStartTime = o.now()
	snapshot := o.progress
	o.mu.Unlock()

	RecordActivity(ctx, o.activitySink, o.logger, ActivityEvent{
		EventType: ActivityEventOrchestrationPhase,
		SessionID: o.sessionID,
		Metadata:  map[string]any{"phase": PhaseError, "failed_phase": phase, "kind": KindOf(err), "error": err.Error()},
	})
	o.notify(snapshot)
}

func (o *Orchestrator) notify(p Progress) {
	o.mu.Lock()
	listeners := make([]listenerProgress, len(o.listeners))
	copy(listeners, o.listeners)
	o.mu.Unlock()

	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					o.logger.Error("progress listener panicked", "phase", p.Phase, "panic", fmt.Sprint(r))
				}
			}()
			l.fn(p)
		}()
	}
}
