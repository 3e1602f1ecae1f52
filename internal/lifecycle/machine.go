package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/binderlab/binder_core/internal/service"
	"github.com/binderlab/binder_core/pkg/logger"
)

// Machine errors.
var (
	// ErrStartTimeout is returned when the backing implementation does not
	// confirm readiness within the configured start timeout. The machine
	// treats this as definitive and returns to Unregistered; retry policy
	// belongs to the caller.
	ErrStartTimeout = errors.New("service start timed out")

	// ErrNotActive is returned when a reference is requested on a machine
	// that holds no live instance.
	ErrNotActive = errors.New("service is not active")

	// ErrRetired is returned when the machine's registration has been
	// replaced and it can no longer start.
	ErrRetired = errors.New("service registration retired")
)

// Config controls machine timing.
type Config struct {
	// StartTimeout bounds Unregistered -> Active. Zero means DefaultStartTimeout.
	StartTimeout time.Duration

	// IdleTimeout is how long the service stays Idle with zero references
	// before teardown. Zero means DefaultIdleTimeout.
	IdleTimeout time.Duration

	// StopTimeout bounds the implementation's Shutdown call. Zero means
	// DefaultStopTimeout.
	StopTimeout time.Duration
}

// Defaults. No duration is mandated by the wire contract; these are
// deployment tunables.
const (
	DefaultStartTimeout = 5 * time.Second
	DefaultIdleTimeout  = 30 * time.Second
	DefaultStopTimeout  = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.StartTimeout <= 0 {
		c.StartTimeout = DefaultStartTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	return c
}

// TransitionFunc observes state transitions. It is called with the machine's
// lock held and must not call back into the machine.
type TransitionFunc func(name string, from, to State)

// Machine serializes all lifecycle decisions for one service. Reference
// increments and idle-timer expiry checks run under a single mutex, so an
// increment racing the timer always observes a consistent state; the cost of
// serialization is far lower than a use-after-shutdown.
type Machine struct {
	name    string
	factory service.Factory
	cfg     Config
	log     *logger.Logger

	mu        sync.Mutex
	state     State
	refs      int64
	inst      service.Instance
	retired   bool
	startDone chan struct{}
	startErr  error
	stopDone  chan struct{}
	idleTimer *time.Timer

	onRemove     func(name string)
	onTransition TransitionFunc
}

// NewMachine creates a machine in StateUnregistered.
func NewMachine(name string, factory service.Factory, cfg Config, log *logger.Logger) *Machine {
	return &Machine{
		name:    name,
		factory: factory,
		cfg:     cfg.withDefaults(),
		log:     log.WithField("service", name),
		state:   StateUnregistered,
	}
}

// OnRemove registers the callback invoked after the implementation has
// confirmed its resources are released. Set before first use.
func (m *Machine) OnRemove(fn func(name string)) { m.onRemove = fn }

// OnTransition registers a transition observer. Set before first use.
func (m *Machine) OnTransition(fn TransitionFunc) { m.onTransition = fn }

// Name returns the service name this machine manages.
func (m *Machine) Name() string { return m.name }

// State returns the current lifecycle state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Refs returns the current reference count.
func (m *Machine) Refs() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refs
}

// Retire permanently disables the machine. Used when its registration is
// replaced; an inert retired machine can no longer start.
func (m *Machine) Retire() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retired = true
}

// Acquire returns the live instance with one reference held, starting the
// implementation first if necessary. All callers arriving during a single
// Starting phase share one start attempt and unblock together. Fails with
// ErrStartTimeout when initialization does not finish in time.
func (m *Machine) Acquire(ctx context.Context) (service.Instance, error) {
	m.mu.Lock()
	for {
		if m.retired {
			m.mu.Unlock()
			return nil, ErrRetired
		}

		switch m.state {
		case StateActive:
			m.refs++
			inst := m.inst
			m.mu.Unlock()
			return inst, nil

		case StateIdle:
			m.cancelIdleLocked()
			m.setStateLocked(StateActive)
			m.refs++
			inst := m.inst
			m.mu.Unlock()
			return inst, nil

		case StateUnregistered:
			done := make(chan struct{})
			m.startDone = done
			m.startErr = nil
			m.setStateLocked(StateStarting)
			go m.runStart(done)
			if err := m.wait(ctx, done); err != nil {
				return nil, err
			}

		case StateStarting:
			if err := m.wait(ctx, m.startDone); err != nil {
				return nil, err
			}

		case StateShuttingDown:
			// Teardown is in flight; wait for it to finish, then retry
			// (which will trigger a fresh start).
			stop := m.stopDone
			m.mu.Unlock()
			select {
			case <-stop:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			m.mu.Lock()
		}
	}
}

// wait releases the lock, blocks on ch or ctx, and reacquires the lock.
// Returns the start error if the attempt it waited on failed; on a non-nil
// return the lock is not held.
func (m *Machine) wait(ctx context.Context, ch chan struct{}) error {
	m.mu.Unlock()
	select {
	case <-ch:
	case <-ctx.Done():
		return ctx.Err()
	}
	m.mu.Lock()
	if m.startErr != nil {
		err := m.startErr
		m.mu.Unlock()
		return err
	}
	return nil
}

// Retain adds a reference to an already-live service. The dispatcher calls
// this before decoding a transaction.
func (m *Machine) Retain() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateActive:
		m.refs++
		return nil
	case StateIdle:
		m.cancelIdleLocked()
		m.setStateLocked(StateActive)
		m.refs++
		return nil
	default:
		return ErrNotActive
	}
}

// Release drops a reference. When the count reaches zero the service goes
// Idle and the idle timer starts.
func (m *Machine) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.refs > 0 {
		m.refs--
	}
	m.maybeIdleLocked()
}

func (m *Machine) runStart(done chan struct{}) {
	type result struct {
		inst service.Instance
		err  error
	}

	cfg := m.cfg
	ctx, cancel := context.WithTimeout(context.Background(), cfg.StartTimeout)
	resCh := make(chan result, 1)
	go func() {
		inst, err := m.factory(ctx)
		resCh <- result{inst: inst, err: err}
	}()

	var res result
	select {
	case res = <-resCh:
	case <-time.After(cfg.StartTimeout):
		res = result{err: ErrStartTimeout}
		// A factory that ignores cancellation may still produce an
		// instance later; shut the orphan down.
		go func() {
			if late := <-resCh; late.err == nil && late.inst != nil {
				stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.StopTimeout)
				defer stopCancel()
				_ = late.inst.Shutdown(stopCtx)
			}
		}()
	}
	cancel()

	m.mu.Lock()
	if res.err != nil {
		if errors.Is(res.err, context.DeadlineExceeded) {
			res.err = ErrStartTimeout
		}
		m.startErr = res.err
		m.setStateLocked(StateUnregistered)
		m.log.WithError(res.err).Warn("service start failed")
	} else {
		m.inst = res.inst
		m.setStateLocked(StateActive)
		m.log.Info("service started")
	}
	m.startDone = nil
	close(done)
	if res.err == nil {
		// If every waiter gave up before readiness, make sure the idle
		// clock is running.
		m.maybeIdleLocked()
	}
	m.mu.Unlock()
}

func (m *Machine) maybeIdleLocked() {
	if m.state == StateActive && m.refs == 0 {
		m.setStateLocked(StateIdle)
		m.idleTimer = time.AfterFunc(m.cfg.IdleTimeout, m.idleExpired)
	}
}

func (m *Machine) cancelIdleLocked() {
	if m.idleTimer != nil {
		m.idleTimer.Stop()
		m.idleTimer = nil
	}
}

func (m *Machine) idleExpired() {
	m.mu.Lock()
	// A reference acquired after the timer fired but before this check wins;
	// the increment and this check are serialized on the machine lock.
	if m.state != StateIdle || m.refs != 0 {
		m.mu.Unlock()
		return
	}
	m.idleTimer = nil
	m.setStateLocked(StateShuttingDown)
	m.stopDone = make(chan struct{})
	inst := m.inst
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.StopTimeout)
	if err := inst.Shutdown(ctx); err != nil {
		m.log.WithError(err).Warn("service shutdown reported error")
	}
	cancel()

	m.mu.Lock()
	m.inst = nil
	m.setStateLocked(StateUnregistered)
	stop := m.stopDone
	m.stopDone = nil
	m.mu.Unlock()
	close(stop)

	// Removal happens only after the implementation confirmed its resources
	// are released, closing the dispatch-during-teardown race.
	if m.onRemove != nil {
		m.onRemove(m.name)
	}
	m.log.Info("service unregistered after idle timeout")
}

func (m *Machine) setStateLocked(to State) {
	from := m.state
	if from == to {
		return
	}
	if !CanTransition(from, to) {
		// Machine invariants make this unreachable; a hit means a bug in the
		// state handling itself, so fail loudly instead of corrupting state.
		panic(TransitionError{From: from, To: to})
	}
	m.state = to
	if m.onTransition != nil {
		m.onTransition(m.name, from, to)
	}
}
