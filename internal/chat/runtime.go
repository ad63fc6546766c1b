package chat

import (
	"fmt"
	"sync"
)

// Slot names the two process-global engine roles. Only one of the two
// may be live at a time: swapping roles tears the other down first so a
// device-backed engine releases its memory before the next one loads.
type Slot string

const (
	SlotPrimary Slot = "primary"
	SlotJudge   Slot = "judge"
)

// Runtime owns the process-global engines. Single-writer: the
// orchestrator drives it sequentially; the mutex only guards against
// teardown racing a signal handler.
type Runtime struct {
	mu      sync.Mutex
	current Slot
	engine  Engine
}

func NewRuntime() *Runtime { return &Runtime{} }

// Activate installs the engine built by construct into the given slot,
// tearing down whatever currently occupies the other slot. construct is
// only called after the previous engine is fully closed.
func (r *Runtime) Activate(slot Slot, construct func() (Engine, error)) (Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.engine != nil && r.current == slot {
		return r.engine, nil
	}
	if r.engine != nil {
		if err := r.engine.Close(); err != nil {
			return nil, fmt.Errorf("teardown %s engine: %w", r.current, err)
		}
		r.engine = nil
	}
	eng, err := construct()
	if err != nil {
		return nil, err
	}
	r.engine = eng
	r.current = slot
	return eng, nil
}

// Current returns the live engine, or nil.
func (r *Runtime) Current() Engine {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.engine
}

// Shutdown closes the live engine. Safe to call multiple times and from
// deferred paths.
func (r *Runtime) Shutdown() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.engine == nil {
		return nil
	}
	err := r.engine.Close()
	r.engine = nil
	return err
}
