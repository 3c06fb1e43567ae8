package scheduler

import (
	"sync"
	"time"
)

// timerRegistry maps instance ids to pending tick timers. An entry exists from
// the moment warming is armed until it is cancelled, including while the
// fired tick is still running.
type timerRegistry interface {
	arm(id string, d time.Duration, fn func())
	// rearm replaces the timer of id only if id is still registered.
	rearm(id string, d time.Duration, fn func()) bool
	cancel(id string)
	active(id string) bool
	stopAll()
}

type afterFuncRegistry struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

func newAfterFuncRegistry() *afterFuncRegistry {
	return &afterFuncRegistry{timers: make(map[string]*time.Timer)}
}

func (r *afterFuncRegistry) arm(id string, d time.Duration, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.timers[id]; ok {
		t.Stop()
	}
	r.timers[id] = time.AfterFunc(d, fn)
}

func (r *afterFuncRegistry) rearm(id string, d time.Duration, fn func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.timers[id]
	if !ok {
		return false
	}
	t.Stop()
	r.timers[id] = time.AfterFunc(d, fn)
	return true
}

func (r *afterFuncRegistry) cancel(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.timers[id]; ok {
		t.Stop()
		delete(r.timers, id)
	}
}

func (r *afterFuncRegistry) active(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.timers[id]
	return ok
}

func (r *afterFuncRegistry) stopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}
}
