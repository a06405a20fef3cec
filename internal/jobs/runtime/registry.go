package runtime

import (
	"fmt"
	"sync"

	"github.com/hoferino/manda-platform-sub003/internal/domain/jobs"
)

// Handler runs one pipeline stage. Handlers must be idempotent: a stage may
// run again after a crash, a lost lease, or a manual retry.
type Handler interface {
	Stage() jobs.Stage
	Run(ctx *Context) error
}

type Registry struct {
	mu       sync.RWMutex
	handlers map[jobs.Stage]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[jobs.Stage]Handler)}
}

func (r *Registry) Register(h Handler) error {
	if h == nil {
		return fmt.Errorf("nil handler")
	}
	st := h.Stage()
	if !st.Valid() {
		return fmt.Errorf("handler stage %q is not a pipeline stage", st)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[st]; exists {
		return fmt.Errorf("handler already registered for stage=%s", st)
	}
	r.handlers[st] = h
	return nil
}

func (r *Registry) Get(stage jobs.Stage) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[stage]
	return h, ok
}

// Missing lists pipeline stages without a handler.
func (r *Registry) Missing() []jobs.Stage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []jobs.Stage
	for _, st := range jobs.Stages {
		if _, ok := r.handlers[st]; !ok {
			out = append(out, st)
		}
	}
	return out
}
