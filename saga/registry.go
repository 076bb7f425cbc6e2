package saga

import (
	"fmt"
	"sync"
)

// Registry maps workflow and activity names to registered handlers.
//
// Registration is type-safe; execution is dynamic (by name from the store).
// The registry is an explicit value passed into the engine, not a process
// global, so tests and multiple engines can hold independent registries.
type Registry struct {
	mu         sync.RWMutex
	workflows  map[string]workflowRunner
	activities map[string]activityRunner
}

func NewRegistry() *Registry {
	return &Registry{
		workflows:  map[string]workflowRunner{},
		activities: map[string]activityRunner{},
	}
}

// RegisterWorkflow registers a workflow definition.
//
// Go does not support type parameters on methods, so this is a package-level
// generic. Panics on duplicate or empty names: registration happens at
// startup and a bad registry is not recoverable.
func RegisterWorkflow[In, Out any](r *Registry, wf *Workflow[In, Out]) {
	if wf == nil {
		panic("saga: workflow is nil")
	}
	if wf.name == "" {
		panic("saga: workflow name is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workflows[wf.name]; ok {
		panic(fmt.Sprintf("saga: workflow already registered: %s", wf.name))
	}
	r.workflows[wf.name] = registeredWorkflow[In, Out]{wf: wf}
}

// RegisterActivity registers an activity definition under its unique name.
func RegisterActivity[In, Out any](r *Registry, act *Activity[In, Out]) {
	if act == nil {
		panic("saga: activity is nil")
	}
	if act.name == "" {
		panic("saga: activity name is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.activities[act.name]; ok {
		panic(fmt.Sprintf("saga: activity already registered: %s", act.name))
	}
	r.activities[act.name] = registeredActivity[In, Out]{act: act}
}

func (r *Registry) workflow(name string) (workflowRunner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	wf, ok := r.workflows[name]
	return wf, ok
}

func (r *Registry) activity(name string) (activityRunner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	act, ok := r.activities[name]
	return act, ok
}

// WorkflowNames returns all registered workflow names.
func (r *Registry) WorkflowNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.workflows))
	for name := range r.workflows {
		names = append(names, name)
	}
	return names
}
