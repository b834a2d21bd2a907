package workflow

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds workflow definitions by id. Engines share a registry by
// being constructed with it.
type Registry struct {
	mu          sync.RWMutex
	definitions map[string]*Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{definitions: make(map[string]*Definition)}
}

// Register validates def and adds it. A workflow id can only be registered
// once.
func (r *Registry) Register(def Definition) error {
	if err := validate(&def); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.definitions[def.ID]; exists {
		return fmt.Errorf("workflow %q is already registered", def.ID)
	}
	r.definitions[def.ID] = &def
	return nil
}

// Get returns the definition registered under id.
func (r *Registry) Get(id string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.definitions[id]
	return def, ok
}

// IDs lists registered workflow ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.definitions))
	for id := range r.definitions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func validate(def *Definition) error {
	if def.ID == "" {
		return fmt.Errorf("workflow id is required")
	}
	if len(def.Steps) == 0 {
		return fmt.Errorf("workflow %q has no steps", def.ID)
	}
	if _, ok := def.Steps[def.StartStep]; !ok {
		return fmt.Errorf("workflow %q: start step %q is not defined", def.ID, def.StartStep)
	}

	steps := make(map[string]StepDefinition, len(def.Steps))
	for id, step := range def.Steps {
		if step.ID == "" {
			step.ID = id
		}
		if step.ID != id {
			return fmt.Errorf("workflow %q: step registered as %q has id %q", def.ID, id, step.ID)
		}
		switch step.Type {
		case StepTypeScreen:
			if step.GetScreen == nil {
				return fmt.Errorf("workflow %q: screen step %q has no GetScreen", def.ID, id)
			}
		case StepTypeAction, StepTypeCondition, StepTypeRedirect:
		default:
			return fmt.Errorf("workflow %q: step %q has unknown type %q", def.ID, id, step.Type)
		}
		if step.Next != "" {
			if _, ok := def.Steps[step.Next]; !ok {
				return fmt.Errorf("workflow %q: step %q points to unknown step %q", def.ID, id, step.Next)
			}
		}
		steps[id] = step
	}
	def.Steps = steps

	if def.DefaultContext == nil {
		def.DefaultContext = map[string]any{}
	}
	return nil
}
