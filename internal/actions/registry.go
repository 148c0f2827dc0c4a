package actions

import (
	"sort"
	"sync"

	"github.com/rendis/autoflow/internal/expressions"
	"github.com/rendis/autoflow/pkg/schema"
)

// Registry is a thread-safe map from action type to Handler.
type Registry struct {
	mu       sync.RWMutex
	handlers map[schema.ActionType]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[schema.ActionType]Handler),
	}
}

// NewDefaultRegistry registers the four built-in action types. CALCULATE
// formulas are evaluated with formulas.
func NewDefaultRegistry(formulas expressions.Engine) *Registry {
	r := NewRegistry()
	for _, h := range []Handler{
		updateValue{},
		setDefault{},
		copyFrom{},
		&calculate{engine: formulas},
	} {
		// Built-in types are distinct; Register cannot fail here.
		_ = r.Register(h)
	}
	return r
}

// Register adds a handler. Returns error on duplicate type.
func (r *Registry) Register(h Handler) error {
	if h == nil {
		return schema.NewError(schema.ErrCodeValidation, "handler is nil")
	}
	typ := h.Type()
	if typ == "" {
		return schema.NewError(schema.ErrCodeValidation, "handler type is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[typ]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "handler for %q already registered", typ)
	}
	r.handlers[typ] = h
	return nil
}

// Get retrieves the handler for an action type.
func (r *Registry) Get(typ schema.ActionType) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[typ]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeActionUnavailable, "action type %q not supported", typ)
	}
	return h, nil
}

// Has checks if a handler is registered for typ.
func (r *Registry) Has(typ schema.ActionType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[typ]
	return ok
}

// List returns info for all registered handlers, sorted by type.
func (r *Registry) List() []HandlerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]HandlerInfo, 0, len(r.handlers))
	for _, h := range r.handlers {
		infos = append(infos, HandlerInfo{Type: h.Type(), Description: h.Description()})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Type < infos[j].Type })
	return infos
}
