package expressions

import (
	"sync"

	"github.com/rendis/autoflow/pkg/schema"
)

// programCache memoizes compiled formulas by source text. Compiled programs
// of all three engines are safe to run from many goroutines.
type programCache[P any] struct {
	mu       sync.RWMutex
	programs map[string]P
}

func newProgramCache[P any]() *programCache[P] {
	return &programCache[P]{programs: make(map[string]P)}
}

// load returns the cached program for src, compiling it on first use.
// Compile failures are not cached.
func (c *programCache[P]) load(src string, compile func(string) (P, error)) (P, error) {
	c.mu.RLock()
	p, ok := c.programs[src]
	c.mu.RUnlock()
	if ok {
		return p, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.programs[src]; ok {
		return p, nil
	}
	p, err := compile(src)
	if err != nil {
		return p, err
	}
	c.programs[src] = p
	return p, nil
}

func (c *programCache[P]) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.programs)
}

// compileError wraps an engine's parse or type error for formula.
func compileError(engine, formula string, err error) error {
	return schema.NewErrorf(schema.ErrCodeCompile, "%s compile error in %q: %s", engine, formula, err.Error()).
		WithCause(err).
		WithDetails(map[string]any{"expression": formula})
}

// evalError wraps a runtime failure of formula.
func evalError(engine, formula string, err error) error {
	return schema.NewErrorf(schema.ErrCodeExecution, "%s evaluation failed for %q: %s", engine, formula, err.Error()).
		WithCause(err).
		WithDetails(map[string]any{"expression": formula})
}
