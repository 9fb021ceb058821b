package expressions

import "sync"

// programCache memoizes compiled programs keyed by expression source.
// Workflows re-evaluate the same expressions on every execution, so hits
// dominate; compilation happens at most once per expression.
type programCache[P any] struct {
	mu       sync.RWMutex
	programs map[string]P
}

func newProgramCache[P any]() *programCache[P] {
	return &programCache[P]{programs: make(map[string]P)}
}

// get returns the cached program for expression, compiling on first use.
// Concurrent first callers serialize on the write lock; the loser of the
// race reuses the winner's program.
func (c *programCache[P]) get(expression string, compile func(string) (P, error)) (P, error) {
	c.mu.RLock()
	p, ok := c.programs[expression]
	c.mu.RUnlock()
	if ok {
		return p, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.programs[expression]; ok {
		return p, nil
	}

	p, err := compile(expression)
	if err != nil {
		var zero P
		return zero, err
	}
	c.programs[expression] = p
	return p, nil
}

func (c *programCache[P]) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.programs)
}
