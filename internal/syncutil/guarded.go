package syncutil

// Guarded holds a value of type T behind a Mutex. Readers get a copy, writers
// mutate in place inside the critical section, so T should be a plain value
// type without internal pointers.
type Guarded[T any] struct {
	mu  Mutex
	val T
}

// Load returns a copy of the value.
func (g *Guarded[T]) Load() T {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.val
}

// Update calls fn with a pointer to the value while holding the lock.
func (g *Guarded[T]) Update(fn func(*T)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(&g.val)
}

// Store replaces the value.
func (g *Guarded[T]) Store(v T) {
	g.mu.Lock()
	g.val = v
	g.mu.Unlock()
}
