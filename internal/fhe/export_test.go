package fhe

// SetBudget overwrites the noise budget of h's cell.
func SetBudget(s *Store, h Handle, budget int) {
	c, err := s.lookup(h)
	if err != nil {
		panic(err)
	}
	c.mu.Lock()
	c.budget = budget
	c.mu.Unlock()
}

// Refs returns the reference count of h's cell.
func Refs(s *Store, h Handle) int {
	c, err := s.lookup(h)
	if err != nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refs
}
