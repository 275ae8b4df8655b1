package checker

// LockEntries reports how many account lock entries are held in memory.
func (c *Checker) LockEntries() int {
	c.locks.mu.Lock()
	defer c.locks.mu.Unlock()
	return len(c.locks.locks)
}
