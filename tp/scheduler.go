package tp

// Scheduler is the round-robin cursor of one frame pool. It remembers the
// last active connection that produced a request so the next scan starts
// right after it.
type Scheduler struct {
	cursor ActiveID
	size   int
}

// NewScheduler returns a cursor over size active connections whose first
// scan starts at index 0.
func NewScheduler(size int) *Scheduler {
	return &Scheduler{cursor: ActiveID(size - 1), size: size}
}

// Peek returns the last visited connection.
func (s *Scheduler) Peek() ActiveID {
	return s.cursor
}

// Advance moves the cursor to a connection that was served.
func (s *Scheduler) Advance(to ActiveID) {
	s.cursor = to
}

// Visit calls fn once for every index, starting after the cursor and
// wrapping around. It does not move the cursor.
func (s *Scheduler) Visit(fn func(ActiveID)) {
	next := s.cursor
	for i := 0; i < s.size; i++ {
		next++
		if int(next) >= s.size {
			next = 0
		}
		fn(next)
	}
}
