package schedule

// Slots is a non-blocking counting semaphore bounding concurrent dispatches.
// Manual runs triggered out-of-band bypass it on purpose; the service layer
// documents that choice.
type Slots struct {
	sem chan struct{}
}

// NewSlots creates a semaphore with the given capacity. Capacities below one
// are clamped to one so the scheduler can always make progress.
func NewSlots(capacity int) *Slots {
	if capacity < 1 {
		capacity = 1
	}
	return &Slots{sem: make(chan struct{}, capacity)}
}

// TryAcquire claims a slot without blocking. Returns false when full.
func (s *Slots) TryAcquire() bool {
	select {
	case s.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release returns a previously acquired slot. Releasing without a matching
// acquire is a programming error and is ignored.
func (s *Slots) Release() {
	select {
	case <-s.sem:
	default:
	}
}

// InFlight returns the number of currently held slots.
func (s *Slots) InFlight() int {
	return len(s.sem)
}

// Capacity returns the maximum number of concurrent slots.
func (s *Slots) Capacity() int {
	return cap(s.sem)
}

// Available returns the number of free slots.
func (s *Slots) Available() int {
	return cap(s.sem) - len(s.sem)
}
