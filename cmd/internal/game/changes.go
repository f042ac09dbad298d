package game

import "sync"

// Change targets.
const (
	TargetGame     = "game"
	TargetPlayer   = "player"
	TargetOpponent = "opponent"
)

// Change describes one field mutation.
type Change struct {
	Target string
	Field  string
	Value  any
}

// changeBus queues changes and delivers them once no state lock is held, so
// subscribers may read the session from their callback.
type changeBus struct {
	mu       sync.Mutex
	next     uint64
	subs     map[uint64]func(Change)
	order    []uint64
	queue    []Change
	held     int
	flushing bool
}

func newChangeBus() *changeBus {
	return &changeBus{subs: make(map[uint64]func(Change))}
}

func (b *changeBus) subscribe(fn func(Change)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.next++
	id := b.next
	b.subs[id] = fn
	b.order = append(b.order, id)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; !ok {
			return
		}
		delete(b.subs, id)
		for i, v := range b.order {
			if v == id {
				b.order = append(b.order[:i:i], b.order[i+1:]...)
				break
			}
		}
	}
}

func (b *changeBus) publish(c Change) {
	b.mu.Lock()
	b.queue = append(b.queue, c)
	b.mu.Unlock()
}

func (b *changeBus) hold() {
	b.mu.Lock()
	b.held++
	b.mu.Unlock()
}

func (b *changeBus) release() {
	b.mu.Lock()
	b.held--
	b.mu.Unlock()
	b.flush()
}

func (b *changeBus) flush() {
	b.mu.Lock()
	if b.held > 0 || b.flushing {
		b.mu.Unlock()
		return
	}
	b.flushing = true
	for len(b.queue) > 0 {
		batch := b.queue
		b.queue = nil
		fns := make([]func(Change), 0, len(b.order))
		for _, id := range b.order {
			fns = append(fns, b.subs[id])
		}
		b.mu.Unlock()

		for _, c := range batch {
			for _, fn := range fns {
				fn(c)
			}
		}

		b.mu.Lock()
		if b.held > 0 {
			break
		}
	}
	b.flushing = false
	b.mu.Unlock()
}
