package core

import "sync"

// notifier fans states out to observers in version order.
//
// Deliveries are sequential. A publish that arrives while another goroutine
// (or an observer on this goroutine) is delivering only records its state;
// the delivering call picks up the newest recorded state before returning.
// Intermediate states may therefore be skipped but never reordered.
type notifier[S any] struct {
	mu         sync.Mutex
	observers  []observer[S]
	nextID     int
	delivering bool
	pending    bool
	pendingVer int64
	pendingVal S
	delivered  int64
}

type observer[S any] struct {
	id int
	fn func(S)
}

func newNotifier[S any]() *notifier[S] {
	return &notifier[S]{}
}

func (n *notifier[S]) subscribe(fn func(S)) func() {
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.observers = append(n.observers, observer[S]{id: id, fn: fn})
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			for i, o := range n.observers {
				if o.id == id {
					n.observers = append(n.observers[:i:i], n.observers[i+1:]...)
					return
				}
			}
		})
	}
}

func (n *notifier[S]) publish(version int64, state S) {
	n.mu.Lock()
	if version <= n.delivered || (n.pending && version <= n.pendingVer) {
		n.mu.Unlock()
		return
	}
	n.pending = true
	n.pendingVer = version
	n.pendingVal = state
	if n.delivering {
		n.mu.Unlock()
		return
	}
	n.delivering = true

	for n.pending {
		version, state := n.pendingVer, n.pendingVal
		n.pending = false
		n.delivered = version
		observers := n.observers
		n.mu.Unlock()

		for _, o := range observers {
			o.fn(state)
		}

		n.mu.Lock()
	}
	n.delivering = false
	n.mu.Unlock()
}

func (n *notifier[S]) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.observers)
}
