package capture

import "sync"

// subscriberBuffer is the per-subscriber queue length. Slow subscribers
// miss events rather than stall the controller.
const subscriberBuffer = 64

type notifier struct {
	mu      sync.RWMutex
	clients map[chan Event]struct{}
	closed  bool
}

func newNotifier() *notifier {
	return &notifier{clients: make(map[chan Event]struct{})}
}

func (n *notifier) subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	n.clients[ch] = struct{}{}
	n.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			if _, ok := n.clients[ch]; ok {
				delete(n.clients, ch)
				close(ch)
			}
		})
	}
	return ch, unsub
}

func (n *notifier) publish(evt Event) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for ch := range n.clients {
		select {
		case ch <- evt:
		default:
			// subscriber full, drop
		}
	}
}

// close ends every subscription.
func (n *notifier) close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	for ch := range n.clients {
		close(ch)
		delete(n.clients, ch)
	}
}
