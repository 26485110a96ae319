package auth

import (
	"sync"
)

type notification struct {
	event   AuthEvent
	session *Session
}

// ChangeNotifier fans identity change events out to subscribers.
// Events are queued without bound and delivered on a single goroutine,
// so handlers observe them in publish order and never run on the
// publisher's stack.
type ChangeNotifier struct {
	mu       sync.Mutex
	handlers map[uint64]AuthChangeHandler
	nextID   uint64
	queue    []notification
	closed   bool

	signal chan struct{}
	done   chan struct{}
}

// NewChangeNotifier starts the delivery goroutine
func NewChangeNotifier() *ChangeNotifier {
	n := &ChangeNotifier{
		handlers: make(map[uint64]AuthChangeHandler),
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go n.loop()
	return n
}

// Subscribe registers handler until the returned subscription is dropped
func (n *ChangeNotifier) Subscribe(handler AuthChangeHandler) Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	if !n.closed {
		n.handlers[id] = handler
	}

	return &notifierSubscription{notifier: n, id: id}
}

// Publish queues an event. Publishing after Close is a no-op.
func (n *ChangeNotifier) Publish(event AuthEvent, session *Session) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	var copied *Session
	if session != nil {
		s := *session
		copied = &s
	}
	n.queue = append(n.queue, notification{event: event, session: copied})
	n.mu.Unlock()

	select {
	case n.signal <- struct{}{}:
	default:
	}
}

// Close stops delivery. Queued events that were not delivered yet are dropped.
func (n *ChangeNotifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	n.handlers = map[uint64]AuthChangeHandler{}
	n.queue = nil
	n.mu.Unlock()

	close(n.done)
}

func (n *ChangeNotifier) loop() {
	for {
		select {
		case <-n.done:
			return
		case <-n.signal:
		}

		for {
			n.mu.Lock()
			if n.closed || len(n.queue) == 0 {
				n.mu.Unlock()
				break
			}
			next := n.queue[0]
			n.queue = n.queue[1:]
			handlers := make([]AuthChangeHandler, 0, len(n.handlers))
			for id := uint64(0); id < n.nextID; id++ {
				if h, ok := n.handlers[id]; ok {
					handlers = append(handlers, h)
				}
			}
			n.mu.Unlock()

			for _, h := range handlers {
				h(next.event, next.session)
			}
		}
	}
}

func (n *ChangeNotifier) remove(id uint64) {
	n.mu.Lock()
	delete(n.handlers, id)
	n.mu.Unlock()
}

type notifierSubscription struct {
	notifier *ChangeNotifier
	id       uint64
	once     sync.Once
}

func (s *notifierSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.notifier.remove(s.id)
	})
}
