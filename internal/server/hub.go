package server

import "sync"

// hub fans messages out to subscribers without ever blocking the publisher.
// A subscriber that falls behind loses its oldest pending message.
type hub struct {
	mu       sync.RWMutex
	subs     map[chan []byte]struct{}
	onChange func(n int)
	done     chan struct{}
	once     sync.Once
}

func newHub(onChange func(n int)) *hub {
	return &hub{
		subs:     make(map[chan []byte]struct{}),
		onChange: onChange,
		done:     make(chan struct{}),
	}
}

// close tells every subscriber to stop.
func (h *hub) close() {
	h.once.Do(func() { close(h.done) })
}

func (h *hub) subscribe(buffer int) chan []byte {
	ch := make(chan []byte, buffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()

	if h.onChange != nil {
		h.onChange(n)
	}
	return ch
}

func (h *hub) unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.subs, ch)
	n := len(h.subs)
	h.mu.Unlock()

	if h.onChange != nil {
		h.onChange(n)
	}
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *hub) publish(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subs {
		select {
		case ch <- msg:
			continue
		default:
		}

		// Full: drop the oldest and retry once
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- msg:
		default:
		}
	}
}
