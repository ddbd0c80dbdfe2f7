package pipeline

import "sync"

const subscriberBuffer = 16

// hub fans status updates out to per-video subscribers. Slow subscribers drop
// updates instead of blocking the run; the persisted entity remains the
// source of truth.
type hub struct {
	mu   sync.Mutex
	subs map[string]map[chan StatusUpdate]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[string]map[chan StatusUpdate]struct{})}
}

func (h *hub) subscribe(id string) (<-chan StatusUpdate, func()) {
	ch := make(chan StatusUpdate, subscriberBuffer)
	h.mu.Lock()
	if h.subs[id] == nil {
		h.subs[id] = make(map[chan StatusUpdate]struct{})
	}
	h.subs[id][ch] = struct{}{}
	h.mu.Unlock()

	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if set, ok := h.subs[id]; ok {
			if _, ok := set[ch]; ok {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(h.subs, id)
			}
		}
	}
	return ch, unsubscribe
}

func (h *hub) publish(u StatusUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[u.VideoID] {
		select {
		case ch <- u:
		default:
		}
	}
}
