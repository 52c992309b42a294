package relay

import "sync"

// Board keeps the pairing currently waiting for a scan so an API or CLI can display it.
type Board struct {
	mu      sync.RWMutex
	current *Pairing
	notify  func(Pairing)
}

// NewBoard creates a board. onShow, when set, is called for every new pairing.
func NewBoard(onShow func(Pairing)) *Board {
	return &Board{notify: onShow}
}

func (b *Board) ShowPairing(p Pairing) {
	b.mu.Lock()
	b.current = &p
	b.mu.Unlock()
	if b.notify != nil {
		b.notify(p)
	}
}

func (b *Board) ClearPairing(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current != nil && b.current.Topic == topic {
		b.current = nil
	}
}

// Current returns the pending pairing, if any.
func (b *Board) Current() (Pairing, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.current == nil {
		return Pairing{}, false
	}
	return *b.current, true
}
