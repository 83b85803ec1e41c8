package cache

import "sync"

// PendingTable tracks the single in-flight dispatch for each key so that
// a second caller for the same key attaches instead of dispatching again.
type PendingTable struct {
	mu      sync.Mutex
	flights map[string]*Flight
}

func NewPendingTable() *PendingTable {
	return &PendingTable{flights: make(map[string]*Flight)}
}

func (p *PendingTable) Get(key Key) (*Flight, bool) {
	if p == nil {
		return nil, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	flight, ok := p.flights[key.String()]
	return flight, ok
}

func (p *PendingTable) Set(key Key, flight *Flight) {
	if p == nil || flight == nil {
		return
	}
	p.mu.Lock()
	p.flights[key.String()] = flight
	p.mu.Unlock()
}

// Remove drops the entry for key only if it still points at flight.
func (p *PendingTable) Remove(key Key, flight *Flight) {
	if p == nil {
		return
	}
	index := key.String()
	p.mu.Lock()
	if current, exists := p.flights[index]; exists && current == flight {
		delete(p.flights, index)
	}
	p.mu.Unlock()
}

func (p *PendingTable) Len() int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.flights)
}
