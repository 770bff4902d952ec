package state

import (
	"encoding/json"
	"sort"
	"sync"
)

// State is one participant's ephemeral presence record, for example
// {"color": "#a0c4ff", "cursor": {"x": 10, "y": 20}}.
type State map[string]json.RawMessage

func (s State) clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = cloneRaw(v)
	}
	return out
}

// PresenceEvent names the participant whose presence changed.
type PresenceEvent struct {
	Client  string
	Removed bool
}

// Presence is the non-replicated, non-persisted channel carrying cursor
// positions and display colours, keyed by participant id.
type Presence struct {
	mu        sync.Mutex
	local     string
	states    map[string]State
	nextID    int
	observers map[int]func(PresenceEvent)
	onLocal   map[int]func(State)
}

func NewPresence(local string) *Presence {
	return &Presence{
		local:     local,
		states:    map[string]State{local: {}},
		observers: make(map[int]func(PresenceEvent)),
		onLocal:   make(map[int]func(State)),
	}
}

func (p *Presence) LocalID() string {
	return p.local
}

// SetLocalField updates one field of the local state. A nil value is
// stored as JSON null.
func (p *Presence) SetLocalField(field string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	p.mu.Lock()
	s := p.states[p.local].clone()
	s[field] = raw
	p.states[p.local] = s
	snapshot := s.clone()
	observers := sortedHandlers(p.observers)
	locals := sortedHandlers(p.onLocal)
	p.mu.Unlock()

	for _, fn := range locals {
		fn(snapshot)
	}
	for _, fn := range observers {
		fn(PresenceEvent{Client: p.local})
	}
	return nil
}

// LocalState returns a copy of the local state.
func (p *Presence) LocalState() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.states[p.local].clone()
}

// GetAllStates returns a copy of every known state, the local one included.
func (p *Presence) GetAllStates() map[string]State {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]State, len(p.states))
	for k, s := range p.states {
		out[k] = s.clone()
	}
	return out
}

// Clients returns the ids of every known participant in sorted order.
func (p *Presence) Clients() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.states))
	for id := range p.states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ApplyRemote replaces the state of another participant.
func (p *Presence) ApplyRemote(client string, s State) {
	if client == p.local {
		return
	}
	p.mu.Lock()
	p.states[client] = s.clone()
	observers := sortedHandlers(p.observers)
	p.mu.Unlock()
	for _, fn := range observers {
		fn(PresenceEvent{Client: client})
	}
}

// Remove forgets a participant that left.
func (p *Presence) Remove(client string) {
	if client == p.local {
		return
	}
	p.mu.Lock()
	_, ok := p.states[client]
	delete(p.states, client)
	observers := sortedHandlers(p.observers)
	p.mu.Unlock()
	if !ok {
		return
	}
	for _, fn := range observers {
		fn(PresenceEvent{Client: client, Removed: true})
	}
}

// Observe registers fn for every presence change, local or remote.
func (p *Presence) Observe(fn func(PresenceEvent)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.observers[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.observers, id)
	}
}

// OnLocalChange registers fn for changes of the local state only. The
// transport uses it to publish the state.
func (p *Presence) OnLocalChange(fn func(State)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.onLocal[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.onLocal, id)
	}
}
