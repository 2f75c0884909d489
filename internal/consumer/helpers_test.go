package consumer

import (
	"sync"
	"time"

	"wisefido-vitals/internal/events"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) TrySend(evt events.Event, _ string, _ time.Duration) bool {
	p.mu.Lock()
	p.events = append(p.events, evt)
	p.mu.Unlock()
	return true
}

func (p *recordingPublisher) all() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Event(nil), p.events...)
}

func (p *recordingPublisher) updates() []events.SensorUpdate {
	var out []events.SensorUpdate
	for _, e := range p.all() {
		if u, ok := e.(events.SensorUpdate); ok {
			out = append(out, u)
		}
	}
	return out
}

func (p *recordingPublisher) statuses() []events.ConnectionStatus {
	var out []events.ConnectionStatus
	for _, e := range p.all() {
		if s, ok := e.(events.ConnectionStatus); ok {
			out = append(out, s)
		}
	}
	return out
}

func (p *recordingPublisher) panels() []events.AlarmPanelState {
	var out []events.AlarmPanelState
	for _, e := range p.all() {
		if s, ok := e.(events.AlarmPanelState); ok {
			out = append(out, s)
		}
	}
	return out
}
