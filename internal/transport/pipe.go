package transport

import (
	"sync"

	"github.com/google/uuid"
)

// PipeEndpoint is one side of an in-memory endpoint pair created by Pipe.
// Frames sent on one side are received, in order, on the other.
type PipeEndpoint struct {
	id     string
	events chan Event
	peer   *PipeEndpoint

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	ended  bool // terminal event queued
	closed bool // Close or Fail called locally
}

// Pipe returns two connected in-memory endpoints. Closing either side delivers
// EventClose to both.
func Pipe() (*PipeEndpoint, *PipeEndpoint) {
	a := newPipeEndpoint()
	b := newPipeEndpoint()
	a.peer = b
	b.peer = a

	a.push(Event{Kind: EventOpen})
	b.push(Event{Kind: EventOpen})

	go a.pump()
	go b.pump()

	return a, b
}

func newPipeEndpoint() *PipeEndpoint {
	p := &PipeEndpoint{
		id:     uuid.New().String(),
		events: make(chan Event),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *PipeEndpoint) ID() string {
	return p.id
}

func (p *PipeEndpoint) Events() <-chan Event {
	return p.events
}

func (p *PipeEndpoint) Send(frame string) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrEndpointClosed
	}

	if !p.peer.push(Event{Kind: EventMessage, Data: frame}) {
		return ErrEndpointClosed
	}
	return nil
}

func (p *PipeEndpoint) Close() error {
	if !p.markClosed() {
		return nil
	}
	p.push(Event{Kind: EventClose})
	p.peer.push(Event{Kind: EventClose})
	return nil
}

// Fail simulates a transport fault: this side observes EventError with err and
// the other side observes EventClose.
func (p *PipeEndpoint) Fail(err error) {
	if !p.markClosed() {
		return
	}
	p.push(Event{Kind: EventError, Err: err})
	p.peer.push(Event{Kind: EventClose})
}

// Closed reports whether Close or Fail has been called on this side, or the
// other side has gone away.
func (p *PipeEndpoint) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed || p.ended
}

func (p *PipeEndpoint) markClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.closed = true
	return true
}

// push queues an event for this side. Returns false once the terminal event has been queued.
func (p *PipeEndpoint) push(ev Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ended {
		return false
	}
	p.queue = append(p.queue, ev)
	if ev.Kind.Terminal() {
		p.ended = true
	}
	p.cond.Signal()
	return true
}

// pump moves queued events onto the events channel so senders never block on a slow consumer.
func (p *PipeEndpoint) pump() {
	defer close(p.events)

	for {
		p.mu.Lock()
		for len(p.queue) == 0 {
			p.cond.Wait()
		}
		ev := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.events <- ev
		if ev.Kind.Terminal() {
			return
		}
	}
}
