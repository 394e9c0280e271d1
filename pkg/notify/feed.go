// Package notify holds the channel based subscription primitive shared by
// every notification source (row changes and broadcast signals).
package notify

import (
	"errors"
	"sync"

	"vapor-chat/pkg/model"
)

var (
	// ErrClosed is reported when the producer shut the subscription down
	ErrClosed = errors.New("subscription closed")
	// ErrTimeout is reported when the producer gave up waiting on its transport
	ErrTimeout = errors.New("subscription timed out")
	// ErrSlowConsumer is reported when the consumer let the buffer fill up
	ErrSlowConsumer = errors.New("subscriber fell behind")
)

// Event is a single notification; exactly one of Change or Signal is set.
type Event struct {
	Change *model.RowChange
	Signal *model.BroadcastEvent
}

// Feed is the consumer side of a subscription.
//
// Ready is closed once the transport acknowledged the subscription. Done is
// closed when the subscription ended for any reason, after which Err tells why.
// Events is never closed; consumers select on Done alongside it.
type Feed interface {
	Ready() <-chan struct{}
	Events() <-chan Event
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Pipe is the producer side of a Feed.
type Pipe struct {
	events chan Event
	ready  chan struct{}
	done   chan struct{}

	readyOnce sync.Once
	doneOnce  sync.Once

	mu      sync.Mutex
	err     error
	onClose func()
}

var _ Feed = (*Pipe)(nil)

// NewPipe creates a pipe buffering up to buffer events. onClose runs once,
// when the pipe ends, so producers can drop their reference to it.
func NewPipe(buffer int, onClose func()) *Pipe {
	if buffer <= 0 {
		buffer = 1
	}
	return &Pipe{
		events:  make(chan Event, buffer),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
		onClose: onClose,
	}
}

func (p *Pipe) Ready() <-chan struct{} { return p.ready }
func (p *Pipe) Events() <-chan Event   { return p.events }
func (p *Pipe) Done() <-chan struct{}  { return p.done }

func (p *Pipe) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// MarkReady signals that the transport acknowledged the subscription.
func (p *Pipe) MarkReady() {
	p.readyOnce.Do(func() { close(p.ready) })
}

// Send enqueues an event without blocking. A full buffer ends the
// subscription with ErrSlowConsumer since dropping a notification silently
// would leave the consumer diverged.
func (p *Pipe) Send(ev Event) bool {
	select {
	case <-p.done:
		return false
	default:
	}

	select {
	case p.events <- ev:
		return true
	default:
		p.Fail(ErrSlowConsumer)
		return false
	}
}

// Fail ends the subscription with err. Only the first call has an effect.
func (p *Pipe) Fail(err error) {
	p.doneOnce.Do(func() {
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.done)
		if p.onClose != nil {
			p.onClose()
		}
	})
}

// Close ends the subscription from the consumer side.
func (p *Pipe) Close() error {
	p.Fail(ErrClosed)
	return nil
}
