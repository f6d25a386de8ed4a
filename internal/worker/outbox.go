package worker

import "sync"

// outbox is an unbounded FIFO pumped into a channel, so producers never wait
// for the consumer.
type outbox struct {
	events chan Event

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []Event
	closed  bool
	drained chan struct{}
}

func newOutbox() *outbox {
	o := &outbox{
		events:  make(chan Event),
		drained: make(chan struct{}),
	}
	o.cond = sync.NewCond(&o.mu)
	go o.pump()
	return o
}

func (o *outbox) push(e Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.queue = append(o.queue, e)
	o.cond.Signal()
}

// close stops accepting events; queued ones are still delivered before the
// channel is closed. It waits for delivery to finish.
func (o *outbox) close() {
	o.mu.Lock()
	if !o.closed {
		o.closed = true
		o.cond.Signal()
	}
	o.mu.Unlock()
	<-o.drained
}

func (o *outbox) pump() {
	defer close(o.drained)
	defer close(o.events)
	for {
		o.mu.Lock()
		for len(o.queue) == 0 && !o.closed {
			o.cond.Wait()
		}
		if len(o.queue) == 0 {
			o.mu.Unlock()
			return
		}
		e := o.queue[0]
		o.queue[0] = Event{}
		o.queue = o.queue[1:]
		o.mu.Unlock()

		o.events <- e
	}
}
