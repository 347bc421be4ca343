package seq

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/xerrors"
)

// Authority is an in-process ordering authority. Every submitted operation
// is committed immediately and broadcast, in sequence order, to all
// attached sequencers, including one attached after the fact, which first
// receives the whole history (resync support).
//
// Each attached client gets its own unbounded queue and pump goroutine, so
// a slow consumer never blocks the authority or the other parties.
type Authority struct {
	mu      sync.Mutex
	ops     []Op
	clients map[int]*client
	nextID  int
	killed  bool

	// duplicateEvery > 0 redelivers every n-th operation a second time,
	// exercising the consumers' at-least-once handling in tests.
	duplicateEvery int
}

// AuthorityOption configures an Authority.
type AuthorityOption func(*Authority)

// WithDuplicateEvery makes the authority deliver every n-th operation
// twice. Delivery is only promised at-least-once, so consumers must cope;
// this option lets tests prove they do.
func WithDuplicateEvery(n int) AuthorityOption {
	return func(a *Authority) { a.duplicateEvery = n }
}

// NewAuthority creates an authority with an empty session.
func NewAuthority(opts ...AuthorityOption) *Authority {
	a := &Authority{clients: make(map[int]*client)}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Attach joins the session and returns the party's sequencer handle. The
// full session history is delivered first, before anything submitted after
// the attach.
func (a *Authority) Attach() Sequencer {
	a.mu.Lock()
	defer a.mu.Unlock()
	c := newClient(a, a.nextID)
	a.nextID++
	a.clients[c.id] = c
	for i, op := range a.ops {
		c.enqueue(Delivery{Seq: uint64(i + 1), Op: op})
	}
	return c
}

// Read returns all sequenced operations with sequence number greater than
// after. It backs the polling RPC surface.
func (a *Authority) Read(after uint64) []Delivery {
	a.mu.Lock()
	defer a.mu.Unlock()
	if after >= uint64(len(a.ops)) {
		return nil
	}
	out := make([]Delivery, 0, uint64(len(a.ops))-after)
	for i := int(after); i < len(a.ops); i++ {
		out = append(out, Delivery{Seq: uint64(i + 1), Op: a.ops[i]})
	}
	return out
}

// submit sequences op and broadcasts it. It returns the assigned sequence
// number.
func (a *Authority) submit(op Op) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.killed {
		return 0, xerrors.New("seq: authority is shut down")
	}
	a.ops = append(a.ops, op)
	d := Delivery{Seq: uint64(len(a.ops)), Op: op}
	for _, c := range a.clients {
		c.enqueue(d)
		if a.duplicateEvery > 0 && d.Seq%uint64(a.duplicateEvery) == 0 {
			c.enqueue(d)
		}
	}
	return d.Seq, nil
}

func (a *Authority) detach(id int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.clients, id)
}

// Kill closes all attached sequencers and refuses further submissions.
func (a *Authority) Kill() {
	a.mu.Lock()
	clients := make([]*client, 0, len(a.clients))
	for _, c := range a.clients {
		clients = append(clients, c)
	}
	a.killed = true
	a.mu.Unlock()
	for _, c := range clients {
		_ = c.Close()
	}
}

// client is the authority-side half of an attached sequencer.
type client struct {
	a  *Authority
	id int

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Delivery
	closed bool

	out chan Delivery
}

func newClient(a *Authority, id int) *client {
	c := &client{a: a, id: id, out: make(chan Delivery, 64)}
	c.cond = sync.NewCond(&c.mu)
	go c.pump()
	return c
}

func (c *client) enqueue(d Delivery) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.queue = append(c.queue, d)
	c.cond.Signal()
}

// pump moves deliveries from the queue to the out channel. Sending from a
// single goroutine per client is what upholds the ordering guarantee; a
// goroutine-per-message broadcast could reorder.
func (c *client) pump() {
	for {
		c.mu.Lock()
		for len(c.queue) == 0 && !c.closed {
			c.cond.Wait()
		}
		if c.closed && len(c.queue) == 0 {
			c.mu.Unlock()
			close(c.out)
			return
		}
		d := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()
		c.out <- d
	}
}

func (c *client) Submit(ctx context.Context, op Op) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	seq, err := c.a.submit(op)
	if err != nil {
		return err
	}
	log.Debug().Uint64("seq", seq).Int("client", c.id).Msg("operation sequenced")
	return nil
}

func (c *client) Deliveries() <-chan Delivery {
	return c.out
}

func (c *client) Close() error {
	c.a.detach(c.id)
	c.mu.Lock()
	c.closed = true
	c.cond.Signal()
	c.mu.Unlock()
	return nil
}
