package seq

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/xerrors"

	"github.com/deckhand-io/deckhand/network"
)

// AuthorityService exposes an Authority over an RPC caller. Methods follow
// net/rpc conventions so they can be registered with the libp2p provider.
type AuthorityService struct {
	Authority *Authority
}

// SubmitArgs carries an operation to sequence.
type SubmitArgs struct {
	Op Op
}

// SubmitReply returns the assigned sequence number.
type SubmitReply struct {
	Seq uint64
}

// Submit sequences the operation and returns its sequence number.
func (s *AuthorityService) Submit(ctx context.Context, args SubmitArgs, reply *SubmitReply) error {
	seq, err := s.Authority.submit(args.Op)
	if err != nil {
		return err
	}
	reply.Seq = seq
	return nil
}

// FetchArgs asks for all deliveries after the given sequence number.
type FetchArgs struct {
	After uint64
}

// FetchReply carries the deliveries, in sequence order.
type FetchReply struct {
	Deliveries []Delivery
}

// Fetch returns the sequenced operations after args.After.
func (s *AuthorityService) Fetch(ctx context.Context, args FetchArgs, reply *FetchReply) error {
	reply.Deliveries = s.Authority.Read(args.After)
	return nil
}

// Remote is a Sequencer backed by an AuthorityService on another node.
// Deliveries are pulled by polling Fetch; overlap between polls is
// harmless because delivery is at-least-once anyway and consumers dedupe
// by sequence number.
type Remote struct {
	caller   network.Caller
	target   string
	interval time.Duration

	out  chan Delivery
	done chan struct{}
	once sync.Once
}

// NewRemote attaches to the authority hosted at target (a multiaddr for
// the libp2p caller) and starts pulling deliveries every interval.
func NewRemote(caller network.Caller, target string, interval time.Duration) *Remote {
	r := &Remote{
		caller:   caller,
		target:   target,
		interval: interval,
		out:      make(chan Delivery, 64),
		done:     make(chan struct{}),
	}
	go r.poll()
	return r
}

func (r *Remote) poll() {
	var next uint64
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			close(r.out)
			return
		case <-ticker.C:
		}
		var reply FetchReply
		err := r.caller.Call(r.target, "AuthorityService", "Fetch", FetchArgs{After: next}, &reply)
		if err != nil {
			log.Debug().Err(err).Str("target", r.target).Msg("fetch from authority failed, will retry")
			continue
		}
		for _, d := range reply.Deliveries {
			select {
			case r.out <- d:
				if d.Seq > next {
					next = d.Seq
				}
			case <-r.done:
				close(r.out)
				return
			}
		}
	}
}

func (r *Remote) Submit(ctx context.Context, op Op) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var reply SubmitReply
	if err := r.caller.Call(r.target, "AuthorityService", "Submit", SubmitArgs{Op: op}, &reply); err != nil {
		return xerrors.Errorf("seq: submitting to remote authority: %w", err)
	}
	return nil
}

func (r *Remote) Deliveries() <-chan Delivery {
	return r.out
}

func (r *Remote) Close() error {
	r.once.Do(func() { close(r.done) })
	return nil
}
