package seq

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, s Sequencer, n int) []Delivery {
	t.Helper()
	out := make([]Delivery, 0, n)
	timeout := time.After(5 * time.Second)
	for len(out) < n {
		select {
		case d, ok := <-s.Deliveries():
			require.True(t, ok, "deliveries channel closed early")
			out = append(out, d)
		case <-timeout:
			t.Fatalf("timed out after %d/%d deliveries", len(out), n)
		}
	}
	return out
}

func TestAuthorityAssignsDenseSequence(t *testing.T) {
	a := NewAuthority()
	defer a.Kill()
	s := a.Attach()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Submit(context.Background(), Op{Kind: OpAppend, Value: []byte{byte(i)}}))
	}
	ds := collect(t, s, 5)
	for i, d := range ds {
		require.Equal(t, uint64(i+1), d.Seq)
		require.Equal(t, []byte{byte(i)}, d.Op.Value)
	}
}

func TestAuthorityBroadcastsToAllClientsInOrder(t *testing.T) {
	a := NewAuthority()
	defer a.Kill()

	const parties = 4
	const each = 25
	seqs := make([]Sequencer, parties)
	for i := range seqs {
		seqs[i] = a.Attach()
	}

	errCh := make(chan error, parties*each)
	var wg sync.WaitGroup
	for i, s := range seqs {
		wg.Add(1)
		go func(i int, s Sequencer) {
			defer wg.Done()
			for j := 0; j < each; j++ {
				errCh <- s.Submit(context.Background(), Op{Kind: OpAppend, Value: []byte(fmt.Sprintf("%d-%d", i, j))})
			}
		}(i, s)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	var reference []Delivery
	for i, s := range seqs {
		ds := collect(t, s, parties*each)
		if i == 0 {
			reference = ds
			continue
		}
		require.Equal(t, reference, ds, "party %d diverged", i)
	}
}

func TestAttachMidSessionReplaysHistory(t *testing.T) {
	a := NewAuthority()
	defer a.Kill()
	s1 := a.Attach()
	for i := 0; i < 3; i++ {
		require.NoError(t, s1.Submit(context.Background(), Op{Kind: OpAppend, Value: []byte{byte(i)}}))
	}
	collect(t, s1, 3)

	late := a.Attach()
	require.NoError(t, s1.Submit(context.Background(), Op{Kind: OpClear}))

	ds := collect(t, late, 4)
	for i, d := range ds {
		require.Equal(t, uint64(i+1), d.Seq)
	}
	require.Equal(t, OpClear, ds[3].Op.Kind)
}

func TestDuplicateDeliveryOption(t *testing.T) {
	a := NewAuthority(WithDuplicateEvery(2))
	defer a.Kill()
	s := a.Attach()
	for i := 0; i < 4; i++ {
		require.NoError(t, s.Submit(context.Background(), Op{Kind: OpAppend, Value: []byte{byte(i)}}))
	}
	// 4 ops, every 2nd duplicated: 6 deliveries.
	ds := collect(t, s, 6)
	seen := map[uint64]int{}
	for _, d := range ds {
		seen[d.Seq]++
	}
	require.Equal(t, map[uint64]int{1: 1, 2: 2, 3: 1, 4: 2}, seen)
}

func TestSubmitAfterKill(t *testing.T) {
	a := NewAuthority()
	s := a.Attach()
	a.Kill()
	require.Error(t, s.Submit(context.Background(), Op{Kind: OpAppend}))
}

// loopbackCaller invokes the service directly, standing in for a network
// transport in tests.
type loopbackCaller struct {
	svc *AuthorityService
}

func (c *loopbackCaller) Call(target, service, method string, args interface{}, reply interface{}) error {
	switch method {
	case "Submit":
		return c.svc.Submit(context.Background(), args.(SubmitArgs), reply.(*SubmitReply))
	case "Fetch":
		return c.svc.Fetch(context.Background(), args.(FetchArgs), reply.(*FetchReply))
	default:
		return fmt.Errorf("unknown method %q", method)
	}
}

func TestRemoteSequencerRoundTrip(t *testing.T) {
	a := NewAuthority()
	defer a.Kill()
	svc := &AuthorityService{Authority: a}
	r := NewRemote(&loopbackCaller{svc: svc}, "loopback", 5*time.Millisecond)
	defer r.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, r.Submit(context.Background(), Op{Kind: OpAppend, Value: []byte{byte(i)}}))
	}
	ds := collect(t, r, 3)
	for i, d := range ds {
		require.Equal(t, uint64(i+1), d.Seq)
		require.Equal(t, []byte{byte(i)}, d.Op.Value)
	}
}
