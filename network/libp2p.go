package network

import (
	"context"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p-core/host"
	"github.com/libp2p/go-libp2p-core/peer"
	gorpc "github.com/libp2p/go-libp2p-gorpc"
	"github.com/multiformats/go-multiaddr"
	"github.com/rs/zerolog/log"
	"golang.org/x/xerrors"
)

const rpcProtocolID = "/p2p/rpc/deckhand"

// Libp2pProvider implements Caller over a libp2p host, with go-libp2p-gorpc
// carrying the request/response pairs. The same provider can also host
// services for remote parties to call.
type Libp2pProvider struct {
	Host   host.Host
	client *gorpc.Client
	server *gorpc.Server
}

// NewLibp2p creates a provider listening on the given multiaddr string,
// e.g. "/ip4/0.0.0.0/tcp/9000".
func NewLibp2p(ctx context.Context, listenAddr string) (*Libp2pProvider, error) {
	h, err := libp2p.New(ctx, libp2p.ListenAddrStrings(listenAddr))
	if err != nil {
		return nil, xerrors.Errorf("network: creating libp2p host: %w", err)
	}
	p := &Libp2pProvider{Host: h}
	p.server = gorpc.NewServer(h, rpcProtocolID)
	p.client = gorpc.NewClientWithServer(h, rpcProtocolID, p.server)
	return p, nil
}

// Register exposes a service to remote callers, following net/rpc method
// conventions (the service is addressed by its concrete type name).
func (p *Libp2pProvider) Register(rcvr interface{}) error {
	return p.server.Register(rcvr)
}

// Addrs returns the dialable multiaddrs of this host, including the /p2p/
// peer component.
func (p *Libp2pProvider) Addrs() []string {
	var out []string
	for _, a := range p.Host.Addrs() {
		out = append(out, a.String()+"/p2p/"+p.Host.ID().Pretty())
	}
	return out
}

// Call dials the target multiaddr if needed and performs the RPC.
func (p *Libp2pProvider) Call(target string, service string, method string, args interface{}, reply interface{}) error {
	ma, err := multiaddr.NewMultiaddr(target)
	if err != nil {
		return xerrors.Errorf("network: parsing target %q: %w", target, err)
	}
	info, err := peer.AddrInfoFromP2pAddr(ma)
	if err != nil {
		return xerrors.Errorf("network: extracting peer info from %q: %w", target, err)
	}
	if info.ID != p.Host.ID() {
		if err := p.Host.Connect(context.Background(), *info); err != nil {
			log.Debug().Err(err).Str("target", target).Msg("connect failed")
			return xerrors.Errorf("network: connecting to %q: %w", target, err)
		}
	}
	if err := p.client.Call(info.ID, service, method, args, reply); err != nil {
		return xerrors.Errorf("network: calling %s.%s on %q: %w", service, method, target, err)
	}
	return nil
}

// Close shuts the underlying host down.
func (p *Libp2pProvider) Close() error {
	return p.Host.Close()
}
