// Package network abstracts how a party reaches the ordering authority.
// Everything above it speaks to a Caller; whether that is an in-process
// loopback (tests) or a libp2p connection (real deployments) is decided at
// wiring time.
package network

// Caller issues a request/response call against a named service on a
// target node. target is transport-specific (a p2p multiaddr for the
// libp2p provider). args and reply follow net/rpc conventions: args is a
// value, reply a pointer filled in on success.
type Caller interface {
	Call(target string, service string, method string, args interface{}, reply interface{}) error
}
