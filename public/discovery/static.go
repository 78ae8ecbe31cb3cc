// Package discovery resolves the node a client connects to: a fixed
// endpoint, or the best member of a cluster found through gossip.
package discovery

import (
	"context"

	"github.com/fujin-io/evstore/public/types"
)

// Static always returns the same endpoints.
type Static struct {
	Endpoints types.NodeEndpoints
}

func NewStatic(tcpEndpoint, secureEndpoint string) *Static {
	return &Static{Endpoints: types.NodeEndpoints{TCPEndpoint: tcpEndpoint, SecureEndpoint: secureEndpoint}}
}

func (s *Static) Discover(context.Context, *types.NodeEndpoints) (types.NodeEndpoints, error) {
	return s.Endpoints, nil
}
