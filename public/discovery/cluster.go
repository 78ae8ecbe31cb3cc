package discovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/fujin-io/evstore/public/cerr"
	"github.com/fujin-io/evstore/public/client/config"
	"github.com/fujin-io/evstore/public/types"
)

// NodeState is the role a cluster member reports in gossip. Higher is
// preferred.
type NodeState int

const (
	StateInitializing NodeState = iota
	StateUnknown
	StatePreReplica
	StateCatchingUp
	StateClone
	StateSlave
	StatePreMaster
	StateMaster
	StateManager
	StateShuttingDown
	StateShutdown
)

var nodeStates = map[string]NodeState{
	"Initializing": StateInitializing,
	"Unknown":      StateUnknown,
	"PreReplica":   StatePreReplica,
	"CatchingUp":   StateCatchingUp,
	"Clone":        StateClone,
	"Slave":        StateSlave,
	"Follower":     StateSlave,
	"PreMaster":    StatePreMaster,
	"PreLeader":    StatePreMaster,
	"Master":       StateMaster,
	"Leader":       StateMaster,
	"Manager":      StateManager,
	"ShuttingDown": StateShuttingDown,
	"Shutdown":     StateShutdown,
}

func (s *NodeState) UnmarshalJSON(b []byte) error {
	name, err := strconv.Unquote(string(b))
	if err != nil {
		return fmt.Errorf("node state %s: %w", b, err)
	}
	st, ok := nodeStates[name]
	if !ok {
		st = StateUnknown
	}
	*s = st
	return nil
}

// MemberInfo is one entry of the gossip document.
type MemberInfo struct {
	InstanceID            string    `json:"instanceId"`
	State                 NodeState `json:"state"`
	IsAlive               bool      `json:"isAlive"`
	ExternalTCPIP         string    `json:"externalTcpIp"`
	ExternalTCPPort       int       `json:"externalTcpPort"`
	ExternalSecureTCPPort int       `json:"externalSecureTcpPort"`
	ExternalHTTPIP        string    `json:"externalHttpIp"`
	ExternalHTTPPort      int       `json:"externalHttpPort"`
}

func (m MemberInfo) endpoints() types.NodeEndpoints {
	ep := types.NodeEndpoints{TCPEndpoint: net.JoinHostPort(m.ExternalTCPIP, strconv.Itoa(m.ExternalTCPPort))}
	if m.ExternalSecureTCPPort > 0 {
		ep.SecureEndpoint = net.JoinHostPort(m.ExternalTCPIP, strconv.Itoa(m.ExternalSecureTCPPort))
	}
	return ep
}

type gossip struct {
	Members []MemberInfo `json:"members"`
}

// Resolver looks up the gossip seed addresses behind a DNS name.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

type Cluster struct {
	l        *slog.Logger
	settings config.ClusterSettings
	client   *http.Client
	resolver Resolver

	mu sync.Mutex
	// members is the last gossip seen, used to pick candidates on the
	// next discovery instead of the seeds.
	members []MemberInfo
}

type ClusterOption func(*Cluster)

func WithHTTPClient(c *http.Client) ClusterOption {
	return func(d *Cluster) { d.client = c }
}

func WithResolver(r Resolver) ClusterOption {
	return func(d *Cluster) { d.resolver = r }
}

// NewCluster builds a discoverer from settings with defaults applied.
func NewCluster(s config.ClusterSettings, l *slog.Logger, opts ...ClusterOption) *Cluster {
	if l == nil {
		l = slog.New(slog.DiscardHandler)
	}
	d := &Cluster{
		l:        l.With("component", "discovery"),
		settings: s,
		client:   &http.Client{},
		resolver: net.DefaultResolver,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Discover asks gossip candidates for the cluster state until one answers
// with a usable member, up to MaxDiscoverAttempts rounds. failed is
// skipped as a candidate.
func (d *Cluster) Discover(ctx context.Context, failed *types.NodeEndpoints) (types.NodeEndpoints, error) {
	attempts := d.settings.MaxDiscoverAttempts
	for attempt := 1; attempts < 0 || attempt <= attempts; attempt++ {
		ep, err := d.discoverOnce(ctx, failed)
		if err == nil {
			d.l.Info("discovered node", "endpoints", ep.String(), "attempt", attempt)
			return ep, nil
		}
		d.l.Warn("discovery attempt failed", "attempt", attempt, "err", err)

		select {
		case <-ctx.Done():
			return types.NodeEndpoints{}, fmt.Errorf("%w: %w", cerr.ErrClusterDiscoveryFailed, ctx.Err())
		case <-time.After(d.settings.DiscoverDelay):
		}
	}
	return types.NodeEndpoints{}, fmt.Errorf("%w: after %d attempts", cerr.ErrClusterDiscoveryFailed, attempts)
}

func (d *Cluster) discoverOnce(ctx context.Context, failed *types.NodeEndpoints) (types.NodeEndpoints, error) {
	candidates, err := d.candidates(ctx, failed)
	if err != nil {
		return types.NodeEndpoints{}, err
	}
	if len(candidates) == 0 {
		return types.NodeEndpoints{}, errors.New("no gossip candidates")
	}

	for _, addr := range candidates {
		g, err := d.fetch(ctx, addr)
		if err != nil {
			d.l.Debug("gossip request failed", "candidate", addr, "err", err)
			continue
		}
		if len(g.Members) == 0 {
			continue
		}
		best, ok := d.bestNode(g.Members)
		if !ok {
			continue
		}
		d.mu.Lock()
		d.members = g.Members
		d.mu.Unlock()
		return best, nil
	}
	return types.NodeEndpoints{}, errors.New("no candidate returned a usable member")
}

// candidates are http host:port pairs to ask for gossip.
func (d *Cluster) candidates(ctx context.Context, failed *types.NodeEndpoints) ([]string, error) {
	d.mu.Lock()
	members := slices.Clone(d.members)
	d.mu.Unlock()

	if len(members) > 0 {
		return d.candidatesFromMembers(members, failed), nil
	}

	var out []string
	if len(d.settings.GossipSeeds) > 0 {
		out = slices.Clone(d.settings.GossipSeeds)
	} else {
		hosts, err := d.resolver.LookupHost(ctx, d.settings.DNS)
		if err != nil {
			return nil, fmt.Errorf("resolve %q: %w", d.settings.DNS, err)
		}
		for _, h := range hosts {
			out = append(out, net.JoinHostPort(h, strconv.Itoa(d.settings.ExternalGossipPort)))
		}
	}
	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out, nil
}

// candidatesFromMembers puts nodes in random order with managers last and
// the failed node left out.
func (d *Cluster) candidatesFromMembers(members []MemberInfo, failed *types.NodeEndpoints) []string {
	var nodes, managers []string
	for _, m := range members {
		if failed != nil && m.endpoints().TCPEndpoint == failed.TCPEndpoint {
			continue
		}
		addr := net.JoinHostPort(m.ExternalHTTPIP, strconv.Itoa(m.ExternalHTTPPort))
		if m.State == StateManager {
			managers = append(managers, addr)
		} else {
			nodes = append(nodes, addr)
		}
	}
	rand.Shuffle(len(nodes), func(i, j int) { nodes[i], nodes[j] = nodes[j], nodes[i] })
	rand.Shuffle(len(managers), func(i, j int) { managers[i], managers[j] = managers[j], managers[i] })
	return append(nodes, managers...)
}

func (d *Cluster) fetch(ctx context.Context, addr string) (*gossip, error) {
	ctx, cancel := context.WithTimeout(ctx, d.settings.GossipTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/gossip?format=json", nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	var g gossip
	if err := sonic.Unmarshal(body, &g); err != nil {
		return nil, fmt.Errorf("decode gossip: %w", err)
	}
	return &g, nil
}

// bestNode picks the master, or a random eligible member when
// PreferRandomNode is set. Managers and stopping nodes are never chosen.
func (d *Cluster) bestNode(members []MemberInfo) (types.NodeEndpoints, bool) {
	var eligible []MemberInfo
	for _, m := range members {
		if !m.IsAlive || m.State >= StateManager || m.ExternalTCPIP == "" {
			continue
		}
		eligible = append(eligible, m)
	}
	if len(eligible) == 0 {
		return types.NodeEndpoints{}, false
	}

	if d.settings.PreferRandomNode {
		return eligible[rand.IntN(len(eligible))].endpoints(), true
	}
	slices.SortStableFunc(eligible, func(a, b MemberInfo) int { return int(b.State) - int(a.State) })
	return eligible[0].endpoints(), true
}
