package connector

import (
	"context"
	"sync"
	"time"

	"github.com/Oversight-Labs/sentra/core/pkg/contracts"
	"github.com/Oversight-Labs/sentra/core/pkg/faults"
)

// TrustLevel categorizes connector trust.
type TrustLevel string

const (
	TrustLevelFull       TrustLevel = "FULL"
	TrustLevelRestricted TrustLevel = "RESTRICTED"
	TrustLevelUntrusted  TrustLevel = "UNTRUSTED"
)

// TrustPolicy bounds what one connector may be asked.
type TrustPolicy struct {
	ConnectorID        string        `json:"connector_id"`
	TrustLevel         TrustLevel    `json:"trust_level"`
	RateLimitPerMinute int           `json:"rate_limit_per_minute"`
	// MaxSnapshotAge bounds directory staleness; zero disables the check.
	MaxSnapshotAge time.Duration `json:"max_snapshot_age"`
}

// Gate enforces trust policies on connector interactions. Calls against
// a connector with no registered policy are denied.
type Gate struct {
	mu       sync.Mutex
	policies map[string]*TrustPolicy
	calls    map[string][]time.Time
	clock    contracts.Clock
}

// NewGate creates an empty gate.
func NewGate(clock contracts.Clock) *Gate {
	if clock == nil {
		clock = time.Now
	}
	return &Gate{
		policies: make(map[string]*TrustPolicy),
		calls:    make(map[string][]time.Time),
		clock:    clock,
	}
}

// SetPolicy registers or replaces the policy for a connector.
func (g *Gate) SetPolicy(policy *TrustPolicy) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.policies[policy.ConnectorID] = policy
}

// CheckCall verifies that one outbound call is permitted and records it
// against the rate window.
func (g *Gate) CheckCall(connectorID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock()
	policy, ok := g.policies[connectorID]
	if !ok {
		return faults.New(faults.PermissionDenied, "no trust policy for connector %s", connectorID).Entity(connectorID)
	}
	if policy.TrustLevel == TrustLevelUntrusted {
		return faults.New(faults.PermissionDenied, "connector %s is untrusted", connectorID).Entity(connectorID)
	}

	if policy.RateLimitPerMinute > 0 {
		cutoff := now.Add(-time.Minute)
		recent := 0
		kept := g.calls[connectorID][:0]
		for _, t := range g.calls[connectorID] {
			if t.After(cutoff) {
				kept = append(kept, t)
				recent++
			}
		}
		g.calls[connectorID] = kept
		if recent >= policy.RateLimitPerMinute {
			return faults.New(faults.TransientExternal, "connector %s rate limit exceeded: %d/min", connectorID, policy.RateLimitPerMinute).Entity(connectorID)
		}
	}

	g.calls[connectorID] = append(g.calls[connectorID], now)
	return nil
}

// CheckFreshness verifies a snapshot age against the connector policy.
func (g *Gate) CheckFreshness(connectorID string, loadedAt time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	policy, ok := g.policies[connectorID]
	if !ok {
		return faults.New(faults.PermissionDenied, "no trust policy for connector %s", connectorID).Entity(connectorID)
	}
	if policy.MaxSnapshotAge <= 0 {
		return nil
	}
	if g.clock().Sub(loadedAt) > policy.MaxSnapshotAge {
		return faults.New(faults.State, "connector %s snapshot is stale", connectorID).Entity(connectorID)
	}
	return nil
}

// GatedProvisioner wraps a provisioner behind the gate so runaway
// sweeps cannot flood the downstream system.
type GatedProvisioner struct {
	ConnectorID string
	Gate        *Gate
	Next        contracts.Provisioner
}

func (p *GatedProvisioner) Provision(ctx context.Context, requestID string, items []contracts.RequestedAccess) (*contracts.ProvisionResult, error) {
	if err := p.Gate.CheckCall(p.ConnectorID); err != nil {
		return nil, err
	}
	return p.Next.Provision(ctx, requestID, items)
}

func (p *GatedProvisioner) Revoke(ctx context.Context, requestID string) (*contracts.ProvisionResult, error) {
	if err := p.Gate.CheckCall(p.ConnectorID); err != nil {
		return nil, err
	}
	return p.Next.Revoke(ctx, requestID)
}
