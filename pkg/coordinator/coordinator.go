// Package coordinator owns the access-request registry and is the only
// component that mutates an AccessRequest. State changes are serialized
// per request id; external I/O (entitlement source, notifier,
// provisioner, persistence) happens outside the per-request critical
// section wherever the transition allows it.
package coordinator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Oversight-Labs/sentra/core/pkg/audit"
	"github.com/Oversight-Labs/sentra/core/pkg/contracts"
	"github.com/Oversight-Labs/sentra/core/pkg/faults"
	"github.com/Oversight-Labs/sentra/core/pkg/ruleengine"
	"github.com/Oversight-Labs/sentra/core/pkg/util/resiliency"
	"github.com/Oversight-Labs/sentra/core/pkg/workflow"
)

// Catalog resolves a requestable access id to its catalog entry,
// including the entitlement expansion used for risk simulation.
type Catalog interface {
	Lookup(ctx context.Context, accessID string) (*contracts.RequestedAccess, error)
}

// Config tunes coordinator behavior.
type Config struct {
	MinJustificationLen int
	// AutoApproveLowRisk approves submitted requests with a low risk
	// level and no SoD violations without human steps.
	AutoApproveLowRisk bool
	MaxTemporaryDays   int
	ProvisionRetry     resiliency.RetryConfig
	// AsyncProvisioning runs provisioning in a background goroutine
	// after terminal approval. Tests disable it.
	AsyncProvisioning bool
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MinJustificationLen: 20,
		AutoApproveLowRisk:  true,
		MaxTemporaryDays:    90,
		ProvisionRetry:      resiliency.DefaultRetryConfig(),
		AsyncProvisioning:   true,
	}
}

// Deps are the injected collaborators. Everything external is an
// interface so test doubles replace each.
type Deps struct {
	Rules       *ruleengine.Engine
	Planner     *workflow.Planner
	Source      contracts.EntitlementSource
	Resolver    contracts.UserResolver
	Catalog     Catalog
	Notifier    contracts.Notifier
	Provisioner contracts.Provisioner
	Persistence contracts.Persistence
	Audit       audit.Logger
	Clock       contracts.Clock
	Logger      *slog.Logger
}

type entry struct {
	mu  sync.Mutex
	req *contracts.AccessRequest
}

// Coordinator drives access requests end to end.
type Coordinator struct {
	cfg       Config
	deps      Deps
	machine   *workflow.Machine
	previewer *workflow.Previewer
	sweeper   *workflow.Sweeper
	retrier   *resiliency.Retrier

	mu       sync.RWMutex
	registry map[string]*entry

	// reminded de-duplicates expiry notifications per request per day.
	remindMu sync.Mutex
	reminded map[string]time.Time
}

// New wires a coordinator. Clock and Logger default when nil; Audit
// defaults to a no-op.
func New(cfg Config, deps Deps) *Coordinator {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Audit == nil {
		deps.Audit = audit.Nop{}
	}
	machine := workflow.NewMachine(deps.Clock, deps.Logger)
	return &Coordinator{
		cfg:       cfg,
		deps:      deps,
		machine:   machine,
		previewer: workflow.NewPreviewer(deps.Rules),
		sweeper: workflow.NewSweeper(machine, deps.Resolver, workflow.DefaultSweepConfig(),
			deps.Clock, deps.Logger),
		retrier: resiliency.NewRetrier(cfg.ProvisionRetry,
			resiliency.NewCircuitBreaker("provisioner", 5, 30*time.Second)),
		registry: make(map[string]*entry),
		reminded: make(map[string]time.Time),
	}
}

// CreateInput is the caller's request description.
type CreateInput struct {
	Type          contracts.RequestType
	RequesterID   string
	TargetUserID  string
	AccessIDs     []string
	Justification string
	IsTemporary   bool
	EndDate       *time.Time
}

// CreateRequest validates the input, expands the catalog items, and
// registers a Draft request.
func (c *Coordinator) CreateRequest(ctx context.Context, in *CreateInput) (*contracts.AccessRequest, error) {
	if in.RequesterID == "" || in.TargetUserID == "" {
		return nil, faults.New(faults.Validation, "requester and target are required")
	}
	if len(in.AccessIDs) == 0 {
		return nil, faults.New(faults.Validation, "request has no access items")
	}
	if n := len(strings.TrimSpace(in.Justification)); n < c.cfg.MinJustificationLen {
		return nil, faults.New(faults.Validation,
			"justification too short: %d characters, minimum %d", n, c.cfg.MinJustificationLen)
	}
	now := c.deps.Clock()
	if in.IsTemporary {
		if in.EndDate == nil {
			return nil, faults.New(faults.Validation, "temporary request needs an end date")
		}
		if limit := c.cfg.MaxTemporaryDays; limit > 0 && in.EndDate.After(now.AddDate(0, 0, limit)) {
			return nil, faults.New(faults.Validation, "end date exceeds the %d day maximum", limit)
		}
	}

	items := make([]contracts.RequestedAccess, 0, len(in.AccessIDs))
	for _, id := range in.AccessIDs {
		item, err := c.deps.Catalog.Lookup(ctx, id)
		if err != nil {
			if faults.IsKind(err, faults.NotFound) {
				return nil, faults.New(faults.Validation, "unknown access id %q", id)
			}
			return nil, faults.Wrap(faults.TransientExternal, err, "catalog lookup for %q failed", id)
		}
		items = append(items, *item)
	}

	if in.Type == contracts.RequestTypeFirefighter {
		if err := c.checkFirefighters(ctx, items); err != nil {
			return nil, err
		}
	}

	req := &contracts.AccessRequest{
		RequestID:        uuid.New().String(),
		Type:             in.Type,
		Status:           contracts.RequestDraft,
		RequesterID:      in.RequesterID,
		TargetUserID:     in.TargetUserID,
		Items:            items,
		Justification:    strings.TrimSpace(in.Justification),
		IsTemporary:      in.IsTemporary,
		RequestedEndDate: in.EndDate,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	c.mu.Lock()
	c.registry[req.RequestID] = &entry{req: req}
	c.mu.Unlock()

	c.recordEvent(ctx, &contracts.GovernanceEvent{
		EventID:   uuid.New().String(),
		Type:      contracts.EventRequestCreated,
		EntityID:  req.RequestID,
		Actor:     in.RequesterID,
		Timestamp: now,
		Delta:     map[string]any{"target": in.TargetUserID, "items": len(items)},
	})
	c.save(ctx, req)
	return req, nil
}

// checkFirefighters verifies each emergency-access id is available and
// unlocked.
func (c *Coordinator) checkFirefighters(ctx context.Context, items []contracts.RequestedAccess) error {
	for i := range items {
		ffID := items[i].FirefighterID
		if ffID == "" {
			continue
		}
		status, err := c.deps.Source.CheckFirefighterAvailability(ctx, ffID)
		if err != nil {
			return faults.Wrap(faults.TransientExternal, err, "firefighter check for %s failed", ffID)
		}
		if !status.Available || status.Locked {
			return faults.New(faults.Validation, "firefighter id %s is not available", ffID)
		}
	}
	return nil
}

// locked looks up the request and returns it with its lock held.
func (c *Coordinator) locked(requestID string) (*entry, error) {
	c.mu.RLock()
	e, ok := c.registry[requestID]
	c.mu.RUnlock()
	if !ok {
		return nil, faults.New(faults.NotFound, "request %s not found", requestID)
	}
	e.mu.Lock()
	return e, nil
}

// Get returns the request by id.
func (c *Coordinator) Get(requestID string) (*contracts.AccessRequest, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.registry[requestID]
	if !ok {
		return nil, faults.New(faults.NotFound, "request %s not found", requestID)
	}
	return e.req, nil
}

// ByRequester returns all requests created by the user.
func (c *Coordinator) ByRequester(userID string) []*contracts.AccessRequest {
	return c.filter(func(r *contracts.AccessRequest) bool { return r.RequesterID == userID })
}

// ByTarget returns all requests targeting the user.
func (c *Coordinator) ByTarget(userID string) []*contracts.AccessRequest {
	return c.filter(func(r *contracts.AccessRequest) bool { return r.TargetUserID == userID })
}

// PendingForApprover returns requests whose current step the actor can
// decide.
func (c *Coordinator) PendingForApprover(actor string) []*contracts.AccessRequest {
	return c.filter(func(r *contracts.AccessRequest) bool {
		if r.Status != contracts.RequestPendingApproval {
			return false
		}
		if r.CurrentStep < 0 || r.CurrentStep >= len(r.Steps) {
			return false
		}
		return r.Steps[r.CurrentStep].HasApprover(actor)
	})
}

func (c *Coordinator) filter(keep func(*contracts.AccessRequest) bool) []*contracts.AccessRequest {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*contracts.AccessRequest
	for _, e := range c.registry {
		if keep(e.req) {
			out = append(out, e.req)
		}
	}
	return out
}

// save persists the request snapshot. Fire-and-log: persistence errors
// never roll back a committed transition.
func (c *Coordinator) save(ctx context.Context, req *contracts.AccessRequest) {
	if c.deps.Persistence == nil {
		return
	}
	if err := c.deps.Persistence.SaveRequest(ctx, req); err != nil {
		c.deps.Logger.Error("request save failed", "request_id", req.RequestID, "error", err)
	}
}

// recordEvent persists and audits one event. Fire-and-log.
func (c *Coordinator) recordEvent(ctx context.Context, ev *contracts.GovernanceEvent) {
	if c.deps.Persistence != nil {
		if err := c.deps.Persistence.RecordEvent(ctx, ev); err != nil {
			c.deps.Logger.Error("event persist failed", "event_id", ev.EventID, "error", err)
		}
	}
	if err := c.deps.Audit.Record(ctx, ev); err != nil {
		c.deps.Logger.Error("audit record failed", "event_id", ev.EventID, "error", err)
	}
}

// flush delivers the side-effects of a committed transition.
func (c *Coordinator) flush(ctx context.Context, eff *workflow.Effects) {
	if eff == nil {
		return
	}
	for i := range eff.Events {
		c.recordEvent(ctx, &eff.Events[i])
	}
	if c.deps.Notifier == nil {
		return
	}
	for _, n := range eff.Notifications {
		if err := c.deps.Notifier.Notify(ctx, n.Recipient, n.Subject, n.Body); err != nil {
			c.deps.Logger.Warn("notification failed", "recipient", n.Recipient, "error", err)
		}
	}
}
