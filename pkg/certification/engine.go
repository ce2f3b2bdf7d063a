// Package certification generates time-boxed access review campaigns,
// records reviewer decisions, and auto-revokes uncertified access when a
// campaign expires.
package certification

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Oversight-Labs/sentra/core/pkg/contracts"
	"github.com/Oversight-Labs/sentra/core/pkg/evidence"
	"github.com/Oversight-Labs/sentra/core/pkg/faults"
	"github.com/Oversight-Labs/sentra/core/pkg/ruleengine"
)

// RoleGrant is one user/access assignment with its provenance, as read
// from the external landscape.
type RoleGrant struct {
	AccessID   string                 `json:"access_id"`
	AccessName string                 `json:"access_name,omitempty"`
	System     string                 `json:"system,omitempty"`
	GrantedAt  *time.Time             `json:"granted_at,omitempty"`
	Usage      contracts.UsageSummary `json:"usage"`
	// BaseRiskScore is the role-level base score from the catalog.
	BaseRiskScore int `json:"base_risk_score"`
}

// GrantSource enumerates the grants of one user.
type GrantSource interface {
	GrantsOf(ctx context.Context, userID string) ([]RoleGrant, error)
}

// CampaignSpec is the input to campaign generation.
type CampaignSpec struct {
	Name        string
	Description string
	Type        contracts.CampaignType
	Scope       contracts.CampaignScope
	Config      contracts.CampaignConfig
	StartAt     time.Time
	DueAt       time.Time
	CreatedBy   string
}

// Notification is a pending reviewer-facing message.
type Notification struct {
	Recipient string
	Subject   string
	Body      string
}

// Effects collects the side-effects of a committed campaign operation.
type Effects struct {
	Notifications []Notification
	Events        []contracts.GovernanceEvent
}

func (e *Effects) event(now time.Time, typ contracts.EventType, entityID, actor string, delta map[string]any) {
	e.Events = append(e.Events, contracts.GovernanceEvent{
		EventID:   uuid.New().String(),
		Type:      typ,
		EntityID:  entityID,
		Actor:     actor,
		Timestamp: now,
		Delta:     delta,
	})
}

// Engine drives certification campaigns. Decisions on one campaign are
// serialized by a per-campaign lock; campaigns are independent.
type Engine struct {
	source   contracts.EntitlementSource
	grants   GrantSource
	resolver contracts.UserResolver
	rules    *ruleengine.Engine
	archiver evidence.Archiver
	clock    contracts.Clock
	logger   *slog.Logger

	locks *campaignLocks

	// lastReminder de-duplicates reminder sends per campaign and offset.
	lastReminder map[string]time.Time
}

// Option configures the engine.
type Option func(*Engine)

// WithClock injects a deterministic clock.
func WithClock(clock contracts.Clock) Option { return func(e *Engine) { e.clock = clock } }

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithArchiver enables evidence archival of decided items.
func WithArchiver(a evidence.Archiver) Option { return func(e *Engine) { e.archiver = a } }

// NewEngine creates a certification engine.
func NewEngine(source contracts.EntitlementSource, grants GrantSource, resolver contracts.UserResolver, rules *ruleengine.Engine, opts ...Option) *Engine {
	e := &Engine{
		source:       source,
		grants:       grants,
		resolver:     resolver,
		rules:        rules,
		clock:        time.Now,
		logger:       slog.Default(),
		locks:        newCampaignLocks(),
		lastReminder: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// GenerateCampaign enumerates review items for the spec and returns the
// campaign plus its start effects. The campaign is Active when StartAt
// has passed, Scheduled otherwise.
func (e *Engine) GenerateCampaign(ctx context.Context, spec *CampaignSpec) (*contracts.CertificationCampaign, *Effects, error) {
	if spec.Name == "" {
		return nil, nil, faults.New(faults.Validation, "campaign has no name")
	}
	switch spec.Type {
	case contracts.CampaignUserAccess, contracts.CampaignRoleMembership,
		contracts.CampaignSensitiveAccess, contracts.CampaignSoDViolations, contracts.CampaignManager:
	default:
		return nil, nil, faults.New(faults.Validation, "unknown campaign type %q", spec.Type)
	}
	if !spec.DueAt.After(spec.StartAt) {
		return nil, nil, faults.New(faults.Validation, "campaign due date must be after its start")
	}

	now := e.clock()
	c := &contracts.CertificationCampaign{
		CampaignID:  uuid.New().String(),
		Name:        spec.Name,
		Description: spec.Description,
		Type:        spec.Type,
		Status:      contracts.CampaignScheduled,
		Scope:       spec.Scope,
		Config:      spec.Config,
		StartAt:     spec.StartAt,
		DueAt:       spec.DueAt,
		CreatedBy:   spec.CreatedBy,
		CreatedAt:   now,
	}
	if !now.Before(spec.StartAt) {
		c.Status = contracts.CampaignActive
	}

	items, err := e.enumerate(ctx, c, now)
	if err != nil {
		return nil, nil, err
	}
	if err := e.assignReviewers(ctx, c, items); err != nil {
		return nil, nil, err
	}
	c.Items = items

	eff := &Effects{}
	eff.event(now, contracts.EventCampaignStarted, c.CampaignID, c.CreatedBy, map[string]any{
		"type":  string(c.Type),
		"items": len(c.Items),
	})
	e.logger.Info("certification campaign generated",
		"campaign_id", c.CampaignID, "type", string(c.Type), "items", len(c.Items))
	return c, eff, nil
}

// enumerate builds the raw item list for the campaign type.
func (e *Engine) enumerate(ctx context.Context, c *contracts.CertificationCampaign, now time.Time) ([]contracts.CertificationItem, error) {
	users, err := e.source.UsersInScope(ctx, contracts.ScopeFilter{
		Systems:     c.Scope.Systems,
		Departments: c.Scope.Departments,
	})
	if err != nil {
		return nil, faults.Wrap(faults.TransientExternal, err, "scope enumeration failed")
	}

	var items []contracts.CertificationItem
	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		grants, err := e.grants.GrantsOf(ctx, userID)
		if err != nil {
			return nil, faults.Wrap(faults.TransientExternal, err, "grant enumeration for %s failed", userID)
		}
		if len(grants) == 0 {
			continue
		}
		violations, err := e.sodViolationsOf(ctx, userID)
		if err != nil {
			return nil, err
		}
		for i := range grants {
			g := &grants[i]
			flagged := sodFlagged(violations, g.System)
			score := itemRiskScore(g, flagged, now)

			if c.Scope.RiskThreshold > 0 && score < c.Scope.RiskThreshold {
				continue
			}
			switch c.Type {
			case contracts.CampaignSensitiveAccess:
				if score < 60 {
					continue
				}
			case contracts.CampaignSoDViolations:
				if !flagged {
					continue
				}
			}
			if c.Scope.SoDOnly && !flagged {
				continue
			}
			items = append(items, contracts.CertificationItem{
				ItemID:          uuid.New().String(),
				CampaignID:      c.CampaignID,
				UserID:          userID,
				AccessID:        g.AccessID,
				AccessName:      g.AccessName,
				System:          g.System,
				GrantedAt:       g.GrantedAt,
				Usage:           g.Usage,
				RiskScore:       score,
				HasSoDViolation: flagged,
			})
		}
	}

	sortItems(c.Type, items)
	return items, nil
}

// sodViolationsOf evaluates the user's current access. No rule engine
// means no SoD flags.
func (e *Engine) sodViolationsOf(ctx context.Context, userID string) ([]contracts.RiskViolation, error) {
	if e.rules == nil {
		return nil, nil
	}
	snapshot, err := e.source.UserAccessOf(ctx, userID)
	if err != nil {
		return nil, faults.Wrap(faults.TransientExternal, err, "access snapshot for %s failed", userID)
	}
	violations, err := e.rules.Evaluate(ctx, snapshot)
	if err != nil {
		return nil, err
	}
	sod := violations[:0:0]
	for i := range violations {
		if violations[i].Kind == contracts.RuleKindSoD {
			sod = append(sod, violations[i])
		}
	}
	return sod, nil
}

// sodFlagged reports whether any SoD violation touches the grant's
// system. A violation with no system information flags every grant of
// the user.
func sodFlagged(violations []contracts.RiskViolation, system string) bool {
	for i := range violations {
		v := &violations[i]
		touched := false
		for _, ent := range v.FunctionA {
			if ent.System == "" || ent.System == system {
				touched = true
				break
			}
		}
		if !touched {
			for _, ent := range v.FunctionB {
				if ent.System == "" || ent.System == system {
					touched = true
					break
				}
			}
		}
		if touched {
			return true
		}
	}
	return false
}

// itemRiskScore computes the per-item score: role base, +30 for a SoD
// flag, +10 per year of age past one and two years, capped at 100.
func itemRiskScore(g *RoleGrant, sodFlag bool, now time.Time) int {
	score := g.BaseRiskScore
	if sodFlag {
		score += 30
	}
	if g.GrantedAt != nil {
		age := now.Sub(*g.GrantedAt)
		if age > 365*24*time.Hour {
			score += 10
		}
		if age > 730*24*time.Hour {
			score += 10
		}
	}
	if score > 100 {
		score = 100
	}
	return score
}

// sortItems orders items the way each campaign type presents them.
func sortItems(typ contracts.CampaignType, items []contracts.CertificationItem) {
	switch typ {
	case contracts.CampaignRoleMembership:
		sort.SliceStable(items, func(i, j int) bool {
			if items[i].AccessID != items[j].AccessID {
				return items[i].AccessID < items[j].AccessID
			}
			return items[i].UserID < items[j].UserID
		})
	case contracts.CampaignManager:
		sort.SliceStable(items, func(i, j int) bool {
			if items[i].ManagerID != items[j].ManagerID {
				return items[i].ManagerID < items[j].ManagerID
			}
			return items[i].UserID < items[j].UserID
		})
	default:
		sort.SliceStable(items, func(i, j int) bool {
			if items[i].UserID != items[j].UserID {
				return items[i].UserID < items[j].UserID
			}
			return items[i].AccessID < items[j].AccessID
		})
	}
}

// assignReviewers resolves a reviewer per item and applies the workload
// cap. Unresolvable reviewers and overflow both land on the fallback
// reviewer; with no fallback configured the item keeps its reviewer and
// the cap is advisory.
func (e *Engine) assignReviewers(ctx context.Context, c *contracts.CertificationCampaign, items []contracts.CertificationItem) error {
	mode := c.Config.ReviewerMode
	if mode == "" {
		mode = contracts.ReviewByManager
	}

	named := 0
	for i := range items {
		item := &items[i]
		var reviewer string
		switch mode {
		case contracts.ReviewByManager:
			mgr, err := e.resolver.ManagerOf(ctx, item.UserID)
			if err != nil {
				return faults.Wrap(faults.TransientExternal, err, "manager lookup for %s failed", item.UserID)
			}
			reviewer = mgr
		case contracts.ReviewByRoleOwner:
			owners, err := e.resolver.RoleOwnerOf(ctx, item.AccessID)
			if err != nil {
				return faults.Wrap(faults.TransientExternal, err, "role owner lookup for %s failed", item.AccessID)
			}
			if len(owners) > 0 {
				reviewer = owners[0]
			}
		case contracts.ReviewByNamed:
			if len(c.Config.NamedReviewers) > 0 {
				reviewer = c.Config.NamedReviewers[named%len(c.Config.NamedReviewers)]
				named++
			}
		default:
			return faults.New(faults.Validation, "unknown reviewer mode %q", mode)
		}
		if reviewer == "" {
			reviewer = c.Config.FallbackReviewerID
		}
		if reviewer == "" {
			return faults.New(faults.State,
				"no reviewer resolvable for item %s/%s and no fallback configured", item.UserID, item.AccessID).Entity(c.CampaignID)
		}
		item.ReviewerID = reviewer
		if c.Type == contracts.CampaignManager {
			item.ManagerID = reviewer
		}
	}

	if limit := c.Config.MaxItemsPerReviewer; limit > 0 && c.Config.FallbackReviewerID != "" {
		load := make(map[string]int)
		for i := range items {
			item := &items[i]
			if item.ReviewerID == c.Config.FallbackReviewerID {
				continue
			}
			load[item.ReviewerID]++
			if load[item.ReviewerID] > limit {
				item.ReviewerID = c.Config.FallbackReviewerID
			}
		}
	}

	if c.Type == contracts.CampaignManager {
		sortItems(c.Type, items)
	}
	return nil
}
