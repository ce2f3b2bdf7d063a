package certification

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Oversight-Labs/sentra/core/pkg/contracts"
	"github.com/Oversight-Labs/sentra/core/pkg/faults"
)

// campaignLocks serializes decisions per campaign id.
type campaignLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newCampaignLocks() *campaignLocks {
	return &campaignLocks{locks: make(map[string]*sync.Mutex)}
}

func (c *campaignLocks) lock(id string) *sync.Mutex {
	c.mu.Lock()
	m, ok := c.locks[id]
	if !ok {
		m = &sync.Mutex{}
		c.locks[id] = m
	}
	c.mu.Unlock()
	m.Lock()
	return m
}

// ProcessDecision records one reviewer verdict on one item. The campaign
// lock is held for the duration; evidence archival happens inside the
// lock but its failure never fails the decision.
func (e *Engine) ProcessDecision(ctx context.Context, c *contracts.CertificationCampaign, itemID string, decision contracts.CertDecision, actor, comments, delegateTo string) (*Effects, error) {
	l := e.locks.lock(c.CampaignID)
	defer l.Unlock()

	if c.Status != contracts.CampaignActive && c.Status != contracts.CampaignInReview {
		return nil, faults.New(faults.State, "campaign is %s, decisions are closed", c.Status).Entity(c.CampaignID)
	}
	item := findItem(c, itemID)
	if item == nil {
		return nil, faults.New(faults.NotFound, "item %s not found", itemID).Entity(c.CampaignID)
	}
	if item.IsCompleted {
		return nil, faults.New(faults.State, "item %s is already decided", itemID).Entity(c.CampaignID)
	}
	if actor != item.CurrentReviewer() {
		return nil, faults.New(faults.PermissionDenied, "%s is not the reviewer of item %s", actor, itemID).Entity(c.CampaignID)
	}

	now := e.clock()
	eff := &Effects{}

	switch decision {
	case contracts.DecisionDelegate:
		if !c.Config.AllowDelegation {
			return nil, faults.New(faults.PermissionDenied, "campaign does not allow delegation").Entity(c.CampaignID)
		}
		if delegateTo == "" {
			return nil, faults.New(faults.Validation, "delegation target is empty").Entity(c.CampaignID)
		}
		item.DelegatedTo = delegateTo
		eff.Notifications = append(eff.Notifications, Notification{
			Recipient: delegateTo,
			Subject:   "Certification item delegated to you",
			Body:      actor + " delegated review of " + item.UserID + "/" + item.AccessID + " to you.",
		})
	case contracts.DecisionRevoke:
		if c.Config.RequireCommentsRevoke && strings.TrimSpace(comments) == "" {
			return nil, faults.New(faults.Validation, "revoke requires comments").Entity(c.CampaignID)
		}
		e.decide(item, decision, actor, comments, now)
		c.RevokedItems++
		c.CompletedItems++
	case contracts.DecisionCertify, contracts.DecisionModify, contracts.DecisionSkip:
		e.decide(item, decision, actor, comments, now)
		c.CompletedItems++
	default:
		return nil, faults.New(faults.Validation, "unknown decision %q", decision).Entity(c.CampaignID)
	}

	eff.event(now, contracts.EventItemDecided, c.CampaignID, actor, map[string]any{
		"item_id":  item.ItemID,
		"user_id":  item.UserID,
		"access":   item.AccessID,
		"decision": string(decision),
	})

	if item.IsCompleted {
		e.archive(ctx, item)
	}
	if c.CompletedItems == len(c.Items) {
		e.complete(c, now, eff)
	}
	return eff, nil
}

func (e *Engine) decide(item *contracts.CertificationItem, decision contracts.CertDecision, actor, comments string, now time.Time) {
	item.Decision = decision
	item.DecisionBy = actor
	item.DecisionAt = &now
	item.Comments = comments
	item.IsCompleted = true
}

// complete finishes a campaign whose items are all decided.
func (e *Engine) complete(c *contracts.CertificationCampaign, now time.Time, eff *Effects) {
	c.Status = contracts.CampaignCompleted
	c.CompletedAt = &now
	eff.event(now, contracts.EventCampaignCompleted, c.CampaignID, contracts.SystemActor, map[string]any{
		"items":   len(c.Items),
		"revoked": c.RevokedItems,
	})
	e.logger.Info("certification campaign completed",
		"campaign_id", c.CampaignID, "items", len(c.Items), "revoked", c.RevokedItems)
}

// archive snapshots a decided item. Fire-and-log.
func (e *Engine) archive(ctx context.Context, item *contracts.CertificationItem) {
	if e.archiver == nil {
		return
	}
	ref, err := e.archiver.Archive(ctx, item)
	if err != nil {
		e.logger.Error("evidence archival failed",
			"campaign_id", item.CampaignID, "item_id", item.ItemID, "error", err)
		return
	}
	e.logger.Debug("evidence archived",
		"campaign_id", item.CampaignID, "item_id", item.ItemID, "ref", ref)
}

func findItem(c *contracts.CertificationCampaign, itemID string) *contracts.CertificationItem {
	for i := range c.Items {
		if c.Items[i].ItemID == itemID {
			return &c.Items[i]
		}
	}
	return nil
}
