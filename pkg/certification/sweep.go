package certification

import (
	"context"
	"fmt"
	"time"

	"github.com/Oversight-Labs/sentra/core/pkg/contracts"
)

// SendReminders visits active campaigns and emits reminder notifications
// on the configured day-offsets before the due date. A given offset
// fires at most once per campaign per day.
func (e *Engine) SendReminders(ctx context.Context, campaigns []*contracts.CertificationCampaign) *Effects {
	now := e.clock()
	eff := &Effects{}
	for _, c := range campaigns {
		if err := ctx.Err(); err != nil {
			return eff
		}
		if c.Status != contracts.CampaignActive {
			continue
		}
		daysLeft := int(c.DueAt.Sub(now).Hours() / 24)
		if daysLeft < 0 {
			continue
		}
		for _, offset := range c.Config.ReminderDays {
			if daysLeft != offset {
				continue
			}
			key := fmt.Sprintf("%s|%d", c.CampaignID, offset)
			if last, ok := e.lastReminder[key]; ok && now.Sub(last) < 24*time.Hour {
				continue
			}
			e.lastReminder[key] = now
			e.remind(c, daysLeft, eff)
		}
	}
	return eff
}

// remind notifies every reviewer with open items.
func (e *Engine) remind(c *contracts.CertificationCampaign, daysLeft int, eff *Effects) {
	open := make(map[string]int)
	for i := range c.Items {
		if !c.Items[i].IsCompleted {
			open[c.Items[i].CurrentReviewer()]++
		}
	}
	for reviewer, count := range open {
		eff.Notifications = append(eff.Notifications, Notification{
			Recipient: reviewer,
			Subject:   "Certification campaign reminder",
			Body: fmt.Sprintf("Campaign %q has %d items waiting for your review, due in %d day(s).",
				c.Name, count, daysLeft),
		})
	}
	e.logger.Info("certification reminders sent",
		"campaign_id", c.CampaignID, "reviewers", len(open), "days_left", daysLeft)
}

// ExpireSweep visits past-due active campaigns. With auto-revoke
// configured the remaining items are decided Revoke by SYSTEM and the
// campaign completes; otherwise it moves to InReview with open items
// marked overdue.
func (e *Engine) ExpireSweep(ctx context.Context, campaigns []*contracts.CertificationCampaign) *Effects {
	now := e.clock()
	all := &Effects{}
	for _, c := range campaigns {
		if err := ctx.Err(); err != nil {
			return all
		}
		if c.Status != contracts.CampaignActive || !now.After(c.DueAt) {
			continue
		}
		l := e.locks.lock(c.CampaignID)
		e.expireOne(ctx, c, now, all)
		l.Unlock()
	}
	return all
}

func (e *Engine) expireOne(ctx context.Context, c *contracts.CertificationCampaign, now time.Time, eff *Effects) {
	if !c.Config.AutoRevokeOnTimeout {
		c.Status = contracts.CampaignInReview
		for i := range c.Items {
			if !c.Items[i].IsCompleted {
				c.Items[i].IsOverdue = true
			}
		}
		e.logger.Warn("certification campaign past due",
			"campaign_id", c.CampaignID, "due_at", c.DueAt)
		return
	}

	for i := range c.Items {
		item := &c.Items[i]
		if item.IsCompleted {
			continue
		}
		e.decide(item, contracts.DecisionRevoke, contracts.SystemActor, "auto-revoked on campaign timeout", now)
		c.RevokedItems++
		c.CompletedItems++
		eff.event(now, contracts.EventItemDecided, c.CampaignID, contracts.SystemActor, map[string]any{
			"item_id":  item.ItemID,
			"user_id":  item.UserID,
			"access":   item.AccessID,
			"decision": string(contracts.DecisionRevoke),
		})
		e.archive(ctx, item)
	}
	e.complete(c, now, eff)
}
