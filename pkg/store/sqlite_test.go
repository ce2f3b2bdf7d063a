package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Oversight-Labs/sentra/core/pkg/contracts"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordEventIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ev := &contracts.GovernanceEvent{
		EventID:   "ev-1",
		Type:      contracts.EventRequestCreated,
		EntityID:  "REQ-1",
		Actor:     "jdoe",
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Delta:     map[string]any{"items": float64(2)},
	}
	require.NoError(t, s.RecordEvent(ctx, ev))
	require.NoError(t, s.RecordEvent(ctx, ev), "replay must not fail")

	events, err := s.EventsFor(ctx, "REQ-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, contracts.EventRequestCreated, events[0].Type)
	require.Equal(t, map[string]any{"items": float64(2)}, events[0].Delta)
}

func TestEventsForOrdersByTimestamp(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, typ := range []contracts.EventType{
		contracts.EventRequestCreated,
		contracts.EventRequestSubmitted,
		contracts.EventRequestApproved,
	} {
		require.NoError(t, s.RecordEvent(ctx, &contracts.GovernanceEvent{
			EventID:   string(rune('a' + i)),
			Type:      typ,
			EntityID:  "REQ-1",
			Actor:     "jdoe",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	events, err := s.EventsFor(ctx, "REQ-1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, contracts.EventRequestCreated, events[0].Type)
	require.Equal(t, contracts.EventRequestApproved, events[2].Type)

	other, err := s.EventsFor(ctx, "REQ-2")
	require.NoError(t, err)
	require.Empty(t, other)
}

func TestSaveRequestUpserts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	req := &contracts.AccessRequest{
		RequestID:   "REQ-1",
		Type:        contracts.RequestTypeNewAccess,
		Status:      contracts.RequestDraft,
		RequesterID: "jdoe",
		UpdatedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.SaveRequest(ctx, req))

	req.Status = contracts.RequestPendingApproval
	req.UpdatedAt = req.UpdatedAt.Add(time.Hour)
	require.NoError(t, s.SaveRequest(ctx, req))

	got, err := s.LoadRequest(ctx, "REQ-1")
	require.NoError(t, err)
	require.Equal(t, contracts.RequestPendingApproval, got.Status)
	require.Equal(t, "jdoe", got.RequesterID)

	missing, err := s.LoadRequest(ctx, "REQ-404")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestSaveCampaign(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c := &contracts.CertificationCampaign{
		CampaignID: "CAMP-1",
		Name:       "Q1 review",
		Type:       contracts.CampaignUserAccess,
		Status:     contracts.CampaignActive,
		CreatedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.SaveCampaign(ctx, c))

	done := c.CreatedAt.Add(14 * 24 * time.Hour)
	c.Status = contracts.CampaignCompleted
	c.CompletedAt = &done
	require.NoError(t, s.SaveCampaign(ctx, c))
}
