package certification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Oversight-Labs/sentra/core/pkg/contracts"
	"github.com/Oversight-Labs/sentra/core/pkg/crypto"
	"github.com/Oversight-Labs/sentra/core/pkg/faults"
)

func completedCampaign() *contracts.CertificationCampaign {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	done := start.Add(10 * 24 * time.Hour)
	return &contracts.CertificationCampaign{
		CampaignID:  "CAMP-1",
		Name:        "Q1 user access review",
		Type:        contracts.CampaignUserAccess,
		Status:      contracts.CampaignCompleted,
		StartAt:     start,
		DueAt:       start.Add(14 * 24 * time.Hour),
		CompletedAt: &done,
		Items: []contracts.CertificationItem{
			{ItemID: "i1", Decision: contracts.DecisionCertify, DecisionBy: "mgr-1", IsCompleted: true},
			{ItemID: "i2", Decision: contracts.DecisionRevoke, DecisionBy: "mgr-1", IsCompleted: true},
			{ItemID: "i3", Decision: contracts.DecisionRevoke, DecisionBy: contracts.SystemActor, IsCompleted: true},
			{ItemID: "i4", Decision: contracts.DecisionModify, DecisionBy: "mgr-2", IsCompleted: true},
		},
	}
}

func TestBuildReportCountsDecisions(t *testing.T) {
	signer, err := crypto.NewEd25519Signer("cert-key")
	require.NoError(t, err)
	now := time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC)

	r, err := BuildReport(completedCampaign(), signer, now)
	require.NoError(t, err)
	require.Equal(t, 4, r.TotalItems)
	require.Equal(t, 1, r.CertifiedItems)
	require.Equal(t, 2, r.RevokedItems)
	require.Equal(t, 1, r.AutoRevokedItems)
	require.Equal(t, 1, r.ModifiedItems)
	require.Equal(t, 0, r.SkippedItems)

	require.NoError(t, VerifyReport(r))
}

func TestBuildReportRequiresCompletion(t *testing.T) {
	signer, err := crypto.NewEd25519Signer("cert-key")
	require.NoError(t, err)

	c := completedCampaign()
	c.Status = contracts.CampaignActive
	_, err = BuildReport(c, signer, time.Now())
	require.True(t, faults.IsKind(err, faults.State))
}

func TestVerifyReportDetectsTampering(t *testing.T) {
	signer, err := crypto.NewEd25519Signer("cert-key")
	require.NoError(t, err)

	r, err := BuildReport(completedCampaign(), signer, time.Now())
	require.NoError(t, err)

	r.RevokedItems = 0
	err = VerifyReport(r)
	require.True(t, faults.IsKind(err, faults.Validation))
}
