package certification

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/Oversight-Labs/sentra/core/pkg/canonicalize"
	"github.com/Oversight-Labs/sentra/core/pkg/contracts"
	"github.com/Oversight-Labs/sentra/core/pkg/crypto"
	"github.com/Oversight-Labs/sentra/core/pkg/faults"
)

// CampaignReport attests the outcome of a completed campaign. The
// report is a verifiable artifact: its hash covers the canonical form
// of everything except the seal fields.
type CampaignReport struct {
	ReportID   string                 `json:"report_id"`
	CampaignID string                 `json:"campaign_id"`
	Name       string                 `json:"name"`
	Type       contracts.CampaignType `json:"type"`
	Timestamp  time.Time              `json:"timestamp"`

	TotalItems     int `json:"total_items"`
	CertifiedItems int `json:"certified_items"`
	RevokedItems   int `json:"revoked_items"`
	ModifiedItems  int `json:"modified_items"`
	SkippedItems   int `json:"skipped_items"`
	// AutoRevokedItems counts revocations decided by the system on
	// campaign timeout rather than by a reviewer.
	AutoRevokedItems int `json:"auto_revoked_items"`

	StartAt     time.Time  `json:"start_at"`
	DueAt       time.Time  `json:"due_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	ReportHash   string `json:"report_hash"`
	SignerKeyID  string `json:"signer_key_id"`
	SignerPubKey string `json:"signer_public_key"`
	Signature    string `json:"signature"`
}

// BuildReport summarizes a completed campaign and seals the summary
// with the given signer.
func BuildReport(c *contracts.CertificationCampaign, signer crypto.Signer, now time.Time) (*CampaignReport, error) {
	if c.Status != contracts.CampaignCompleted {
		return nil, faults.New(faults.State, "campaign %s is %s, report needs COMPLETED", c.CampaignID, c.Status).Entity(c.CampaignID)
	}

	r := &CampaignReport{
		ReportID:    uuid.New().String(),
		CampaignID:  c.CampaignID,
		Name:        c.Name,
		Type:        c.Type,
		Timestamp:   now.UTC(),
		TotalItems:  len(c.Items),
		StartAt:     c.StartAt,
		DueAt:       c.DueAt,
		CompletedAt: c.CompletedAt,
	}
	for i := range c.Items {
		item := &c.Items[i]
		switch item.Decision {
		case contracts.DecisionCertify:
			r.CertifiedItems++
		case contracts.DecisionRevoke:
			r.RevokedItems++
			if item.DecisionBy == contracts.SystemActor {
				r.AutoRevokedItems++
			}
		case contracts.DecisionModify:
			r.ModifiedItems++
		case contracts.DecisionSkip:
			r.SkippedItems++
		}
	}

	hash, err := reportHash(r)
	if err != nil {
		return nil, err
	}
	r.ReportHash = hash

	sig, err := signer.Sign([]byte(hash))
	if err != nil {
		return nil, faults.Wrap(faults.Fatal, err, "sign report for campaign %s", c.CampaignID).Entity(c.CampaignID)
	}
	r.Signature = sig
	r.SignerKeyID = signer.ID()
	r.SignerPubKey = signer.PublicKey()
	return r, nil
}

// VerifyReport recomputes the hash and checks the embedded signature.
func VerifyReport(r *CampaignReport) error {
	hash, err := reportHash(r)
	if err != nil {
		return err
	}
	if hash != r.ReportHash {
		return faults.New(faults.Validation, "report %s hash mismatch", r.ReportID).Entity(r.CampaignID)
	}
	ok, err := crypto.Verify(r.SignerPubKey, r.Signature, []byte(hash))
	if err != nil {
		return faults.Wrap(faults.Validation, err, "report %s signature malformed", r.ReportID).Entity(r.CampaignID)
	}
	if !ok {
		return faults.New(faults.Validation, "report %s signature invalid", r.ReportID).Entity(r.CampaignID)
	}
	return nil
}

func reportHash(r *CampaignReport) (string, error) {
	unsealed := *r
	unsealed.ReportHash = ""
	unsealed.SignerKeyID = ""
	unsealed.SignerPubKey = ""
	unsealed.Signature = ""

	payload, err := canonicalize.JCS(unsealed)
	if err != nil {
		return "", faults.Wrap(faults.Fatal, err, "canonicalize report %s", r.ReportID).Entity(r.CampaignID)
	}
	sum := sha256.Sum256(payload)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}
