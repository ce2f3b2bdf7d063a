package config

import (
	"os"
	"path/filepath"
	"testing"
)

const prodProfile = `
name: Production
workflow:
  max_steps: 5
  min_justification_len: 40
  auto_approve_low_risk: false
  max_temporary_days: 30
  expiry_notice_days: 7
certification:
  default_duration_days: 14
  reviewer_workload_cap: 50
  reminder_offsets: [7, 3, 1]
  auto_revoke_on_timeout: true
  require_revoke_comment: true
retention:
  event_log_days: 2555
  evidence_days: 2555
`

const devProfile = `
name: Sandbox
code: dev
workflow:
  auto_approve_low_risk: true
  max_temporary_days: 90
`

func writeProfiles(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range map[string]string{
		"profile_prod.yaml": prodProfile,
		"profile_dev.yaml":  devProfile,
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestLoadProfile_Prod(t *testing.T) {
	dir := writeProfiles(t)
	p, err := LoadProfile(dir, "PROD")
	if err != nil {
		t.Fatalf("LoadProfile(prod): %v", err)
	}
	if p.Name != "Production" {
		t.Errorf("expected name 'Production', got %q", p.Name)
	}
	if p.Code != "prod" {
		t.Errorf("code should fall back to the lookup key, got %q", p.Code)
	}
	if p.Workflow.AutoApproveLowRisk {
		t.Error("prod must not auto-approve")
	}
	if p.Certification.ReviewerWorkloadCap != 50 {
		t.Errorf("expected workload cap 50, got %d", p.Certification.ReviewerWorkloadCap)
	}
	if len(p.Certification.ReminderOffsets) != 3 {
		t.Errorf("expected 3 reminder offsets, got %v", p.Certification.ReminderOffsets)
	}
}

func TestLoadProfile_Missing(t *testing.T) {
	dir := writeProfiles(t)
	if _, err := LoadProfile(dir, "staging"); err == nil {
		t.Fatal("expected error for missing profile")
	}
}

func TestLoadAllProfiles(t *testing.T) {
	dir := writeProfiles(t)
	profiles, err := LoadAllProfiles(dir)
	if err != nil {
		t.Fatalf("LoadAllProfiles: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(profiles))
	}
	if profiles["dev"].Workflow.MaxTemporaryDays != 90 {
		t.Errorf("dev profile not parsed: %+v", profiles["dev"])
	}
	if profiles["prod"].Retention.EventLogDays != 2555 {
		t.Errorf("prod retention not parsed: %+v", profiles["prod"])
	}
}
