package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DeploymentProfile is an environment-specific tuning profile. Profiles
// carry the knobs that differ between a sandbox tenant and a regulated
// production tenant; code defaults apply wherever a profile is silent.
type DeploymentProfile struct {
	Name          string              `yaml:"name" json:"name"`
	Code          string              `yaml:"code" json:"code"`
	Workflow      WorkflowProfile     `yaml:"workflow" json:"workflow"`
	Certification CertificationLimits `yaml:"certification" json:"certification"`
	Retention     RetentionConfig     `yaml:"retention" json:"retention"`
}

// WorkflowProfile tunes request intake and approval routing.
type WorkflowProfile struct {
	MaxSteps            int  `yaml:"max_steps" json:"max_steps"`
	MinJustificationLen int  `yaml:"min_justification_len" json:"min_justification_len"`
	AutoApproveLowRisk  bool `yaml:"auto_approve_low_risk" json:"auto_approve_low_risk"`
	MaxTemporaryDays    int  `yaml:"max_temporary_days" json:"max_temporary_days"`
	ExpiryNoticeDays    int  `yaml:"expiry_notice_days" json:"expiry_notice_days"`
}

// CertificationLimits tunes campaign generation.
type CertificationLimits struct {
	DefaultDurationDays  int   `yaml:"default_duration_days" json:"default_duration_days"`
	ReviewerWorkloadCap  int   `yaml:"reviewer_workload_cap" json:"reviewer_workload_cap"`
	ReminderOffsets      []int `yaml:"reminder_offsets" json:"reminder_offsets"`
	AutoRevokeOnTimeout  bool  `yaml:"auto_revoke_on_timeout" json:"auto_revoke_on_timeout"`
	RequireRevokeComment bool  `yaml:"require_revoke_comment" json:"require_revoke_comment"`
}

// RetentionConfig defines how long records are kept.
type RetentionConfig struct {
	EventLogDays int `yaml:"event_log_days" json:"event_log_days"`
	EvidenceDays int `yaml:"evidence_days" json:"evidence_days"`
}

// LoadProfile loads a deployment profile YAML by environment code.
// It searches the profiles directory for profile_<code>.yaml.
func LoadProfile(profilesDir, code string) (*DeploymentProfile, error) {
	code = strings.ToLower(code)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", code))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", code, err)
	}

	var profile DeploymentProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", code, err)
	}

	if profile.Code == "" {
		profile.Code = code
	}

	return &profile, nil
}

// LoadAllProfiles loads all profile_*.yaml files from the profiles directory.
func LoadAllProfiles(profilesDir string) (map[string]*DeploymentProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*DeploymentProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var profile DeploymentProfile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}

		if profile.Code == "" {
			// Extract code from filename: profile_prod.yaml -> prod
			base := filepath.Base(path)
			profile.Code = strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		}

		profiles[profile.Code] = &profile
	}

	return profiles, nil
}
