// Package config loads daemon configuration from the environment and
// optional per-deployment YAML profiles.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds daemon configuration.
type Config struct {
	LogLevel    string
	Environment string

	// StoreDriver selects the event store: "sqlite" or "postgres".
	StoreDriver string
	DatabaseURL string
	SQLitePath  string

	// RedisAddr enables the shared evaluation cache when non-empty.
	RedisAddr     string
	RedisPassword string
	CacheTTL      time.Duration

	// EvidenceBackend selects the decision archive: "file", "s3" or "gcs".
	EvidenceBackend string
	EvidenceDir     string
	S3Bucket        string
	S3Region        string
	S3Endpoint      string
	S3Prefix        string
	GCSBucket       string
	GCSPrefix       string

	// RulesPath points at the risk rule spec document.
	RulesPath         string
	ApprovalRulesPath string
	DirectoryPath     string
	ProfilesDir       string
	// CampaignsPath points at the certification campaign definitions
	// generated at startup. Empty disables campaign generation.
	CampaignsPath string

	ProvisionerURL   string
	ProvisionerToken string

	OTLPEndpoint string

	SLASweepInterval    time.Duration
	ExpirySweepInterval time.Duration
	ReminderInterval    time.Duration
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		LogLevel:    envOr("LOG_LEVEL", "INFO"),
		Environment: envOr("SENTRA_ENV", "dev"),

		StoreDriver: envOr("STORE_DRIVER", "sqlite"),
		DatabaseURL: envOr("DATABASE_URL", "postgres://sentra@localhost:5432/sentra?sslmode=disable"),
		SQLitePath:  envOr("SQLITE_PATH", "sentra.db"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		CacheTTL:      envDuration("CACHE_TTL", time.Hour),

		EvidenceBackend: envOr("EVIDENCE_BACKEND", "file"),
		EvidenceDir:     envOr("EVIDENCE_DIR", "evidence"),
		S3Bucket:        os.Getenv("EVIDENCE_S3_BUCKET"),
		S3Region:        envOr("EVIDENCE_S3_REGION", "us-east-1"),
		S3Endpoint:      os.Getenv("EVIDENCE_S3_ENDPOINT"),
		S3Prefix:        envOr("EVIDENCE_S3_PREFIX", "evidence"),
		GCSBucket:       os.Getenv("EVIDENCE_GCS_BUCKET"),
		GCSPrefix:       envOr("EVIDENCE_GCS_PREFIX", "evidence"),

		RulesPath:         envOr("RULES_PATH", "rules.yaml"),
		ApprovalRulesPath: envOr("APPROVAL_RULES_PATH", "approval_rules.json"),
		DirectoryPath:     envOr("DIRECTORY_PATH", "directory.yaml"),
		ProfilesDir:       envOr("PROFILES_DIR", "profiles"),
		CampaignsPath:     os.Getenv("CAMPAIGNS_PATH"),

		ProvisionerURL:   os.Getenv("PROVISIONER_URL"),
		ProvisionerToken: os.Getenv("PROVISIONER_TOKEN"),

		OTLPEndpoint: os.Getenv("OTLP_ENDPOINT"),

		SLASweepInterval:    envDuration("SLA_SWEEP_INTERVAL", time.Minute),
		ExpirySweepInterval: envDuration("EXPIRY_SWEEP_INTERVAL", 15*time.Minute),
		ReminderInterval:    envDuration("REMINDER_INTERVAL", time.Hour),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	// Bare numbers are read as seconds.
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
