// Command sentrad runs the governance core as a long-lived daemon: it
// loads the risk rules and directory snapshot, wires the engines, and
// drives the background sweeps (SLA escalation, access expiry,
// certification reminders and timeouts) until SIGINT/SIGTERM.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Oversight-Labs/sentra/core/pkg/audit"
	"github.com/Oversight-Labs/sentra/core/pkg/cache"
	"github.com/Oversight-Labs/sentra/core/pkg/certification"
	"github.com/Oversight-Labs/sentra/core/pkg/config"
	"github.com/Oversight-Labs/sentra/core/pkg/connector"
	"github.com/Oversight-Labs/sentra/core/pkg/contracts"
	"github.com/Oversight-Labs/sentra/core/pkg/coordinator"
	"github.com/Oversight-Labs/sentra/core/pkg/evidence"
	"github.com/Oversight-Labs/sentra/core/pkg/observability"
	"github.com/Oversight-Labs/sentra/core/pkg/ruleengine"
	"github.com/Oversight-Labs/sentra/core/pkg/store"
	"github.com/Oversight-Labs/sentra/core/pkg/workflow"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("sentrad starting", "environment", cfg.Environment, "store", cfg.StoreDriver)

	profile := loadProfile(cfg, logger)

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:  "sentra-core",
		Environment:  cfg.Environment,
		OTLPEndpoint: cfg.OTLPEndpoint,
		SampleRate:   1.0,
		BatchTimeout: 5 * time.Second,
		Enabled:      cfg.OTLPEndpoint != "",
		Insecure:     true,
	})
	if err != nil {
		logger.Error("observability init failed", "error", err)
		return 1
	}
	defer func() { _ = obs.Shutdown(context.Background()) }()

	slos := observability.NewSLOTracker()
	for _, target := range observability.DefaultTargets() {
		slos.SetTarget(target)
	}

	persistence, closeStore, err := openStore(cfg)
	if err != nil {
		logger.Error("store init failed", "error", err)
		return 1
	}
	defer closeStore()

	engineOpts := []ruleengine.Option{ruleengine.WithLogger(logger)}
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		engineOpts = append(engineOpts, ruleengine.WithCache(cache.NewRedisCache(client, cfg.CacheTTL, logger)))
		defer func() { _ = client.Close() }()
	} else {
		engineOpts = append(engineOpts, ruleengine.WithCache(cache.NewMemoryCache(0)))
	}
	rules := ruleengine.NewEngine(engineOpts...)
	if err := rules.LoadRulesFromFile(cfg.RulesPath); err != nil {
		logger.Error("rule spec load failed", "path", cfg.RulesPath, "error", err)
		return 1
	}

	directory, err := connector.LoadDirectory(cfg.DirectoryPath)
	if err != nil {
		logger.Error("directory snapshot load failed", "path", cfg.DirectoryPath, "error", err)
		return 1
	}

	approvalRules, err := loadApprovalRules(cfg.ApprovalRulesPath)
	if err != nil {
		logger.Error("approval rules load failed", "path", cfg.ApprovalRulesPath, "error", err)
		return 1
	}

	archiver, err := openArchiver(ctx, cfg)
	if err != nil {
		logger.Error("evidence archiver init failed", "backend", cfg.EvidenceBackend, "error", err)
		return 1
	}

	planCfg := workflow.DefaultPlanConfig()
	if profile.Workflow.MaxSteps > 0 {
		planCfg.MaxSteps = profile.Workflow.MaxSteps
	}
	planner, err := workflow.NewPlanner(approvalRules, directory, planCfg, time.Now, logger)
	if err != nil {
		logger.Error("planner init failed", "error", err)
		return 1
	}

	gate := connector.NewGate(time.Now)
	gate.SetPolicy(&connector.TrustPolicy{
		ConnectorID:        "fulfiller",
		TrustLevel:         connector.TrustLevelFull,
		RateLimitPerMinute: 120,
	})
	var provisioner contracts.Provisioner = &connector.GatedProvisioner{
		ConnectorID: "fulfiller",
		Gate:        gate,
		Next:        connector.NewWebhookProvisioner(cfg.ProvisionerURL, cfg.ProvisionerToken, logger),
	}

	coordCfg := coordinator.DefaultConfig()
	coordCfg.AutoApproveLowRisk = profile.Workflow.AutoApproveLowRisk
	if profile.Workflow.MinJustificationLen > 0 {
		coordCfg.MinJustificationLen = profile.Workflow.MinJustificationLen
	}
	if profile.Workflow.MaxTemporaryDays > 0 {
		coordCfg.MaxTemporaryDays = profile.Workflow.MaxTemporaryDays
	}

	notifier := &connector.LogNotifier{Logger: logger}
	auditLog := audit.NewLogger()

	coord := coordinator.New(coordCfg, coordinator.Deps{
		Rules:       rules,
		Planner:     planner,
		Source:      directory,
		Resolver:    directory,
		Catalog:     directory,
		Notifier:    notifier,
		Provisioner: provisioner,
		Persistence: persistence,
		Audit:       auditLog,
		Clock:       time.Now,
		Logger:      logger,
	})

	certEngine := certification.NewEngine(directory, directory, directory, rules,
		certification.WithLogger(logger),
		certification.WithArchiver(archiver),
	)
	campaigns := &campaignSet{}
	if cfg.CampaignsPath != "" {
		specs, err := loadCampaignSpecs(cfg.CampaignsPath)
		if err != nil {
			logger.Error("campaign definitions load failed", "path", cfg.CampaignsPath, "error", err)
			return 1
		}
		for i := range specs {
			camp, eff, err := certEngine.GenerateCampaign(ctx, &specs[i])
			if err != nil {
				logger.Error("campaign generation failed", "name", specs[i].Name, "error", err)
				continue
			}
			deliverCampaignEffects(ctx, persistence, auditLog, notifier, logger, eff)
			saveCampaign(ctx, persistence, logger, camp)
			campaigns.Add(camp)
			logger.Info("campaign generated",
				"campaign_id", camp.CampaignID, "name", camp.Name, "items", len(camp.Items))
		}
	}

	expiryNoticeDays := profile.Workflow.ExpiryNoticeDays
	if expiryNoticeDays <= 0 {
		expiryNoticeDays = 7
	}

	var wg sync.WaitGroup
	runTicker(ctx, &wg, "sla-sweep", cfg.SLASweepInterval, func(ctx context.Context) {
		sweepTracked(ctx, obs, slos, func(ctx context.Context) error {
			return coord.SlaSweep(ctx)
		})
	})
	runTicker(ctx, &wg, "expiry-sweep", cfg.ExpirySweepInterval, func(ctx context.Context) {
		sweepTracked(ctx, obs, slos, func(ctx context.Context) error {
			coord.ExpirySweep(ctx)
			coord.ExpiryNotifications(ctx, expiryNoticeDays)
			return nil
		})
	})
	runTicker(ctx, &wg, "certification-sweep", cfg.ReminderInterval, func(ctx context.Context) {
		sweepTracked(ctx, obs, slos, func(ctx context.Context) error {
			active := campaigns.snapshot()
			deliverCampaignEffects(ctx, persistence, auditLog, notifier, logger, certEngine.SendReminders(ctx, active))
			deliverCampaignEffects(ctx, persistence, auditLog, notifier, logger, certEngine.ExpireSweep(ctx, active))
			for _, camp := range active {
				saveCampaign(ctx, persistence, logger, camp)
			}
			return nil
		})
	})

	logger.Info("sentrad ready",
		"rules_path", cfg.RulesPath,
		"directory_path", cfg.DirectoryPath,
		"evidence_backend", cfg.EvidenceBackend,
		"auto_approve_low_risk", coordCfg.AutoApproveLowRisk,
	)

	<-ctx.Done()
	logger.Info("sentrad shutting down")
	wg.Wait()
	return 0
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func loadProfile(cfg *config.Config, logger *slog.Logger) *config.DeploymentProfile {
	profile, err := config.LoadProfile(cfg.ProfilesDir, cfg.Environment)
	if err != nil {
		logger.Warn("no deployment profile, using defaults", "environment", cfg.Environment, "error", err)
		return &config.DeploymentProfile{Code: cfg.Environment}
	}
	return profile
}

func openStore(cfg *config.Config) (contracts.Persistence, func(), error) {
	if cfg.StoreDriver == "postgres" {
		s, err := store.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	}
	s, err := store.OpenSQLite(cfg.SQLitePath)
	if err != nil {
		return nil, nil, err
	}
	return s, func() { _ = s.Close() }, nil
}

func openArchiver(ctx context.Context, cfg *config.Config) (evidence.Archiver, error) {
	switch cfg.EvidenceBackend {
	case "s3":
		return evidence.NewS3Archiver(ctx, evidence.S3Config{
			Bucket:   cfg.S3Bucket,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
			Prefix:   cfg.S3Prefix,
		})
	case "gcs":
		return evidence.NewGCSArchiver(ctx, evidence.GCSConfig{
			Bucket: cfg.GCSBucket,
			Prefix: cfg.GCSPrefix,
		})
	default:
		return evidence.NewFileArchiver(cfg.EvidenceDir)
	}
}

func loadApprovalRules(path string) ([]workflow.ApprovalRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rules []workflow.ApprovalRule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

func loadCampaignSpecs(path string) ([]certification.CampaignSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var specs []certification.CampaignSpec
	if err := json.Unmarshal(data, &specs); err != nil {
		return nil, err
	}
	return specs, nil
}

// deliverCampaignEffects persists, audits, and notifies the
// side-effects of a committed campaign operation. Fire-and-log.
func deliverCampaignEffects(ctx context.Context, p contracts.Persistence, auditLog audit.Logger, n contracts.Notifier, logger *slog.Logger, eff *certification.Effects) {
	if eff == nil {
		return
	}
	for i := range eff.Events {
		ev := &eff.Events[i]
		if err := p.RecordEvent(ctx, ev); err != nil {
			logger.Error("event persist failed", "event_id", ev.EventID, "error", err)
		}
		if err := auditLog.Record(ctx, ev); err != nil {
			logger.Error("audit record failed", "event_id", ev.EventID, "error", err)
		}
	}
	for _, msg := range eff.Notifications {
		if err := n.Notify(ctx, msg.Recipient, msg.Subject, msg.Body); err != nil {
			logger.Warn("notification failed", "recipient", msg.Recipient, "error", err)
		}
	}
}

func saveCampaign(ctx context.Context, p contracts.Persistence, logger *slog.Logger, camp *contracts.CertificationCampaign) {
	if err := p.SaveCampaign(ctx, camp); err != nil {
		logger.Error("campaign save failed", "campaign_id", camp.CampaignID, "error", err)
	}
}

// campaignSet tracks the campaigns under daemon management.
type campaignSet struct {
	mu   sync.Mutex
	list []*contracts.CertificationCampaign
}

func (s *campaignSet) Add(c *contracts.CertificationCampaign) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.list = append(s.list, c)
}

func (s *campaignSet) snapshot() []*contracts.CertificationCampaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*contracts.CertificationCampaign(nil), s.list...)
}

func runTicker(ctx context.Context, wg *sync.WaitGroup, name string, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		slog.Default().Info("sweep loop started", "name", name, "interval", interval)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
}

func sweepTracked(ctx context.Context, obs *observability.Provider, slos *observability.SLOTracker, fn func(context.Context) error) {
	start := time.Now()
	ctx, finish := obs.TrackOperation(ctx, "sweep")
	err := fn(ctx)
	finish(err)
	slos.Record(observability.SLOObservation{
		Operation: "sweep",
		Latency:   time.Since(start),
		Success:   err == nil,
	})
}
