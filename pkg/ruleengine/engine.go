package ruleengine

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Oversight-Labs/sentra/core/pkg/canonicalize"
	"github.com/Oversight-Labs/sentra/core/pkg/contracts"
	"github.com/Oversight-Labs/sentra/core/pkg/faults"
)

// Config tunes the engine.
type Config struct {
	// MaxConcurrentEvaluations bounds EvaluateBatch parallelism.
	MaxConcurrentEvaluations int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{MaxConcurrentEvaluations: 16}
}

// Cache stores evaluation results keyed by (user, ruleset generation,
// snapshot hash). Both keys change whenever their inputs change, so a
// cache hit is always a valid replay of a previous deterministic
// evaluation.
type Cache interface {
	Get(ctx context.Context, userID string, rulesetVersion int64, snapshotHash string) ([]contracts.RiskViolation, bool)
	Set(ctx context.Context, userID string, rulesetVersion int64, snapshotHash string, violations []contracts.RiskViolation)
}

// Engine is the rule engine. Safe for concurrent use; the published
// rule set is copy-on-write.
type Engine struct {
	mu         sync.RWMutex
	rules      *ruleSet
	evaluators map[contracts.RuleKind]KindEvaluator

	clock  contracts.Clock
	logger *slog.Logger
	cache  Cache
	cfg    Config
}

// Option configures the engine at construction.
type Option func(*Engine)

// WithClock overrides the clock for deterministic testing.
func WithClock(clock contracts.Clock) Option { return func(e *Engine) { e.clock = clock } }

// WithLogger overrides the slog logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithCache attaches an evaluation cache.
func WithCache(c Cache) Option { return func(e *Engine) { e.cache = c } }

// WithConfig overrides the default config.
func WithConfig(cfg Config) Option { return func(e *Engine) { e.cfg = cfg } }

// WithEvaluator registers an extension-kind evaluator.
func WithEvaluator(ev KindEvaluator) Option {
	return func(e *Engine) { e.evaluators[ev.Kind()] = ev }
}

// NewEngine creates an engine with the SoD and Sensitive evaluators
// built in.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		rules: emptyRuleSet(),
		evaluators: map[contracts.RuleKind]KindEvaluator{
			contracts.RuleKindSoD:            sodEvaluator{},
			contracts.RuleKindSensitive:      sensitiveEvaluator{kind: contracts.RuleKindSensitive},
			contracts.RuleKindCriticalAction: sensitiveEvaluator{kind: contracts.RuleKindCriticalAction},
		},
		clock:  time.Now,
		logger: slog.Default(),
		cfg:    DefaultConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) snapshot() *ruleSet {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rules
}

// Version returns the generation counter of the published rule set.
func (e *Engine) Version() int64 { return e.snapshot().version }

// Rule returns the rule by id.
func (e *Engine) Rule(id string) (*contracts.RiskRule, error) {
	if r, ok := e.snapshot().byID[id]; ok {
		return r, nil
	}
	return nil, faults.New(faults.NotFound, "rule %s not found", id).Entity(id)
}

// RulesByCategory returns the rules tagged with the category.
func (e *Engine) RulesByCategory(category string) []*contracts.RiskRule {
	return e.snapshot().byCategory[category]
}

// RulesByKind returns the rules of one kind.
func (e *Engine) RulesByKind(kind contracts.RuleKind) []*contracts.RiskRule {
	return e.snapshot().byKind[kind]
}

// AddRule validates and publishes a rule. A duplicate id replaces the
// existing rule.
func (e *Engine) AddRule(r *contracts.RiskRule) error {
	if err := e.prepare(r); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = e.rules.withRule(r)
	return nil
}

// RemoveRule unpublishes the rule by id.
func (e *Engine) RemoveRule(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.rules.byID[id]; !ok {
		return faults.New(faults.NotFound, "rule %s not found", id).Entity(id)
	}
	e.rules = e.rules.withoutRule(id)
	return nil
}

// LoadRules validates all rules and swaps them in as one atomic
// generation. On any validation failure nothing is published.
func (e *Engine) LoadRules(rules []*contracts.RiskRule) error {
	for _, r := range rules {
		if err := e.prepare(r); err != nil {
			return err
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = buildRuleSet(e.rules.version+1, rules)
	return nil
}

func (e *Engine) prepare(r *contracts.RiskRule) error {
	if err := validateRule(r); err != nil {
		return err
	}
	if ev, ok := e.evaluators[r.Kind]; ok {
		if prep, ok := ev.(RulePreparer); ok {
			if err := prep.Prepare(r); err != nil {
				return err
			}
		}
	}
	return nil
}

// Evaluate runs the user snapshot against all enabled rules, or against
// the subset selected by ruleIDs. Deterministic: re-evaluating the same
// (rules, user) produces violations equal on (ruleId, conflictSignature).
// Ordering is (severity DESC, ruleId ASC, conflictSignature ASC).
func (e *Engine) Evaluate(ctx context.Context, user *contracts.UserAccess, ruleIDs ...string) ([]contracts.RiskViolation, error) {
	rs := e.snapshot()
	return e.evaluateAgainst(ctx, rs, user, ruleIDs)
}

func (e *Engine) evaluateAgainst(ctx context.Context, rs *ruleSet, user *contracts.UserAccess, ruleIDs []string) ([]contracts.RiskViolation, error) {
	rules := rs.ordered
	if len(ruleIDs) > 0 {
		rules = make([]*contracts.RiskRule, 0, len(ruleIDs))
		for _, id := range ruleIDs {
			if r, ok := rs.byID[id]; ok {
				rules = append(rules, r)
			}
		}
	}

	now := e.clock()
	var out []contracts.RiskViolation
	for _, rule := range rules {
		if err := ctx.Err(); err != nil {
			// Cancellation discards the partial result.
			return nil, err
		}
		if !applies(rule, user, now) {
			continue
		}
		ev, ok := e.evaluators[rule.Kind]
		if !ok {
			continue
		}
		for _, hit := range ev.Evaluate(rule, user) {
			out = append(out, contracts.RiskViolation{
				ID:                uuid.New().String(),
				RuleID:            rule.ID,
				RuleName:          rule.Name,
				Kind:              rule.Kind,
				Severity:          rule.Severity,
				Category:          rule.Category,
				UserID:            user.UserID,
				ConflictSignature: hit.Signature,
				FunctionAName:     hit.FunctionAName,
				FunctionA:         hit.FunctionA,
				FunctionBName:     hit.FunctionBName,
				FunctionB:         hit.FunctionB,
				BusinessImpact:    rule.BusinessImpact,
				Recommendations:   rule.Recommendations,
				Status:            contracts.ViolationOpen,
				DetectedAt:        now,
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Severity != out[j].Severity {
			return out[i].Severity > out[j].Severity
		}
		if out[i].RuleID != out[j].RuleID {
			return out[i].RuleID < out[j].RuleID
		}
		return out[i].ConflictSignature < out[j].ConflictSignature
	})
	return out, nil
}

// EvaluateBatch evaluates independent users in parallel, bounded by the
// configured concurrency ceiling. Results per user are independent;
// there is no cross-user ordering guarantee.
func (e *Engine) EvaluateBatch(ctx context.Context, users []*contracts.UserAccess, ruleIDs ...string) (map[string][]contracts.RiskViolation, error) {
	rs := e.snapshot()

	results := make([][]contracts.RiskViolation, len(users))
	g, gctx := errgroup.WithContext(ctx)
	limit := e.cfg.MaxConcurrentEvaluations
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)

	for i, user := range users {
		g.Go(func() error {
			if len(ruleIDs) == 0 && e.cache != nil {
				hash, err := canonicalize.CanonicalHash(canonicalize.KeySet(user.Entitlements))
				if err == nil {
					if cached, ok := e.cache.Get(gctx, user.UserID, rs.version, hash); ok {
						results[i] = cached
						return nil
					}
					violations, err := e.evaluateAgainst(gctx, rs, user, nil)
					if err != nil {
						return err
					}
					e.cache.Set(gctx, user.UserID, rs.version, hash, violations)
					results[i] = violations
					return nil
				}
			}
			violations, err := e.evaluateAgainst(gctx, rs, user, ruleIDs)
			if err != nil {
				return err
			}
			results[i] = violations
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string][]contracts.RiskViolation, len(users))
	for i, user := range users {
		out[user.UserID] = results[i]
	}
	return out, nil
}

// Summarize aggregates a violation list: counts by severity label,
// counts by category, and the aggregate risk score
// 100 * sum(severity) / (n * 100), zero when the list is empty.
func (e *Engine) Summarize(violations []contracts.RiskViolation) contracts.RiskSummary {
	s := contracts.RiskSummary{
		TotalViolations: len(violations),
		BySeverity:      map[string]int{},
		ByCategory:      map[string]int{},
	}
	if len(violations) == 0 {
		s.RiskLevel = contracts.RiskLow
		return s
	}
	total := 0
	for _, v := range violations {
		total += int(v.Severity)
		s.BySeverity[v.Severity.Label()]++
		if v.Category != "" {
			s.ByCategory[v.Category]++
		}
	}
	s.AggregateRiskScore = 100 * total / (len(violations) * 100)
	s.RiskLevel = contracts.RiskLevelForScore(s.AggregateRiskScore)
	return s
}
