package ruleengine

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/decls"
	"github.com/google/cel-go/common/types"

	"github.com/Oversight-Labs/sentra/core/pkg/canonicalize"
	"github.com/Oversight-Labs/sentra/core/pkg/contracts"
	"github.com/Oversight-Labs/sentra/core/pkg/faults"
)

// RulePreparer is an optional KindEvaluator extension. The engine calls
// Prepare when a rule of the evaluator's kind is loaded; a returned
// error fails the load (unknown expressions are a load-time error, not a
// runtime pass).
type RulePreparer interface {
	Prepare(rule *contracts.RiskRule) error
}

// ContextualEvaluator evaluates CONTEXTUAL rules as CEL expressions over
// the user snapshot. Available variables:
//
//	user       map with user_id, department, cost_center, company_code,
//	           user_type, roles
//	attributes the snapshot's free-form attribute map
//
// The expression must evaluate to a bool; true means the rule fires.
type ContextualEvaluator struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program // rule id -> compiled program
}

// NewContextualEvaluator initializes the CEL environment.
func NewContextualEvaluator() (*ContextualEvaluator, error) {
	env, err := cel.NewEnv(
		cel.VariableDecls(
			decls.NewVariable("user", types.NewMapType(types.StringType, types.DynType)),
			decls.NewVariable("attributes", types.NewMapType(types.StringType, types.DynType)),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}
	return &ContextualEvaluator{env: env, programs: map[string]cel.Program{}}, nil
}

func (e *ContextualEvaluator) Kind() contracts.RuleKind { return contracts.RuleKindContextual }

// Prepare compiles the rule's expression. Compilation failures are
// fatal, per the load-time error policy.
func (e *ContextualEvaluator) Prepare(rule *contracts.RiskRule) error {
	ast, issues := e.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return faults.Wrap(faults.Fatal, issues.Err(), "contextual rule %s failed to compile", rule.ID).Entity(rule.ID)
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return faults.Wrap(faults.Fatal, err, "contextual rule %s program construction failed", rule.ID).Entity(rule.ID)
	}
	e.mu.Lock()
	e.programs[rule.ID] = prg
	e.mu.Unlock()
	return nil
}

func (e *ContextualEvaluator) Evaluate(rule *contracts.RiskRule, user *contracts.UserAccess) []Hit {
	e.mu.RLock()
	prg, ok := e.programs[rule.ID]
	e.mu.RUnlock()
	if !ok {
		return nil
	}

	attrs := user.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}
	input := map[string]any{
		"user": map[string]any{
			"user_id":      user.UserID,
			"department":   user.Department,
			"cost_center":  user.CostCenter,
			"company_code": user.CompanyCode,
			"user_type":    user.UserType,
			"roles":        user.Roles,
		},
		"attributes": attrs,
	}

	out, _, err := prg.Eval(input)
	if err != nil {
		// Evaluation never fails once loaded: unknown attributes are
		// treated as non-matching.
		return nil
	}
	fired, ok := out.Value().(bool)
	if !ok || !fired {
		return nil
	}

	sig, err := canonicalize.CanonicalHash(map[string]string{"rule": rule.ID, "expr": rule.Expression})
	if err != nil {
		return nil
	}
	return []Hit{{Signature: sig, FunctionAName: rule.Name}}
}
