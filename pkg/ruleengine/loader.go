package ruleengine

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/Oversight-Labs/sentra/core/pkg/contracts"
	"github.com/Oversight-Labs/sentra/core/pkg/faults"
)

// ruleSpecSchema validates the structural shape of a rule spec document
// before any semantic mapping happens. Structural problems are fatal at
// load time.
const ruleSpecSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["rules"],
  "properties": {
    "rules": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "name", "kind", "severity"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "name": {"type": "string", "minLength": 1},
          "description": {"type": "string"},
          "kind": {"enum": ["SOD", "SENSITIVE", "CRITICAL_ACTION", "BEHAVIORAL", "CONTEXTUAL", "ATTRIBUTE", "COMPOSITE"]},
          "severity": {"enum": [10, 30, 60, 100, "LOW", "MEDIUM", "HIGH", "CRITICAL"]},
          "category": {"type": "string"},
          "expression": {"type": "string"},
          "conflicts": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["functionAEntitlements", "functionBEntitlements"],
              "properties": {
                "name": {"type": "string"},
                "functionAName": {"type": "string"},
                "functionAEntitlements": {"$ref": "#/$defs/entitlements"},
                "functionBName": {"type": "string"},
                "functionBEntitlements": {"$ref": "#/$defs/entitlements"}
              }
            }
          },
          "sensitiveEntitlements": {"$ref": "#/$defs/entitlements"},
          "appliesTo": {
            "type": "object",
            "properties": {
              "systems": {"type": "array", "items": {"type": "string"}},
              "departments": {"type": "array", "items": {"type": "string"}},
              "userTypes": {"type": "array", "items": {"type": "string"}}
            }
          },
          "exceptions": {
            "type": "object",
            "properties": {
              "users": {"type": "array", "items": {"type": "string"}},
              "roles": {"type": "array", "items": {"type": "string"}}
            }
          },
          "businessImpact": {"type": "string"},
          "recommendations": {"type": "array", "items": {"type": "string"}},
          "effectiveFrom": {"type": "string"},
          "expiryDate": {"type": "string"},
          "enabled": {"type": "boolean"},
          "version": {"type": "string"}
        }
      }
    }
  },
  "$defs": {
    "entitlements": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["authObject", "field", "value"],
        "properties": {
          "authObject": {"type": "string", "minLength": 1},
          "field": {"type": "string", "minLength": 1},
          "value": {"type": "string", "minLength": 1},
          "activity": {"type": "string"},
          "system": {"type": "string"}
        }
      }
    }
  }
}`

// specDocument mirrors the declarative rule spec (spec serialization is
// structural; YAML is the concrete syntax used here).
type specDocument struct {
	Rules []specRule `yaml:"rules"`
}

type specRule struct {
	ID                    string            `yaml:"id"`
	Name                  string            `yaml:"name"`
	Description           string            `yaml:"description"`
	Kind                  string            `yaml:"kind"`
	Severity              any               `yaml:"severity"`
	Category              string            `yaml:"category"`
	Expression            string            `yaml:"expression"`
	Conflicts             []specConflict    `yaml:"conflicts"`
	SensitiveEntitlements []specEntitlement `yaml:"sensitiveEntitlements"`
	AppliesTo             struct {
		Systems     []string `yaml:"systems"`
		Departments []string `yaml:"departments"`
		UserTypes   []string `yaml:"userTypes"`
	} `yaml:"appliesTo"`
	Exceptions struct {
		Users []string `yaml:"users"`
		Roles []string `yaml:"roles"`
	} `yaml:"exceptions"`
	BusinessImpact  string   `yaml:"businessImpact"`
	Recommendations []string `yaml:"recommendations"`
	EffectiveFrom   string   `yaml:"effectiveFrom"`
	ExpiryDate      string   `yaml:"expiryDate"`
	Enabled         *bool    `yaml:"enabled"`
	Version         string   `yaml:"version"`
}

type specConflict struct {
	Name                  string            `yaml:"name"`
	FunctionAName         string            `yaml:"functionAName"`
	FunctionAEntitlements []specEntitlement `yaml:"functionAEntitlements"`
	FunctionBName         string            `yaml:"functionBName"`
	FunctionBEntitlements []specEntitlement `yaml:"functionBEntitlements"`
}

type specEntitlement struct {
	AuthObject string `yaml:"authObject"`
	Field      string `yaml:"field"`
	Value      string `yaml:"value"`
	Activity   string `yaml:"activity"`
	System     string `yaml:"system"`
}

var compiledRuleSpecSchema = mustCompileRuleSpecSchema()

func mustCompileRuleSpecSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const url = "https://sentra.schemas.local/rulespec.schema.json"
	if err := c.AddResource(url, strings.NewReader(ruleSpecSchema)); err != nil {
		panic(fmt.Sprintf("rule spec schema load failed: %v", err))
	}
	compiled, err := c.Compile(url)
	if err != nil {
		panic(fmt.Sprintf("rule spec schema compile failed: %v", err))
	}
	return compiled
}

// LoadRulesFromSpec parses, validates, and atomically publishes a rule
// spec document. Any malformed rule fails the whole load.
func (e *Engine) LoadRulesFromSpec(doc []byte) error {
	rules, err := ParseSpec(doc)
	if err != nil {
		return err
	}
	return e.LoadRules(rules)
}

// LoadRulesFromFile reads a spec document from the filesystem.
func (e *Engine) LoadRulesFromFile(path string) error {
	doc, err := os.ReadFile(path)
	if err != nil {
		return faults.Wrap(faults.Fatal, err, "rule spec %s unreadable", path)
	}
	return e.LoadRulesFromSpec(doc)
}

// ParseSpec converts a YAML rule spec document into risk rules. The
// document is schema-validated first; semantic validation (non-empty
// bundles per kind, severity scale) happens when the rules are loaded.
func ParseSpec(doc []byte) ([]*contracts.RiskRule, error) {
	var generic any
	if err := yaml.Unmarshal(doc, &generic); err != nil {
		return nil, faults.Wrap(faults.Fatal, err, "rule spec is not valid YAML")
	}
	// The schema validator expects encoding/json decoded values, so the
	// YAML tree goes through a JSON round-trip first.
	jsonBytes, err := json.Marshal(generic)
	if err != nil {
		return nil, faults.Wrap(faults.Fatal, err, "rule spec is not JSON-representable")
	}
	var jsonTree any
	if err := json.Unmarshal(jsonBytes, &jsonTree); err != nil {
		return nil, faults.Wrap(faults.Fatal, err, "rule spec decode failed")
	}
	if err := compiledRuleSpecSchema.Validate(jsonTree); err != nil {
		return nil, faults.Wrap(faults.Fatal, err, "rule spec failed schema validation")
	}

	var parsed specDocument
	if err := yaml.Unmarshal(doc, &parsed); err != nil {
		return nil, faults.Wrap(faults.Fatal, err, "rule spec decode failed")
	}

	rules := make([]*contracts.RiskRule, 0, len(parsed.Rules))
	for i := range parsed.Rules {
		r, err := mapSpecRule(&parsed.Rules[i])
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func mapSpecRule(sr *specRule) (*contracts.RiskRule, error) {
	sev, err := parseSeverity(sr.Severity)
	if err != nil {
		return nil, faults.Wrap(faults.Fatal, err, "rule %s", sr.ID).Entity(sr.ID)
	}

	r := &contracts.RiskRule{
		ID:          sr.ID,
		Name:        sr.Name,
		Description: sr.Description,
		Kind:        contracts.RuleKind(sr.Kind),
		Severity:    sev,
		Category:    sr.Category,
		Expression:  sr.Expression,
		AppliesTo: contracts.Applicability{
			Systems:     sr.AppliesTo.Systems,
			Departments: sr.AppliesTo.Departments,
			UserTypes:   sr.AppliesTo.UserTypes,
		},
		Exceptions: contracts.RuleExceptions{
			Users: sr.Exceptions.Users,
			Roles: sr.Exceptions.Roles,
		},
		BusinessImpact:  sr.BusinessImpact,
		Recommendations: sr.Recommendations,
		Enabled:         sr.Enabled == nil || *sr.Enabled,
		Version:         sr.Version,
	}

	for _, sc := range sr.Conflicts {
		r.Conflicts = append(r.Conflicts, contracts.ConflictSet{
			Name:                  sc.Name,
			FunctionAName:         sc.FunctionAName,
			FunctionAEntitlements: mapEntitlements(sc.FunctionAEntitlements),
			FunctionBName:         sc.FunctionBName,
			FunctionBEntitlements: mapEntitlements(sc.FunctionBEntitlements),
		})
	}
	r.SensitiveEntitlements = mapEntitlements(sr.SensitiveEntitlements)

	if sr.EffectiveFrom != "" {
		t, err := parseSpecDate(sr.EffectiveFrom)
		if err != nil {
			return nil, faults.Wrap(faults.Fatal, err, "rule %s effectiveFrom", sr.ID).Entity(sr.ID)
		}
		r.EffectiveFrom = &t
	}
	if sr.ExpiryDate != "" {
		t, err := parseSpecDate(sr.ExpiryDate)
		if err != nil {
			return nil, faults.Wrap(faults.Fatal, err, "rule %s expiryDate", sr.ID).Entity(sr.ID)
		}
		r.ExpiryDate = &t
	}

	if sr.Version != "" {
		if _, err := semver.NewVersion(sr.Version); err != nil {
			return nil, faults.Wrap(faults.Fatal, err, "rule %s has a non-semver version %q", sr.ID, sr.Version).Entity(sr.ID)
		}
	}
	return r, nil
}

func mapEntitlements(in []specEntitlement) []contracts.Entitlement {
	if len(in) == 0 {
		return nil
	}
	out := make([]contracts.Entitlement, len(in))
	for i, se := range in {
		out[i] = contracts.Entitlement{
			AuthObject: se.AuthObject,
			Field:      se.Field,
			Value:      se.Value,
			Activity:   se.Activity,
			System:     se.System,
		}
	}
	return out
}

func parseSeverity(v any) (contracts.Severity, error) {
	switch s := v.(type) {
	case int:
		return contracts.Severity(s), nil
	case string:
		switch strings.ToUpper(s) {
		case "LOW":
			return contracts.SeverityLow, nil
		case "MEDIUM":
			return contracts.SeverityMedium, nil
		case "HIGH":
			return contracts.SeverityHigh, nil
		case "CRITICAL":
			return contracts.SeverityCritical, nil
		}
		return 0, fmt.Errorf("unknown severity label %q", s)
	case nil:
		return 0, fmt.Errorf("severity missing")
	default:
		return 0, fmt.Errorf("severity has unsupported type %T", v)
	}
}

// parseSpecDate accepts RFC 3339 timestamps and plain dates. Plain dates
// are interpreted at midnight UTC.
func parseSpecDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q is neither RFC 3339 nor YYYY-MM-DD", s)
	}
	return t.UTC(), nil
}
