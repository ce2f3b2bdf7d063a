// Package canonicalize derives deterministic keys and signatures from
// entitlements using RFC 8785 (JSON Canonicalization Scheme). Canonical
// keys feed set operations in the rule engine; conflict signatures are
// the de-duplication axis for violations.
package canonicalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/gowebpki/jcs"

	"github.com/Oversight-Labs/sentra/core/pkg/contracts"
)

// JCS returns the RFC 8785 canonical JSON representation of v.
func JCS(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: marshal failed: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: jcs transform failed: %w", err)
	}
	return out, nil
}

// CanonicalHash returns the SHA-256 hex digest of the canonical JSON
// representation of v.
func CanonicalHash(v any) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// EntitlementKey derives the canonical string key of an entitlement.
// Two entitlements are equal iff their keys are equal. The key is plain
// text, not a hash, so it stays diffable in logs and fixtures.
func EntitlementKey(e contracts.Entitlement) string {
	return strings.Join([]string{e.System, e.AuthObject, e.Field, e.Value, e.Activity}, "\x1f")
}

// KeySet returns the sorted, de-duplicated canonical keys of a bundle.
func KeySet(ents []contracts.Entitlement) []string {
	seen := make(map[string]struct{}, len(ents))
	keys := make([]string, 0, len(ents))
	for _, e := range ents {
		k := EntitlementKey(e)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SoDSignature is the conflict signature of an SoD hit: the sorted
// canonical key lists of both resolved functions, hashed over their
// canonical JSON form.
func SoDSignature(funcA, funcB []contracts.Entitlement) string {
	sig, err := CanonicalHash(map[string][]string{
		"a": KeySet(funcA),
		"b": KeySet(funcB),
	})
	if err != nil {
		// Inputs are plain strings; JCS over them cannot fail.
		panic(fmt.Sprintf("canonicalize: sod signature: %v", err))
	}
	return sig
}

// SensitiveSignature is the conflict signature of a sensitive-access
// hit: the sorted canonical key list of the matched entitlements.
func SensitiveSignature(matched []contracts.Entitlement) string {
	sig, err := CanonicalHash(map[string][]string{"m": KeySet(matched)})
	if err != nil {
		panic(fmt.Sprintf("canonicalize: sensitive signature: %v", err))
	}
	return sig
}
