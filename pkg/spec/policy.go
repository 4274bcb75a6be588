package spec

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
)

// MatchPolicy controls whether mapping and validation discrepancies are hard
// failures or logged warnings.
type MatchPolicy string

const (
	// PolicyStrict fails on any unresolved id, conflict or wiring mismatch.
	PolicyStrict MatchPolicy = "strict"
	// PolicyPermissiveMinimal maps what it can (trivial and physical-info
	// passes only) and downgrades mismatches to warnings.
	PolicyPermissiveMinimal MatchPolicy = "permissive-minimal"
	// PolicyPermissiveForced additionally force-binds remaining ids to
	// unmapped devices of the same type in discovery order.
	PolicyPermissiveForced MatchPolicy = "permissive-forced"
)

// DefaultMatchPolicy is used when neither the spec file nor the caller sets one.
const DefaultMatchPolicy = PolicyStrict

var _ pflag.Value = (*MatchPolicy)(nil)

// ParseMatchPolicy parses a policy name.
func ParseMatchPolicy(s string) (MatchPolicy, error) {
	switch MatchPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case PolicyStrict:
		return PolicyStrict, nil
	case PolicyPermissiveMinimal, "minimal":
		return PolicyPermissiveMinimal, nil
	case PolicyPermissiveForced, "forced":
		return PolicyPermissiveForced, nil
	}
	return "", fmt.Errorf("unknown match policy '%s' (want strict, permissive-minimal or permissive-forced)", s)
}

// IsStrict reports whether discrepancies are hard failures.
func (p MatchPolicy) IsStrict() bool {
	return p == PolicyStrict || p == ""
}

// Forces reports whether the forced mapping pass runs.
func (p MatchPolicy) Forces() bool {
	return p == PolicyPermissiveForced
}

// String implements pflag.Value.
func (p *MatchPolicy) String() string {
	if p == nil || *p == "" {
		return string(DefaultMatchPolicy)
	}
	return string(*p)
}

// Set implements pflag.Value.
func (p *MatchPolicy) Set(s string) error {
	v, err := ParseMatchPolicy(s)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Type implements pflag.Value.
func (p *MatchPolicy) Type() string {
	return "policy"
}
