// Package authorization evaluates role requirements keyed by URL path prefix.
//
// A path may match several rules. Access requires every matching rule to be
// satisfied, and a rule is satisfied when the caller holds at least one of
// its roles. Paths with no matching rule carry no extra requirement beyond
// authentication.
package authorization

import (
	"fmt"
	"sort"
	"strings"
)

// Rule requires one of Roles for every path starting with Prefix
type Rule struct {
	Prefix string
	Roles  []string
}

// Authorizer holds a read-only rule table
type Authorizer struct {
	rules []Rule
}

// NewAuthorizer copies rules, longest prefix first
func NewAuthorizer(rules []Rule) *Authorizer {
	cp := make([]Rule, 0, len(rules))
	for _, r := range rules {
		roles := append([]string(nil), r.Roles...)
		cp = append(cp, Rule{Prefix: r.Prefix, Roles: roles})
	}
	sort.SliceStable(cp, func(i, j int) bool {
		return len(cp[i].Prefix) > len(cp[j].Prefix)
	})
	return &Authorizer{rules: cp}
}

// MatchingRules returns every rule whose prefix matches path
func (a *Authorizer) MatchingRules(path string) []Rule {
	var matched []Rule
	for _, r := range a.rules {
		if strings.HasPrefix(path, r.Prefix) {
			matched = append(matched, r)
		}
	}
	return matched
}

// Check reports whether granted satisfies every rule matching path and
// returns the first unsatisfied rule when it does not
func (a *Authorizer) Check(path string, granted []string) (Rule, bool) {
	have := make(map[string]struct{}, len(granted))
	for _, g := range granted {
		have[g] = struct{}{}
	}

	for _, r := range a.MatchingRules(path) {
		if !satisfies(r, have) {
			return r, false
		}
	}
	return Rule{}, true
}

func satisfies(r Rule, have map[string]struct{}) bool {
	for _, role := range r.Roles {
		if _, ok := have[role]; ok {
			return true
		}
	}
	return false
}

// ParseRules reads "prefix=ROLE_A|ROLE_B;prefix2=ROLE_C". Blank entries are skipped.
func ParseRules(spec string) ([]Rule, error) {
	var rules []Rule
	for _, entry := range strings.Split(spec, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		prefix, roleList, ok := strings.Cut(entry, "=")
		prefix = strings.TrimSpace(prefix)
		if !ok || prefix == "" {
			return nil, fmt.Errorf("invalid access rule %q: expected prefix=ROLE[|ROLE]", entry)
		}
		if !strings.HasPrefix(prefix, "/") {
			return nil, fmt.Errorf("invalid access rule %q: prefix must start with /", entry)
		}

		var roles []string
		for _, role := range strings.Split(roleList, "|") {
			if role = strings.TrimSpace(role); role != "" {
				roles = append(roles, role)
			}
		}
		if len(roles) == 0 {
			return nil, fmt.Errorf("invalid access rule %q: no roles", entry)
		}
		rules = append(rules, Rule{Prefix: prefix, Roles: roles})
	}
	return rules, nil
}
