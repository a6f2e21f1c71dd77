package auth

import "strings"

// Policy is an atomic (resource, action) capability grant. Matching is exact
// string equality on both fields; there are no wildcard or hierarchy semantics.
type Policy struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
}

// Key returns the canonical "resource:action" form used as the set member.
func (p Policy) Key() string {
	return p.Resource + ":" + p.Action
}

// ParsePolicy splits a "resource:action" key back into a Policy.
func ParsePolicy(key string) (Policy, bool) {
	resource, action, ok := strings.Cut(key, ":")
	if !ok || resource == "" || action == "" {
		return Policy{}, false
	}
	return Policy{Resource: resource, Action: action}, true
}

// PolicySet is the full set of a user's effective grants.
type PolicySet map[string]struct{}

// NewPolicySet builds a set from resolved policies.
func NewPolicySet(policies []Policy) PolicySet {
	set := make(PolicySet, len(policies))
	for _, p := range policies {
		set[p.Key()] = struct{}{}
	}
	return set
}

// Has reports whether the set contains the exact grant.
func (s PolicySet) Has(p Policy) bool {
	_, ok := s[p.Key()]
	return ok
}

// HasAll reports whether every required grant is present (conjunctive).
func (s PolicySet) HasAll(required []Policy) bool {
	for _, p := range required {
		if !s.Has(p) {
			return false
		}
	}
	return true
}
