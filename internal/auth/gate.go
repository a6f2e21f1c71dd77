package auth

import (
	"context"
	"strings"
)

// Gate decides allow/deny for an operation before it executes. It consumes the
// PolicyCache and treats a missing identity as a failure class distinct from
// an insufficient grant.
type Gate struct {
	cache *PolicyCache
}

// NewGate wires the gate to a policy cache.
func NewGate(cache *PolicyCache) *Gate {
	return &Gate{cache: cache}
}

// Check allows iff every required policy is present in the user's cached set.
// An empty required list always allows. An empty user id is rejected with
// ErrUnauthorized before the cache is consulted.
func (g *Gate) Check(ctx context.Context, userID string, required []Policy) error {
	if strings.TrimSpace(userID) == "" {
		return ErrUnauthorized
	}
	if len(required) == 0 {
		return nil
	}
	set, err := g.cache.Policies(ctx, userID)
	if err != nil {
		return err
	}
	if !set.HasAll(required) {
		return ErrForbidden
	}
	return nil
}
