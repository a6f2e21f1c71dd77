package directory

import "time"

// Organization statuses.
const (
	OrgStatusActive   = "active"
	OrgStatusInactive = "inactive"
)

// User statuses. A user that is not enabled never passes authentication,
// regardless of token validity.
const (
	UserStatusUnverified = "unverified"
	UserStatusEnabled    = "enabled"
	UserStatusDisabled   = "disabled"
	UserStatusDeleted    = "deleted"
)

// Connection request statuses. An accepted request has no status of its own:
// acceptance replaces the request row with a Connection. Rejected rows are
// kept as a terminal record.
const (
	RequestStatusPending  = "pending"
	RequestStatusRejected = "rejected"
)

// Built-in role names.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Organization is a tenant that owns users and participates in connections.
type Organization struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	SolutionURL  string    `json:"solution_url,omitempty"`
	ClientID     string    `json:"client_id,omitempty"`
	ClientSecret string    `json:"-"`
	NetworkKey   string    `json:"network_key,omitempty"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// User belongs to exactly one organization. Email is stored lowercased.
type User struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	Email          string     `json:"email"`
	PasswordHash   string     `json:"-"`
	Role           string     `json:"role"`
	Status         string     `json:"status"`
	LastLoginAt    *time.Time `json:"last_login_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Role is a named bundle of policies.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ConnectionRequest is a pending or rejected link attempt between two
// organizations.
type ConnectionRequest struct {
	ID              string    `json:"id"`
	RequestingOrgID string    `json:"requesting_organization_id"`
	RequestedOrgID  string    `json:"requested_organization_id"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Connection is an accepted, semantically unordered pair of organizations.
// The pair is stored lexicographically ordered so the unique index also rules
// out the mirrored duplicate.
type Connection struct {
	ID          string    `json:"id"`
	OrgOneID    string    `json:"organization_one_id"`
	OrgTwoID    string    `json:"organization_two_id"`
	RequestedAt time.Time `json:"requested_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// Peer returns the other organization in the pair, or "" when orgID is not a
// member.
func (c Connection) Peer(orgID string) string {
	switch orgID {
	case c.OrgOneID:
		return c.OrgTwoID
	case c.OrgTwoID:
		return c.OrgOneID
	}
	return ""
}

// OrderPair normalizes a pair of organization ids into storage order.
func OrderPair(a, b string) (string, string) {
	if a <= b {
		return a, b
	}
	return b, a
}
