package directory

import (
	"context"
	"time"

	"orgmesh.io/internal/auth"
)

// Store describes persistence operations required by the directory service.
// Multi-row mutations that must be atomic (signup, request acceptance) are
// single Store calls so implementations can wrap them in one transaction.
type Store interface {
	// CreateOrganizationWithAdmin inserts the organization and its first
	// admin user atomically.
	CreateOrganizationWithAdmin(ctx context.Context, org *Organization, admin *User) error
	GetOrganization(ctx context.Context, id string) (Organization, error)
	// SearchOrganizations matches active organizations by name fragment;
	// an empty query lists all.
	SearchOrganizations(ctx context.Context, query string, limit int) ([]Organization, error)

	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (User, error)
	FindUserByEmail(ctx context.Context, email string) (User, error)
	ListUsersByOrg(ctx context.Context, orgID string) ([]User, error)
	UpdateUserPassword(ctx context.Context, userID, passwordHash string) error
	UpdateUserStatus(ctx context.Context, userID, status string) error
	UpdateUserRole(ctx context.Context, userID, role string) error
	TouchLastLogin(ctx context.Context, userID string, at time.Time) error

	// UserPolicies resolves the user's effective grants through the
	// user -> role -> role_policies -> policies join in one query.
	UserPolicies(ctx context.Context, userID string) ([]auth.Policy, error)

	CreateConnectionRequest(ctx context.Context, req *ConnectionRequest) error
	GetConnectionRequest(ctx context.Context, id string) (ConnectionRequest, error)
	ListConnectionRequestsForOrg(ctx context.Context, orgID string) ([]ConnectionRequest, error)
	MarkConnectionRequestRejected(ctx context.Context, id string, at time.Time) error
	// PairLinked reports whether a pending request (either direction) or an
	// existing connection already links the unordered pair.
	PairLinked(ctx context.Context, orgA, orgB string) (bool, error)
	// PromoteConnectionRequest atomically inserts the Connection and deletes
	// the request row. Either both effects commit or neither does.
	PromoteConnectionRequest(ctx context.Context, req ConnectionRequest) (Connection, error)
	ListConnectionsForOrg(ctx context.Context, orgID string) ([]Connection, error)
}
