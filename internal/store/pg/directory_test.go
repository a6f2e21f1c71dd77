package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"orgmesh.io/internal/directory"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db), mock
}

func uniqueViolation() error {
	return &pgconn.PgError{Code: pgErrUniqueViolation}
}

func TestCreateOrganizationWithAdminCommitsBoth(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now().UTC()
	org := &directory.Organization{
		ID: "org-1", Name: "Acme", ClientID: "cid", ClientSecret: "csec",
		NetworkKey: "nk", Status: directory.OrgStatusActive, CreatedAt: now, UpdatedAt: now,
	}
	admin := &directory.User{
		ID: "user-1", OrganizationID: "org-1", Email: "admin@acme.example",
		PasswordHash: "hash", Role: directory.RoleAdmin, Status: directory.UserStatusUnverified,
		CreatedAt: now, UpdatedAt: now,
	}

	mock.ExpectBegin()
	mock.ExpectExec("insert into organizations").
		WithArgs(org.ID, org.Name, "", org.ClientID, org.ClientSecret, org.NetworkKey, org.Status, org.CreatedAt, org.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into users").
		WithArgs(admin.ID, admin.OrganizationID, admin.Email, admin.PasswordHash, admin.Role, admin.Status, admin.CreatedAt, admin.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := store.CreateOrganizationWithAdmin(context.Background(), org, admin); err != nil {
		t.Fatalf("CreateOrganizationWithAdmin: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateOrganizationWithAdminRollsBackOnDuplicateEmail(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("insert into organizations").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into users").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(uniqueViolation())
	mock.ExpectRollback()

	err := store.CreateOrganizationWithAdmin(context.Background(), &directory.Organization{}, &directory.User{})
	if !errors.Is(err, directory.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetOrganizationNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select (.+) from organizations").
		WithArgs("org-missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.GetOrganization(context.Background(), "org-missing")
	if !errors.Is(err, directory.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSearchOrganizations(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "name", "solution_url", "client_id", "client_secret", "network_key", "status", "created_at", "updated_at"}).
		AddRow("org-1", "Acme", nil, "cid", "csec", "nk", "active", now, now)
	mock.ExpectQuery("select (.+) from organizations").
		WithArgs("acme", 10).
		WillReturnRows(rows)

	orgs, err := store.SearchOrganizations(context.Background(), "acme", 10)
	if err != nil {
		t.Fatalf("SearchOrganizations: %v", err)
	}
	if len(orgs) != 1 || orgs[0].Name != "Acme" {
		t.Fatalf("unexpected result: %+v", orgs)
	}
	if orgs[0].SolutionURL != "" {
		t.Fatalf("expected empty solution url for null column")
	}
}

func TestFindUserByEmail(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "organization_id", "email", "password_hash", "role", "status", "last_login_at", "created_at", "updated_at"}).
		AddRow("user-1", "org-1", "admin@acme.example", "hash", "admin", "enabled", now, now, now)
	mock.ExpectQuery("select (.+) from users").
		WithArgs("admin@acme.example").
		WillReturnRows(rows)

	u, err := store.FindUserByEmail(context.Background(), "admin@acme.example")
	if err != nil {
		t.Fatalf("FindUserByEmail: %v", err)
	}
	if u.ID != "user-1" || u.LastLoginAt == nil {
		t.Fatalf("unexpected user: %+v", u)
	}
}

func TestUpdateUserStatusNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("update users set status").
		WithArgs("user-missing", "disabled").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdateUserStatus(context.Background(), "user-missing", "disabled")
	if !errors.Is(err, directory.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUserPoliciesJoin(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"resource", "action"}).
		AddRow("users", "read").
		AddRow("users", "write")
	mock.ExpectQuery("select distinct p.resource, p.action").
		WithArgs("user-1").
		WillReturnRows(rows)

	policies, err := store.UserPolicies(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("UserPolicies: %v", err)
	}
	if len(policies) != 2 || policies[0].Key() != "users:read" {
		t.Fatalf("unexpected policies: %+v", policies)
	}
}

func TestPromoteConnectionRequestAtomic(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now().UTC()
	req := directory.ConnectionRequest{
		ID:              "req-1",
		RequestingOrgID: "org-b",
		RequestedOrgID:  "org-a",
		Status:          directory.RequestStatusPending,
		CreatedAt:       now,
	}

	mock.ExpectBegin()
	mock.ExpectExec("delete from connection_requests").
		WithArgs("req-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("insert into connections").
		WithArgs(sqlmock.AnyArg(), "org-a", "org-b", req.CreatedAt).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))
	mock.ExpectCommit()

	conn, err := store.PromoteConnectionRequest(context.Background(), req)
	if err != nil {
		t.Fatalf("PromoteConnectionRequest: %v", err)
	}
	if conn.OrgOneID != "org-a" || conn.OrgTwoID != "org-b" {
		t.Fatalf("pair not stored in lexicographic order: %+v", conn)
	}
	if !conn.RequestedAt.Equal(req.CreatedAt) {
		t.Fatalf("requested_at should carry the request creation time")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPromoteConnectionRequestAlreadyDecided(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("delete from connection_requests").
		WithArgs("req-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := store.PromoteConnectionRequest(context.Background(), directory.ConnectionRequest{ID: "req-1"})
	if !errors.Is(err, directory.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPairLinkedNormalizesOrder(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select exists").
		WithArgs("org-a", "org-b").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	// Arguments arrive in reverse order; the query must see them normalized.
	linked, err := store.PairLinked(context.Background(), "org-b", "org-a")
	if err != nil {
		t.Fatalf("PairLinked: %v", err)
	}
	if !linked {
		t.Fatalf("expected linked")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateConnectionRequestConflict(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("insert into connection_requests").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(uniqueViolation())

	err := store.CreateConnectionRequest(context.Background(), &directory.ConnectionRequest{})
	if !errors.Is(err, directory.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}
