package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"orgmesh.io/internal/auth"
	"orgmesh.io/internal/directory"
)

var _ directory.Store = (*Store)(nil)

const orgColumns = `id, name, solution_url, client_id, client_secret, network_key, status, created_at, updated_at`

const userColumns = `id, organization_id, email, password_hash, role, status, last_login_at, created_at, updated_at`

func (s *Store) CreateOrganizationWithAdmin(ctx context.Context, org *directory.Organization, admin *directory.User) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into organizations (id, name, solution_url, client_id, client_secret, network_key, status, created_at, updated_at)
		values ($1, $2, nullif($3,''), $4, $5, $6, $7, $8, $9)
	`, org.ID, org.Name, org.SolutionURL, org.ClientID, org.ClientSecret, org.NetworkKey, org.Status, org.CreatedAt, org.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return directory.ErrConflict
		}
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		insert into users (id, organization_id, email, password_hash, role, status, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, admin.ID, admin.OrganizationID, admin.Email, admin.PasswordHash, admin.Role, admin.Status, admin.CreatedAt, admin.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return directory.ErrConflict
		}
		return err
	}

	return tx.Commit()
}

func (s *Store) GetOrganization(ctx context.Context, id string) (directory.Organization, error) {
	if s.db == nil {
		return directory.Organization{}, errors.New("database connection unavailable")
	}
	row := s.db.QueryRowContext(ctx, `
		select `+orgColumns+`
		from organizations
		where id = $1
	`, id)
	return scanOrganization(row)
}

func (s *Store) SearchOrganizations(ctx context.Context, query string, limit int) ([]directory.Organization, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+orgColumns+`
		from organizations
		where status = 'active'
		  and ($1 = '' or name ilike '%' || $1 || '%')
		order by name
		limit $2
	`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []directory.Organization
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, org)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateUser(ctx context.Context, u *directory.User) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	if _, err := s.db.ExecContext(ctx, `
		insert into users (id, organization_id, email, password_hash, role, status, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, u.ID, u.OrganizationID, u.Email, u.PasswordHash, u.Role, u.Status, u.CreatedAt, u.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return directory.ErrConflict
			case pgErrForeignKeyViolation:
				return directory.ErrNotFound
			}
		}
		return err
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (directory.User, error) {
	if s.db == nil {
		return directory.User{}, errors.New("database connection unavailable")
	}
	row := s.db.QueryRowContext(ctx, `
		select `+userColumns+`
		from users
		where id = $1
	`, id)
	return scanUser(row)
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (directory.User, error) {
	if s.db == nil {
		return directory.User{}, errors.New("database connection unavailable")
	}
	row := s.db.QueryRowContext(ctx, `
		select `+userColumns+`
		from users
		where email = $1
	`, email)
	return scanUser(row)
}

func (s *Store) ListUsersByOrg(ctx context.Context, orgID string) ([]directory.User, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+userColumns+`
		from users
		where organization_id = $1
		order by email
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []directory.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	return s.updateUserColumn(ctx, `update users set password_hash = $2, updated_at = now() where id = $1`, userID, passwordHash)
}

func (s *Store) UpdateUserStatus(ctx context.Context, userID, status string) error {
	return s.updateUserColumn(ctx, `update users set status = $2, updated_at = now() where id = $1`, userID, status)
}

func (s *Store) UpdateUserRole(ctx context.Context, userID, role string) error {
	return s.updateUserColumn(ctx, `update users set role = $2, updated_at = now() where id = $1`, userID, role)
}

func (s *Store) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `update users set last_login_at = $2 where id = $1`, userID, at)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return directory.ErrNotFound
	}
	return nil
}

func (s *Store) UserPolicies(ctx context.Context, userID string) ([]auth.Policy, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select distinct p.resource, p.action
		from users u
		join roles r on r.name = u.role
		join role_policies rp on rp.role_id = r.id
		join policies p on p.id = rp.policy_id
		where u.id = $1
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []auth.Policy
	for rows.Next() {
		var p auth.Policy
		if err := rows.Scan(&p.Resource, &p.Action); err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return policies, nil
}

func (s *Store) updateUserColumn(ctx context.Context, query, userID, value string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, query, userID, value)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return directory.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrganization(row rowScanner) (directory.Organization, error) {
	var (
		org directory.Organization
		url sql.NullString
	)
	err := row.Scan(&org.ID, &org.Name, &url, &org.ClientID, &org.ClientSecret, &org.NetworkKey, &org.Status, &org.CreatedAt, &org.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return directory.Organization{}, directory.ErrNotFound
	}
	if err != nil {
		return directory.Organization{}, err
	}
	if url.Valid {
		org.SolutionURL = url.String
	}
	return org, nil
}

func scanUser(row rowScanner) (directory.User, error) {
	var (
		u         directory.User
		lastLogin sql.NullTime
	)
	err := row.Scan(&u.ID, &u.OrganizationID, &u.Email, &u.PasswordHash, &u.Role, &u.Status, &lastLogin, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return directory.User{}, directory.ErrNotFound
	}
	if err != nil {
		return directory.User{}, err
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	return u, nil
}
