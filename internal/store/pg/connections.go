package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"orgmesh.io/internal/directory"
	"orgmesh.io/internal/ids"
)

const requestColumns = `id, requesting_organization_id, requested_organization_id, status, created_at, updated_at`

func (s *Store) CreateConnectionRequest(ctx context.Context, req *directory.ConnectionRequest) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	if _, err := s.db.ExecContext(ctx, `
		insert into connection_requests (id, requesting_organization_id, requested_organization_id, status, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6)
	`, req.ID, req.RequestingOrgID, req.RequestedOrgID, req.Status, req.CreatedAt, req.UpdatedAt); err != nil {
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

func (s *Store) GetConnectionRequest(ctx context.Context, id string) (directory.ConnectionRequest, error) {
	if s.db == nil {
		return directory.ConnectionRequest{}, errors.New("database connection unavailable")
	}
	var req directory.ConnectionRequest
	err := s.db.QueryRowContext(ctx, `
		select `+requestColumns+`
		from connection_requests
		where id = $1
	`, id).Scan(&req.ID, &req.RequestingOrgID, &req.RequestedOrgID, &req.Status, &req.CreatedAt, &req.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return directory.ConnectionRequest{}, directory.ErrNotFound
	}
	if err != nil {
		return directory.ConnectionRequest{}, err
	}
	return req, nil
}

func (s *Store) ListConnectionRequestsForOrg(ctx context.Context, orgID string) ([]directory.ConnectionRequest, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+requestColumns+`
		from connection_requests
		where requesting_organization_id = $1 or requested_organization_id = $1
		order by created_at desc
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []directory.ConnectionRequest
	for rows.Next() {
		var req directory.ConnectionRequest
		if err := rows.Scan(&req.ID, &req.RequestingOrgID, &req.RequestedOrgID, &req.Status, &req.CreatedAt, &req.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, req)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) MarkConnectionRequestRejected(ctx context.Context, id string, at time.Time) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		update connection_requests
		set status = 'rejected', updated_at = $2
		where id = $1 and status = 'pending'
	`, id, at)
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

func (s *Store) PairLinked(ctx context.Context, orgA, orgB string) (bool, error) {
	if s.db == nil {
		return false, errors.New("database connection unavailable")
	}
	one, two := directory.OrderPair(orgA, orgB)
	var linked bool
	err := s.db.QueryRowContext(ctx, `
		select exists (
			select 1 from connection_requests
			where status = 'pending'
			  and least(requesting_organization_id, requested_organization_id) = $1
			  and greatest(requesting_organization_id, requested_organization_id) = $2
		) or exists (
			select 1 from connections
			where organization_one_id = $1 and organization_two_id = $2
		)
	`, one, two).Scan(&linked)
	if err != nil {
		return false, err
	}
	return linked, nil
}

func (s *Store) PromoteConnectionRequest(ctx context.Context, req directory.ConnectionRequest) (directory.Connection, error) {
	if s.db == nil {
		return directory.Connection{}, errors.New("database connection unavailable")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return directory.Connection{}, err
	}
	defer func() { _ = tx.Rollback() }()

	// Delete first so a request consumed by a concurrent accept surfaces as
	// not found instead of a duplicate connection.
	res, err := tx.ExecContext(ctx, `
		delete from connection_requests
		where id = $1 and status = 'pending'
	`, req.ID)
	if err != nil {
		return directory.Connection{}, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return directory.Connection{}, err
	}
	if aff == 0 {
		return directory.Connection{}, directory.ErrNotFound
	}

	one, two := directory.OrderPair(req.RequestingOrgID, req.RequestedOrgID)
	conn := directory.Connection{
		ID:          ids.New(),
		OrgOneID:    one,
		OrgTwoID:    two,
		RequestedAt: req.CreatedAt,
	}
	if err := tx.QueryRowContext(ctx, `
		insert into connections (id, organization_one_id, organization_two_id, requested_at)
		values ($1, $2, $3, $4)
		returning created_at
	`, conn.ID, conn.OrgOneID, conn.OrgTwoID, conn.RequestedAt).Scan(&conn.CreatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return directory.Connection{}, directory.ErrConflict
		}
		return directory.Connection{}, err
	}

	if err := tx.Commit(); err != nil {
		return directory.Connection{}, err
	}
	return conn, nil
}

func (s *Store) ListConnectionsForOrg(ctx context.Context, orgID string) ([]directory.Connection, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, organization_one_id, organization_two_id, requested_at, created_at
		from connections
		where organization_one_id = $1 or organization_two_id = $1
		order by created_at desc
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []directory.Connection
	for rows.Next() {
		var c directory.Connection
		if err := rows.Scan(&c.ID, &c.OrgOneID, &c.OrgTwoID, &c.RequestedAt, &c.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
