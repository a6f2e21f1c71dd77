package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"orgmesh.io/internal/token"
)

var _ token.Store = (*Store)(nil)

// Each token purpose lives in its own table so values only collide within
// one namespace and sweeps can be tuned per purpose later.
var tokenTables = map[token.Kind]string{
	token.KindPasswordReset:     "password_reset_tokens",
	token.KindPasswordSetup:     "password_setup_tokens",
	token.KindEmailVerification: "email_verification_tokens",
}

func tokenTable(kind token.Kind) (string, error) {
	table, ok := tokenTables[kind]
	if !ok {
		return "", fmt.Errorf("token: unknown kind %q", kind)
	}
	return table, nil
}

func (s *Store) Insert(ctx context.Context, tok token.Token) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	table, err := tokenTable(tok.Kind)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `
		insert into `+table+` (id, user_id, value, status, created_at, expires_at, used_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, tok.ID, tok.UserID, tok.Value, tok.Status, tok.CreatedAt, tok.ExpiresAt, nullTime(tok.UsedAt)); err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return token.ErrConflict
			case pgErrForeignKeyViolation:
				return token.ErrNotFound
			}
		}
		return err
	}
	return nil
}

func (s *Store) FindByValue(ctx context.Context, kind token.Kind, value string) (token.Token, error) {
	if s.db == nil {
		return token.Token{}, errors.New("database connection unavailable")
	}
	table, err := tokenTable(kind)
	if err != nil {
		return token.Token{}, err
	}
	var (
		tok    token.Token
		usedAt sql.NullTime
	)
	err = s.db.QueryRowContext(ctx, `
		select id, user_id, value, status, created_at, expires_at, used_at
		from `+table+`
		where value = $1
	`, value).Scan(&tok.ID, &tok.UserID, &tok.Value, &tok.Status, &tok.CreatedAt, &tok.ExpiresAt, &usedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return token.Token{}, token.ErrNotFound
	}
	if err != nil {
		return token.Token{}, err
	}
	tok.Kind = kind
	if usedAt.Valid {
		t := usedAt.Time
		tok.UsedAt = &t
	}
	return tok, nil
}

func (s *Store) MarkUsed(ctx context.Context, kind token.Kind, value string, usedAt time.Time) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	table, err := tokenTable(kind)
	if err != nil {
		return err
	}
	// The used_at guard makes consumption race-safe: of two concurrent
	// consumers exactly one updates a row.
	res, err := s.db.ExecContext(ctx, `
		update `+table+`
		set status = 'used', used_at = $2
		where value = $1 and used_at is null
	`, value, usedAt)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx, `select exists (select 1 from `+table+` where value = $1)`, value).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return token.ErrAlreadyUsed
		}
		return token.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if s.db == nil {
		return 0, errors.New("database connection unavailable")
	}
	var total int64
	for _, table := range []string{
		tokenTables[token.KindPasswordReset],
		tokenTables[token.KindPasswordSetup],
		tokenTables[token.KindEmailVerification],
	} {
		res, err := s.db.ExecContext(ctx, `
			delete from `+table+`
			where used_at is null and expires_at < $1
		`, now)
		if err != nil {
			return total, err
		}
		aff, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += aff
	}
	return total, nil
}
