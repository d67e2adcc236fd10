package repo

import (
	"context"
	"database/sql"

	"caseflow/internal/domain"
)

const grantColumns = `id,case_id,reason,duration_minutes,granted_by,issued_at,expires_at,revoked_at,revoked_by`

func scanGrant(row caseScanner) (domain.Grant, error) {
	var g domain.Grant
	var revokedAt, revokedBy sql.NullString
	err := row.Scan(&g.ID, &g.CaseID, &g.Reason, &g.DurationMinutes, &g.GrantedBy, &g.IssuedAt, &g.ExpiresAt, &revokedAt, &revokedBy)
	if err == sql.ErrNoRows {
		return g, ErrNotFound
	}
	if revokedAt.Valid {
		g.RevokedAt = &revokedAt.String
	}
	if revokedBy.Valid {
		g.RevokedBy = &revokedBy.String
	}
	return g, err
}

func (r Repo) InsertGrant(ctx context.Context, tx *sql.Tx, g domain.Grant) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO grants(`+grantColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		g.ID, g.CaseID, g.Reason, g.DurationMinutes, g.GrantedBy, g.IssuedAt, g.ExpiresAt,
		nullableStringPtr(g.RevokedAt), nullableStringPtr(g.RevokedBy))
	return err
}

func (r Repo) GetGrant(ctx context.Context, id string) (domain.Grant, error) {
	return scanGrant(r.DB.QueryRowContext(ctx, `SELECT `+grantColumns+` FROM grants WHERE id=?`, id))
}

func (r Repo) GetGrantTx(ctx context.Context, tx *sql.Tx, id string) (domain.Grant, error) {
	return scanGrant(tx.QueryRowContext(ctx, `SELECT `+grantColumns+` FROM grants WHERE id=?`, id))
}

// UnrevokedGrant returns the unrevoked grant with the furthest expiry for a
// case. Expiry is the caller's call; it is evaluated lazily against now, so
// the returned grant may already have lapsed.
func (r Repo) UnrevokedGrant(ctx context.Context, caseID string) (domain.Grant, error) {
	return scanGrant(r.DB.QueryRowContext(ctx, `SELECT `+grantColumns+` FROM grants WHERE case_id=? AND revoked_at IS NULL ORDER BY expires_at DESC, id DESC LIMIT 1`, caseID))
}

func (r Repo) UnrevokedGrantTx(ctx context.Context, tx *sql.Tx, caseID string) (domain.Grant, error) {
	return scanGrant(tx.QueryRowContext(ctx, `SELECT `+grantColumns+` FROM grants WHERE case_id=? AND revoked_at IS NULL ORDER BY expires_at DESC, id DESC LIMIT 1`, caseID))
}

func (r Repo) ListGrants(ctx context.Context, caseID string) ([]domain.Grant, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+grantColumns+` FROM grants WHERE case_id=? ORDER BY issued_at DESC, id DESC`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	return res, nil
}

func (r Repo) RevokeGrant(ctx context.Context, tx *sql.Tx, id, revokedAt, revokedBy string) error {
	_, err := tx.ExecContext(ctx, `UPDATE grants SET revoked_at=?, revoked_by=? WHERE id=? AND revoked_at IS NULL`, revokedAt, revokedBy, id)
	return err
}
