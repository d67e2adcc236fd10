package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"caseflow/internal/domain"
)

type AuditFilters struct {
	CaseID  string
	ActorID string
	Type    string
	Limit   int
	Cursor  int64
}

func scanAuditEvent(row caseScanner) (domain.AuditEvent, error) {
	var e domain.AuditEvent
	var caseID, changes, evtCtx sql.NullString
	err := row.Scan(&e.ID, &e.TS, &e.Type, &caseID, &e.ActorID, &e.Message, &changes, &evtCtx)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if caseID.Valid {
		e.CaseID = caseID.String
	}
	if changes.Valid {
		e.ChangesJSON = changes.String
	}
	if evtCtx.Valid {
		e.ContextJSON = evtCtx.String
	}
	return e, err
}

// LatestAuditEvents pages newest-first; Cursor is the smallest id already
// seen.
func (r Repo) LatestAuditEvents(ctx context.Context, f AuditFilters) ([]domain.AuditEvent, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.CaseID != "" {
		clauses = append(clauses, "case_id=?")
		args = append(args, f.CaseID)
	}
	if f.ActorID != "" {
		clauses = append(clauses, "actor_id=?")
		args = append(args, f.ActorID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.Cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Cursor)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,case_id,actor_id,message,changes_json,context_json FROM audit_events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditEvent
	for rows.Next() {
		e, err := scanAuditEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, nil
}

// AuditEventsAfter returns events with IDs greater than the cursor in
// ascending order, for webhook delivery.
func (r Repo) AuditEventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,case_id,actor_id,message,changes_json,context_json FROM audit_events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditEvent
	for rows.Next() {
		e, err := scanAuditEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, nil
}

// LatestAuditEventID returns the most recent ledger id.
func (r Repo) LatestAuditEventID(ctx context.Context) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM audit_events`)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}
