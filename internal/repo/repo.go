package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"caseflow/internal/config"
	"caseflow/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// ErrStaleVersion signals a conditional update that matched no row because
// the stored version moved. Callers translate this to their own retry error.
var ErrStaleVersion = errors.New("stale version")

const caseColumns = `id,code,title,jurisdiction,jurisdiction_other,stage,status,anonymized,vip,urgent_dismissal,subject_suspended,serious_cause_enabled,evidence_locked,reporter_identity,legal_hold_contact,expert_access_contact,version,created_at,updated_at`

type caseScanner interface {
	Scan(dest ...any) error
}

func scanCase(row caseScanner) (domain.Case, error) {
	var c domain.Case
	var jurisdictionOther, reporter, legalHold, expertAccess sql.NullString
	err := row.Scan(&c.ID, &c.Code, &c.Title, &c.Jurisdiction, &jurisdictionOther, &c.Stage, &c.Status,
		&c.Anonymized, &c.VIP, &c.UrgentDismissal, &c.SubjectSuspended, &c.SeriousCauseEnabled, &c.EvidenceLocked,
		&reporter, &legalHold, &expertAccess, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if jurisdictionOther.Valid {
		c.JurisdictionOther = jurisdictionOther.String
	}
	if reporter.Valid {
		c.ReporterIdentity = reporter.String
	}
	if legalHold.Valid {
		c.LegalHoldContact = legalHold.String
	}
	if expertAccess.Valid {
		c.ExpertAccessContact = expertAccess.String
	}
	return c, err
}

func (r Repo) InsertCase(ctx context.Context, tx *sql.Tx, c domain.Case) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO cases(`+caseColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.Code, c.Title, c.Jurisdiction, nullable(c.JurisdictionOther), c.Stage, c.Status,
		c.Anonymized, c.VIP, c.UrgentDismissal, c.SubjectSuspended, c.SeriousCauseEnabled, c.EvidenceLocked,
		nullable(c.ReporterIdentity), nullable(c.LegalHoldContact), nullable(c.ExpertAccessContact), c.Version, c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) GetCase(ctx context.Context, id string) (domain.Case, error) {
	return scanCase(r.DB.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE id=?`, id))
}

func (r Repo) GetCaseTx(ctx context.Context, tx *sql.Tx, id string) (domain.Case, error) {
	return scanCase(tx.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE id=?`, id))
}

func (r Repo) GetCaseByCode(ctx context.Context, code string) (domain.Case, error) {
	return scanCase(r.DB.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE code=?`, code))
}

// UpdateCaseTx writes the full case row conditioned on the version the
// caller read. The stored version is bumped; zero rows affected means a
// concurrent writer won and the caller must re-read.
func (r Repo) UpdateCaseTx(ctx context.Context, tx *sql.Tx, c domain.Case) error {
	res, err := tx.ExecContext(ctx, `UPDATE cases SET code=?, title=?, jurisdiction=?, jurisdiction_other=?, stage=?, status=?, anonymized=?, vip=?, urgent_dismissal=?, subject_suspended=?, serious_cause_enabled=?, evidence_locked=?, reporter_identity=?, legal_hold_contact=?, expert_access_contact=?, version=version+1, updated_at=? WHERE id=? AND version=?`,
		c.Code, c.Title, c.Jurisdiction, nullable(c.JurisdictionOther), c.Stage, c.Status,
		c.Anonymized, c.VIP, c.UrgentDismissal, c.SubjectSuspended, c.SeriousCauseEnabled, c.EvidenceLocked,
		nullable(c.ReporterIdentity), nullable(c.LegalHoldContact), nullable(c.ExpertAccessContact), c.UpdatedAt, c.ID, c.Version)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		if scanErr := tx.QueryRowContext(ctx, `SELECT 1 FROM cases WHERE id=?`, c.ID).Scan(&exists); scanErr == sql.ErrNoRows {
			return ErrNotFound
		}
		return ErrStaleVersion
	}
	return nil
}

type CaseFilters struct {
	Stage           string
	Status          string
	Jurisdiction    string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListCases(ctx context.Context, f CaseFilters) ([]domain.Case, error) {
	var clauses []string
	var args []any
	if f.Stage != "" {
		clauses = append(clauses, "stage=?")
		args = append(args, f.Stage)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Jurisdiction != "" {
		clauses = append(clauses, "jurisdiction=?")
		args = append(args, f.Jurisdiction)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + caseColumns + ` FROM cases ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, nil
}

func (r Repo) UpsertGate(ctx context.Context, tx *sql.Tx, g domain.Gate) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO gates(case_id,key,status,payload_json,completed_by,completed_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(case_id,key) DO UPDATE SET status=excluded.status, payload_json=excluded.payload_json, completed_by=excluded.completed_by, completed_at=excluded.completed_at`,
		g.CaseID, g.Key, g.Status, g.PayloadJSON, nullableStringPtr(g.CompletedBy), nullableStringPtr(g.CompletedAt))
	return err
}

func scanGate(row caseScanner) (domain.Gate, error) {
	var g domain.Gate
	var completedBy, completedAt sql.NullString
	err := row.Scan(&g.CaseID, &g.Key, &g.Status, &g.PayloadJSON, &completedBy, &completedAt)
	if err == sql.ErrNoRows {
		return g, ErrNotFound
	}
	if completedBy.Valid {
		g.CompletedBy = &completedBy.String
	}
	if completedAt.Valid {
		g.CompletedAt = &completedAt.String
	}
	return g, err
}

func (r Repo) GetGate(ctx context.Context, caseID, key string) (domain.Gate, error) {
	return scanGate(r.DB.QueryRowContext(ctx, `SELECT case_id,key,status,payload_json,completed_by,completed_at FROM gates WHERE case_id=? AND key=?`, caseID, key))
}

func (r Repo) GetGateTx(ctx context.Context, tx *sql.Tx, caseID, key string) (domain.Gate, error) {
	return scanGate(tx.QueryRowContext(ctx, `SELECT case_id,key,status,payload_json,completed_by,completed_at FROM gates WHERE case_id=? AND key=?`, caseID, key))
}

func (r Repo) ListGates(ctx context.Context, caseID string) ([]domain.Gate, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT case_id,key,status,payload_json,completed_by,completed_at FROM gates WHERE case_id=? ORDER BY key`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Gate
	for rows.Next() {
		g, err := scanGate(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	return res, nil
}

// GateMapTx loads all gates of a case keyed by gate key, inside the caller's
// transaction so blocker evaluation sees a consistent snapshot.
func (r Repo) GateMapTx(ctx context.Context, tx *sql.Tx, caseID string) (map[string]domain.Gate, error) {
	rows, err := tx.QueryContext(ctx, `SELECT case_id,key,status,payload_json,completed_by,completed_at FROM gates WHERE case_id=?`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]domain.Gate{}
	for rows.Next() {
		g, err := scanGate(rows)
		if err != nil {
			return nil, err
		}
		res[g.Key] = g
	}
	return res, nil
}

func scanSeriousCause(row caseScanner) (domain.SeriousCause, error) {
	var sc domain.SeriousCause
	var decisionMaker, incidentAt, investigationStartedAt, factsConfirmedAt, decisionDueAt, dismissalDueAt sql.NullString
	var dismissalRecordedAt, reasonsSentAt, reasonsMethod, reasonsProofRef, missedReason, missedAckBy, missedAckAt sql.NullString
	err := row.Scan(&sc.CaseID, &decisionMaker, &incidentAt, &investigationStartedAt, &factsConfirmedAt,
		&decisionDueAt, &dismissalDueAt, &sc.RuleConfirmed, &dismissalRecordedAt,
		&reasonsSentAt, &reasonsMethod, &reasonsProofRef, &missedReason, &missedAckBy, &missedAckAt)
	if err == sql.ErrNoRows {
		return sc, ErrNotFound
	}
	if err != nil {
		return sc, err
	}
	if decisionMaker.Valid {
		sc.DecisionMaker = decisionMaker.String
	}
	if incidentAt.Valid {
		sc.IncidentAt = &incidentAt.String
	}
	if investigationStartedAt.Valid {
		sc.InvestigationStartedAt = &investigationStartedAt.String
	}
	if factsConfirmedAt.Valid {
		sc.FactsConfirmedAt = &factsConfirmedAt.String
	}
	if decisionDueAt.Valid {
		sc.DecisionDueAt = &decisionDueAt.String
	}
	if dismissalDueAt.Valid {
		sc.DismissalDueAt = &dismissalDueAt.String
	}
	if dismissalRecordedAt.Valid {
		sc.DismissalRecordedAt = &dismissalRecordedAt.String
	}
	if reasonsSentAt.Valid {
		sc.ReasonsSentAt = &reasonsSentAt.String
	}
	if reasonsMethod.Valid {
		sc.ReasonsMethod = reasonsMethod.String
	}
	if reasonsProofRef.Valid {
		sc.ReasonsProofRef = reasonsProofRef.String
	}
	if missedReason.Valid {
		sc.MissedReason = missedReason.String
	}
	if missedAckBy.Valid {
		sc.MissedAckBy = missedAckBy.String
	}
	if missedAckAt.Valid {
		sc.MissedAckAt = &missedAckAt.String
	}
	return sc, nil
}

const seriousCauseColumns = `case_id,decision_maker,incident_at,investigation_started_at,facts_confirmed_at,decision_due_at,dismissal_due_at,rule_confirmed,dismissal_recorded_at,reasons_sent_at,reasons_method,reasons_proof_ref,missed_reason,missed_ack_by,missed_ack_at`

func (r Repo) GetSeriousCause(ctx context.Context, caseID string) (domain.SeriousCause, error) {
	return scanSeriousCause(r.DB.QueryRowContext(ctx, `SELECT `+seriousCauseColumns+` FROM serious_cause WHERE case_id=?`, caseID))
}

func (r Repo) GetSeriousCauseTx(ctx context.Context, tx *sql.Tx, caseID string) (domain.SeriousCause, error) {
	return scanSeriousCause(tx.QueryRowContext(ctx, `SELECT `+seriousCauseColumns+` FROM serious_cause WHERE case_id=?`, caseID))
}

func (r Repo) UpsertSeriousCause(ctx context.Context, tx *sql.Tx, sc domain.SeriousCause) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO serious_cause(`+seriousCauseColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(case_id) DO UPDATE SET decision_maker=excluded.decision_maker, incident_at=excluded.incident_at, investigation_started_at=excluded.investigation_started_at,
facts_confirmed_at=excluded.facts_confirmed_at, decision_due_at=excluded.decision_due_at, dismissal_due_at=excluded.dismissal_due_at, rule_confirmed=excluded.rule_confirmed,
dismissal_recorded_at=excluded.dismissal_recorded_at, reasons_sent_at=excluded.reasons_sent_at, reasons_method=excluded.reasons_method, reasons_proof_ref=excluded.reasons_proof_ref,
missed_reason=excluded.missed_reason, missed_ack_by=excluded.missed_ack_by, missed_ack_at=excluded.missed_ack_at`,
		sc.CaseID, nullable(sc.DecisionMaker), nullableStringPtr(sc.IncidentAt), nullableStringPtr(sc.InvestigationStartedAt), nullableStringPtr(sc.FactsConfirmedAt),
		nullableStringPtr(sc.DecisionDueAt), nullableStringPtr(sc.DismissalDueAt), sc.RuleConfirmed, nullableStringPtr(sc.DismissalRecordedAt),
		nullableStringPtr(sc.ReasonsSentAt), nullable(sc.ReasonsMethod), nullable(sc.ReasonsProofRef), nullable(sc.MissedReason), nullable(sc.MissedAckBy), nullableStringPtr(sc.MissedAckAt))
	return err
}

func (r Repo) InsertOutcome(ctx context.Context, tx *sql.Tx, o domain.Outcome) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO outcomes(case_id,outcome,summary,decided_by,override_reason,decided_at) VALUES (?,?,?,?,?,?)`,
		o.CaseID, o.Outcome, nullable(o.Summary), o.DecidedBy, nullable(o.OverrideReason), o.DecidedAt)
	return err
}

func scanOutcome(row caseScanner) (domain.Outcome, error) {
	var o domain.Outcome
	var summary, overrideReason sql.NullString
	err := row.Scan(&o.CaseID, &o.Outcome, &summary, &o.DecidedBy, &overrideReason, &o.DecidedAt)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	if summary.Valid {
		o.Summary = summary.String
	}
	if overrideReason.Valid {
		o.OverrideReason = overrideReason.String
	}
	return o, err
}

func (r Repo) GetOutcome(ctx context.Context, caseID string) (domain.Outcome, error) {
	return scanOutcome(r.DB.QueryRowContext(ctx, `SELECT case_id,outcome,summary,decided_by,override_reason,decided_at FROM outcomes WHERE case_id=?`, caseID))
}

func (r Repo) GetOutcomeTx(ctx context.Context, tx *sql.Tx, caseID string) (domain.Outcome, error) {
	return scanOutcome(tx.QueryRowContext(ctx, `SELECT case_id,outcome,summary,decided_by,override_reason,decided_at FROM outcomes WHERE case_id=?`, caseID))
}

func (r Repo) InsertSubject(ctx context.Context, tx *sql.Tx, s domain.Subject) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO subjects(id,case_id,name,role,manager_name,created_at) VALUES (?,?,?,?,?,?)`,
		s.ID, s.CaseID, s.Name, nullable(s.Role), nullable(s.ManagerName), s.CreatedAt)
	return err
}

func (r Repo) ListSubjects(ctx context.Context, caseID string) ([]domain.Subject, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,case_id,name,role,manager_name,created_at FROM subjects WHERE case_id=? ORDER BY created_at, id`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Subject
	for rows.Next() {
		var s domain.Subject
		var role, manager sql.NullString
		if err := rows.Scan(&s.ID, &s.CaseID, &s.Name, &role, &manager, &s.CreatedAt); err != nil {
			return nil, err
		}
		if role.Valid {
			s.Role = role.String
		}
		if manager.Valid {
			s.ManagerName = manager.String
		}
		res = append(res, s)
	}
	return res, nil
}

func (r Repo) InsertEvidence(ctx context.Context, tx *sql.Tx, e domain.Evidence) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO evidence(id,case_id,label,link,added_by,created_at) VALUES (?,?,?,?,?,?)`,
		e.ID, e.CaseID, e.Label, nullable(e.Link), e.AddedBy, e.CreatedAt)
	return err
}

func (r Repo) ListEvidence(ctx context.Context, caseID string) ([]domain.Evidence, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,case_id,label,link,added_by,created_at FROM evidence WHERE case_id=? ORDER BY created_at, id`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Evidence
	for rows.Next() {
		var e domain.Evidence
		var link sql.NullString
		if err := rows.Scan(&e.ID, &e.CaseID, &e.Label, &link, &e.AddedBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		if link.Valid {
			e.Link = link.String
		}
		res = append(res, e)
	}
	return res, nil
}

func (r Repo) InsertNote(ctx context.Context, tx *sql.Tx, n domain.Note) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO notes(id,case_id,body,flagged_terms_json,author_id,created_at) VALUES (?,?,?,?,?,?)`,
		n.ID, n.CaseID, n.Body, nullableStringPtr(n.FlaggedTermsJSON), n.AuthorID, n.CreatedAt)
	return err
}

func (r Repo) ListNotes(ctx context.Context, caseID string) ([]domain.Note, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,case_id,body,flagged_terms_json,author_id,created_at FROM notes WHERE case_id=? ORDER BY created_at, id`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Note
	for rows.Next() {
		var n domain.Note
		var flagged sql.NullString
		if err := rows.Scan(&n.ID, &n.CaseID, &n.Body, &flagged, &n.AuthorID, &n.CreatedAt); err != nil {
			return nil, err
		}
		if flagged.Valid {
			n.FlaggedTermsJSON = &flagged.String
		}
		res = append(res, n)
	}
	return res, nil
}

func (r Repo) InsertCaseLink(ctx context.Context, tx *sql.Tx, l domain.CaseLink) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO case_links(case_id,linked_case_id,relation,created_at) VALUES (?,?,?,?)`,
		l.CaseID, l.LinkedCaseID, nullable(l.Relation), l.CreatedAt)
	return err
}

func (r Repo) ListCaseLinks(ctx context.Context, caseID string) ([]domain.CaseLink, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT case_id,linked_case_id,relation,created_at FROM case_links WHERE case_id=? ORDER BY created_at`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CaseLink
	for rows.Next() {
		var l domain.CaseLink
		var relation sql.NullString
		if err := rows.Scan(&l.CaseID, &l.LinkedCaseID, &relation, &l.CreatedAt); err != nil {
			return nil, err
		}
		if relation.Valid {
			l.Relation = relation.String
		}
		res = append(res, l)
	}
	return res, nil
}

func (r Repo) InsertCaseTask(ctx context.Context, tx *sql.Tx, t domain.CaseTask) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO case_tasks(id,case_id,title,status,assignee_id,created_at,completed_at) VALUES (?,?,?,?,?,?,?)`,
		t.ID, t.CaseID, t.Title, t.Status, nullableStringPtr(t.AssigneeID), t.CreatedAt, nullableStringPtr(t.CompletedAt))
	return err
}

func (r Repo) UpdateCaseTaskStatus(ctx context.Context, tx *sql.Tx, id, status string, completedAt *string) error {
	res, err := tx.ExecContext(ctx, `UPDATE case_tasks SET status=?, completed_at=? WHERE id=?`, status, nullableStringPtr(completedAt), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListCaseTasks(ctx context.Context, caseID string) ([]domain.CaseTask, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,case_id,title,status,assignee_id,created_at,completed_at FROM case_tasks WHERE case_id=? ORDER BY created_at, id`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CaseTask
	for rows.Next() {
		var t domain.CaseTask
		var assignee, completedAt sql.NullString
		if err := rows.Scan(&t.ID, &t.CaseID, &t.Title, &t.Status, &assignee, &t.CreatedAt, &completedAt); err != nil {
			return nil, err
		}
		if assignee.Valid {
			t.AssigneeID = &assignee.String
		}
		if completedAt.Valid {
			t.CompletedAt = &completedAt.String
		}
		res = append(res, t)
	}
	return res, nil
}

func (r Repo) UpsertWorkspaceConfig(ctx context.Context, workspaceID string, cfg *config.Config) error {
	return upsertWorkspaceConfig(ctx, r.DB, nil, workspaceID, cfg)
}

func (r Repo) UpsertWorkspaceConfigTx(ctx context.Context, tx *sql.Tx, workspaceID string, cfg *config.Config) error {
	return upsertWorkspaceConfig(ctx, nil, tx, workspaceID, cfg)
}

func upsertWorkspaceConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, workspaceID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Workspace.ID = workspaceID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO workspace_configs(workspace_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(workspace_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, workspaceID, string(payload), now, now)
	return err
}

func (r Repo) GetWorkspaceConfig(ctx context.Context, workspaceID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM workspace_configs WHERE workspace_id=?`, workspaceID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Workspace.ID == "" {
		cfg.Workspace.ID = workspaceID
	}
	return &cfg, cfg.Validate()
}

// SingleWorkspaceConfig returns the only stored config, for CLI invocations
// that do not name a workspace.
func (r Repo) SingleWorkspaceConfig(ctx context.Context) (string, *config.Config, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT workspace_id, config_json FROM workspace_configs`)
	if err != nil {
		return "", nil, err
	}
	defer rows.Close()
	type entry struct {
		id      string
		payload string
	}
	var entries []entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.id, &e.payload); err != nil {
			return "", nil, err
		}
		entries = append(entries, e)
	}
	if len(entries) == 0 {
		return "", nil, ErrNotFound
	}
	if len(entries) > 1 {
		return "", nil, fmt.Errorf("multiple workspaces exist; specify --workspace")
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(entries[0].payload), &cfg); err != nil {
		return "", nil, err
	}
	if cfg.Workspace.ID == "" {
		cfg.Workspace.ID = entries[0].id
	}
	return entries[0].id, &cfg, cfg.Validate()
}

func (r Repo) CountCasesByStage(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT stage, count(*) FROM cases GROUP BY stage`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var stage string
		var count int
		if err := rows.Scan(&stage, &count); err != nil {
			return nil, err
		}
		res[stage] = count
	}
	return res, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
