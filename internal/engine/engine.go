package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"caseflow/internal/audit"
	"caseflow/internal/config"
	"caseflow/internal/domain"
	"caseflow/internal/repo"
	"caseflow/internal/scan"
)

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Audit   audit.Writer
	Config  *config.Config
	Scanner scan.Classifier
	Now     func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	var terms []string
	if cfg != nil {
		terms = cfg.Scan.ProhibitedTerms
	}
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Audit:   audit.Writer{DB: db},
		Config:  cfg,
		Scanner: scan.NewTermScanner(terms),
		Now:     time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowRFC3339() string {
	return e.now().UTC().Format(time.RFC3339)
}

// auditWriter stamps audit events with the engine clock unless the writer
// carries its own.
func (e Engine) auditWriter() audit.Writer {
	w := e.Audit
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

func (e Engine) worksCouncilApplies(jurisdiction string) bool {
	if e.Config == nil {
		return false
	}
	rule, _ := e.Config.Rule(jurisdiction)
	return rule.WorksCouncil
}

// updateCase writes the case back conditioned on the version it was read at
// and maps a lost race to StaleWriteError.
func (e Engine) updateCase(ctx context.Context, tx *sql.Tx, c domain.Case) error {
	err := e.Repo.UpdateCaseTx(ctx, tx, c)
	if errors.Is(err, repo.ErrStaleVersion) {
		return StaleWriteError{CaseID: c.ID, ExpectedVersion: c.Version}
	}
	return err
}

// CaseCreateOptions are parameters for opening a case.
type CaseCreateOptions struct {
	Code             string
	Title            string
	Jurisdiction     string
	VIP              bool
	ReporterIdentity string
	ActorID          string
}

func (e Engine) CreateCase(ctx context.Context, opts CaseCreateOptions) (domain.Case, error) {
	if e.Config == nil {
		return domain.Case{}, errors.New("config not loaded")
	}
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Case{}, ValidationError{Field: "title", Message: "title is required"}
	}
	if strings.TrimSpace(opts.Jurisdiction) == "" {
		return domain.Case{}, ValidationError{Field: "jurisdiction", Message: "jurisdiction is required"}
	}
	code := strings.TrimSpace(opts.Code)
	if code == "" {
		code = "CASE-" + strings.ToUpper(uuid.NewString()[:8])
	}
	jurisdiction, freeText := domain.NormalizeJurisdiction(opts.Jurisdiction)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Case{}, err
	}
	defer tx.Rollback()

	now := e.nowRFC3339()
	c := domain.Case{
		ID:                uuid.NewString(),
		Code:              code,
		Title:             strings.TrimSpace(opts.Title),
		Jurisdiction:      jurisdiction,
		JurisdictionOther: freeText,
		Stage:             domain.StageIntake,
		Status:            domain.StatusOpen,
		VIP:               opts.VIP,
		ReporterIdentity:  strings.TrimSpace(opts.ReporterIdentity),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := e.Repo.InsertCase(ctx, tx, c); err != nil {
		return domain.Case{}, fmt.Errorf("insert case: %w", err)
	}
	evtCtx := audit.Context{"jurisdiction": c.Jurisdiction}
	if c.JurisdictionOther != "" {
		evtCtx["jurisdiction_other"] = c.JurisdictionOther
	}
	if err := e.auditWriter().Append(ctx, tx, "case.create", c.ID, opts.ActorID, "case opened", nil, evtCtx); err != nil {
		return domain.Case{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Case{}, err
	}
	return c, nil
}

// CaseUpdateOptions carries the editable case-detail fields. Nil pointers
// leave the stored value untouched. ExpectedVersion, when non-nil, must match
// the stored version or the save fails with StaleWriteError.
type CaseUpdateOptions struct {
	CaseID              string
	Title               *string
	Jurisdiction        *string
	VIP                 *bool
	UrgentDismissal     *bool
	SubjectSuspended    *bool
	ReporterIdentity    *string
	LegalHoldContact    *string
	ExpertAccessContact *string
	Override            bool
	OverrideReason      string
	ExpectedVersion     *int64
	ActorID             string
}

func (e Engine) UpdateCaseDetails(ctx context.Context, opts CaseUpdateOptions) (domain.Case, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Case{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCaseTx(ctx, tx, opts.CaseID)
	if err != nil {
		return domain.Case{}, err
	}
	if opts.ExpectedVersion != nil && *opts.ExpectedVersion != c.Version {
		return domain.Case{}, StaleWriteError{CaseID: c.ID, ExpectedVersion: *opts.ExpectedVersion}
	}
	if c.Status == domain.StatusErased {
		return domain.Case{}, StateError{Message: "case is erased"}
	}

	changes := map[string]audit.Change{}
	jurisdictionChanged := false
	if opts.Title != nil && *opts.Title != c.Title {
		if strings.TrimSpace(*opts.Title) == "" {
			return domain.Case{}, ValidationError{Field: "title", Message: "title cannot be empty"}
		}
		changes["title"] = audit.Change{From: c.Title, To: *opts.Title}
		c.Title = strings.TrimSpace(*opts.Title)
	}
	if opts.Jurisdiction != nil {
		code, freeText := domain.NormalizeJurisdiction(*opts.Jurisdiction)
		if code != c.Jurisdiction || freeText != c.JurisdictionOther {
			changes["jurisdiction"] = audit.Change{From: c.Jurisdiction, To: code}
			c.Jurisdiction = code
			c.JurisdictionOther = freeText
			jurisdictionChanged = true
		}
	}
	if opts.VIP != nil && *opts.VIP != c.VIP {
		changes["vip"] = audit.Change{From: c.VIP, To: *opts.VIP}
		c.VIP = *opts.VIP
	}
	if opts.UrgentDismissal != nil && *opts.UrgentDismissal != c.UrgentDismissal {
		changes["urgent_dismissal"] = audit.Change{From: c.UrgentDismissal, To: *opts.UrgentDismissal}
		c.UrgentDismissal = *opts.UrgentDismissal
	}
	if opts.SubjectSuspended != nil && *opts.SubjectSuspended != c.SubjectSuspended {
		changes["subject_suspended"] = audit.Change{From: c.SubjectSuspended, To: *opts.SubjectSuspended}
		c.SubjectSuspended = *opts.SubjectSuspended
	}
	if opts.ReporterIdentity != nil && *opts.ReporterIdentity != c.ReporterIdentity {
		if err := e.requireGrantTx(ctx, tx, c.ID, "reporter identity"); err != nil {
			return domain.Case{}, err
		}
		changes["reporter_identity"] = audit.Change{From: "[redacted]", To: "[redacted]"}
		c.ReporterIdentity = *opts.ReporterIdentity
	}
	if opts.LegalHoldContact != nil && *opts.LegalHoldContact != c.LegalHoldContact {
		if err := e.requireGrantTx(ctx, tx, c.ID, "legal hold contact"); err != nil {
			return domain.Case{}, err
		}
		changes["legal_hold_contact"] = audit.Change{From: "[redacted]", To: "[redacted]"}
		c.LegalHoldContact = *opts.LegalHoldContact
	}
	if opts.ExpertAccessContact != nil && *opts.ExpertAccessContact != c.ExpertAccessContact {
		if err := e.requireGrantTx(ctx, tx, c.ID, "expert access contact"); err != nil {
			return domain.Case{}, err
		}
		changes["expert_access_contact"] = audit.Change{From: "[redacted]", To: "[redacted]"}
		c.ExpertAccessContact = *opts.ExpertAccessContact
	}
	if len(changes) == 0 {
		return c, nil
	}

	// NL urgent-dismissal guardrail: a one-shot override, re-evaluated on
	// every save where the three conditions hold.
	if c.Jurisdiction == domain.JurisdictionNL && c.UrgentDismissal && !c.SubjectSuspended {
		if !opts.Override {
			return domain.Case{}, OverrideRequiredError{
				Code:    "nl_suspension_missing",
				Message: "urgent dismissal in NL without subject suspension; resubmit with an override reason to proceed",
			}
		}
		if strings.TrimSpace(opts.OverrideReason) == "" {
			return domain.Case{}, ValidationError{Field: "override_reason", Message: "override requires a reason"}
		}
		if err := e.auditWriter().Append(ctx, tx, "case.guardrail_override", c.ID, opts.ActorID,
			"NL urgent-dismissal guardrail overridden", nil,
			audit.Context{"guardrail": "nl_suspension_missing", "reason": opts.OverrideReason}); err != nil {
			return domain.Case{}, err
		}
	}

	c.UpdatedAt = e.nowRFC3339()
	if err := e.updateCase(ctx, tx, c); err != nil {
		return domain.Case{}, err
	}
	if jurisdictionChanged {
		if err := e.recomputeDeadlinesTx(ctx, tx, c, opts.ActorID); err != nil {
			return domain.Case{}, err
		}
	}
	if err := e.auditWriter().Append(ctx, tx, "case.update", c.ID, opts.ActorID, "case details updated", changes, nil); err != nil {
		return domain.Case{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Case{}, err
	}
	c.Version++
	return c, nil
}

var validStatusTransitions = map[string][]string{
	domain.StatusOpen:           {domain.StatusOnHold, domain.StatusClosed},
	domain.StatusOnHold:         {domain.StatusOpen, domain.StatusClosed},
	domain.StatusClosed:         {domain.StatusOpen, domain.StatusErasurePending},
	domain.StatusErasurePending: {domain.StatusClosed, domain.StatusErased},
}

func (e Engine) SetStatus(ctx context.Context, caseID, status, actorID string) (domain.Case, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Case{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCaseTx(ctx, tx, caseID)
	if err != nil {
		return domain.Case{}, err
	}
	if status == c.Status {
		return c, nil
	}
	allowed := false
	for _, next := range validStatusTransitions[c.Status] {
		if next == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return domain.Case{}, StateError{Message: fmt.Sprintf("invalid status transition %s -> %s", c.Status, status)}
	}
	changes := map[string]audit.Change{"status": {From: c.Status, To: status}}
	c.Status = status
	c.UpdatedAt = e.nowRFC3339()
	if err := e.updateCase(ctx, tx, c); err != nil {
		return domain.Case{}, err
	}
	if err := e.auditWriter().Append(ctx, tx, "case.status", c.ID, actorID, "case status changed", changes, nil); err != nil {
		return domain.Case{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Case{}, err
	}
	c.Version++
	return c, nil
}

// Anonymize scrubs personal data from a closed case and marks it erased. The
// audit trail keeps the fact of erasure, never the erased values.
func (e Engine) Anonymize(ctx context.Context, caseID, actorID string) (domain.Case, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Case{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCaseTx(ctx, tx, caseID)
	if err != nil {
		return domain.Case{}, err
	}
	if c.Status != domain.StatusClosed && c.Status != domain.StatusErasurePending {
		return domain.Case{}, StateError{Message: "only closed cases can be anonymized"}
	}
	if c.Anonymized {
		return c, nil
	}
	c.Anonymized = true
	c.ReporterIdentity = ""
	c.LegalHoldContact = ""
	c.ExpertAccessContact = ""
	c.Status = domain.StatusErased
	c.UpdatedAt = e.nowRFC3339()
	if err := e.updateCase(ctx, tx, c); err != nil {
		return domain.Case{}, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE subjects SET name='[erased]', manager_name=NULL WHERE case_id=?`, c.ID); err != nil {
		return domain.Case{}, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE notes SET body='[erased]' WHERE case_id=?`, c.ID); err != nil {
		return domain.Case{}, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE evidence SET link=NULL WHERE case_id=?`, c.ID); err != nil {
		return domain.Case{}, err
	}
	if err := e.auditWriter().Append(ctx, tx, "case.anonymize", c.ID, actorID, "case anonymized", nil, nil); err != nil {
		return domain.Case{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Case{}, err
	}
	c.Version++
	return c, nil
}

// SaveGate validates and upserts one gate record. Overwrites audit a
// field-level diff of the payload.
func (e Engine) SaveGate(ctx context.Context, caseID, key string, payload map[string]any, actorID string) (domain.Gate, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	if err := validateGatePayload(key, payload); err != nil {
		return domain.Gate{}, err
	}
	payloadData, err := json.Marshal(payload)
	if err != nil {
		return domain.Gate{}, ValidationError{Field: "payload", Message: err.Error()}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Gate{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCaseTx(ctx, tx, caseID)
	if err != nil {
		return domain.Gate{}, err
	}
	if c.Status == domain.StatusErased {
		return domain.Gate{}, StateError{Message: "case is erased"}
	}

	prev, err := e.Repo.GetGateTx(ctx, tx, caseID, key)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return domain.Gate{}, err
	}
	hadPrev := err == nil

	completedBy := actorID
	completedAt := e.nowRFC3339()
	g := domain.Gate{
		CaseID:      caseID,
		Key:         key,
		Status:      domain.GateStatusComplete,
		PayloadJSON: string(payloadData),
		CompletedBy: &completedBy,
		CompletedAt: &completedAt,
	}
	if err := e.Repo.UpsertGate(ctx, tx, g); err != nil {
		return domain.Gate{}, err
	}

	changes := map[string]audit.Change{}
	if hadPrev {
		prevPayload := gatePayload(&prev)
		for field, newVal := range payload {
			oldVal, had := prevPayload[field]
			if !had || fmt.Sprint(oldVal) != fmt.Sprint(newVal) {
				changes[field] = audit.Change{From: oldVal, To: newVal}
			}
		}
		for field, oldVal := range prevPayload {
			if _, still := payload[field]; !still {
				changes[field] = audit.Change{From: oldVal, To: nil}
			}
		}
	}

	// Works-council monitoring without recorded approval freezes evidence
	// mutation until approval lands.
	if key == domain.GateWorksCouncil {
		locked := payloadBool(payload, "monitoring") && payloadString(payload, "approval_received_at") == ""
		if locked != c.EvidenceLocked {
			c.EvidenceLocked = locked
			c.UpdatedAt = completedAt
			if err := e.updateCase(ctx, tx, c); err != nil {
				return domain.Gate{}, err
			}
			changes["evidence_locked"] = audit.Change{From: !locked, To: locked}
		}
	}

	if err := e.auditWriter().Append(ctx, tx, "gate.save", caseID, actorID,
		fmt.Sprintf("gate %s completed", key), changes, audit.Context{"gate": key}); err != nil {
		return domain.Gate{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Gate{}, err
	}
	return g, nil
}

// RequestStageTransition moves the case to targetStage if every precondition
// holds. Blockers are evaluated exhaustively in one pass; any blocker aborts
// with no partial mutation. Backward moves are not gated.
func (e Engine) RequestStageTransition(ctx context.Context, caseID, targetStage, actorID string) (domain.Case, error) {
	targetIdx := domain.StageIndex(targetStage)
	if targetIdx < 0 {
		return domain.Case{}, ValidationError{Field: "stage", Message: fmt.Sprintf("unknown stage %q", targetStage)}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Case{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCaseTx(ctx, tx, caseID)
	if err != nil {
		return domain.Case{}, err
	}
	if c.Status != domain.StatusOpen {
		return domain.Case{}, StateError{Message: fmt.Sprintf("case is %s; stage changes require an open case", c.Status)}
	}
	if targetStage == c.Stage {
		return c, nil
	}

	if targetIdx > domain.StageIndex(c.Stage) {
		gates, err := e.Repo.GateMapTx(ctx, tx, caseID)
		if err != nil {
			return domain.Case{}, err
		}
		var sc *domain.SeriousCause
		if c.SeriousCauseEnabled {
			rec, err := e.Repo.GetSeriousCauseTx(ctx, tx, caseID)
			if err != nil && !errors.Is(err, repo.ErrNotFound) {
				return domain.Case{}, err
			}
			if err == nil {
				sc = &rec
			}
		}
		var outcome *domain.Outcome
		if o, err := e.Repo.GetOutcomeTx(ctx, tx, caseID); err == nil {
			outcome = &o
		} else if !errors.Is(err, repo.ErrNotFound) {
			return domain.Case{}, err
		}
		blockers := transitionBlockers(c, targetStage, gates, sc, outcome, e.worksCouncilApplies(c.Jurisdiction))
		if len(blockers) > 0 {
			return domain.Case{}, BlockedError{Target: targetStage, Blockers: blockers}
		}
	}

	changes := map[string]audit.Change{"stage": {From: c.Stage, To: targetStage}}
	c.Stage = targetStage
	c.UpdatedAt = e.nowRFC3339()
	if err := e.updateCase(ctx, tx, c); err != nil {
		return domain.Case{}, err
	}
	if err := e.auditWriter().Append(ctx, tx, "case.stage", c.ID, actorID, "case stage changed", changes, nil); err != nil {
		return domain.Case{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Case{}, err
	}
	c.Version++
	return c, nil
}

// StageBlockers reports the current blocker list for a prospective move
// without mutating anything.
func (e Engine) StageBlockers(ctx context.Context, caseID, targetStage string) ([]Blocker, error) {
	if domain.StageIndex(targetStage) < 0 {
		return nil, ValidationError{Field: "stage", Message: fmt.Sprintf("unknown stage %q", targetStage)}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	c, err := e.Repo.GetCaseTx(ctx, tx, caseID)
	if err != nil {
		return nil, err
	}
	gates, err := e.Repo.GateMapTx(ctx, tx, caseID)
	if err != nil {
		return nil, err
	}
	var sc *domain.SeriousCause
	if rec, err := e.Repo.GetSeriousCauseTx(ctx, tx, caseID); err == nil {
		sc = &rec
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	var outcome *domain.Outcome
	if o, err := e.Repo.GetOutcomeTx(ctx, tx, caseID); err == nil {
		outcome = &o
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	return transitionBlockers(c, targetStage, gates, sc, outcome, e.worksCouncilApplies(c.Jurisdiction)), nil
}

// SeriousCauseEnableOptions starts the serious-cause workflow on a case.
type SeriousCauseEnableOptions struct {
	CaseID                 string
	DecisionMaker          string
	IncidentAt             string
	InvestigationStartedAt string
	ActorID                string
}

func (e Engine) EnableSeriousCause(ctx context.Context, opts SeriousCauseEnableOptions) (domain.SeriousCause, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.SeriousCause{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCaseTx(ctx, tx, opts.CaseID)
	if err != nil {
		return domain.SeriousCause{}, err
	}
	if c.SeriousCauseEnabled {
		return domain.SeriousCause{}, StateError{Message: "serious-cause workflow already enabled"}
	}
	sc := domain.SeriousCause{
		CaseID:        c.ID,
		DecisionMaker: strings.TrimSpace(opts.DecisionMaker),
	}
	if opts.IncidentAt != "" {
		ts, err := parseRFC3339(opts.IncidentAt, "incident_at")
		if err != nil {
			return domain.SeriousCause{}, err
		}
		v := ts.UTC().Format(time.RFC3339)
		sc.IncidentAt = &v
	}
	if opts.InvestigationStartedAt != "" {
		ts, err := parseRFC3339(opts.InvestigationStartedAt, "investigation_started_at")
		if err != nil {
			return domain.SeriousCause{}, err
		}
		v := ts.UTC().Format(time.RFC3339)
		sc.InvestigationStartedAt = &v
	}
	if err := e.Repo.UpsertSeriousCause(ctx, tx, sc); err != nil {
		return domain.SeriousCause{}, err
	}
	c.SeriousCauseEnabled = true
	c.UpdatedAt = e.nowRFC3339()
	if err := e.updateCase(ctx, tx, c); err != nil {
		return domain.SeriousCause{}, err
	}
	if err := e.auditWriter().Append(ctx, tx, "serious_cause.enable", c.ID, opts.ActorID, "serious-cause workflow enabled", nil,
		audit.Context{"decision_maker": sc.DecisionMaker}); err != nil {
		return domain.SeriousCause{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.SeriousCause{}, err
	}
	return sc, nil
}

// SubmitFindings sets facts_confirmed_at and recomputes both due-dates.
func (e Engine) SubmitFindings(ctx context.Context, caseID, confirmedAt, actorID string) (domain.SeriousCause, error) {
	ts, err := parseRFC3339(confirmedAt, "confirmed_at")
	if err != nil {
		return domain.SeriousCause{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.SeriousCause{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCaseTx(ctx, tx, caseID)
	if err != nil {
		return domain.SeriousCause{}, err
	}
	if !c.SeriousCauseEnabled {
		return domain.SeriousCause{}, StateError{Message: "serious-cause workflow not enabled"}
	}
	sc, err := e.Repo.GetSeriousCauseTx(ctx, tx, caseID)
	if err != nil {
		return domain.SeriousCause{}, err
	}
	if sc.DismissalRecordedAt != nil {
		return domain.SeriousCause{}, StateError{Message: "dismissal already recorded; findings are frozen"}
	}

	confirmed := ts.UTC().Format(time.RFC3339)
	sc.FactsConfirmedAt = &confirmed
	result := ComputeDeadlines(e.Config, c.Jurisdiction, ts.UTC())
	decisionDue := result.DecisionDueAt.Format(time.RFC3339)
	dismissalDue := result.DismissalDueAt.Format(time.RFC3339)
	sc.DecisionDueAt = &decisionDue
	sc.DismissalDueAt = &dismissalDue
	sc.RuleConfirmed = result.RuleConfirmed
	if err := e.Repo.UpsertSeriousCause(ctx, tx, sc); err != nil {
		return domain.SeriousCause{}, err
	}
	if err := e.auditWriter().Append(ctx, tx, "serious_cause.findings", c.ID, actorID, "findings submitted",
		map[string]audit.Change{
			"facts_confirmed_at": {From: nil, To: confirmed},
			"decision_due_at":    {From: nil, To: decisionDue},
			"dismissal_due_at":   {From: nil, To: dismissalDue},
		},
		audit.Context{"rule_confirmed": result.RuleConfirmed}); err != nil {
		return domain.SeriousCause{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.SeriousCause{}, err
	}
	return sc, nil
}

// recomputeDeadlinesTx re-derives due-dates after a jurisdiction change, in
// the caller's transaction. No-op without a facts-confirmed timestamp.
func (e Engine) recomputeDeadlinesTx(ctx context.Context, tx *sql.Tx, c domain.Case, actorID string) error {
	if !c.SeriousCauseEnabled {
		return nil
	}
	sc, err := e.Repo.GetSeriousCauseTx(ctx, tx, c.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if sc.FactsConfirmedAt == nil {
		return nil
	}
	confirmed, err := time.Parse(time.RFC3339, *sc.FactsConfirmedAt)
	if err != nil {
		return fmt.Errorf("stored facts_confirmed_at: %w", err)
	}
	result := ComputeDeadlines(e.Config, c.Jurisdiction, confirmed)
	decisionDue := result.DecisionDueAt.Format(time.RFC3339)
	dismissalDue := result.DismissalDueAt.Format(time.RFC3339)
	changes := map[string]audit.Change{
		"decision_due_at":  {From: deref(sc.DecisionDueAt), To: decisionDue},
		"dismissal_due_at": {From: deref(sc.DismissalDueAt), To: dismissalDue},
	}
	sc.DecisionDueAt = &decisionDue
	sc.DismissalDueAt = &dismissalDue
	sc.RuleConfirmed = result.RuleConfirmed
	if err := e.Repo.UpsertSeriousCause(ctx, tx, sc); err != nil {
		return err
	}
	return e.auditWriter().Append(ctx, tx, "serious_cause.recompute", c.ID, actorID, "due dates recomputed after jurisdiction change",
		changes, audit.Context{"jurisdiction": c.Jurisdiction, "rule_confirmed": result.RuleConfirmed})
}

func (e Engine) RecordDismissal(ctx context.Context, caseID, recordedAt, actorID string) (domain.SeriousCause, error) {
	ts, err := parseRFC3339(recordedAt, "recorded_at")
	if err != nil {
		return domain.SeriousCause{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.SeriousCause{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCaseTx(ctx, tx, caseID)
	if err != nil {
		return domain.SeriousCause{}, err
	}
	if !c.SeriousCauseEnabled {
		return domain.SeriousCause{}, StateError{Message: "serious-cause workflow not enabled"}
	}
	sc, err := e.Repo.GetSeriousCauseTx(ctx, tx, caseID)
	if err != nil {
		return domain.SeriousCause{}, err
	}
	if sc.DismissalRecordedAt != nil {
		return domain.SeriousCause{}, StateError{Message: "dismissal already recorded"}
	}
	recorded := ts.UTC().Format(time.RFC3339)
	sc.DismissalRecordedAt = &recorded
	if err := e.Repo.UpsertSeriousCause(ctx, tx, sc); err != nil {
		return domain.SeriousCause{}, err
	}
	if err := e.auditWriter().Append(ctx, tx, "serious_cause.dismissal", c.ID, actorID, "dismissal recorded",
		map[string]audit.Change{"dismissal_recorded_at": {From: nil, To: recorded}}, nil); err != nil {
		return domain.SeriousCause{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.SeriousCause{}, err
	}
	return sc, nil
}

func (e Engine) RecordReasonsSent(ctx context.Context, caseID, sentAt, method, proofRef, actorID string) (domain.SeriousCause, error) {
	ts, err := parseRFC3339(sentAt, "sent_at")
	if err != nil {
		return domain.SeriousCause{}, err
	}
	if strings.TrimSpace(method) == "" {
		return domain.SeriousCause{}, ValidationError{Field: "method", Message: "delivery method is required"}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.SeriousCause{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCaseTx(ctx, tx, caseID)
	if err != nil {
		return domain.SeriousCause{}, err
	}
	if !c.SeriousCauseEnabled {
		return domain.SeriousCause{}, StateError{Message: "serious-cause workflow not enabled"}
	}
	sc, err := e.Repo.GetSeriousCauseTx(ctx, tx, caseID)
	if err != nil {
		return domain.SeriousCause{}, err
	}
	if sc.DismissalRecordedAt == nil {
		return domain.SeriousCause{}, StateError{Message: "no dismissal recorded yet"}
	}
	sent := ts.UTC().Format(time.RFC3339)
	sc.ReasonsSentAt = &sent
	sc.ReasonsMethod = strings.TrimSpace(method)
	sc.ReasonsProofRef = strings.TrimSpace(proofRef)
	if err := e.Repo.UpsertSeriousCause(ctx, tx, sc); err != nil {
		return domain.SeriousCause{}, err
	}
	if err := e.auditWriter().Append(ctx, tx, "serious_cause.reasons", c.ID, actorID, "dismissal reasons sent",
		map[string]audit.Change{"reasons_sent_at": {From: nil, To: sent}},
		audit.Context{"method": sc.ReasonsMethod, "proof_ref": sc.ReasonsProofRef}); err != nil {
		return domain.SeriousCause{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.SeriousCause{}, err
	}
	return sc, nil
}

// AcknowledgeMissedDeadline records a one-time acknowledgment that the
// dismissal window lapsed. It never resets or extends the deadline.
func (e Engine) AcknowledgeMissedDeadline(ctx context.Context, caseID, reason, actorID string) (domain.SeriousCause, error) {
	if strings.TrimSpace(reason) == "" {
		return domain.SeriousCause{}, ValidationError{Field: "reason", Message: "reason is required"}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.SeriousCause{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCaseTx(ctx, tx, caseID)
	if err != nil {
		return domain.SeriousCause{}, err
	}
	if !c.SeriousCauseEnabled {
		return domain.SeriousCause{}, StateError{Message: "serious-cause workflow not enabled"}
	}
	sc, err := e.Repo.GetSeriousCauseTx(ctx, tx, caseID)
	if err != nil {
		return domain.SeriousCause{}, err
	}
	if sc.DismissalRecordedAt != nil {
		return domain.SeriousCause{}, StateError{Message: "dismissal was recorded; nothing to acknowledge"}
	}
	if sc.DismissalDueAt == nil {
		return domain.SeriousCause{}, StateError{Message: "no dismissal deadline computed yet"}
	}
	due, err := time.Parse(time.RFC3339, *sc.DismissalDueAt)
	if err != nil {
		return domain.SeriousCause{}, fmt.Errorf("stored dismissal_due_at: %w", err)
	}
	if !e.now().UTC().After(due) {
		return domain.SeriousCause{}, StateError{Message: "dismissal deadline has not passed"}
	}
	if sc.MissedAckAt != nil {
		return domain.SeriousCause{}, StateError{Message: "missed deadline already acknowledged"}
	}
	ackAt := e.nowRFC3339()
	sc.MissedReason = strings.TrimSpace(reason)
	sc.MissedAckBy = actorID
	sc.MissedAckAt = &ackAt
	if err := e.Repo.UpsertSeriousCause(ctx, tx, sc); err != nil {
		return domain.SeriousCause{}, err
	}
	if err := e.auditWriter().Append(ctx, tx, "serious_cause.missed_ack", c.ID, actorID, "missed dismissal deadline acknowledged",
		nil, audit.Context{"reason": sc.MissedReason}); err != nil {
		return domain.SeriousCause{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.SeriousCause{}, err
	}
	return sc, nil
}

// Break-glass grant duration bounds, in minutes.
const (
	GrantMinMinutes = 15
	GrantMaxMinutes = 480
)

func (e Engine) RequestGrant(ctx context.Context, caseID, actorID, reason string, durationMinutes int) (domain.Grant, error) {
	if strings.TrimSpace(reason) == "" {
		return domain.Grant{}, ValidationError{Field: "reason", Message: "justification is required"}
	}
	if durationMinutes < GrantMinMinutes {
		durationMinutes = GrantMinMinutes
	}
	if durationMinutes > GrantMaxMinutes {
		durationMinutes = GrantMaxMinutes
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Grant{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCaseTx(ctx, tx, caseID)
	if err != nil {
		return domain.Grant{}, err
	}
	now := e.now().UTC()
	g := domain.Grant{
		ID:              uuid.NewString(),
		CaseID:          c.ID,
		Reason:          strings.TrimSpace(reason),
		DurationMinutes: durationMinutes,
		GrantedBy:       actorID,
		IssuedAt:        now.Format(time.RFC3339),
		ExpiresAt:       now.Add(time.Duration(durationMinutes) * time.Minute).Format(time.RFC3339),
	}
	if err := e.Repo.InsertGrant(ctx, tx, g); err != nil {
		return domain.Grant{}, err
	}
	if err := e.auditWriter().Append(ctx, tx, "grant.issue", c.ID, actorID, "break-glass access granted", nil,
		audit.Context{"reason": g.Reason, "duration_minutes": g.DurationMinutes, "expires_at": g.ExpiresAt}); err != nil {
		return domain.Grant{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Grant{}, err
	}
	return g, nil
}

// RevokeGrant is idempotent: revoking an already-revoked or expired grant is
// a no-op success.
func (e Engine) RevokeGrant(ctx context.Context, grantID, actorID string) (domain.Grant, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Grant{}, err
	}
	defer tx.Rollback()

	g, err := e.Repo.GetGrantTx(ctx, tx, grantID)
	if err != nil {
		return domain.Grant{}, err
	}
	if g.RevokedAt != nil {
		return g, nil
	}
	revokedAt := e.nowRFC3339()
	if err := e.Repo.RevokeGrant(ctx, tx, g.ID, revokedAt, actorID); err != nil {
		return domain.Grant{}, err
	}
	g.RevokedAt = &revokedAt
	g.RevokedBy = &actorID
	if err := e.auditWriter().Append(ctx, tx, "grant.revoke", g.CaseID, actorID, "break-glass access revoked", nil,
		audit.Context{"grant_id": g.ID}); err != nil {
		return domain.Grant{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Grant{}, err
	}
	return g, nil
}

// GrantValid evaluates validity lazily against now; nothing is cached.
func GrantValid(g domain.Grant, now time.Time) bool {
	if g.RevokedAt != nil {
		return false
	}
	expires, err := time.Parse(time.RFC3339, g.ExpiresAt)
	if err != nil {
		return false
	}
	return now.UTC().Before(expires)
}

// HasActiveGrant reports whether any grant on the case is currently usable.
// A valid grant issued earlier keeps access open regardless of what happened
// to grants issued after it.
func (e Engine) HasActiveGrant(ctx context.Context, caseID string) (bool, error) {
	g, err := e.Repo.UnrevokedGrant(ctx, caseID)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return GrantValid(g, e.now()), nil
}

func (e Engine) requireGrantTx(ctx context.Context, tx *sql.Tx, caseID, resource string) error {
	g, err := e.Repo.UnrevokedGrantTx(ctx, tx, caseID)
	if errors.Is(err, repo.ErrNotFound) {
		return AccessDeniedError{Resource: resource}
	}
	if err != nil {
		return err
	}
	if !GrantValid(g, e.now()) {
		return AccessDeniedError{Resource: resource}
	}
	return nil
}

// DecisionOptions records the case outcome.
type DecisionOptions struct {
	CaseID         string
	Outcome        string
	Summary        string
	OverrideReason string
	ActorID        string
}

// RecordDecision writes the case outcome after role-separation checks. A
// non-empty override reason bypasses conflicts and is stored permanently on
// the outcome.
func (e Engine) RecordDecision(ctx context.Context, opts DecisionOptions) (domain.Outcome, error) {
	if strings.TrimSpace(opts.Outcome) == "" {
		return domain.Outcome{}, ValidationError{Field: "outcome", Message: "outcome is required"}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Outcome{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCaseTx(ctx, tx, opts.CaseID)
	if err != nil {
		return domain.Outcome{}, err
	}
	if c.Stage != domain.StageDecision {
		return domain.Outcome{}, StateError{Message: fmt.Sprintf("case is in %s; decisions are recorded in DECISION", c.Stage)}
	}
	if _, err := e.Repo.GetOutcomeTx(ctx, tx, c.ID); err == nil {
		return domain.Outcome{}, StateError{Message: "decision already recorded"}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Outcome{}, err
	}

	investigator := ""
	if g, err := e.Repo.GetGateTx(ctx, tx, c.ID, domain.GateCredentialing); err == nil {
		investigator = payloadString(gatePayload(&g), "investigator_name")
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Outcome{}, err
	}
	decisionMaker := ""
	if sc, err := e.Repo.GetSeriousCauseTx(ctx, tx, c.ID); err == nil {
		decisionMaker = sc.DecisionMaker
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Outcome{}, err
	}

	conflicts := decisionConflicts(investigator, decisionMaker, opts.ActorID)
	overrideReason := strings.TrimSpace(opts.OverrideReason)
	if len(conflicts) > 0 && overrideReason == "" {
		return domain.Outcome{}, ConflictError{Conflicts: conflicts}
	}

	o := domain.Outcome{
		CaseID:         c.ID,
		Outcome:        strings.TrimSpace(opts.Outcome),
		Summary:        strings.TrimSpace(opts.Summary),
		DecidedBy:      opts.ActorID,
		OverrideReason: overrideReason,
		DecidedAt:      e.nowRFC3339(),
	}
	if err := e.Repo.InsertOutcome(ctx, tx, o); err != nil {
		return domain.Outcome{}, err
	}
	evtCtx := audit.Context{"outcome": o.Outcome}
	if len(conflicts) > 0 {
		evtCtx["conflicts"] = conflicts
		evtCtx["override_reason"] = overrideReason
	}
	if err := e.auditWriter().Append(ctx, tx, "case.decision", c.ID, opts.ActorID, "decision recorded", nil, evtCtx); err != nil {
		return domain.Outcome{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Outcome{}, err
	}
	return o, nil
}

func (e Engine) AddSubject(ctx context.Context, caseID, name, role, managerName, actorID string) (domain.Subject, error) {
	if strings.TrimSpace(name) == "" {
		return domain.Subject{}, ValidationError{Field: "name", Message: "name is required"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Subject{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCaseTx(ctx, tx, caseID)
	if err != nil {
		return domain.Subject{}, err
	}
	if c.Status == domain.StatusErased {
		return domain.Subject{}, StateError{Message: "case is erased"}
	}
	if strings.TrimSpace(managerName) != "" {
		if err := e.requireGrantTx(ctx, tx, c.ID, "subject manager name"); err != nil {
			return domain.Subject{}, err
		}
	}
	s := domain.Subject{
		ID:          uuid.NewString(),
		CaseID:      c.ID,
		Name:        strings.TrimSpace(name),
		Role:        strings.TrimSpace(role),
		ManagerName: strings.TrimSpace(managerName),
		CreatedAt:   e.nowRFC3339(),
	}
	if err := e.Repo.InsertSubject(ctx, tx, s); err != nil {
		return domain.Subject{}, err
	}
	if err := e.auditWriter().Append(ctx, tx, "subject.add", c.ID, actorID, "subject added", nil,
		audit.Context{"subject_id": s.ID}); err != nil {
		return domain.Subject{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Subject{}, err
	}
	return s, nil
}

func (e Engine) AddEvidence(ctx context.Context, caseID, label, link, actorID string) (domain.Evidence, error) {
	if strings.TrimSpace(label) == "" {
		return domain.Evidence{}, ValidationError{Field: "label", Message: "label is required"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Evidence{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCaseTx(ctx, tx, caseID)
	if err != nil {
		return domain.Evidence{}, err
	}
	if c.Status == domain.StatusErased {
		return domain.Evidence{}, StateError{Message: "case is erased"}
	}
	if c.EvidenceLocked {
		return domain.Evidence{}, StateError{Message: "evidence is locked pending works council approval"}
	}
	if strings.TrimSpace(link) != "" {
		if err := e.requireGrantTx(ctx, tx, c.ID, "evidence link"); err != nil {
			return domain.Evidence{}, err
		}
	}
	ev := domain.Evidence{
		ID:        uuid.NewString(),
		CaseID:    c.ID,
		Label:     strings.TrimSpace(label),
		Link:      strings.TrimSpace(link),
		AddedBy:   actorID,
		CreatedAt: e.nowRFC3339(),
	}
	if err := e.Repo.InsertEvidence(ctx, tx, ev); err != nil {
		return domain.Evidence{}, err
	}
	if err := e.auditWriter().Append(ctx, tx, "evidence.add", c.ID, actorID, "evidence added", nil,
		audit.Context{"evidence_id": ev.ID, "label": ev.Label}); err != nil {
		return domain.Evidence{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Evidence{}, err
	}
	return ev, nil
}

// AddNote persists a note after a prohibited-term scan. Matches are recorded
// on the note and in the audit trail; the note itself always lands.
func (e Engine) AddNote(ctx context.Context, caseID, body, actorID string) (domain.Note, error) {
	if strings.TrimSpace(body) == "" {
		return domain.Note{}, ValidationError{Field: "body", Message: "body is required"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Note{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCaseTx(ctx, tx, caseID)
	if err != nil {
		return domain.Note{}, err
	}
	if c.Status == domain.StatusErased {
		return domain.Note{}, StateError{Message: "case is erased"}
	}
	if err := e.requireGrantTx(ctx, tx, c.ID, "note body"); err != nil {
		return domain.Note{}, err
	}
	n := domain.Note{
		ID:        uuid.NewString(),
		CaseID:    c.ID,
		Body:      body,
		AuthorID:  actorID,
		CreatedAt: e.nowRFC3339(),
	}
	var flagged []string
	if e.Scanner != nil {
		flagged = e.Scanner.Scan(body)
	}
	if len(flagged) > 0 {
		data, err := json.Marshal(flagged)
		if err != nil {
			return domain.Note{}, err
		}
		v := string(data)
		n.FlaggedTermsJSON = &v
	}
	if err := e.Repo.InsertNote(ctx, tx, n); err != nil {
		return domain.Note{}, err
	}
	evtCtx := audit.Context{"note_id": n.ID}
	if len(flagged) > 0 {
		evtCtx["flagged_terms"] = flagged
	}
	if err := e.auditWriter().Append(ctx, tx, "note.add", c.ID, actorID, "note added", nil, evtCtx); err != nil {
		return domain.Note{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Note{}, err
	}
	return n, nil
}

// LinkCases references another case; neither case is mutated.
func (e Engine) LinkCases(ctx context.Context, caseID, linkedCaseID, relation, actorID string) (domain.CaseLink, error) {
	if caseID == linkedCaseID {
		return domain.CaseLink{}, ValidationError{Field: "linked_case_id", Message: "a case cannot link to itself"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.CaseLink{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetCaseTx(ctx, tx, caseID); err != nil {
		return domain.CaseLink{}, err
	}
	if _, err := e.Repo.GetCaseTx(ctx, tx, linkedCaseID); err != nil {
		return domain.CaseLink{}, err
	}
	l := domain.CaseLink{
		CaseID:       caseID,
		LinkedCaseID: linkedCaseID,
		Relation:     strings.TrimSpace(relation),
		CreatedAt:    e.nowRFC3339(),
	}
	if err := e.Repo.InsertCaseLink(ctx, tx, l); err != nil {
		return domain.CaseLink{}, err
	}
	if err := e.auditWriter().Append(ctx, tx, "case.link", caseID, actorID, "case linked", nil,
		audit.Context{"linked_case_id": linkedCaseID, "relation": l.Relation}); err != nil {
		return domain.CaseLink{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.CaseLink{}, err
	}
	return l, nil
}

func (e Engine) AddCaseTask(ctx context.Context, caseID, title, assigneeID, actorID string) (domain.CaseTask, error) {
	if strings.TrimSpace(title) == "" {
		return domain.CaseTask{}, ValidationError{Field: "title", Message: "title is required"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.CaseTask{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCaseTx(ctx, tx, caseID)
	if err != nil {
		return domain.CaseTask{}, err
	}
	t := domain.CaseTask{
		ID:        uuid.NewString(),
		CaseID:    c.ID,
		Title:     strings.TrimSpace(title),
		Status:    "open",
		CreatedAt: e.nowRFC3339(),
	}
	if strings.TrimSpace(assigneeID) != "" {
		a := strings.TrimSpace(assigneeID)
		t.AssigneeID = &a
	}
	if err := e.Repo.InsertCaseTask(ctx, tx, t); err != nil {
		return domain.CaseTask{}, err
	}
	if err := e.auditWriter().Append(ctx, tx, "task.add", c.ID, actorID, "task added", nil,
		audit.Context{"task_id": t.ID, "title": t.Title}); err != nil {
		return domain.CaseTask{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.CaseTask{}, err
	}
	return t, nil
}

func (e Engine) CompleteCaseTask(ctx context.Context, caseID, taskID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	completedAt := e.nowRFC3339()
	if err := e.Repo.UpdateCaseTaskStatus(ctx, tx, taskID, "done", &completedAt); err != nil {
		return err
	}
	if err := e.auditWriter().Append(ctx, tx, "task.done", caseID, actorID, "task completed", nil,
		audit.Context{"task_id": taskID}); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateAPIKey stores a hashed API key for an actor. The plaintext key is
// never persisted.
func (e Engine) CreateAPIKey(ctx context.Context, actorID, name, key string) (domain.APIKey, error) {
	if strings.TrimSpace(actorID) == "" {
		return domain.APIKey{}, ValidationError{Field: "actor_id", Message: "actor_id is required"}
	}
	if strings.TrimSpace(key) == "" {
		return domain.APIKey{}, ValidationError{Field: "key", Message: "key is required"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.APIKey{}, err
	}
	defer tx.Rollback()

	k := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   strings.TrimSpace(actorID),
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(key),
		CreatedAt: e.nowRFC3339(),
	}
	if err := e.Repo.InsertAPIKey(ctx, tx, k); err != nil {
		return domain.APIKey{}, err
	}
	if err := e.auditWriter().Append(ctx, tx, "apikey.create", "", actorID, "api key created", nil,
		audit.Context{"key_id": k.ID, "key_actor_id": k.ActorID}); err != nil {
		return domain.APIKey{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.APIKey{}, err
	}
	return k, nil
}

func parseRFC3339(v, field string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(v))
	if err != nil {
		return time.Time{}, ValidationError{Field: field, Message: "must be an RFC3339 timestamp"}
	}
	return ts, nil
}

func deref(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}
