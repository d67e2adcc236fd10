package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"caseflow/internal/config"
	"caseflow/internal/db"
	"caseflow/internal/domain"
	"caseflow/internal/engine"
	"caseflow/internal/migrate"
	"caseflow/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("ws-test")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if err := eng.Repo.UpsertWorkspaceConfig(ctx, "ws-test", cfg); err != nil {
		t.Fatalf("seed config: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func (env testEnv) mustCreate(t *testing.T, opts engine.CaseCreateOptions) domain.Case {
	t.Helper()
	if opts.ActorID == "" {
		opts.ActorID = "tester"
	}
	c, err := env.Engine.CreateCase(env.Ctx, opts)
	if err != nil {
		t.Fatalf("create case: %v", err)
	}
	return c
}

func (env testEnv) mustGate(t *testing.T, caseID, key string, payload map[string]any) {
	t.Helper()
	if _, err := env.Engine.SaveGate(env.Ctx, caseID, key, payload, "tester"); err != nil {
		t.Fatalf("save gate %s: %v", key, err)
	}
}

func TestCreateCaseDefaults(t *testing.T) {
	env := newTestEnv(t)
	c := env.mustCreate(t, engine.CaseCreateOptions{Title: "Expense fraud report", Jurisdiction: "Belgium"})
	if c.Stage != domain.StageIntake || c.Status != domain.StatusOpen {
		t.Fatalf("unexpected initial state: %s/%s", c.Stage, c.Status)
	}
	if c.Jurisdiction != domain.JurisdictionBE {
		t.Fatalf("jurisdiction not normalized: %s", c.Jurisdiction)
	}
	if !strings.HasPrefix(c.Code, "CASE-") {
		t.Fatalf("unexpected code: %s", c.Code)
	}
	if c.Version != 0 {
		t.Fatalf("expected version 0, got %d", c.Version)
	}
}

func TestUnknownJurisdictionBecomesOther(t *testing.T) {
	env := newTestEnv(t)
	c := env.mustCreate(t, engine.CaseCreateOptions{Title: "Remote office case", Jurisdiction: "Poland - Warsaw"})
	if c.Jurisdiction != domain.JurisdictionOther {
		t.Fatalf("expected OTHER, got %s", c.Jurisdiction)
	}
	if c.JurisdictionOther != "Poland - Warsaw" {
		t.Fatalf("free text lost: %q", c.JurisdictionOther)
	}
}

func TestGatePayloadValidation(t *testing.T) {
	env := newTestEnv(t)
	c := env.mustCreate(t, engine.CaseCreateOptions{Title: "t", Jurisdiction: "BE"})
	_, err := env.Engine.SaveGate(env.Ctx, c.ID, "nonsense", map[string]any{}, "tester")
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error for unknown gate, got %v", err)
	}
	_, err = env.Engine.SaveGate(env.Ctx, c.ID, domain.GateTriage, map[string]any{"severity": "high"}, "tester")
	if !errors.As(err, &ve) || ve.Field != "summary" {
		t.Fatalf("expected missing summary error, got %v", err)
	}
	_, err = env.Engine.SaveGate(env.Ctx, c.ID, domain.GateTriage, map[string]any{"severity": "high", "summary": "  "}, "tester")
	if !errors.As(err, &ve) {
		t.Fatalf("expected blank summary error, got %v", err)
	}
}

func TestStageTransitionBlockers(t *testing.T) {
	env := newTestEnv(t)
	c := env.mustCreate(t, engine.CaseCreateOptions{Title: "t", Jurisdiction: "BE"})

	_, err := env.Engine.RequestStageTransition(env.Ctx, c.ID, domain.StageInvestigation, "tester")
	var be engine.BlockedError
	if !errors.As(err, &be) {
		t.Fatalf("expected blocked error, got %v", err)
	}
	if len(be.Blockers) != 2 {
		t.Fatalf("expected 2 blockers, got %d: %+v", len(be.Blockers), be.Blockers)
	}
	if be.Blockers[0].Code != "gate_incomplete:legitimacy" || be.Blockers[1].Code != "gate_incomplete:credentialing" {
		t.Fatalf("unexpected blocker order: %+v", be.Blockers)
	}

	env.mustGate(t, c.ID, domain.GateLegitimacy, map[string]any{"legal_basis": "whistleblower report", "trigger_summary": "report received"})
	env.mustGate(t, c.ID, domain.GateCredentialing, map[string]any{"investigator_name": "Alex Rivera", "investigator_role": "HR investigations"})

	moved, err := env.Engine.RequestStageTransition(env.Ctx, c.ID, domain.StageInvestigation, "tester")
	if err != nil {
		t.Fatalf("transition after gates: %v", err)
	}
	if moved.Stage != domain.StageInvestigation {
		t.Fatalf("stage not updated: %s", moved.Stage)
	}

	// backward moves are not gated
	back, err := env.Engine.RequestStageTransition(env.Ctx, c.ID, domain.StageIntake, "tester")
	if err != nil || back.Stage != domain.StageIntake {
		t.Fatalf("backward move: %v", err)
	}
}

func TestVIPRequiresLegalGate(t *testing.T) {
	env := newTestEnv(t)
	c := env.mustCreate(t, engine.CaseCreateOptions{Title: "t", Jurisdiction: "BE", VIP: true})
	env.mustGate(t, c.ID, domain.GateAdversarial, map[string]any{"subject_position": "denies", "company_position": "upholds"})

	_, err := env.Engine.RequestStageTransition(env.Ctx, c.ID, domain.StageDecision, "tester")
	var be engine.BlockedError
	if !errors.As(err, &be) {
		t.Fatalf("expected blocked error, got %v", err)
	}
	found := false
	for _, b := range be.Blockers {
		if b.Code == "gate_incomplete:legal" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected legal gate blocker: %+v", be.Blockers)
	}

	env.mustGate(t, c.ID, domain.GateLegal, map[string]any{"reviewer_name": "Sam Counsel"})
	if _, err := env.Engine.RequestStageTransition(env.Ctx, c.ID, domain.StageDecision, "tester"); err != nil {
		t.Fatalf("transition after legal gate: %v", err)
	}
}

func TestWorksCouncilEvidenceLock(t *testing.T) {
	env := newTestEnv(t)
	c := env.mustCreate(t, engine.CaseCreateOptions{Title: "t", Jurisdiction: "BE"})
	env.mustGate(t, c.ID, domain.GateWorksCouncil, map[string]any{"monitoring": true})

	_, err := env.Engine.AddEvidence(env.Ctx, c.ID, "badge logs", "", "tester")
	var se engine.StateError
	if !errors.As(err, &se) {
		t.Fatalf("expected evidence lock, got %v", err)
	}

	env.mustGate(t, c.ID, domain.GateLegitimacy, map[string]any{"legal_basis": "contract", "trigger_summary": "x"})
	env.mustGate(t, c.ID, domain.GateCredentialing, map[string]any{"investigator_name": "Alex", "investigator_role": "HR"})
	_, err = env.Engine.RequestStageTransition(env.Ctx, c.ID, domain.StageInvestigation, "tester")
	var be engine.BlockedError
	if !errors.As(err, &be) {
		t.Fatalf("expected blocked transition while locked, got %v", err)
	}
	foundLock := false
	for _, b := range be.Blockers {
		if b.Code == "evidence_locked" {
			foundLock = true
		}
	}
	if !foundLock {
		t.Fatalf("expected evidence_locked blocker: %+v", be.Blockers)
	}

	// approval unlocks
	env.mustGate(t, c.ID, domain.GateWorksCouncil, map[string]any{"monitoring": true, "approval_received_at": "2025-03-01T00:00:00Z"})
	if _, err := env.Engine.AddEvidence(env.Ctx, c.ID, "badge logs", "", "tester"); err != nil {
		t.Fatalf("evidence after approval: %v", err)
	}
	if _, err := env.Engine.RequestStageTransition(env.Ctx, c.ID, domain.StageInvestigation, "tester"); err != nil {
		t.Fatalf("transition after approval: %v", err)
	}
}

func TestStatusTransitions(t *testing.T) {
	env := newTestEnv(t)
	c := env.mustCreate(t, engine.CaseCreateOptions{Title: "t", Jurisdiction: "BE"})

	if _, err := env.Engine.SetStatus(env.Ctx, c.ID, domain.StatusErased, "tester"); err == nil {
		t.Fatalf("expected OPEN -> ERASED to fail")
	}
	for _, status := range []string{domain.StatusOnHold, domain.StatusOpen, domain.StatusClosed, domain.StatusErasurePending, domain.StatusErased} {
		updated, err := env.Engine.SetStatus(env.Ctx, c.ID, status, "tester")
		if err != nil {
			t.Fatalf("to %s: %v", status, err)
		}
		if updated.Status != status {
			t.Fatalf("status not applied: %s", updated.Status)
		}
	}
}

func TestStaleWriteDetection(t *testing.T) {
	env := newTestEnv(t)
	c := env.mustCreate(t, engine.CaseCreateOptions{Title: "t", Jurisdiction: "BE"})

	title := "renamed"
	updated, err := env.Engine.UpdateCaseDetails(env.Ctx, engine.CaseUpdateOptions{CaseID: c.ID, Title: &title, ActorID: "tester"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Version != 1 {
		t.Fatalf("expected version 1, got %d", updated.Version)
	}

	stale := int64(0)
	title2 := "renamed again"
	_, err = env.Engine.UpdateCaseDetails(env.Ctx, engine.CaseUpdateOptions{CaseID: c.ID, Title: &title2, ExpectedVersion: &stale, ActorID: "tester"})
	var swe engine.StaleWriteError
	if !errors.As(err, &swe) {
		t.Fatalf("expected stale write error, got %v", err)
	}

	current := updated.Version
	if _, err := env.Engine.UpdateCaseDetails(env.Ctx, engine.CaseUpdateOptions{CaseID: c.ID, Title: &title2, ExpectedVersion: &current, ActorID: "tester"}); err != nil {
		t.Fatalf("update with current version: %v", err)
	}
}

func TestNLUrgentDismissalGuardrail(t *testing.T) {
	env := newTestEnv(t)
	c := env.mustCreate(t, engine.CaseCreateOptions{Title: "t", Jurisdiction: "NL"})

	urgent := true
	_, err := env.Engine.UpdateCaseDetails(env.Ctx, engine.CaseUpdateOptions{CaseID: c.ID, UrgentDismissal: &urgent, ActorID: "tester"})
	var ore engine.OverrideRequiredError
	if !errors.As(err, &ore) || ore.Code != "nl_suspension_missing" {
		t.Fatalf("expected guardrail, got %v", err)
	}

	_, err = env.Engine.UpdateCaseDetails(env.Ctx, engine.CaseUpdateOptions{CaseID: c.ID, UrgentDismissal: &urgent, Override: true, ActorID: "tester"})
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected override reason requirement, got %v", err)
	}

	updated, err := env.Engine.UpdateCaseDetails(env.Ctx, engine.CaseUpdateOptions{
		CaseID: c.ID, UrgentDismissal: &urgent, Override: true, OverrideReason: "suspension letter in transit", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("override with reason: %v", err)
	}
	if !updated.UrgentDismissal {
		t.Fatalf("flag not applied")
	}

	// suspending the subject clears the guardrail entirely
	suspended := true
	if _, err := env.Engine.UpdateCaseDetails(env.Ctx, engine.CaseUpdateOptions{CaseID: c.ID, SubjectSuspended: &suspended, Override: true, OverrideReason: "x", ActorID: "tester"}); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	title := "no guardrail now"
	if _, err := env.Engine.UpdateCaseDetails(env.Ctx, engine.CaseUpdateOptions{CaseID: c.ID, Title: &title, ActorID: "tester"}); err != nil {
		t.Fatalf("update after suspension: %v", err)
	}
}

func TestSeriousCauseDeadlines(t *testing.T) {
	env := newTestEnv(t)
	c := env.mustCreate(t, engine.CaseCreateOptions{Title: "t", Jurisdiction: "BE"})

	if _, err := env.Engine.SubmitFindings(env.Ctx, c.ID, "2025-03-03T10:00:00Z", "tester"); err == nil {
		t.Fatalf("expected findings to fail before enabling")
	}
	if _, err := env.Engine.EnableSeriousCause(env.Ctx, engine.SeriousCauseEnableOptions{CaseID: c.ID, DecisionMaker: "Dana Executive", ActorID: "tester"}); err != nil {
		t.Fatalf("enable: %v", err)
	}

	// Monday + 3 business days lands Thursday; 3 more skip the weekend.
	sc, err := env.Engine.SubmitFindings(env.Ctx, c.ID, "2025-03-03T10:00:00Z", "tester")
	if err != nil {
		t.Fatalf("findings: %v", err)
	}
	if sc.DecisionDueAt == nil || *sc.DecisionDueAt != "2025-03-06T10:00:00Z" {
		t.Fatalf("decision due: %v", sc.DecisionDueAt)
	}
	if sc.DismissalDueAt == nil || *sc.DismissalDueAt != "2025-03-11T10:00:00Z" {
		t.Fatalf("dismissal due: %v", sc.DismissalDueAt)
	}
	if !sc.RuleConfirmed {
		t.Fatalf("expected confirmed BE rule")
	}
}

func TestUnconfirmedJurisdictionFallsBack(t *testing.T) {
	env := newTestEnv(t)
	c := env.mustCreate(t, engine.CaseCreateOptions{Title: "t", Jurisdiction: "Luxembourg"})
	if _, err := env.Engine.EnableSeriousCause(env.Ctx, engine.SeriousCauseEnableOptions{CaseID: c.ID, DecisionMaker: "Dana", ActorID: "tester"}); err != nil {
		t.Fatalf("enable: %v", err)
	}
	sc, err := env.Engine.SubmitFindings(env.Ctx, c.ID, "2025-03-03T10:00:00Z", "tester")
	if err != nil {
		t.Fatalf("findings: %v", err)
	}
	if sc.RuleConfirmed {
		t.Fatalf("expected fallback rule to be unconfirmed")
	}
	// default window: 5 business days, then 10 more
	if *sc.DecisionDueAt != "2025-03-10T10:00:00Z" {
		t.Fatalf("decision due: %s", *sc.DecisionDueAt)
	}
	if *sc.DismissalDueAt != "2025-03-24T10:00:00Z" {
		t.Fatalf("dismissal due: %s", *sc.DismissalDueAt)
	}
}

func TestJurisdictionChangeRecomputesDeadlines(t *testing.T) {
	env := newTestEnv(t)
	c := env.mustCreate(t, engine.CaseCreateOptions{Title: "t", Jurisdiction: "BE"})
	if _, err := env.Engine.EnableSeriousCause(env.Ctx, engine.SeriousCauseEnableOptions{CaseID: c.ID, DecisionMaker: "Dana", ActorID: "tester"}); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if _, err := env.Engine.SubmitFindings(env.Ctx, c.ID, "2025-03-03T10:00:00Z", "tester"); err != nil {
		t.Fatalf("findings: %v", err)
	}
	de := "DE"
	if _, err := env.Engine.UpdateCaseDetails(env.Ctx, engine.CaseUpdateOptions{CaseID: c.ID, Jurisdiction: &de, ActorID: "tester"}); err != nil {
		t.Fatalf("change jurisdiction: %v", err)
	}
	sc, err := env.Engine.Repo.GetSeriousCause(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	// DE is calendar days: 10 to decide, 14 more to dismiss
	if *sc.DecisionDueAt != "2025-03-13T10:00:00Z" {
		t.Fatalf("decision due after change: %s", *sc.DecisionDueAt)
	}
	if *sc.DismissalDueAt != "2025-03-27T10:00:00Z" {
		t.Fatalf("dismissal due after change: %s", *sc.DismissalDueAt)
	}
}

func TestDismissalFreezesFindings(t *testing.T) {
	env := newTestEnv(t)
	c := env.mustCreate(t, engine.CaseCreateOptions{Title: "t", Jurisdiction: "BE"})
	if _, err := env.Engine.EnableSeriousCause(env.Ctx, engine.SeriousCauseEnableOptions{CaseID: c.ID, DecisionMaker: "Dana", ActorID: "tester"}); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if _, err := env.Engine.SubmitFindings(env.Ctx, c.ID, "2025-03-03T10:00:00Z", "tester"); err != nil {
		t.Fatalf("findings: %v", err)
	}
	if _, err := env.Engine.RecordDismissal(env.Ctx, c.ID, "2025-03-04T10:00:00Z", "tester"); err != nil {
		t.Fatalf("dismissal: %v", err)
	}
	_, err := env.Engine.SubmitFindings(env.Ctx, c.ID, "2025-03-05T10:00:00Z", "tester")
	var se engine.StateError
	if !errors.As(err, &se) {
		t.Fatalf("expected frozen findings, got %v", err)
	}

	// reasons letter requires a recorded dismissal and a method
	if _, err := env.Engine.RecordReasonsSent(env.Ctx, c.ID, "2025-03-05T10:00:00Z", "", "", "tester"); err == nil {
		t.Fatalf("expected method requirement")
	}
	sc, err := env.Engine.RecordReasonsSent(env.Ctx, c.ID, "2025-03-05T10:00:00Z", "registered_mail", "RM-123", "tester")
	if err != nil {
		t.Fatalf("reasons: %v", err)
	}
	if sc.ReasonsMethod != "registered_mail" || sc.ReasonsProofRef != "RM-123" {
		t.Fatalf("reasons not stored: %+v", sc)
	}
}

func TestMissedDeadlineAcknowledgment(t *testing.T) {
	env := newTestEnv(t)
	c := env.mustCreate(t, engine.CaseCreateOptions{Title: "t", Jurisdiction: "BE"})
	if _, err := env.Engine.EnableSeriousCause(env.Ctx, engine.SeriousCauseEnableOptions{CaseID: c.ID, DecisionMaker: "Dana", ActorID: "tester"}); err != nil {
		t.Fatalf("enable: %v", err)
	}
	// deadline still in the future: no acknowledgment possible
	if _, err := env.Engine.SubmitFindings(env.Ctx, c.ID, "2025-03-03T08:00:00Z", "tester"); err != nil {
		t.Fatalf("findings: %v", err)
	}
	if _, err := env.Engine.AcknowledgeMissedDeadline(env.Ctx, c.ID, "late", "tester"); err == nil {
		t.Fatalf("expected ack to fail before the deadline passes")
	}

	// re-confirm well in the past so the window has lapsed
	if _, err := env.Engine.SubmitFindings(env.Ctx, c.ID, "2025-01-06T08:00:00Z", "tester"); err != nil {
		t.Fatalf("re-findings: %v", err)
	}
	sc, err := env.Engine.AcknowledgeMissedDeadline(env.Ctx, c.ID, "decision maker unavailable", "tester")
	if err != nil {
		t.Fatalf("ack: %v", err)
	}
	if sc.MissedAckAt == nil || sc.MissedReason != "decision maker unavailable" {
		t.Fatalf("ack not stored: %+v", sc)
	}
	if _, err := env.Engine.AcknowledgeMissedDeadline(env.Ctx, c.ID, "again", "tester"); err == nil {
		t.Fatalf("expected second ack to fail")
	}
}

func TestGrantLifecycle(t *testing.T) {
	env := newTestEnv(t)
	c := env.mustCreate(t, engine.CaseCreateOptions{Title: "t", Jurisdiction: "BE"})

	_, err := env.Engine.AddNote(env.Ctx, c.ID, "first interview notes", "tester")
	var ade engine.AccessDeniedError
	if !errors.As(err, &ade) {
		t.Fatalf("expected access denied, got %v", err)
	}
	contact := "counsel@corp.example"
	_, err = env.Engine.UpdateCaseDetails(env.Ctx, engine.CaseUpdateOptions{CaseID: c.ID, LegalHoldContact: &contact, ActorID: "tester"})
	if !errors.As(err, &ade) {
		t.Fatalf("expected access denied for contact write, got %v", err)
	}

	if _, err := env.Engine.RequestGrant(env.Ctx, c.ID, "tester", "", 60); err == nil {
		t.Fatalf("expected reason requirement")
	}
	g, err := env.Engine.RequestGrant(env.Ctx, c.ID, "tester", "interview writeup", 5)
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if g.DurationMinutes != engine.GrantMinMinutes {
		t.Fatalf("expected clamp to %d, got %d", engine.GrantMinMinutes, g.DurationMinutes)
	}
	env.Engine.Now = func() time.Time { return time.Date(2025, 3, 3, 9, 1, 0, 0, time.UTC) }
	g2, err := env.Engine.RequestGrant(env.Ctx, c.ID, "tester", "long review", 10000)
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if g2.DurationMinutes != engine.GrantMaxMinutes {
		t.Fatalf("expected clamp to %d, got %d", engine.GrantMaxMinutes, g2.DurationMinutes)
	}

	updated, err := env.Engine.UpdateCaseDetails(env.Ctx, engine.CaseUpdateOptions{CaseID: c.ID, LegalHoldContact: &contact, ActorID: "tester"})
	if err != nil {
		t.Fatalf("contact write with grant: %v", err)
	}
	if updated.LegalHoldContact != contact {
		t.Fatalf("contact not stored: %q", updated.LegalHoldContact)
	}

	note, err := env.Engine.AddNote(env.Ctx, c.ID, "subject seemed guilty of nothing", "tester")
	if err != nil {
		t.Fatalf("note with grant: %v", err)
	}
	if note.FlaggedTermsJSON == nil || !strings.Contains(*note.FlaggedTermsJSON, "guilty") {
		t.Fatalf("expected flagged term, got %v", note.FlaggedTermsJSON)
	}

	if _, err := env.Engine.RevokeGrant(env.Ctx, g2.ID, "lead"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	// revoke is idempotent
	if _, err := env.Engine.RevokeGrant(env.Ctx, g2.ID, "lead"); err != nil {
		t.Fatalf("second revoke: %v", err)
	}
	// the short grant is still open, so access survives the revoke
	if _, err := env.Engine.AddNote(env.Ctx, c.ID, "more notes", "tester"); err != nil {
		t.Fatalf("note on remaining grant: %v", err)
	}
	// once it lapses too, the case is closed off again
	env.Engine.Now = func() time.Time { return time.Date(2025, 3, 3, 9, 30, 0, 0, time.UTC) }
	_, err = env.Engine.AddNote(env.Ctx, c.ID, "more notes", "tester")
	if !errors.As(err, &ade) {
		t.Fatalf("expected access denied after revoke and expiry, got %v", err)
	}
}

func TestEarlierGrantOutlivesLaterOne(t *testing.T) {
	env := newTestEnv(t)
	c := env.mustCreate(t, engine.CaseCreateOptions{Title: "t", Jurisdiction: "BE"})
	if _, err := env.Engine.RequestGrant(env.Ctx, c.ID, "tester", "full review", 480); err != nil {
		t.Fatalf("grant: %v", err)
	}
	env.Engine.Now = func() time.Time { return time.Date(2025, 3, 3, 9, 1, 0, 0, time.UTC) }
	short, err := env.Engine.RequestGrant(env.Ctx, c.ID, "tester", "quick peek", 15)
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if _, err := env.Engine.RevokeGrant(env.Ctx, short.ID, "lead"); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	// the 480-minute grant issued first still covers the case
	env.Engine.Now = func() time.Time { return time.Date(2025, 3, 3, 9, 30, 0, 0, time.UTC) }
	ok, err := env.Engine.HasActiveGrant(env.Ctx, c.ID)
	if err != nil || !ok {
		t.Fatalf("expected access to hold on the earlier grant: ok=%v err=%v", ok, err)
	}
	if _, err := env.Engine.AddNote(env.Ctx, c.ID, "still working", "tester"); err != nil {
		t.Fatalf("note on earlier grant: %v", err)
	}
}

func TestGrantExpiryBoundary(t *testing.T) {
	env := newTestEnv(t)
	c := env.mustCreate(t, engine.CaseCreateOptions{Title: "t", Jurisdiction: "BE"})
	if _, err := env.Engine.RequestGrant(env.Ctx, c.ID, "tester", "quick look", 15); err != nil {
		t.Fatalf("grant: %v", err)
	}
	// grant expires at 09:15:00
	env.Engine.Now = func() time.Time { return time.Date(2025, 3, 3, 9, 14, 59, 0, time.UTC) }
	ok, err := env.Engine.HasActiveGrant(env.Ctx, c.ID)
	if err != nil || !ok {
		t.Fatalf("expected grant valid a second before expiry: ok=%v err=%v", ok, err)
	}
	env.Engine.Now = func() time.Time { return time.Date(2025, 3, 3, 9, 15, 1, 0, time.UTC) }
	ok, err = env.Engine.HasActiveGrant(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if ok {
		t.Fatalf("expected grant invalid a second after expiry")
	}
}

func TestGrantExpiryIsLazy(t *testing.T) {
	env := newTestEnv(t)
	c := env.mustCreate(t, engine.CaseCreateOptions{Title: "t", Jurisdiction: "BE"})
	if _, err := env.Engine.RequestGrant(env.Ctx, c.ID, "tester", "quick look", 15); err != nil {
		t.Fatalf("grant: %v", err)
	}
	ok, err := env.Engine.HasActiveGrant(env.Ctx, c.ID)
	if err != nil || !ok {
		t.Fatalf("expected active grant: %v", err)
	}
	// advance the clock past expiry; nothing is mutated, validity just flips
	env.Engine.Now = func() time.Time { return time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC) }
	ok, err = env.Engine.HasActiveGrant(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if ok {
		t.Fatalf("expected grant to be expired")
	}
}

func TestDecisionRoleSeparation(t *testing.T) {
	env := newTestEnv(t)
	c := env.mustCreate(t, engine.CaseCreateOptions{Title: "t", Jurisdiction: "BE"})
	env.mustGate(t, c.ID, domain.GateCredentialing, map[string]any{"investigator_name": "Dana Executive ", "investigator_role": "HR"})
	env.mustGate(t, c.ID, domain.GateAdversarial, map[string]any{"subject_position": "denies", "company_position": "upholds"})
	if _, err := env.Engine.EnableSeriousCause(env.Ctx, engine.SeriousCauseEnableOptions{CaseID: c.ID, DecisionMaker: "dana executive", ActorID: "tester"}); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if _, err := env.Engine.SubmitFindings(env.Ctx, c.ID, "2025-03-03T08:00:00Z", "tester"); err != nil {
		t.Fatalf("findings: %v", err)
	}
	if _, err := env.Engine.RequestStageTransition(env.Ctx, c.ID, domain.StageDecision, "tester"); err != nil {
		t.Fatalf("to decision: %v", err)
	}

	// trim and case-fold: "Dana Executive " matches "dana executive"
	_, err := env.Engine.RecordDecision(env.Ctx, engine.DecisionOptions{CaseID: c.ID, Outcome: "dismissal", ActorID: "tester"})
	var ce engine.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if len(ce.Conflicts) != 1 || ce.Conflicts[0] != "decision maker matches investigator" {
		t.Fatalf("unexpected conflicts: %v", ce.Conflicts)
	}

	o, err := env.Engine.RecordDecision(env.Ctx, engine.DecisionOptions{
		CaseID: c.ID, Outcome: "dismissal", OverrideReason: "sole qualified decision maker", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("override: %v", err)
	}
	if o.OverrideReason != "sole qualified decision maker" {
		t.Fatalf("override reason not stored: %+v", o)
	}
	if _, err := env.Engine.RecordDecision(env.Ctx, engine.DecisionOptions{CaseID: c.ID, Outcome: "sanction", ActorID: "tester"}); err == nil {
		t.Fatalf("expected second decision to fail")
	}
}

func TestDecisionRequiresDecisionStage(t *testing.T) {
	env := newTestEnv(t)
	c := env.mustCreate(t, engine.CaseCreateOptions{Title: "t", Jurisdiction: "BE"})
	_, err := env.Engine.RecordDecision(env.Ctx, engine.DecisionOptions{CaseID: c.ID, Outcome: "no_action", ActorID: "tester"})
	var se engine.StateError
	if !errors.As(err, &se) {
		t.Fatalf("expected stage requirement, got %v", err)
	}
}

func TestClosureRequiresOutcome(t *testing.T) {
	env := newTestEnv(t)
	c := env.mustCreate(t, engine.CaseCreateOptions{Title: "t", Jurisdiction: "BE"})
	env.mustGate(t, c.ID, domain.GateAdversarial, map[string]any{"subject_position": "a", "company_position": "b"})

	_, err := env.Engine.RequestStageTransition(env.Ctx, c.ID, domain.StageClosure, "tester")
	var be engine.BlockedError
	if !errors.As(err, &be) {
		t.Fatalf("expected blocked closure, got %v", err)
	}
	if be.Blockers[len(be.Blockers)-1].Code != "outcome_missing" {
		t.Fatalf("expected outcome_missing: %+v", be.Blockers)
	}

	if _, err := env.Engine.RequestStageTransition(env.Ctx, c.ID, domain.StageDecision, "tester"); err != nil {
		t.Fatalf("to decision: %v", err)
	}
	if _, err := env.Engine.RecordDecision(env.Ctx, engine.DecisionOptions{CaseID: c.ID, Outcome: "no_action", ActorID: "lead"}); err != nil {
		t.Fatalf("decision: %v", err)
	}
	if _, err := env.Engine.RequestStageTransition(env.Ctx, c.ID, domain.StageClosure, "lead"); err != nil {
		t.Fatalf("closure: %v", err)
	}
}

func TestAnonymize(t *testing.T) {
	env := newTestEnv(t)
	c := env.mustCreate(t, engine.CaseCreateOptions{Title: "t", Jurisdiction: "BE", ReporterIdentity: "jane@corp.example"})
	if _, err := env.Engine.AddSubject(env.Ctx, c.ID, "Pat Doe", "analyst", "", "tester"); err != nil {
		t.Fatalf("subject: %v", err)
	}

	if _, err := env.Engine.Anonymize(env.Ctx, c.ID, "dpo"); err == nil {
		t.Fatalf("expected anonymize to require a closed case")
	}
	if _, err := env.Engine.SetStatus(env.Ctx, c.ID, domain.StatusClosed, "tester"); err != nil {
		t.Fatalf("close: %v", err)
	}
	erased, err := env.Engine.Anonymize(env.Ctx, c.ID, "dpo")
	if err != nil {
		t.Fatalf("anonymize: %v", err)
	}
	if erased.Status != domain.StatusErased || !erased.Anonymized || erased.ReporterIdentity != "" {
		t.Fatalf("not scrubbed: %+v", erased)
	}
	subjects, err := env.Engine.Repo.ListSubjects(env.Ctx, c.ID)
	if err != nil || len(subjects) != 1 {
		t.Fatalf("subjects: %v", err)
	}
	if subjects[0].Name != "[erased]" {
		t.Fatalf("subject name survived: %q", subjects[0].Name)
	}

	// erased cases reject further mutation
	title := "x"
	if _, err := env.Engine.UpdateCaseDetails(env.Ctx, engine.CaseUpdateOptions{CaseID: c.ID, Title: &title, ActorID: "tester"}); err == nil {
		t.Fatalf("expected erased case to reject updates")
	}
}

func TestCaseLinksAndTasks(t *testing.T) {
	env := newTestEnv(t)
	a := env.mustCreate(t, engine.CaseCreateOptions{Title: "a", Jurisdiction: "BE"})
	b := env.mustCreate(t, engine.CaseCreateOptions{Title: "b", Jurisdiction: "BE"})

	if _, err := env.Engine.LinkCases(env.Ctx, a.ID, a.ID, "related", "tester"); err == nil {
		t.Fatalf("expected self-link rejection")
	}
	if _, err := env.Engine.LinkCases(env.Ctx, a.ID, b.ID, "same reporter", "tester"); err != nil {
		t.Fatalf("link: %v", err)
	}

	task, err := env.Engine.AddCaseTask(env.Ctx, a.ID, "interview witness", "tester", "tester")
	if err != nil {
		t.Fatalf("task: %v", err)
	}
	if err := env.Engine.CompleteCaseTask(env.Ctx, a.ID, task.ID, "tester"); err != nil {
		t.Fatalf("done: %v", err)
	}
	tasks, err := env.Engine.Repo.ListCaseTasks(env.Ctx, a.ID)
	if err != nil || len(tasks) != 1 {
		t.Fatalf("list tasks: %v", err)
	}
	if tasks[0].Status != "done" || tasks[0].CompletedAt == nil {
		t.Fatalf("task not completed: %+v", tasks[0])
	}
}

func TestAuditTrail(t *testing.T) {
	env := newTestEnv(t)
	c := env.mustCreate(t, engine.CaseCreateOptions{Title: "t", Jurisdiction: "BE"})
	title := "renamed"
	if _, err := env.Engine.UpdateCaseDetails(env.Ctx, engine.CaseUpdateOptions{CaseID: c.ID, Title: &title, ActorID: "tester"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	events, err := env.Engine.Repo.LatestAuditEvents(env.Ctx, repo.AuditFilters{CaseID: c.ID})
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	// newest first
	if events[0].Type != "case.update" || events[1].Type != "case.create" {
		t.Fatalf("unexpected event order: %s, %s", events[0].Type, events[1].Type)
	}
	// events are stamped with the engine clock
	if events[0].TS != "2025-03-03T09:00:00Z" {
		t.Fatalf("unexpected event ts: %s", events[0].TS)
	}
	if !strings.Contains(events[0].ChangesJSON, "renamed") {
		t.Fatalf("expected title change in audit: %q", events[0].ChangesJSON)
	}
}

func TestStageMoveAudited(t *testing.T) {
	env := newTestEnv(t)
	c := env.mustCreate(t, engine.CaseCreateOptions{Title: "t", Jurisdiction: "BE"})
	env.mustGate(t, c.ID, domain.GateLegitimacy, map[string]any{"legal_basis": "contract", "trigger_summary": "x"})
	env.mustGate(t, c.ID, domain.GateCredentialing, map[string]any{"investigator_name": "Alex", "investigator_role": "HR"})
	if _, err := env.Engine.RequestStageTransition(env.Ctx, c.ID, domain.StageInvestigation, "tester"); err != nil {
		t.Fatalf("transition: %v", err)
	}
	events, err := env.Engine.Repo.LatestAuditEvents(env.Ctx, repo.AuditFilters{CaseID: c.ID, Type: "case.stage"})
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one stage event, got %d", len(events))
	}
	if !strings.Contains(events[0].ChangesJSON, domain.StageInvestigation) {
		t.Fatalf("expected stage change recorded: %q", events[0].ChangesJSON)
	}
}
