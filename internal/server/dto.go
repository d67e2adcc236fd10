package server

import (
	"encoding/json"

	"caseflow/internal/config"
	"caseflow/internal/domain"
)

// maskedValue replaces sensitive fields for callers without an active
// break-glass grant. Records stay visible; values do not.
const maskedValue = "[restricted]"

type CreateCaseRequest struct {
	Code             *string `json:"code,omitempty"`
	Title            string  `json:"title"`
	Jurisdiction     string  `json:"jurisdiction"`
	VIP              bool    `json:"vip,omitempty"`
	ReporterIdentity *string `json:"reporter_identity,omitempty"`
}

type UpdateCaseRequest struct {
	Title               *string `json:"title,omitempty"`
	Jurisdiction        *string `json:"jurisdiction,omitempty"`
	VIP                 *bool   `json:"vip,omitempty"`
	UrgentDismissal     *bool   `json:"urgent_dismissal,omitempty"`
	SubjectSuspended    *bool   `json:"subject_suspended,omitempty"`
	ReporterIdentity    *string `json:"reporter_identity,omitempty"`
	LegalHoldContact    *string `json:"legal_hold_contact,omitempty"`
	ExpertAccessContact *string `json:"expert_access_contact,omitempty"`
	Override            bool    `json:"override,omitempty"`
	OverrideReason      *string `json:"override_reason,omitempty"`
	ExpectedVersion     *int64  `json:"expected_version,omitempty"`
}

type SetCaseStatusRequest struct {
	Status string `json:"status" enum:"OPEN,ON_HOLD,CLOSED,ERASURE_PENDING,ERASED"`
}

type SaveGateRequest struct {
	Payload map[string]any `json:"payload"`
}

type StageTransitionRequest struct {
	Target string `json:"target" enum:"INTAKE,LEGITIMACY_GATE,CREDENTIALING,INVESTIGATION,ADVERSARIAL_DEBATE,DECISION,CLOSURE"`
}

type EnableSeriousCauseRequest struct {
	DecisionMaker          string  `json:"decision_maker"`
	IncidentAt             *string `json:"incident_at,omitempty" format:"date-time"`
	InvestigationStartedAt *string `json:"investigation_started_at,omitempty" format:"date-time"`
}

type SubmitFindingsRequest struct {
	ConfirmedAt string `json:"confirmed_at" format:"date-time"`
}

type RecordDismissalRequest struct {
	RecordedAt string `json:"recorded_at" format:"date-time"`
}

type RecordReasonsRequest struct {
	SentAt   string `json:"sent_at" format:"date-time"`
	Method   string `json:"method"`
	ProofRef string `json:"proof_ref,omitempty"`
}

type MissedDeadlineRequest struct {
	Reason string `json:"reason"`
}

type RequestGrantRequest struct {
	Reason          string `json:"reason"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
}

type RecordDecisionRequest struct {
	Outcome        string  `json:"outcome"`
	Summary        *string `json:"summary,omitempty"`
	OverrideReason *string `json:"override_reason,omitempty"`
}

type AddSubjectRequest struct {
	Name        string  `json:"name"`
	Role        *string `json:"role,omitempty"`
	ManagerName *string `json:"manager_name,omitempty"`
}

type AddEvidenceRequest struct {
	Label string  `json:"label"`
	Link  *string `json:"link,omitempty"`
}

type AddNoteRequest struct {
	Body string `json:"body"`
}

type LinkCaseRequest struct {
	LinkedCaseID string  `json:"linked_case_id"`
	Relation     *string `json:"relation,omitempty"`
}

type AddCaseTaskRequest struct {
	Title      string  `json:"title"`
	AssigneeID *string `json:"assignee_id,omitempty"`
}

type CreateAPIKeyRequest struct {
	ActorID string  `json:"actor_id"`
	Name    *string `json:"name,omitempty"`
	Key     string  `json:"key"`
}

type CaseResponse struct {
	ID                  string  `json:"id"`
	Code                string  `json:"code"`
	Title               string  `json:"title"`
	Jurisdiction        string  `json:"jurisdiction"`
	JurisdictionOther   *string `json:"jurisdiction_other,omitempty"`
	Stage               string  `json:"stage"`
	Status              string  `json:"status"`
	Anonymized          bool    `json:"anonymized"`
	VIP                 bool    `json:"vip"`
	UrgentDismissal     bool    `json:"urgent_dismissal"`
	SubjectSuspended    bool    `json:"subject_suspended"`
	SeriousCauseEnabled bool    `json:"serious_cause_enabled"`
	EvidenceLocked      bool    `json:"evidence_locked"`
	ReporterIdentity    *string `json:"reporter_identity,omitempty"`
	LegalHoldContact    *string `json:"legal_hold_contact,omitempty"`
	ExpertAccessContact *string `json:"expert_access_contact,omitempty"`
	Version             int64   `json:"version"`
	CreatedAt           string  `json:"created_at"`
	UpdatedAt           string  `json:"updated_at"`
}

type GateResponse struct {
	CaseID      string         `json:"case_id"`
	Key         string         `json:"key"`
	Status      string         `json:"status"`
	Payload     map[string]any `json:"payload"`
	CompletedBy *string        `json:"completed_by,omitempty"`
	CompletedAt *string        `json:"completed_at,omitempty"`
}

type SeriousCauseResponse struct {
	CaseID                 string  `json:"case_id"`
	DecisionMaker          string  `json:"decision_maker,omitempty"`
	IncidentAt             *string `json:"incident_at,omitempty"`
	InvestigationStartedAt *string `json:"investigation_started_at,omitempty"`
	FactsConfirmedAt       *string `json:"facts_confirmed_at,omitempty"`
	DecisionDueAt          *string `json:"decision_due_at,omitempty"`
	DismissalDueAt         *string `json:"dismissal_due_at,omitempty"`
	RuleConfirmed          bool    `json:"rule_confirmed"`
	DismissalRecordedAt    *string `json:"dismissal_recorded_at,omitempty"`
	ReasonsSentAt          *string `json:"reasons_sent_at,omitempty"`
	ReasonsMethod          string  `json:"reasons_method,omitempty"`
	ReasonsProofRef        string  `json:"reasons_proof_ref,omitempty"`
	MissedReason           string  `json:"missed_reason,omitempty"`
	MissedAckBy            string  `json:"missed_ack_by,omitempty"`
	MissedAckAt            *string `json:"missed_ack_at,omitempty"`
}

type GrantResponse struct {
	ID              string  `json:"id"`
	CaseID          string  `json:"case_id"`
	Reason          string  `json:"reason"`
	DurationMinutes int     `json:"duration_minutes"`
	GrantedBy       string  `json:"granted_by"`
	IssuedAt        string  `json:"issued_at"`
	ExpiresAt       string  `json:"expires_at"`
	RevokedAt       *string `json:"revoked_at,omitempty"`
	RevokedBy       *string `json:"revoked_by,omitempty"`
	Valid           bool    `json:"valid"`
}

type OutcomeResponse struct {
	CaseID         string `json:"case_id"`
	Outcome        string `json:"outcome"`
	Summary        string `json:"summary,omitempty"`
	DecidedBy      string `json:"decided_by"`
	OverrideReason string `json:"override_reason,omitempty"`
	DecidedAt      string `json:"decided_at"`
}

type SubjectResponse struct {
	ID          string  `json:"id"`
	CaseID      string  `json:"case_id"`
	Name        string  `json:"name"`
	Role        string  `json:"role,omitempty"`
	ManagerName *string `json:"manager_name,omitempty"`
	CreatedAt   string  `json:"created_at"`
}

type EvidenceResponse struct {
	ID        string  `json:"id"`
	CaseID    string  `json:"case_id"`
	Label     string  `json:"label"`
	Link      *string `json:"link,omitempty"`
	AddedBy   string  `json:"added_by"`
	CreatedAt string  `json:"created_at"`
}

type NoteResponse struct {
	ID           string   `json:"id"`
	CaseID       string   `json:"case_id"`
	Body         string   `json:"body"`
	FlaggedTerms []string `json:"flagged_terms,omitempty"`
	AuthorID     string   `json:"author_id"`
	CreatedAt    string   `json:"created_at"`
}

type CaseLinkResponse struct {
	CaseID       string `json:"case_id"`
	LinkedCaseID string `json:"linked_case_id"`
	Relation     string `json:"relation,omitempty"`
	CreatedAt    string `json:"created_at"`
}

type CaseTaskResponse struct {
	ID          string  `json:"id"`
	CaseID      string  `json:"case_id"`
	Title       string  `json:"title"`
	Status      string  `json:"status"`
	AssigneeID  *string `json:"assignee_id,omitempty"`
	CreatedAt   string  `json:"created_at"`
	CompletedAt *string `json:"completed_at,omitempty"`
}

type AuditEventResponse struct {
	ID      int64          `json:"id"`
	TS      string         `json:"ts"`
	Type    string         `json:"type"`
	CaseID  string         `json:"case_id,omitempty"`
	ActorID string         `json:"actor_id"`
	Message string         `json:"message"`
	Changes map[string]any `json:"changes"`
	Context map[string]any `json:"context"`
}

type BlockerResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at"`
}

type WorkspaceConfigResponse struct {
	WorkspaceID   string                             `json:"workspace_id"`
	Jurisdictions map[string]config.JurisdictionRule `json:"jurisdictions"`
	DefaultRule   config.JurisdictionRule            `json:"default_rule"`
}

type paginatedCases struct {
	Items      []CaseResponse `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type paginatedAuditEvents struct {
	Items      []AuditEventResponse `json:"items"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

// caseResponse maps a case. Without an active grant the sensitive contact
// fields are masked, never omitted.
func caseResponse(c domain.Case, unmasked bool) CaseResponse {
	resp := CaseResponse{
		ID:                  c.ID,
		Code:                c.Code,
		Title:               c.Title,
		Jurisdiction:        c.Jurisdiction,
		Stage:               c.Stage,
		Status:              c.Status,
		Anonymized:          c.Anonymized,
		VIP:                 c.VIP,
		UrgentDismissal:     c.UrgentDismissal,
		SubjectSuspended:    c.SubjectSuspended,
		SeriousCauseEnabled: c.SeriousCauseEnabled,
		EvidenceLocked:      c.EvidenceLocked,
		Version:             c.Version,
		CreatedAt:           c.CreatedAt,
		UpdatedAt:           c.UpdatedAt,
	}
	if c.JurisdictionOther != "" {
		resp.JurisdictionOther = strPtr(c.JurisdictionOther)
	}
	mask := func(v string) *string {
		if v == "" {
			return nil
		}
		if unmasked {
			return strPtr(v)
		}
		return strPtr(maskedValue)
	}
	resp.ReporterIdentity = mask(c.ReporterIdentity)
	resp.LegalHoldContact = mask(c.LegalHoldContact)
	resp.ExpertAccessContact = mask(c.ExpertAccessContact)
	return resp
}

func gateResponse(g domain.Gate) GateResponse {
	return GateResponse{
		CaseID:      g.CaseID,
		Key:         g.Key,
		Status:      g.Status,
		Payload:     decodeJSONMap(g.PayloadJSON),
		CompletedBy: g.CompletedBy,
		CompletedAt: g.CompletedAt,
	}
}

func seriousCauseResponse(sc domain.SeriousCause) SeriousCauseResponse {
	return SeriousCauseResponse{
		CaseID:                 sc.CaseID,
		DecisionMaker:          sc.DecisionMaker,
		IncidentAt:             sc.IncidentAt,
		InvestigationStartedAt: sc.InvestigationStartedAt,
		FactsConfirmedAt:       sc.FactsConfirmedAt,
		DecisionDueAt:          sc.DecisionDueAt,
		DismissalDueAt:         sc.DismissalDueAt,
		RuleConfirmed:          sc.RuleConfirmed,
		DismissalRecordedAt:    sc.DismissalRecordedAt,
		ReasonsSentAt:          sc.ReasonsSentAt,
		ReasonsMethod:          sc.ReasonsMethod,
		ReasonsProofRef:        sc.ReasonsProofRef,
		MissedReason:           sc.MissedReason,
		MissedAckBy:            sc.MissedAckBy,
		MissedAckAt:            sc.MissedAckAt,
	}
}

func grantResponse(g domain.Grant, valid bool) GrantResponse {
	return GrantResponse{
		ID:              g.ID,
		CaseID:          g.CaseID,
		Reason:          g.Reason,
		DurationMinutes: g.DurationMinutes,
		GrantedBy:       g.GrantedBy,
		IssuedAt:        g.IssuedAt,
		ExpiresAt:       g.ExpiresAt,
		RevokedAt:       g.RevokedAt,
		RevokedBy:       g.RevokedBy,
		Valid:           valid,
	}
}

func outcomeResponse(o domain.Outcome) OutcomeResponse {
	return OutcomeResponse{
		CaseID:         o.CaseID,
		Outcome:        o.Outcome,
		Summary:        o.Summary,
		DecidedBy:      o.DecidedBy,
		OverrideReason: o.OverrideReason,
		DecidedAt:      o.DecidedAt,
	}
}

func subjectResponse(s domain.Subject, unmasked bool) SubjectResponse {
	resp := SubjectResponse{
		ID:        s.ID,
		CaseID:    s.CaseID,
		Name:      s.Name,
		Role:      s.Role,
		CreatedAt: s.CreatedAt,
	}
	if s.ManagerName != "" {
		if unmasked {
			resp.ManagerName = strPtr(s.ManagerName)
		} else {
			resp.ManagerName = strPtr(maskedValue)
		}
	}
	return resp
}

func evidenceResponse(e domain.Evidence, unmasked bool) EvidenceResponse {
	resp := EvidenceResponse{
		ID:        e.ID,
		CaseID:    e.CaseID,
		Label:     e.Label,
		AddedBy:   e.AddedBy,
		CreatedAt: e.CreatedAt,
	}
	if e.Link != "" {
		if unmasked {
			resp.Link = strPtr(e.Link)
		} else {
			resp.Link = strPtr(maskedValue)
		}
	}
	return resp
}

func noteResponse(n domain.Note, unmasked bool) NoteResponse {
	body := n.Body
	if !unmasked {
		body = maskedValue
	}
	return NoteResponse{
		ID:           n.ID,
		CaseID:       n.CaseID,
		Body:         body,
		FlaggedTerms: decodeStringSlice(n.FlaggedTermsJSON),
		AuthorID:     n.AuthorID,
		CreatedAt:    n.CreatedAt,
	}
}

func caseLinkResponse(l domain.CaseLink) CaseLinkResponse {
	return CaseLinkResponse{
		CaseID:       l.CaseID,
		LinkedCaseID: l.LinkedCaseID,
		Relation:     l.Relation,
		CreatedAt:    l.CreatedAt,
	}
}

func caseTaskResponse(t domain.CaseTask) CaseTaskResponse {
	return CaseTaskResponse{
		ID:          t.ID,
		CaseID:      t.CaseID,
		Title:       t.Title,
		Status:      t.Status,
		AssigneeID:  t.AssigneeID,
		CreatedAt:   t.CreatedAt,
		CompletedAt: t.CompletedAt,
	}
}

func auditEventResponse(e domain.AuditEvent) AuditEventResponse {
	return AuditEventResponse{
		ID:      e.ID,
		TS:      e.TS,
		Type:    e.Type,
		CaseID:  e.CaseID,
		ActorID: e.ActorID,
		Message: e.Message,
		Changes: decodeJSONMap(e.ChangesJSON),
		Context: decodeJSONMap(e.ContextJSON),
	}
}

func apiKeyResponse(k domain.APIKey) APIKeyResponse {
	return APIKeyResponse{
		ID:        k.ID,
		ActorID:   k.ActorID,
		Name:      k.Name,
		CreatedAt: k.CreatedAt,
	}
}

func configResponse(workspaceID string, cfg *config.Config) WorkspaceConfigResponse {
	return WorkspaceConfigResponse{
		WorkspaceID:   workspaceID,
		Jurisdictions: cfg.Jurisdictions.Catalog,
		DefaultRule:   cfg.Jurisdictions.Default,
	}
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return map[string]any{}
	}
	return m
}

func decodeStringSlice(raw *string) []string {
	if raw == nil || *raw == "" {
		return nil
	}
	var s []string
	if err := json.Unmarshal([]byte(*raw), &s); err != nil {
		return nil
	}
	return s
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

func strPtr(in string) *string {
	return &in
}
