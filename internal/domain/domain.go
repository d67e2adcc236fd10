package domain

import "strings"

// Case lifecycle stages, in order.
const (
	StageIntake        = "INTAKE"
	StageLegitimacy    = "LEGITIMACY_GATE"
	StageCredentialing = "CREDENTIALING"
	StageInvestigation = "INVESTIGATION"
	StageAdversarial   = "ADVERSARIAL_DEBATE"
	StageDecision      = "DECISION"
	StageClosure       = "CLOSURE"
)

// StageOrder is the fixed lifecycle sequence.
var StageOrder = []string{
	StageIntake,
	StageLegitimacy,
	StageCredentialing,
	StageInvestigation,
	StageAdversarial,
	StageDecision,
	StageClosure,
}

// StageIndex returns the position of a stage in the lifecycle, or -1.
func StageIndex(stage string) int {
	for i, s := range StageOrder {
		if s == stage {
			return i
		}
	}
	return -1
}

// Case statuses.
const (
	StatusOpen           = "OPEN"
	StatusOnHold         = "ON_HOLD"
	StatusClosed         = "CLOSED"
	StatusErasurePending = "ERASURE_PENDING"
	StatusErased         = "ERASED"
)

// Gate keys. The set is fixed; payload schemas are keyed off these.
const (
	GateTriage         = "triage"
	GateLegitimacy     = "legitimacy"
	GateCredentialing  = "credentialing"
	GateWorksCouncil   = "works_council"
	GateLegal          = "legal"
	GateAdversarial    = "adversarial"
	GateImpactAnalysis = "impact_analysis"
)

// Gate statuses.
const (
	GateStatusPending  = "pending"
	GateStatusComplete = "complete"
)

// GateKeys lists every known gate key.
var GateKeys = []string{
	GateTriage,
	GateLegitimacy,
	GateCredentialing,
	GateWorksCouncil,
	GateLegal,
	GateAdversarial,
	GateImpactAnalysis,
}

// Jurisdiction codes. Free-text values normalize to OTHER with the original
// text preserved on the case.
const (
	JurisdictionBE    = "BE"
	JurisdictionNL    = "NL"
	JurisdictionFR    = "FR"
	JurisdictionDE    = "DE"
	JurisdictionUK    = "UK"
	JurisdictionOther = "OTHER"
)

var jurisdictionAliases = map[string]string{
	"be": JurisdictionBE, "bel": JurisdictionBE, "belgium": JurisdictionBE, "belgique": JurisdictionBE, "belgie": JurisdictionBE,
	"nl": JurisdictionNL, "nld": JurisdictionNL, "netherlands": JurisdictionNL, "the netherlands": JurisdictionNL, "nederland": JurisdictionNL, "holland": JurisdictionNL,
	"fr": JurisdictionFR, "fra": JurisdictionFR, "france": JurisdictionFR,
	"de": JurisdictionDE, "deu": JurisdictionDE, "germany": JurisdictionDE, "deutschland": JurisdictionDE,
	"uk": JurisdictionUK, "gb": JurisdictionUK, "united kingdom": JurisdictionUK, "great britain": JurisdictionUK, "england": JurisdictionUK,
}

// NormalizeJurisdiction maps free-form input to a jurisdiction code once, at
// the boundary. Unknown values become OTHER and the trimmed input is returned
// as the free text. No rule downstream ever substring-matches jurisdictions.
func NormalizeJurisdiction(input string) (code, freeText string) {
	trimmed := strings.TrimSpace(input)
	key := strings.ToLower(trimmed)
	if code, ok := jurisdictionAliases[key]; ok {
		return code, ""
	}
	for _, c := range []string{JurisdictionBE, JurisdictionNL, JurisdictionFR, JurisdictionDE, JurisdictionUK} {
		if strings.EqualFold(trimmed, c) {
			return c, ""
		}
	}
	// Longer phrases ("Netherlands - Amsterdam office") still resolve here.
	for alias, c := range jurisdictionAliases {
		if len(alias) > 3 && strings.Contains(key, alias) {
			return c, ""
		}
	}
	return JurisdictionOther, trimmed
}

// Case is the aggregate root.
type Case struct {
	ID                  string `json:"id"`
	Code                string `json:"code"`
	Title               string `json:"title"`
	Jurisdiction        string `json:"jurisdiction" enum:"BE,NL,FR,DE,UK,OTHER"`
	JurisdictionOther   string `json:"jurisdiction_other,omitempty"`
	Stage               string `json:"stage" enum:"INTAKE,LEGITIMACY_GATE,CREDENTIALING,INVESTIGATION,ADVERSARIAL_DEBATE,DECISION,CLOSURE"`
	Status              string `json:"status" enum:"OPEN,ON_HOLD,CLOSED,ERASURE_PENDING,ERASED"`
	Anonymized          bool   `json:"anonymized"`
	VIP                 bool   `json:"vip"`
	UrgentDismissal     bool   `json:"urgent_dismissal"`
	SubjectSuspended    bool   `json:"subject_suspended"`
	SeriousCauseEnabled bool   `json:"serious_cause_enabled"`
	EvidenceLocked      bool   `json:"evidence_locked"`
	ReporterIdentity    string `json:"reporter_identity,omitempty"`
	LegalHoldContact    string `json:"legal_hold_contact,omitempty"`
	ExpertAccessContact string `json:"expert_access_contact,omitempty"`
	Version             int64  `json:"version"`
	CreatedAt           string `json:"created_at" format:"date-time"`
	UpdatedAt           string `json:"updated_at" format:"date-time"`
}

// Gate is one checkpoint record on a case.
type Gate struct {
	CaseID      string  `json:"case_id"`
	Key         string  `json:"key" enum:"triage,legitimacy,credentialing,works_council,legal,adversarial,impact_analysis"`
	Status      string  `json:"status" enum:"pending,complete"`
	PayloadJSON string  `json:"payload_json"`
	CompletedBy *string `json:"completed_by,omitempty"`
	CompletedAt *string `json:"completed_at,omitempty" format:"date-time"`
}

// SeriousCause holds the statutory-deadline record for a case. Due dates are
// derived, never set directly.
type SeriousCause struct {
	CaseID                 string  `json:"case_id"`
	DecisionMaker          string  `json:"decision_maker,omitempty"`
	IncidentAt             *string `json:"incident_at,omitempty" format:"date-time"`
	InvestigationStartedAt *string `json:"investigation_started_at,omitempty" format:"date-time"`
	FactsConfirmedAt       *string `json:"facts_confirmed_at,omitempty" format:"date-time"`
	DecisionDueAt          *string `json:"decision_due_at,omitempty" format:"date-time"`
	DismissalDueAt         *string `json:"dismissal_due_at,omitempty" format:"date-time"`
	RuleConfirmed          bool    `json:"rule_confirmed"`
	DismissalRecordedAt    *string `json:"dismissal_recorded_at,omitempty" format:"date-time"`
	ReasonsSentAt          *string `json:"reasons_sent_at,omitempty" format:"date-time"`
	ReasonsMethod          string  `json:"reasons_method,omitempty"`
	ReasonsProofRef        string  `json:"reasons_proof_ref,omitempty"`
	MissedReason           string  `json:"missed_reason,omitempty"`
	MissedAckBy            string  `json:"missed_ack_by,omitempty"`
	MissedAckAt            *string `json:"missed_ack_at,omitempty" format:"date-time"`
}

// Grant is a time-boxed break-glass access grant scoped to one case.
type Grant struct {
	ID              string  `json:"id"`
	CaseID          string  `json:"case_id"`
	Reason          string  `json:"reason"`
	DurationMinutes int     `json:"duration_minutes"`
	GrantedBy       string  `json:"granted_by"`
	IssuedAt        string  `json:"issued_at" format:"date-time"`
	ExpiresAt       string  `json:"expires_at" format:"date-time"`
	RevokedAt       *string `json:"revoked_at,omitempty" format:"date-time"`
	RevokedBy       *string `json:"revoked_by,omitempty"`
}

// AuditEvent is one immutable ledger entry.
type AuditEvent struct {
	ID          int64  `json:"id"`
	TS          string `json:"ts" format:"date-time"`
	Type        string `json:"type"`
	CaseID      string `json:"case_id,omitempty"`
	ActorID     string `json:"actor_id"`
	Message     string `json:"message"`
	ChangesJSON string `json:"changes_json,omitempty"`
	ContextJSON string `json:"context_json,omitempty"`
}

// Subject is a person under investigation on a case.
type Subject struct {
	ID          string `json:"id"`
	CaseID      string `json:"case_id"`
	Name        string `json:"name"`
	Role        string `json:"role,omitempty"`
	ManagerName string `json:"manager_name,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// Evidence is an evidence item attached to a case.
type Evidence struct {
	ID        string `json:"id"`
	CaseID    string `json:"case_id"`
	Label     string `json:"label"`
	Link      string `json:"link,omitempty"`
	AddedBy   string `json:"added_by"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Note is a free-text case note. Bodies are sensitive.
type Note struct {
	ID               string  `json:"id"`
	CaseID           string  `json:"case_id"`
	Body             string  `json:"body"`
	FlaggedTermsJSON *string `json:"flagged_terms_json,omitempty"`
	AuthorID         string  `json:"author_id"`
	CreatedAt        string  `json:"created_at" format:"date-time"`
}

// CaseLink relates two cases. Cases are referenced, never jointly mutated.
type CaseLink struct {
	CaseID       string `json:"case_id"`
	LinkedCaseID string `json:"linked_case_id"`
	Relation     string `json:"relation,omitempty"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

// CaseTask is a follow-up action item on a case.
type CaseTask struct {
	ID          string  `json:"id"`
	CaseID      string  `json:"case_id"`
	Title       string  `json:"title"`
	Status      string  `json:"status" enum:"open,done"`
	AssigneeID  *string `json:"assignee_id,omitempty"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	CompletedAt *string `json:"completed_at,omitempty" format:"date-time"`
}

// Outcome is the recorded case decision, one per case.
type Outcome struct {
	CaseID         string `json:"case_id"`
	Outcome        string `json:"outcome"`
	Summary        string `json:"summary,omitempty"`
	DecidedBy      string `json:"decided_by"`
	OverrideReason string `json:"override_reason,omitempty"`
	DecidedAt      string `json:"decided_at" format:"date-time"`
}

// APIKey authenticates machine callers.
type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
