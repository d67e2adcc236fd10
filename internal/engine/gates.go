package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"caseflow/internal/domain"
)

// gateRequiredFields lists the payload fields each gate must carry, non-empty.
var gateRequiredFields = map[string][]string{
	domain.GateTriage:         {"severity", "summary"},
	domain.GateLegitimacy:     {"legal_basis", "trigger_summary"},
	domain.GateCredentialing:  {"investigator_name", "investigator_role"},
	domain.GateWorksCouncil:   {},
	domain.GateLegal:          {"reviewer_name"},
	domain.GateAdversarial:    {"subject_position", "company_position"},
	domain.GateImpactAnalysis: {"impact_summary"},
}

// stageGateRequirements maps a target stage to the gates that must be
// complete before advancing into it. Order matters: blockers come back in
// this order.
var stageGateRequirements = map[string][]string{
	domain.StageIntake:        {},
	domain.StageLegitimacy:    {domain.GateTriage},
	domain.StageCredentialing: {domain.GateTriage, domain.GateLegitimacy},
	domain.StageInvestigation: {domain.GateLegitimacy, domain.GateCredentialing},
	domain.StageAdversarial:   {domain.GateLegitimacy, domain.GateCredentialing, domain.GateImpactAnalysis},
	domain.StageDecision:      {domain.GateAdversarial},
	domain.StageClosure:       {domain.GateAdversarial},
}

func validateGatePayload(key string, payload map[string]any) error {
	required, ok := gateRequiredFields[key]
	if !ok {
		return ValidationError{Field: "key", Message: fmt.Sprintf("unknown gate %q", key)}
	}
	for _, field := range required {
		v, present := payload[field]
		if !present {
			return ValidationError{Field: field, Message: fmt.Sprintf("gate %s requires %s", key, field)}
		}
		if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
			return ValidationError{Field: field, Message: fmt.Sprintf("gate %s requires non-empty %s", key, field)}
		}
	}
	return nil
}

// gatePayload decodes a stored gate's payload JSON; nil gate or bad JSON
// yields an empty map so blocker evaluation never panics mid-pass.
func gatePayload(g *domain.Gate) map[string]any {
	if g == nil || g.PayloadJSON == "" {
		return map[string]any{}
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(g.PayloadJSON), &payload); err != nil {
		return map[string]any{}
	}
	return payload
}

func payloadString(payload map[string]any, field string) string {
	if v, ok := payload[field]; ok {
		if s, isString := v.(string); isString {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func payloadBool(payload map[string]any, field string) bool {
	if v, ok := payload[field]; ok {
		if b, isBool := v.(bool); isBool {
			return b
		}
	}
	return false
}

// transitionBlockers evaluates every unmet precondition for moving c into
// target in a single pass. gates maps gate key to the stored record. sc is
// nil when the serious-cause workflow is not enabled.
func transitionBlockers(c domain.Case, target string, gates map[string]domain.Gate, sc *domain.SeriousCause, outcome *domain.Outcome, worksCouncilApplies bool) []Blocker {
	var blockers []Blocker
	for _, key := range stageGateRequirements[target] {
		g, ok := gates[key]
		if !ok || g.Status != domain.GateStatusComplete {
			blockers = append(blockers, Blocker{
				Code:    "gate_incomplete:" + key,
				Message: fmt.Sprintf("gate %s must be complete before %s", key, target),
			})
		}
	}
	targetIdx := domain.StageIndex(target)
	if c.VIP && targetIdx >= domain.StageIndex(domain.StageDecision) {
		g, ok := gates[domain.GateLegal]
		if !ok || g.Status != domain.GateStatusComplete {
			blockers = append(blockers, Blocker{
				Code:    "gate_incomplete:" + domain.GateLegal,
				Message: "legal review is required for VIP cases before " + target,
			})
		}
	}
	if c.EvidenceLocked && worksCouncilApplies && targetIdx >= domain.StageIndex(domain.StageInvestigation) {
		blockers = append(blockers, Blocker{
			Code:    "evidence_locked",
			Message: "works council approval is pending; evidence is locked",
		})
	}
	if target == domain.StageDecision && c.SeriousCauseEnabled {
		if sc == nil || sc.FactsConfirmedAt == nil {
			blockers = append(blockers, Blocker{
				Code:    "facts_not_confirmed",
				Message: "serious-cause findings must be submitted before DECISION",
			})
		}
	}
	if target == domain.StageClosure && outcome == nil {
		blockers = append(blockers, Blocker{
			Code:    "outcome_missing",
			Message: "a decision outcome must be recorded before CLOSURE",
		})
	}
	return blockers
}
