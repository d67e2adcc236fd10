package engine

import "strings"

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func sameActor(a, b string) bool {
	na, nb := normalizeName(a), normalizeName(b)
	if na == "" || nb == "" {
		return false
	}
	return na == nb
}

// decisionConflicts evaluates role separation for recording a decision.
// investigator comes from the credentialing gate payload, decisionMaker from
// the serious-cause record, caller is the acting actor. Order is stable so
// repeated calls produce identical conflict lists.
func decisionConflicts(investigator, decisionMaker, caller string) []string {
	var conflicts []string
	if sameActor(investigator, decisionMaker) {
		conflicts = append(conflicts, "decision maker matches investigator")
	}
	if sameActor(investigator, caller) {
		conflicts = append(conflicts, "investigator cannot record the decision")
	}
	return conflicts
}
