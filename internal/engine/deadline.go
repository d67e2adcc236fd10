package engine

import (
	"time"

	"caseflow/internal/config"
)

// DeadlineResult is the output of a serious-cause deadline computation.
// RuleConfirmed is false when the jurisdiction fell back to the default
// window; callers must surface that, never swallow it.
type DeadlineResult struct {
	DecisionDueAt  time.Time
	DismissalDueAt time.Time
	RuleConfirmed  bool
}

// ComputeDeadlines derives both due-dates from the jurisdiction rule and the
// facts-confirmed timestamp. Pure; same inputs always yield the same result.
func ComputeDeadlines(cfg *config.Config, jurisdiction string, factsConfirmed time.Time) DeadlineResult {
	rule, confirmed := cfg.Rule(jurisdiction)
	decisionDue := addDays(factsConfirmed, rule.DecisionDays, rule.BusinessDays)
	dismissalDue := addDays(decisionDue, rule.DismissalDays, rule.BusinessDays)
	return DeadlineResult{
		DecisionDueAt:  decisionDue,
		DismissalDueAt: dismissalDue,
		RuleConfirmed:  confirmed,
	}
}

func addDays(from time.Time, days int, businessDays bool) time.Time {
	if !businessDays {
		return from.AddDate(0, 0, days)
	}
	t := from
	for remaining := days; remaining > 0; {
		t = t.AddDate(0, 0, 1)
		if wd := t.Weekday(); wd != time.Saturday && wd != time.Sunday {
			remaining--
		}
	}
	return t
}
