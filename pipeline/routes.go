package pipeline

import (
	"fmt"

	"github.com/deepnoodle-ai/queryflow"
)

// Stage names.
const (
	StageExplore     = "explore"
	StageDetect      = "detect"
	StageClarify     = "clarify"
	StageResolve     = "resolve"
	StagePlan        = "plan"
	StageGenerateSQL = "generate_sql"
	StageSafety      = "safety"
	StageExecute     = "execute"
	StageAnswer      = "answer"
	StageDegrade     = "degrade"
)

// Decision is the ambiguity decision produced by the detect stage.
type Decision = queryflow.Decision

// Outcome classifies the state a stage left behind for routing.
type Outcome int

const (
	// OutcomeOK means the stage succeeded.
	OutcomeOK Outcome = iota
	// OutcomeRetry means the stage failed in a way its loop can repair.
	OutcomeRetry
	// OutcomeEmpty means the statement returned no rows and should be
	// replanned.
	OutcomeEmpty
	// OutcomeExhausted means a retry budget ran out.
	OutcomeExhausted
	// OutcomeFailed means any other failure.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeRetry:
		return "retry"
	case OutcomeEmpty:
		return "empty"
	case OutcomeExhausted:
		return "exhausted"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// OutcomeOf classifies the last error in state.
func OutcomeOf(state *queryflow.State) Outcome {
	if state.LastError == nil {
		return OutcomeOK
	}
	switch state.LastError.Type {
	case queryflow.ErrorTypeEmptyResult:
		return OutcomeEmpty
	case queryflow.ErrorTypeExhaustedRetries:
		return OutcomeExhausted
	case queryflow.ErrorTypeParseFailure, queryflow.ErrorTypeValidationFailure,
		queryflow.ErrorTypeSafetyViolation, queryflow.ErrorTypeDataAccessFault:
		return OutcomeRetry
	default:
		return OutcomeFailed
	}
}

// needsClarification reports whether detection asked for a human choice.
func needsClarification(state *queryflow.State) bool {
	return state.Detection != nil &&
		state.Detection.Decision == queryflow.DecisionClarify &&
		len(state.Detection.Options) > 0
}

func routeDetect(state *queryflow.State) string {
	if state.Detection == nil {
		return StageResolve
	}
	switch state.Detection.Decision {
	case queryflow.DecisionClarify:
		if needsClarification(state) {
			return StageClarify
		}
		return StageResolve
	case queryflow.DecisionAssume, queryflow.DecisionReady:
		return StageResolve
	default:
		return StageResolve
	}
}

// routeRetry sends a stage back to retry on a repairable failure, and to the
// degrade stage once the failure exhausted its budget.
func routeRetry(success, retry string) queryflow.RouteFunc {
	return func(state *queryflow.State) string {
		switch OutcomeOf(state) {
		case OutcomeOK:
			return success
		case OutcomeRetry:
			return retry
		case OutcomeEmpty, OutcomeExhausted, OutcomeFailed:
			return StageDegrade
		default:
			return StageDegrade
		}
	}
}

func routeExecute(state *queryflow.State) string {
	switch OutcomeOf(state) {
	case OutcomeOK:
		return StageAnswer
	case OutcomeEmpty:
		return StagePlan
	case OutcomeRetry:
		return StageGenerateSQL
	case OutcomeExhausted, OutcomeFailed:
		return StageDegrade
	default:
		return StageDegrade
	}
}
