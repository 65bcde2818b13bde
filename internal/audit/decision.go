package audit

import (
	"strings"

	"github.com/Azure/azsqlaudit/pkg/config"
)

type TargetState int

const (
	TargetStateDisabled TargetState = iota
	TargetStateEnabled
)

func (s TargetState) String() string {
	if s == TargetStateEnabled {
		return "Enabled"
	}
	return "Disabled"
}

// State is the audit state of a server regarding the Log Analytics target.
type State struct {
	TargetState TargetState
	// WorkspaceResourceId is the resource id of the Log Analytics workspace audit logs are sent to, empty if none.
	WorkspaceResourceId string
}

type Action int

const (
	ActionNone Action = iota
	ActionEnable
	ActionDisable
)

func (a Action) String() string {
	switch a {
	case ActionEnable:
		return "enable"
	case ActionDisable:
		return "disable"
	default:
		return "none"
	}
}

type Outcome string

const (
	OutcomeEnabled        Outcome = "Enabled"
	OutcomeDisabled       Outcome = "Disabled"
	OutcomeNotEnabled     Outcome = "---"
	OutcomeAlreadyEnabled Outcome = "Already enabled"
	OutcomeSkipped        Outcome = "Skipped (other settings in use)"
	OutcomeOtherInUse     Outcome = "Other settings in use"
)

// Outcomes lists all the outcomes, in the order they are reported.
var Outcomes = []Outcome{
	OutcomeEnabled,
	OutcomeDisabled,
	OutcomeAlreadyEnabled,
	OutcomeSkipped,
	OutcomeOtherInUse,
	OutcomeNotEnabled,
}

type Decision struct {
	Action  Action
	Outcome Outcome
}

// Decide decides what to do with a server given its current audit state, the run mode and the workspace of this run.
func Decide(state State, mode config.Mode, workspaceId string) Decision {
	if state.TargetState != TargetStateEnabled {
		if mode == config.ModeEnable {
			return Decision{Action: ActionEnable, Outcome: OutcomeEnabled}
		}
		return Decision{Action: ActionNone, Outcome: OutcomeNotEnabled}
	}

	oursInUse := SameResourceId(state.WorkspaceResourceId, workspaceId)
	switch mode {
	case config.ModeEnable:
		if oursInUse {
			return Decision{Action: ActionNone, Outcome: OutcomeAlreadyEnabled}
		}
		return Decision{Action: ActionNone, Outcome: OutcomeSkipped}
	case config.ModeDisable:
		if oursInUse {
			return Decision{Action: ActionDisable, Outcome: OutcomeDisabled}
		}
		return Decision{Action: ActionNone, Outcome: OutcomeSkipped}
	default:
		if oursInUse {
			return Decision{Action: ActionNone, Outcome: OutcomeAlreadyEnabled}
		}
		return Decision{Action: ActionNone, Outcome: OutcomeOtherInUse}
	}
}

// SameResourceId compares two ARM resource ids. ARM resource ids are case insensitive. An empty id never equals to anything.
func SameResourceId(a, b string) bool {
	a = strings.TrimSuffix(strings.TrimSpace(a), "/")
	b = strings.TrimSuffix(strings.TrimSpace(b), "/")
	if a == "" || b == "" {
		return false
	}
	return strings.EqualFold(a, b)
}
