package repair

import (
	"github.com/metalagman/buildmend/internal/config"
	"github.com/metalagman/buildmend/internal/diag"
)

// State is a controller state.
type State int

const (
	StateStart State = iota
	StateSetup
	StateBuild
	StateContext
	StatePropose
	StateApply
	StateVerify

	// Terminal states.
	StateDone
	StateAccepted
	StateStopped
	StateReverted
	StateAborted
)

var stateNames = map[State]string{
	StateStart:    "start",
	StateSetup:    "setup",
	StateBuild:    "build",
	StateContext:  "context",
	StatePropose:  "propose",
	StateApply:    "apply",
	StateVerify:   "verify",
	StateDone:     "done",
	StateAccepted: "accepted",
	StateStopped:  "stopped",
	StateReverted: "reverted",
	StateAborted:  "aborted",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether the controller stops in s.
func (s State) Terminal() bool {
	return s >= StateDone
}

// Outcome is the terminal result of a session.
type Outcome string

const (
	OutcomeAborted  Outcome = "aborted"
	OutcomeDone     Outcome = "done"
	OutcomeAccepted Outcome = "accepted"
	OutcomeStopped  Outcome = "stopped"
	OutcomeReverted Outcome = "reverted"
)

func (s State) outcome() Outcome {
	switch s {
	case StateDone:
		return OutcomeDone
	case StateAccepted:
		return OutcomeAccepted
	case StateStopped:
		return OutcomeStopped
	case StateReverted:
		return OutcomeReverted
	default:
		return OutcomeAborted
	}
}

// Success reports whether the outcome left a clean build.
func (o Outcome) Success() bool {
	return o == OutcomeDone || o == OutcomeAccepted
}

// Decision is the routing choice after a Verify build.
type Decision int

const (
	DecisionLoop Decision = iota
	DecisionAccept
	DecisionStop
	DecisionRevert
)

func (d Decision) String() string {
	switch d {
	case DecisionLoop:
		return "loop"
	case DecisionAccept:
		return "accept"
	case DecisionStop:
		return "stop"
	case DecisionRevert:
		return "revert"
	default:
		return "unknown"
	}
}

// Policy holds the loop bounds.
type Policy struct {
	// MaxRetries caps the number of repair rounds.
	MaxRetries int
	// RegressionThreshold is the error count at which a round is judged
	// to have made the build categorically worse.
	RegressionThreshold int
}

// PolicyFromConfig maps repair settings onto a policy.
func PolicyFromConfig(cfg config.RepairConfig) Policy {
	return Policy{MaxRetries: cfg.MaxRetries, RegressionThreshold: cfg.RegressionThreshold}
}

// route picks the state after the initial build.
func route(initial diag.Result) State {
	if initial.Clean() {
		return StateDone
	}
	return StateContext
}

// decide evaluates a Verify build. retries is the number of rounds run so
// far, including the one just verified. Regression is judged on the error
// count alone; a different set of errors below the threshold is progress.
func decide(verify diag.Result, retries int, p Policy) Decision {
	errs := len(verify.Errors)
	switch {
	case verify.Clean():
		return DecisionAccept
	case retries >= p.MaxRetries:
		if errs < p.RegressionThreshold {
			return DecisionStop
		}
		return DecisionRevert
	case errs < p.RegressionThreshold:
		return DecisionLoop
	default:
		return DecisionRevert
	}
}
