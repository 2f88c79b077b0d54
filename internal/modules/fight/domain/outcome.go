package domain

import (
	"fmt"
	"strings"
)

// Outcome represents one of the three results a fight can be declared with
type Outcome string

const (
	OutcomeRed  Outcome = "red"  // OutcomeA, the red corner
	OutcomeBlue Outcome = "blue" // OutcomeB, the blue corner
	OutcomeTie  Outcome = "tie"
)

// Outcomes lists every valid outcome in display order
var Outcomes = []Outcome{OutcomeRed, OutcomeBlue, OutcomeTie}

// Valid reports whether o is one of the fixed outcomes
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeRed, OutcomeBlue, OutcomeTie:
		return true
	}
	return false
}

func (o Outcome) String() string {
	return string(o)
}

// ParseOutcome accepts the canonical names plus the legacy spanish labels
// (rojo, azul, empate) still sent by older dashboards.
func ParseOutcome(s string) (Outcome, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "red", "rojo":
		return OutcomeRed, nil
	case "blue", "azul":
		return OutcomeBlue, nil
	case "tie", "empate":
		return OutcomeTie, nil
	}
	return "", fmt.Errorf("%w: unknown outcome %q", ErrInvalidArgument, s)
}
