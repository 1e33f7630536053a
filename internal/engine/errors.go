package engine

import (
	"fmt"
	"strings"

	"compmap/internal/domain"
)

// Business-rule violations are deterministic and must never be retried by
// the engine; infrastructure failures pass through unwrapped for the caller
// to handle.

type InvalidInputError struct {
	Msg string
}

func (e *InvalidInputError) Error() string { return e.Msg }

func invalidInput(format string, args ...any) error {
	return &InvalidInputError{Msg: fmt.Sprintf(format, args...)}
}

type InvalidStateError struct {
	Op      string
	Current domain.ProcessSituation
	Reason  string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s: %s", e.Op, e.Reason)
}

func invalidProcessState(op string, current, required domain.ProcessSituation) error {
	return &InvalidStateError{
		Op:      op,
		Current: current,
		Reason:  fmt.Sprintf("process is %s, operation requires %s", current, required),
	}
}

type IllegalTransitionError struct {
	From domain.Situation
	To   domain.Situation
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition from %q to %q", e.From.Label(), e.To.Label())
}

type ConflictingActiveProcessError struct {
	Acronyms []string
}

func (e *ConflictingActiveProcessError) Error() string {
	return fmt.Sprintf("units already enrolled in another active process: %s", strings.Join(e.Acronyms, ", "))
}

type NoEffectiveMapError struct {
	UnitAcronym string
}

func (e *NoEffectiveMapError) Error() string {
	return fmt.Sprintf("unit %s has no effective map to copy", e.UnitAcronym)
}
