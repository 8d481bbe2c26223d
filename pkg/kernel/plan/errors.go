package plan

import (
	"errors"
	"fmt"
)

// ErrFunctionNotResolved matches every *ResolutionError.
var ErrFunctionNotResolved = errors.New("function not resolved")

// ResolutionError reports an invocation of a leaf whose function was never
// found in a catalog.
type ResolutionError struct {
	SkillName string
	Name      string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("function %s.%s not resolved", e.SkillName, e.Name)
}

// Is makes errors.Is(err, ErrFunctionNotResolved) hold.
func (e *ResolutionError) Is(target error) bool {
	return target == ErrFunctionNotResolved
}

// StepError is the fatal error returned when a step of a plan fails. The
// plan's cursor still points at the failed step.
type StepError struct {
	Plan        string
	Index       int
	SkillName   string
	Name        string
	Description string
	Err         error
}

func (e *StepError) Error() string {
	msg := fmt.Sprintf("plan %q step %d (%s.%s): %s", e.Plan, e.Index, e.SkillName, e.Name, e.Description)
	if e.Err != nil && e.Err.Error() != e.Description {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StepError) Unwrap() error {
	return e.Err
}
