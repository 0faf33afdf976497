package evaluation

import (
	"errors"
	"fmt"
)

// InputError reports a malformed request or dataset: an unknown column, an
// invalid level, a categorical factor with fewer than two observed levels.
type InputError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
	Err    error  `json:"-"`
}

func (e *InputError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid input: %s", e.Reason)
	}
	return fmt.Sprintf("invalid input %q: %s", e.Field, e.Reason)
}

func (e *InputError) Unwrap() error { return e.Err }

// InsufficientDataError reports that a group has too few observations for a test.
type InsufficientDataError struct {
	Group    string `json:"group"`
	Variable string `json:"variable"`
	Have     int    `json:"have"`
	Need     int    `json:"need"`
}

func (e *InsufficientDataError) Error() string {
	where := e.Variable
	if e.Group != "" {
		where = fmt.Sprintf("%s in %s", e.Variable, e.Group)
	}
	return fmt.Sprintf("insufficient data for %s: have %d observations, need %d", where, e.Have, e.Need)
}

// ConvergenceError reports that an iterative fit failed.
type ConvergenceError struct {
	Model      string  `json:"model"`
	Iterations int     `json:"iterations"`
	Reason     string  `json:"reason"`
	LastStep   float64 `json:"lastStep"`
}

func (e *ConvergenceError) Error() string {
	return fmt.Sprintf("%s failed to converge after %d iterations: %s", e.Model, e.Iterations, e.Reason)
}

// StepError records a failed pipeline step without aborting the run.
type StepError struct {
	Step string `json:"step"`
	Kind string `json:"kind"`
	Err  string `json:"error"`
}

func (e StepError) Error() string {
	return fmt.Sprintf("%s: %s", e.Step, e.Err)
}

// ErrorKind classifies err as input, insufficient_data, convergence or internal.
func ErrorKind(err error) string {
	var (
		inputErr       *InputError
		insufficient   *InsufficientDataError
		convergenceErr *ConvergenceError
	)
	switch {
	case errors.As(err, &inputErr):
		return "input"
	case errors.As(err, &insufficient):
		return "insufficient_data"
	case errors.As(err, &convergenceErr):
		return "convergence"
	}
	return "internal"
}

func insufficient(group, variable string, have, need int) error {
	return &InsufficientDataError{Group: group, Variable: variable, Have: have, Need: need}
}
