package pocket

import "fmt"

// PreconditionError means the prediction was not attempted because
// its inputs were incomplete.
type PreconditionError struct {
	Msg string
}

func (e *PreconditionError) Error() string {
	return e.Msg
}

// Precondition marks the error for workflow.KindOf.
func (e *PreconditionError) Precondition() bool {
	return true
}

// ToolError means the predictor could not be run or failed.
type ToolError struct {
	Op     string
	Output string
	Err    error
}

func (e *ToolError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("p2rank %s: %v\n%s", e.Op, e.Err, e.Output)
	}
	return fmt.Sprintf("p2rank %s: %v", e.Op, e.Err)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}
