package probe

import (
	"context"
	"errors"
	"fmt"
)

// Kind names a checker variant. The values double as the "type" tag in
// the config file.
type Kind string

const (
	KindProcess Kind = "ProcessChecker"
	KindScript  Kind = "ScriptChecker"
)

// Outcome is the result of one checker run that managed to execute.
// Output carries the text the directive extractor reads.
type Outcome struct {
	Success bool
	Output  string
	Stderr  string
}

// Checker is a closed set of check kinds: only types in this package can
// implement it. New kinds are added here and wired in config's single
// construction point.
//
// Check returns an *ExecutionError when the check could not run at all;
// a check that ran and failed is reported through Outcome.Success.
type Checker interface {
	Check(ctx context.Context) (Outcome, error)
	Kind() Kind
	String() string

	checker()
}

// ExecutionError means the checker could not produce an outcome: the
// binary was missing, the listing call failed, the output was not text or
// the run hit its deadline.
type ExecutionError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

func IsExecutionError(err error) bool {
	var ee *ExecutionError
	return errors.As(err, &ee)
}
