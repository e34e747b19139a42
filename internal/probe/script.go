package probe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const DefaultInterpreter = "sh"

// ScriptChecker runs `Interpreter Path` and reports the exit status.
//
// The exit status is authoritative. Stderr is captured for logging and only
// fails the check when StderrFails is set.
type ScriptChecker struct {
	Path        string
	Interpreter string
	StderrFails bool
}

func NewScriptChecker(path string) *ScriptChecker {
	return &ScriptChecker{Path: path, Interpreter: DefaultInterpreter}
}

func (*ScriptChecker) checker() {}

func (*ScriptChecker) Kind() Kind { return KindScript }

func (s *ScriptChecker) String() string {
	return fmt.Sprintf("path: %s, bin: %s", s.Path, s.interpreter())
}

func (s *ScriptChecker) interpreter() string {
	if s.Interpreter == "" {
		return DefaultInterpreter
	}
	return s.Interpreter
}

func (s *ScriptChecker) Check(ctx context.Context) (Outcome, error) {
	if s.Path == "" {
		return Outcome{}, &ExecutionError{Kind: KindScript, Op: "run", Err: errors.New("empty script path")}
	}
	res, err := runCommand(ctx, s.interpreter(), s.Path)
	if err != nil {
		return Outcome{}, &ExecutionError{Kind: KindScript, Op: "run " + s.interpreter(), Err: err}
	}
	if !utf8.Valid(res.Stdout) {
		return Outcome{}, &ExecutionError{Kind: KindScript, Op: "decode output", Err: errors.New("stdout is not valid UTF-8")}
	}

	stderr := strings.ToValidUTF8(string(res.Stderr), "�")
	success := res.exitedOK()
	if s.StderrFails && strings.TrimSpace(stderr) != "" {
		success = false
	}
	return Outcome{Success: success, Output: string(res.Stdout), Stderr: stderr}, nil
}
