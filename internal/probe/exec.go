package probe

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// waitDelay bounds how long Wait blocks on pipes held open by grandchildren
// once the checker process is gone or its context is done.
var waitDelay = 2 * time.Second

type commandResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

func (r commandResult) exitedOK() bool { return r.ExitCode == 0 }

// runCommand runs name with args and captures both streams. A non-zero
// exit is not an error; the caller decides what it means. The returned
// error is set only when the process could not be started or was killed
// because ctx ended.
func runCommand(ctx context.Context, name string, args ...string) (commandResult, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	err := cmd.Run()
	res := commandResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		return res, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}
	if errors.Is(err, exec.ErrWaitDelay) && cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
		return res, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	return res, err
}
