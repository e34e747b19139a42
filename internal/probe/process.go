package probe

import (
	"context"
	"fmt"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
)

// Process table sources.
const (
	SourcePS   = "ps"
	SourceProc = "proc"
)

const psHeader = "COMMAND"

// psCommand lists one full command line per process.
var psCommand = []string{"ps", "-eo", "command"}

// ProcessChecker succeeds when at least one running process command line
// starts with Prefix. An empty prefix matches every process.
type ProcessChecker struct {
	Prefix string
	// Source selects how the process table is read: "ps" (default) runs
	// `ps -eo command`, "proc" reads it through gopsutil.
	Source string
}

func NewProcessChecker(prefix string) *ProcessChecker {
	return &ProcessChecker{Prefix: prefix, Source: SourcePS}
}

func (*ProcessChecker) checker() {}

func (*ProcessChecker) Kind() Kind { return KindProcess }

func (p *ProcessChecker) String() string {
	return fmt.Sprintf("prefix: %s", p.Prefix)
}

func (p *ProcessChecker) Check(ctx context.Context) (Outcome, error) {
	var (
		lines []string
		err   error
	)
	switch p.Source {
	case "", SourcePS:
		var stderr string
		lines, stderr, err = listPS(ctx)
		if err != nil {
			return Outcome{}, err
		}
		if stderr != "" {
			return Outcome{Success: false, Output: stderr, Stderr: stderr}, nil
		}
	case SourceProc:
		lines, err = listProc(ctx)
		if err != nil {
			return Outcome{}, err
		}
	default:
		return Outcome{}, &ExecutionError{Kind: KindProcess, Op: "list processes", Err: fmt.Errorf("unknown source %q", p.Source)}
	}

	matches := make([]string, 0, 4)
	for _, l := range lines {
		if strings.HasPrefix(l, p.Prefix) {
			matches = append(matches, l)
		}
	}
	return Outcome{Success: len(matches) > 0, Output: strings.Join(matches, "\n")}, nil
}

func listPS(ctx context.Context) ([]string, string, error) {
	res, err := runCommand(ctx, psCommand[0], psCommand[1:]...)
	if err != nil {
		return nil, "", &ExecutionError{Kind: KindProcess, Op: "ps", Err: err}
	}
	if stderr := strings.TrimSpace(string(res.Stderr)); stderr != "" {
		return nil, strings.ToValidUTF8(stderr, "�"), nil
	}
	if !res.exitedOK() {
		return nil, "", &ExecutionError{Kind: KindProcess, Op: "ps", Err: fmt.Errorf("exit status %d", res.ExitCode)}
	}

	// Command lines of unrelated processes may hold arbitrary bytes; they
	// must not turn the whole listing into an error.
	content := strings.ToValidUTF8(string(res.Stdout), "�")
	raw := strings.Split(strings.TrimSpace(content), "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		l = strings.TrimRight(l, " \r")
		if l == psHeader {
			continue
		}
		lines = append(lines, l)
	}
	return lines, "", nil
}

func listProc(ctx context.Context) ([]string, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, &ExecutionError{Kind: KindProcess, Op: "read process table", Err: err}
	}
	lines := make([]string, 0, len(procs))
	for _, pr := range procs {
		cmdline, err := pr.CmdlineWithContext(ctx)
		if err != nil || cmdline == "" {
			// exited since listing, or a kernel thread
			continue
		}
		lines = append(lines, strings.ToValidUTF8(cmdline, "�"))
	}
	return lines, nil
}
