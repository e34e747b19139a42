package scheduler

import (
	"time"

	"github.com/hamed0406/sertus/internal/probe"
)

// Task binds a name to exactly one checker. The name becomes the "task"
// label value.
type Task struct {
	Name    string
	Checker probe.Checker
	// Timeout bounds a single checker run; a run that exceeds it is
	// reported as an execution error. Zero means no bound, so a hung
	// subprocess stalls its flow.
	Timeout time.Duration
}

func NewTask(name string, checker probe.Checker) Task {
	return Task{Name: name, Checker: checker}
}
