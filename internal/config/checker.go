package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hamed0406/sertus/internal/probe"
)

// CheckerConfig is the file form of a checker; Type selects the variant and
// only that variant's fields are read.
type CheckerConfig struct {
	Type string `toml:"type"`

	// ProcessChecker
	Prefix string `toml:"prefix,omitempty"`
	Source string `toml:"source,omitempty"`

	// ScriptChecker
	Path        string `toml:"path,omitempty"`
	Bin         string `toml:"bin,omitempty"`
	StderrFails bool   `toml:"stderr_fails,omitempty"`
}

func (c CheckerConfig) validate() error {
	switch probe.Kind(c.Type) {
	case probe.KindProcess:
		switch c.Source {
		case "", probe.SourcePS, probe.SourceProc:
			return nil
		}
		return fmt.Errorf("unknown process source %q", c.Source)
	case probe.KindScript:
		if strings.TrimSpace(c.Path) == "" {
			return errors.New("script path is required")
		}
		return nil
	case "":
		return errors.New("type is required")
	default:
		return fmt.Errorf("unknown checker type %q", c.Type)
	}
}

// Checker builds the configured variant. This is the only place checker
// kinds are constructed from configuration.
func (c CheckerConfig) Checker() (probe.Checker, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	switch probe.Kind(c.Type) {
	case probe.KindProcess:
		src := c.Source
		if src == "" {
			src = probe.SourcePS
		}
		return &probe.ProcessChecker{Prefix: c.Prefix, Source: src}, nil
	default:
		bin := c.Bin
		if bin == "" {
			bin = probe.DefaultInterpreter
		}
		return &probe.ScriptChecker{Path: ExpandHome(c.Path), Interpreter: bin, StderrFails: c.StderrFails}, nil
	}
}

// ExpandHome resolves a leading "~/" against the user's home directory.
func ExpandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
