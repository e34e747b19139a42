package main

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/hamed0406/sertus/internal/config"
	"github.com/hamed0406/sertus/internal/probe"
)

func newPreflightCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "preflight",
		Short: "Check that the config and everything it points at is usable",
		RunE: func(cmd *cobra.Command, args []string) error {
			failed := preflight(cmd.OutOrStdout(), c.env.ConfigPath)
			if failed > 0 {
				return fmt.Errorf("preflight failed with %d problem(s)", failed)
			}
			return nil
		},
	}
}

// preflight prints one line per check and returns the number of failures.
func preflight(w io.Writer, path string) int {
	failed := 0
	fail := func(format string, a ...any) {
		failed++
		fmt.Fprintln(w, "✖", fmt.Sprintf(format, a...))
	}
	warn := func(format string, a ...any) { fmt.Fprintln(w, "⚠", fmt.Sprintf(format, a...)) }
	ok := func(format string, a ...any) { fmt.Fprintln(w, "✔", fmt.Sprintf(format, a...)) }

	cfg, err := config.Load(path)
	if err != nil {
		fail("config: %v", err)
		return failed
	}
	ok("config %s", path)

	switch cfg.Metrics.Mode() {
	case config.ModePushGateway:
		pg := cfg.Metrics.PushGateway
		if pg.URL == "" {
			warn("metrics.pushgateway.url empty; default will be used")
		} else if u, err := url.Parse(pg.URL); err != nil || u.Scheme == "" || u.Host == "" {
			fail("metrics.pushgateway.url %q is not an absolute URL", pg.URL)
		} else {
			ok("pushgateway %s", pg.URL)
		}
	default:
		s := cfg.Metrics.Server
		if s == nil || s.Addr == "" {
			warn("metrics.server.addr empty; default will be used")
		} else {
			ok("metrics server %s", s.Addr)
		}
		if s == nil || len(s.Tokens) == 0 {
			warn("metrics.server.tokens empty; scrape endpoint is unauthenticated")
		}
	}

	if cfg.Notify.SlackWebhook == "" {
		warn("notify.slack_webhook empty; status changes will only be logged")
	}

	if len(cfg.Flows) == 0 {
		warn("no flows configured")
	}
	for _, f := range cfg.Flows {
		if len(f.Tasks) == 0 {
			warn("flow %q has no tasks", f.Name)
		}
		for _, t := range f.Tasks {
			chk, err := t.Checker.Checker()
			if err != nil {
				fail("%s/%s: %v", f.Name, t.Name, err)
				continue
			}
			before := failed
			switch c := chk.(type) {
			case *probe.ScriptChecker:
				if _, err := os.Stat(c.Path); err != nil {
					fail("%s/%s: script %s: %v", f.Name, t.Name, c.Path, err)
				}
				if _, err := exec.LookPath(c.Interpreter); err != nil {
					fail("%s/%s: interpreter %q not found on PATH", f.Name, t.Name, c.Interpreter)
				}
			case *probe.ProcessChecker:
				if c.Source == probe.SourcePS {
					if _, err := exec.LookPath("ps"); err != nil {
						fail("%s/%s: ps not found on PATH (try source = %q)", f.Name, t.Name, probe.SourceProc)
					}
				}
			}
			if failed == before {
				ok("%s/%s: %s", f.Name, t.Name, chk)
			}
		}
	}

	if failed == 0 {
		ok("preflight passed")
	}
	return failed
}
