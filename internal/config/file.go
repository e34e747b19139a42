package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/multierr"
)

var ErrExists = errors.New("config file already exists")

// Sink modes.
const (
	ModeServer      = "server"
	ModePushGateway = "pushgateway"
)

// Config is the file-backed daemon configuration: the metrics sink and the
// flows to run. It is read once at startup.
type Config struct {
	Metrics Metrics `toml:"metrics"`
	Notify  Notify  `toml:"notify"`
	Flows   []Flow  `toml:"flows"`
}

type Metrics struct {
	Namespace   string       `toml:"namespace,omitempty"`
	Server      *Server      `toml:"server,omitempty"`
	PushGateway *PushGateway `toml:"pushgateway,omitempty"`
}

type Server struct {
	Addr      string   `toml:"addr"`
	Path      string   `toml:"path,omitempty"`
	Tokens    []string `toml:"tokens,omitempty"`
	ScrapeRPM int      `toml:"scrape_rpm,omitzero"`
}

type PushGateway struct {
	// e.g. http://127.0.0.1:9091; job and grouping are appended as path
	// segments by the push client
	URL         string            `toml:"url"`
	Job         string            `toml:"job,omitempty"`
	Grouping    map[string]string `toml:"grouping,omitempty"`
	Interval    Duration          `toml:"interval,omitzero"`
	IdleTimeout Duration          `toml:"idle_timeout,omitzero"`
}

type Notify struct {
	SlackWebhook    string   `toml:"slack_webhook,omitempty"`
	Cooldown        Duration `toml:"cooldown,omitzero"`
	AlertOnRecovery bool     `toml:"alert_on_recovery,omitempty"`
}

type Flow struct {
	Name     string   `toml:"name"`
	Interval Duration `toml:"interval,omitzero"`
	Tasks    []Task   `toml:"tasks"`
}

type Task struct {
	Name    string        `toml:"name"`
	Timeout Duration      `toml:"timeout,omitzero"`
	Checker CheckerConfig `toml:"checker"`
}

// Mode reports which sink the daemon runs. No sink section means server.
func (m Metrics) Mode() string {
	if m.PushGateway != nil && m.Server == nil {
		return ModePushGateway
	}
	return ModeServer
}

// Default mirrors what `sertus init` writes: a pull server and one flow
// with a process and a script check.
func Default(home string) *Config {
	return &Config{
		Metrics: Metrics{
			Namespace: "sertus",
			Server:    &Server{Addr: "127.0.0.1:9296", Path: "/metrics"},
		},
		Flows: []Flow{{
			Name:     "flow 1",
			Interval: Duration(3 * time.Second),
			Tasks: []Task{
				{
					Name:    "check process",
					Checker: CheckerConfig{Type: "ProcessChecker", Prefix: "process prefix"},
				},
				{
					Name:    "check script",
					Checker: CheckerConfig{Type: "ScriptChecker", Path: filepath.Join(home, "scripts", "script.sh"), Bin: "sh"},
				},
			},
		}},
	}
}

// Parse decodes and validates a TOML document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("parse config: unknown keys: %s", strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.Indent = "  "
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write stores the config at path, refusing to replace an existing file
// unless force is set.
func (c *Config) Write(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%w: %s", ErrExists, path)
	}
	data, err := c.Encode()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var err error
	if c.Metrics.Server != nil && c.Metrics.PushGateway != nil {
		err = multierr.Append(err, errors.New("metrics: server and pushgateway are mutually exclusive"))
	}
	if pg := c.Metrics.PushGateway; pg != nil {
		if pg.Interval < 0 || pg.IdleTimeout < 0 {
			err = multierr.Append(err, errors.New("metrics.pushgateway: durations must not be negative"))
		}
	}
	if c.Notify.Cooldown < 0 {
		err = multierr.Append(err, errors.New("notify.cooldown must not be negative"))
	}

	flows := make(map[string]struct{}, len(c.Flows))
	for i, f := range c.Flows {
		where := fmt.Sprintf("flows[%d]", i)
		if strings.TrimSpace(f.Name) == "" {
			err = multierr.Append(err, fmt.Errorf("%s: name is required", where))
		} else if _, dup := flows[f.Name]; dup {
			err = multierr.Append(err, fmt.Errorf("%s: duplicate flow name %q", where, f.Name))
		}
		flows[f.Name] = struct{}{}
		if f.Interval < 0 {
			err = multierr.Append(err, fmt.Errorf("%s: interval must not be negative", where))
		}

		tasks := make(map[string]struct{}, len(f.Tasks))
		for j, t := range f.Tasks {
			twhere := fmt.Sprintf("%s.tasks[%d]", where, j)
			if strings.TrimSpace(t.Name) == "" {
				err = multierr.Append(err, fmt.Errorf("%s: name is required", twhere))
			} else if _, dup := tasks[t.Name]; dup {
				err = multierr.Append(err, fmt.Errorf("%s: duplicate task name %q", twhere, t.Name))
			}
			tasks[t.Name] = struct{}{}
			if t.Timeout < 0 {
				err = multierr.Append(err, fmt.Errorf("%s: timeout must not be negative", twhere))
			}
			if cerr := t.Checker.validate(); cerr != nil {
				err = multierr.Append(err, fmt.Errorf("%s.checker: %w", twhere, cerr))
			}
		}
	}
	return err
}
