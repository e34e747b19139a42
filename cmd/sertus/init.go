package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hamed0406/sertus/internal/config"
)

const exampleScript = `#!/bin/sh
# Exit 0 when healthy. Lines starting with #label or #metric are turned
# into labels on the task status and into extra metrics.
echo "#label {component=example}"
echo "#metric example_load gauge {source=loadavg} $(cut -d' ' -f1 /proc/loadavg 2>/dev/null || echo 0)"
echo "#metric example_checks counter {} 1"
echo "all good"
exit 0
`

func newInitCmd(c *cli) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config and an example check script",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfg := config.Default(c.env.Home)
			if err := cfg.Write(c.env.ConfigPath, force); err != nil {
				if errors.Is(err, config.ErrExists) {
					return fmt.Errorf("%w (use --force to overwrite)", err)
				}
				return err
			}
			fmt.Fprintln(out, "✔ wrote", c.env.ConfigPath)

			script := filepath.Join(c.env.Home, "scripts", "script.sh")
			written, err := writeScript(script, force)
			if err != nil {
				return err
			}
			if written {
				fmt.Fprintln(out, "✔ wrote", script)
			} else {
				fmt.Fprintln(out, "⚠ kept existing", script)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")
	return cmd
}

func writeScript(path string, force bool) (bool, error) {
	if _, err := os.Stat(path); err == nil && !force {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, err
	}
	if err := os.WriteFile(path, []byte(exampleScript), 0o755); err != nil {
		return false, err
	}
	return true, nil
}
