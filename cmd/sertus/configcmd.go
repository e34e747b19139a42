package main

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hamed0406/sertus/internal/config"
)

func newConfigCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or edit the configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the resolved config as TOML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(c.env.ConfigPath)
			if err != nil {
				return err
			}
			b, err := cfg.Encode()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(b)
			return err
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "edit",
		Short: "Open the config in $EDITOR, validate it and save it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return editConfig(cmd, c.env.ConfigPath)
		},
	})
	return cmd
}

// editConfig edits a scratch copy so the real file is only replaced by a
// config that parses and validates.
func editConfig(cmd *cobra.Command, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	before, err := cfg.Encode()
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp("", "sertus-*.toml")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(before); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	editor := strings.Fields(editorCommand())
	ed := exec.CommandContext(cmd.Context(), editor[0], append(editor[1:], tmp.Name())...)
	ed.Stdin = cmd.InOrStdin()
	ed.Stdout = cmd.OutOrStdout()
	ed.Stderr = cmd.ErrOrStderr()
	if err := ed.Run(); err != nil {
		return fmt.Errorf("editor %s: %w", editor[0], err)
	}

	after, err := os.ReadFile(tmp.Name())
	if err != nil {
		return err
	}
	if bytes.Equal(bytes.TrimSpace(before), bytes.TrimSpace(after)) {
		fmt.Fprintln(cmd.OutOrStdout(), "⚠ no changes")
		return nil
	}
	updated, err := config.Parse(after)
	if err != nil {
		return fmt.Errorf("config not saved: %w", err)
	}
	if err := updated.Write(path, true); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "✔ updated", path)
	return nil
}

func editorCommand() string {
	for _, k := range []string{"VISUAL", "EDITOR"} {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return "vi"
}
