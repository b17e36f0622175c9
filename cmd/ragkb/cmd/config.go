package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/ragkb/configs"
	"github.com/Aman-CERP/ragkb/internal/config"
)

func newConfigCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. User config (~/.config/ragkb/config.yaml)
  3. Project config (.ragkb.yaml)
  4. .env in the project directory
  5. Environment variables (RAGKB_*, provider API keys)`,
	}
	cmd.AddCommand(newConfigInitCmd(g), newConfigShowCmd(g), newConfigPathCmd(g))
	return cmd
}

func newConfigInitCmd(g *globalOptions) *cobra.Command {
	var (
		force bool
		user  bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented configuration file with the defaults",
		Example: `  # Project config in the current directory
  ragkb config init

  # User config shared by every project
  ragkb config init --user`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := writer(cmd)
			path, template := filepath.Join(g.dir, config.ProjectFileName), configs.ProjectConfigTemplate
			if user {
				path, template = config.GetUserConfigPath(), configs.UserConfigTemplate
			}
			if _, err := os.Stat(path); err == nil && !force {
				out.Warningf("%s already exists", path)
				out.Status("💡", "Use --force to overwrite it")
				return nil
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("create config directory: %w", err)
			}
			if err := os.WriteFile(path, []byte(template), 0o644); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
			out.Successf("Wrote %s", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	cmd.Flags().BoolVar(&user, "user", false, "Write the user config instead of the project config")
	return cmd
}

func newConfigShowCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			if g.jsonOut {
				return writer(cmd).JSON(cfg)
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newConfigPathCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print configuration file locations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			abs, err := filepath.Abs(g.dir)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "user:    %s\nproject: %s\n",
				config.GetUserConfigPath(), filepath.Join(abs, config.ProjectFileName))
			return nil
		},
	}
}
