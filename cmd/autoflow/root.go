package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/rendis/autoflow/internal/logging"
)

// cli carries state shared by every subcommand.
type cli struct {
	cfgFile string
	viper   *viper.Viper
	cfg     *Config
}

func newRootCmd() *cobra.Command {
	c := &cli{viper: newViper()}

	root := &cobra.Command{
		Use:           "autoflow",
		Short:         "Rule-based workflow automation over attribute-value records",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			cfg, err := loadConfig(c.viper, c.cfgFile)
			if err != nil {
				return err
			}
			c.cfg = cfg
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.cfgFile, "config", "", "config file (default: ./autoflow.yaml or ~/.autoflow/autoflow.yaml)")
	pf.String("db-path", "", "database path")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	pf.String("log-format", "", "log format: json or text")
	_ = c.viper.BindPFlag("db_path", pf.Lookup("db-path"))
	_ = c.viper.BindPFlag("log_level", pf.Lookup("log-level"))
	_ = c.viper.BindPFlag("log_format", pf.Lookup("log-format"))

	root.AddCommand(
		newServeCmd(c),
		newTickCmd(c),
		newHealthCmd(c),
		newMigrateCmd(c),
		newMCPCmd(c),
		newConfigCmd(c),
		newVersionCmd(),
	)
	return root
}

func (c *cli) logger(w io.Writer) *slog.Logger {
	return logging.New(w, c.cfg.LogLevel, c.cfg.LogFormat)
}

func newTickCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run one scheduler tick and print the report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, c.cfg, c.logger(cmd.ErrOrStderr()), true)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.driver.Tick(ctx)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
}

func newHealthCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Count due workflows and syncs without running them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, c.cfg, c.logger(cmd.ErrOrStderr()), false)
			if err != nil {
				return err
			}
			defer a.Close()

			h, err := a.driver.Health(ctx)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), h)
		},
	}
}

func newMigrateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), c.cfg, c.logger(cmd.ErrOrStderr()), false)
			if err != nil {
				return err
			}
			defer a.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "database %s is up to date\n", c.cfg.DBPath)
			return nil
		},
	}
}

func newMCPCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the MCP tools over stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			// stdout carries the protocol; logs go to stderr.
			a, err := newApp(ctx, c.cfg, c.logger(cmd.ErrOrStderr()), true)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.mcp.Serve(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
}

func newConfigCmd(c *cli) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cfgCmd.AddCommand(&cobra.Command{
		Use:   "print",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := yaml.Marshal(c.cfg)
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	})
	return cfgCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

