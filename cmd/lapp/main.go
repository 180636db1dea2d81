package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lapp-project/lapp/internal/config"
	"github.com/lapp-project/lapp/internal/errdefs"
	"github.com/lapp-project/lapp/internal/utils/logger"
)

var (
	logLevel   string
	configPath string

	globalConfig *config.GlobalConfig
)

func main() {
	root := createRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error [%s]: %v\n", errdefs.KindOf(err), err)
		os.Exit(1)
	}
}

// createRootCommand creates the root command with all subcommands attached.
func createRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "lapp",
		Short: "Linux application package installer",
		Long: `lapp installs, removes, and inspects signed application
packages. Packages are verified before any file is written and every
installation can be cleanly undone.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level: debug, info, warn, or error")
	rootCmd.PersistentFlags().Bool("verbose", false, "Shorthand for --log-level debug")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to the engine configuration file")

	rootCmd.AddCommand(createInstallCommand())
	rootCmd.AddCommand(createUninstallCommand())
	rootCmd.AddCommand(createListCommand())
	rootCmd.AddCommand(createValidateCommand())

	attachLoggingHooks(rootCmd)
	return rootCmd
}

// attachLoggingHooks wires logger and config initialization into every
// subcommand so they run after flag parsing but before execution.
func attachLoggingHooks(root *cobra.Command) {
	for _, cmd := range root.Commands() {
		cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
			level := resolveRequestedLogLevel(cmd)
			if level == "" {
				level = "info"
			}
			if err := logger.Init(level); err != nil {
				return fmt.Errorf("failed to initialize logging: %w", err)
			}

			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}
			if cfg.Logging.Level != "" && level == "info" && logLevel == "" {
				if err := logger.Init(cfg.Logging.Level); err != nil {
					return fmt.Errorf("failed to initialize logging: %w", err)
				}
			}
			globalConfig = cfg
			return nil
		}
	}
}

// resolveRequestedLogLevel returns the explicit --log-level value, falling
// back to debug when --verbose was set.
func resolveRequestedLogLevel(cmd *cobra.Command) string {
	if logLevel != "" {
		return logLevel
	}
	if cmd == nil {
		return ""
	}
	if verbose, err := cmd.Flags().GetBool("verbose"); err == nil && verbose {
		return "debug"
	}
	return ""
}

// resolveConfigPath returns the explicit --config value or the per-user
// default location.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home + "/.config/lapp/config.yaml"
}
