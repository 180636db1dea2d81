package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lapp-project/lapp/internal/progress"
	"github.com/lapp-project/lapp/internal/uninstall"
	"github.com/lapp-project/lapp/internal/utils/logger"
)

// createUninstallCommand creates the uninstall subcommand.
func createUninstallCommand() *cobra.Command {
	uninstallCmd := &cobra.Command{
		Use:   "uninstall [flags] PACKAGE_NAME",
		Short: "removes an installed package",
		Long: `Uninstall removes an installed package using its recorded
metadata: tracked files, service unit, desktop entry, and symlinks. A
partially failed removal can be rerun to finish the job.`,
		Args: cobra.ExactArgs(1),
		RunE: executeUninstall,
	}
	uninstallCmd.Flags().BoolVar(&noProgress, "no-progress", false,
		"Disable the progress bar")
	return uninstallCmd
}

// executeUninstall handles the uninstall command execution logic.
func executeUninstall(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	name := args[0]
	log.Infof("Uninstalling package: %s", name)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	emitter := progress.NewEmitter(128)
	observerDone := runObserver(cmd, emitter)

	uninstaller := uninstall.New(globalConfig, emitter)
	result, err := uninstaller.Uninstall(ctx, name, uninstall.Options{})
	emitter.Close()
	<-observerDone

	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Uninstalled %s %s\n", result.Record.PackageName, result.Record.PackageVersion)
	for _, w := range result.Warnings {
		fmt.Fprintf(out, "Warning: %s\n", w)
	}
	return nil
}
