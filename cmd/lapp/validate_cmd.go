package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lapp-project/lapp/internal/extract"
	"github.com/lapp-project/lapp/internal/utils/logger"
)

// createValidateCommand creates the validate subcommand.
func createValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [flags] PACKAGE_FILE",
		Short: "validates a package archive without installing it",
		Long: `Validate parses and schema-checks the manifest of a package
archive. It does not extract the payload or verify signatures; use install
for the full verification pipeline.`,
		Args: cobra.ExactArgs(1),
		RunE: executeValidate,
	}
}

// executeValidate handles the validate command execution logic.
func executeValidate(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	archivePath := args[0]
	log.Infof("Validating package: %s", archivePath)

	extractor := &extract.Extractor{}
	m, err := extractor.ReadManifest(archivePath)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Package:  %s (%s)\n", m.GetDisplayName(), m.Name)
	fmt.Fprintf(out, "Version:  %s\n", m.PackageVersion)
	fmt.Fprintf(out, "Scope:    %s\n", m.InstallScope)
	fmt.Fprintf(out, "Path:     %s\n", m.InstallPath)
	if m.Service {
		fmt.Fprintf(out, "Service:  %s\n", m.GetServiceName())
	}
	if m.Signature != "" {
		fmt.Fprintln(out, "Signed:   yes")
	} else {
		fmt.Fprintln(out, "Signed:   no")
	}
	fmt.Fprintln(out, "Manifest is valid.")
	return nil
}
