package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lapp-project/lapp/internal/manifest"
	"github.com/lapp-project/lapp/internal/metadata"
)

var listJSON bool

// createListCommand creates the list subcommand.
func createListCommand() *cobra.Command {
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "lists installed packages",
		Args:  cobra.NoArgs,
		RunE:  executeList,
	}
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output as JSON")
	return listCmd
}

// executeList handles the list command execution logic.
func executeList(cmd *cobra.Command, args []string) error {
	var records []*metadata.Record
	for _, scope := range []manifest.InstallScope{manifest.ScopeUser, manifest.ScopeSystem} {
		store := metadata.NewStore(globalConfig.StateDir(scope))
		recs, err := store.List()
		if err != nil {
			return err
		}
		records = append(records, recs...)
	}

	out := cmd.OutOrStdout()

	if listJSON {
		data, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal json: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	if len(records) == 0 {
		fmt.Fprintln(out, "No packages installed.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tVERSION\tSCOPE\tINSTALLED\tPATH")
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			rec.PackageName, rec.PackageVersion, rec.Scope,
			rec.InstallDate.Format("2006-01-02"), rec.InstallPath)
	}
	return w.Flush()
}
