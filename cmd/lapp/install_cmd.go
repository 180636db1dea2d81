package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"golang.org/x/sys/unix"

	"github.com/lapp-project/lapp/internal/install"
	"github.com/lapp-project/lapp/internal/progress"
	"github.com/lapp-project/lapp/internal/utils/logger"
)

var (
	installPathFlag string
	skipSignature   bool
	startService    bool
	noDesktopEntry  bool
	installWorkers  int
	noProgress      bool
)

// createInstallCommand creates the install subcommand.
func createInstallCommand() *cobra.Command {
	installCmd := &cobra.Command{
		Use:   "install [flags] PACKAGE_FILE",
		Short: "installs a package archive",
		Long: `Install extracts, verifies, and installs a package archive.
The package signature and all file hashes are checked before anything is
written outside the staging area, and a failed copy is fully rolled back.`,
		Args: cobra.ExactArgs(1),
		RunE: executeInstall,
	}

	installCmd.Flags().StringVar(&installPathFlag, "install-path", "",
		"Override the installation directory")
	installCmd.Flags().BoolVar(&skipSignature, "skip-signature", false,
		"Allow installing an unsigned package")
	installCmd.Flags().BoolVar(&startService, "start-service", false,
		"Start the package's service after registering it")
	installCmd.Flags().BoolVar(&noDesktopEntry, "no-desktop-entry", false,
		"Do not register an application-menu entry")
	installCmd.Flags().IntVar(&installWorkers, "workers", 0,
		"Number of concurrent copy workers (0 uses the configured default)")
	installCmd.Flags().BoolVar(&noProgress, "no-progress", false,
		"Disable the progress bar")
	return installCmd
}

// executeInstall handles the install command execution logic.
func executeInstall(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	archivePath := args[0]
	log.Infof("Installing package: %s", archivePath)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	emitter := progress.NewEmitter(128)
	observerDone := runObserver(cmd, emitter)

	installer := install.New(globalConfig, emitter)
	result, err := installer.Install(ctx, archivePath, install.Options{
		InstallPath:    installPathFlag,
		SkipSignature:  skipSignature,
		StartService:   startService,
		NoDesktopEntry: noDesktopEntry,
		Workers:        installWorkers,
	})
	emitter.Close()
	<-observerDone

	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Installed %s %s to %s\n",
		result.Record.PackageName, result.Record.PackageVersion, result.Record.InstallPath)
	for _, w := range result.Warnings {
		fmt.Fprintf(out, "Warning: %s\n", w)
	}
	return nil
}

// runObserver consumes emitter events and renders a progress bar on a
// terminal, or plain log lines otherwise. The returned channel closes when
// both streams are drained.
func runObserver(cmd *cobra.Command, emitter *progress.Emitter) <-chan struct{} {
	done := make(chan struct{})
	interactive := !noProgress && isTerminal(os.Stderr)

	var bar *progressbar.ProgressBar
	if interactive {
		bar = progressbar.NewOptions(100,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("starting"),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for ev := range emitter.Events() {
			if bar != nil {
				bar.Describe(string(ev.Phase))
				_ = bar.Set(ev.Percent())
			} else {
				logger.Logger().Infof("%s: %d%%", ev.Phase, ev.Percent())
			}
		}
		if bar != nil {
			_ = bar.Finish()
		}
	}()

	go func() {
		defer wg.Done()
		for line := range emitter.Logs() {
			fmt.Fprintln(cmd.ErrOrStderr(), line)
		}
	}()

	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}

func isTerminal(f *os.File) bool {
	_, err := unix.IoctlGetTermios(int(f.Fd()), unix.TCGETS)
	return err == nil
}
