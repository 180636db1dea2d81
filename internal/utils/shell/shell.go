// Package shell executes external commands for the engine: systemctl calls,
// desktop database refreshes, and elevated sub-operations.
package shell

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/lapp-project/lapp/internal/utils/logger"
)

// Run executes argv with the given environment, returning combined output.
// The environment is passed verbatim; callers are responsible for
// allow-listing what the child process may see.
func Run(ctx context.Context, argv []string, env []string) (string, error) {
	log := logger.Logger()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if env != nil {
		cmd.Env = env
	}

	log.Debugf("exec: [%s]", strings.Join(argv, " "))
	output, err := cmd.CombinedOutput()
	outputStr := string(bytes.TrimSpace(output))

	if err != nil {
		if outputStr != "" {
			log.Debugf("exec output: %s", outputStr)
		}
		return outputStr, err
	}
	return outputStr, nil
}

// CommandExists reports whether name resolves on PATH.
func CommandExists(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
