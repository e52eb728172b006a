// Package cmd implements the thin CLI dispatcher from spec.md §6: camera
// control and transcoder toggles talk to the already-running daemon's HTTP
// control surface; cleanup runs directly against the storage manager since
// it has no HTTP route of its own.
package cmd

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/smazurov/captured/internal/apperrors"
	"github.com/smazurov/captured/internal/config"
)

var configPath string

// ConfigPath returns the --config value bound to Root()'s persistent
// flag, for the daemon entry point to share the same configuration
// document the CLI subcommands load.
func ConfigPath() string {
	return configPath
}

// Root builds the captured CLI's root command with every subcommand
// attached.
func Root() *cobra.Command {
	root := &cobra.Command{
		Use:           "captured",
		Short:         "Control surface for the capture/storage/re-encode daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.toml", "path to the configuration document")

	root.AddCommand(
		statusCmd(),
		startCmd(),
		stopCmd(),
		restartCmd(),
		statsCmd(),
		cleanupCmd(),
		transcodeCmd(),
		configCmd(),
	)
	return root
}

// Execute runs the CLI, translating a returned error into the exit code
// convention from spec.md §6: 0 success, 1 validation error, 2
// operational error.
func Execute() {
	root := Root()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode extends apperrors.ExitCode's convention to the CLI's own
// statusError, which wraps a daemon HTTP response rather than a typed
// core error.
func exitCode(err error) int {
	if se, ok := err.(*statusError); ok {
		return exitCodeForHTTPStatus(se.code)
	}
	return apperrors.ExitCode(err)
}

// daemonBaseURL derives the running daemon's HTTP base URL from the same
// configuration document the daemon itself loads, so the CLI never needs
// its own separate "where is the server" setting.
func daemonBaseURL() (string, error) {
	cfg, err := config.Load(configPath, nil)
	if err != nil {
		return "", err
	}
	host := cfg.HTTP.Host
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, cfg.HTTP.Port), nil
}

// statusError turns a non-2xx HTTP response into the exit-code
// convention: client errors (400) are validation errors (1), everything
// else operational (2).
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.code, e.body)
}

func exitCodeForHTTPStatus(code int) int {
	switch {
	case code == http.StatusBadRequest:
		return 1
	case code >= 400:
		return 2
	default:
		return 0
	}
}
