// Package cli implements the logpipe command line: the serve command that runs
// a pipeline, and client commands that drive a running one over its admin API.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
const (
	ExitCodeSuccess = 0
	ExitCodeError   = 1
)

// globalOptions are the persistent flags shared by the client commands.
type globalOptions struct {
	server   string
	token    string
	username string
	password string
	output   string
}

// NewRoot constructs the root command and its subcommands.
func NewRoot(version string) *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "logpipe",
		Short: "Structured log pipeline",
		Long: `logpipe runs a structured logging pipeline that fans messages out to
pluggable providers, and manages a running pipeline over its admin API.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.SetVersionTemplate(`{{printf "logpipe version %s\n" .Version}}`)

	flags := root.PersistentFlags()
	flags.StringVar(&opts.server, "server", envOr("LOGPIPE_SERVER", "http://localhost:8080"), "Admin API base URL")
	flags.StringVar(&opts.token, "token", os.Getenv("LOGPIPE_TOKEN"), "Bearer token for the admin API")
	flags.StringVarP(&opts.username, "user", "u", envOr("LOGPIPE_USER", "admin"), "Username used when no token is given")
	flags.StringVar(&opts.password, "password", os.Getenv("LOGPIPE_PASSWORD"), "Password used when no token is given")
	flags.StringVarP(&opts.output, "output", "o", OutputTable, "Output format: table|json")

	root.AddCommand(
		newServeCommand(version),
		newLoginCommand(opts),
		newProvidersCommand(opts),
		newLogsCommand(opts),
		newFailuresCommand(opts),
		newStatsCommand(opts),
		newHashPasswordCommand(),
	)
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute(version string) int {
	if err := NewRoot(version).Execute(); err != nil {
		return ExitCodeError
	}
	return ExitCodeSuccess
}

// client builds an admin API client, logging in first when only credentials
// were given.
func (o *globalOptions) client(ctx context.Context) (*Client, error) {
	c := NewClient(o.server, o.token)
	if o.token == "" && o.password != "" {
		if _, err := c.Login(ctx, o.username, o.password); err != nil {
			return nil, fmt.Errorf("login as %s: %w", o.username, err)
		}
	}
	return c, nil
}

func (o *globalOptions) validateOutput() error {
	switch o.output {
	case OutputTable, OutputJSON:
		return nil
	default:
		return fmt.Errorf("unknown output format %q (use table or json)", o.output)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
