package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"logpipe/internal/providers"
	"logpipe/internal/utils"
)

func newLoginCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Exchange credentials for an admin API token",
		Long:  "Prints a bearer token that can be exported as LOGPIPE_TOKEN.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.password == "" {
				return errors.New("--password or LOGPIPE_PASSWORD is required")
			}
			resp, err := NewClient(opts.server, "").Login(cmd.Context(), opts.username, opts.password)
			if err != nil {
				return err
			}
			if opts.output == OutputJSON {
				return writeJSON(cmd.OutOrStdout(), resp)
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Token)
			return nil
		},
	}
}

func newProvidersCommand(opts *globalOptions) *cobra.Command {
	providersCmd := &cobra.Command{
		Use:     "providers",
		Aliases: []string{"provider"},
		Short:   "List and manage providers",
	}

	providersCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List catalog entries and active providers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.validateOutput(); err != nil {
				return err
			}
			c, err := opts.client(cmd.Context())
			if err != nil {
				return err
			}
			resp, err := c.Providers(cmd.Context())
			if err != nil {
				return err
			}
			if opts.output == OutputJSON {
				return writeJSON(cmd.OutOrStdout(), resp)
			}
			renderProviders(cmd.OutOrStdout(), resp)
			return nil
		},
	})

	providersCmd.AddCommand(&cobra.Command{
		Use:   "enable TYPE[/KEY]",
		Short: "Enable a catalog entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client(cmd.Context())
			if err != nil {
				return err
			}
			d := providers.ParseDescriptor(args[0])
			if err := c.Enable(cmd.Context(), d); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", text.FgGreen.Sprint("enabled"), d)
			return nil
		},
	})

	providersCmd.AddCommand(&cobra.Command{
		Use:   "disable TYPE[/KEY]",
		Short: "Disable an active provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client(cmd.Context())
			if err != nil {
				return err
			}
			d := providers.ParseDescriptor(args[0])
			if err := c.Disable(cmd.Context(), d); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", text.FgYellow.Sprint("disabled"), d)
			return nil
		},
	})

	providersCmd.AddCommand(&cobra.Command{
		Use:   "reload",
		Short: "Re-read the server's catalog file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client(cmd.Context())
			if err != nil {
				return err
			}
			active, err := c.Reload(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "catalog reloaded, %d providers active\n", len(active))
			return nil
		},
	})

	return providersCmd
}

func newLogsCommand(opts *globalOptions) *cobra.Command {
	var limit int

	logsCmd := &cobra.Command{
		Use:   "logs TYPE[/KEY]",
		Short: "Show messages retained by a memory or snapshot provider",
		Long: `Shows the messages a viewable provider retains, oldest first.
Reading a snapshot provider configured with clear_on_get consumes the
oldest --limit messages; the rest are returned by the next read.`,
		Example: "  logpipe logs memory/recent --limit 20",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.validateOutput(); err != nil {
				return err
			}
			c, err := opts.client(cmd.Context())
			if err != nil {
				return err
			}
			msgs, err := c.Logs(cmd.Context(), providers.ParseDescriptor(args[0]), limit)
			if err != nil {
				return err
			}
			if opts.output == OutputJSON {
				return writeJSON(cmd.OutOrStdout(), msgs)
			}
			renderLogs(cmd.OutOrStdout(), msgs)
			return nil
		},
	}
	logsCmd.Flags().IntVarP(&limit, "limit", "n", 100, "Show at most N messages (0 = all)")
	return logsCmd
}

func newFailuresCommand(opts *globalOptions) *cobra.Command {
	var limit int

	failuresCmd := &cobra.Command{
		Use:   "failures",
		Short: "Inspect and retry failed deliveries",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List failed deliveries, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.validateOutput(); err != nil {
				return err
			}
			c, err := opts.client(cmd.Context())
			if err != nil {
				return err
			}
			items, err := c.Failures(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if opts.output == OutputJSON {
				return writeJSON(cmd.OutOrStdout(), items)
			}
			renderFailures(cmd.OutOrStdout(), items)
			return nil
		},
	}
	listCmd.Flags().IntVarP(&limit, "limit", "n", 0, "Show at most N failures (0 = all)")

	retryCmd := &cobra.Command{
		Use:   "retry ID...",
		Short: "Redeliver failed messages to the provider they failed on",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client(cmd.Context())
			if err != nil {
				return err
			}
			var errs []error
			for _, id := range args {
				if err := c.Retry(cmd.Context(), id); err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", id, err))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", text.FgGreen.Sprint("redelivered"), id)
			}
			return errors.Join(errs...)
		},
	}

	failuresCmd.AddCommand(listCmd, retryCmd)
	return failuresCmd
}

func newStatsCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show dispatcher and database counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.validateOutput(); err != nil {
				return err
			}
			c, err := opts.client(cmd.Context())
			if err != nil {
				return err
			}
			stats, err := c.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if opts.output == OutputJSON {
				return writeJSON(cmd.OutOrStdout(), stats)
			}
			renderStats(cmd.OutOrStdout(), stats)
			return nil
		},
	}
}

func newHashPasswordCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [PASSWORD]",
		Short: "Print an argon2id hash for LOGPIPE_ADMIN_PASSWORD_HASH",
		Long:  "Hashes PASSWORD, or the first line of standard input when no argument is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var password string
			if len(args) == 1 {
				password = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && !errors.Is(err, io.EOF) {
					return fmt.Errorf("read password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}
			if password == "" {
				return errors.New("password must not be empty")
			}

			hash, err := utils.HashPasswordArgon2(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
