// Package main is the glucosync command-line client. It keeps the
// measurement log on the device and syncs it with the API server or the
// encrypted document collection.
package main

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/atinyakov/glucosync/internal/apperr"
	"github.com/atinyakov/glucosync/internal/config"
)

var (
	version   string
	buildDate string
)

func main() {
	root, a := newRootCmd(os.Stdin, os.Stdout, os.Stderr, os.Getenv)
	err := root.Execute()
	err = errors.Join(err, a.close())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", confirmationHint(err))
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Every subcommand shares one app, opened
// after flags are parsed. The caller closes the app once Execute returns.
func newRootCmd(in io.Reader, out, errOut io.Writer, getenv func(string) string) (*cobra.Command, *app) {
	opts := config.DefaultClientOptions()
	a := &app{in: in, out: out}

	root := &cobra.Command{
		Use:           "glucosync",
		Short:         "Glucose log with encrypted sync",
		Version:       fmt.Sprintf("%s (built %s)", cmp.Or(version, "N/A"), cmp.Or(buildDate, "N/A")),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			changed := func(name string) bool { return cmd.Flags().Changed(name) }
			if err := config.ResolveClient(&opts, changed, getenv); err != nil {
				return err
			}
			return a.open(cmd.Context(), opts)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.Home, "home", opts.Home, "directory for local data and keys (env GLUCOSYNC_HOME)")
	pf.StringVar(&opts.Backend, "backend", opts.Backend, "remote backend: api or docstore")
	pf.StringVar(&opts.ServerURL, "server", opts.ServerURL, "API server base URL")
	pf.StringVar(&opts.CAFile, "ca", opts.CAFile, "CA certificate to trust for the server (PEM)")
	pf.StringVar(&opts.LogLevel, "log-level", opts.LogLevel, "log level")
	pf.DurationVar(&opts.Timeout.Duration, "timeout", opts.Timeout.Duration, "HTTP request timeout")
	pf.DurationVar(&opts.SyncInterval.Duration, "sync-interval", opts.SyncInterval.Duration, "background sync period in the shell")

	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	root.AddGroup(
		&cobra.Group{ID: "account", Title: "Account:"},
		&cobra.Group{ID: "data", Title: "Measurements:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "maintenance", Title: "Maintenance:"},
	)
	root.AddCommand(
		newRegisterCmd(a), newLoginCmd(a), newLogoutCmd(a), newResetPasswordCmd(a), newAccountCmd(a),
		newAddCmd(a), newEditCmd(a), newListCmd(a), newDeleteCmd(a),
		newSyncCmd(a), newEnableCmd(a), newDisableCmd(a), newStatusCmd(a),
		newCryptoCmd(a), newRepairCmd(a), newShellCmd(a),
	)
	return root, a
}

// confirmationHint turns a declined confirmation into a usage hint.
func confirmationHint(err error) error {
	if errors.Is(err, apperr.ErrConfirmationRequired) {
		return fmt.Errorf("%w: pass --yes to proceed", err)
	}
	return err
}
