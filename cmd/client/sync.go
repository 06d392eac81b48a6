package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newSyncCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "sync",
		GroupID: "sync",
		Short:   "Push pending changes and pull the remote log",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := a.sync.SyncNow(cmd.Context())
			if err != nil {
				return err
			}
			a.printResult(res, nil)
			return nil
		},
	}
}

func newEnableCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "enable",
		GroupID: "sync",
		Short:   "Turn sync on and run it once",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := a.sync.SetSyncEnabled(cmd.Context(), true)
			if err != nil && res.Err == nil {
				// Not switched on at all.
				return err
			}
			fmt.Fprintln(a.out, "Sync enabled")
			a.printResult(res, err)
			return nil
		},
	}
}

func newDisableCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "disable",
		GroupID: "sync",
		Short:   "Turn sync off; changes keep queueing locally",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := a.sync.SetSyncEnabled(cmd.Context(), false); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Sync disabled")
			return nil
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "status",
		GroupID: "sync",
		Short:   "Show sync state and pending changes",
		Args:    cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			st := a.sync.Status()
			if asJSON {
				return json.NewEncoder(a.out).Encode(st)
			}
			fmt.Fprintf(a.out, "State:    %s\n", st.State)
			fmt.Fprintf(a.out, "Backend:  %s\n", a.opts.Backend)
			if sess := a.state.Session(); sess != nil {
				fmt.Fprintf(a.out, "Account:  %s\n", sess.Email)
			} else {
				fmt.Fprintln(a.out, "Account:  signed out")
			}
			fmt.Fprintf(a.out, "Pending:  %d\n", a.local.PendingCount())
			if st.Metadata.LastSyncTime != nil {
				fmt.Fprintf(a.out, "Last sync: %s\n", time.UnixMilli(*st.Metadata.LastSyncTime).Format(time.RFC3339))
			} else {
				fmt.Fprintln(a.out, "Last sync: never")
			}
			if st.LastError != "" {
				fmt.Fprintf(a.out, "Last error: %s\n", st.LastError)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
