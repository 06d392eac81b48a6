package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/atinyakov/glucosync/internal/apperr"
	"github.com/atinyakov/glucosync/internal/client/prompt"
	"github.com/atinyakov/glucosync/internal/models"
)

const timeLayout = "2006-01-02 15:04"

func newAddCmd(a *app) *cobra.Command {
	var (
		value float64
		typ   string
		notes string
		at    string
	)
	cmd := &cobra.Command{
		Use:     "add",
		GroupID: "data",
		Short:   "Record a glucose reading",
		Long: `Record a glucose reading in mg/dL.

Without --value the reading is asked for interactively.`,
		Example: `  glucosync add --value 104 --type fasting
  glucosync add --value 162 --type after_meal --notes "pasta" --at "2026-10-18 20:15"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				m   models.Measurement
				err error
			)
			if cmd.Flags().Changed("value") {
				ts := time.Now()
				if at != "" {
					if ts, err = time.ParseInLocation(timeLayout, at, time.Local); err != nil {
						return apperr.Invalid("at", fmt.Sprintf("want %q", timeLayout))
					}
				}
				m = models.Measurement{ID: uuid.NewString(), Value: value, Type: typ, Timestamp: ts.UnixMilli(), Notes: notes}
			} else {
				if m, err = prompt.PromptForMeasurement(a.in, a.out, time.Now()); err != nil {
					return err
				}
			}
			if err := a.sync.AddMeasurement(cmd.Context(), m); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Saved %s\n", m.ID)
			return nil
		},
	}
	cmd.Flags().Float64Var(&value, "value", 0, "glucose value in mg/dL")
	cmd.Flags().StringVar(&typ, "type", string(models.Random), "fasting, before_meal, after_meal, bedtime or random")
	cmd.Flags().StringVar(&notes, "notes", "", "free text")
	cmd.Flags().StringVar(&at, "at", "", "reading time as "+timeLayout+" (default now)")
	return cmd
}

func newEditCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "edit <id>",
		GroupID: "data",
		Short:   "Change a recorded reading",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			current := a.local.Get(args[0])
			if current == nil {
				return fmt.Errorf("measurement %s: %w", args[0], apperr.ErrNotFound)
			}
			m, err := prompt.PromptEditMeasurement(a.in, a.out, *current)
			if err != nil {
				return err
			}
			if err := a.sync.AddMeasurement(cmd.Context(), m); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Updated %s\n", m.ID)
			return nil
		},
	}
}

func newListCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "list",
		GroupID: "data",
		Short:   "Show recorded readings, newest first",
		Args:    cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			ms := a.local.List()
			if asJSON {
				enc := json.NewEncoder(a.out)
				enc.SetIndent("", "  ")
				return enc.Encode(ms)
			}
			if len(ms) == 0 {
				fmt.Fprintln(a.out, "No measurements yet")
				return nil
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTIME\tVALUE\tTYPE\tNOTES")
			for _, m := range ms {
				fmt.Fprintf(tw, "%s\t%s\t%g\t%s\t%s\n",
					m.ID, time.UnixMilli(m.Timestamp).Format(timeLayout), m.Value, m.Type, m.Notes)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		GroupID: "data",
		Short:   "Remove a reading",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.sync.DeleteMeasurement(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Deleted %s\n", args[0])
			return nil
		},
	}
}
