package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/atinyakov/glucosync/internal/client/prompt"
	"github.com/atinyakov/glucosync/internal/client/repair"
)

func newRepairCmd(a *app) *cobra.Command {
	var asJSON bool
	root := &cobra.Command{
		Use:     "repair",
		GroupID: "maintenance",
		Short:   "Find and fix unreadable documents in the document collection",
	}
	root.PersistentFlags().BoolVar(&asJSON, "json", false, "print the result as JSON")

	report := func(v any, text func()) error {
		if asJSON {
			enc := json.NewEncoder(a.out)
			enc.SetIndent("", "  ")
			return enc.Encode(v)
		}
		text()
		return nil
	}

	analyze := &cobra.Command{
		Use:   "analyze",
		Short: "Count structurally broken documents without changing anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, err := a.userID()
			if err != nil {
				return err
			}
			tool, err := a.repairTool()
			if err != nil {
				return err
			}
			res, err := tool.Analyze(cmd.Context(), userID)
			if err != nil {
				return err
			}
			return report(res, func() {
				fmt.Fprintf(a.out, "Documents:             %d\n", res.TotalDocuments)
				fmt.Fprintf(a.out, "Potentially corrupted: %d\n", res.PotentiallyCorrupted)
				fmt.Fprintf(a.out, "Already flagged:       %d\n", res.Flagged)
				if len(res.CorruptedIDs) > 0 {
					fmt.Fprintf(a.out, "IDs: %s\n", strings.Join(res.CorruptedIDs, ", "))
				}
			})
		},
	}

	var (
		mode string
		ids  []string
		yes  bool
	)
	clean := &cobra.Command{
		Use:   "clean",
		Short: "Flag or delete broken documents",
		Long: `Flag or delete every document that fails the structural check or is
listed with --ids. Flagging keeps the original ciphertext for a later
'repair scan'. Deleting cannot be undone and asks for confirmation.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, err := a.userID()
			if err != nil {
				return err
			}
			tool, err := a.repairTool()
			if err != nil {
				return err
			}
			opts := repair.CleanOptions{Mode: repair.Mode(mode), KnownBadIDs: ids, Confirmed: yes}
			if opts.Mode == repair.ModeDelete && !yes {
				opts.Confirmed = prompt.Confirm(a.in, a.out, "Permanently delete the matching documents?")
			}
			res, err := tool.CleanCorruptedMeasurements(cmd.Context(), userID, opts)
			if err != nil {
				return err
			}
			return report(res, func() {
				fmt.Fprintf(a.out, "Matched %d document(s): flagged %d, deleted %d, skipped %d, failed %d\n",
					res.Matched, res.Flagged, res.Deleted, res.Skipped, res.Failed)
			})
		},
	}
	clean.Flags().StringVar(&mode, "mode", string(repair.ModeFlag), "flag or delete")
	clean.Flags().StringSliceVar(&ids, "ids", nil, "document ids to treat as corrupted")
	clean.Flags().BoolVar(&yes, "yes", false, "confirm deletion without prompting")

	var candidate string
	scan := &cobra.Command{
		Use:   "scan",
		Short: "Try to recover flagged documents",
		Long: `Try to decrypt every flagged document with the current key, the legacy keys
and, when given, --candidate-key (base64 key material from another device's
keys.json). Recovered documents are re-encrypted with the current key.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, err := a.userID()
			if err != nil {
				return err
			}
			tool, err := a.repairTool()
			if err != nil {
				return err
			}
			res, err := tool.ScanAndRepairCorruptedDocuments(cmd.Context(), userID, candidate)
			if err != nil {
				return err
			}
			return report(res, func() {
				fmt.Fprintf(a.out, "Scanned %d flagged document(s): repaired %d, failed %d\n", res.Scanned, res.Repaired, res.Failed)
				if len(res.FailedIDs) > 0 {
					fmt.Fprintf(a.out, "Still unreadable: %s\n", strings.Join(res.FailedIDs, ", "))
				}
			})
		},
	}
	scan.Flags().StringVar(&candidate, "candidate-key", "", "extra base64 key to try")

	root.AddCommand(analyze, clean, scan)
	return root
}

