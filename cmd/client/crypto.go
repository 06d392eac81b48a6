package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/atinyakov/glucosync/internal/apperr"
	"github.com/atinyakov/glucosync/internal/client/prompt"
)

func newCryptoCmd(a *app) *cobra.Command {
	crypto := &cobra.Command{
		Use:     "crypto",
		GroupID: "maintenance",
		Short:   "Inspect and rotate the device encryption key",
	}

	test := &cobra.Command{
		Use:   "test",
		Short: "Round-trip a known text through the current key",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			if !a.keys.TestCrypto() {
				return errors.New("encryption self test failed")
			}
			fmt.Fprintln(a.out, "Encryption self test passed")
			return nil
		},
	}

	info := &cobra.Command{
		Use:   "info",
		Short: "Show the key version and fingerprint",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			ki := a.keys.KeyInfo()
			fmt.Fprintf(a.out, "Version:     %d\n", ki.Version)
			fmt.Fprintf(a.out, "Fingerprint: %s\n", ki.Hash)
			fmt.Fprintf(a.out, "Legacy keys: %d\n", ki.LegacyCount)
			return nil
		},
	}

	var yes bool
	reset := &cobra.Command{
		Use:   "reset",
		Short: "Generate a new key, keeping the old one for reading",
		Long: `Generate a new encryption key. The previous key joins the legacy list so
documents written with it stay readable. Only the most recent legacy keys are
kept; documents sealed with an evicted key need 'repair scan --candidate-key'.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes && !prompt.Confirm(a.in, a.out, "Rotate the encryption key?") {
				return apperr.ErrConfirmationRequired
			}
			ki, err := a.keys.ResetEncryptionKey(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "New key version %d (%s), %d legacy key(s) kept\n", ki.Version, ki.Hash, ki.LegacyCount)
			return nil
		},
	}
	reset.Flags().BoolVar(&yes, "yes", false, "skip the confirmation prompt")

	crypto.AddCommand(test, info, reset)
	return crypto
}
