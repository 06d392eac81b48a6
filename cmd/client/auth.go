package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/atinyakov/glucosync/internal/apperr"
	"github.com/atinyakov/glucosync/internal/client/prompt"
)

type credentialFlags struct {
	email    string
	password string
}

func (f *credentialFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.email, "email", "", "account email")
	cmd.Flags().StringVar(&f.password, "password", "", "account password (prompted when empty)")
}

// complete asks for the missing values on the command input.
func (f *credentialFlags) complete(a *app) {
	scanner := bufio.NewScanner(a.in)
	if f.email == "" {
		fmt.Fprint(a.out, "Email: ")
		scanner.Scan()
		f.email = strings.TrimSpace(scanner.Text())
	}
	if f.password == "" {
		fmt.Fprint(a.out, "Password: ")
		scanner.Scan()
		f.password = strings.TrimSpace(scanner.Text())
	}
}

func newRegisterCmd(a *app) *cobra.Command {
	var creds credentialFlags
	cmd := &cobra.Command{
		Use:     "register",
		GroupID: "account",
		Short:   "Create an account on the server and sign in",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			creds.complete(a)
			sess, err := a.auth.Register(cmd.Context(), creds.email, creds.password)
			if err != nil {
				return err
			}
			return a.signIn(cmd.Context(), sess)
		},
	}
	creds.bind(cmd)
	return cmd
}

func newLoginCmd(a *app) *cobra.Command {
	var creds credentialFlags
	cmd := &cobra.Command{
		Use:     "login",
		GroupID: "account",
		Short:   "Sign in to an existing account",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			creds.complete(a)
			sess, err := a.auth.Login(cmd.Context(), creds.email, creds.password)
			if err != nil {
				return err
			}
			return a.signIn(cmd.Context(), sess)
		},
	}
	creds.bind(cmd)
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "logout",
		GroupID: "account",
		Short:   "Forget the session and turn sync off",
		Long: `Forget the stored session and turn sync off.

Local measurements and the encryption key stay on the device.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.signOut(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Signed out")
			return nil
		},
	}
}

func newResetPasswordCmd(a *app) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:     "reset-password",
		GroupID: "account",
		Short:   "Request a password reset email",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if email == "" {
				if sess := a.state.Session(); sess != nil {
					email = sess.Email
				}
			}
			if err := a.auth.RequestPasswordReset(cmd.Context(), email); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "If %s is registered, a reset link is on its way\n", email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email (defaults to the signed-in account)")
	return cmd
}

func newAccountCmd(a *app) *cobra.Command {
	account := &cobra.Command{
		Use:     "account",
		GroupID: "account",
		Short:   "Manage the signed-in account",
	}

	var yes bool
	del := &cobra.Command{
		Use:   "delete",
		Short: "Delete the account and all of its remote data",
		Long: `Delete the signed-in account on the server together with its measurements
and sessions. With the docstore backend the user's documents are removed too.
This cannot be undone.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, err := a.session()
			if err != nil {
				return err
			}
			if !yes && !prompt.Confirm(a.in, a.out, fmt.Sprintf("Delete account %s and all remote data?", sess.Email)) {
				return apperr.ErrConfirmationRequired
			}
			if err := a.auth.DeleteAccount(cmd.Context(), sess); err != nil {
				return err
			}
			if a.docs != nil {
				n, err := a.docs.DeleteUser(cmd.Context(), sess.UserID)
				if err != nil {
					return fmt.Errorf("delete documents: %w", err)
				}
				fmt.Fprintf(a.out, "Removed %d document(s)\n", n)
			}
			if err := a.signOut(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Account deleted")
			return nil
		},
	}
	del.Flags().BoolVar(&yes, "yes", false, "skip the confirmation prompt")
	account.AddCommand(del)
	return account
}
