package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// prompter reads answers from the command's stdin, one line each.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func newPrompter(cmd *cobra.Command) *prompter {
	return &prompter{in: bufio.NewReader(cmd.InOrStdin()), out: cmd.ErrOrStderr()}
}

func (p *prompter) ask(label string) (string, error) {
	fmt.Fprint(p.out, label+": ")
	line, err := p.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("read %s: %w", strings.ToLower(label), err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// credentialsFrom fills in whatever the flags left empty by asking.
func credentialsFrom(cmd *cobra.Command, p *prompter) (email, password string, err error) {
	email, _ = cmd.Flags().GetString("email")
	password, _ = cmd.Flags().GetString("password")
	if email == "" {
		if email, err = p.ask("Email"); err != nil {
			return "", "", err
		}
	}
	if password == "" {
		if password, err = p.ask("Password"); err != nil {
			return "", "", err
		}
	}
	return email, password, nil
}

func credentialFlags(cmd *cobra.Command) {
	cmd.Flags().String("email", "", "account email")
	cmd.Flags().String("password", "", "account password (prompted when empty)")
}

func (a *app) signUpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account and sign in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := newPrompter(cmd)
			email, password, err := credentialsFrom(cmd, p)
			if err != nil {
				return err
			}
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				if name, err = p.ask("Display name"); err != nil {
					return err
				}
			}

			ctx, cancel := a.requestContext(cmd)
			defer cancel()
			store, _, err := a.sessionStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			id, err := store.SignUp(ctx, email, password, name)
			if err != nil {
				if id.ID != "" {
					fmt.Fprintln(cmd.ErrOrStderr(), warnStyle.Render("Account created, but the display name was not saved."))
				}
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Welcome, "+titleStyle.Render(displayName(id.DisplayName, id.Email))+"!")
			return nil
		},
	}
	credentialFlags(cmd)
	cmd.Flags().String("name", "", "display name")
	return cmd
}

func (a *app) signInCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signin",
		Short: "Sign in with email and password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			email, password, err := credentialsFrom(cmd, newPrompter(cmd))
			if err != nil {
				return err
			}

			ctx, cancel := a.requestContext(cmd)
			defer cancel()
			store, _, err := a.sessionStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			id, err := store.SignIn(ctx, email, password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed in as "+titleStyle.Render(displayName(id.DisplayName, id.Email)))
			return nil
		},
	}
	credentialFlags(cmd)
	return cmd
}

func (a *app) signOutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "signout",
		Short: "Sign out and forget stored credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.requestContext(cmd)
			defer cancel()
			store, _, err := a.sessionStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.SignOut(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
			return nil
		},
	}
}

func (a *app) whoAmICmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.requestContext(cmd)
			defer cancel()
			store, st, err := a.sessionStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			if st.Identity == nil {
				fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("Not signed in."))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderIdentity(*st.Identity))
			return nil
		},
	}
}

func (a *app) profileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profile UID",
		Short: "Show another user's public profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.requestContext(cmd)
			defer cancel()
			id, err := a.client.Profile(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderIdentity(id))
			return nil
		},
	}
}

func (a *app) inspirationCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspiration [QUERY]",
		Short: "Browse trip ideas",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := ""
			if len(args) == 1 {
				query = args[0]
			}
			ctx, cancel := a.requestContext(cmd)
			defer cancel()
			entries, err := a.client.Inspiration(ctx, query)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderInspiration(entries))
			return nil
		},
	}
}

func displayName(name, email string) string {
	if name != "" {
		return name
	}
	return email
}
