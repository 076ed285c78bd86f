package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aloks98/restauth"
)

func (a *app) newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users and application passwords",
	}

	cmd.AddCommand(a.newUserCreateCmd())
	cmd.AddCommand(a.newUserShowCmd())
	cmd.AddCommand(a.newUserPasswdCmd())
	cmd.AddCommand(a.newAppPasswordCmd())

	return cmd
}

// ---------- user create ----------

func (a *app) newUserCreateCmd() *cobra.Command {
	var in restauth.NewUser

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		Example: `  restauthd user create --login alice --email alice@example.com --password 's3cret' --role editor
  restauthd user create --login ci-bot --role contributor`,
		RunE: func(cmd *cobra.Command, args []string) error {
			auth, err := a.openAuth(cmd)
			if err != nil {
				return err
			}
			defer auth.Close()

			u, err := auth.CreateUser(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created user %s (%s) with roles %s\n", u.Login, u.ID, strings.Join(u.Roles, ","))
			return nil
		},
	}

	cmd.Flags().StringVar(&in.Login, "login", "", "Login name (required)")
	cmd.Flags().StringVar(&in.Email, "email", "", "Email address")
	cmd.Flags().StringVar(&in.DisplayName, "name", "", "Display name")
	cmd.Flags().StringVar(&in.Password, "password", "", "Primary password; omit for key-only accounts")
	cmd.Flags().StringSliceVar(&in.Roles, "role", nil, "Role (repeatable, default subscriber)")
	_ = cmd.MarkFlagRequired("login")

	return cmd
}

// ---------- user show ----------

func (a *app) newUserShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <login>",
		Short: "Show a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			auth, err := a.openAuth(cmd)
			if err != nil {
				return err
			}
			defer auth.Close()

			u, err := findUser(cmd.Context(), auth, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), u)
		},
	}
}

// ---------- user passwd ----------

func (a *app) newUserPasswdCmd() *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "passwd <login>",
		Short: "Set a user's primary password and sign out all sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			auth, err := a.openAuth(cmd)
			if err != nil {
				return err
			}
			defer auth.Close()

			u, err := findUser(cmd.Context(), auth, args[0])
			if err != nil {
				return err
			}
			if err := auth.SetPassword(cmd.Context(), u.ID, password); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Password updated for %s; existing sessions revoked.\n", u.Login)
			return nil
		},
	}

	cmd.Flags().StringVar(&password, "password", "", "New password (required)")
	_ = cmd.MarkFlagRequired("password")

	return cmd
}

// ---------- user app-password ----------

func (a *app) newAppPasswordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "app-password",
		Aliases: []string{"apppw"},
		Short:   "Manage application passwords used with HTTP basic auth",
	}

	var name string
	create := &cobra.Command{
		Use:   "create <login>",
		Short: "Create an application password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			auth, err := a.openAuth(cmd)
			if err != nil {
				return err
			}
			defer auth.Close()

			u, err := findUser(cmd.Context(), auth, args[0])
			if err != nil {
				return err
			}
			plain, pw, err := auth.CreateAppPassword(cmd.Context(), u.ID, name)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Application password created:")
			fmt.Fprintln(out)
			fmt.Fprintf(out, "  ID:       %s\n", pw.ID)
			fmt.Fprintf(out, "  Password: %s\n", plain)
			fmt.Fprintln(out)
			fmt.Fprintln(out, "  Save this password now - it cannot be retrieved again.")
			return nil
		},
	}
	create.Flags().StringVar(&name, "name", "", "Label for the password (required)")
	_ = create.MarkFlagRequired("name")

	list := &cobra.Command{
		Use:     "list <login>",
		Aliases: []string{"ls"},
		Short:   "List application passwords",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			auth, err := a.openAuth(cmd)
			if err != nil {
				return err
			}
			defer auth.Close()

			u, err := findUser(cmd.Context(), auth, args[0])
			if err != nil {
				return err
			}
			pws, err := auth.ListAppPasswords(cmd.Context(), u.ID)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tCREATED\tLAST USED")
			for _, pw := range pws {
				last := "never"
				if pw.LastUsedAt != nil {
					last = pw.LastUsedAt.Format("2006-01-02 15:04")
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", pw.ID, pw.Name, pw.CreatedAt.Format("2006-01-02"), last)
			}
			return tw.Flush()
		},
	}

	revoke := &cobra.Command{
		Use:   "revoke <login> <id>",
		Short: "Revoke an application password",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			auth, err := a.openAuth(cmd)
			if err != nil {
				return err
			}
			defer auth.Close()

			u, err := findUser(cmd.Context(), auth, args[0])
			if err != nil {
				return err
			}
			if err := auth.RevokeAppPassword(cmd.Context(), u.ID, args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Application password %s revoked.\n", args[1])
			return nil
		},
	}

	cmd.AddCommand(create, list, revoke)
	return cmd
}
