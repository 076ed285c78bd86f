package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aloks98/restauth"
	"github.com/aloks98/restauth/permissions"
)

func (a *app) newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Create, list, and revoke API keys. Keys are bound to a user and optionally limited to scopes.",
	}

	cmd.AddCommand(a.newKeyCreateCmd())
	cmd.AddCommand(a.newKeyListCmd())
	cmd.AddCommand(a.newKeyRevokeCmd())

	return cmd
}

// ---------- key create ----------

func (a *app) newKeyCreateCmd() *cobra.Command {
	var (
		in     restauth.NewAPIKey
		window time.Duration
	)

	cmd := &cobra.Command{
		Use:   "create <login>",
		Short: "Create an API key",
		Long:  "Generate an API key for a user. The raw key is shown once and cannot be retrieved again.",
		Example: `  restauthd key create alice --name ci --scope posts:read
  restauthd key create alice --name deploy --ttl 720h --rate-limit 100 --rate-window 1m`,
		Args: cobra.ExactArgs(1),
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
			in.RateLimitWindow = window
			res, err := auth.CreateAPIKey(cmd.Context(), u.ID, in)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "API Key created:")
			fmt.Fprintln(out)
			fmt.Fprintf(out, "  Key:     %s\n", res.RawKey)
			fmt.Fprintf(out, "  User:    %s\n", u.Login)
			if in.Name != "" {
				fmt.Fprintf(out, "  Name:    %s\n", in.Name)
			}
			if len(in.Scopes) > 0 {
				fmt.Fprintf(out, "  Scopes:  %s\n", strings.Join(in.Scopes, ","))
			}
			if res.ExpiresAt != nil {
				fmt.Fprintf(out, "  Expires: %s\n", res.ExpiresAt.Format(time.RFC3339))
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, "  Save this key now - it cannot be retrieved again.")
			return nil
		},
	}

	cmd.Flags().StringVar(&in.Name, "name", "", "Human-readable label for the key")
	cmd.Flags().StringSliceVar(&in.Scopes, "scope", nil, "Scope the key is limited to (repeatable)")
	cmd.Flags().DurationVar(&in.TTL, "ttl", 0, "Lifetime of the key (default: configured default)")
	cmd.Flags().IntVar(&in.RateLimit, "rate-limit", 0, "Requests allowed per window for this key")
	cmd.Flags().DurationVar(&window, "rate-window", 0, "Window of the per-key rate limit")

	return cmd
}

// ---------- key list ----------

func (a *app) newKeyListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list <login>",
		Aliases: []string{"ls"},
		Short:   "List the API keys of a user",
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
			keys, err := auth.ListAPIKeys(cmd.Context(), u.ID)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), keys)
			}
			if len(keys) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No API keys for %s. Use 'restauthd key create' to create one.\n", u.Login)
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "HINT\tNAME\tSCOPES\tREVOKED\tEXPIRES")
			for _, k := range keys {
				expires := "never"
				if k.ExpiresAt != nil {
					expires = k.ExpiresAt.Format("2006-01-02")
				}
				revoked := "no"
				if k.Revoked {
					revoked = "yes"
				}
				fmt.Fprintf(tw, "...%s\t%s\t%s\t%s\t%s\n", k.Hint, k.Name, strings.Join(k.Scopes, ","), revoked, expires)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- key revoke ----------

func (a *app) newKeyRevokeCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "revoke <api-key | login>",
		Short: "Revoke an API key, or every key of a user with --all",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			auth, err := a.openAuth(cmd)
			if err != nil {
				return err
			}
			defer auth.Close()

			if all {
				u, err := findUser(cmd.Context(), auth, args[0])
				if err != nil {
					return err
				}
				n, err := auth.APIKeys().RevokeAll(cmd.Context(), u.ID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Revoked %d API keys of %s.\n", n, u.Login)
				return nil
			}

			// The CLI acts as an administrator.
			admin := &restauth.Identity{ID: "restauthd", Roles: []string{permissions.RoleAdministrator}}
			if err := auth.RevokeAPIKey(cmd.Context(), admin, args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "API key revoked.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Treat the argument as a login and revoke all of its keys")

	return cmd
}
