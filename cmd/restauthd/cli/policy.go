package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/aloks98/restauth/permissions"
)

func (a *app) newPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect and change the permission policy",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective policy as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			auth, err := a.openAuth(cmd)
			if err != nil {
				return err
			}
			defer auth.Close()

			p, err := auth.Policy(cmd.Context())
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(p); err != nil {
				return err
			}
			return enc.Close()
		},
	}

	apply := &cobra.Command{
		Use:   "apply <file>",
		Short: "Replace the stored policy with a YAML or JSON document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := permissions.LoadFile(args[0])
			if err != nil {
				return err
			}
			auth, err := a.openAuth(cmd)
			if err != nil {
				return err
			}
			defer auth.Close()

			if err := auth.ReplacePolicy(cmd.Context(), p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Policy applied: %d roles.\n", len(p.Roles))
			return nil
		},
	}

	reset := &cobra.Command{
		Use:   "reset",
		Short: "Delete the stored policy, restoring the defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			auth, err := a.openAuth(cmd)
			if err != nil {
				return err
			}
			defer auth.Close()

			if err := auth.Permissions().Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Policy reset to defaults.")
			return nil
		},
	}

	cmd.AddCommand(show, apply, reset)
	return cmd
}
