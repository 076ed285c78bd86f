package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func (a *app) newCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete expired tokens, blacklist entries and rate counters once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			auth, err := a.openAuth(cmd)
			if err != nil {
				return err
			}
			defer auth.Close()

			counts, err := auth.Cleanup(cmd.Context())
			names := make([]string, 0, len(counts))
			for name := range counts {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "%-16s %d\n", name, counts[name])
			}
			return err
		},
	}
}
