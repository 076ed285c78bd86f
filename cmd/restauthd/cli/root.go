// Package cli implements the restauthd command tree.
package cli

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aloks98/restauth"
	"github.com/aloks98/restauth/internal/config"
)

// app carries the state shared by every subcommand.
type app struct {
	v       *viper.Viper
	cfgFile string
}

// Execute creates the root command tree and runs it.
func Execute(version, commit string) error {
	return newRootCmd(version, commit).Execute()
}

func newRootCmd(version, commit string) *cobra.Command {
	a := &app{v: viper.New()}

	cmd := &cobra.Command{
		Use:   "restauthd",
		Short: "Authentication and authorization service for REST APIs",
		Long: `restauthd authenticates bearer tokens, API keys and application passwords,
and authorizes requests against a role policy with per-identity rate limits.

Configuration is read from restauthd.yaml and RESTAUTH_* environment variables.`,
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default is ./restauthd.yaml)")

	cmd.AddCommand(a.newServeCmd())
	cmd.AddCommand(a.newUserCmd())
	cmd.AddCommand(a.newKeyCmd())
	cmd.AddCommand(a.newPolicyCmd())
	cmd.AddCommand(a.newCleanupCmd())
	cmd.AddCommand(newKeygenCmd())

	return cmd
}

// load reads the configuration.
func (a *app) load() (*config.File, error) {
	return config.Load(a.v, a.cfgFile)
}

// openAuth builds an engine for one-shot commands. The periodic cleanup
// worker is disabled.
func (a *app) openAuth(cmd *cobra.Command) (*restauth.Auth, error) {
	f, err := a.load()
	if err != nil {
		return nil, err
	}
	f.Auth.CleanupInterval = 0
	return a.build(cmd, f, nil)
}

func (a *app) build(cmd *cobra.Command, f *config.File, reg prometheus.Registerer) (*restauth.Auth, error) {
	logger, err := f.Logger(cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	auth, err := f.NewAuth(logger, reg)
	if err != nil {
		return nil, fmt.Errorf("init auth: %w", err)
	}
	return auth, nil
}
