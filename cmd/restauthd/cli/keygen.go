package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aloks98/restauth/internal/crypto"
	"github.com/aloks98/restauth/signer"
)

func newKeygenCmd() *cobra.Command {
	var (
		alg string
		out string
	)

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate token signing material",
		Long: `Generate a signing key. Asymmetric algorithms write a PKCS#8 private key to
--out and print the public key. HMAC algorithms print a random secret.`,
		Example: `  restauthd keygen --alg ES256 --out signing.pem
  restauthd keygen --alg HS256`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch alg {
			case "HS256", "HS384", "HS512":
				secret, err := crypto.GenerateRandomHex(48)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), secret)
				return nil
			}

			if out == "" {
				return fmt.Errorf("--out is required for %s", alg)
			}
			s, err := signer.Generate(alg)
			if err != nil {
				return err
			}
			priv, err := s.PrivateKeyPEM()
			if err != nil {
				return err
			}
			pub, err := s.PublicKeyPEM()
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, priv, 0o600); err != nil {
				return fmt.Errorf("write private key: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Private key written to %s (kid %s)\n", out, s.KeyID())
			_, err = cmd.OutOrStdout().Write(pub)
			return err
		},
	}

	cmd.Flags().StringVar(&alg, "alg", "ES256", "Signing algorithm (RS256, ES256, EdDSA, HS256, ...)")
	cmd.Flags().StringVar(&out, "out", "", "Private key output file")

	return cmd
}
