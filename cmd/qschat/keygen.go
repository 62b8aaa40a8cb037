package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mokkunsuzuki-code/stage106/pkg/crypto"
	"github.com/mokkunsuzuki-code/stage106/pkg/keymat"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an ML-DSA-65 signing identity",
	Long: `keygen creates the key pair a server uses to sign handshake
transcripts. The secret key stays on the server (serve --signer-key); the
public key is distributed to clients (connect --server-key).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		force, _ := cmd.Flags().GetBool("force")

		publicPath := name + ".pub.json"
		secretPath := name + ".sec.json"

		if !force {
			for _, path := range []string{publicPath, secretPath} {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", path)
				}
			}
		}

		if _, err := keymat.GenerateSigningIdentity(publicPath, secretPath); err != nil {
			return err
		}

		fmt.Printf("✓ Generated %s identity\n", crypto.AlgorithmMLDSA65)
		fmt.Printf("  public key: %s (distribute to clients)\n", publicPath)
		fmt.Printf("  secret key: %s (keep on the server)\n", secretPath)
		return nil
	},
}

func init() {
	keygenCmd.Flags().StringP("name", "n", "qschat", "key name (creates <name>.pub.json and <name>.sec.json)")
	keygenCmd.Flags().Bool("force", false, "overwrite existing key files")
}
