package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scmhooks/hookengine/internal/domain/adminauth"
)

var hashKeySHA256 bool

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [admin-token]",
	Short: "Generate an admin token hash for use in config",
	Long: `Generate a hash of an admin token for the admin_auth.token_hash config field.

By default this produces an Argon2id PHC string, the preferred format for
newly provisioned tokens. Pass --sha256 for the legacy "sha256:<hex>" format.

Example:
  hookengine hash-key "my-admin-token"
  hookengine hash-key --sha256 "my-admin-token"

Security note: the token will appear in shell history.
Consider clearing history after use or using an environment variable:
  hookengine hash-key "$HOOKENGINE_ADMIN_TOKEN"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token := args[0]
		if hashKeySHA256 {
			fmt.Printf("sha256:%s\n", adminauth.HashToken(token))
			return nil
		}
		hash, err := adminauth.HashTokenArgon2id(token)
		if err != nil {
			return fmt.Errorf("hash-key: %w", err)
		}
		fmt.Println(hash)
		return nil
	},
}

func init() {
	hashKeyCmd.Flags().BoolVar(&hashKeySHA256, "sha256", false, "use the legacy sha256:<hex> format instead of Argon2id")
	rootCmd.AddCommand(hashKeyCmd)
}
