package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/clinicore/actiongate/internal/adapter/inbound/admin"
)

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [api-key]",
	Short: "Generate an argon2id hash for an admin API key",
	Long: `Generate an argon2id hash of an API key for admin.api_key_hash.

Remote admin API callers then send "Authorization: Bearer <api-key>".

Example:
  actiongate hash-key "my-secret-api-key"
  # Output: $argon2id$v=19$m=65536,t=1,p=...

Security note: The key will appear in shell history.
Consider clearing history after use or using environment variable:
  actiongate hash-key "$MY_API_KEY"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := admin.HashAPIKey(args[0])
		if err != nil {
			return fmt.Errorf("hash key: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashKeyCmd)
}
