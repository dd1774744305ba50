package cmd

import (
	"fmt"
	"io"
	"net/url"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/clinicore/actiongate/internal/config"
)

const redacted = "[redacted]"

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration utilities",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after defaults, the config file, environment
overrides and --dev are applied. Secrets are redacted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if f := config.ConfigFileUsed(); f != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", f)
		}
		return writeConfigYAML(cmd.OutOrStdout(), cfg)
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}

func writeConfigYAML(w io.Writer, cfg *config.Config) error {
	c := *cfg
	if c.Approval.Secret != "" {
		c.Approval.Secret = redacted
	}
	if c.Store.RedisURL != "" {
		c.Store.RedisURL = redactURL(c.Store.RedisURL)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}

// redactURL masks the password of a connection URL.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return redacted
	}
	return u.Redacted()
}
