package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/faucetdb/kevd/internal/config"
)

var (
	cfgFile    string
	devMode    bool
	appVersion string // set in Execute, used for the feed User-Agent and OpenAPI info
	configErr  error  // set by initConfig, surfaced by loadConfig
)

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	appVersion = version
	rootCmd := newRootCmd(version, commit, date)
	return rootCmd.ExecuteContext(context.Background())
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kevd",
		Short: "Serve the CISA Known Exploited Vulnerabilities catalog over HTTP",
		Long: `kevd keeps a local copy of the CISA Known Exploited Vulnerabilities (KEV)
catalog in a SQL database and serves it through an API-key protected HTTP API.

The catalog is downloaded from CISA, its columns are inferred from the CSV
header, and the table is replaced wholesale on every refresh.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./kevd.yaml)")
	cmd.PersistentFlags().BoolVar(&devMode, "dev", false, "Development mode (debug logging)")

	cobra.OnInitialize(initConfig)

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newRefreshCmd())
	cmd.AddCommand(newKeyCmd())
	cmd.AddCommand(newOpenAPICmd())
	cmd.AddCommand(newMCPCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))

	return cmd
}

func initConfig() {
	v := viper.GetViper()
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("kevd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.kevd")
	}

	// The file is optional, but one that exists and fails to parse is an error.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			configErr = fmt.Errorf("read config: %w", err)
		}
	}
}

// loadConfig returns the validated effective configuration.
func loadConfig() (*config.Config, error) {
	if configErr != nil {
		return nil, configErr
	}
	return config.Load(viper.GetViper())
}
