package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/consent-audit/internal/config"
	"github.com/xkilldash9x/consent-audit/internal/observability"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "consent-audit",
	Short:   "Consent-state browser audit engine.",
	Long:    "Captures the network and cookie evidence of a site before and after a consent action, each side in its own isolated browser context.",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initializeConfig(); err != nil {
			return fmt.Errorf("failed to initialize configuration: %w", err)
		}
		if err := config.Load(viper.GetViper()); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		observability.InitializeLogger(config.Get().Logger)
		logger := observability.GetLogger()
		logger.Info("Starting consent-audit", zap.String("version", Version))
		return nil
	},
}

// Execute runs the root command with a context from main for graceful
// shutdown.
func Execute(ctx context.Context) error {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if logger := observability.GetLogger(); logger != nil && ctx.Err() == nil {
			logger.Error("Command execution failed", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")

	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(versionCmd)
}

// initializeConfig reads the config file and environment variables.
func initializeConfig() error {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("CONSENT_AUDIT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	_ = viper.BindEnv("postgres.url", "CONSENT_AUDIT_POSTGRES_URL")
	_ = viper.BindEnv("browser.remote_url", "CONSENT_AUDIT_BROWSER_REMOTE_URL")
	_ = viper.BindEnv("browser.remote_token", "CONSENT_AUDIT_BROWSER_REMOTE_TOKEN")

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env cover it.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}
