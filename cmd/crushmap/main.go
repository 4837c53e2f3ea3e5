package main

import (
	"context"

	"github.com/couchbase/crushmap/crushd"
	"github.com/couchbase/crushmap/pkg/app_config"
	"github.com/couchbase/crushmap/pkg/metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Version: metrics.BuildVersion(),

	Use:   "crushmap",
	Short: "Resolves ceph crush rules into the storage groups they select",

	SilenceUsage:  true,
	SilenceErrors: true,
}

var cfgFile string

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "specifies a config file to load")

	configFlags := app_config.ConfigFlags()
	rootCmd.PersistentFlags().AddFlagSet(configFlags)

	_ = app_config.BindConfig(viper.GetViper(), configFlags)

	rootCmd.AddCommand(
		resolveCmd,
		expandCmd,
		showCmd,
		validateCmd,
		serveCmd,
	)
}

// setup prepares logging and configuration for a command.
func setup() (zap.AtomicLevel, *zap.Logger, *app_config.Config, error) {
	logLevel, logger := app_config.NewLogger()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		err := viper.ReadInConfig()
		if err != nil {
			return logLevel, logger, nil, err
		}
	}

	// we parse the config quietly first so that the configured log level
	// applies to the configuration dump itself.
	config := app_config.ReadConfig(viper.GetViper(), zap.NewNop())
	app_config.ApplyLogLevel(logger, logLevel, config.LogLevelStr)
	config = app_config.ReadConfig(viper.GetViper(), logger)

	return logLevel, logger, config, nil
}

// loadSystem builds a resolver system and loads the current map into it.
func loadSystem(ctx context.Context, logger *zap.Logger, config *app_config.Config) (*crushd.System, func(), error) {
	provider, closeProvider, err := config.NewProvider(logger)
	if err != nil {
		return nil, nil, err
	}

	sys, err := crushd.NewSystem(&crushd.SystemOptions{
		Logger:   logger.Named("crushd"),
		Provider: provider,
		Strict:   config.Strict,
	})
	if err != nil {
		closeProvider()
		return nil, nil, err
	}

	err = sys.Load(ctx)
	if err != nil {
		closeProvider()
		return nil, nil, err
	}

	return sys, closeProvider, nil
}

func main() {
	cobra.CheckErr(rootCmd.Execute())
}
