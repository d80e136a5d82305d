package cmd

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gobayes/spam-filter/pkg/config"
	"github.com/gobayes/spam-filter/pkg/logging"
)

var rootConfigPath string

var rootCmd = &cobra.Command{
	Use:   "gobayes",
	Short: "Statistical spam filter with incremental training",
	Long: `gobayes classifies mail as spam or ham with a chi-square Bayesian
model built from your own corpora. The model lives in a persistent
token store and improves every time you correct it.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig loads configuration and initializes logging; shared by
// all subcommands.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(rootConfigPath)
	if err != nil {
		return nil, err
	}
	logging.Init(cfg.Logging.Level)
	logging.Logger(logging.Main).WithFields(logrus.Fields{
		"config":  rootConfigPath,
		"backend": cfg.Store.Backend,
	}).Debug("Configuration loaded")
	return cfg, nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&rootConfigPath, "config", "c", "", "Configuration file path")

	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(milterCmd)
}
