package cli

import (
	"os"

	"github.com/spf13/cobra"
)

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	port       string
	apiURL     string
}

// Execute runs the CLI.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	envConfig := os.Getenv("EARTUNE_CONFIG")
	if envConfig == "" {
		envConfig = "config/config.yaml"
	}
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "eartune",
		Short:         "Ear-training game client: terminal player and browser bridge",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", envConfig, "path to YAML config")
	cmd.PersistentFlags().StringVar(&opts.port, "port", os.Getenv("PORT"), "port the bridge listens on")
	cmd.PersistentFlags().StringVar(&opts.apiURL, "api-url", "", "base URL of the EarTune API")
	cmd.AddCommand(
		NewStartCmd(opts),
		NewPlayCmd(opts),
		NewGamesCmd(opts),
		NewRegisterCmd(opts),
		NewLoginCmd(opts),
		NewLogoutCmd(opts),
		NewProfileCmd(opts),
		NewHistoryCmd(opts),
		NewMigrateCmd(opts),
	)
	return cmd
}
