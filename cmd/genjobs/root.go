package cmd

import (
	"fmt"
	"os"

	// Subcommands
	db "github.com/cozy-creator/genjobs/cmd/genjobs/db"
	generate "github.com/cozy-creator/genjobs/cmd/genjobs/generate"
	serve "github.com/cozy-creator/genjobs/cmd/genjobs/serve"
	worker "github.com/cozy-creator/genjobs/cmd/genjobs/worker"
	"github.com/cozy-creator/genjobs/internal/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var Cmd = &cobra.Command{
	Use:          "genjobs",
	Short:        "Generation job orchestrator",
	Long:         "Runs text-to-image, text-to-audio, text-to-video and text generation jobs on a local model worker and tracks them until they finish",
	SilenceUsage: true,

	// Runs before this command and any subcommands
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		v := viper.GetViper()
		config.ConfigureEnv(v)

		// Load config and env files
		return config.LoadEnvAndConfigFiles(v)
	},
}

func Execute() {
	if err := Cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	config.SetDefaults(viper.GetViper())

	pflags := Cmd.PersistentFlags()

	pflags.String("config-file", "", "Path to the config file")
	pflags.String("env-file", "", "Path to the env file")
	pflags.String("environment", "dev", "Environment configuration: dev, test or prod")

	// Bind flags to viper
	viper.BindPFlag("config_file", pflags.Lookup("config-file"))
	viper.BindPFlag("env_file", pflags.Lookup("env-file"))
	viper.BindPFlag("environment", pflags.Lookup("environment"))

	// Add subcommands
	Cmd.AddCommand(serve.Cmd, generate.Cmd, worker.ModelsCmd, worker.LorasCmd, worker.InitCmd, db.Cmd)
	Cmd.CompletionOptions.HiddenDefaultCmd = true
}
