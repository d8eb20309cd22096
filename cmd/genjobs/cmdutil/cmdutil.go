// Package cmdutil holds the helpers shared by the genjobs subcommands.
package cmdutil

import (
	"fmt"

	"github.com/cozy-creator/genjobs/internal/app"
	"github.com/cozy-creator/genjobs/internal/config"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// WorkerFlags maps the worker flags added by AddWorkerFlags to their config keys.
var WorkerFlags = map[string]string{
	"worker.mode":           "worker-mode",
	"worker.interpreter":    "worker-interpreter",
	"worker.script":         "worker-script",
	"worker.daemon_address": "daemon-address",
}

func AddWorkerFlags(flags *pflag.FlagSet) {
	flags.String("worker-mode", config.WorkerModeExec, "How the worker is run: 'exec' or 'daemon'")
	flags.String("worker-interpreter", "python3", "Interpreter used to run the worker script, empty to run it directly")
	flags.String("worker-script", "src/python/src/playai/cli.py", "Path to the worker entry point")
	flags.String("daemon-address", "", "Address of an already running worker daemon")
}

// BindFlags binds flags to viper keys. Commands call it from PreRunE so that
// commands sharing a key do not overwrite each other's bindings.
func BindFlags(flags *pflag.FlagSet, keys map[string]string) error {
	for key, name := range keys {
		flag := flags.Lookup(name)
		if flag == nil {
			return fmt.Errorf("unknown flag: %s", name)
		}
		if err := viper.BindPFlag(key, flag); err != nil {
			return err
		}
	}

	return nil
}

func LoadConfig() (*config.Config, error) {
	return config.Load(viper.GetViper())
}

// NewApp builds an app with the configured worker plus the given options.
func NewApp(options ...app.OptionFunc) (*app.App, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}

	return app.NewApp(cfg, append([]app.OptionFunc{app.WithWorker()}, options...)...)
}
