package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/cozy-creator/genjobs/cmd/genjobs/cmdutil"
	"github.com/spf13/cobra"
)

var ModelsCmd = &cobra.Command{
	Use:     "models",
	Short:   "List the models the worker can run",
	PreRunE: bindWorkerFlags,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := cmdutil.NewApp()
		if err != nil {
			return err
		}
		defer app.Close()

		models, err := app.Orchestrator().ListModels(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(models)
	},
}

var LorasCmd = &cobra.Command{
	Use:     "loras",
	Short:   "List the LoRA adapters the worker can apply",
	PreRunE: bindWorkerFlags,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := cmdutil.NewApp()
		if err != nil {
			return err
		}
		defer app.Close()

		loras, err := app.Orchestrator().ListLoras(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(loras)
	},
}

var InitCmd = &cobra.Command{
	Use:     "init",
	Short:   "Prepare the worker environment",
	PreRunE: bindWorkerFlags,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := cmdutil.NewApp()
		if err != nil {
			return err
		}
		defer app.Close()

		if err := app.Orchestrator().Init(cmd.Context()); err != nil {
			return err
		}

		fmt.Println("worker initialized")
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{ModelsCmd, LorasCmd, InitCmd} {
		cmdutil.AddWorkerFlags(cmd.Flags())
	}
}

func bindWorkerFlags(cmd *cobra.Command, _ []string) error {
	return cmdutil.BindFlags(cmd.Flags(), cmdutil.WorkerFlags)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
