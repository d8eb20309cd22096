package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cozy-creator/genjobs/cmd/genjobs/cmdutil"
	"github.com/cozy-creator/genjobs/internal/app"
	"github.com/cozy-creator/genjobs/internal/server"
	"go.uber.org/zap"

	"github.com/spf13/cobra"
)

var flagKeys = map[string]string{
	"host":                     "host",
	"port":                     "port",
	"public_dir":               "public-dir",
	"registry.max_concurrent":  "max-concurrent",
	"registry.worker_fallback": "worker-fallback",
	"db.driver":                "db-driver",
	"db.dsn":                   "db-dsn",
	"pulsar.url":               "pulsar-url",
}

var Cmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the generation HTTP server",
	PreRunE: func(cmd *cobra.Command, args []string) error {
		if err := cmdutil.BindFlags(cmd.Flags(), flagKeys); err != nil {
			return err
		}
		return cmdutil.BindFlags(cmd.Flags(), cmdutil.WorkerFlags)
	},
	RunE: runServe,
}

func init() {
	flags := Cmd.Flags()

	flags.Int("port", 8881, "Port to run the server on")
	flags.String("host", "localhost", "Host to run the server on")
	flags.String("public-dir", "", "Path where static files should be served from")
	flags.Int("max-concurrent", 4, "Maximum number of generations dispatched to the worker at once")
	flags.Bool("worker-fallback", false, "Ask the worker about generation ids this server does not know")
	flags.String("db-driver", "", "History database driver: 'sqlite', 'libsql' or 'pg'. Empty disables history")
	flags.String("db-dsn", "file:genjobs.db?cache=shared", "Database DSN (Connection URL or Path)")
	flags.String("pulsar-url", "", "URL of the pulsar broker. Example: pulsar+ssl://my-cluster.streamnative.cloud:6651")
	flags.Bool("init", false, "Run the worker init subcommand before serving")

	cmdutil.AddWorkerFlags(flags)
}

func runServe(cmd *cobra.Command, _ []string) error {
	errc := make(chan error, 1)
	signalc := make(chan os.Signal, 1)

	app, err := cmdutil.NewApp(app.WithMQ(), app.WithDBInitialization(), app.WithSweeper())
	if err != nil {
		return err
	}
	defer app.Close()

	if runInit, _ := cmd.Flags().GetBool("init"); runInit {
		if err := app.Orchestrator().Init(app.Context()); err != nil {
			return err
		}
	}

	server, err := server.NewServer(app.Config(), app.Logger.Named("server"))
	if err != nil {
		return err
	}

	// Setup the server routes
	server.SetupRoutes(app)

	go func() {
		errc <- server.Start()
	}()

	signal.Notify(signalc, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case sig := <-signalc:
		app.Logger.Info("shutting down", zap.String("signal", sig.String()))
		return server.Stop(context.Background())
	}
}
