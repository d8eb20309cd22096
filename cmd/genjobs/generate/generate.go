package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cozy-creator/genjobs/cmd/genjobs/cmdutil"
	"github.com/cozy-creator/genjobs/internal/app"
	"github.com/cozy-creator/genjobs/internal/orchestrator"
	"github.com/cozy-creator/genjobs/internal/types"
	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v7"
	"github.com/vbauerster/mpb/v7/decor"
)

var Cmd = &cobra.Command{
	Use:   "generate",
	Short: "Run one generation on the local worker",
	Long: "Validates and runs one generation in-process. The job lives only as long as the command, " +
		"so the command always runs it to the end. With --wait a spinner is shown and the full job is printed.",
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return cmdutil.BindFlags(cmd.Flags(), cmdutil.WorkerFlags)
	},
	RunE: runGenerate,
}

func init() {
	flags := Cmd.Flags()

	flags.String("type", "", "Model type: text-to-image, text-to-audio, text-to-video or text-generation")
	flags.String("prompt", "", "Prompt text")
	flags.StringArray("param", nil, "Model parameter as key=value, repeatable. Values are parsed as JSON when possible")
	flags.String("model", "", "Model name, defaults to the worker's first model of the type")
	flags.String("lora", "", "LoRA adapter name")
	flags.Bool("wait", false, "Show progress and print the full job when it finishes")
	flags.Duration("timeout", 0, "Give up after this long, zero waits forever")

	cmdutil.AddWorkerFlags(flags)

	Cmd.MarkFlagRequired("type")
	Cmd.MarkFlagRequired("prompt")
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	modelType, _ := flags.GetString("type")
	prompt, _ := flags.GetString("prompt")
	rawParams, _ := flags.GetStringArray("param")
	model, _ := flags.GetString("model")
	lora, _ := flags.GetString("lora")
	wait, _ := flags.GetBool("wait")
	timeout, _ := flags.GetDuration("timeout")

	params, err := ParseParams(rawParams)
	if err != nil {
		return err
	}

	app, err := cmdutil.NewApp(app.WithDBInitialization())
	if err != nil {
		return err
	}
	defer app.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	o := app.Orchestrator()
	id, err := o.Generate(&types.GenerationRequest{
		ModelType:  modelType,
		Prompt:     prompt,
		Parameters: params,
		ModelName:  model,
		LoraName:   lora,
	})
	if err != nil {
		return err
	}

	if !wait {
		job, err := waitQuietly(ctx, o, id)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s\n", job.GenerationID, job.Status)
		return jobError(job)
	}

	job, err := waitWithSpinner(ctx, o, id)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(job); err != nil {
		return err
	}
	return jobError(job)
}

func waitQuietly(ctx context.Context, o *orchestrator.Orchestrator, id string) (types.Job, error) {
	job, err := o.Wait(ctx, id)
	if err != nil {
		o.Cancel(context.Background(), id) //nolint:errcheck
	}
	return job, err
}

func waitWithSpinner(ctx context.Context, o *orchestrator.Orchestrator, id string) (types.Job, error) {
	progress := mpb.New(
		mpb.WithOutput(os.Stderr),
		mpb.WithWidth(16),
		mpb.WithRefreshRate(150*time.Millisecond),
	)

	bar := progress.New(0, mpb.SpinnerStyle(),
		mpb.PrependDecorators(
			decor.Name(id, decor.WC{W: len(id) + 1, C: decor.DidentRight}),
			decor.Any(func(decor.Statistics) string {
				job, err := o.Status(ctx, id)
				if err != nil {
					return "UNKNOWN"
				}
				return string(job.Status)
			}, decor.WC{W: 10, C: decor.DidentRight}),
		),
		mpb.AppendDecorators(decor.Elapsed(decor.ET_STYLE_GO)),
	)

	job, err := waitQuietly(ctx, o, id)
	if err != nil || job.Status != types.JobStatusCompleted {
		bar.Abort(false)
	} else {
		bar.SetTotal(-1, true)
	}
	progress.Wait()

	return job, err
}

func jobError(job types.Job) error {
	switch job.Status {
	case types.JobStatusCompleted:
		return nil
	case types.JobStatusCancelled:
		return fmt.Errorf("generation %s was cancelled", job.GenerationID)
	}

	message := job.ErrorKind
	if job.Result != nil && job.Result.Error != "" {
		message = job.Result.Error
	}
	return fmt.Errorf("generation %s failed: %s", job.GenerationID, message)
}

// ParseParams turns key=value pairs into a parameter map. Values that are
// valid JSON keep their JSON type, anything else is a string.
func ParseParams(pairs []string) (map[string]any, error) {
	params := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q, expected key=value", pair)
		}

		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		params[key] = value
	}

	return params, nil
}
