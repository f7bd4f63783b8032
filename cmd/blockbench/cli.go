package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"blockbench/pkg/bench"
	"blockbench/pkg/envconfig"
	"blockbench/pkg/format"
	"blockbench/pkg/logutil"
	"blockbench/pkg/model"
	"blockbench/pkg/progress"
	"blockbench/pkg/tensor"
	"blockbench/pkg/weights"
)

// NewCLI builds the blockbench command.
func NewCLI() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blockbench --config CONFIG [flags]",
		Short: "Run a single BLOOM block locally on dummy data",
		Args:  cobra.NoArgs,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Disable usage printing on errors
			cmd.SilenceUsage = true
			slog.SetDefault(logutil.NewLogger(cmd.ErrOrStderr(), envconfig.LogLevel()))
		},
		RunE: RunHandler,
	}

	// --layer_index and --layer-index name the same flag
	cmd.SetGlobalNormalizationFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	cmd.Flags().String("config", "", "Path to a config json file")
	cmd.Flags().String("state_dict", "", "Optional path to saved block state dict")
	cmd.Flags().Int("layer_index", 0, "Index of the block within the model")
	cmd.Flags().Int("num_steps", 500, "How many inference steps to run")
	cmd.Flags().String("device", "", "Run inference on this device (default cpu)")
	cmd.Flags().String("block-path", "", "The path to the Bloom block weights (.pt, .bin or .safetensors)")
	cmd.Flags().String("dtype", "bfloat16", "Precision to run the block in (float32, float16, bfloat16)")
	cmd.Flags().Uint64("seed", 0, "Seed for random weights and inputs (0 picks one from the clock)")
	cmd.Flags().Int("threads", 0, "Goroutines per kernel (default $BLOCKBENCH_NUM_THREADS or GOMAXPROCS)")
	cmd.Flags().Int("warmup", 0, "Untimed steps to run before measuring")
	cmd.Flags().Int("batch_size", 1, "Sequences decoded per step")
	cmd.Flags().Bool("quiet", false, "Do not show the progress bar")

	_ = cmd.MarkFlagRequired("config")

	return cmd
}

// RunHandler loads the block, runs the benchmark and prints the report.
func RunHandler(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	configPath, _ := flags.GetString("config")
	statePath, _ := flags.GetString("state_dict")
	blockPath, _ := flags.GetString("block-path")
	layerIndex, _ := flags.GetInt("layer_index")
	numSteps, _ := flags.GetInt("num_steps")
	deviceName, _ := flags.GetString("device")
	dtypeName, _ := flags.GetString("dtype")
	seed, _ := flags.GetUint64("seed")
	threads, _ := flags.GetInt("threads")
	warmup, _ := flags.GetInt("warmup")
	batchSize, _ := flags.GetInt("batch_size")
	quiet, _ := flags.GetBool("quiet")

	out := cmd.OutOrStdout()

	device, err := bench.ParseDevice(deviceName)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Using device %s\n", device)

	dtype, err := tensor.ParseDType(dtypeName)
	if err != nil {
		return err
	}
	if numSteps < 0 || warmup < 0 {
		return errors.New("--num_steps and --warmup must not be negative")
	}

	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	if threads <= 0 {
		threads = envconfig.Threads()
	}
	tensor.SetWorkers(threads)
	slog.Debug("settings", "seed", seed, "threads", threads, "env", envconfig.Values())

	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return err
	}

	block, err := model.NewBlock(cfg, layerIndex)
	if err != nil {
		return err
	}

	if blockPath == "" {
		blockPath = statePath
	}
	if blockPath != "" {
		fmt.Fprintf(out, "Loading block from %s\n", blockPath)
		if err := loadBlock(block, blockPath); err != nil {
			return err
		}
	} else {
		block.Initialize(seed)
	}
	block.To(dtype)

	printConfig(out, block)

	opts := bench.Options{
		Block:  block,
		Steps:  numSteps,
		Warmup: warmup,
		Batch:  batchSize,
		Seed:   seed + 1,
	}

	var p *progress.Progress
	if !quiet && !envconfig.NoProgress() {
		p = progress.NewProgress(cmd.ErrOrStderr())
		defer p.Stop()

		bar := progress.NewBar("decoding", int64(warmup+numSteps))
		p.Add(bar)
		opts.Progress = func(done, _ int) { bar.Set(int64(done)) }
	}

	result, err := bench.Run(cmd.Context(), opts)
	switch {
	case errors.Is(err, context.Canceled):
		slog.Warn("benchmark interrupted", "completed", len(result.Latencies), "requested", numSteps)
	case err != nil:
		return err
	}

	if p != nil {
		p.Stop()
	}

	info, err := bench.ReadDeviceInfo(device)
	if err != nil {
		return err
	}

	return bench.WriteReport(out, bench.Report{
		Device:         info,
		Summary:        bench.Summarize(result.Latencies),
		Result:         result,
		DType:          block.DType,
		Parameters:     block.NumParameters(),
		ParameterBytes: block.ParameterBytes(),
	})
}

func loadBlock(block *model.Block, path string) error {
	sd, err := weights.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load block weights: %w", err)
	}
	slog.Debug("loaded state dict", "path", path, "tensors", len(sd), "parameters", sd.NumParameters())

	if err := block.LoadStateDict(sd); err != nil {
		return fmt.Errorf("failed to load block weights from %s: %w", path, err)
	}
	return nil
}

func printConfig(w io.Writer, block *model.Block) {
	cfg := block.Config

	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintf(w, "Block Configuration:\n")
	fmt.Fprintf(w, "  Layer Index: %d of %d\n", block.LayerIndex, cfg.NumLayers)
	fmt.Fprintf(w, "  Hidden Size: %d\n", cfg.HiddenSize)
	fmt.Fprintf(w, "  Num Heads: %d (head dim %d)\n", cfg.NumHeads, cfg.HeadDim())
	fmt.Fprintf(w, "  Post-LN Residual: %v\n", cfg.ApplyResidualConnectionPostLayernorm)
	fmt.Fprintf(w, "  DType: %s\n", block.DType)
	fmt.Fprintf(w, "  Parameters: %s (%s)\n",
		format.HumanNumber(uint64(block.NumParameters())), format.HumanBytes(block.ParameterBytes()))
	fmt.Fprintln(w, strings.Repeat("=", 50))
}
