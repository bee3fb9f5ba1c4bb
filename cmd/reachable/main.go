// Package main implements the reachable command line driver.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/715d/reachable/internal/config"
	"github.com/715d/reachable/internal/report"
	"github.com/715d/reachable/internal/rta"
	"github.com/715d/reachable/internal/telemetry"
	"github.com/715d/reachable/pkg/descriptor"
	"github.com/715d/reachable/pkg/executor"
	"github.com/715d/reachable/pkg/gotypes"
	"github.com/715d/reachable/pkg/layer"
	"github.com/715d/reachable/pkg/universe"
)

const (
	exitDeadFound = 1
	exitError     = 2
)

var (
	// Set via ldflags during build.
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

var (
	cfg        = config.Default()
	configPath string
	runID      = uuid.NewString()
	shutdown   telemetry.Shutdown
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		_ = teardown(nil, nil)
		if err.Error() != "" {
			fmt.Fprintln(os.Stderr, err.Error())
		}
		var cErr *codedError
		if errors.As(err, &cErr) {
			os.Exit(cErr.code)
		}
		os.Exit(exitError)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "reachable",
		Short: "Compute what a program can reach from its entry points",
		Long: `reachable builds a concurrent reachability universe over a program and
reports the functions and methods nothing can reach.

The program is either a set of Go packages or a YAML program model.`,
		PersistentPreRunE:  setup,
		PersistentPostRunE: teardown,
		SilenceUsage:       true,
		SilenceErrors:      true,
		Version:            version,
	}
	rootCmd.SetVersionTemplate(fmt.Sprintf("reachable version %s\n  commit: %s\n  built:  %s\n", version, gitCommit, buildTime))

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "YAML file with default settings; flags override it")
	flags.BoolVarP(&cfg.Verbose, "verbose", "v", false, "Enable verbose output")
	flags.BoolVar(&cfg.JSON, "json", false, "Output in JSON format")
	flags.BoolVar(&cfg.Profile, "profile", false, "Enable CPU and memory profiling (writes cpu.prof and mem.prof to current directory)")
	flags.IntVar(&cfg.Workers, "workers", 0, "Worker goroutines; 0 uses every CPU")
	flags.StringVar(&cfg.Metrics.Exporter, "metrics", cfg.Metrics.Exporter, "Metric exporter: none, stdout or prometheus")
	flags.StringVar(&cfg.Metrics.Path, "metrics-file", "", "File the prometheus exporter writes to")

	rootCmd.AddCommand(newAnalyzeCommand())
	return rootCmd
}

func newAnalyzeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze [packages...|model.yaml]",
		Short: "Report the unreachable functions of a program",
		Long: `analyze loads a program, computes everything reachable from its entry
points and reports what is left.

Go entry points are main, package initializers, tests (with --tests), and
functions kept alive from outside: //go:linkname, //export, assembly
references and //reachable:keep annotations. Exported API of library
packages is a root unless --strict is given.`,
		Example: `  reachable analyze ./...                     # Analyze all packages
  reachable analyze --strict ./cmd/...        # Library API is not a root
  reachable analyze model.yaml                # Analyze a program model
  reachable analyze --json . > report.json    # JSON output to file
  reachable analyze --layer-out base.db ./... # Persist the result as a layer`,
		Args: cobra.ArbitraryArgs,
		RunE: runAnalyze,
	}
	flags := cmd.Flags()
	flags.BoolVar(&cfg.Go, "go", false, "Treat the arguments as Go packages")
	flags.StringSliceVar(&cfg.BuildTags, "build-tags", nil, "Build tags to use during package loading")
	flags.BoolVar(&cfg.Tests, "tests", false, "Load test files; tests become entry points")
	flags.BoolVar(&cfg.Strict, "strict", false, "Do not treat the exported API of library packages as entry points")
	flags.BoolVar(&cfg.SkipGenerated, "skip-generated", cfg.SkipGenerated, "Skip files with generated code markers (e.g., '// Code generated')")
	flags.BoolVar(&cfg.Seal, "seal", false, "Seal the universe once the analysis finishes")
	flags.StringVar(&cfg.Layer.In, "layer-in", "", "Directory of a base layer to build on")
	flags.StringVar(&cfg.Layer.Out, "layer-out", "", "Directory to persist the finished analysis to")
	flags.StringVar(&cfg.Layer.Name, "layer-name", cfg.Layer.Name, "Name of the persisted layer")
	return cmd
}

// loadConfig reads the config file, then reapplies every flag the user set
// so flags win over the file.
func loadConfig(cmd *cobra.Command) error {
	if configPath == "" {
		return cfg.Validate()
	}
	fileCfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	// Flags are bound to the fields of cfg, so their values are captured
	// before the file overwrites them.
	set := make(map[*pflag.Flag][]string)
	cmd.Flags().Visit(func(f *pflag.Flag) {
		if f.Name == "config" {
			return
		}
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			set[f] = sv.GetSlice()
			return
		}
		set[f] = []string{f.Value.String()}
	})
	*cfg = *fileCfg
	for f, vals := range set {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			if err := sv.Replace(vals); err != nil {
				return fmt.Errorf("flag --%s: %w", f.Name, err)
			}
			continue
		}
		if err := f.Value.Set(vals[0]); err != nil {
			return fmt.Errorf("flag --%s: %w", f.Name, err)
		}
	}
	return cfg.Validate()
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		cfg.Packages = args
	}
	if len(cfg.Packages) == 0 {
		cfg.Packages = []string{"./..."}
	}

	log := slog.With("run", runID)
	start := time.Now()
	ctx := cmd.Context()

	var rep *report.Report
	var err error
	if !cfg.Go && isModelFile(cfg.Packages) {
		rep, err = analyzeModel(ctx, log, cfg.Packages[0], start)
	} else {
		rep, err = analyzeGo(ctx, log, start)
	}
	if err != nil {
		return errWithCode(fmt.Errorf("analyze: %w", err), exitError)
	}

	if cfg.JSON {
		err = report.WriteJSON(os.Stdout, rep, version, time.Now())
	} else {
		if cfg.Verbose {
			log.Info("analysis summary",
				"total_methods", rep.Stats.TotalMethods,
				"reachable_methods", rep.Stats.ReachableMethods,
				"dead_methods", rep.Stats.DeadMethods,
				"analysis_duration", rep.Stats.AnalysisDuration.String())
		}
		if len(rep.Dead) == 0 {
			log.Info("no unreachable functions found")
		}
		err = report.WriteText(os.Stdout, rep, cfg.Verbose)
	}
	if err != nil {
		return errWithCode(fmt.Errorf("format results: %w", err), exitError)
	}

	if len(rep.Dead) > 0 {
		return errWithCode(nil, exitDeadFound)
	}
	return nil
}

func isModelFile(args []string) bool {
	if len(args) != 1 {
		return false
	}
	ext := strings.ToLower(filepath.Ext(args[0]))
	return ext == ".yaml" || ext == ".yml"
}

func analyzeModel(ctx context.Context, log *slog.Logger, path string, start time.Time) (*report.Report, error) {
	log.Info("loading model", "path", path)
	model, err := descriptor.LoadModel(path)
	if err != nil {
		return nil, err
	}
	res, err := analyze(ctx, log, model)
	if err != nil {
		return nil, err
	}
	return report.FromModel(res, runID, time.Since(start)), nil
}

func analyzeGo(ctx context.Context, log *slog.Logger, start time.Time) (*report.Report, error) {
	log.Info("loading packages", "packages", cfg.Packages)
	if len(cfg.BuildTags) > 0 {
		log.Info("using build tags", "tags", cfg.BuildTags)
	}
	pkgs, err := gotypes.LoadPackages(ctx, gotypes.LoaderOptions{
		Packages:  cfg.Packages,
		BuildTags: cfg.BuildTags,
		Tests:     cfg.Tests,
	})
	if err != nil {
		return nil, fmt.Errorf("loading packages: %w", err)
	}
	prog, err := gotypes.Build(ctx, pkgs, gotypes.Options{
		Strict:        cfg.Strict,
		SkipGenerated: cfg.SkipGenerated,
		Workers:       cfg.Workers,
		Logger:        log,
	})
	if err != nil {
		return nil, fmt.Errorf("build model: %w", err)
	}
	res, err := analyze(ctx, log, prog.Model)
	if err != nil {
		return nil, err
	}
	return report.FromProgram(res, prog, cfg.Strict, runID, time.Since(start)), nil
}

// analyze runs the reachability analysis of model, building on and
// persisting layers as configured.
func analyze(ctx context.Context, log *slog.Logger, model *descriptor.Model) (*rta.Result, error) {
	opts := []universe.Option{
		universe.WithLogger(log),
		universe.WithExecutor(executor.NewPool(cfg.Workers, log)),
		universe.WithGraphProducer(rta.NewModelGraphs(model)),
	}
	if cfg.Layer.In != "" {
		base, err := layer.Open(layer.Config{Path: cfg.Layer.In, Logger: log})
		if err != nil {
			return nil, err
		}
		defer base.Close()
		opts = append(opts, universe.WithLayer(base))
	}
	u, err := universe.New(model, opts...)
	if err != nil {
		return nil, err
	}

	res, err := rta.Analyze(ctx, u, model, rta.Config{Workers: cfg.Workers, Seal: cfg.Seal, Logger: log})
	if err != nil {
		return nil, err
	}

	if cfg.Layer.Out != "" {
		out, err := layer.Open(layer.Config{Path: cfg.Layer.Out, SyncWrites: true, Logger: log})
		if err != nil {
			return nil, err
		}
		defer out.Close()
		meta := layer.Meta{Name: cfg.Layer.Name, RunID: runID, Created: time.Now().UTC()}
		if err := u.Persist(ctx, out, meta); err != nil {
			return nil, err
		}
	}
	return res, nil
}

var cpuProfile *os.File

func setup(cmd *cobra.Command, _ []string) error {
	if err := loadConfig(cmd); err != nil {
		return err
	}

	// Disable logger unless verbose flag is set.
	slog.SetDefault(slog.New(slog.DiscardHandler))
	if cfg.Verbose {
		opts := &slog.HandlerOptions{Level: slog.LevelDebug}
		var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
		if cfg.JSON {
			handler = slog.NewJSONHandler(os.Stderr, opts)
		}
		slog.SetDefault(slog.New(handler))
	}

	var err error
	shutdown, err = telemetry.Setup(cmd.Context(), cfg.Metrics, runID, version, os.Stderr)
	if err != nil {
		return err
	}

	if !cfg.Profile {
		return nil
	}

	// Start CPU profiling.
	cpuProfile, err = os.Create("cpu.prof")
	if err != nil {
		return fmt.Errorf("creating cpu.prof: %w", err)
	}
	if err := pprof.StartCPUProfile(cpuProfile); err != nil {
		_ = cpuProfile.Close()
		return fmt.Errorf("starting CPU profile: %w", err)
	}
	slog.Info("cpu profiling started", "file", "cpu.prof")
	return nil
}

func teardown(_ *cobra.Command, _ []string) error {
	if shutdown != nil {
		err := shutdown(context.Background())
		shutdown = nil
		if err != nil {
			return fmt.Errorf("flush metrics: %w", err)
		}
	}
	if !cfg.Profile || cpuProfile == nil {
		return nil
	}

	// Stop CPU profiling and close file.
	pprof.StopCPUProfile()
	defer cpuProfile.Close()
	cpuProfile = nil
	slog.Info("cpu profiling stopped", "file", "cpu.prof")

	// Write memory profile.
	memFile, err := os.Create("mem.prof")
	if err != nil {
		return fmt.Errorf("creating mem.prof: %w", err)
	}
	defer memFile.Close()
	runtime.GC() // Get up-to-date statistics
	if err := pprof.WriteHeapProfile(memFile); err != nil {
		return fmt.Errorf("writing memory profile: %w", err)
	}
	slog.Info("memory profiling completed", "file", "mem.prof")
	return nil
}

func errWithCode(err error, code int) error {
	return &codedError{err: err, code: code}
}

type codedError struct {
	err  error
	code int
}

func (e *codedError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return ""
}

func (e *codedError) Unwrap() error { return e.err }
