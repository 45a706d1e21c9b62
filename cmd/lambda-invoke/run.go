package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/oriys/lambda-invoke/internal/awsenv"
	"github.com/oriys/lambda-invoke/internal/config"
	"github.com/oriys/lambda-invoke/internal/invoker"
	"github.com/oriys/lambda-invoke/internal/lambda"
	"github.com/oriys/lambda-invoke/internal/logging"
	"github.com/oriys/lambda-invoke/internal/metrics"
	"github.com/oriys/lambda-invoke/internal/observability"
	"github.com/oriys/lambda-invoke/internal/payload"
	"github.com/oriys/lambda-invoke/internal/pipeline"
	"github.com/oriys/lambda-invoke/internal/runtime/node"
	"github.com/spf13/cobra"
)

// accountID is the placeholder account used in the simulated function ARN.
const accountID = "000000000000"

// runFlags are the flags shared by run and config. Flags override the config
// file and environment only when set explicitly.
type runFlags struct {
	packageFolder string
	handler       string
	fileName      string
	event         string
	clientContext string
	identity      string

	nodeBin      string
	timeout      time.Duration
	functionName string
	memoryMB     int
	envVars      []string

	logLevel     string
	logFormat    string
	logFile      string
	metricsFile  string
	otelEndpoint string

	region         string
	profile        string
	awsCredentials bool
}

func (f *runFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.packageFolder, "package-folder", "", "Directory the handler runs in and the event is read from (default \"./\")")
	fl.StringVar(&f.handler, "handler", "", "Handler reference; the part after the last dot names the export (default \"handler\")")
	fl.StringVar(&f.fileName, "file-name", "", "Entry file used when no pattern is given (default \"index.js\")")
	fl.StringVar(&f.event, "event", "", "Event JSON file, relative to the package folder (default \"event.json\")")
	fl.StringVar(&f.clientContext, "client-context", "", "Client context JSON file (default \"client_context.json\")")
	fl.StringVar(&f.identity, "identity", "", "Identity JSON file (default \"identity.json\")")

	fl.StringVar(&f.nodeBin, "node", "", "Node.js binary (default \"node\")")
	fl.DurationVar(&f.timeout, "timeout", 0, "Invocation timeout (0 waits indefinitely)")
	fl.StringVar(&f.functionName, "function-name", "", "Function name exposed to the handler (default: package folder name)")
	fl.IntVar(&f.memoryMB, "memory", 0, "Memory limit in MB exposed to the handler (default 128)")
	fl.StringArrayVarP(&f.envVars, "env", "e", nil, "Environment variable for the handler (KEY=VALUE)")

	fl.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fl.StringVar(&f.logFormat, "log-format", "", "Log format: text, json")
	fl.StringVar(&f.logFile, "log-file", "", "Append a JSON invocation record to this file")
	fl.StringVar(&f.metricsFile, "metrics-file", "", "Write Prometheus metrics in text format to this file")
	fl.StringVar(&f.otelEndpoint, "otel-endpoint", "", "OTLP HTTP endpoint; enables tracing")

	fl.StringVar(&f.region, "region", "", "AWS region exported to the handler")
	fl.StringVar(&f.profile, "profile", "", "AWS shared config profile")
	fl.BoolVar(&f.awsCredentials, "aws-credentials", false, "Resolve AWS credentials and export them to the handler")
}

func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed

	if changed("package-folder") {
		cfg.Options.PackageFolder = f.packageFolder
	}
	if changed("handler") {
		cfg.Options.Handler = f.handler
	}
	if changed("file-name") {
		cfg.Options.FileName = f.fileName
	}
	if changed("event") {
		cfg.Options.Event = f.event
	}
	if changed("client-context") {
		cfg.Options.ClientContext = f.clientContext
	}
	if changed("identity") {
		cfg.Options.Identity = f.identity
	}
	if changed("node") {
		cfg.Runtime.NodeBin = f.nodeBin
	}
	if changed("timeout") {
		cfg.Runtime.Timeout = f.timeout
	}
	if changed("function-name") {
		cfg.Runtime.FunctionName = f.functionName
	}
	if changed("memory") {
		cfg.Runtime.MemoryMB = f.memoryMB
	}
	if len(f.envVars) > 0 {
		if cfg.Runtime.Env == nil {
			cfg.Runtime.Env = make(map[string]string)
		}
		for _, e := range f.envVars {
			k, v, _ := strings.Cut(e, "=")
			if k != "" {
				cfg.Runtime.Env[k] = v
			}
		}
	}
	if changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if changed("log-format") {
		cfg.Log.Format = f.logFormat
	}
	if changed("log-file") {
		cfg.Log.File = f.logFile
	}
	if changed("metrics-file") {
		cfg.Metrics.File = f.metricsFile
	}
	if changed("otel-endpoint") {
		cfg.Telemetry.Enabled = f.otelEndpoint != ""
		cfg.Telemetry.Endpoint = f.otelEndpoint
	}
	if changed("region") {
		cfg.AWS.Region = f.region
	}
	if changed("profile") {
		cfg.AWS.Profile = f.profile
	}
	if changed("aws-credentials") {
		cfg.AWS.Credentials = f.awsCredentials
	}
}

func runCmd() *cobra.Command {
	var (
		flags    runFlags
		dest     string
		noBuffer bool
		noRead   bool
	)

	cmd := &cobra.Command{
		Use:   "run [patterns...]",
		Short: "Invoke the first matched handler module",
		Long: "Expands the glob patterns (default: <package-folder>/<file-name>), invokes the " +
			"first JavaScript file with the event from the package folder and, on success, " +
			"copies it to --dest.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			flags.apply(cmd, cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sink := pipeline.Discard
			if dest != "" {
				sink = pipeline.Dest(dest)
			}
			src := pipeline.SrcOptions{Read: !noRead, Buffer: !noBuffer}
			return run(ctx, cfg, args, src, sink)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&dest, "dest", "d", "", "Directory the handler file is written to on success")
	cmd.Flags().BoolVar(&noBuffer, "no-buffer", false, "Open matched files as streams instead of reading them")
	cmd.Flags().BoolVar(&noRead, "no-read", false, "Emit matched files without contents")
	return cmd
}

func run(ctx context.Context, cfg *config.Config, patterns []string, src pipeline.SrcOptions, sink pipeline.Sink) error {
	logging.InitStructured(cfg.Log.Format, cfg.Log.Level)

	if err := observability.Init(ctx, observability.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Exporter:    cfg.Telemetry.Exporter,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: lambda.PluginName,
		SampleRate:  cfg.Telemetry.SampleRate,
	}); err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		if err := observability.Shutdown(context.Background()); err != nil {
			logging.Op().Warn("shutdown tracing", "error", err)
		}
	}()

	var pm *metrics.PrometheusMetrics
	if cfg.Metrics.File != "" {
		pm = metrics.NewPrometheus(cfg.Metrics.Namespace, nil)
		defer func() {
			if err := pm.WriteTextfile(cfg.Metrics.File); err != nil {
				logging.Op().Warn("write metrics", "path", cfg.Metrics.File, "error", err)
			}
		}()
	}

	var records *logging.RecordLog
	if cfg.Log.File != "" {
		rl, err := logging.OpenRecordLog(cfg.Log.File)
		if err != nil {
			return err
		}
		defer rl.Close()
		records = rl
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	opts := config.DefaultOptions().Merge(cfg.Options)
	workDir := payload.Resolve(cwd, opts.PackageFolder)

	awsEnv, awsCfg, err := awsenv.Resolve(ctx, awsenv.Settings{
		Region:          cfg.AWS.Region,
		Profile:         cfg.AWS.Profile,
		Credentials:     cfg.AWS.Credentials,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
		SessionToken:    cfg.AWS.SessionToken,
	})
	if err != nil {
		return err
	}

	fn := functionInfo(cfg, opts.Handler, workDir, awsCfg.Region)
	env := awsenv.LambdaEnv(awsenv.Function{
		Name:     fn.Name,
		Version:  fn.Version,
		MemoryMB: fn.MemoryMB,
		Handler:  opts.Handler,
		TaskRoot: workDir,
	}, awsCfg.Region)
	env = append(env, awsEnv...)
	env = append(env, sortedEnv(cfg.Runtime.Env)...)

	runID := uuid.New().String()[:8]
	ctx, span := observability.StartSpan(ctx, "lambda-invoke.run", observability.AttrRunID.String(runID))
	defer span.End()

	inv, err := invoker.New(ctx, cfg.Options,
		invoker.WithBaseDir(cwd),
		invoker.WithLoader(node.NewLoader(cfg.Runtime.NodeBin), "node"),
		invoker.WithFunction(fn),
		invoker.WithEnv(env...),
		invoker.WithTimeout(cfg.Runtime.Timeout),
		invoker.WithMetrics(pm),
		invoker.WithRecordLog(records),
		invoker.WithRunID(runID),
	)
	if err != nil {
		observability.SetSpanError(span, err)
		return err
	}
	span.SetAttributes(inv.Attributes()...)

	if len(patterns) == 0 {
		patterns = []string{filepath.Join(inv.WorkDir(), opts.FileName)}
	}
	files, err := pipeline.Src(patterns, src)
	if err != nil {
		observability.SetSpanError(span, err)
		return err
	}
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()

	if err := pipeline.Run(ctx, files, inv, sink); err != nil {
		observability.SetSpanError(span, err)
		return err
	}
	observability.SetSpanOK(span)
	return nil
}

// functionInfo builds the metadata shown on the handler context. The function
// name falls back to the package folder name.
func functionInfo(cfg *config.Config, handler, workDir, region string) lambda.FunctionInfo {
	name := cfg.Runtime.FunctionName
	if name == "" {
		name = filepath.Base(workDir)
	}
	return lambda.FunctionInfo{
		Name:       name,
		Version:    cfg.Runtime.FunctionVersion,
		ARN:        fmt.Sprintf("arn:aws:lambda:%s:%s:function:%s", region, accountID, name),
		MemoryMB:   cfg.Runtime.MemoryMB,
		LogGroup:   "/aws/lambda/" + name,
		HandlerRef: handler,
	}
}

func sortedEnv(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+m[k])
	}
	return env
}
