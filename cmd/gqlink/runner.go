package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/tjfontaine/gqlink/internal/adapters/config/file"
	"github.com/tjfontaine/gqlink/internal/core/domain"
	"github.com/tjfontaine/gqlink/internal/pkg/config"
	"github.com/tjfontaine/gqlink/internal/runtime"
	"github.com/tjfontaine/gqlink/internal/server"
	"github.com/tjfontaine/gqlink/internal/telemetry"
)

// QueryCmd executes one operation and prints the response.
type QueryCmd struct {
	File        string            `arg:"--file,-f,required" help:"file holding the GraphQL document (- for stdin)"`
	Vars        map[string]string `arg:"--var,separate" help:"variables as name=value; values are parsed as JSON when possible"`
	Operation   string            `arg:"--operation,-o" help:"operation to run when the document has several"`
	FetchPolicy string            `arg:"--fetch-policy" help:"cache-first, network-only or no-cache" default:"cache-first"`
	Select      string            `arg:"--select,-s" help:"print only the value at this path of the response, e.g. data.country.name"`
}

// ServeCmd runs the HTTP proxy.
type ServeCmd struct {
	Addr  string `arg:"--addr" help:"listen address (defaults to :server.port)"`
	Watch bool   `arg:"--watch" help:"rebuild the client when the config file changes"`
}

type Args struct {
	Query *QueryCmd `arg:"subcommand:query" help:"execute a single GraphQL operation"`
	Serve *ServeCmd `arg:"subcommand:serve" help:"run a GraphQL proxy over the link pipeline"`

	Config     string `arg:"--config,-c,env:GQLINK_CONFIG" help:"path to YAML config file" default:"gqlink.yaml"`
	Endpoint   string `arg:"--endpoint" help:"GraphQL endpoint (overrides config)"`
	ServerSide bool   `arg:"--server-side" help:"strip incremental delivery directives before sending"`
	LogLevel   string `arg:"--log-level" help:"debug, info, warn or error (overrides config)"`
}

func (Args) Version() string {
	return "gqlink 0.1.0"
}

// Runner carries parsed arguments to the selected subcommand.
type Runner struct {
	args Args
	out  io.Writer
}

func NewRunner(args Args, out io.Writer) Runner {
	return Runner{args: args, out: out}
}

func (r Runner) Run(ctx context.Context) error {
	cfg, err := config.Load(r.args.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	r.applyOverrides(cfg)

	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	shutdown, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	switch {
	case r.args.Query != nil:
		return r.runQuery(ctx, cfg, logger)
	case r.args.Serve != nil:
		return r.runServe(ctx, cfg, logger)
	default:
		return errors.New("no subcommand provided")
	}
}

func (r Runner) applyOverrides(cfg *config.Config) {
	if r.args.Endpoint != "" {
		cfg.Endpoint = r.args.Endpoint
	}
	if r.args.ServerSide {
		cfg.ServerSide = true
	}
	if r.args.LogLevel != "" {
		cfg.Log.Level = r.args.LogLevel
	}
}

func (r Runner) runQuery(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	cmd := r.args.Query

	document, err := readDocument(cmd.File)
	if err != nil {
		return err
	}

	client, err := runtime.NewClient(runtime.WithConfig(cfg), runtime.WithLogger(logger))
	if err != nil {
		return err
	}
	defer client.Close()

	req := domain.NewRequest(document).
		WithVariables(parseVars(cmd.Vars)).
		WithOperationName(cmd.Operation).
		WithMetadata(domain.MetaFetchPolicy, cmd.FetchPolicy)

	resp, err := client.Execute(ctx, req)
	if err != nil {
		return err
	}

	return writeResponse(r.out, resp, cmd.Select)
}

// writeResponse prints resp as indented JSON, or only the value at path.
func writeResponse(w io.Writer, resp *domain.Response, path string) error {
	if path == "" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	result := gjson.GetBytes(raw, path)
	if !result.Exists() {
		return fmt.Errorf("path %q not found in response", path)
	}
	if result.Type == gjson.String {
		_, err = fmt.Fprintln(w, result.String())
		return err
	}
	_, err = fmt.Fprintln(w, result.Raw)
	return err
}

func (r Runner) runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	client, err := runtime.NewClient(runtime.WithConfig(cfg), runtime.WithLogger(logger))
	if err != nil {
		return err
	}

	addr := r.args.Serve.Addr
	if addr == "" {
		addr = fmt.Sprintf(":%d", cfg.Server.Port)
	}
	srv := server.New(addr, client, logger)

	if r.args.Serve.Watch {
		provider, err := file.NewProvider(r.args.Config, file.WithLogger(logger))
		if err != nil {
			return err
		}
		defer provider.Close()

		err = provider.Watch(ctx, func(next *config.Config) {
			r.applyOverrides(next)
			rebuilt, err := runtime.NewClient(runtime.WithConfig(next), runtime.WithLogger(logger))
			if err != nil {
				logger.Error("failed to rebuild client", slog.String("error", err.Error()))
				return
			}
			old := srv.SwapClient(rebuilt)
			logger.Info("client rebuilt", slog.String("endpoint", next.Endpoint))
			retireClient(old, retireGrace, logger)
		})
		if err != nil {
			return fmt.Errorf("watch config: %w", err)
		}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		srv.Client().Close()
		return err
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received, stopping server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return srv.Client().Close()
}

// retireGrace outlasts the proxy's per-request timeout.
const retireGrace = server.DefaultRequestTimeout + 5*time.Second

// retireClient closes old once requests that started on it have had
// their full timeout to finish.
func retireClient(old io.Closer, grace time.Duration, logger *slog.Logger) *time.Timer {
	return time.AfterFunc(grace, func() {
		if err := old.Close(); err != nil {
			logger.Warn("failed to close previous client", slog.String("error", err.Error()))
		}
	})
}

func readDocument(path string) (string, error) {
	var (
		b   []byte
		err error
	)
	if path == "-" {
		b, err = io.ReadAll(os.Stdin)
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read document: %w", err)
	}
	return string(b), nil
}

// parseVars decodes each value as JSON, falling back to the raw string.
func parseVars(raw map[string]string) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	vars := make(map[string]any, len(raw))
	for k, v := range raw {
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err == nil {
			vars[k] = decoded
			continue
		}
		vars[k] = v
	}
	return vars
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
