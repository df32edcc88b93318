// Package logger configures the process-wide slog logger used by every
// retention component, with optional OpenTelemetry log export.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	LevelTrace   = slog.Level(-8)
	LevelDebug   = slog.LevelDebug
	LevelInfo    = slog.LevelInfo
	LevelWarning = slog.LevelWarn
	LevelError   = slog.LevelError
	LevelFatal   = slog.Level(12)
)

var (
	Logger       *slog.Logger
	programLevel = new(slog.LevelVar)
	shutdownFunc func(context.Context) error

	// 1 in sampleRate warnings and errors are written; counters always move.
	sampleRate atomic.Int32
)

// Counters exposed through the metrics endpoint. They are incremented
// whether or not the corresponding log line was sampled.
var (
	TotalErrors     atomic.Int64
	TotalWarnings   atomic.Int64
	Total5xxErrors  atomic.Int64
	Total4xxErrors  atomic.Int64
	ConditionErrors atomic.Int64
	ActionFailures  atomic.Int64
)

// Options controls how the logger is built.
type Options struct {
	Level       slog.Level
	SampleRate  int
	OTEL        bool
	ServiceName string
	Output      io.Writer
}

// OptionsFromEnv reads LOG_LEVEL, ERROR_SAMPLE_RATE, OTEL_ENABLED and
// OTEL_SERVICE_NAME.
func OptionsFromEnv() Options {
	opts := Options{
		Level:       LevelInfo,
		SampleRate:  1,
		ServiceName: "retention",
		Output:      os.Stdout,
	}
	if lvl, err := ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		opts.Level = lvl
	}
	if rate, err := strconv.Atoi(os.Getenv("ERROR_SAMPLE_RATE")); err == nil && rate > 0 {
		opts.SampleRate = rate
	}
	opts.OTEL = strings.EqualFold(os.Getenv("OTEL_ENABLED"), "true")
	if name := os.Getenv("OTEL_SERVICE_NAME"); name != "" {
		opts.ServiceName = name
	}
	return opts
}

func init() {
	if err := Setup(context.Background(), OptionsFromEnv()); err != nil {
		fmt.Fprintf(os.Stderr, "logger setup failed, using JSON output: %v\n", err)
	}
}

// Setup (re)builds the global logger. When OTEL export cannot be configured
// it falls back to JSON output and returns the error.
func Setup(ctx context.Context, opts Options) error {
	programLevel.Set(opts.Level)
	rate := opts.SampleRate
	if rate < 1 {
		rate = 1
	}
	sampleRate.Store(int32(rate))

	if opts.OTEL {
		shutdown, err := setupOTEL(ctx, opts.ServiceName)
		if err == nil {
			shutdownFunc = shutdown
			return nil
		}
		setupJSON(opts.Output)
		return err
	}
	setupJSON(opts.Output)
	return nil
}

func setupJSON(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	Logger = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: programLevel}))
	slog.SetDefault(Logger)
}

func setupOTEL(ctx context.Context, serviceName string) (func(context.Context) error, error) {
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := otlploggrpc.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
	)

	Logger = slog.New(&levelHandler{
		level:   programLevel,
		handler: otelslog.NewHandler(serviceName, otelslog.WithLoggerProvider(provider)),
	})
	slog.SetDefault(Logger)
	return provider.Shutdown, nil
}

// levelHandler applies programLevel to handlers that have no level option.
type levelHandler struct {
	level   slog.Leveler
	handler slog.Handler
}

func (h *levelHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *levelHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.handler.Handle(ctx, r)
}

func (h *levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelHandler{level: h.level, handler: h.handler.WithAttrs(attrs)}
}

func (h *levelHandler) WithGroup(name string) slog.Handler {
	return &levelHandler{level: h.level, handler: h.handler.WithGroup(name)}
}

// Shutdown flushes the OTEL exporter, if any.
func Shutdown(ctx context.Context) error {
	if shutdownFunc != nil {
		return shutdownFunc(ctx)
	}
	return nil
}

// For returns a logger tagged with component=name.
func For(component string) *slog.Logger {
	return Logger.With("component", component)
}

// SetLevel sets the minimum log level.
func SetLevel(level slog.Level) { programLevel.Set(level) }

// GetLevel returns the minimum log level.
func GetLevel() slog.Level { return programLevel.Level() }

// ParseLevel converts a level name (TRACE..FATAL) to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return LevelTrace, nil
	case "DEBUG":
		return LevelDebug, nil
	case "", "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarning, nil
	case "ERROR":
		return LevelError, nil
	case "FATAL":
		return LevelFatal, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %s", s)
	}
}

func shouldSample() bool {
	rate := sampleRate.Load()
	if rate <= 1 {
		return true
	}
	return rand.Intn(int(rate)) == 0
}

// Info logs at info level.
func Info(msg string, args ...any) { Logger.Info(msg, args...) }

// Debug logs at debug level.
func Debug(msg string, args ...any) { Logger.Debug(msg, args...) }

// Warn counts the warning and logs it subject to sampling.
func Warn(l *slog.Logger, msg string, args ...any) {
	TotalWarnings.Add(1)
	if shouldSample() {
		orDefault(l).Warn(msg, args...)
	}
}

// Error counts the error and logs it subject to sampling.
func Error(l *slog.Logger, msg string, args ...any) {
	TotalErrors.Add(1)
	if shouldSample() {
		orDefault(l).Error(msg, args...)
	}
}

// ConditionError records a failed expression evaluation.
func ConditionError(l *slog.Logger, msg string, args ...any) {
	ConditionErrors.Add(1)
	Warn(l, msg, args...)
}

// ActionFailure records a failed begin or end action sequence.
func ActionFailure(l *slog.Logger, msg string, args ...any) {
	ActionFailures.Add(1)
	Error(l, msg, args...)
}

// HTTPStatus counts 4xx and 5xx responses.
func HTTPStatus(status int) {
	switch {
	case status >= 500:
		Total5xxErrors.Add(1)
		TotalErrors.Add(1)
	case status >= 400:
		Total4xxErrors.Add(1)
		TotalWarnings.Add(1)
	}
}

// Fatal logs at fatal level, flushes exporters and exits.
func Fatal(msg string, args ...any) {
	Logger.Log(context.Background(), LevelFatal, msg, args...)
	_ = Shutdown(context.Background())
	os.Exit(1)
}

func orDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Logger
	}
	return l
}
