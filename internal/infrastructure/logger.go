package infrastructure

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"featureflow/internal/config"
)

var (
	globalLogger     *slog.Logger
	globalLoggerOnce sync.Once

	// globalLogFile is closed by CloseLogFile
	globalLogFile *os.File
	logFileMu     sync.Mutex
)

// InitializeLogger builds the process logger once and installs it as the slog
// default. Later calls return the first logger.
func InitializeLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	var err error
	globalLoggerOnce.Do(func() {
		globalLogger, err = createLogger(cfg)
		if globalLogger != nil {
			slog.SetDefault(globalLogger)
		}
	})
	return globalLogger, err
}

// GetLogger returns the process logger, or slog.Default before initialization
func GetLogger() *slog.Logger {
	if globalLogger == nil {
		return slog.Default()
	}
	return globalLogger
}

// NewLogger builds a standalone logger without touching the global instance.
// featurectl and tests use it directly.
func NewLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	return createLogger(cfg)
}

func createLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	out, err := logOutput(cfg)
	if err != nil {
		return nil, err
	}
	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		AddSource: true,
		Level:     parseLogLevel(cfg.Level),
	})
	return slog.New(&contextHandler{Handler: handler}), nil
}

// logOutput maps logging.output to a writer. console and unknown values
// write to stdout.
func logOutput(cfg config.LoggingConfig) (io.Writer, error) {
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		return os.Stderr, nil
	case "file", "both":
		file, err := openLogFile(cfg.FilePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		setLogFile(file)
		if strings.EqualFold(cfg.Output, "both") {
			return io.MultiWriter(os.Stdout, file), nil
		}
		return file, nil
	default:
		return os.Stdout, nil
	}
}

// contextHandler stamps the trace and run IDs carried by ctx on every record
type contextHandler struct {
	slog.Handler
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if traceID := GetTraceID(ctx); traceID != "" {
		r.AddAttrs(slog.String("trace_id", traceID))
	}
	if runID := GetRunID(ctx); runID != "" {
		r.AddAttrs(slog.String("run_id", runID))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithGroup(name)}
}

// parseLogLevel accepts slog level names plus "warning"; anything else is info
func parseLogLevel(level string) slog.Level {
	if strings.EqualFold(level, "warning") {
		return slog.LevelWarn
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// CloseLogFile closes the log file opened by a file or both output
func CloseLogFile() error {
	logFileMu.Lock()
	defer logFileMu.Unlock()

	if globalLogFile == nil {
		return nil
	}
	err := globalLogFile.Close()
	globalLogFile = nil
	return err
}

// ResetLoggerForTesting drops the global logger so a test can initialize it again
func ResetLoggerForTesting() {
	_ = CloseLogFile()
	globalLogger = nil
	globalLoggerOnce = sync.Once{}
}

func setLogFile(f *os.File) {
	logFileMu.Lock()
	defer logFileMu.Unlock()
	globalLogFile = f
}

func openLogFile(filePath string) (*os.File, error) {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}
	return os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}
