package logger

import (
	"context"
	"fmt"
	"go/build"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
)

type requestNumberKey struct{}

// WithRequestNumber attaches the sequential number of the request being served,
// every record logged with the returned context carries it as request_number.
func WithRequestNumber(ctx context.Context, n uint64) context.Context {
	return context.WithValue(ctx, requestNumberKey{}, n)
}

func RequestNumber(ctx context.Context) (uint64, bool) {
	n, ok := ctx.Value(requestNumberKey{}).(uint64)
	return n, ok
}

// NewHandler builds a text or json handler which strips common prefix from file paths (rootPath param)
// and adds request_id (read from ctx under requestIdKey) and request_number to every record.
func NewHandler(w io.Writer, format string, lvl slog.Leveler, rootPath string, requestIdKey any) (slog.Handler, error) {
	ho := slog.HandlerOptions{
		Level: lvl,
	}

	var h slog.Handler
	switch format {
	case "json":
		h = slog.NewJSONHandler(w, &ho)
	case "text":
		h = slog.NewTextHandler(w, &ho)
	default:
		return nil, fmt.Errorf("log format must be json or text, got %q", format)
	}

	gopath := os.Getenv("GOPATH")
	if gopath == "" {
		gopath = build.Default.GOPATH
	}

	return &handler{
		baseHandler:  h,
		rootPath:     strings.TrimSuffix(rootPath, "/") + "/",
		goPath:       strings.TrimSuffix(gopath, "/") + "/",
		requestIdKey: requestIdKey,
	}, nil
}

// SetupSLog installs a NewHandler writing to stderr as the slog default.
func SetupSLog(format string, lvl slog.Leveler, rootPath string, requestIdKey any) (slog.Handler, error) {
	h, err := NewHandler(os.Stderr, format, lvl, rootPath, requestIdKey)
	if err != nil {
		return nil, err
	}

	slog.SetDefault(slog.New(h))

	return h, nil
}

type handler struct {
	baseHandler  slog.Handler
	rootPath     string
	goPath       string
	requestIdKey any
}

func (e *handler) Enabled(ctx context.Context, level slog.Level) bool {
	return e.baseHandler.Enabled(ctx, level)
}

func (e *handler) Handle(ctx context.Context, record slog.Record) error {
	record = record.Clone()

	if record.PC != 0 {
		fs := runtime.CallersFrames([]uintptr{record.PC})
		f, _ := fs.Next()
		file := f.File
		if strings.HasPrefix(file, e.rootPath) {
			file = file[len(e.rootPath):]
		} else if strings.HasPrefix(file, e.goPath) {
			file = file[len(e.goPath):]
		}
		record.AddAttrs(slog.Any(slog.SourceKey, &slog.Source{
			Function: f.Function,
			File:     file,
			Line:     f.Line,
		}))
	}

	if e.requestIdKey != nil {
		if requestId, ok := ctx.Value(e.requestIdKey).(string); ok {
			record.AddAttrs(slog.String("request_id", requestId))
		}
	}

	if n, ok := RequestNumber(ctx); ok {
		record.AddAttrs(slog.Uint64("request_number", n))
	}

	return e.baseHandler.Handle(ctx, record)
}

func (e *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *e
	c.baseHandler = e.baseHandler.WithAttrs(attrs)
	return &c
}

func (e *handler) WithGroup(name string) slog.Handler {
	c := *e
	c.baseHandler = e.baseHandler.WithGroup(name)
	return &c
}
