package logger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

const (
	RequestLogger = "request-logger"
	BooksLogger   = "books-logger"
)

var (
	ErrUnknownLogger = errors.New("unknown logger")
	ErrInvalidLevel  = errors.New("invalid log level")
)

// Registry holds named loggers sharing one handler, each with a level adjustable at runtime.
type Registry struct {
	mu      sync.RWMutex
	base    slog.Handler
	loggers map[string]*named
}

type named struct {
	level  *slog.LevelVar
	logger *slog.Logger
}

// NewRegistry creates the given loggers at lvl. The base handler is expected to let
// every level through, filtering is done per logger.
func NewRegistry(base slog.Handler, lvl slog.Level, names ...string) *Registry {
	r := &Registry{base: base, loggers: make(map[string]*named, len(names))}
	for _, name := range names {
		r.add(name, lvl)
	}

	return r
}

func (r *Registry) add(name string, lvl slog.Level) *named {
	n := &named{level: new(slog.LevelVar)}
	n.level.Set(lvl)
	n.logger = slog.New(&levelHandler{level: n.level, h: r.base}).With(slog.String("logger", name))
	r.loggers[name] = n

	return n
}

// Logger returns the named logger, creating it at info level when unknown.
func (r *Registry) Logger(name string) *slog.Logger {
	r.mu.RLock()
	n, ok := r.loggers[name]
	r.mu.RUnlock()
	if ok {
		return n.logger
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if n, ok = r.loggers[name]; !ok {
		n = r.add(name, slog.LevelInfo)
	}

	return n.logger
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.loggers))
	for name := range r.loggers {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

func (r *Registry) Level(name string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.loggers[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownLogger, name)
	}

	return LevelName(n.level.Level()), nil
}

// SetLevel accepts DEBUG, INFO or ERROR in any case and returns the level now in effect.
func (r *Registry) SetLevel(name, level string) (string, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return "", err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.loggers[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownLogger, name)
	}

	n.level.Set(lvl)

	return LevelName(lvl), nil
}

func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("%w: %q, one of DEBUG, INFO or ERROR expected", ErrInvalidLevel, s)
	}
}

func LevelName(lvl slog.Level) string {
	switch {
	case lvl <= slog.LevelDebug:
		return "DEBUG"
	case lvl <= slog.LevelInfo:
		return "INFO"
	case lvl <= slog.LevelWarn:
		return "WARN"
	default:
		return "ERROR"
	}
}

type levelHandler struct {
	level slog.Leveler
	h     slog.Handler
}

func (l *levelHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= l.level.Level() && l.h.Enabled(ctx, level)
}

func (l *levelHandler) Handle(ctx context.Context, record slog.Record) error {
	return l.h.Handle(ctx, record)
}

func (l *levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelHandler{level: l.level, h: l.h.WithAttrs(attrs)}
}

func (l *levelHandler) WithGroup(name string) slog.Handler {
	return &levelHandler{level: l.level, h: l.h.WithGroup(name)}
}
