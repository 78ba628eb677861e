package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	_ "go.uber.org/automaxprocs"

	"bookcatalog/internal/logger"
	"bookcatalog/internal/metrics"
	"bookcatalog/internal/response"
	"bookcatalog/internal/server"
	"bookcatalog/internal/service"
	"bookcatalog/internal/storage"
	"bookcatalog/internal/types"
)

func getEnvOrDefault(key, default_ string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}

	return default_
}

func getBoolEnv(key string) bool {
	if val := strings.ToLower(os.Getenv(key)); val == "yes" || val == "on" || val == "true" {
		return true
	}

	return false
}

var (
	logLevel          = getEnvOrDefault("LOG_LEVEL", "info")
	logFormat         = getEnvOrDefault("LOG_FORMAT", "text")
	dbConnStr         = os.Getenv("DATABASE_URL")
	mongoConnStr      = os.Getenv("MONGO_URL")
	mongoDatabase     = getEnvOrDefault("MONGO_DATABASE", "books")
	primaryBackend    = os.Getenv("PRIMARY_BACKEND")
	bindAddr          = getEnvOrDefault("BIND_ADDR", ":8574")
	debugMode         = getBoolEnv("DEBUG_MODE")
	reconcileInterval = getEnvOrDefault("RECONCILE_INTERVAL", "1m")
	rateLimitRPS      = getEnvOrDefault("RATE_LIMIT_RPS", "0")
	rateLimitBurst    = getEnvOrDefault("RATE_LIMIT_BURST", "0")
)

func main() {
	_, thisFile, _, _ := runtime.Caller(0)

	lvl, lvlErr := logger.ParseLevel(logLevel)
	if lvlErr != nil {
		lvl = slog.LevelInfo
	}

	// Named loggers filter on their own levels, the shared handler lets everything through.
	h, err := logger.SetupSLog(logFormat, slog.LevelDebug, path.Dir(path.Dir(path.Dir(thisFile))), middleware.RequestIDKey)
	if err != nil {
		slog.Error("Invalid LOG_FORMAT: " + err.Error())
		os.Exit(1)
	}

	if lvlErr != nil {
		slog.Error("Invalid log level specified in LOG_LEVEL, one of DEBUG, INFO or ERROR expected")
		os.Exit(1)
	}

	lr := logger.NewRegistry(h, lvl, logger.RequestLogger, logger.BooksLogger)
	requestLog := lr.Logger(logger.RequestLogger)
	booksLog := lr.Logger(logger.BooksLogger)

	interval, err := time.ParseDuration(reconcileInterval)
	if err != nil {
		slog.Error("Invalid RECONCILE_INTERVAL: " + err.Error())
		os.Exit(1)
	}

	rps, err := strconv.ParseFloat(rateLimitRPS, 64)
	if err != nil {
		slog.Error("Invalid RATE_LIMIT_RPS: " + err.Error())
		os.Exit(1)
	}

	burst, err := strconv.Atoi(rateLimitBurst)
	if err != nil {
		slog.Error("Invalid RATE_LIMIT_BURST: " + err.Error())
		os.Exit(1)
	}

	var primary types.Backend
	if primaryBackend != "" {
		primary, err = types.ParseBackend(primaryBackend)
		if err != nil {
			slog.Error("Invalid PRIMARY_BACKEND: " + err.Error())
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := storage.Open(ctx, storage.Config{
		PostgresURL:   dbConnStr,
		MongoURL:      mongoConnStr,
		MongoDatabase: mongoDatabase,
		Primary:       primary,
		Logger:        booksLog,
	})
	if err != nil {
		slog.Error("Failed to open storage: " + err.Error())
		os.Exit(1)
	}
	defer st.Close(context.Background())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	bs, err := service.New(ctx, service.Config{
		Primary:  st.Primary,
		Replicas: st.Replicas,
		Fails:    st.Fails,
		Metrics:  m,
		Logger:   booksLog,
	})
	if err != nil {
		slog.Error("Failed to start book service: " + err.Error())
		os.Exit(1)
	}

	if len(st.Replicas) > 0 {
		go bs.RunReconciler(ctx, interval)
	}

	rr := &response.Responder{DebugMode: debugMode, Logger: requestLog}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(server.CountRequests())
	r.Use(server.LogRequests(requestLog, m))
	r.Use(middleware.Recoverer)
	r.Use(server.RateLimit(rps, burst, rr))

	server.Metrics(r, reg)
	r.Mount("/", server.Handler(bs, lr, rr))

	srv := &http.Server{Addr: bindAddr, Handler: r}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Graceful shutdown failed: " + err.Error())
		}
	}()

	slog.Info("Listening on "+bindAddr, slog.Any("backends", bs.Backends()))

	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		slog.Error("aborting: " + err.Error())
		os.Exit(1)
	}

	slog.Info("Server stopped")
}
