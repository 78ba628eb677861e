package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path"
	"runtime"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v2"

	"bookcatalog/internal/importer"
	"bookcatalog/internal/logger"
	"bookcatalog/internal/service"
	"bookcatalog/internal/storage"
	"bookcatalog/internal/types"
)

func main() {
	app := &cli.App{
		Name:  "importer",
		Usage: "Seed the book catalog from an OPDS catalog feed",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (DEBUG, INFO, ERROR)",
				Value:   "INFO",
				EnvVars: []string{"LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				EnvVars: []string{"LOG_FORMAT"},
			},
			&cli.StringFlag{
				Name:     "feed",
				Aliases:  []string{"f"},
				Usage:    "URL of the root OPDS feed",
				Required: true,
				EnvVars:  []string{"IMPORT_FEED"},
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Only log the books found in the feed",
			},
			&cli.IntFlag{
				Name:  "price",
				Usage: "Price assigned to every imported book",
				Value: 0,
			},
			&cli.IntFlag{
				Name:  "max-depth",
				Usage: "How many navigation feeds deep to follow",
				Value: 3,
			},
			&cli.IntFlag{
				Name:  "max-pages",
				Usage: "Maximum number of feeds to fetch",
				Value: 100,
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Timeout of a single feed request",
				Value: 30 * time.Second,
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "PostgreSQL connection string",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:    "mongo-url",
				Usage:   "MongoDB connection string",
				EnvVars: []string{"MONGO_URL"},
			},
			&cli.StringFlag{
				Name:    "mongo-database",
				Usage:   "MongoDB database name",
				Value:   "books",
				EnvVars: []string{"MONGO_DATABASE"},
			},
			&cli.StringFlag{
				Name:    "primary",
				Usage:   "Backend of record (POSTGRES, MONGO)",
				EnvVars: []string{"PRIMARY_BACKEND"},
			},
		},
		Before: setupLogger,
		Action: importCommand,
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Import failed: " + err.Error())
		os.Exit(1)
	}
}

func setupLogger(c *cli.Context) error {
	_, thisFile, _, _ := runtime.Caller(0)

	lvl, err := logger.ParseLevel(c.String("log-level"))
	if err != nil {
		return err
	}

	_, err = logger.SetupSLog(c.String("log-format"), lvl, path.Dir(path.Dir(path.Dir(thisFile))), nil)
	return err
}

func importCommand(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	feed, err := url.Parse(c.String("feed"))
	if err != nil {
		return fmt.Errorf("invalid feed URL: %w", err)
	}

	im := &importer.Importer{
		Client:   &http.Client{Timeout: c.Duration("timeout")},
		Logger:   slog.Default(),
		Price:    c.Int("price"),
		MaxDepth: c.Int("max-depth"),
		MaxPages: c.Int("max-pages"),
	}

	if c.Bool("dry-run") {
		return im.Import(ctx, feed, &importer.LoggerConsumer{Logger: slog.Default()})
	}

	if c.String("database-url") == "" && c.String("mongo-url") == "" {
		return fmt.Errorf("nothing to import into: set --database-url or --mongo-url, or use --dry-run")
	}

	var primary types.Backend
	if p := c.String("primary"); p != "" {
		if primary, err = types.ParseBackend(p); err != nil {
			return err
		}
	}

	st, err := storage.Open(ctx, storage.Config{
		PostgresURL:   c.String("database-url"),
		MongoURL:      c.String("mongo-url"),
		MongoDatabase: c.String("mongo-database"),
		Primary:       primary,
		Logger:        slog.Default(),
	})
	if err != nil {
		return err
	}
	defer st.Close(context.Background())

	bs, err := service.New(ctx, service.Config{
		Primary:  st.Primary,
		Replicas: st.Replicas,
		Fails:    st.Fails,
		Logger:   slog.Default(),
	})
	if err != nil {
		return err
	}

	consumer := &importer.StoringConsumer{Logger: slog.Default(), Books: bs}
	err = im.Import(ctx, feed, consumer)

	slog.Info(fmt.Sprintf("Imported %d books, skipped %d", consumer.Created, consumer.Skipped))

	return err
}
