package logger

import (
	"context"
	"log/slog"

	"go.mongodb.org/mongo-driver/event"
)

// NewMongoMonitor logs every MongoDB command at debug level and failed ones as warnings.
func NewMongoMonitor(logger *slog.Logger) *event.CommandMonitor {
	return &event.CommandMonitor{
		Started: func(ctx context.Context, e *event.CommandStartedEvent) {
			if !logger.Enabled(ctx, slog.LevelDebug) {
				return
			}

			logger.DebugContext(ctx, "mongo: "+e.CommandName+" started",
				slog.String("db", e.DatabaseName),
				slog.Int64("mongo_request_id", e.RequestID),
				slog.String("command", e.Command.String()),
			)
		},
		Succeeded: func(ctx context.Context, e *event.CommandSucceededEvent) {
			logger.DebugContext(ctx, "mongo: "+e.CommandName+" succeeded",
				slog.Int64("mongo_request_id", e.RequestID),
				slog.Duration("duration", e.Duration),
			)
		},
		Failed: func(ctx context.Context, e *event.CommandFailedEvent) {
			logger.WarnContext(ctx, "mongo: "+e.CommandName+" failed: "+e.Failure,
				slog.Int64("mongo_request_id", e.RequestID),
				slog.Duration("duration", e.Duration),
			)
		},
	}
}
