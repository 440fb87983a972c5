package shardmedia

import (
	"context"
	"log/slog"
)

// NoopEventSink is a no-operation implementation of EventSink
type NoopEventSink struct{}

// NewNoopEventSink creates a new no-operation event sink
func NewNoopEventSink() EventSink {
	return &NoopEventSink{}
}

// ObjectPlaced does nothing and returns nil
func (n *NoopEventSink) ObjectPlaced(ctx context.Context, placement *Placement) error {
	return nil
}

// ObjectRetrieved does nothing and returns nil
func (n *NoopEventSink) ObjectRetrieved(ctx context.Context, name string, fastPath bool) error {
	return nil
}

// AccountTransferred does nothing and returns nil
func (n *NoopEventSink) AccountTransferred(ctx context.Context, accountID string) error {
	return nil
}

// LoggingEventSink is an event sink that logs events but takes no other action
type LoggingEventSink struct {
	logger *slog.Logger
}

// NewLoggingEventSink creates a new logging event sink. A nil logger uses slog.Default().
func NewLoggingEventSink(logger *slog.Logger) EventSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingEventSink{logger: logger}
}

// ObjectPlaced logs the placement; remote names are deliberately omitted.
func (l *LoggingEventSink) ObjectPlaced(ctx context.Context, placement *Placement) error {
	l.logger.InfoContext(ctx, "Object placed",
		"name", placement.Record.Name,
		"account", placement.Record.AccountID,
		"sequence", placement.Sequence,
		"size", placement.Size)
	return nil
}

// ObjectRetrieved logs the retrieval
func (l *LoggingEventSink) ObjectRetrieved(ctx context.Context, name string, fastPath bool) error {
	l.logger.InfoContext(ctx, "Object retrieved", "name", name, "fast_path", fastPath)
	return nil
}

// AccountTransferred logs the transfer
func (l *LoggingEventSink) AccountTransferred(ctx context.Context, accountID string) error {
	l.logger.InfoContext(ctx, "Account staging transferred", "account", accountID)
	return nil
}
