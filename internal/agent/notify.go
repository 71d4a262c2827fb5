package agent

import (
	"context"
	"log/slog"
)

// Notice is a user-facing message. Blocking notices need the user to act
// before syncing can make progress.
type Notice struct {
	Level    slog.Level
	Blocking bool
	ItemID   string
	Title    string
	Message  string
	Err      error
}

type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

// NotifierFunc adapts a function to a Notifier.
type NotifierFunc func(ctx context.Context, n Notice)

func (f NotifierFunc) Notify(ctx context.Context, n Notice) {
	f(ctx, n)
}

// LogNotifier writes notices to a logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Notify(ctx context.Context, n Notice) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}

	attrs := []any{"title", n.Title}
	if n.ItemID != "" {
		attrs = append(attrs, "item", n.ItemID)
	}
	if n.Blocking {
		attrs = append(attrs, "blocking", true)
	}
	if n.Err != nil {
		attrs = append(attrs, "error", n.Err)
	}
	logger.Log(ctx, n.Level, n.Message, attrs...)
}
