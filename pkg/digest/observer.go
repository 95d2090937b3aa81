package digest

import (
	"context"
	"log/slog"
	"time"
)

// EventType names a stage of a digest run.
type EventType string

const (
	EventChannelsListed   EventType = "channels_listed"
	EventChannelStarted   EventType = "channel_started"
	EventChannelSkipped   EventType = "channel_skipped"
	EventChannelEmpty     EventType = "channel_empty"
	EventChannelCompleted EventType = "channel_completed"
	EventChannelFailed    EventType = "channel_failed"
	EventDigestCompleted  EventType = "digest_completed"
)

// Event reports progress of a digest run.
type Event struct {
	Type     EventType `json:"type"`
	RunID    string    `json:"run_id"`
	Channel  string    `json:"channel,omitempty"`
	Detail   string    `json:"detail,omitempty"`
	Count    int       `json:"count,omitempty"`
	Duration string    `json:"duration,omitempty"`
	Time     time.Time `json:"time"`
}

// Observer receives progress events. Implementations must be safe for
// concurrent use and must not block for long.
type Observer interface {
	OnEvent(ctx context.Context, e Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, e Event)

func (f ObserverFunc) OnEvent(ctx context.Context, e Event) { f(ctx, e) }

// MultiObserver fans events out to every observer in order.
type MultiObserver []Observer

func (m MultiObserver) OnEvent(ctx context.Context, e Event) {
	for _, o := range m {
		if o != nil {
			o.OnEvent(ctx, e)
		}
	}
}

// LogObserver writes events to a structured logger.
type LogObserver struct {
	logger *slog.Logger
}

// NewLogObserver returns an observer logging to logger.
func NewLogObserver(logger *slog.Logger) *LogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogObserver{logger: logger.With("component", "digest_progress")}
}

func (o *LogObserver) OnEvent(ctx context.Context, e Event) {
	level := slog.LevelInfo
	switch e.Type {
	case EventChannelFailed:
		level = slog.LevelWarn
	case EventChannelSkipped, EventChannelStarted, EventChannelEmpty:
		level = slog.LevelDebug
	}
	attrs := []any{"event", e.Type, "run_id", e.RunID}
	if e.Channel != "" {
		attrs = append(attrs, "channel", e.Channel)
	}
	if e.Detail != "" {
		attrs = append(attrs, "detail", e.Detail)
	}
	if e.Count > 0 {
		attrs = append(attrs, "count", e.Count)
	}
	if e.Duration != "" {
		attrs = append(attrs, "duration", e.Duration)
	}
	o.logger.Log(ctx, level, "digest progress", attrs...)
}
