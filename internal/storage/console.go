package storage

import (
	"context"
	"log/slog"
	"time"
)

// Console is the degraded backend used when no database is configured.
// Writes are logged and dropped, reads return empty results.
type Console struct {
	logger *slog.Logger
}

var _ Backend = (*Console)(nil)

func NewConsole(logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	return &Console{logger: logger.With("storage", "console")}
}

func (c *Console) AppendTurn(_ context.Context, t Turn) error {
	c.logger.Info("conversation turn",
		"session_id", t.SessionID,
		"user_message", t.UserMessage,
		"bot_response", t.BotResponse,
		"city", t.Origin.City,
	)
	return nil
}

func (c *Console) ListTurns(context.Context, string, int) ([]Turn, error) {
	return []Turn{}, nil
}

func (c *Console) RecentTurns(context.Context, string, int) ([]Turn, error) {
	return []Turn{}, nil
}

func (c *Console) CountTurnsSince(context.Context, time.Time) (int, error) {
	return 0, nil
}

func (c *Console) TopCitiesSince(context.Context, time.Time, int) ([]CityCount, error) {
	return []CityCount{}, nil
}

func (c *Console) IncrementCounter(_ context.Context, day, eventType string, sample map[string]string) error {
	c.logger.Info("analytics event", "day", day, "type", eventType, "sample", sample)
	return nil
}

func (c *Console) CountersSince(context.Context, string) ([]Counter, error) {
	return []Counter{}, nil
}

func (c *Console) LogConnection(_ context.Context, l AccessLog) error {
	c.logger.Info("connection", "ip", l.IP, "city", l.City, "country", l.Country, "user_agent", l.UserAgent)
	return nil
}

func (c *Console) CountConnectionsSince(context.Context, time.Time) (int, error) {
	return 0, nil
}

func (c *Console) Close() error { return nil }
