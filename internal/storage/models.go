package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Unknown is recorded for origin fields the caller did not supply.
const Unknown = "unknown"

// DayLayout is the layout of counter day keys.
const DayLayout = "2006-01-02"

// Event types recorded by the analytics counters.
const (
	EventMessage      = "message"
	EventFunctionCall = "function_call"
	EventConnection   = "connection"
)

// Origin is caller-supplied metadata attached to a turn.
type Origin struct {
	IP      string `json:"ip"`
	City    string `json:"city"`
	Country string `json:"country"`
}

// WithDefaults fills empty fields with Unknown.
func (o Origin) WithDefaults() Origin {
	if o.IP == "" {
		o.IP = Unknown
	}
	if o.City == "" {
		o.City = Unknown
	}
	if o.Country == "" {
		o.Country = Unknown
	}
	return o
}

// Turn is one user message and the bot response to it.
type Turn struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"sessionId"`
	UserMessage string    `json:"userMessage"`
	BotResponse string    `json:"botResponse"`
	Timestamp   time.Time `json:"timestamp"`
	Origin      Origin    `json:"origin"`
}

// Counter is a per-day analytics counter.
type Counter struct {
	Day         string            `json:"date"`
	Type        string            `json:"type"`
	Count       int               `json:"count"`
	Sample      map[string]string `json:"sample,omitempty"`
	LastUpdated time.Time         `json:"lastUpdated"`
}

type AccessLog struct {
	ID             string    `json:"id"`
	IP             string    `json:"ipAddress"`
	City           string    `json:"city"`
	Country        string    `json:"country"`
	UserAgent      string    `json:"userAgent"`
	ConnectionTime time.Time `json:"connectionTime"`
	CreatedAt      time.Time `json:"createdAt"`
}

type CityCount struct {
	City  string `json:"city"`
	Count int    `json:"count"`
}

// Backend is the full persistence surface used by the server. SQLite, Postgres
// and the console fallback all satisfy it.
type Backend interface {
	AppendTurn(ctx context.Context, t Turn) error
	ListTurns(ctx context.Context, sessionID string, limit int) ([]Turn, error)
	RecentTurns(ctx context.Context, sessionID string, limit int) ([]Turn, error)
	CountTurnsSince(ctx context.Context, since time.Time) (int, error)
	TopCitiesSince(ctx context.Context, since time.Time, limit int) ([]CityCount, error)

	IncrementCounter(ctx context.Context, day, eventType string, sample map[string]string) error
	CountersSince(ctx context.Context, day string) ([]Counter, error)

	LogConnection(ctx context.Context, l AccessLog) error
	CountConnectionsSince(ctx context.Context, since time.Time) (int, error)

	Close() error
}
