package tools

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/kalambet/chatd/internal/storage"
	"github.com/kalambet/chatd/internal/weather"
)

const (
	NameCurrentTime = "getCurrentTime"
	NameWeather     = "getWeather"
	NameChatHistory = "getChatHistory"
)

// DefaultHistoryLimit is used when getChatHistory gets no usable limit.
const DefaultHistoryLimit = 10

// timeLayout renders times the way pt-BR locales print them.
const timeLayout = "02/01/2006, 15:04:05"

// --- getCurrentTime ---

// Clock reports the wall-clock time in a fixed location.
type Clock struct {
	loc *time.Location
	now func() time.Time
}

func NewClock(loc *time.Location) *Clock {
	if loc == nil {
		loc = time.UTC
	}
	return &Clock{loc: loc, now: time.Now}
}

func (c *Clock) Declaration() Declaration {
	return Declaration{
		Name:        NameCurrentTime,
		Description: "Returns the current date and time.",
	}
}

func (c *Clock) Call(context.Context, map[string]any, SessionContext) Result {
	return OK(map[string]string{
		"currentTime": c.now().In(c.loc).Format(timeLayout),
	})
}

// --- getWeather ---

// WeatherProvider returns current conditions for a location.
type WeatherProvider interface {
	Current(ctx context.Context, location string) (weather.Report, error)
}

type weatherArgs struct {
	Location string `json:"location"`
}

// Weather looks up current conditions for a city.
type Weather struct {
	provider WeatherProvider
}

func NewWeather(p WeatherProvider) *Weather {
	return &Weather{provider: p}
}

func (w *Weather) Declaration() Declaration {
	return Declaration{
		Name:        NameWeather,
		Description: "Returns the current weather for a given city.",
		Parameters: []Parameter{
			{Name: "location", Type: TypeString, Description: "City to get the weather for (e.g. 'Curitiba, BR').", Required: true},
		},
	}
}

func (w *Weather) Call(ctx context.Context, args map[string]any, _ SessionContext) Result {
	var a weatherArgs
	if err := decodeArgs(args, &a); err != nil {
		return Errorf("invalid arguments: location must be a string")
	}
	location := strings.TrimSpace(a.Location)
	if location == "" {
		return Errorf("location is required")
	}
	if w.provider == nil {
		return Errorf("weather lookup is not available")
	}

	report, err := w.provider.Current(ctx, location)
	if err != nil {
		var apiErr *weather.APIError
		switch {
		case errors.As(err, &apiErr) && apiErr.Message != "":
			return Errorf("%s", apiErr.Message)
		case errors.Is(err, weather.ErrNotConfigured):
			return Errorf("weather lookup is not configured")
		default:
			return Errorf("could not get the weather")
		}
	}
	return OK(report)
}

// --- getChatHistory ---

// HistoryReader returns the most recent turns of a session, oldest first.
type HistoryReader interface {
	RecentTurns(ctx context.Context, sessionID string, limit int) ([]storage.Turn, error)
}

type historyArgs struct {
	Limit *float64 `json:"limit"`
}

type historyEntry struct {
	Message   string `json:"message"`
	Response  string `json:"response"`
	Timestamp string `json:"timestamp"`
}

// History reads earlier turns of the caller's session.
type History struct {
	store HistoryReader
}

func NewHistory(store HistoryReader) *History {
	return &History{store: store}
}

func (h *History) Declaration() Declaration {
	return Declaration{
		Name:        NameChatHistory,
		Description: "Returns the user's conversation history for this session.",
		Parameters: []Parameter{
			{Name: "limit", Type: TypeNumber, Description: "Maximum number of messages to return (default 10)."},
		},
	}
}

func (h *History) Call(ctx context.Context, args map[string]any, sc SessionContext) Result {
	limit := DefaultHistoryLimit
	var a historyArgs
	if err := decodeArgs(args, &a); err == nil && a.Limit != nil && int(*a.Limit) > 0 {
		limit = int(*a.Limit)
	}

	if h.store == nil {
		return Errorf("could not get the history")
	}
	turns, err := h.store.RecentTurns(ctx, sc.SessionID, limit)
	if err != nil {
		return Errorf("could not get the history")
	}

	entries := make([]historyEntry, len(turns))
	for i, t := range turns {
		entries[i] = historyEntry{
			Message:   t.UserMessage,
			Response:  t.BotResponse,
			Timestamp: t.Timestamp.UTC().Format(time.RFC3339),
		}
	}
	return OK(map[string]any{"history": entries})
}
