// Package analytics builds the usage report served by /api/analytics.
package analytics

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/chatd/internal/storage"
)

const (
	DefaultDays    = 7
	topCitiesLimit = 10
)

// Source is the read side of the store the report is built from.
type Source interface {
	CountersSince(ctx context.Context, day string) ([]storage.Counter, error)
	CountTurnsSince(ctx context.Context, since time.Time) (int, error)
	CountConnectionsSince(ctx context.Context, since time.Time) (int, error)
	TopCitiesSince(ctx context.Context, since time.Time, limit int) ([]storage.CityCount, error)
}

type Summary struct {
	TotalConversations int                 `json:"totalConversations"`
	TotalConnections   int                 `json:"totalConnections"`
	TopCities          []storage.CityCount `json:"topCities"`
}

type Report struct {
	// Analytics holds the daily counters, newest day first.
	Analytics []storage.Counter `json:"analytics"`
	Summary   Summary           `json:"summary"`
}

type Reporter struct {
	src Source
	now func() time.Time
}

func NewReporter(src Source) *Reporter {
	return &Reporter{src: src, now: time.Now}
}

// Report covers the last days days. Non-positive values use DefaultDays.
// The four queries run concurrently; the first failure cancels the rest.
func (r *Reporter) Report(ctx context.Context, days int) (Report, error) {
	if days <= 0 {
		days = DefaultDays
	}
	since := r.now().UTC().AddDate(0, 0, -days)

	var rep Report
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		counters, err := r.src.CountersSince(gCtx, since.Format(storage.DayLayout))
		if err != nil {
			return fmt.Errorf("reading counters: %w", err)
		}
		rep.Analytics = counters
		return nil
	})
	g.Go(func() error {
		n, err := r.src.CountTurnsSince(gCtx, since)
		if err != nil {
			return fmt.Errorf("counting conversations: %w", err)
		}
		rep.Summary.TotalConversations = n
		return nil
	})
	g.Go(func() error {
		n, err := r.src.CountConnectionsSince(gCtx, since)
		if err != nil {
			return fmt.Errorf("counting connections: %w", err)
		}
		rep.Summary.TotalConnections = n
		return nil
	})
	g.Go(func() error {
		cities, err := r.src.TopCitiesSince(gCtx, since, topCitiesLimit)
		if err != nil {
			return fmt.Errorf("ranking cities: %w", err)
		}
		rep.Summary.TopCities = cities
		return nil
	})

	if err := g.Wait(); err != nil {
		return Report{}, err
	}
	if rep.Analytics == nil {
		rep.Analytics = []storage.Counter{}
	}
	if rep.Summary.TopCities == nil {
		rep.Summary.TopCities = []storage.CityCount{}
	}
	return rep, nil
}
