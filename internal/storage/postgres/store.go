// Package postgres implements the storage backend on PostgreSQL through bun.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/kalambet/chatd/internal/storage"
)

type turnRow struct {
	bun.BaseModel `bun:"table:conversations,alias:c"`

	ID          string    `bun:"id,pk"`
	SessionID   string    `bun:"session_id,notnull"`
	UserMessage string    `bun:"user_message,notnull"`
	BotResponse string    `bun:"bot_response,notnull"`
	IPAddress   string    `bun:"ip_address,notnull"`
	City        string    `bun:"city,notnull"`
	Country     string    `bun:"country,notnull"`
	Seq         int64     `bun:"seq,autoincrement"`
	Timestamp   time.Time `bun:"timestamp,notnull"`
}

type counterRow struct {
	bun.BaseModel `bun:"table:analytics,alias:a"`

	Day         string            `bun:"day,pk"`
	EventType   string            `bun:"event_type,pk"`
	Count       int               `bun:"count,notnull"`
	Sample      map[string]string `bun:"sample,type:jsonb"`
	LastUpdated time.Time         `bun:"last_updated,notnull"`
}

type accessLogRow struct {
	bun.BaseModel `bun:"table:access_logs,alias:l"`

	ID             string    `bun:"id,pk"`
	IPAddress      string    `bun:"ip_address,notnull"`
	City           string    `bun:"city,notnull"`
	Country        string    `bun:"country,notnull"`
	UserAgent      string    `bun:"user_agent,notnull"`
	ConnectionTime time.Time `bun:"connection_time,notnull"`
	CreatedAt      time.Time `bun:"created_at,notnull"`
}

// Store persists conversations, analytics and access logs in PostgreSQL.
type Store struct {
	db *bun.DB
}

var _ storage.Backend = (*Store)(nil)

// Open connects to dsn and creates tables and indexes that do not exist yet.
func Open(ctx context.Context, dsn string) (*Store, error) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := &Store{db: db}
	if err := s.createSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

func (s *Store) createSchema(ctx context.Context) error {
	models := []any{(*turnRow)(nil), (*counterRow)(nil), (*accessLogRow)(nil)}
	for _, m := range models {
		if _, err := s.db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}

	indexes := []struct {
		model   any
		name    string
		columns []string
	}{
		{(*turnRow)(nil), "idx_conversations_session", []string{"session_id", "timestamp"}},
		{(*turnRow)(nil), "idx_conversations_timestamp", []string{"timestamp"}},
		{(*turnRow)(nil), "idx_conversations_ip", []string{"ip_address"}},
		{(*accessLogRow)(nil), "idx_access_logs_connection_time", []string{"connection_time"}},
		{(*counterRow)(nil), "idx_analytics_type", []string{"event_type"}},
	}
	for _, idx := range indexes {
		q := s.db.NewCreateIndex().Model(idx.model).Index(idx.name).IfNotExists()
		for _, col := range idx.columns {
			q = q.Column(col)
		}
		if _, err := q.Exec(ctx); err != nil {
			return fmt.Errorf("index %s: %w", idx.name, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// --- Conversations ---

func (s *Store) AppendTurn(ctx context.Context, t storage.Turn) error {
	o := t.Origin.WithDefaults()
	row := &turnRow{
		ID:          t.ID,
		SessionID:   t.SessionID,
		UserMessage: t.UserMessage,
		BotResponse: t.BotResponse,
		IPAddress:   o.IP,
		City:        o.City,
		Country:     o.Country,
		Timestamp:   t.Timestamp.UTC(),
	}
	_, err := s.db.NewInsert().Model(row).ExcludeColumn("seq").Exec(ctx)
	return err
}

func (s *Store) ListTurns(ctx context.Context, sessionID string, limit int) ([]storage.Turn, error) {
	var rows []turnRow
	err := s.db.NewSelect().Model(&rows).
		Where("c.session_id = ?", sessionID).
		Order("timestamp ASC", "seq ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return toTurns(rows), nil
}

func (s *Store) RecentTurns(ctx context.Context, sessionID string, limit int) ([]storage.Turn, error) {
	var rows []turnRow
	err := s.db.NewSelect().Model(&rows).
		Where("c.session_id = ?", sessionID).
		Order("timestamp DESC", "seq DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	turns := toTurns(rows)
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

func (s *Store) CountTurnsSince(ctx context.Context, since time.Time) (int, error) {
	return s.db.NewSelect().Model((*turnRow)(nil)).Where("c.timestamp >= ?", since.UTC()).Count(ctx)
}

func (s *Store) TopCitiesSince(ctx context.Context, since time.Time, limit int) ([]storage.CityCount, error) {
	var rows []struct {
		City  string `bun:"city"`
		Count int    `bun:"n"`
	}
	err := s.db.NewSelect().Model((*turnRow)(nil)).
		ColumnExpr("city").
		ColumnExpr("COUNT(*) AS n").
		Where("c.timestamp >= ?", since.UTC()).
		Group("city").
		OrderExpr("n DESC, city ASC").
		Limit(limit).
		Scan(ctx, &rows)
	if err != nil {
		return nil, err
	}
	cities := make([]storage.CityCount, len(rows))
	for i, r := range rows {
		cities[i] = storage.CityCount{City: r.City, Count: r.Count}
	}
	return cities, nil
}

func toTurns(rows []turnRow) []storage.Turn {
	turns := make([]storage.Turn, len(rows))
	for i, r := range rows {
		turns[i] = storage.Turn{
			ID:          r.ID,
			SessionID:   r.SessionID,
			UserMessage: r.UserMessage,
			BotResponse: r.BotResponse,
			Timestamp:   r.Timestamp,
			Origin:      storage.Origin{IP: r.IPAddress, City: r.City, Country: r.Country},
		}
	}
	return turns
}

// --- Analytics ---

func (s *Store) IncrementCounter(ctx context.Context, day, eventType string, sample map[string]string) error {
	row := &counterRow{
		Day:         day,
		EventType:   eventType,
		Count:       1,
		Sample:      sample,
		LastUpdated: time.Now().UTC(),
	}
	_, err := s.db.NewInsert().Model(row).
		On("CONFLICT (day, event_type) DO UPDATE").
		Set("count = a.count + 1").
		Set("last_updated = EXCLUDED.last_updated").
		Exec(ctx)
	return err
}

func (s *Store) CountersSince(ctx context.Context, day string) ([]storage.Counter, error) {
	var rows []counterRow
	err := s.db.NewSelect().Model(&rows).
		Where("a.day >= ?", day).
		Order("day DESC", "event_type ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	counters := make([]storage.Counter, len(rows))
	for i, r := range rows {
		sample := r.Sample
		if len(sample) == 0 {
			sample = nil
		}
		counters[i] = storage.Counter{
			Day:         r.Day,
			Type:        r.EventType,
			Count:       r.Count,
			Sample:      sample,
			LastUpdated: r.LastUpdated,
		}
	}
	return counters, nil
}

// --- Access logs ---

func (s *Store) LogConnection(ctx context.Context, l storage.AccessLog) error {
	row := &accessLogRow{
		ID:             l.ID,
		IPAddress:      l.IP,
		City:           l.City,
		Country:        l.Country,
		UserAgent:      l.UserAgent,
		ConnectionTime: l.ConnectionTime.UTC(),
		CreatedAt:      l.CreatedAt.UTC(),
	}
	_, err := s.db.NewInsert().Model(row).Exec(ctx)
	return err
}

func (s *Store) CountConnectionsSince(ctx context.Context, since time.Time) (int, error) {
	return s.db.NewSelect().Model((*accessLogRow)(nil)).Where("l.connection_time >= ?", since.UTC()).Count(ctx)
}
