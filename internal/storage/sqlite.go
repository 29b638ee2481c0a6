package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store wraps a SQLite database with methods for conversations, analytics and access logs.
type Store struct {
	db *sql.DB
}

var _ Backend = (*Store)(nil)

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "chatd.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Conversations ---

func (s *Store) AppendTurn(ctx context.Context, t Turn) error {
	o := t.Origin.WithDefaults()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, session_id, user_message, bot_response, ip_address, city, country, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SessionID, t.UserMessage, t.BotResponse, o.IP, o.City, o.Country, formatTime(t.Timestamp),
	)
	return err
}

// ListTurns returns the first limit turns of a session, oldest first.
func (s *Store) ListTurns(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, user_message, bot_response, ip_address, city, country, timestamp
		FROM conversations WHERE session_id = ?
		ORDER BY timestamp ASC, rowid ASC LIMIT ?`, sessionID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTurns(rows)
}

// RecentTurns returns the limit most recent turns of a session, oldest first.
func (s *Store) RecentTurns(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, user_message, bot_response, ip_address, city, country, timestamp
		FROM conversations WHERE session_id = ?
		ORDER BY timestamp DESC, rowid DESC LIMIT ?`, sessionID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	turns, err := scanTurns(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

func (s *Store) CountTurnsSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM conversations WHERE timestamp >= ?", formatTime(since)).Scan(&n)
	return n, err
}

// TopCitiesSince groups turns by origin city, most frequent first.
func (s *Store) TopCitiesSince(ctx context.Context, since time.Time, limit int) ([]CityCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT city, COUNT(*) AS n FROM conversations
		WHERE timestamp >= ?
		GROUP BY city ORDER BY n DESC, city ASC LIMIT ?`, formatTime(since), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cities := []CityCount{}
	for rows.Next() {
		var c CityCount
		if err := rows.Scan(&c.City, &c.Count); err != nil {
			return nil, err
		}
		cities = append(cities, c)
	}
	return cities, rows.Err()
}

func scanTurns(rows *sql.Rows) ([]Turn, error) {
	turns := []Turn{}
	for rows.Next() {
		var t Turn
		var ts string
		if err := rows.Scan(&t.ID, &t.SessionID, &t.UserMessage, &t.BotResponse, &t.Origin.IP, &t.Origin.City, &t.Origin.Country, &ts); err != nil {
			return nil, err
		}
		parsed, err := parseTime(ts)
		if err != nil {
			return nil, fmt.Errorf("parsing timestamp for turn %s: %w", t.ID, err)
		}
		t.Timestamp = parsed
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// --- Analytics ---

// IncrementCounter adds one to the (day, eventType) counter, creating it on
// first use. The sample is only stored when the counter is created.
func (s *Store) IncrementCounter(ctx context.Context, day, eventType string, sample map[string]string) error {
	sampleJSON, err := marshalSample(sample)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO analytics (day, event_type, count, sample, last_updated)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(day, event_type) DO UPDATE SET
			count = count + 1,
			last_updated = excluded.last_updated`,
		day, eventType, sampleJSON, formatTime(time.Now()),
	)
	return err
}

// CountersSince returns counters for day and later, newest day first.
func (s *Store) CountersSince(ctx context.Context, day string) ([]Counter, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT day, event_type, count, sample, last_updated FROM analytics
		WHERE day >= ? ORDER BY day DESC, event_type ASC`, day,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counters := []Counter{}
	for rows.Next() {
		var c Counter
		var sampleJSON, updated string
		if err := rows.Scan(&c.Day, &c.Type, &c.Count, &sampleJSON, &updated); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(sampleJSON), &c.Sample); err != nil {
			return nil, fmt.Errorf("parsing sample for %s/%s: %w", c.Day, c.Type, err)
		}
		if len(c.Sample) == 0 {
			c.Sample = nil
		}
		if c.LastUpdated, err = parseTime(updated); err != nil {
			return nil, err
		}
		counters = append(counters, c)
	}
	return counters, rows.Err()
}

// GetCounter returns a single counter or ErrNotFound.
func (s *Store) GetCounter(ctx context.Context, day, eventType string) (Counter, error) {
	var c Counter
	var sampleJSON, updated string
	err := s.db.QueryRowContext(ctx, `
		SELECT day, event_type, count, sample, last_updated FROM analytics
		WHERE day = ? AND event_type = ?`, day, eventType,
	).Scan(&c.Day, &c.Type, &c.Count, &sampleJSON, &updated)
	if err == sql.ErrNoRows {
		return Counter{}, ErrNotFound
	}
	if err != nil {
		return Counter{}, err
	}
	if err := json.Unmarshal([]byte(sampleJSON), &c.Sample); err != nil {
		return Counter{}, err
	}
	if len(c.Sample) == 0 {
		c.Sample = nil
	}
	c.LastUpdated, err = parseTime(updated)
	return c, err
}

func marshalSample(sample map[string]string) (string, error) {
	if len(sample) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(sample)
	if err != nil {
		return "", fmt.Errorf("marshaling sample: %w", err)
	}
	return string(b), nil
}

// --- Access logs ---

func (s *Store) LogConnection(ctx context.Context, l AccessLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO access_logs (id, ip_address, city, country, user_agent, connection_time, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.IP, l.City, l.Country, l.UserAgent, formatTime(l.ConnectionTime), formatTime(l.CreatedAt),
	)
	return err
}

func (s *Store) CountConnectionsSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM access_logs WHERE connection_time >= ?", formatTime(since)).Scan(&n)
	return n, err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
