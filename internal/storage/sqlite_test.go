package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

var ctx = context.Background()

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func appendTurns(t *testing.T, s *Store, sessionID string, n int, start time.Time) {
	t.Helper()
	for i := range n {
		turn := Turn{
			ID:          fmt.Sprintf("%s-%d", sessionID, i),
			SessionID:   sessionID,
			UserMessage: fmt.Sprintf("msg %d", i),
			BotResponse: fmt.Sprintf("resp %d", i),
			Timestamp:   start.Add(time.Duration(i) * time.Second),
		}
		if err := s.AppendTurn(ctx, turn); err != nil {
			t.Fatalf("AppendTurn(%d): %v", i, err)
		}
	}
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{"idx_conversations_session", "idx_conversations_timestamp", "idx_conversations_ip", "idx_access_logs_connection_time", "idx_analytics_type"}
	for _, idx := range indexes {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %q not found in sqlite_master", idx)
		}
	}
}

func TestAppendAndListTurns(t *testing.T) {
	s := openTestStore(t)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	appendTurns(t, s, "sess-a", 3, start)
	appendTurns(t, s, "sess-b", 2, start)

	turns, err := s.ListTurns(ctx, "sess-a", 50)
	if err != nil {
		t.Fatalf("ListTurns: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("len(turns) = %d, want 3", len(turns))
	}
	for i, turn := range turns {
		if want := fmt.Sprintf("msg %d", i); turn.UserMessage != want {
			t.Errorf("turns[%d].UserMessage = %q, want %q", i, turn.UserMessage, want)
		}
		if turn.SessionID != "sess-a" {
			t.Errorf("turns[%d].SessionID = %q, want sess-a", i, turn.SessionID)
		}
	}
	if !turns[0].Timestamp.Equal(start) {
		t.Errorf("Timestamp = %v, want %v", turns[0].Timestamp, start)
	}
	if turns[0].Origin.City != Unknown {
		t.Errorf("Origin.City = %q, want %q", turns[0].Origin.City, Unknown)
	}
}

func TestListTurns_LimitKeepsOldest(t *testing.T) {
	s := openTestStore(t)
	appendTurns(t, s, "sess", 5, time.Now().Add(-time.Hour))

	turns, err := s.ListTurns(ctx, "sess", 2)
	if err != nil {
		t.Fatalf("ListTurns: %v", err)
	}
	if len(turns) != 2 || turns[0].UserMessage != "msg 0" || turns[1].UserMessage != "msg 1" {
		t.Errorf("ListTurns(limit=2) = %+v, want msg 0, msg 1", turns)
	}
}

func TestRecentTurns_MostRecentOldestFirst(t *testing.T) {
	s := openTestStore(t)
	appendTurns(t, s, "sess", 5, time.Now().Add(-time.Hour))

	turns, err := s.RecentTurns(ctx, "sess", 3)
	if err != nil {
		t.Fatalf("RecentTurns: %v", err)
	}
	want := []string{"msg 2", "msg 3", "msg 4"}
	if len(turns) != len(want) {
		t.Fatalf("len(turns) = %d, want %d", len(turns), len(want))
	}
	for i := range want {
		if turns[i].UserMessage != want[i] {
			t.Errorf("turns[%d].UserMessage = %q, want %q", i, turns[i].UserMessage, want[i])
		}
	}
}

func TestRecentTurns_SameTimestampKeepsInsertOrder(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()
	for i := range 3 {
		turn := Turn{ID: fmt.Sprintf("t%d", i), SessionID: "sess", UserMessage: fmt.Sprintf("msg %d", i), Timestamp: now}
		if err := s.AppendTurn(ctx, turn); err != nil {
			t.Fatalf("AppendTurn: %v", err)
		}
	}

	turns, err := s.RecentTurns(ctx, "sess", 10)
	if err != nil {
		t.Fatalf("RecentTurns: %v", err)
	}
	for i, turn := range turns {
		if want := fmt.Sprintf("msg %d", i); turn.UserMessage != want {
			t.Errorf("turns[%d].UserMessage = %q, want %q", i, turn.UserMessage, want)
		}
	}
}

func TestListTurns_UnknownSessionEmpty(t *testing.T) {
	s := openTestStore(t)

	turns, err := s.ListTurns(ctx, "nope", 10)
	if err != nil {
		t.Fatalf("ListTurns: %v", err)
	}
	if turns == nil || len(turns) != 0 {
		t.Errorf("ListTurns = %v, want empty non-nil slice", turns)
	}
}

func TestIncrementCounter_CreatesWithSample(t *testing.T) {
	s := openTestStore(t)

	if err := s.IncrementCounter(ctx, "2026-03-01", EventFunctionCall, map[string]string{"functionName": "getWeather"}); err != nil {
		t.Fatalf("IncrementCounter: %v", err)
	}
	if err := s.IncrementCounter(ctx, "2026-03-01", EventFunctionCall, map[string]string{"functionName": "getCurrentTime"}); err != nil {
		t.Fatalf("IncrementCounter: %v", err)
	}

	c, err := s.GetCounter(ctx, "2026-03-01", EventFunctionCall)
	if err != nil {
		t.Fatalf("GetCounter: %v", err)
	}
	if c.Count != 2 {
		t.Errorf("Count = %d, want 2", c.Count)
	}
	if c.Sample["functionName"] != "getWeather" {
		t.Errorf("Sample[functionName] = %q, want first-seen getWeather", c.Sample["functionName"])
	}
}

func TestIncrementCounter_Concurrent(t *testing.T) {
	s := openTestStore(t)

	var wg sync.WaitGroup
	errs := make(chan error, 100)
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.IncrementCounter(ctx, "2026-03-01", EventMessage, nil)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("IncrementCounter: %v", err)
		}
	}

	c, err := s.GetCounter(ctx, "2026-03-01", EventMessage)
	if err != nil {
		t.Fatalf("GetCounter: %v", err)
	}
	if c.Count != 100 {
		t.Errorf("Count = %d, want 100", c.Count)
	}
}

func TestGetCounter_NotFound(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetCounter(ctx, "2026-03-01", EventMessage); err != ErrNotFound {
		t.Errorf("GetCounter error = %v, want ErrNotFound", err)
	}
}

func TestCountersSince(t *testing.T) {
	s := openTestStore(t)
	for _, day := range []string{"2026-02-20", "2026-02-27", "2026-03-01"} {
		if err := s.IncrementCounter(ctx, day, EventMessage, nil); err != nil {
			t.Fatalf("IncrementCounter: %v", err)
		}
	}

	counters, err := s.CountersSince(ctx, "2026-02-25")
	if err != nil {
		t.Fatalf("CountersSince: %v", err)
	}
	if len(counters) != 2 {
		t.Fatalf("len(counters) = %d, want 2", len(counters))
	}
	if counters[0].Day != "2026-03-01" || counters[1].Day != "2026-02-27" {
		t.Errorf("days = %q, %q, want newest first", counters[0].Day, counters[1].Day)
	}
	if counters[0].Sample != nil {
		t.Errorf("Sample = %v, want nil", counters[0].Sample)
	}
}

func TestAccessLogs(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()

	logs := []AccessLog{
		{ID: "l1", IP: "1.2.3.4", City: "Curitiba", Country: "Brasil", UserAgent: "test", ConnectionTime: now.Add(-48 * time.Hour), CreatedAt: now},
		{ID: "l2", IP: "1.2.3.5", City: "Recife", Country: "Brasil", UserAgent: "test", ConnectionTime: now, CreatedAt: now},
	}
	for _, l := range logs {
		if err := s.LogConnection(ctx, l); err != nil {
			t.Fatalf("LogConnection: %v", err)
		}
	}

	n, err := s.CountConnectionsSince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("CountConnectionsSince: %v", err)
	}
	if n != 1 {
		t.Errorf("CountConnectionsSince = %d, want 1", n)
	}
}

func TestTopCitiesSince(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()
	cities := []string{"Curitiba", "Recife", "Curitiba", "Curitiba", "Recife", "Natal"}
	for i, city := range cities {
		turn := Turn{
			ID:        fmt.Sprintf("t%d", i),
			SessionID: "sess",
			Timestamp: now,
			Origin:    Origin{IP: "1.1.1.1", City: city, Country: "Brasil"},
		}
		if err := s.AppendTurn(ctx, turn); err != nil {
			t.Fatalf("AppendTurn: %v", err)
		}
	}

	top, err := s.TopCitiesSince(ctx, now.Add(-time.Hour), 2)
	if err != nil {
		t.Fatalf("TopCitiesSince: %v", err)
	}
	want := []CityCount{{City: "Curitiba", Count: 3}, {City: "Recife", Count: 2}}
	if len(top) != len(want) {
		t.Fatalf("len(top) = %d, want %d", len(top), len(want))
	}
	for i := range want {
		if top[i] != want[i] {
			t.Errorf("top[%d] = %+v, want %+v", i, top[i], want[i])
		}
	}

	total, err := s.CountTurnsSince(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("CountTurnsSince: %v", err)
	}
	if total != len(cities) {
		t.Errorf("CountTurnsSince = %d, want %d", total, len(cities))
	}
}
