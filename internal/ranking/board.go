// Package ranking keeps an in-memory tally of bot accesses.
package ranking

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ErrInvalidAccess is returned when an access lacks the bot id or name.
var ErrInvalidAccess = errors.New("botId and nomeBot are required")

const anonymousUser = "anonimo"

// Access is one reported visit to a bot.
type Access struct {
	BotID     string
	BotName   string
	UserID    string
	Timestamp time.Time
}

// Rank is the running tally for one bot.
type Rank struct {
	BotID      string    `json:"botId"`
	BotName    string    `json:"nomeBot"`
	Count      int       `json:"contagem"`
	LastAccess time.Time `json:"ultimoAcesso"`
}

// Board is safe for concurrent use. It lives for the process lifetime only.
type Board struct {
	mu     sync.RWMutex
	byID   map[string]*Rank
	logger *slog.Logger
	now    func() time.Time
}

func NewBoard(logger *slog.Logger) *Board {
	if logger == nil {
		logger = slog.Default()
	}
	return &Board{
		byID:   make(map[string]*Rank),
		logger: logger,
		now:    time.Now,
	}
}

// Record counts one access. The first name seen for a bot id is kept.
func (b *Board) Record(a Access) (Rank, error) {
	if a.BotID == "" || a.BotName == "" {
		return Rank{}, ErrInvalidAccess
	}
	at := a.Timestamp
	if at.IsZero() {
		at = b.now()
	}
	user := a.UserID
	if user == "" {
		user = anonymousUser
	}

	b.mu.Lock()
	r, ok := b.byID[a.BotID]
	if !ok {
		r = &Rank{BotID: a.BotID, BotName: a.BotName}
		b.byID[a.BotID] = r
	}
	r.Count++
	r.LastAccess = at.UTC()
	rank := *r
	b.mu.Unlock()

	b.logger.Debug("bot access recorded", "bot_id", a.BotID, "user_id", user, "count", rank.Count)
	return rank, nil
}

// List returns every bot, most accessed first. Ties keep bot id order.
func (b *Board) List() []Rank {
	b.mu.RLock()
	ranks := make([]Rank, 0, len(b.byID))
	for _, r := range b.byID {
		ranks = append(ranks, *r)
	}
	b.mu.RUnlock()

	sort.Slice(ranks, func(i, j int) bool {
		if ranks[i].Count != ranks[j].Count {
			return ranks[i].Count > ranks[j].Count
		}
		return ranks[i].BotID < ranks[j].BotID
	})
	return ranks
}
