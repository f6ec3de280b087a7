// Package memory is an in-process store.Store used for dry runs and tests.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/suwandre/arbwatch/internal/models"
	"github.com/suwandre/arbwatch/internal/store"
)

type Store struct {
	mu sync.Mutex

	exchanges map[string]int64
	assets    map[string]int64

	books  []models.OrderBookSnapshot
	intra  []models.IntraExchangeOpportunity
	cross  []models.CrossExchangeOpportunity
	alerts []models.Alert

	users []int64
	now   func() time.Time

	// FailWrites makes every Save* call fail. For tests.
	FailWrites bool
}

func New(users ...int64) *Store {
	return &Store{
		exchanges: make(map[string]int64),
		assets:    make(map[string]int64),
		users:     users,
		now:       time.Now,
	}
}

// WithClock replaces the time source used for alert timestamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) Close() {}

func ensure(m map[string]int64, key string) int64 {
	if id, ok := m[key]; ok {
		return id
	}
	id := int64(len(m) + 1)
	m[key] = id
	return id
}

func (s *Store) EnsureExchange(ctx context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ensure(s.exchanges, strings.ToLower(name)), nil
}

func (s *Store) EnsureAsset(ctx context.Context, symbol string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ensure(s.assets, strings.ToUpper(symbol)), nil
}

func (s *Store) SaveOrderBook(ctx context.Context, snap *models.OrderBookSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites {
		return fmt.Errorf("memory: save order book: write failed")
	}
	s.books = append(s.books, *snap)
	return nil
}

func (s *Store) SaveIntraOpportunity(ctx context.Context, opp *models.IntraExchangeOpportunity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites {
		return fmt.Errorf("memory: save intra opportunity: write failed")
	}
	s.intra = append(s.intra, *opp)
	return nil
}

func (s *Store) SaveCrossOpportunity(ctx context.Context, opp *models.CrossExchangeOpportunity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites {
		return fmt.Errorf("memory: save cross opportunity: write failed")
	}
	s.cross = append(s.cross, *opp)
	return nil
}

func (s *Store) CreateAlert(ctx context.Context, in store.NewAlert) (*models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	alert := models.Alert{
		ID:             uuid.NewString(),
		UserID:         in.UserID,
		Exchange:       in.Exchange,
		Symbol:         in.Symbol,
		SpreadPct:      in.SpreadPct,
		AdditionalData: in.Metadata,
		Status:         models.AlertPending,
		CreatedAt:      s.now(),
	}
	s.alerts = append(s.alerts, alert)
	return &alert, nil
}

func (s *Store) UpdateAlertStatus(ctx context.Context, id string, status models.AlertStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.alerts {
		if s.alerts[i].ID == id {
			s.alerts[i].Status = status
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *Store) ActiveUsers(ctx context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, len(s.users))
	copy(out, s.users)
	return out, nil
}

func (s *Store) UserAlertCount(ctx context.Context, userID int64, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	since := s.now().Add(-window)
	n := 0
	for _, a := range s.alerts {
		if a.UserID == userID && a.CreatedAt.After(since) {
			n++
		}
	}
	return n, nil
}

func (s *Store) OrderBooks() []models.OrderBookSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.OrderBookSnapshot(nil), s.books...)
}

func (s *Store) IntraOpportunities() []models.IntraExchangeOpportunity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.IntraExchangeOpportunity(nil), s.intra...)
}

func (s *Store) CrossOpportunities() []models.CrossExchangeOpportunity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.CrossExchangeOpportunity(nil), s.cross...)
}

func (s *Store) Alerts() []models.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Alert(nil), s.alerts...)
}

var _ store.Store = (*Store)(nil)
