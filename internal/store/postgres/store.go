package postgres

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/suwandre/arbwatch/internal/models"
	"github.com/suwandre/arbwatch/internal/store"
)

// Store implements store.Store. Exchange and asset ids are cached after the
// first lookup since they never change.
type Store struct {
	client *Client
	pool   *pgxpool.Pool

	mu        sync.RWMutex
	exchanges map[string]int64
	assets    map[string]int64
}

func NewStore(client *Client) *Store {
	return &Store{
		client:    client,
		pool:      client.Pool(),
		exchanges: make(map[string]int64),
		assets:    make(map[string]int64),
	}
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: ping: %w", err)
	}
	return nil
}

func (s *Store) Close() {
	s.client.Close()
}

func (s *Store) cached(m map[string]int64, key string) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := m[key]
	return id, ok
}

func (s *Store) remember(m map[string]int64, key string, id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m[key] = id
}

func (s *Store) EnsureExchange(ctx context.Context, name string) (int64, error) {
	name = strings.ToLower(name)
	if id, ok := s.cached(s.exchanges, name); ok {
		return id, nil
	}

	const query = `
		INSERT INTO exchanges (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`

	var id int64
	if err := s.pool.QueryRow(ctx, query, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("postgres: ensure exchange %s: %w", name, err)
	}
	s.remember(s.exchanges, name, id)
	return id, nil
}

func (s *Store) EnsureAsset(ctx context.Context, symbol string) (int64, error) {
	symbol = strings.ToUpper(symbol)
	if id, ok := s.cached(s.assets, symbol); ok {
		return id, nil
	}

	const query = `
		INSERT INTO assets (symbol) VALUES ($1)
		ON CONFLICT (symbol) DO UPDATE SET symbol = EXCLUDED.symbol
		RETURNING id`

	var id int64
	if err := s.pool.QueryRow(ctx, query, symbol).Scan(&id); err != nil {
		return 0, fmt.Errorf("postgres: ensure asset %s: %w", symbol, err)
	}
	s.remember(s.assets, symbol, id)
	return id, nil
}

func (s *Store) ids(ctx context.Context, exchange, symbol string) (int64, int64, error) {
	exID, err := s.EnsureExchange(ctx, exchange)
	if err != nil {
		return 0, 0, err
	}
	assetID, err := s.EnsureAsset(ctx, symbol)
	if err != nil {
		return 0, 0, err
	}
	return exID, assetID, nil
}

func (s *Store) SaveOrderBook(ctx context.Context, snap *models.OrderBookSnapshot) error {
	exID, assetID, err := s.ids(ctx, snap.Exchange, snap.Symbol)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO order_book_snapshots (
			exchange_id, asset_id, bids, asks, spread_pct, volume_24h, degraded, taken_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = s.pool.Exec(ctx, query,
		exID, assetID, snap.Bids, snap.Asks, snap.SpreadPct, snap.Volume24h, snap.Degraded, snap.TakenAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert order book %s/%s: %w", snap.Exchange, snap.Symbol, err)
	}
	return nil
}

func (s *Store) SaveIntraOpportunity(ctx context.Context, opp *models.IntraExchangeOpportunity) error {
	exID, assetID, err := s.ids(ctx, opp.Exchange, opp.Symbol)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO intra_opportunities (
			id, exchange_id, asset_id, spread_pct, threshold_pct, is_profitable,
			volume, best_bid, best_ask, taken_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = s.pool.Exec(ctx, query,
		opp.ID, exID, assetID, opp.SpreadPct, opp.Threshold, opp.IsProfitable,
		opp.Volume, opp.BestBid, opp.BestAsk, opp.TakenAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert intra opportunity %s: %w", opp.ID, err)
	}
	return nil
}

func (s *Store) SaveCrossOpportunity(ctx context.Context, opp *models.CrossExchangeOpportunity) error {
	fromID, assetID, err := s.ids(ctx, opp.ExchangeFrom, opp.Symbol)
	if err != nil {
		return err
	}
	toID, err := s.EnsureExchange(ctx, opp.ExchangeTo)
	if err != nil {
		return err
	}

	var buy, sell *string
	if opp.Direction != nil {
		buy, sell = &opp.Direction.Buy, &opp.Direction.Sell
	}

	const query = `
		INSERT INTO cross_opportunities (
			id, asset_id, exchange_from_id, exchange_to_id, buy_exchange, sell_exchange,
			spread_pct, threshold_pct, is_profitable, taken_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = s.pool.Exec(ctx, query,
		opp.ID, assetID, fromID, toID, buy, sell,
		opp.SpreadPct, opp.Threshold, opp.IsProfitable, opp.TakenAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert cross opportunity %s: %w", opp.ID, err)
	}
	return nil
}

func (s *Store) CreateAlert(ctx context.Context, in store.NewAlert) (*models.Alert, error) {
	exID, assetID, err := s.ids(ctx, in.Exchange, in.Symbol)
	if err != nil {
		return nil, err
	}

	metadata := in.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	alert := &models.Alert{
		ID:             uuid.NewString(),
		UserID:         in.UserID,
		Exchange:       in.Exchange,
		Symbol:         in.Symbol,
		SpreadPct:      in.SpreadPct,
		AdditionalData: metadata,
		Status:         models.AlertPending,
	}

	const query = `
		INSERT INTO alerts (id, user_id, exchange_id, asset_id, spread_pct, metadata, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`

	err = s.pool.QueryRow(ctx, query,
		alert.ID, alert.UserID, exID, assetID, alert.SpreadPct, metadata, string(alert.Status),
	).Scan(&alert.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("postgres: insert alert for user %d: %w", in.UserID, err)
	}
	return alert, nil
}

func (s *Store) UpdateAlertStatus(ctx context.Context, id string, status models.AlertStatus) error {
	tag, err := s.pool.Exec(ctx, `UPDATE alerts SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("postgres: update alert %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ActiveUsers(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM users WHERE is_active AND alerts_enabled ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active users: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan user: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list active users rows: %w", err)
	}
	return ids, nil
}

func (s *Store) UserAlertCount(ctx context.Context, userID int64, window time.Duration) (int, error) {
	const query = `
		SELECT COUNT(*) FROM alerts
		WHERE user_id = $1 AND created_at > NOW() - make_interval(secs => $2)`

	var n int
	err := s.pool.QueryRow(ctx, query, userID, window.Seconds()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count alerts for user %d: %w", userID, err)
	}
	return n, nil
}

var _ store.Store = (*Store)(nil)
