// Package store defines the persistence contract the collection cycle needs.
// Every call is an independent insert or read; nothing spans a transaction.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/suwandre/arbwatch/internal/models"
)

var ErrNotFound = errors.New("not found")

// NewAlert is what the engine hands to CreateAlert.
type NewAlert struct {
	UserID    int64
	Exchange  string
	Symbol    string
	SpreadPct float64
	Metadata  map[string]any
}

type Store interface {
	Ping(ctx context.Context) error

	EnsureExchange(ctx context.Context, name string) (int64, error)
	EnsureAsset(ctx context.Context, symbol string) (int64, error)

	SaveOrderBook(ctx context.Context, snap *models.OrderBookSnapshot) error
	SaveIntraOpportunity(ctx context.Context, opp *models.IntraExchangeOpportunity) error
	SaveCrossOpportunity(ctx context.Context, opp *models.CrossExchangeOpportunity) error

	CreateAlert(ctx context.Context, in NewAlert) (*models.Alert, error)
	UpdateAlertStatus(ctx context.Context, id string, status models.AlertStatus) error

	// ActiveUsers returns the users currently subscribed to alerts.
	ActiveUsers(ctx context.Context) ([]int64, error)
	// UserAlertCount counts alerts created for userID within the trailing window.
	UserAlertCount(ctx context.Context, userID int64, window time.Duration) (int, error)

	Close()
}
