package models

import "time"

type PriceLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// Normalized order book for one symbol on one exchange.
// Bids are sorted descending by price, asks ascending.
type OrderBookSnapshot struct {
	Exchange  string       `json:"exchange"`
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	SpreadPct float64      `json:"spread_pct"`
	Volume24h *float64     `json:"volume_24h"` // nil when the book is degraded or the ticker was unavailable
	Degraded  bool         `json:"degraded"`   // empty or crossed book, spread floored
	TakenAt   time.Time    `json:"taken_at"`
}

func (s *OrderBookSnapshot) BestBid() (float64, bool) {
	if len(s.Bids) == 0 {
		return 0, false
	}
	return s.Bids[0].Price, true
}

func (s *OrderBookSnapshot) BestAsk() (float64, bool) {
	if len(s.Asks) == 0 {
		return 0, false
	}
	return s.Asks[0].Price, true
}

type IntraExchangeOpportunity struct {
	ID           string    `json:"id"`
	Symbol       string    `json:"symbol"`
	Exchange     string    `json:"exchange"`
	SpreadPct    float64   `json:"spread_pct"`
	Threshold    float64   `json:"threshold"`
	IsProfitable bool      `json:"is_profitable"`
	Volume       *float64  `json:"volume"`
	BestBid      float64   `json:"best_bid"`
	BestAsk      float64   `json:"best_ask"`
	TakenAt      time.Time `json:"taken_at"`
}

// Direction names the venue to buy on and the venue to sell on.
type Direction struct {
	Buy  string `json:"buy"`
	Sell string `json:"sell"`
}

func (d Direction) String() string {
	return "buy:" + d.Buy + "->sell:" + d.Sell
}

type CrossExchangeOpportunity struct {
	ID           string     `json:"id"`
	Symbol       string     `json:"symbol"`
	ExchangeFrom string     `json:"exchange_from"`
	ExchangeTo   string     `json:"exchange_to"`
	Direction    *Direction `json:"direction"` // nil when neither direction has a positive spread
	SpreadPct    float64    `json:"spread_pct"`
	Threshold    float64    `json:"threshold"`
	IsProfitable bool       `json:"is_profitable"`
	TakenAt      time.Time  `json:"taken_at"`
}

type AlertStatus string

const (
	AlertPending AlertStatus = "pending"
	AlertSent    AlertStatus = "sent"
	AlertFailed  AlertStatus = "failed"
)

type Alert struct {
	ID             string         `json:"id"`
	UserID         int64          `json:"user_id"`
	Exchange       string         `json:"exchange"`
	Symbol         string         `json:"symbol"`
	SpreadPct      float64        `json:"spread_pct"`
	AdditionalData map[string]any `json:"additional_data"`
	Status         AlertStatus    `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
}

type ConnectionStatus struct {
	Exchange        string    `json:"exchange"`
	IsConnected     bool      `json:"is_connected"`
	LastUpdateAt    time.Time `json:"last_update_at"`
	ErrorCount      int64     `json:"error_count"`
	LastError       string    `json:"last_error,omitempty"`
	CurrentEndpoint string    `json:"current_endpoint"`
}
