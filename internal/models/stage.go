package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PresaleStage is a time-boxed pricing tier. Stages are contiguous,
// non-overlapping and ordered by ID; at most one is active at any instant.
type PresaleStage struct {
	ID            int             `json:"id"`
	StartTime     time.Time       `json:"start_time"`
	EndTime       time.Time       `json:"end_time"`
	PricePerToken decimal.Decimal `json:"price_per_token"` // ETH per token
	Allocation    int64           `json:"allocation"`      // token cap for the stage
}

// Contains reports whether t falls inside the stage's [start, end] window.
func (s *PresaleStage) Contains(t time.Time) bool {
	return !t.Before(s.StartTime) && !t.After(s.EndTime)
}

// StageInfo is the public view of the presale schedule for the widget.
type StageInfo struct {
	Stage      *PresaleStage `json:"stage,omitempty"`
	NextStage  *PresaleStage `json:"next_stage,omitempty"`
	Active     bool          `json:"active"`
	ServerTime time.Time     `json:"server_time"`
}

// QuoteRequest asks how many tokens a contribution buys right now.
type QuoteRequest struct {
	Amount decimal.Decimal `json:"amount"` // ETH
}

// Quote is the priced result of a contribution amount.
type Quote struct {
	StageID     int             `json:"stage_id"`
	Price       decimal.Decimal `json:"price_per_token"`
	TokenAmount decimal.Decimal `json:"token_amount"`
}
