package services

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bbux/presale-api/internal/config"
	"github.com/bbux/presale-api/internal/models"
)

// Pricing errors
var (
	ErrNoActiveStage = errors.New("no active presale stage")
	ErrBelowMinimum  = errors.New("contribution below minimum")
	ErrAboveMaximum  = errors.New("contribution above maximum")
)

// tokenPrecision is the number of decimal places carried by token quantities.
// Division is rounded at a fixed precision so repeated quotes are
// reproducible bit-for-bit.
const tokenPrecision = 18

// PricingService computes the active stage and token quantities from the
// static stage table. It is a pure function of wall-clock time and config;
// it never mutates state.
type PricingService struct {
	stages    []models.PresaleStage
	min       decimal.Decimal
	max       decimal.Decimal
	quoteRate decimal.Decimal // fiat units per ETH
}

// NewPricingService creates a new PricingService from the configured stage table
func NewPricingService(cfg config.PresaleConfig) *PricingService {
	stages := make([]models.PresaleStage, 0, len(cfg.Stages))
	for _, sc := range cfg.Stages {
		stages = append(stages, models.PresaleStage{
			ID:            sc.ID,
			StartTime:     sc.Start,
			EndTime:       sc.End,
			PricePerToken: sc.PricePerToken,
			Allocation:    sc.Allocation,
		})
	}

	return &PricingService{
		stages:    stages,
		min:       cfg.MinContribution,
		max:       cfg.MaxContribution,
		quoteRate: cfg.EthQuoteRate,
	}
}

// ActiveStage returns the stage whose window contains now, or nil. Stages are
// contiguous and non-overlapping, so at most one matches.
func (s *PricingService) ActiveStage(now time.Time) *models.PresaleStage {
	for i := range s.stages {
		if s.stages[i].Contains(now) {
			return &s.stages[i]
		}
	}
	return nil
}

// UpcomingStage returns the next stage starting after now, falling back to the
// first stage. Used for display only; purchases are refused outside a window.
func (s *PricingService) UpcomingStage(now time.Time) *models.PresaleStage {
	for i := range s.stages {
		if now.Before(s.stages[i].StartTime) {
			return &s.stages[i]
		}
	}
	if len(s.stages) == 0 {
		return nil
	}
	return &s.stages[0]
}

// NextStage returns the stage following the given stage id, or nil.
func (s *PricingService) NextStage(afterID int) *models.PresaleStage {
	for i := range s.stages {
		if s.stages[i].ID > afterID {
			return &s.stages[i]
		}
	}
	return nil
}

// TokensFor computes contribution / pricePerToken under decimal arithmetic.
func (s *PricingService) TokensFor(contribution decimal.Decimal, stage *models.PresaleStage) decimal.Decimal {
	return contribution.DivRound(stage.PricePerToken, tokenPrecision)
}

// ValidateContribution rejects amounts outside the configured per-transaction
// bounds. Called before any state mutation.
func (s *PricingService) ValidateContribution(amount decimal.Decimal) error {
	if amount.LessThan(s.min) {
		return ErrBelowMinimum
	}
	if amount.GreaterThan(s.max) {
		return ErrAboveMaximum
	}
	return nil
}

// Quote prices an ETH contribution at the stage active at now. Returns
// ErrNoActiveStage outside every stage window.
func (s *PricingService) Quote(now time.Time, amount decimal.Decimal) (*models.Quote, error) {
	if err := s.ValidateContribution(amount); err != nil {
		return nil, err
	}

	stage := s.ActiveStage(now)
	if stage == nil {
		return nil, ErrNoActiveStage
	}

	return &models.Quote{
		StageID:     stage.ID,
		Price:       stage.PricePerToken,
		TokenAmount: s.TokensFor(amount, stage),
	}, nil
}

// QuoteFiat prices a fiat gross amount by converting it to ETH at the
// configured quote rate first. Used by intake when the processor event does
// not carry a token quantity.
func (s *PricingService) QuoteFiat(now time.Time, gross decimal.Decimal) (*models.Quote, error) {
	if s.quoteRate.IsZero() {
		return nil, ErrNoActiveStage
	}
	eth := gross.DivRound(s.quoteRate, tokenPrecision)
	return s.Quote(now, eth)
}

// TokensByStage sums recorded token amounts per stage, bucketed by when each
// payment was received. Display only; nothing gates on these totals.
func (s *PricingService) TokensByStage(records []models.PaymentRecord) map[int]decimal.Decimal {
	sold := make(map[int]decimal.Decimal, len(s.stages))
	for i := range s.stages {
		sold[s.stages[i].ID] = decimal.Zero
	}

	for _, rec := range records {
		if !rec.TokenAmount.Valid {
			continue
		}
		for i := range s.stages {
			if s.stages[i].Contains(rec.ReceivedAt) {
				sold[s.stages[i].ID] = sold[s.stages[i].ID].Add(rec.TokenAmount.Decimal)
				break
			}
		}
	}

	return sold
}

// StageInfo returns the public schedule view for the presale widget.
func (s *PricingService) StageInfo(now time.Time) models.StageInfo {
	info := models.StageInfo{ServerTime: now}

	if active := s.ActiveStage(now); active != nil {
		info.Active = true
		info.Stage = active
		info.NextStage = s.NextStage(active.ID)
		return info
	}

	info.Stage = s.UpcomingStage(now)
	if info.Stage != nil {
		info.NextStage = s.NextStage(info.Stage.ID)
	}
	return info
}
