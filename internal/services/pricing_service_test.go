package services

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bbux/presale-api/internal/config"
	"github.com/bbux/presale-api/internal/models"
)

func testPresaleConfig() config.PresaleConfig {
	d := func(s string) decimal.Decimal {
		v, err := decimal.NewFromString(s)
		if err != nil {
			panic(err)
		}
		return v
	}

	return config.PresaleConfig{
		TokenSymbol:     "BBUX",
		MinContribution: d("0.0005"),
		MaxContribution: d("0.25"),
		EthQuoteRate:    d("4200"),
		ClaimTTLMinutes: 60,
		Stages: []config.StageConfig{
			{
				ID:            1,
				Start:         time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC),
				End:           time.Date(2025, 11, 30, 23, 59, 59, 0, time.UTC),
				PricePerToken: d("0.0000005"),
				Allocation:    30_000_000,
			},
			{
				ID:            2,
				Start:         time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC),
				End:           time.Date(2025, 12, 31, 23, 59, 59, 0, time.UTC),
				PricePerToken: d("0.0000006"),
				Allocation:    30_000_000,
			},
		},
	}
}

func TestActiveStageBoundaries(t *testing.T) {
	svc := NewPricingService(testPresaleConfig())

	cases := []struct {
		name string
		at   time.Time
		want int // 0 means no active stage
	}{
		{"before first stage", time.Date(2025, 10, 31, 23, 59, 59, 0, time.UTC), 0},
		{"first instant of stage 1", time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC), 1},
		{"last instant of stage 1", time.Date(2025, 11, 30, 23, 59, 59, 0, time.UTC), 1},
		{"first instant of stage 2", time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC), 2},
		{"after last stage", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stage := svc.ActiveStage(tc.at)
			if tc.want == 0 {
				if stage != nil {
					t.Fatalf("expected no active stage, got %d", stage.ID)
				}
				return
			}
			if stage == nil {
				t.Fatalf("expected stage %d, got none", tc.want)
			}
			if stage.ID != tc.want {
				t.Fatalf("expected stage %d, got %d", tc.want, stage.ID)
			}
		})
	}
}

func TestQuoteExactDivision(t *testing.T) {
	svc := NewPricingService(testPresaleConfig())
	at := time.Date(2025, 11, 15, 12, 0, 0, 0, time.UTC)

	quote, err := svc.Quote(at, decimal.RequireFromString("0.0005"))
	if err != nil {
		t.Fatalf("quote failed: %v", err)
	}

	// 0.0005 / 0.0000005 = 1000 exactly
	if !quote.TokenAmount.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("expected 1000 tokens, got %s", quote.TokenAmount)
	}
	if quote.StageID != 1 {
		t.Fatalf("expected stage 1, got %d", quote.StageID)
	}
}

func TestQuoteReproducibleRounding(t *testing.T) {
	svc := NewPricingService(testPresaleConfig())
	at := time.Date(2025, 12, 10, 0, 0, 0, 0, time.UTC)
	amount := decimal.RequireFromString("0.001")

	first, err := svc.Quote(at, amount)
	if err != nil {
		t.Fatalf("quote failed: %v", err)
	}
	second, err := svc.Quote(at, amount)
	if err != nil {
		t.Fatalf("quote failed: %v", err)
	}

	// 0.001 / 0.0000006 rounds at 18 places, identically every time
	if !first.TokenAmount.Equal(second.TokenAmount) {
		t.Fatalf("quotes differ: %s vs %s", first.TokenAmount, second.TokenAmount)
	}
	want := decimal.RequireFromString("1666.666666666666666667")
	if !first.TokenAmount.Equal(want) {
		t.Fatalf("expected %s tokens, got %s", want, first.TokenAmount)
	}
}

func TestQuoteContributionBounds(t *testing.T) {
	svc := NewPricingService(testPresaleConfig())
	at := time.Date(2025, 11, 15, 0, 0, 0, 0, time.UTC)

	if _, err := svc.Quote(at, decimal.RequireFromString("0.0004")); !errors.Is(err, ErrBelowMinimum) {
		t.Fatalf("expected ErrBelowMinimum, got %v", err)
	}
	if _, err := svc.Quote(at, decimal.RequireFromString("0.26")); !errors.Is(err, ErrAboveMaximum) {
		t.Fatalf("expected ErrAboveMaximum, got %v", err)
	}
	// Bounds are inclusive
	if _, err := svc.Quote(at, decimal.RequireFromString("0.25")); err != nil {
		t.Fatalf("max contribution should be accepted: %v", err)
	}
}

func TestQuoteOutsideEveryStage(t *testing.T) {
	svc := NewPricingService(testPresaleConfig())
	at := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)

	if _, err := svc.Quote(at, decimal.RequireFromString("0.01")); !errors.Is(err, ErrNoActiveStage) {
		t.Fatalf("expected ErrNoActiveStage, got %v", err)
	}
}

func TestQuoteFiatConvertsAtQuoteRate(t *testing.T) {
	svc := NewPricingService(testPresaleConfig())
	at := time.Date(2025, 11, 15, 0, 0, 0, 0, time.UTC)

	// 42 fiat / 4200 = 0.01 ETH; 0.01 / 0.0000005 = 20000 tokens
	quote, err := svc.QuoteFiat(at, decimal.RequireFromString("42"))
	if err != nil {
		t.Fatalf("fiat quote failed: %v", err)
	}
	if !quote.TokenAmount.Equal(decimal.NewFromInt(20000)) {
		t.Fatalf("expected 20000 tokens, got %s", quote.TokenAmount)
	}
}

func TestTokensByStage(t *testing.T) {
	svc := NewPricingService(testPresaleConfig())

	records := []models.PaymentRecord{
		{
			TransactionID: "0xa1",
			ReceivedAt:    time.Date(2025, 11, 10, 0, 0, 0, 0, time.UTC),
			TokenAmount:   decimal.NewNullDecimal(decimal.NewFromInt(1000)),
		},
		{
			TransactionID: "0xa2",
			ReceivedAt:    time.Date(2025, 11, 20, 0, 0, 0, 0, time.UTC),
			TokenAmount:   decimal.NewNullDecimal(decimal.NewFromInt(500)),
		},
		{
			TransactionID: "CAP-1",
			ReceivedAt:    time.Date(2025, 12, 5, 0, 0, 0, 0, time.UTC),
			TokenAmount:   decimal.NewNullDecimal(decimal.NewFromInt(250)),
		},
		// No token amount recorded yet, must not count.
		{
			TransactionID: "CAP-2",
			ReceivedAt:    time.Date(2025, 12, 6, 0, 0, 0, 0, time.UTC),
		},
		// Outside every stage window, must not count.
		{
			TransactionID: "0xa3",
			ReceivedAt:    time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			TokenAmount:   decimal.NewNullDecimal(decimal.NewFromInt(9999)),
		},
	}

	sold := svc.TokensByStage(records)
	if !sold[1].Equal(decimal.NewFromInt(1500)) {
		t.Fatalf("expected 1500 tokens sold in stage 1, got %s", sold[1])
	}
	if !sold[2].Equal(decimal.NewFromInt(250)) {
		t.Fatalf("expected 250 tokens sold in stage 2, got %s", sold[2])
	}
}

func TestStageInfoUpcoming(t *testing.T) {
	svc := NewPricingService(testPresaleConfig())

	info := svc.StageInfo(time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC))
	if info.Active {
		t.Fatal("no stage should be active before the schedule starts")
	}
	if info.Stage == nil || info.Stage.ID != 1 {
		t.Fatalf("expected upcoming stage 1, got %+v", info.Stage)
	}
	if info.NextStage == nil || info.NextStage.ID != 2 {
		t.Fatalf("expected next stage 2, got %+v", info.NextStage)
	}
}
