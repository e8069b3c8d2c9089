package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentSource identifies the rail a payment arrived on
type PaymentSource string

const (
	PaymentSourceOnChain PaymentSource = "on_chain"
	PaymentSourceFiat    PaymentSource = "fiat"
)

// PaymentRecord is the canonical ledger entry for one payment, regardless of
// channel. Records are keyed by TransactionID (an on-chain tx hash or a
// payment-processor capture id); re-ingestion of the same id is an upsert.
type PaymentRecord struct {
	TransactionID  string              `json:"transaction_id" db:"transaction_id"`
	Source         PaymentSource       `json:"source" db:"source"`
	EventType      *string             `json:"event_type,omitempty" db:"event_type"`
	BuyerWallet    *string             `json:"buyer_wallet,omitempty" db:"buyer_wallet"`
	BuyerEmail     *string             `json:"buyer_email,omitempty" db:"buyer_email"`
	GrossAmount    decimal.Decimal     `json:"gross_amount" db:"gross_amount"`
	Currency       string              `json:"currency" db:"currency"`
	Description    *string             `json:"description,omitempty" db:"description"`
	TokenAmount    decimal.NullDecimal `json:"token_amount" db:"token_amount"`
	ClaimReference *string             `json:"claim_reference,omitempty" db:"claim_reference"`
	ClaimToken     *string             `json:"claim_token,omitempty" db:"claim_token"`
	ClaimExpiresAt *time.Time          `json:"claim_expires_at,omitempty" db:"claim_expires_at"`
	Claimed        bool                `json:"claimed" db:"claimed"`
	ClaimedWallet  *string             `json:"claimed_wallet,omitempty" db:"claimed_wallet"`
	Delivered      bool                `json:"delivered" db:"delivered"`
	DeliveryTxHash *string             `json:"delivery_tx_hash,omitempty" db:"delivery_tx_hash"`
	Network        *string             `json:"network,omitempty" db:"network"`
	ReceivedAt     time.Time           `json:"received_at" db:"received_at"`
}

// Wallet returns the address tokens should be delivered to: the wallet bound
// at claim time wins over the wallet captured at intake.
func (p *PaymentRecord) Wallet() string {
	if p.ClaimedWallet != nil && *p.ClaimedWallet != "" {
		return *p.ClaimedWallet
	}
	if p.BuyerWallet != nil && *p.BuyerWallet != "" {
		return *p.BuyerWallet
	}
	return ""
}

// Deliverable reports whether the record has a bound wallet and has not been
// delivered yet.
func (p *PaymentRecord) Deliverable() bool {
	return !p.Delivered && p.Wallet() != ""
}

// HasTokenAmount reports whether a positive token quantity is recorded.
func (p *PaymentRecord) HasTokenAmount() bool {
	return p.TokenAmount.Valid && p.TokenAmount.Decimal.IsPositive()
}

// ClaimView is the sanitized shape of a payment shown on the public claim
// page. It never exposes buyer identity or the raw processor event.
type ClaimView struct {
	TransactionID string              `json:"transaction_id"`
	TokenAmount   decimal.NullDecimal `json:"token_amount"`
	Currency      string              `json:"currency"`
	Claimed       bool                `json:"claimed"`
	Delivered     bool                `json:"delivered"`
	ExpiresAt     *time.Time          `json:"expires_at,omitempty"`
}

// NewClaimView builds the public view of a claimable payment.
func NewClaimView(p *PaymentRecord) ClaimView {
	return ClaimView{
		TransactionID: p.TransactionID,
		TokenAmount:   p.TokenAmount,
		Currency:      p.Currency,
		Claimed:       p.Claimed,
		Delivered:     p.Delivered,
		ExpiresAt:     p.ClaimExpiresAt,
	}
}

// TrackPurchaseRequest is a client-reported on-chain contribution.
type TrackPurchaseRequest struct {
	TxHash        string              `json:"tx_hash"`
	WalletAddress string              `json:"wallet_address"`
	EthAmount     decimal.Decimal     `json:"eth_amount"`
	TokenAmount   decimal.NullDecimal `json:"bbux_amount"`
	Network       string              `json:"network"`
}

// ClaimRedeemRequest is the body of a claim redemption.
type ClaimRedeemRequest struct {
	Wallet    string `json:"wallet"`
	Signature string `json:"signature"`
}

// IssueClaimRequest is the admin request to attach a claim token to a payment.
type IssueClaimRequest struct {
	TransactionID string `json:"transaction_id"`
	Minutes       int    `json:"minutes"`
	Email         string `json:"email,omitempty"`
}

// IssuedClaim is the result of claim issuance.
type IssuedClaim struct {
	Token     string    `json:"token"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// DeliverRequest is the admin request to deliver tokens for a payment.
type DeliverRequest struct {
	TransactionID string `json:"transaction_id"`
	To            string `json:"to"`
}

// LedgerStats summarizes the ledger for dashboards. RecentPayments carries
// raw records; only the admin surface may serialize it.
type LedgerStats struct {
	TotalPayments      int             `json:"total_payments"`
	TotalGrossETH      decimal.Decimal `json:"total_gross_eth"`
	TotalGrossFiat     decimal.Decimal `json:"total_gross_fiat"`
	TotalTokens        decimal.Decimal `json:"total_tokens"`
	UniqueContributors int             `json:"unique_contributors"`
	Delivered          int             `json:"delivered"`
	Undelivered        int             `json:"undelivered"`
	RecentPayments     []PaymentRecord `json:"recent_payments"`
}

// PublicStats is the ledger summary safe to serve without authentication.
// Recent payments are reduced to the claim view; claim tokens, emails and
// wallets never appear here, since an unclaimed token is a bearer credential.
type PublicStats struct {
	TotalPayments      int             `json:"total_payments"`
	TotalGrossETH      decimal.Decimal `json:"total_gross_eth"`
	TotalGrossFiat     decimal.Decimal `json:"total_gross_fiat"`
	TotalTokens        decimal.Decimal `json:"total_tokens"`
	UniqueContributors int             `json:"unique_contributors"`
	Delivered          int             `json:"delivered"`
	Undelivered        int             `json:"undelivered"`
	RecentPayments     []ClaimView     `json:"recent_payments"`
}

// NewPublicStats builds the sanitized stats view.
func NewPublicStats(s *LedgerStats) PublicStats {
	recent := make([]ClaimView, 0, len(s.RecentPayments))
	for i := range s.RecentPayments {
		recent = append(recent, NewClaimView(&s.RecentPayments[i]))
	}
	return PublicStats{
		TotalPayments:      s.TotalPayments,
		TotalGrossETH:      s.TotalGrossETH,
		TotalGrossFiat:     s.TotalGrossFiat,
		TotalTokens:        s.TotalTokens,
		UniqueContributors: s.UniqueContributors,
		Delivered:          s.Delivered,
		Undelivered:        s.Undelivered,
		RecentPayments:     recent,
	}
}
