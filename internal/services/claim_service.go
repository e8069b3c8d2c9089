package services

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/bbux/presale-api/internal/models"
	"github.com/bbux/presale-api/internal/store"
)

// Claim errors
var (
	ErrClaimNotFound  = errors.New("claim not found")
	ErrClaimExpired   = errors.New("claim expired")
	ErrAlreadyClaimed = errors.New("already claimed")
	ErrBadSignature   = errors.New("signature does not match wallet")
	ErrInvalidWallet  = errors.New("invalid wallet address")
)

// ClaimService issues and redeems claim tokens. A claim token is an opaque
// random value mailed or shown to a fiat buyer; redeeming it with a wallet
// signature binds that wallet to the payment and triggers delivery.
type ClaimService struct {
	store      store.PaymentStore
	wallets    *WalletService
	worker     *DeliveryWorker
	email      *EmailService
	events     Publisher
	logger     zerolog.Logger
	appOrigin  string
	symbol     string
	defaultTTL time.Duration
}

// NewClaimService creates a new ClaimService. worker, email and events may be
// nil.
func NewClaimService(
	paymentStore store.PaymentStore,
	wallets *WalletService,
	worker *DeliveryWorker,
	email *EmailService,
	events Publisher,
	logger zerolog.Logger,
	appOrigin, tokenSymbol string,
	ttlMinutes int,
) *ClaimService {
	if ttlMinutes <= 0 {
		ttlMinutes = 60
	}
	return &ClaimService{
		store:      paymentStore,
		wallets:    wallets,
		worker:     worker,
		email:      email,
		events:     events,
		logger:     logger.With().Str("service", "claim").Logger(),
		appOrigin:  strings.TrimSuffix(appOrigin, "/"),
		symbol:     tokenSymbol,
		defaultTTL: time.Duration(ttlMinutes) * time.Minute,
	}
}

// newClaimToken returns 128 bits from crypto/rand, hex encoded. The token is
// the only credential guarding redemption, so full entropy matters.
func newClaimToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// ClaimMessage is the exact text a wallet must sign to redeem a claim. Both
// sides build it from ledger state, so a tampered request cannot produce a
// matching signature.
func (s *ClaimService) ClaimMessage(rec *models.PaymentRecord) string {
	amount := "0"
	if rec.TokenAmount.Valid {
		amount = rec.TokenAmount.Decimal.String()
	}
	token := ""
	if rec.ClaimToken != nil {
		token = *rec.ClaimToken
	}
	return fmt.Sprintf("I claim transaction %s for %s %s (claim: %s)",
		rec.TransactionID, amount, s.symbol, token)
}

// Issue attaches a fresh claim token to a payment and returns the claim URL.
// Re-issuing replaces any previous token for the payment.
func (s *ClaimService) Issue(req models.IssueClaimRequest) (*models.IssuedClaim, error) {
	rec, err := s.store.GetByTransactionID(req.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("load payment: %w", err)
	}
	if rec == nil {
		return nil, ErrPaymentNotFound
	}

	token, err := newClaimToken()
	if err != nil {
		return nil, fmt.Errorf("generate claim token: %w", err)
	}

	ttl := s.defaultTTL
	if req.Minutes > 0 {
		ttl = time.Duration(req.Minutes) * time.Minute
	}
	expiresAt := time.Now().UTC().Add(ttl)

	if err := s.store.SetClaim(req.TransactionID, token, expiresAt); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("store claim: %w", err)
	}

	claim := &models.IssuedClaim{
		Token:     token,
		URL:       s.appOrigin + "/claim/" + token,
		ExpiresAt: expiresAt,
	}

	s.logger.Info().
		Str("transaction_id", req.TransactionID).
		Time("expires_at", expiresAt).
		Msg("claim issued")

	// Claim links go to the requested address, falling back to the buyer
	// email captured at intake. Mail failures do not fail issuance.
	to := req.Email
	if to == "" && rec.BuyerEmail != nil {
		to = *rec.BuyerEmail
	}
	if to != "" && s.email != nil && s.email.Configured() {
		if !s.email.IsEmailValid(to) {
			s.logger.Warn().
				Str("transaction_id", req.TransactionID).
				Msg("claim email address invalid, not sending")
		} else if err := s.email.SendClaimLink(to, claim.URL, expiresAt); err != nil {
			s.logger.Warn().Err(err).
				Str("transaction_id", req.TransactionID).
				Msg("claim link email failed")
		}
	}

	return claim, nil
}

// Lookup returns the sanitized view of a claimable payment.
func (s *ClaimService) Lookup(token string) (*models.ClaimView, error) {
	rec, err := s.store.GetByClaimToken(token)
	if err != nil {
		return nil, fmt.Errorf("load claim: %w", err)
	}
	if rec == nil {
		return nil, ErrClaimNotFound
	}

	view := models.NewClaimView(rec)
	return &view, nil
}

// Redeem binds a wallet to the claimed payment after checking expiry and the
// wallet's signature over the canonical claim message. The bind is a
// compare-and-set on the unclaimed row, so concurrent redemptions of the same
// token settle to exactly one winner. Returns the updated record and whether
// delivery was queued.
func (s *ClaimService) Redeem(token string, req models.ClaimRedeemRequest) (*models.PaymentRecord, bool, error) {
	rec, err := s.store.GetByClaimToken(token)
	if err != nil {
		return nil, false, fmt.Errorf("load claim: %w", err)
	}
	if rec == nil {
		return nil, false, ErrClaimNotFound
	}

	if rec.Claimed {
		return nil, false, ErrAlreadyClaimed
	}
	if rec.ClaimExpiresAt != nil && time.Now().After(*rec.ClaimExpiresAt) {
		return nil, false, ErrClaimExpired
	}

	if !s.wallets.IsAddressValid(req.Wallet) {
		return nil, false, ErrInvalidWallet
	}
	wallet := s.wallets.Checksum(req.Wallet)

	message := s.ClaimMessage(rec)
	valid, err := s.wallets.VerifySignature(wallet, message, req.Signature)
	if err != nil || !valid {
		return nil, false, ErrBadSignature
	}

	bound, err := s.store.BindClaimWallet(token, wallet)
	if err != nil {
		return nil, false, fmt.Errorf("bind wallet: %w", err)
	}
	if !bound {
		return nil, false, ErrAlreadyClaimed
	}

	rec, err = s.store.GetByClaimToken(token)
	if err != nil || rec == nil {
		return nil, false, fmt.Errorf("reload claim: %w", err)
	}

	s.logger.Info().
		Str("transaction_id", rec.TransactionID).
		Str("wallet", wallet).
		Msg("claim redeemed")

	if s.events != nil {
		s.events.Publish(EventPaymentClaimed, models.NewClaimView(rec))
	}

	queued := false
	if s.worker != nil && rec.HasTokenAmount() {
		s.worker.Enqueue(rec.TransactionID, wallet)
		queued = true
	}

	return rec, queued, nil
}
