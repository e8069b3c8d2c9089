package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/bbux/presale-api/internal/config"
	"github.com/bbux/presale-api/internal/models"
	"github.com/bbux/presale-api/internal/store"
)

// PayPal intake errors
var (
	ErrSignatureInvalid = errors.New("webhook signature verification failed")
	ErrMalformedEvent   = errors.New("malformed webhook event")
)

// PayPalService ingests payment processor webhook events into the ledger.
// Every event is verified against the processor's verification endpoint
// before anything is written.
type PayPalService struct {
	cfg     config.PayPalConfig
	store   store.PaymentStore
	pricing *PricingService
	wallets *WalletService
	worker  *DeliveryWorker
	events  Publisher
	logger  zerolog.Logger
	http    *http.Client

	tokenPattern *regexp.Regexp

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewPayPalService creates a new PayPalService. worker and events may be nil.
func NewPayPalService(
	cfg config.PayPalConfig,
	tokenSymbol string,
	paymentStore store.PaymentStore,
	pricing *PricingService,
	wallets *WalletService,
	worker *DeliveryWorker,
	events Publisher,
	logger zerolog.Logger,
) *PayPalService {
	return &PayPalService{
		cfg:     cfg,
		store:   paymentStore,
		pricing: pricing,
		wallets: wallets,
		worker:  worker,
		events:  events,
		logger:  logger.With().Str("service", "paypal").Logger(),
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
		tokenPattern: regexp.MustCompile(`(?i)([\d,]+(?:\.\d+)?)\s*` + regexp.QuoteMeta(tokenSymbol)),
	}
}

// webhookEvent is the envelope the processor posts.
type webhookEvent struct {
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	Resource  json.RawMessage `json:"resource"`
}

type moneyValue struct {
	Value        string `json:"value"`
	CurrencyCode string `json:"currency_code"`
}

type capture struct {
	ID       string      `json:"id"`
	Amount   *moneyValue `json:"amount"`
	CustomID string      `json:"custom_id"`
}

type purchaseUnit struct {
	Description string      `json:"description"`
	CustomID    string      `json:"custom_id"`
	InvoiceID   string      `json:"invoice_id"`
	Amount      *moneyValue `json:"amount"`
	Payments    *struct {
		Captures []capture `json:"captures"`
	} `json:"payments"`
}

type webhookResource struct {
	ID            string         `json:"id"`
	Amount        *moneyValue    `json:"amount"`
	CustomID      string         `json:"custom_id"`
	InvoiceID     string         `json:"invoice_id"`
	Description   string         `json:"description"`
	PurchaseUnits []purchaseUnit `json:"purchase_units"`
	Payer         *struct {
		EmailAddress string `json:"email_address"`
	} `json:"payer"`
}

// HandleWebhook verifies and ingests one webhook delivery. The raw body must
// be passed unmodified; the signature covers the exact bytes received.
func (s *PayPalService) HandleWebhook(ctx context.Context, headers http.Header, body []byte) (*models.PaymentRecord, error) {
	if err := s.verifySignature(ctx, headers, body); err != nil {
		return nil, err
	}

	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	rec, err := s.extract(&event)
	if err != nil {
		return nil, err
	}

	if err := s.store.Upsert(rec); err != nil {
		return nil, fmt.Errorf("record payment: %w", err)
	}

	s.logger.Info().
		Str("transaction_id", rec.TransactionID).
		Str("event_type", event.EventType).
		Str("gross", rec.GrossAmount.String()).
		Str("currency", rec.Currency).
		Bool("wallet_known", rec.Wallet() != "").
		Msg("fiat payment recorded")

	if s.events != nil {
		s.events.Publish(EventPaymentReceived, models.NewClaimView(rec))
	}

	// A payment arriving with a wallet already attached can go straight to
	// delivery. Anonymous payments wait for claim redemption.
	if s.worker != nil && rec.Deliverable() && rec.HasTokenAmount() {
		s.worker.Enqueue(rec.TransactionID, rec.Wallet())
	}

	return rec, nil
}

// extract normalizes a verified event into a ledger record. Exported fields of
// the processor payload vary by event type, so each is tried in preference
// order.
func (s *PayPalService) extract(event *webhookEvent) (*models.PaymentRecord, error) {
	var res webhookResource
	if len(event.Resource) > 0 {
		if err := json.Unmarshal(event.Resource, &res); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
	}

	var capt *capture
	var unit *purchaseUnit
	if len(res.PurchaseUnits) > 0 {
		unit = &res.PurchaseUnits[0]
		if unit.Payments != nil && len(unit.Payments.Captures) > 0 {
			capt = &unit.Payments.Captures[0]
		}
	}

	// Transaction id: capture id, then resource id, then the event id.
	txID := ""
	if capt != nil {
		txID = capt.ID
	}
	if txID == "" {
		txID = res.ID
	}
	if txID == "" {
		txID = event.ID
	}
	if txID == "" {
		return nil, fmt.Errorf("%w: no transaction id", ErrMalformedEvent)
	}

	amount := res.Amount
	if amount == nil && capt != nil {
		amount = capt.Amount
	}
	if amount == nil && unit != nil {
		amount = unit.Amount
	}

	rec := &models.PaymentRecord{
		TransactionID: txID,
		Source:        models.PaymentSourceFiat,
		EventType:     &event.EventType,
		ReceivedAt:    time.Now().UTC(),
	}

	if amount != nil {
		gross, err := decimal.NewFromString(amount.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: bad amount %q", ErrMalformedEvent, amount.Value)
		}
		rec.GrossAmount = gross
		rec.Currency = amount.CurrencyCode
	}

	if res.Payer != nil && res.Payer.EmailAddress != "" {
		email := res.Payer.EmailAddress
		rec.BuyerEmail = &email
	}

	// custom_id carries "<claimRef>|<wallet>" when the checkout knew the
	// buyer's wallet. invoice_id is the legacy fallback.
	customID := res.CustomID
	if customID == "" && capt != nil {
		customID = capt.CustomID
	}
	if customID == "" && unit != nil {
		customID = unit.CustomID
	}
	if customID == "" {
		customID = res.InvoiceID
	}
	if customID == "" && unit != nil {
		customID = unit.InvoiceID
	}
	if customID != "" {
		parts := strings.SplitN(customID, "|", 2)
		if ref := strings.TrimSpace(parts[0]); ref != "" {
			rec.ClaimReference = &ref
		}
		if len(parts) == 2 {
			if w := strings.TrimSpace(parts[1]); s.wallets.IsAddressValid(w) {
				checksummed := s.wallets.Checksum(w)
				rec.BuyerWallet = &checksummed
			}
		}
	}

	description := res.Description
	if description == "" && unit != nil {
		description = unit.Description
	}
	if description != "" {
		rec.Description = &description
	}

	// Token quantity: stated in the item description when the checkout
	// priced the purchase, otherwise re-derived from the gross amount at
	// today's stage price.
	if m := s.tokenPattern.FindStringSubmatch(description); m != nil {
		raw := strings.ReplaceAll(m[1], ",", "")
		if tokens, err := decimal.NewFromString(raw); err == nil && tokens.IsPositive() {
			rec.TokenAmount = decimal.NewNullDecimal(tokens)
		}
	}
	if !rec.TokenAmount.Valid && s.pricing != nil && rec.GrossAmount.IsPositive() {
		if quote, err := s.pricing.QuoteFiat(time.Now().UTC(), rec.GrossAmount); err == nil {
			rec.TokenAmount = decimal.NewNullDecimal(quote.TokenAmount)
		} else {
			s.logger.Warn().Err(err).
				Str("transaction_id", txID).
				Msg("could not derive token amount from gross")
		}
	}

	return rec, nil
}

type verifyRequest struct {
	AuthAlgo         string          `json:"auth_algo"`
	CertURL          string          `json:"cert_url"`
	TransmissionID   string          `json:"transmission_id"`
	TransmissionSig  string          `json:"transmission_sig"`
	TransmissionTime string          `json:"transmission_time"`
	WebhookID        string          `json:"webhook_id"`
	WebhookEvent     json.RawMessage `json:"webhook_event"`
}

// verifySignature calls the processor's verify-webhook-signature endpoint.
// Anything other than an explicit SUCCESS rejects the event.
func (s *PayPalService) verifySignature(ctx context.Context, headers http.Header, body []byte) error {
	token, err := s.fetchAccessToken(ctx)
	if err != nil {
		return fmt.Errorf("processor auth: %w", err)
	}

	reqBody, err := json.Marshal(verifyRequest{
		AuthAlgo:         headers.Get("paypal-auth-algo"),
		CertURL:          headers.Get("paypal-cert-url"),
		TransmissionID:   headers.Get("paypal-transmission-id"),
		TransmissionSig:  headers.Get("paypal-transmission-sig"),
		TransmissionTime: headers.Get("paypal-transmission-time"),
		WebhookID:        s.cfg.WebhookID,
		WebhookEvent:     json.RawMessage(body),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.cfg.BaseURL()+"/v1/notifications/verify-webhook-signature", bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("verify request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("verify endpoint returned %d", resp.StatusCode)
	}

	var result struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode verify response: %w", err)
	}

	if result.VerificationStatus != "SUCCESS" {
		return ErrSignatureInvalid
	}

	return nil
}

// fetchAccessToken returns a cached client-credentials token, refreshing it
// shortly before expiry. The lock covers only the cache; the OAuth round-trip
// runs without it, and concurrent refreshes settle on the last writer.
func (s *PayPalService) fetchAccessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.accessToken != "" && time.Now().Before(s.tokenExpiry) {
		token := s.accessToken
		s.mu.Unlock()
		return token, nil
	}
	s.mu.Unlock()

	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.cfg.BaseURL()+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(s.cfg.ClientID, s.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}

	var result struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if result.AccessToken == "" {
		return "", errors.New("empty access token")
	}

	s.mu.Lock()
	s.accessToken = result.AccessToken
	s.tokenExpiry = time.Now().Add(time.Duration(result.ExpiresIn)*time.Second - time.Minute)
	s.mu.Unlock()

	return result.AccessToken, nil
}
