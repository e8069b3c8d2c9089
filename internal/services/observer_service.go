package services

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/bbux/presale-api/internal/config"
	"github.com/bbux/presale-api/internal/models"
	"github.com/bbux/presale-api/internal/scanapi"
	"github.com/bbux/presale-api/internal/store"
)

// Observer errors
var (
	ErrInvalidTxHash = errors.New("invalid transaction hash")
)

const weiPerEthExp = -18

// ObserverService keeps the ledger in sync with on-chain presale
// contributions. It ingests client-reported purchases immediately and
// reconciles against the explorer API in the background, so a buyer whose
// browser died mid-purchase is still recorded.
type ObserverService struct {
	store    store.PaymentStore
	pricing  *PricingService
	wallets  *WalletService
	worker   *DeliveryWorker
	events   Publisher
	explorer *scanapi.Client
	cfg      config.ChainConfig
	logger   zerolog.Logger

	lastBlock uint64
}

// NewObserverService creates a new ObserverService. explorer, worker and
// events may be nil; without an explorer only client-reported tracking works.
func NewObserverService(
	paymentStore store.PaymentStore,
	pricing *PricingService,
	wallets *WalletService,
	worker *DeliveryWorker,
	events Publisher,
	explorer *scanapi.Client,
	cfg config.ChainConfig,
	logger zerolog.Logger,
) *ObserverService {
	return &ObserverService{
		store:    paymentStore,
		pricing:  pricing,
		wallets:  wallets,
		worker:   worker,
		events:   events,
		explorer: explorer,
		cfg:      cfg,
		logger:   logger.With().Str("service", "observer").Logger(),
	}
}

func isTxHash(s string) bool {
	if !strings.HasPrefix(s, "0x") || len(s) != 66 {
		return false
	}
	_, err := hex.DecodeString(s[2:])
	return err == nil
}

// TrackPurchase records a contribution reported by the buyer's client right
// after the wallet confirmed it. The explorer sync later re-ingests the same
// hash, which is a harmless upsert.
func (s *ObserverService) TrackPurchase(req models.TrackPurchaseRequest) (*models.PaymentRecord, error) {
	if !isTxHash(req.TxHash) {
		return nil, ErrInvalidTxHash
	}
	if !s.wallets.IsAddressValid(req.WalletAddress) {
		return nil, ErrInvalidWallet
	}
	if !req.EthAmount.IsPositive() {
		return nil, ErrBelowMinimum
	}

	wallet := s.wallets.Checksum(req.WalletAddress)
	rec := &models.PaymentRecord{
		TransactionID: strings.ToLower(req.TxHash),
		Source:        models.PaymentSourceOnChain,
		BuyerWallet:   &wallet,
		GrossAmount:   req.EthAmount,
		Currency:      "ETH",
		TokenAmount:   req.TokenAmount,
		ReceivedAt:    time.Now().UTC(),
	}
	if req.Network != "" {
		rec.Network = &req.Network
	}

	if !rec.TokenAmount.Valid {
		if quote, err := s.pricing.Quote(time.Now().UTC(), req.EthAmount); err == nil {
			rec.TokenAmount = decimal.NewNullDecimal(quote.TokenAmount)
		}
	}

	if err := s.store.Upsert(rec); err != nil {
		return nil, fmt.Errorf("record purchase: %w", err)
	}

	s.logger.Info().
		Str("tx_hash", rec.TransactionID).
		Str("wallet", wallet).
		Str("eth", req.EthAmount.String()).
		Msg("on-chain purchase tracked")

	if s.events != nil {
		s.events.Publish(EventPaymentReceived, models.NewClaimView(rec))
	}
	// The presale contract normally transfers tokens in buy() itself, so
	// server-side delivery for on-chain purchases is opt-in.
	if s.worker != nil && s.cfg.AutoDeliverOnChain && rec.Deliverable() && rec.HasTokenAmount() {
		s.worker.Enqueue(rec.TransactionID, rec.Wallet())
	}

	return rec, nil
}

// Sync pulls the presale contract's transaction list from the explorer and
// upserts every successful value-bearing purchase call.
func (s *ObserverService) Sync(ctx context.Context) error {
	if s.explorer == nil || s.cfg.PresaleContract == "" {
		return nil
	}

	txs, err := s.explorer.ListTransactions(ctx, s.cfg.PresaleContract, s.lastBlock)
	if err != nil {
		return fmt.Errorf("list transactions: %w", err)
	}

	ingested := 0
	watermark := s.lastBlock
	stalled := false
	for _, tx := range txs {
		block, blockErr := strconv.ParseUint(tx.BlockNumber, 10, 64)

		rec, ok := s.normalize(tx)
		if !ok {
			if !stalled && blockErr == nil && block > watermark {
				watermark = block
			}
			continue
		}

		if err := s.store.Upsert(rec); err != nil {
			s.logger.Error().Err(err).
				Str("tx_hash", rec.TransactionID).
				Msg("sync upsert failed")
			// Pin the watermark so this block is fetched again next round.
			// Upserts are idempotent, so re-ingesting the rest is harmless.
			stalled = true
			continue
		}
		ingested++
		if !stalled && blockErr == nil && block > watermark {
			watermark = block
		}

		if s.events != nil {
			s.events.Publish(EventPaymentReceived, models.NewClaimView(rec))
		}
		if s.worker != nil && s.cfg.AutoDeliverOnChain && rec.Deliverable() && rec.HasTokenAmount() {
			s.worker.Enqueue(rec.TransactionID, rec.Wallet())
		}
	}
	s.lastBlock = watermark

	if ingested > 0 {
		s.logger.Info().Int("ingested", ingested).Uint64("last_block", s.lastBlock).Msg("explorer sync")
	}

	return nil
}

// normalize turns an explorer row into a ledger record. Failed transactions,
// zero-value transfers and non-purchase calls are skipped.
func (s *ObserverService) normalize(tx scanapi.Transaction) (*models.PaymentRecord, bool) {
	if tx.IsError != "0" && tx.IsError != "" {
		return nil, false
	}
	if tx.TxReceiptStatus != "1" && tx.TxReceiptStatus != "" {
		return nil, false
	}
	if !strings.HasPrefix(strings.ToLower(tx.FunctionName), "buy") {
		return nil, false
	}

	wei, ok := new(big.Int).SetString(tx.Value, 10)
	if !ok || wei.Sign() <= 0 {
		return nil, false
	}
	eth := decimal.NewFromBigInt(wei, weiPerEthExp)

	if !s.wallets.IsAddressValid(tx.From) {
		return nil, false
	}
	wallet := s.wallets.Checksum(tx.From)

	rec := &models.PaymentRecord{
		TransactionID: strings.ToLower(tx.Hash),
		Source:        models.PaymentSourceOnChain,
		BuyerWallet:   &wallet,
		GrossAmount:   eth,
		Currency:      "ETH",
		ReceivedAt:    time.Now().UTC(),
	}

	// Price at the stage active when the transaction landed, not now.
	at := time.Now().UTC()
	if secs, err := strconv.ParseInt(tx.TimeStamp, 10, 64); err == nil && secs > 0 {
		at = time.Unix(secs, 0).UTC()
		rec.ReceivedAt = at
	}
	if quote, err := s.pricing.Quote(at, eth); err == nil {
		rec.TokenAmount = decimal.NewNullDecimal(quote.TokenAmount)
	}

	return rec, true
}

// SyncLoop runs Sync on the configured interval until ctx is cancelled.
func (s *ObserverService) SyncLoop(ctx context.Context) {
	interval := s.cfg.SyncInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", interval).Msg("observer sync loop started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sync(ctx); err != nil {
				s.logger.Error().Err(err).Msg("explorer sync failed")
			}
		}
	}
}
