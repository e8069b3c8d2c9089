package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/bbux/presale-api/internal/chain"
	"github.com/bbux/presale-api/internal/config"
	"github.com/bbux/presale-api/internal/models"
	"github.com/bbux/presale-api/internal/store"
)

// Delivery errors
var (
	ErrPaymentNotFound    = errors.New("payment not found")
	ErrNoWallet           = errors.New("no destination wallet bound to payment")
	ErrMissingTokenAmount = errors.New("payment has no token amount")
	ErrInvalidDestination = errors.New("invalid destination address")
)

// ChainError wraps a failure talking to the chain. Deliveries that fail here
// leave the payment undelivered so they can be retried.
type ChainError struct {
	Op  string
	Err error
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("chain %s: %v", e.Op, e.Err)
}

func (e *ChainError) Unwrap() error {
	return e.Err
}

// DeliveryResult is the outcome of a delivery attempt.
type DeliveryResult struct {
	TransactionID    string `json:"transaction_id"`
	TxHash           string `json:"tx_hash"`
	AlreadyDelivered bool   `json:"already_delivered"`
}

// DeliveryService transfers the purchased tokens to the buyer's wallet. The
// delivered flag in the ledger is the source of truth: it is flipped with a
// compare-and-set after the transfer confirms, so a payment is paid out at
// most once no matter how many callers race.
type DeliveryService struct {
	store  store.PaymentStore
	chain  chain.Client
	cfg    config.ChainConfig
	events Publisher
	logger zerolog.Logger
}

// NewDeliveryService creates a new DeliveryService. events may be nil.
func NewDeliveryService(
	paymentStore store.PaymentStore,
	chainClient chain.Client,
	cfg config.ChainConfig,
	events Publisher,
	logger zerolog.Logger,
) *DeliveryService {
	return &DeliveryService{
		store:  paymentStore,
		chain:  chainClient,
		cfg:    cfg,
		events: events,
		logger: logger.With().Str("service", "delivery").Logger(),
	}
}

// Deliver sends the payment's token amount to the destination wallet. An empty
// to falls back to the wallet bound to the payment. Calling Deliver on an
// already-delivered payment is a no-op that returns the original tx hash.
func (s *DeliveryService) Deliver(ctx context.Context, transactionID, to string) (*DeliveryResult, error) {
	rec, err := s.store.GetByTransactionID(transactionID)
	if err != nil {
		return nil, fmt.Errorf("load payment: %w", err)
	}
	if rec == nil {
		return nil, ErrPaymentNotFound
	}

	if rec.Delivered {
		result := &DeliveryResult{TransactionID: transactionID, AlreadyDelivered: true}
		if rec.DeliveryTxHash != nil {
			result.TxHash = *rec.DeliveryTxHash
		}
		return result, nil
	}

	if to == "" {
		to = rec.Wallet()
	}
	if to == "" {
		return nil, ErrNoWallet
	}
	if !common.IsHexAddress(to) {
		return nil, ErrInvalidDestination
	}

	if !rec.HasTokenAmount() {
		return nil, ErrMissingTokenAmount
	}

	token, err := s.tokenAddress(ctx)
	if err != nil {
		return nil, err
	}

	decimals, err := s.tokenDecimals(ctx, token)
	if err != nil {
		return nil, err
	}

	units := rec.TokenAmount.Decimal.Shift(int32(decimals)).Truncate(0).BigInt()
	if units.Sign() <= 0 {
		return nil, ErrMissingTokenAmount
	}

	s.logger.Info().
		Str("transaction_id", transactionID).
		Str("to", to).
		Str("tokens", rec.TokenAmount.Decimal.String()).
		Msg("submitting token transfer")

	txHash, err := s.chain.Transfer(ctx, token, common.HexToAddress(to), units)
	if err != nil {
		return nil, &ChainError{Op: "transfer", Err: err}
	}

	confirmCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	receipt, err := s.chain.AwaitConfirmation(confirmCtx, txHash, s.cfg.Confirmations)
	if err != nil {
		return nil, &ChainError{Op: "confirmation", Err: err}
	}
	if receipt.Status != 1 {
		return nil, &ChainError{Op: "transfer", Err: fmt.Errorf("transaction %s reverted", txHash.Hex())}
	}

	marked, err := s.store.MarkDelivered(transactionID, txHash.Hex())
	if err != nil {
		return nil, fmt.Errorf("mark delivered: %w", err)
	}
	if !marked {
		// A concurrent delivery won the flag; report its hash.
		current, err := s.store.GetByTransactionID(transactionID)
		if err != nil {
			return nil, fmt.Errorf("reload payment: %w", err)
		}
		result := &DeliveryResult{TransactionID: transactionID, AlreadyDelivered: true}
		if current != nil && current.DeliveryTxHash != nil {
			result.TxHash = *current.DeliveryTxHash
		}
		s.logger.Warn().
			Str("transaction_id", transactionID).
			Str("lost_tx_hash", txHash.Hex()).
			Msg("delivery raced, another transfer already recorded")
		return result, nil
	}

	s.logger.Info().
		Str("transaction_id", transactionID).
		Str("tx_hash", txHash.Hex()).
		Msg("tokens delivered")

	if s.events != nil {
		if updated, err := s.store.GetByTransactionID(transactionID); err == nil && updated != nil {
			s.events.Publish(EventPaymentDelivered, models.NewClaimView(updated))
		}
	}

	return &DeliveryResult{TransactionID: transactionID, TxHash: txHash.Hex()}, nil
}

// tokenAddress resolves the token contract: an explicit config override wins,
// otherwise the presale contract is asked for its linked token.
func (s *DeliveryService) tokenAddress(ctx context.Context) (common.Address, error) {
	if s.cfg.TokenAddress != "" {
		if !common.IsHexAddress(s.cfg.TokenAddress) {
			return common.Address{}, fmt.Errorf("configured token address %q is invalid", s.cfg.TokenAddress)
		}
		return common.HexToAddress(s.cfg.TokenAddress), nil
	}

	if s.cfg.PresaleContract == "" {
		return common.Address{}, errors.New("no token address and no presale contract configured")
	}

	out, err := s.chain.Call(ctx, common.HexToAddress(s.cfg.PresaleContract), chain.PackTokenAddressCall())
	if err != nil {
		return common.Address{}, &ChainError{Op: "token lookup", Err: err}
	}

	addr, err := chain.UnpackAddressResult(out)
	if err != nil {
		return common.Address{}, &ChainError{Op: "token lookup", Err: err}
	}
	if addr == (common.Address{}) {
		return common.Address{}, &ChainError{Op: "token lookup", Err: errors.New("presale contract returned zero address")}
	}

	return addr, nil
}

// tokenDecimals reads decimals from the token contract. When the read fails,
// a configured fallback is used if present; otherwise delivery fails closed
// rather than guessing the scale.
func (s *DeliveryService) tokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	decimals, err := s.chain.TokenDecimals(ctx, token)
	if err == nil {
		return decimals, nil
	}

	if s.cfg.TokenDecimals > 0 && s.cfg.TokenDecimals <= 255 {
		s.logger.Warn().Err(err).
			Int("fallback_decimals", s.cfg.TokenDecimals).
			Msg("decimals read failed, using configured fallback")
		return uint8(s.cfg.TokenDecimals), nil
	}

	return 0, &ChainError{Op: "decimals", Err: err}
}
