package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DeliveryRequest asks the worker to deliver tokens for one payment.
type DeliveryRequest struct {
	ID            string // correlates enqueue and completion log lines
	TransactionID string
	To            string
}

// DeliveryWorker runs deliveries in the background so webhook and claim
// handlers can respond without waiting for the chain. Failed deliveries stay
// undelivered in the ledger and can be retried from the admin surface.
type DeliveryWorker struct {
	delivery *DeliveryService
	queue    chan DeliveryRequest
	logger   zerolog.Logger
}

// NewDeliveryWorker creates a worker with a bounded queue.
func NewDeliveryWorker(delivery *DeliveryService, queueSize int, logger zerolog.Logger) *DeliveryWorker {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &DeliveryWorker{
		delivery: delivery,
		queue:    make(chan DeliveryRequest, queueSize),
		logger:   logger.With().Str("service", "delivery_worker").Logger(),
	}
}

// Enqueue schedules a delivery without blocking. A full queue drops the
// request; the payment stays undelivered and is picked up manually.
func (w *DeliveryWorker) Enqueue(transactionID, to string) {
	req := DeliveryRequest{ID: uuid.NewString(), TransactionID: transactionID, To: to}
	select {
	case w.queue <- req:
		w.logger.Debug().
			Str("delivery_id", req.ID).
			Str("transaction_id", transactionID).
			Msg("delivery queued")
	default:
		w.logger.Warn().
			Str("transaction_id", transactionID).
			Msg("delivery queue full, dropping request")
	}
}

// Run processes the queue until ctx is cancelled.
func (w *DeliveryWorker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-w.queue:
			result, err := w.delivery.Deliver(ctx, req.TransactionID, req.To)
			if err != nil {
				w.logger.Error().Err(err).
					Str("delivery_id", req.ID).
					Str("transaction_id", req.TransactionID).
					Msg("background delivery failed")
				continue
			}
			w.logger.Info().
				Str("delivery_id", req.ID).
				Str("transaction_id", req.TransactionID).
				Str("tx_hash", result.TxHash).
				Bool("already_delivered", result.AlreadyDelivered).
				Msg("background delivery finished")
		}
	}
}
