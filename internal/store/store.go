package store

import (
	"errors"
	"time"

	"github.com/bbux/presale-api/internal/models"
)

// ErrNotFound is returned by update operations that matched no payment.
var ErrNotFound = errors.New("payment not found")

// PaymentStore is the persistence contract for the payment ledger. The ledger
// is append/update-only: nothing deletes records. Upsert is keyed by
// transaction id and must never create a duplicate row for a replayed event.
// BindClaimWallet and MarkDelivered are atomic compare-and-set updates; they
// are the only mutual-exclusion mechanism against concurrent redemption or
// delivery across service instances.
type PaymentStore interface {
	GetByTransactionID(id string) (*models.PaymentRecord, error)
	GetByClaimToken(token string) (*models.PaymentRecord, error)
	Upsert(rec *models.PaymentRecord) error
	ListRecent(limit int) ([]models.PaymentRecord, error)

	// SetClaim attaches a claim token and expiry to an existing payment.
	SetClaim(transactionID, token string, expiresAt time.Time) error

	// BindClaimWallet sets claimed=true and the claimed wallet iff the record
	// is not claimed yet. Returns false when another writer won the race.
	BindClaimWallet(claimToken, wallet string) (bool, error)

	// MarkDelivered sets delivered=true and the delivery tx hash iff the
	// record is not delivered yet. Returns false when already delivered.
	MarkDelivered(transactionID, txHash string) (bool, error)

	Stats(recentLimit int) (*models.LedgerStats, error)
	Close() error
}
