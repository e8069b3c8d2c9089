package services

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bbux/presale-api/internal/models"
	"github.com/bbux/presale-api/internal/store"
)

// memStore is an in-memory PaymentStore honoring the same compare-and-set
// semantics as the real repositories.
type memStore struct {
	mu      sync.Mutex
	records map[string]*models.PaymentRecord

	// upsertErr, when set, is consulted before every write.
	upsertErr func(*models.PaymentRecord) error
}

func newMemStore() *memStore {
	return &memStore{records: map[string]*models.PaymentRecord{}}
}

func clone(rec *models.PaymentRecord) *models.PaymentRecord {
	out := *rec
	return &out
}

func (m *memStore) GetByTransactionID(id string) (*models.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[id]; ok {
		return clone(rec), nil
	}
	return nil, nil
}

func (m *memStore) GetByClaimToken(token string) (*models.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec.ClaimToken != nil && *rec.ClaimToken == token {
			return clone(rec), nil
		}
	}
	return nil, nil
}

func (m *memStore) Upsert(rec *models.PaymentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.upsertErr != nil {
		if err := m.upsertErr(rec); err != nil {
			return err
		}
	}

	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now().UTC()
	}

	existing, ok := m.records[rec.TransactionID]
	if !ok {
		m.records[rec.TransactionID] = clone(rec)
		return nil
	}

	updated := clone(rec)
	// Claim and delivery state never regresses; a recorded token amount is
	// preserved.
	updated.ClaimToken = existing.ClaimToken
	updated.ClaimExpiresAt = existing.ClaimExpiresAt
	updated.Claimed = existing.Claimed
	updated.ClaimedWallet = existing.ClaimedWallet
	updated.Delivered = existing.Delivered
	updated.DeliveryTxHash = existing.DeliveryTxHash
	if existing.TokenAmount.Valid {
		updated.TokenAmount = existing.TokenAmount
	}
	if updated.BuyerWallet == nil {
		updated.BuyerWallet = existing.BuyerWallet
	}
	if updated.BuyerEmail == nil {
		updated.BuyerEmail = existing.BuyerEmail
	}
	m.records[rec.TransactionID] = updated
	return nil
}

func (m *memStore) ListRecent(limit int) ([]models.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.PaymentRecord{}
	for _, rec := range m.records {
		out = append(out, *rec)
	}
	return out, nil
}

func (m *memStore) SetClaim(transactionID, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[transactionID]
	if !ok {
		return store.ErrNotFound
	}
	rec.ClaimToken = &token
	rec.ClaimExpiresAt = &expiresAt
	return nil
}

func (m *memStore) BindClaimWallet(claimToken, wallet string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec.ClaimToken != nil && *rec.ClaimToken == claimToken {
			if rec.Claimed {
				return false, nil
			}
			rec.Claimed = true
			rec.ClaimedWallet = &wallet
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) MarkDelivered(transactionID, txHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[transactionID]
	if !ok {
		return false, nil
	}
	if rec.Delivered {
		return false, nil
	}
	rec.Delivered = true
	rec.DeliveryTxHash = &txHash
	return true, nil
}

func (m *memStore) Stats(recentLimit int) (*models.LedgerStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &models.LedgerStats{TotalPayments: len(m.records)}
	contributors := map[string]bool{}
	for _, rec := range m.records {
		if w := rec.Wallet(); w != "" {
			contributors[strings.ToLower(w)] = true
		}
		if rec.Delivered {
			stats.Delivered++
		} else {
			stats.Undelivered++
		}
	}
	stats.UniqueContributors = len(contributors)
	return stats, nil
}

func (m *memStore) Close() error {
	return nil
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
