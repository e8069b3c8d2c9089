package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/bbux/presale-api/internal/models"
)

const paymentColumns = `transaction_id, source, event_type, buyer_wallet, buyer_email,
	gross_amount, currency, description, token_amount, claim_reference, claim_token,
	claim_expires_at, claimed, claimed_wallet, delivered, delivery_tx_hash, network, received_at`

// PaymentRepository is the Postgres-backed PaymentStore.
type PaymentRepository struct {
	db *Database
}

// NewPaymentRepository creates a new PaymentRepository
func NewPaymentRepository(db *Database) *PaymentRepository {
	return &PaymentRepository{
		db: db,
	}
}

// InitSchema creates the payments table and its indexes in one transaction
func (r *PaymentRepository) InitSchema() error {
	schema := `CREATE TABLE IF NOT EXISTS payments (
		transaction_id   TEXT PRIMARY KEY,
		source           TEXT NOT NULL,
		event_type       TEXT,
		buyer_wallet     TEXT,
		buyer_email      TEXT,
		gross_amount     NUMERIC NOT NULL DEFAULT 0,
		currency         TEXT NOT NULL DEFAULT '',
		description      TEXT,
		token_amount     NUMERIC,
		claim_reference  TEXT,
		claim_token      TEXT UNIQUE,
		claim_expires_at TIMESTAMPTZ,
		claimed          BOOLEAN NOT NULL DEFAULT FALSE,
		claimed_wallet   TEXT,
		delivered        BOOLEAN NOT NULL DEFAULT FALSE,
		delivery_tx_hash TEXT,
		network          TEXT,
		received_at      TIMESTAMPTZ NOT NULL
	)`

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_payments_received_at ON payments (received_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_claim_token ON payments (claim_token)`,
	}

	return r.db.Transaction(func(tx *sqlx.Tx) error {
		if _, err := tx.Exec(schema); err != nil {
			return err
		}
		for _, idx := range indexes {
			if _, err := tx.Exec(idx); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetByTransactionID retrieves a payment by transaction id
func (r *PaymentRepository) GetByTransactionID(id string) (*models.PaymentRecord, error) {
	rec := &models.PaymentRecord{}
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE transaction_id = $1`

	err := r.db.GetDB().Get(rec, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return rec, nil
}

// GetByClaimToken retrieves a payment by claim token
func (r *PaymentRepository) GetByClaimToken(token string) (*models.PaymentRecord, error) {
	rec := &models.PaymentRecord{}
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE claim_token = $1`

	err := r.db.GetDB().Get(rec, query, token)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return rec, nil
}

// Upsert inserts or updates a payment keyed by transaction id. Replays of the
// same event update intake fields in place; claim and delivery state already
// present on the row is never regressed, and a token amount set by
// reconciliation tooling is preserved.
func (r *PaymentRepository) Upsert(rec *models.PaymentRecord) error {
	if rec.TransactionID == "" {
		return fmt.Errorf("upsert: empty transaction id")
	}
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now().UTC()
	}

	query := `INSERT INTO payments (` + paymentColumns + `)
		VALUES (:transaction_id, :source, :event_type, :buyer_wallet, :buyer_email,
			:gross_amount, :currency, :description, :token_amount, :claim_reference, :claim_token,
			:claim_expires_at, :claimed, :claimed_wallet, :delivered, :delivery_tx_hash, :network, :received_at)
		ON CONFLICT (transaction_id) DO UPDATE SET
			source          = EXCLUDED.source,
			event_type      = COALESCE(EXCLUDED.event_type, payments.event_type),
			buyer_wallet    = COALESCE(EXCLUDED.buyer_wallet, payments.buyer_wallet),
			buyer_email     = COALESCE(EXCLUDED.buyer_email, payments.buyer_email),
			gross_amount    = EXCLUDED.gross_amount,
			currency        = EXCLUDED.currency,
			description     = COALESCE(EXCLUDED.description, payments.description),
			token_amount    = COALESCE(payments.token_amount, EXCLUDED.token_amount),
			claim_reference = COALESCE(EXCLUDED.claim_reference, payments.claim_reference),
			network         = COALESCE(EXCLUDED.network, payments.network)`

	_, err := r.db.GetDB().NamedExec(query, rec)
	return err
}

// ListRecent retrieves the most recent payments
func (r *PaymentRepository) ListRecent(limit int) ([]models.PaymentRecord, error) {
	if limit <= 0 {
		limit = 200
	}

	records := []models.PaymentRecord{}
	query := `SELECT ` + paymentColumns + ` FROM payments ORDER BY received_at DESC LIMIT $1`

	err := r.db.GetDB().Select(&records, query, limit)
	if err != nil {
		return nil, err
	}

	return records, nil
}

// SetClaim attaches a claim token and its expiry to a payment
func (r *PaymentRepository) SetClaim(transactionID, token string, expiresAt time.Time) error {
	query := `UPDATE payments SET claim_token = $2, claim_expires_at = $3 WHERE transaction_id = $1`

	res, err := r.db.GetDB().Exec(query, transactionID, token, expiresAt)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}

	return nil
}

// BindClaimWallet atomically binds a wallet to an unclaimed token
func (r *PaymentRepository) BindClaimWallet(claimToken, wallet string) (bool, error) {
	query := `UPDATE payments SET claimed = TRUE, claimed_wallet = $2
			  WHERE claim_token = $1 AND claimed = FALSE`

	res, err := r.db.GetDB().Exec(query, claimToken, wallet)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

// MarkDelivered atomically marks a payment delivered
func (r *PaymentRepository) MarkDelivered(transactionID, txHash string) (bool, error) {
	query := `UPDATE payments SET delivered = TRUE, delivery_tx_hash = $2
			  WHERE transaction_id = $1 AND delivered = FALSE`

	res, err := r.db.GetDB().Exec(query, transactionID, txHash)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

// Stats aggregates the ledger for dashboards
func (r *PaymentRepository) Stats(recentLimit int) (*models.LedgerStats, error) {
	stats := &models.LedgerStats{}

	query := `SELECT
		COUNT(*) AS total_payments,
		COALESCE(SUM(gross_amount) FILTER (WHERE source = 'on_chain'), 0) AS total_gross_eth,
		COALESCE(SUM(gross_amount) FILTER (WHERE source = 'fiat'), 0) AS total_gross_fiat,
		COALESCE(SUM(token_amount), 0) AS total_tokens,
		COUNT(DISTINCT LOWER(COALESCE(claimed_wallet, buyer_wallet))) FILTER (WHERE COALESCE(claimed_wallet, buyer_wallet) IS NOT NULL) AS unique_contributors,
		COUNT(*) FILTER (WHERE delivered) AS delivered,
		COUNT(*) FILTER (WHERE NOT delivered) AS undelivered
		FROM payments`

	row := r.db.GetDB().QueryRow(query)
	err := row.Scan(&stats.TotalPayments, &stats.TotalGrossETH, &stats.TotalGrossFiat,
		&stats.TotalTokens, &stats.UniqueContributors, &stats.Delivered, &stats.Undelivered)
	if err != nil {
		return nil, err
	}

	recent, err := r.ListRecent(recentLimit)
	if err != nil {
		return nil, err
	}
	stats.RecentPayments = recent

	return stats, nil
}

// Close closes the underlying database
func (r *PaymentRepository) Close() error {
	return r.db.Close()
}
