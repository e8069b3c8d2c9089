package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/bbux/presale-api/internal/models"
)

// SQLiteStore is the file-backed PaymentStore for small deployments. It
// honors the same upsert/idempotency contract as the Postgres repository.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and initializes) a SQLite-backed ledger at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLiteStore) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS payments (
			transaction_id   TEXT PRIMARY KEY,
			source           TEXT NOT NULL,
			event_type       TEXT,
			buyer_wallet     TEXT,
			buyer_email      TEXT,
			gross_amount     TEXT NOT NULL DEFAULT '0',
			currency         TEXT NOT NULL DEFAULT '',
			description      TEXT,
			token_amount     TEXT,
			claim_reference  TEXT,
			claim_token      TEXT UNIQUE,
			claim_expires_at DATETIME,
			claimed          BOOLEAN NOT NULL DEFAULT 0,
			claimed_wallet   TEXT,
			delivered        BOOLEAN NOT NULL DEFAULT 0,
			delivery_tx_hash TEXT,
			network          TEXT,
			received_at      DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_received_at ON payments(received_at)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_claim_token ON payments(claim_token)`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanPayment(row *sql.Row) (*models.PaymentRecord, error) {
	rec := &models.PaymentRecord{}
	err := row.Scan(
		&rec.TransactionID, &rec.Source, &rec.EventType, &rec.BuyerWallet, &rec.BuyerEmail,
		&rec.GrossAmount, &rec.Currency, &rec.Description, &rec.TokenAmount, &rec.ClaimReference,
		&rec.ClaimToken, &rec.ClaimExpiresAt, &rec.Claimed, &rec.ClaimedWallet,
		&rec.Delivered, &rec.DeliveryTxHash, &rec.Network, &rec.ReceivedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

// GetByTransactionID retrieves a payment by transaction id
func (s *SQLiteStore) GetByTransactionID(id string) (*models.PaymentRecord, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE transaction_id = ?`
	return scanPayment(s.db.QueryRow(query, id))
}

// GetByClaimToken retrieves a payment by claim token
func (s *SQLiteStore) GetByClaimToken(token string) (*models.PaymentRecord, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE claim_token = ?`
	return scanPayment(s.db.QueryRow(query, token))
}

// Upsert inserts or updates a payment keyed by transaction id
func (s *SQLiteStore) Upsert(rec *models.PaymentRecord) error {
	if rec.TransactionID == "" {
		return fmt.Errorf("upsert: empty transaction id")
	}
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now().UTC()
	}

	query := `INSERT INTO payments (` + paymentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (transaction_id) DO UPDATE SET
			source          = excluded.source,
			event_type      = COALESCE(excluded.event_type, payments.event_type),
			buyer_wallet    = COALESCE(excluded.buyer_wallet, payments.buyer_wallet),
			buyer_email     = COALESCE(excluded.buyer_email, payments.buyer_email),
			gross_amount    = excluded.gross_amount,
			currency        = excluded.currency,
			description     = COALESCE(excluded.description, payments.description),
			token_amount    = COALESCE(payments.token_amount, excluded.token_amount),
			claim_reference = COALESCE(excluded.claim_reference, payments.claim_reference),
			network         = COALESCE(excluded.network, payments.network)`

	_, err := s.db.Exec(query,
		rec.TransactionID, rec.Source, rec.EventType, rec.BuyerWallet, rec.BuyerEmail,
		rec.GrossAmount, rec.Currency, rec.Description, rec.TokenAmount, rec.ClaimReference,
		rec.ClaimToken, rec.ClaimExpiresAt, rec.Claimed, rec.ClaimedWallet,
		rec.Delivered, rec.DeliveryTxHash, rec.Network, rec.ReceivedAt,
	)
	return err
}

// ListRecent retrieves the most recent payments
func (s *SQLiteStore) ListRecent(limit int) ([]models.PaymentRecord, error) {
	if limit <= 0 {
		limit = 200
	}

	query := `SELECT ` + paymentColumns + ` FROM payments ORDER BY received_at DESC LIMIT ?`
	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []models.PaymentRecord{}
	for rows.Next() {
		rec := models.PaymentRecord{}
		err := rows.Scan(
			&rec.TransactionID, &rec.Source, &rec.EventType, &rec.BuyerWallet, &rec.BuyerEmail,
			&rec.GrossAmount, &rec.Currency, &rec.Description, &rec.TokenAmount, &rec.ClaimReference,
			&rec.ClaimToken, &rec.ClaimExpiresAt, &rec.Claimed, &rec.ClaimedWallet,
			&rec.Delivered, &rec.DeliveryTxHash, &rec.Network, &rec.ReceivedAt,
		)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// SetClaim attaches a claim token and its expiry to a payment
func (s *SQLiteStore) SetClaim(transactionID, token string, expiresAt time.Time) error {
	res, err := s.db.Exec(
		`UPDATE payments SET claim_token = ?, claim_expires_at = ? WHERE transaction_id = ?`,
		token, expiresAt, transactionID,
	)
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
func (s *SQLiteStore) BindClaimWallet(claimToken, wallet string) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE payments SET claimed = 1, claimed_wallet = ? WHERE claim_token = ? AND claimed = 0`,
		wallet, claimToken,
	)
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
func (s *SQLiteStore) MarkDelivered(transactionID, txHash string) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE payments SET delivered = 1, delivery_tx_hash = ? WHERE transaction_id = ? AND delivered = 0`,
		txHash, transactionID,
	)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

// Stats aggregates the ledger for dashboards. Decimal sums are computed in Go
// because the amounts are stored as text.
func (s *SQLiteStore) Stats(recentLimit int) (*models.LedgerStats, error) {
	records, err := s.ListRecent(1 << 20)
	if err != nil {
		return nil, err
	}

	stats := &models.LedgerStats{TotalPayments: len(records)}
	contributors := map[string]bool{}

	for _, rec := range records {
		if rec.Source == models.PaymentSourceOnChain {
			stats.TotalGrossETH = stats.TotalGrossETH.Add(rec.GrossAmount)
		} else {
			stats.TotalGrossFiat = stats.TotalGrossFiat.Add(rec.GrossAmount)
		}
		if rec.TokenAmount.Valid {
			stats.TotalTokens = stats.TotalTokens.Add(rec.TokenAmount.Decimal)
		}
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
	if recentLimit > 0 && len(records) > recentLimit {
		records = records[:recentLimit]
	}
	stats.RecentPayments = records

	return stats, nil
}
