package storage

import (
	"database/sql"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/suspectuso/ton-checkout/internal/payment"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// Storage handles all database operations
type Storage struct {
	db *sql.DB
}

// New creates a new Storage instance and initializes the database
func New(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	s := &Storage{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS payment_sessions (
			id TEXT PRIMARY KEY,
			user_key TEXT NOT NULL,
			product_type TEXT NOT NULL,
			product_id TEXT NOT NULL,
			amount TEXT NOT NULL,
			method TEXT NOT NULL,
			status TEXT NOT NULL,
			correlation_id TEXT NOT NULL UNIQUE,
			fail_reason TEXT,
			fail_message TEXT,
			next_step TEXT,
			created_at INTEGER NOT NULL,
			expires_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user_key ON payment_sessions(user_key)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_correlation ON payment_sessions(correlation_id)`,

		`CREATE TABLE IF NOT EXISTS confirmations (
			correlation_id TEXT PRIMARY KEY,
			tx_ref TEXT NOT NULL,
			identity TEXT NOT NULL,
			product_ref TEXT NOT NULL,
			verified_at INTEGER NOT NULL
		)`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}

	return nil
}

// --- Sessions ---

// CreateSession inserts a new payment session. The correlation id is unique
// for all time; an insert with a reused id fails.
func (s *Storage) CreateSession(sess *payment.Session) error {
	var expiresAt interface{}
	if sess.ExpiresAt != nil {
		expiresAt = sess.ExpiresAt.Unix()
	}

	_, err := s.db.Exec(
		`INSERT INTO payment_sessions
		 (id, user_key, product_type, product_id, amount, method, status, correlation_id, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserKey, sess.ProductType, sess.ProductID,
		sess.Amount.String(), string(sess.Method), string(sess.Status),
		sess.CorrelationID, sess.CreatedAt.Unix(), expiresAt,
	)
	return err
}

// UpdateSessionStatus records a status transition and, for terminal
// failures, the structured outcome.
func (s *Storage) UpdateSessionStatus(id string, status payment.Status, out payment.Outcome) error {
	res, err := s.db.Exec(
		`UPDATE payment_sessions
		 SET status = ?, fail_reason = ?, fail_message = ?, next_step = ?
		 WHERE id = ?`,
		string(status), string(out.Reason), out.Message, out.NextStep, id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetSession loads a session by id.
func (s *Storage) GetSession(id string) (*payment.Session, error) {
	row := s.db.QueryRow(
		`SELECT id, user_key, product_type, product_id, amount, method, status,
		        correlation_id, fail_reason, fail_message, next_step, created_at, expires_at
		 FROM payment_sessions WHERE id = ?`, id,
	)
	return scanSession(row)
}

// GetSessionByCorrelationID loads a session by its correlation id.
func (s *Storage) GetSessionByCorrelationID(correlationID string) (*payment.Session, error) {
	row := s.db.QueryRow(
		`SELECT id, user_key, product_type, product_id, amount, method, status,
		        correlation_id, fail_reason, fail_message, next_step, created_at, expires_at
		 FROM payment_sessions WHERE correlation_id = ?`, correlationID,
	)
	return scanSession(row)
}

func scanSession(row *sql.Row) (*payment.Session, error) {
	var sess payment.Session
	var amount, method, status string
	var reason, message, nextStep sql.NullString
	var createdAt int64
	var expiresAt sql.NullInt64

	err := row.Scan(
		&sess.ID, &sess.UserKey, &sess.ProductType, &sess.ProductID,
		&amount, &method, &status, &sess.CorrelationID,
		&reason, &message, &nextStep, &createdAt, &expiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	sess.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, err
	}
	sess.Method = payment.Method(method)
	sess.Status = payment.Status(status)
	sess.Outcome = payment.Outcome{
		Reason:   payment.FailureReason(reason.String),
		Message:  message.String,
		NextStep: nextStep.String,
	}
	sess.CreatedAt = time.Unix(createdAt, 0).UTC()
	if expiresAt.Valid {
		t := time.Unix(expiresAt.Int64, 0).UTC()
		sess.ExpiresAt = &t
	}

	return &sess, nil
}

// --- Confirmations ---

// SaveConfirmation records a confirmed payment. Idempotent per correlation id.
func (s *Storage) SaveConfirmation(rec payment.ConfirmationRecord) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO confirmations (correlation_id, tx_ref, identity, product_ref, verified_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.CorrelationID, rec.TxRef, rec.Identity, rec.ProductRef, rec.VerifiedAt.Unix(),
	)
	return err
}

// GetConfirmation loads a confirmation by correlation id.
func (s *Storage) GetConfirmation(correlationID string) (*payment.ConfirmationRecord, error) {
	var rec payment.ConfirmationRecord
	var verifiedAt int64

	err := s.db.QueryRow(
		`SELECT correlation_id, tx_ref, identity, product_ref, verified_at
		 FROM confirmations WHERE correlation_id = ?`, correlationID,
	).Scan(&rec.CorrelationID, &rec.TxRef, &rec.Identity, &rec.ProductRef, &verifiedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rec.VerifiedAt = time.Unix(verifiedAt, 0).UTC()
	return &rec, nil
}
