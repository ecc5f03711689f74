package infrastructure

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"paymesh/internal/domain"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS audit_log (
		sequence INTEGER PRIMARY KEY AUTOINCREMENT,
		payment_id TEXT NOT NULL,
		gateway_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		references_payment_id TEXT NOT NULL DEFAULT '',
		customer_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		request TEXT NOT NULL,
		response TEXT NOT NULL,
		recorded_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_payment ON audit_log(payment_id);
	CREATE INDEX IF NOT EXISTS idx_audit_recorded ON audit_log(recorded_at);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_audit_one_dispatch
		ON audit_log(payment_id) WHERE kind = 'dispatch';
	CREATE UNIQUE INDEX IF NOT EXISTS idx_audit_one_confirmation
		ON audit_log(payment_id) WHERE kind = 'confirmation';
`

// SQLiteAuditStore is the single-node durable backend. One connection
// serializes writers.
type SQLiteAuditStore struct {
	db *sql.DB
}

func NewSQLiteAuditStore(path string) (*SQLiteAuditStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	store := &SQLiteAuditStore{db: db}
	if err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteAuditStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteSchema)
	return err
}

func (s *SQLiteAuditStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteAuditStore) Append(ctx context.Context, entry domain.AuditLogEntry) (domain.AuditLogEntry, error) {
	if err := checkEntry(entry); err != nil {
		return domain.AuditLogEntry{}, err
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}

	req, resp, err := entryBlobs(entry)
	if err != nil {
		return domain.AuditLogEntry{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.AuditLogEntry{}, err
	}
	defer tx.Rollback()

	if entry.Kind == domain.EntryDispatch {
		existing, err := scanSQLiteEntry(tx.QueryRowContext(ctx, `
			SELECT sequence, payment_id, gateway_id, kind, references_payment_id, request, response, recorded_at
			FROM audit_log WHERE payment_id = ? AND kind = 'dispatch'`, entry.PaymentID))
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return domain.AuditLogEntry{}, err
		}
	}
	if entry.Kind == domain.EntryConfirmation {
		var n int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM audit_log WHERE payment_id = ?`, entry.PaymentID).Scan(&n); err != nil {
			return domain.AuditLogEntry{}, err
		}
		if n == 0 {
			return domain.AuditLogEntry{}, fmt.Errorf("%w: %s", domain.ErrPaymentNotFound, entry.PaymentID)
		}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO audit_log
			(payment_id, gateway_id, kind, references_payment_id, customer_id, status, request, response, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.PaymentID, entry.GatewayID, string(entry.Kind), entry.ReferencesPaymentID,
		entry.Request.CustomerID, string(entry.Response.Status), string(req), string(resp),
		entry.RecordedAt.UnixNano(),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique && entry.Kind == domain.EntryConfirmation {
			return domain.AuditLogEntry{}, fmt.Errorf("%w: %s", domain.ErrAlreadyConfirmed, entry.PaymentID)
		}
		return domain.AuditLogEntry{}, fmt.Errorf("insert audit entry: %w", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return domain.AuditLogEntry{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.AuditLogEntry{}, err
	}

	entry = entry.Clone()
	entry.Sequence = seq
	return entry, nil
}

func (s *SQLiteAuditStore) Query(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditLogEntry, error) {
	where, args := auditWhere(filter,
		func(int) string { return "?" },
		func(t time.Time) any { return t.UnixNano() },
	)

	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, payment_id, gateway_id, kind, references_payment_id, request, response, recorded_at
		FROM audit_log`+where+` ORDER BY sequence DESC`+limitClause(filter), args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	out := []domain.AuditLogEntry{}
	for rows.Next() {
		e, err := scanSQLiteEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteAuditStore) Latest(ctx context.Context, paymentID string) (domain.AuditLogEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT sequence, payment_id, gateway_id, kind, references_payment_id, request, response, recorded_at
		FROM audit_log WHERE payment_id = ? ORDER BY sequence DESC LIMIT 1`, paymentID)

	e, err := scanSQLiteEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AuditLogEntry{}, fmt.Errorf("%w: %s", domain.ErrPaymentNotFound, paymentID)
	}
	return e, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteEntry(row rowScanner) (domain.AuditLogEntry, error) {
	var (
		e         domain.AuditLogEntry
		kind      string
		req, resp string
		nanos     int64
	)
	if err := row.Scan(&e.Sequence, &e.PaymentID, &e.GatewayID, &kind, &e.ReferencesPaymentID, &req, &resp, &nanos); err != nil {
		return domain.AuditLogEntry{}, err
	}
	e.Kind = domain.EntryKind(kind)
	e.RecordedAt = time.Unix(0, nanos).UTC()
	if err := decodeBlobs(&e, []byte(req), []byte(resp)); err != nil {
		return domain.AuditLogEntry{}, err
	}
	return e, nil
}
