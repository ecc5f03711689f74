package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"paymesh/internal/domain"
)

const (
	uniqueViolation = "23505"

	selectAuditColumns = `SELECT sequence, payment_id, gateway_id, kind, references_payment_id, request, response, recorded_at FROM audit_log`
)

type PostgresAuditStore struct {
	pool *pgxpool.Pool
}

func NewPostgresAuditStore(pool *pgxpool.Pool) *PostgresAuditStore {
	return &PostgresAuditStore{pool: pool}
}

func (s *PostgresAuditStore) Append(ctx context.Context, entry domain.AuditLogEntry) (domain.AuditLogEntry, error) {
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

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.AuditLogEntry{}, err
	}
	defer tx.Rollback(ctx)

	if entry.Kind == domain.EntryDispatch {
		existing, err := scanPostgresEntry(tx.QueryRow(ctx,
			selectAuditColumns+` WHERE payment_id = $1 AND kind = 'dispatch'`, entry.PaymentID))
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return domain.AuditLogEntry{}, err
		}
	}
	if entry.Kind == domain.EntryConfirmation {
		var exists bool
		if err := tx.QueryRow(ctx,
			`select exists(select 1 from audit_log where payment_id = $1)`, entry.PaymentID).Scan(&exists); err != nil {
			return domain.AuditLogEntry{}, err
		}
		if !exists {
			return domain.AuditLogEntry{}, fmt.Errorf("%w: %s", domain.ErrPaymentNotFound, entry.PaymentID)
		}
	}

	var seq int64
	err = tx.QueryRow(ctx, `
		insert into audit_log
			(payment_id, gateway_id, kind, references_payment_id, customer_id, status, request, response, recorded_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		returning sequence`,
		entry.PaymentID, entry.GatewayID, string(entry.Kind), entry.ReferencesPaymentID,
		entry.Request.CustomerID, string(entry.Response.Status), req, resp, entry.RecordedAt,
	).Scan(&seq)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && entry.Kind == domain.EntryConfirmation {
			return domain.AuditLogEntry{}, fmt.Errorf("%w: %s", domain.ErrAlreadyConfirmed, entry.PaymentID)
		}
		return domain.AuditLogEntry{}, fmt.Errorf("insert audit entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.AuditLogEntry{}, err
	}

	entry = entry.Clone()
	entry.Sequence = seq
	return entry, nil
}

func (s *PostgresAuditStore) Query(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditLogEntry, error) {
	where, args := auditWhere(filter,
		func(n int) string { return fmt.Sprintf("$%d", n) },
		func(t time.Time) any { return t },
	)

	rows, err := s.pool.Query(ctx, selectAuditColumns+where+" ORDER BY sequence DESC"+limitClause(filter), args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	out := []domain.AuditLogEntry{}
	for rows.Next() {
		e, err := scanPostgresEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresAuditStore) Latest(ctx context.Context, paymentID string) (domain.AuditLogEntry, error) {
	row := s.pool.QueryRow(ctx, selectAuditColumns+` WHERE payment_id = $1 ORDER BY sequence DESC LIMIT 1`, paymentID)

	e, err := scanPostgresEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AuditLogEntry{}, fmt.Errorf("%w: %s", domain.ErrPaymentNotFound, paymentID)
	}
	return e, err
}

func scanPostgresEntry(row pgx.Row) (domain.AuditLogEntry, error) {
	var (
		e         domain.AuditLogEntry
		kind      string
		req, resp []byte
	)
	if err := row.Scan(&e.Sequence, &e.PaymentID, &e.GatewayID, &kind, &e.ReferencesPaymentID, &req, &resp, &e.RecordedAt); err != nil {
		return domain.AuditLogEntry{}, err
	}
	e.Kind = domain.EntryKind(kind)
	e.RecordedAt = e.RecordedAt.UTC()
	if err := decodeBlobs(&e, req, resp); err != nil {
		return domain.AuditLogEntry{}, err
	}
	return e, nil
}
