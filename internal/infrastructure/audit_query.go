package infrastructure

import (
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"paymesh/internal/domain"
)

// auditWhere renders filter as a WHERE clause. placeholder numbers
// arguments for drivers that need it and ts converts time bounds to the
// column's representation.
func auditWhere(filter domain.AuditFilter, placeholder func(n int) string, ts func(time.Time) any) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, placeholder(len(args))))
	}

	if filter.PaymentID != "" {
		add("payment_id = %s", filter.PaymentID)
	}
	if filter.GatewayID != "" {
		add("gateway_id = %s", filter.GatewayID)
	}
	if filter.CustomerID != "" {
		add("customer_id = %s", filter.CustomerID)
	}
	if filter.Status != "" {
		add("status = %s", string(filter.Status))
	}
	if !filter.StartTime.IsZero() {
		add("recorded_at >= %s", ts(filter.StartTime))
	}
	if !filter.EndTime.IsZero() {
		add("recorded_at <= %s", ts(filter.EndTime))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func limitClause(filter domain.AuditFilter) string {
	if filter.Limit > 0 {
		return fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	return ""
}

// entryBlobs encodes the request and response columns.
func entryBlobs(entry domain.AuditLogEntry) ([]byte, []byte, error) {
	req, err := json.Marshal(entry.Request)
	if err != nil {
		return nil, nil, fmt.Errorf("encode request: %w", err)
	}
	resp, err := json.Marshal(entry.Response)
	if err != nil {
		return nil, nil, fmt.Errorf("encode response: %w", err)
	}
	return req, resp, nil
}

func decodeBlobs(entry *domain.AuditLogEntry, req, resp []byte) error {
	if err := json.Unmarshal(req, &entry.Request); err != nil {
		return fmt.Errorf("decode request of %s: %w", entry.PaymentID, err)
	}
	if err := json.Unmarshal(resp, &entry.Response); err != nil {
		return fmt.Errorf("decode response of %s: %w", entry.PaymentID, err)
	}
	return nil
}
