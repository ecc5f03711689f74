package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"paymesh/internal/domain"
)

// RedisAuditStore keeps each entry as JSON in one hash keyed by sequence,
// a time index in a sorted set scored by microseconds, and a per-payment
// list of sequences.
type RedisAuditStore struct {
	client *redis.Client
	prefix string
}

func NewRedisAuditStore(client *redis.Client, prefix string) *RedisAuditStore {
	if prefix == "" {
		prefix = "paymesh"
	}
	return &RedisAuditStore{client: client, prefix: prefix}
}

func (r *RedisAuditStore) seqKey() string      { return r.prefix + ":audit:seq" }
func (r *RedisAuditStore) entriesKey() string  { return r.prefix + ":audit:entries" }
func (r *RedisAuditStore) timelineKey() string { return r.prefix + ":audit:timeline" }
func (r *RedisAuditStore) paymentKey(id string) string {
	return fmt.Sprintf("%s:audit:payment:%s", r.prefix, id)
}

// kindKey marks that a payment has its one entry of the given kind and
// holds that entry's sequence.
func (r *RedisAuditStore) kindKey(kind domain.EntryKind, id string) string {
	return fmt.Sprintf("%s:audit:%s:%s", r.prefix, kind, id)
}

// Append writes the entry under WATCH on its kind marker, so a dispatch is
// stored once per payment and a confirmation at most once. Re-appending a
// dispatch returns the stored entry.
func (r *RedisAuditStore) Append(ctx context.Context, entry domain.AuditLogEntry) (domain.AuditLogEntry, error) {
	if err := checkEntry(entry); err != nil {
		return domain.AuditLogEntry{}, err
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}

	seq, err := r.client.Incr(ctx, r.seqKey()).Result()
	if err != nil {
		return domain.AuditLogEntry{}, fmt.Errorf("allocate sequence: %w", err)
	}
	entry = entry.Clone()
	entry.Sequence = seq

	body, err := json.Marshal(entry)
	if err != nil {
		return domain.AuditLogEntry{}, fmt.Errorf("encode audit entry: %w", err)
	}

	marker := r.kindKey(entry.Kind, entry.PaymentID)
	stored := entry

	write := func(tx *redis.Tx) error {
		existing, err := tx.Get(ctx, marker).Result()
		switch {
		case err == nil && entry.Kind == domain.EntryConfirmation:
			return fmt.Errorf("%w: %s", domain.ErrAlreadyConfirmed, entry.PaymentID)
		case err == nil:
			entries, err := r.load(ctx, []string{existing})
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				return fmt.Errorf("audit entry %s of %s is missing", existing, entry.PaymentID)
			}
			stored = entries[0]
			return nil
		case !errors.Is(err, redis.Nil):
			return err
		}

		if entry.Kind == domain.EntryConfirmation {
			n, err := tx.Exists(ctx, r.paymentKey(entry.PaymentID)).Result()
			if err != nil {
				return err
			}
			if n == 0 {
				return fmt.Errorf("%w: %s", domain.ErrPaymentNotFound, entry.PaymentID)
			}
		}

		member := strconv.FormatInt(seq, 10)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, r.entriesKey(), member, body)
			pipe.ZAdd(ctx, r.timelineKey(), redis.Z{
				Score:  float64(entry.RecordedAt.UnixMicro()),
				Member: member,
			})
			pipe.RPush(ctx, r.paymentKey(entry.PaymentID), member)
			pipe.Set(ctx, marker, member, 0)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < 3; attempt++ {
		err = r.client.Watch(ctx, write, marker)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return domain.AuditLogEntry{}, fmt.Errorf("write audit entry: %w", err)
	}
	return stored, nil
}

func (r *RedisAuditStore) Query(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditLogEntry, error) {
	var members []string
	var err error

	if filter.PaymentID != "" {
		members, err = r.client.LRange(ctx, r.paymentKey(filter.PaymentID), 0, -1).Result()
	} else {
		min, max := "-inf", "+inf"
		if !filter.StartTime.IsZero() {
			min = strconv.FormatInt(filter.StartTime.UnixMicro(), 10)
		}
		if !filter.EndTime.IsZero() {
			max = strconv.FormatInt(filter.EndTime.UnixMicro(), 10)
		}
		members, err = r.client.ZRangeByScore(ctx, r.timelineKey(), &redis.ZRangeBy{Min: min, Max: max}).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("query audit index: %w", err)
	}

	entries, err := r.load(ctx, members)
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Sequence > entries[j].Sequence })

	out := []domain.AuditLogEntry{}
	for _, e := range entries {
		if !filter.Matches(e) {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (r *RedisAuditStore) Latest(ctx context.Context, paymentID string) (domain.AuditLogEntry, error) {
	member, err := r.client.LIndex(ctx, r.paymentKey(paymentID), -1).Result()
	if errors.Is(err, redis.Nil) {
		return domain.AuditLogEntry{}, fmt.Errorf("%w: %s", domain.ErrPaymentNotFound, paymentID)
	}
	if err != nil {
		return domain.AuditLogEntry{}, err
	}

	entries, err := r.load(ctx, []string{member})
	if err != nil {
		return domain.AuditLogEntry{}, err
	}
	if len(entries) == 0 {
		return domain.AuditLogEntry{}, fmt.Errorf("%w: %s", domain.ErrPaymentNotFound, paymentID)
	}
	return entries[0], nil
}

func (r *RedisAuditStore) load(ctx context.Context, members []string) ([]domain.AuditLogEntry, error) {
	if len(members) == 0 {
		return nil, nil
	}

	values, err := r.client.HMGet(ctx, r.entriesKey(), members...).Result()
	if err != nil {
		return nil, fmt.Errorf("load audit entries: %w", err)
	}

	out := make([]domain.AuditLogEntry, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var e domain.AuditLogEntry
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			return nil, fmt.Errorf("decode audit entry: %w", err)
		}
		e.RecordedAt = e.RecordedAt.UTC()
		out = append(out, e)
	}
	return out, nil
}
