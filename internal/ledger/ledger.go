package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattjoyce/requestnet/pkg/schema"
	"github.com/mattjoyce/requestnet/pkg/webhook"
)

// timeLayout is fixed width so that text columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Ledger is an append-only record of accepted deliveries. It never
// rejects a delivery for being a repeat; callers use CountByFingerprint
// to decide that themselves.
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

func New(db *sql.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// RequestFor builds the record for a parsed event.
func RequestFor(ev *webhook.ParsedEvent, httpRequestID string) RecordRequest {
	req := RecordRequest{
		Event:         ev.Event(),
		RequestID:     requestIDOf(ev.Payload()),
		Fingerprint:   ev.Fingerprint(),
		Verified:      ev.Verified(),
		SecretIndex:   ev.MatchedSecretIndex(),
		HTTPRequestID: httpRequestID,
		Payload:       ev.RawBody(),
	}
	if sig, ok := ev.Signature(); ok {
		req.Signature = sig
	}
	if ms, ok := ev.Timestamp(); ok {
		t := time.UnixMilli(ms).UTC()
		req.DeliveredAt = &t
	}
	return req
}

func requestIDOf(p schema.Payload) string {
	switch v := p.(type) {
	case schema.PaymentConfirmed:
		return v.RequestID
	case schema.PaymentFailed:
		return v.RequestID
	case schema.PaymentProcessing:
		return v.RequestID
	case schema.PaymentPartial:
		return v.RequestID
	case schema.PaymentRefunded:
		return v.RequestID
	case schema.RequestRecurring:
		return v.RequestID
	case schema.RawPayload:
		s, _ := v.Fields["requestId"].(string)
		return s
	default:
		return ""
	}
}

// Record stores a delivery and returns it with its new id.
func (l *Ledger) Record(ctx context.Context, req RecordRequest) (*Delivery, error) {
	if req.Event == "" {
		return nil, fmt.Errorf("event is empty")
	}
	if req.Fingerprint == "" {
		return nil, fmt.Errorf("fingerprint is empty")
	}
	if len(req.Payload) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	d := &Delivery{
		ID:            uuid.NewString(),
		Event:         req.Event,
		RequestID:     req.RequestID,
		Fingerprint:   req.Fingerprint,
		Verified:      req.Verified,
		SecretIndex:   req.SecretIndex,
		Signature:     req.Signature,
		DeliveredAt:   req.DeliveredAt,
		ReceivedAt:    l.now().UTC(),
		HTTPRequestID: req.HTTPRequestID,
		Payload:       req.Payload,
	}
	if !d.Verified {
		d.SecretIndex = -1
	}

	var deliveredAt any
	if d.DeliveredAt != nil {
		deliveredAt = d.DeliveredAt.UTC().Format(timeLayout)
	}

	_, err := l.db.ExecContext(ctx, `
INSERT INTO webhook_delivery(
  id, event, request_id, fingerprint, verified, secret_index, signature,
  delivered_at, received_at, http_request_id, payload
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, d.ID, d.Event, nullIfEmpty(d.RequestID), d.Fingerprint, d.Verified, d.SecretIndex, nullIfEmpty(d.Signature),
		deliveredAt, d.ReceivedAt.Format(timeLayout), nullIfEmpty(d.HTTPRequestID), string(d.Payload))
	if err != nil {
		return nil, fmt.Errorf("record delivery: %w", err)
	}
	return d, nil
}

const selectColumns = `
  id, event, request_id, fingerprint, verified, secret_index, signature,
  delivered_at, received_at, http_request_id, payload`

// Get returns one delivery by id.
func (l *Ledger) Get(ctx context.Context, id string) (*Delivery, error) {
	row := l.db.QueryRowContext(ctx, `SELECT`+selectColumns+` FROM webhook_delivery WHERE id = ?;`, id)
	d, err := scanDelivery(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDeliveryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get delivery: %w", err)
	}
	return d, nil
}

// Recent lists deliveries newest first.
func (l *Ledger) Recent(ctx context.Context, f Filter) ([]Delivery, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	query := `SELECT` + selectColumns + ` FROM webhook_delivery`
	args := []any{}
	if f.Event != "" {
		query += ` WHERE event = ?`
		args = append(args, f.Event)
	}
	query += ` ORDER BY received_at DESC, rowid DESC LIMIT ?;`
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	out := make([]Delivery, 0, limit)
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		out = append(out, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	return out, nil
}

// CountByFingerprint reports how many recorded deliveries share a body fingerprint.
func (l *Ledger) CountByFingerprint(ctx context.Context, fingerprint string) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM webhook_delivery WHERE fingerprint = ?;`, fingerprint).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count deliveries: %w", err)
	}
	return n, nil
}

// Prune deletes deliveries received before cutoff and returns how many were removed.
func (l *Ledger) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM webhook_delivery WHERE received_at < ?;`,
		cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("prune deliveries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune deliveries: %w", err)
	}
	return n, nil
}

// RunPruner deletes deliveries older than retention every interval until ctx ends.
func (l *Ledger) RunPruner(ctx context.Context, retention, interval time.Duration, onPrune func(n int64, err error)) error {
	if retention <= 0 || interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		n, err := l.Prune(ctx, l.now().Add(-retention))
		if onPrune != nil && (err != nil || n > 0) {
			onPrune(n, err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDelivery(row rowScanner) (*Delivery, error) {
	var (
		d             Delivery
		requestID     sql.NullString
		signature     sql.NullString
		deliveredAtS  sql.NullString
		receivedAtS   string
		httpRequestID sql.NullString
		payload       string
	)
	err := row.Scan(
		&d.ID, &d.Event, &requestID, &d.Fingerprint, &d.Verified, &d.SecretIndex, &signature,
		&deliveredAtS, &receivedAtS, &httpRequestID, &payload,
	)
	if err != nil {
		return nil, err
	}

	d.RequestID = requestID.String
	d.Signature = signature.String
	d.HTTPRequestID = httpRequestID.String
	d.Payload = []byte(payload)
	if t, err := time.Parse(time.RFC3339Nano, receivedAtS); err == nil {
		d.ReceivedAt = t
	}
	if deliveredAtS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, deliveredAtS.String); err == nil {
			d.DeliveredAt = &t
		}
	}
	return &d, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
