package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hookline/hookline/internal/subscription"
)

const defaultListLimit = 100

// PgStore writes delivery attempts to hookline.delivery_attempts and
// bumps the subscription counters in the same transaction, so the ledger
// row and the statistics can never diverge.
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) Record(ctx context.Context, a *Attempt) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	defer tx.Rollback(ctx)

	headersJSON, err := json.Marshal(a.Headers)
	if err != nil {
		return fmt.Errorf("encode headers: %w", err)
	}

	if err := tx.QueryRow(ctx, `
		INSERT INTO hookline.delivery_attempts(
			subscription_id, event_id, event_type, payload, url, headers,
			status_code, response_body, success, error_message,
			created_at, delivered_at, duration_ms,
			attempt_number, will_retry, next_retry_at)
		VALUES ($1,$2,$3,$4::jsonb,$5,$6::jsonb,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		RETURNING id`,
		a.SubscriptionID, a.EventID, a.EventType, string(a.Payload), a.URL, string(headersJSON),
		a.StatusCode, a.ResponseBody, a.Success, nullIfEmpty(a.ErrorMessage),
		a.CreatedAt, a.DeliveredAt, a.DurationMS,
		a.AttemptNumber, a.WillRetry, a.NextRetryAt,
	).Scan(&a.ID); err != nil {
		return fmt.Errorf("insert delivery attempt: %w", err)
	}

	if err := subscription.IncrementCountersTx(ctx, tx, a.SubscriptionID, a.Success, a.CreatedAt); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}
	return nil
}

func (s *PgStore) List(ctx context.Context, f Filter) ([]Attempt, error) {
	where := "1=1"
	args := []any{}
	argn := 0
	if f.SubscriptionID != "" {
		argn++
		where += fmt.Sprintf(" AND subscription_id = $%d", argn)
		args = append(args, f.SubscriptionID)
	}
	if f.EventType != "" {
		argn++
		where += fmt.Sprintf(" AND event_type = $%d", argn)
		args = append(args, f.EventType)
	}
	if f.Success != nil {
		argn++
		where += fmt.Sprintf(" AND success = $%d", argn)
		args = append(args, *f.Success)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	argn++
	args = append(args, limit)

	q := fmt.Sprintf(`
		SELECT id, subscription_id, event_id, event_type, payload::text, url, headers::text,
		       status_code, COALESCE(response_body,''), success, COALESCE(error_message,''),
		       created_at, delivered_at, duration_ms,
		       attempt_number, will_retry, next_retry_at
		FROM hookline.delivery_attempts
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d`, where, argn)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list delivery attempts: %w", err)
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var (
			a           Attempt
			payload     string
			headersJSON string
			status      sql.NullInt32
			delivered   sql.NullTime
			nextRetry   sql.NullTime
		)
		if err := rows.Scan(
			&a.ID, &a.SubscriptionID, &a.EventID, &a.EventType, &payload, &a.URL, &headersJSON,
			&status, &a.ResponseBody, &a.Success, &a.ErrorMessage,
			&a.CreatedAt, &delivered, &a.DurationMS,
			&a.AttemptNumber, &a.WillRetry, &nextRetry,
		); err != nil {
			return nil, fmt.Errorf("scan delivery attempt: %w", err)
		}
		a.Payload = []byte(payload)
		if headersJSON != "" {
			_ = json.Unmarshal([]byte(headersJSON), &a.Headers)
		}
		if status.Valid {
			code := int(status.Int32)
			a.StatusCode = &code
		}
		if delivered.Valid {
			t := delivered.Time
			a.DeliveredAt = &t
		}
		if nextRetry.Valid {
			t := nextRetry.Time
			a.NextRetryAt = &t
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate delivery attempts: %w", err)
	}
	return out, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ Store = (*PgStore)(nil)
