package subscription

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const subscriptionColumns = `
	id, name, COALESCE(description,''), url, events, secret, active,
	COALESCE(headers,'{}'::jsonb), max_retries, retry_backoff, timeout,
	COALESCE(filters,'{}'::jsonb),
	created_at, COALESCE(updated_at, created_at),
	total_deliveries, successful_deliveries, failed_deliveries,
	last_delivery_at, last_success_at, last_failure_at`

// PgRegistry is the Postgres-backed subscription registry.
type PgRegistry struct {
	pool *pgxpool.Pool
}

func NewPgRegistry(pool *pgxpool.Pool) *PgRegistry {
	return &PgRegistry{pool: pool}
}

// FindActiveForEvent selects subscriptions that are active and whose
// events array contains eventType. Uses the jsonb containment operator so
// the match happens in the store, not in application memory.
func (r *PgRegistry) FindActiveForEvent(ctx context.Context, eventType string) ([]Subscription, error) {
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s
		FROM hookline.subscriptions
		WHERE active = true AND events @> to_jsonb(ARRAY[$1::text])`, subscriptionColumns),
		eventType,
	)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions for %q: %w", eventType, err)
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}
	return subs, nil
}

// Create inserts a new subscription and returns it with server-assigned
// fields populated.
func (r *PgRegistry) Create(ctx context.Context, s *Subscription) (*Subscription, error) {
	events, err := json.Marshal(s.Events)
	if err != nil {
		return nil, fmt.Errorf("encode events: %w", err)
	}
	headers, err := json.Marshal(s.Headers)
	if err != nil {
		return nil, fmt.Errorf("encode headers: %w", err)
	}
	filters, err := json.Marshal(s.Filters)
	if err != nil {
		return nil, fmt.Errorf("encode filters: %w", err)
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO hookline.subscriptions
			(name, description, url, events, secret, active, headers,
			 max_retries, retry_backoff, timeout, filters)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at`,
		s.Name, s.Description, s.URL, events, string(s.Secret), s.Active, headers,
		s.MaxRetries, s.RetryBackoff, s.Timeout, filters,
	)
	out := *s
	if err := row.Scan(&out.ID, &out.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert subscription: %w", err)
	}
	out.UpdatedAt = out.CreatedAt
	return &out, nil
}

// List returns all subscriptions, newest first. Used by the CLI; the
// delivery path only ever goes through FindActiveForEvent and Get.
func (r *PgRegistry) List(ctx context.Context) ([]Subscription, error) {
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s
		FROM hookline.subscriptions
		ORDER BY created_at DESC`, subscriptionColumns),
	)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}
	return subs, nil
}

// Get returns the subscription with the given id, or ErrNotFound.
func (r *PgRegistry) Get(ctx context.Context, id string) (*Subscription, error) {
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s
		FROM hookline.subscriptions
		WHERE id = $1`, subscriptionColumns),
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("query subscription %s: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return scanSubscription(rows)
}

// IncrementCounters bumps the delivery counters with atomic SQL increments
// so concurrent workers never lose updates.
func (r *PgRegistry) IncrementCounters(ctx context.Context, id string, success bool, at time.Time) error {
	return IncrementCountersTx(ctx, r.pool, id, success, at)
}

// Execer covers both pgxpool.Pool and pgx.Tx so the ledger can fold the
// counter increment into the same transaction as the attempt insert.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// IncrementCountersTx runs the counter increment against any pgx executor
// (pool or open transaction).
func IncrementCountersTx(ctx context.Context, db Execer, id string, success bool, at time.Time) error {
	var q string
	if success {
		q = `
			UPDATE hookline.subscriptions
			SET total_deliveries = total_deliveries + 1,
			    successful_deliveries = successful_deliveries + 1,
			    last_delivery_at = $2,
			    last_success_at = $2
			WHERE id = $1`
	} else {
		q = `
			UPDATE hookline.subscriptions
			SET total_deliveries = total_deliveries + 1,
			    failed_deliveries = failed_deliveries + 1,
			    last_delivery_at = $2,
			    last_failure_at = $2
			WHERE id = $1`
	}
	ct, err := db.Exec(ctx, q, id, at)
	if err != nil {
		return fmt.Errorf("increment counters for %s: %w", id, err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSubscription(rows pgx.Rows) (*Subscription, error) {
	var (
		s            Subscription
		eventsJSON   []byte
		headersJSON  []byte
		filtersJSON  []byte
		secret       string
		lastDelivery sql.NullTime
		lastSuccess  sql.NullTime
		lastFailure  sql.NullTime
	)
	if err := rows.Scan(
		&s.ID, &s.Name, &s.Description, &s.URL, &eventsJSON, &secret, &s.Active,
		&headersJSON, &s.MaxRetries, &s.RetryBackoff, &s.Timeout,
		&filtersJSON,
		&s.CreatedAt, &s.UpdatedAt,
		&s.TotalDeliveries, &s.SuccessfulDeliveries, &s.FailedDeliveries,
		&lastDelivery, &lastSuccess, &lastFailure,
	); err != nil {
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	s.Secret = []byte(secret)
	if err := json.Unmarshal(eventsJSON, &s.Events); err != nil {
		return nil, fmt.Errorf("decode events for %s: %w", s.ID, err)
	}
	if len(headersJSON) > 0 {
		if err := json.Unmarshal(headersJSON, &s.Headers); err != nil {
			return nil, fmt.Errorf("decode headers for %s: %w", s.ID, err)
		}
	}
	if len(filtersJSON) > 0 {
		if err := json.Unmarshal(filtersJSON, &s.Filters); err != nil {
			return nil, fmt.Errorf("decode filters for %s: %w", s.ID, err)
		}
	}
	if lastDelivery.Valid {
		s.LastDeliveryAt = &lastDelivery.Time
	}
	if lastSuccess.Valid {
		s.LastSuccessAt = &lastSuccess.Time
	}
	if lastFailure.Valid {
		s.LastFailureAt = &lastFailure.Time
	}
	return &s, nil
}

var _ Registry = (*PgRegistry)(nil)
