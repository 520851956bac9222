package postgres

import (
	"context"
	"database/sql"
	"errors"

	"ridehail/internal/domain"
	"ridehail/internal/repository"
)

// PaymentRepository is a PostgreSQL implementation of repository.PaymentRepository.
type PaymentRepository struct {
	q Querier
}

// NewPaymentRepository creates a new PostgreSQL payment repository.
func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{q: db}
}

var _ repository.PaymentRepository = (*PaymentRepository)(nil)

const paymentColumns = `id, ride_id, amount, method, status, provider_ref, idempotency_key, created_at`

func scanPayment(row rowScanner) (*domain.Payment, error) {
	var p domain.Payment
	var providerRef sql.NullString
	if err := row.Scan(
		&p.ID,
		&p.RideID,
		&p.Amount,
		&p.Method,
		&p.Status,
		&providerRef,
		&p.IdempotencyKey,
		&p.CreatedAt,
	); err != nil {
		return nil, err
	}
	p.ProviderRef = providerRef.String
	return &p, nil
}

// Create persists a new payment.
func (r *PaymentRepository) Create(ctx context.Context, payment *domain.Payment) error {
	query := `
		INSERT INTO payments (id, ride_id, amount, method, status, provider_ref, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.q.ExecContext(ctx, query,
		payment.ID,
		payment.RideID,
		payment.Amount,
		payment.Method,
		payment.Status,
		nullString(payment.ProviderRef),
		payment.IdempotencyKey,
		payment.CreatedAt,
	)
	return classify(err)
}

// GetByID retrieves a payment by ID.
func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`

	p, err := scanPayment(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, classify(err)
	}
	return p, nil
}

// GetByIdempotencyKey retrieves a payment by its idempotency key.
// Returns nil if no payment exists with the given key.
func (r *PaymentRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE idempotency_key = $1`

	p, err := scanPayment(r.q.QueryRowContext(ctx, query, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, classify(err)
	}
	return p, nil
}

// UpdateStatus records the outcome of a payment attempt.
func (r *PaymentRepository) UpdateStatus(ctx context.Context, id string, status domain.PaymentStatus, providerRef string) error {
	query := `UPDATE payments SET status = $1, provider_ref = COALESCE($2, provider_ref) WHERE id = $3`

	result, err := r.q.ExecContext(ctx, query, status, nullString(providerRef), id)
	if err != nil {
		return classify(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return classify(err)
	}

	if rowsAffected == 0 {
		return repository.ErrNotFound
	}

	return nil
}
