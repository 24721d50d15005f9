package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/vibast-solutions/ms-go-settlement/app/entity"
)

var (
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrPaymentAlreadyExists = errors.New("payment already exists")
)

type PaymentFilter struct {
	OrderID       string
	CallerService string
	HasStatus     bool
	Status        int32
	Limit         int32
	Offset        int32
}

type PaymentRepository struct {
	db DBTX
}

func NewPaymentRepository(db DBTX) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const paymentColumns = `id, order_id, caller_service, provider_payment_id,
		amount_cents, currency, refunded_cents, status, last_event_id,
		version, created_at, updated_at`

func (r *PaymentRepository) Create(ctx context.Context, payment *entity.Payment) error {
	query := `
		INSERT INTO payments (
			order_id, caller_service, provider_payment_id,
			amount_cents, currency, refunded_cents, status, last_event_id,
			version, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		payment.OrderID,
		payment.CallerService,
		nullableStringValue(payment.ProviderPaymentID),
		payment.AmountCents,
		payment.Currency,
		payment.RefundedCents,
		payment.Status,
		nullableStringValue(payment.LastEventID),
		payment.Version,
		payment.CreatedAt,
		payment.UpdatedAt,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrPaymentAlreadyExists
		}
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	payment.ID = uint64(id)
	return nil
}

// UpdateCAS mirrors JobRepository.UpdateCAS: optimistic locking on the
// version column so racing gateway deliveries never interleave.
func (r *PaymentRepository) UpdateCAS(ctx context.Context, payment *entity.Payment) error {
	query := `
		UPDATE payments SET
			provider_payment_id = ?,
			refunded_cents = ?,
			status = ?,
			last_event_id = ?,
			version = version + 1,
			updated_at = ?
		WHERE id = ? AND version = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		nullableStringValue(payment.ProviderPaymentID),
		payment.RefundedCents,
		payment.Status,
		nullableStringValue(payment.LastEventID),
		payment.UpdatedAt,
		payment.ID,
		payment.Version,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		existing, findErr := r.FindByID(ctx, payment.ID)
		if findErr != nil {
			return findErr
		}
		if existing == nil {
			return ErrPaymentNotFound
		}
		return ErrVersionConflict
	}

	payment.Version++
	return nil
}

func (r *PaymentRepository) FindByID(ctx context.Context, id uint64) (*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = ?`

	payment := &entity.Payment{}
	if err := scanPayment(r.db.QueryRowContext(ctx, query, id), payment); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return payment, nil
}

func (r *PaymentRepository) FindByProviderPaymentID(ctx context.Context, providerPaymentID string) (*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE provider_payment_id = ? LIMIT 1`

	payment := &entity.Payment{}
	if err := scanPayment(r.db.QueryRowContext(ctx, query, providerPaymentID), payment); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return payment, nil
}

func (r *PaymentRepository) FindByOrderID(ctx context.Context, orderID string) (*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE order_id = ? LIMIT 1`

	payment := &entity.Payment{}
	if err := scanPayment(r.db.QueryRowContext(ctx, query, orderID), payment); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return payment, nil
}

func (r *PaymentRepository) List(ctx context.Context, filter PaymentFilter) ([]*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments`

	conditions := make([]string, 0, 3)
	args := make([]interface{}, 0, 5)

	if strings.TrimSpace(filter.OrderID) != "" {
		conditions = append(conditions, "order_id = ?")
		args = append(args, filter.OrderID)
	}
	if strings.TrimSpace(filter.CallerService) != "" {
		conditions = append(conditions, "caller_service = ?")
		args = append(args, filter.CallerService)
	}
	if filter.HasStatus {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY id DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]*entity.Payment, 0)
	for rows.Next() {
		item := &entity.Payment{}
		if err := scanPayment(rows, item); err != nil {
			return nil, err
		}
		payments = append(payments, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return payments, nil
}

func scanPayment(scan rowScanner, payment *entity.Payment) error {
	var providerPaymentID sql.NullString
	var lastEventID sql.NullString

	err := scan.Scan(
		&payment.ID,
		&payment.OrderID,
		&payment.CallerService,
		&providerPaymentID,
		&payment.AmountCents,
		&payment.Currency,
		&payment.RefundedCents,
		&payment.Status,
		&lastEventID,
		&payment.Version,
		&payment.CreatedAt,
		&payment.UpdatedAt,
	)
	if err != nil {
		return err
	}

	payment.ProviderPaymentID = stringPtrFromNull(providerPaymentID)
	payment.LastEventID = stringPtrFromNull(lastEventID)

	return nil
}
