package repository

import (
	"context"
	"errors"
	"time"

	"github.com/vibast-solutions/ms-go-settlement/app/entity"
)

var ErrWebhookOutcomeFinal = errors.New("webhook event outcome already set")

type WebhookEventRepository struct {
	db DBTX
}

func NewWebhookEventRepository(db DBTX) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

func (r *WebhookEventRepository) Create(ctx context.Context, event *entity.WebhookEvent) error {
	query := `
		INSERT INTO webhook_events (
			event_id, provider, signature, payload_json, verified, outcome, error, received_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		event.EventID,
		event.Provider,
		event.Signature,
		event.PayloadJSON,
		event.Verified,
		event.Outcome,
		nullableStringValue(event.Error),
		event.ReceivedAt,
		event.UpdatedAt,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	event.ID = uint64(id)

	return nil
}

// SetOutcome moves the event out of Received exactly once; rows whose outcome
// was already set are immutable.
func (r *WebhookEventRepository) SetOutcome(ctx context.Context, id uint64, outcome int32, errDetail *string) error {
	query := `
		UPDATE webhook_events
		SET outcome = ?, error = ?, updated_at = ?
		WHERE id = ? AND outcome = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		outcome,
		nullableStringValue(errDetail),
		time.Now().UTC(),
		id,
		entity.WebhookOutcomeReceived,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrWebhookOutcomeFinal
	}

	return nil
}

func (r *WebhookEventRepository) PruneOlderThan(ctx context.Context, cutoff time.Time, limit int32) (int64, error) {
	query := `
		DELETE FROM webhook_events
		WHERE received_at <= ? AND outcome <> ?
		ORDER BY received_at ASC
		LIMIT ?
	`

	result, err := r.db.ExecContext(ctx, query, cutoff, entity.WebhookOutcomeReceived, limit)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}
