package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"notifyhub/internal/model"
)

type PreferenceRepository struct {
	db *pgxpool.Pool
}

func NewPreferenceRepository(db *pgxpool.Pool) *PreferenceRepository {
	return &PreferenceRepository{db: db}
}

func (r *PreferenceRepository) GetByUserID(ctx context.Context, userID string) (*model.NotificationPreference, error) {
	query := `
        SELECT user_id, email_enabled, sms_enabled, push_enabled, in_app_enabled,
               email_address, phone_number, quiet_hours, frequency, frequency_limits, updated_at
        FROM notification_preferences
        WHERE user_id = $1
    `
	var p model.NotificationPreference
	var quietHours, limits []byte
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&p.UserID,
		&p.EmailEnabled,
		&p.SMSEnabled,
		&p.PushEnabled,
		&p.InAppEnabled,
		&p.EmailAddress,
		&p.PhoneNumber,
		&quietHours,
		&p.Frequency,
		&limits,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(quietHours) > 0 {
		if err := json.Unmarshal(quietHours, &p.QuietHours); err != nil {
			return nil, fmt.Errorf("unmarshal quiet hours: %w", err)
		}
	}
	if len(limits) > 0 {
		if err := json.Unmarshal(limits, &p.FrequencyLimits); err != nil {
			return nil, fmt.Errorf("unmarshal frequency limits: %w", err)
		}
	}
	return &p, nil
}

// Upsert writes the full preference row for a user, creating it on first use.
func (r *PreferenceRepository) Upsert(ctx context.Context, p *model.NotificationPreference) error {
	quietHours, err := json.Marshal(p.QuietHours)
	if err != nil {
		return fmt.Errorf("marshal quiet hours: %w", err)
	}
	limits, err := json.Marshal(p.FrequencyLimits)
	if err != nil {
		return fmt.Errorf("marshal frequency limits: %w", err)
	}

	query := `
        INSERT INTO notification_preferences
            (user_id, email_enabled, sms_enabled, push_enabled, in_app_enabled,
             email_address, phone_number, quiet_hours, frequency, frequency_limits, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
        ON CONFLICT (user_id) DO UPDATE SET
            email_enabled = EXCLUDED.email_enabled,
            sms_enabled = EXCLUDED.sms_enabled,
            push_enabled = EXCLUDED.push_enabled,
            in_app_enabled = EXCLUDED.in_app_enabled,
            email_address = EXCLUDED.email_address,
            phone_number = EXCLUDED.phone_number,
            quiet_hours = EXCLUDED.quiet_hours,
            frequency = EXCLUDED.frequency,
            frequency_limits = EXCLUDED.frequency_limits,
            updated_at = NOW()
        RETURNING updated_at
    `
	return r.db.QueryRow(ctx, query,
		p.UserID, p.EmailEnabled, p.SMSEnabled, p.PushEnabled, p.InAppEnabled,
		p.EmailAddress, p.PhoneNumber, quietHours, p.Frequency, limits,
	).Scan(&p.UpdatedAt)
}
