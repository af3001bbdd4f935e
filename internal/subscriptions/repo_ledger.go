package subscriptions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-tiffin-subscriptions/internal/postgres"
	"github.com/jackc/pgx/v5"
)

// LedgerRepo owns meal_opt_outs. A row for a key means the meal is not in its
// default state; a payload on the row means a confirmed selection.
type LedgerRepo struct{ DB postgres.DB }

// SetOptOut marks the key skipped. The subscription must be active and owned
// by the key's user. An existing row keeps its confirmed payload; only the
// skipped flag and timestamp change.
func (r *LedgerRepo) SetOptOut(ctx context.Context, k MealKey) error {
	tag, err := r.DB.Exec(ctx, `
		INSERT INTO meal_opt_outs (subscription_id, user_id, date, meal_time, skipped)
		SELECT o.id, o.user_id, $3::date, $4, true
		FROM subscription_orders o
		WHERE o.id = $1 AND o.user_id = $2 AND o.status = 'active'
		ON CONFLICT (subscription_id, user_id, date, meal_time)
		DO UPDATE SET skipped = true, created_at = now()`,
		k.SubscriptionID, k.UserID, k.Date, k.MealTime)
	if err != nil {
		return persistErr("set opt-out", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("active subscription %d for user %s: %w", k.SubscriptionID, k.UserID, ErrNotFound)
	}
	return nil
}

// VerifyActive reports ErrNotFound unless subscriptionID is an active
// subscription owned by userID.
func (r *LedgerRepo) VerifyActive(ctx context.Context, subscriptionID int64, userID string) error {
	var ok bool
	err := r.DB.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM subscription_orders WHERE id = $1 AND user_id = $2 AND status = 'active'
		)`, subscriptionID, userID).Scan(&ok)
	if err != nil {
		return persistErr("verify subscription", err)
	}
	if !ok {
		return fmt.Errorf("active subscription %d for user %s: %w", subscriptionID, userID, ErrNotFound)
	}
	return nil
}

// ClearOptOut returns the key to its default state. A missing row is fine.
func (r *LedgerRepo) ClearOptOut(ctx context.Context, k MealKey) error {
	_, err := r.DB.Exec(ctx, `
		DELETE FROM meal_opt_outs
		WHERE subscription_id = $1 AND user_id = $2 AND date = $3::date AND meal_time = $4`,
		k.SubscriptionID, k.UserID, k.Date, k.MealTime)
	if err != nil {
		return persistErr("clear opt-out", err)
	}
	return nil
}

// RecordConfirmedSelection replaces the row for the key with one carrying items.
func (r *LedgerRepo) RecordConfirmedSelection(ctx context.Context, k MealKey, items []ItemSelection) error {
	payload, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode ledger payload: %w", err)
	}
	return postgres.WithTx(ctx, r.DB, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			DELETE FROM meal_opt_outs
			WHERE subscription_id = $1 AND user_id = $2 AND date = $3::date AND meal_time = $4`,
			k.SubscriptionID, k.UserID, k.Date, k.MealTime); err != nil {
			return persistErr("delete ledger row", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO meal_opt_outs (subscription_id, user_id, date, meal_time, selected_items_json, skipped)
			VALUES ($1, $2, $3::date, $4, $5, false)`,
			k.SubscriptionID, k.UserID, k.Date, k.MealTime, string(payload)); err != nil {
			return persistErr("insert ledger row", err)
		}
		return nil
	})
}

// Get returns the row for the key, or ErrNotFound when the meal is active.
func (r *LedgerRepo) Get(ctx context.Context, k MealKey) (*OptOutRecord, error) {
	var (
		rec OptOutRecord
		raw string
	)
	err := r.DB.QueryRow(ctx, `
		SELECT id, subscription_id, user_id, date::text, meal_time, COALESCE(selected_items_json, ''), skipped, created_at
		FROM meal_opt_outs
		WHERE subscription_id = $1 AND user_id = $2 AND date = $3::date AND meal_time = $4`,
		k.SubscriptionID, k.UserID, k.Date, k.MealTime).
		Scan(&rec.ID, &rec.SubscriptionID, &rec.UserID, &rec.Date, &rec.MealTime, &raw, &rec.Skipped, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, persistErr("get opt-out", err)
	}
	if rec.SelectedItems, err = decodePayload(raw); err != nil {
		return nil, fmt.Errorf("opt-out %d: %w: %w", rec.ID, ErrPersistence, err)
	}
	return &rec, nil
}

// QueryByPlan lists the plan's ledger rows, newest date first.
func (r *LedgerRepo) QueryByPlan(ctx context.Context, planID int64) ([]PlanOptOut, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT moo.id, moo.subscription_id, moo.user_id, moo.date::text, moo.meal_time,
			COALESCE(moo.selected_items_json, ''), moo.skipped, moo.created_at,
			so.id, so.customer_name, so.customer_email, so.plan_id
		FROM meal_opt_outs moo
		JOIN subscription_orders so ON moo.subscription_id = so.id
		WHERE so.plan_id = $1
		ORDER BY moo.date DESC, moo.created_at DESC`, planID)
	if err != nil {
		return nil, persistErr("query opt-outs", err)
	}
	defer rows.Close()

	out := []PlanOptOut{}
	for rows.Next() {
		var (
			p   PlanOptOut
			raw string
		)
		if err := rows.Scan(&p.ID, &p.SubscriptionID, &p.UserID, &p.Date, &p.MealTime, &raw, &p.Skipped, &p.CreatedAt,
			&p.OrderID, &p.UserName, &p.UserEmail, &p.PlanID); err != nil {
			return nil, persistErr("scan opt-out", err)
		}
		if p.SelectedItems, err = decodePayload(raw); err != nil {
			return nil, fmt.Errorf("opt-out %d: %w: %w", p.ID, ErrPersistence, err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("query opt-outs", err)
	}
	return out, nil
}

func decodePayload(raw string) ([]ItemSelection, error) {
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var items []ItemSelection
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("decode ledger payload: %w", err)
	}
	return items, nil
}
