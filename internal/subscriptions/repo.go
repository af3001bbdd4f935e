package subscriptions

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-tiffin-subscriptions/internal/postgres"
	"github.com/jackc/pgx/v5"
)

type OrderRepo struct{ DB postgres.DB }

const orderCols = `o.id, o.user_id, o.plan_id, o.mess_id, o.start_date::text, o.end_date::text,
	o.total_amount::float8, o.selected_items_json, o.customer_name, o.customer_email,
	o.customer_phone, o.status, o.created_at`

func persistErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}

type scanner interface{ Scan(dest ...any) error }

func scanOrder(s scanner, extra ...any) (*Order, error) {
	var (
		o      Order
		raw    string
		status string
	)
	dest := []any{&o.ID, &o.UserID, &o.PlanID, &o.MessID, &o.StartDate, &o.EndDate,
		&o.TotalAmount, &raw, &o.CustomerName, &o.CustomerEmail, &o.CustomerPhone, &status, &o.CreatedAt}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	sel, err := ParseSelection([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("order %d: %w: %w", o.ID, ErrPersistence, err)
	}
	o.SelectedItems = sel
	o.Status = OrderStatus(status)
	return &o, nil
}

func (r *OrderRepo) Create(ctx context.Context, n NewOrder) (int64, error) {
	if err := n.Validate(); err != nil {
		return 0, err
	}
	var id int64
	err := r.DB.QueryRow(ctx, `
		INSERT INTO subscription_orders (user_id, plan_id, mess_id, start_date, end_date, total_amount,
			selected_items_json, customer_name, customer_email, customer_phone, status)
		VALUES ($1, $2, $3, $4::date, $5::date, $6, $7, $8, $9, $10, 'pending')
		RETURNING id`,
		n.UserID, n.PlanID, n.MessID, n.StartDate, n.EndDate, n.TotalAmount,
		string(n.SelectedItems.Encode()), n.CustomerName, n.CustomerEmail, n.CustomerPhone,
	).Scan(&id)
	if err != nil {
		return 0, persistErr("create order", err)
	}
	return id, nil
}

func (r *OrderRepo) GetOrder(ctx context.Context, id int64) (*Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderCols+` FROM subscription_orders o WHERE o.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	if err != nil {
		if errors.Is(err, ErrPersistence) {
			return nil, err
		}
		return nil, persistErr("get order", err)
	}
	return o, nil
}

func (r *OrderRepo) ListByUser(ctx context.Context, userID string) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT `+orderCols+`,
			COALESCE(p.name, ''), COALESCE(p.duration_days, 0), COALESCE(m.name, ''), COALESCE(m.image_url, '')
		FROM subscription_orders o
		LEFT JOIN subscription_plans p ON o.plan_id = p.id
		LEFT JOIN messes m ON o.mess_id = m.id
		WHERE o.user_id = $1
		ORDER BY o.created_at DESC`, userID)
	if err != nil {
		return nil, persistErr("list user orders", err)
	}
	defer rows.Close()

	out := []Order{}
	for rows.Next() {
		var (
			planName, messName, messImage string
			duration                      int
		)
		o, err := scanOrder(rows, &planName, &duration, &messName, &messImage)
		if err != nil {
			return nil, persistErr("scan order", err)
		}
		o.PlanName, o.PlanDurationDays, o.MessName, o.MessImage = planName, duration, messName, messImage
		out = append(out, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list user orders", err)
	}
	return out, nil
}

func (r *OrderRepo) ListByPlan(ctx context.Context, planID int64) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+orderCols+` FROM subscription_orders o
		WHERE o.plan_id = $1 ORDER BY o.created_at DESC`, planID)
	if err != nil {
		return nil, persistErr("list plan orders", err)
	}
	defer rows.Close()

	out := []Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, persistErr("scan order", err)
		}
		out = append(out, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list plan orders", err)
	}
	return out, nil
}

// UpdateStatus moves an order along the status lifecycle. Disallowed moves return ErrConflict.
func (r *OrderRepo) UpdateStatus(ctx context.Context, id int64, to OrderStatus) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, to)
	}
	return postgres.WithTx(ctx, r.DB, func(tx pgx.Tx) error {
		var from string
		err := tx.QueryRow(ctx, `SELECT status FROM subscription_orders WHERE id = $1 FOR UPDATE`, id).Scan(&from)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("order %d: %w", id, ErrNotFound)
		}
		if err != nil {
			return persistErr("lock order", err)
		}
		if OrderStatus(from) == to {
			return nil
		}
		if !CanTransition(OrderStatus(from), to) {
			return fmt.Errorf("%w: order %d cannot move from %s to %s", ErrConflict, id, from, to)
		}
		if _, err := tx.Exec(ctx, `UPDATE subscription_orders SET status = $2 WHERE id = $1`, id, string(to)); err != nil {
			return persistErr("update status", err)
		}
		return nil
	})
}

// Delete removes an order owned by userID. Orders still referenced by ledger
// rows are kept and ErrConflict is returned.
func (r *OrderRepo) Delete(ctx context.Context, id int64, userID string) error {
	return postgres.WithTx(ctx, r.DB, func(tx pgx.Tx) error {
		var found int64
		err := tx.QueryRow(ctx, `SELECT id FROM subscription_orders WHERE id = $1 AND user_id = $2 FOR UPDATE`, id, userID).Scan(&found)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("order %d for user %s: %w", id, userID, ErrNotFound)
		}
		if err != nil {
			return persistErr("lock order", err)
		}

		var referenced bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM meal_opt_outs WHERE subscription_id = $1)`, id).Scan(&referenced); err != nil {
			return persistErr("check opt-outs", err)
		}
		if referenced {
			return fmt.Errorf("%w: order %d has opt-out records", ErrConflict, id)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM subscription_orders WHERE id = $1 AND user_id = $2`, id, userID); err != nil {
			return persistErr("delete order", err)
		}
		return nil
	})
}

type PlanRepo struct{ DB postgres.DB }

func (r *PlanRepo) Get(ctx context.Context, id int64) (*Plan, error) {
	var p Plan
	err := r.DB.QueryRow(ctx, `SELECT id, mess_id, name, duration_days, price::float8, created_at
		FROM subscription_plans WHERE id = $1`, id).
		Scan(&p.ID, &p.MessID, &p.Name, &p.DurationDays, &p.Price, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("plan %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, persistErr("get plan", err)
	}
	return &p, nil
}

// Delete removes a plan that has no active or pending orders.
func (r *PlanRepo) Delete(ctx context.Context, id int64) error {
	return postgres.WithTx(ctx, r.DB, func(tx pgx.Tx) error {
		var found int64
		err := tx.QueryRow(ctx, `SELECT id FROM subscription_plans WHERE id = $1 FOR UPDATE`, id).Scan(&found)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("plan %d: %w", id, ErrNotFound)
		}
		if err != nil {
			return persistErr("lock plan", err)
		}

		var live int
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM subscription_orders
			WHERE plan_id = $1 AND status IN ('active', 'pending')`, id).Scan(&live); err != nil {
			return persistErr("count plan orders", err)
		}
		if live > 0 {
			return fmt.Errorf("%w: plan %d has %d active subscriptions", ErrConflict, id, live)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM subscription_plans WHERE id = $1`, id); err != nil {
			return persistErr("delete plan", err)
		}
		return nil
	})
}
