package subscriptions

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-tiffin-subscriptions/internal/postgres"
	"github.com/jackc/pgx/v5"
)

// SelectionRepo owns subscription_orders.selected_items_json.
//
// Writes are a full overwrite of the column. With Lock set the read and the
// write happen under a row lock on the order, so concurrent writers for
// different dates of the same order are serialized. Without it the last
// writer's snapshot wins.
type SelectionRepo struct {
	DB   postgres.DB
	Lock bool
}

func (r *SelectionRepo) Load(ctx context.Context, orderID int64) (Selection, error) {
	return loadSelection(ctx, r.DB, orderID, false)
}

func loadSelection(ctx context.Context, q postgres.DB, orderID int64, forUpdate bool) (Selection, error) {
	sql := `SELECT selected_items_json FROM subscription_orders WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	var raw string
	err := q.QueryRow(ctx, sql, orderID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("order %d: %w", orderID, ErrNotFound)
	}
	if err != nil {
		return nil, persistErr("load selection", err)
	}
	sel, err := ParseSelection([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("order %d: %w: %w", orderID, ErrPersistence, err)
	}
	return sel, nil
}

// Modify loads the order's selection, applies fn and stores the result in one
// transaction. fn must not touch the database.
func (r *SelectionRepo) Modify(ctx context.Context, orderID int64, fn func(Selection) (Selection, error)) (Selection, error) {
	var out Selection
	err := postgres.WithTx(ctx, r.DB, func(tx pgx.Tx) error {
		cur, err := loadSelection(ctx, tx, orderID, r.Lock)
		if err != nil {
			return err
		}
		next, err := fn(cur)
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `UPDATE subscription_orders SET selected_items_json = $2 WHERE id = $1`,
			orderID, string(next.Encode()))
		if err != nil {
			return persistErr("save selection", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("order %d: %w", orderID, ErrNotFound)
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReplaceForDate swaps the entries dated date for items and returns the stored list.
func (r *SelectionRepo) ReplaceForDate(ctx context.Context, orderID int64, date string, items []ItemSelection) (Selection, error) {
	return r.Modify(ctx, orderID, func(cur Selection) (Selection, error) {
		return ReplaceForDate(cur, date, items)
	})
}
