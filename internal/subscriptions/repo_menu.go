package subscriptions

import (
	"context"

	"github.com/ariefcatur/go-tiffin-subscriptions/internal/postgres"
)

// CatalogRepo reads menu availability. It never writes.
type CatalogRepo struct{ DB postgres.DB }

// AvailableItemIDs lists the distinct items scheduled for subscriptionID on
// date. No menu for the date yields an empty slice.
func (r *CatalogRepo) AvailableItemIDs(ctx context.Context, subscriptionID int64, date string) ([]int64, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT DISTINCT mi.id
		FROM menu_subscriptions ms
		JOIN menu_items mi ON ms.menu_id = mi.menu_id
		WHERE ms.subscription_id = $1 AND ms.date = $2::date
		ORDER BY mi.id`, subscriptionID, date)
	if err != nil {
		return nil, persistErr("available items", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, persistErr("scan item id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("available items", err)
	}
	return ids, nil
}

// ItemDetails resolves ids to catalog rows. Unknown ids are dropped.
func (r *CatalogRepo) ItemDetails(ctx context.Context, ids []int64) ([]MenuItem, error) {
	if len(ids) == 0 {
		return []MenuItem{}, nil
	}
	rows, err := r.DB.Query(ctx, `
		SELECT id, name, price::float8, type
		FROM menu_items
		WHERE id = ANY($1)
		ORDER BY id`, ids)
	if err != nil {
		return nil, persistErr("item details", err)
	}
	defer rows.Close()

	out := []MenuItem{}
	for rows.Next() {
		var m MenuItem
		if err := rows.Scan(&m.ID, &m.Name, &m.Price, &m.Type); err != nil {
			return nil, persistErr("scan item", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("item details", err)
	}
	return out, nil
}
