package world

import (
	"context"
	"database/sql"
	"fmt"

	"starlane-server/internal/shared/database"
)

func (r *Repository) Inventory(ctx context.Context, tx *database.Tx, ownerID int64) ([]InventoryItem, error) {
	rows, err := r.getExecutor(tx).QueryContext(ctx, `
		SELECT item_id, owner_id, item_name, item_type, quantity, value
		FROM character_inventory
		WHERE owner_id = ? AND quantity > 0
		ORDER BY item_name`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query inventory: %w", err)
	}
	defer rows.Close()

	var items []InventoryItem
	for rows.Next() {
		var it InventoryItem
		if err := rows.Scan(&it.ID, &it.OwnerID, &it.Name, &it.Type, &it.Quantity, &it.Value); err != nil {
			return nil, fmt.Errorf("failed to scan inventory item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *Repository) AddItem(ctx context.Context, tx *database.Tx, ownerID int64, item InventoryItem) error {
	_, err := r.getExecutor(tx).ExecContext(ctx, `
		INSERT INTO character_inventory (owner_id, item_name, item_type, quantity, value)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (owner_id, item_name) DO UPDATE SET quantity = character_inventory.quantity + excluded.quantity`,
		ownerID, item.Name, item.Type, item.Quantity, item.Value)
	if err != nil {
		return fmt.Errorf("failed to add %s: %w", item.Name, err)
	}
	return nil
}

// RemoveItem takes up to quantity units and returns how many were removed.
func (r *Repository) RemoveItem(ctx context.Context, tx *database.Tx, ownerID int64, name string, quantity int) (int, error) {
	exec := r.getExecutor(tx)
	var have int
	err := exec.QueryRowContext(ctx,
		`SELECT quantity FROM character_inventory WHERE owner_id = ? AND item_name = ?`, ownerID, name).Scan(&have)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read %s quantity: %w", name, err)
	}
	taken := min(have, quantity)
	if taken == have {
		_, err = exec.ExecContext(ctx,
			`DELETE FROM character_inventory WHERE owner_id = ? AND item_name = ?`, ownerID, name)
	} else {
		_, err = exec.ExecContext(ctx,
			`UPDATE character_inventory SET quantity = quantity - ? WHERE owner_id = ? AND item_name = ?`,
			taken, ownerID, name)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to remove %s: %w", name, err)
	}
	return taken, nil
}

// TransferItem moves up to quantity units of an item between characters.
func (r *Repository) TransferItem(ctx context.Context, tx *database.Tx, from, to int64, item InventoryItem, quantity int) (int, error) {
	moved, err := r.RemoveItem(ctx, tx, from, item.Name, quantity)
	if err != nil || moved == 0 {
		return 0, err
	}
	item.Quantity = moved
	if err := r.AddItem(ctx, tx, to, item); err != nil {
		return 0, err
	}
	return moved, nil
}
