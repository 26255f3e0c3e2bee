package world

import (
	"context"
	"fmt"

	"starlane-server/internal/shared/database"
)

type corridorFix struct {
	id   int64
	name string
	from CorridorType
	to   CorridorType
}

// Reclassify rewrites every corridor whose stored type disagrees with
// Classify. It is a fixed point: a second run changes nothing.
func (r *Repository) Reclassify(ctx context.Context) (int, error) {
	logger := r.log("reclassify_corridors")

	var fixes []corridorFix
	err := r.db.WithTx(ctx, func(tx *database.Tx) error {
		fixes = fixes[:0]

		locations, err := r.ListLocations(ctx, tx)
		if err != nil {
			return err
		}
		byID := make(map[int64]*Location, len(locations))
		for i := range locations {
			byID[locations[i].ID] = &locations[i]
		}

		corridors, err := r.queryCorridors(ctx, tx, `SELECT `+corridorColumns+` FROM corridors ORDER BY corridor_id`)
		if err != nil {
			return err
		}

		for _, c := range corridors {
			origin, dest := byID[c.Origin], byID[c.Destination]
			if origin == nil || dest == nil {
				continue
			}
			want := Classify(c.Name, origin, dest)
			if want == c.Type {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE corridors SET corridor_type = ? WHERE corridor_id = ?`, string(want), c.ID); err != nil {
				return fmt.Errorf("failed to reclassify corridor %d: %w", c.ID, err)
			}
			fixes = append(fixes, corridorFix{id: c.ID, name: c.Name, from: c.Type, to: want})
		}
		return nil
	})
	if err != nil {
		logger.Error("Corridor reclassification failed", "error", err)
		return 0, err
	}

	for _, f := range fixes {
		logger.Info("Corridor reclassified", "corridor_id", f.id, "name", f.name, "from", f.from, "to", f.to)
	}
	return len(fixes), nil
}
