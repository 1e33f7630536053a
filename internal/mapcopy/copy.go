// Package mapcopy produces fully independent deep copies of competency
// maps. The copy duplicates every activity and its knowledge items so edits
// to the new map never touch the source.
package mapcopy

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Copier struct {
	Now func() time.Time
}

func (c Copier) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// CopyMap duplicates sourceMapID into a new map owned by targetUnitID,
// inside the caller's transaction, and returns the new map id.
func (c Copier) CopyMap(ctx context.Context, tx *sql.Tx, sourceMapID, targetUnitID string) (string, error) {
	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM maps WHERE id=?`, sourceMapID).Scan(&exists); err != nil {
		return "", err
	}
	if exists == 0 {
		return "", fmt.Errorf("source map %s does not exist", sourceMapID)
	}
	newMapID := uuid.New().String()
	createdAt := c.now().UTC().Format(time.RFC3339)
	if _, err := tx.ExecContext(ctx, `INSERT INTO maps(id,unit_id,source_map_id,created_at) VALUES (?,?,?,?)`,
		newMapID, targetUnitID, sourceMapID, createdAt); err != nil {
		return "", fmt.Errorf("insert copied map: %w", err)
	}
	if err := c.copyActivities(ctx, tx, sourceMapID, newMapID); err != nil {
		return "", err
	}
	return newMapID, nil
}

func (c Copier) copyActivities(ctx context.Context, tx *sql.Tx, sourceMapID, newMapID string) error {
	rows, err := tx.QueryContext(ctx, `SELECT id,description FROM activities WHERE map_id=? ORDER BY id`, sourceMapID)
	if err != nil {
		return err
	}
	type activity struct {
		id, description string
	}
	var acts []activity
	for rows.Next() {
		var a activity
		if err := rows.Scan(&a.id, &a.description); err != nil {
			rows.Close()
			return err
		}
		acts = append(acts, a)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, a := range acts {
		newActivityID := uuid.New().String()
		if _, err := tx.ExecContext(ctx, `INSERT INTO activities(id,map_id,description) VALUES (?,?,?)`,
			newActivityID, newMapID, a.description); err != nil {
			return fmt.Errorf("copy activity: %w", err)
		}
		if err := c.copyKnowledge(ctx, tx, a.id, newActivityID); err != nil {
			return err
		}
	}
	return nil
}

func (c Copier) copyKnowledge(ctx context.Context, tx *sql.Tx, sourceActivityID, newActivityID string) error {
	rows, err := tx.QueryContext(ctx, `SELECT description FROM knowledge WHERE activity_id=? ORDER BY id`, sourceActivityID)
	if err != nil {
		return err
	}
	var descriptions []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			rows.Close()
			return err
		}
		descriptions = append(descriptions, d)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, d := range descriptions {
		if _, err := tx.ExecContext(ctx, `INSERT INTO knowledge(id,activity_id,description) VALUES (?,?,?)`,
			uuid.New().String(), newActivityID, d); err != nil {
			return fmt.Errorf("copy knowledge: %w", err)
		}
	}
	return nil
}
