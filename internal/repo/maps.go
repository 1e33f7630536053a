package repo

import (
	"context"
	"database/sql"

	"compmap/internal/domain"
)

func (r Repo) InsertMapTx(ctx context.Context, tx *sql.Tx, m domain.CompetencyMap) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO maps(id,unit_id,source_map_id,created_at) VALUES (?,?,?,?)`,
		m.ID, m.UnitID, m.SourceMapID, m.CreatedAt)
	return err
}

func (r Repo) InsertMap(ctx context.Context, m domain.CompetencyMap) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO maps(id,unit_id,source_map_id,created_at) VALUES (?,?,?,?)`,
		m.ID, m.UnitID, m.SourceMapID, m.CreatedAt)
	return err
}

func (r Repo) GetMap(ctx context.Context, id string) (domain.CompetencyMap, error) {
	var m domain.CompetencyMap
	err := r.DB.QueryRowContext(ctx, `SELECT id,unit_id,source_map_id,created_at FROM maps WHERE id=?`, id).
		Scan(&m.ID, &m.UnitID, &m.SourceMapID, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	return m, err
}

func (r Repo) InsertActivity(ctx context.Context, a domain.Activity) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO activities(id,map_id,description) VALUES (?,?,?)`,
		a.ID, a.MapID, a.Description)
	return err
}

func (r Repo) ListActivities(ctx context.Context, mapID string) ([]domain.Activity, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,map_id,description FROM activities WHERE map_id=? ORDER BY id`, mapID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Activity
	for rows.Next() {
		var a domain.Activity
		if err := rows.Scan(&a.ID, &a.MapID, &a.Description); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) InsertKnowledge(ctx context.Context, k domain.Knowledge) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO knowledge(id,activity_id,description) VALUES (?,?,?)`,
		k.ID, k.ActivityID, k.Description)
	return err
}

func (r Repo) ListKnowledge(ctx context.Context, activityID string) ([]domain.Knowledge, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,activity_id,description FROM knowledge WHERE activity_id=? ORDER BY id`, activityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Knowledge
	for rows.Next() {
		var k domain.Knowledge
		if err := rows.Scan(&k.ID, &k.ActivityID, &k.Description); err != nil {
			return nil, err
		}
		res = append(res, k)
	}
	return res, rows.Err()
}

// EffectiveMapID looks up the unit's currently-effective map.
func (r Repo) EffectiveMapID(ctx context.Context, unitID string) (string, error) {
	var id string
	err := r.DB.QueryRowContext(ctx, `SELECT effective_map_id FROM unit_maps WHERE unit_id=?`, unitID).Scan(&id)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return id, err
}

// SetEffectiveMapTx makes mapID the unit's effective map, replacing any
// previous one.
func (r Repo) SetEffectiveMapTx(ctx context.Context, tx *sql.Tx, unitID, mapID string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO unit_maps(unit_id,effective_map_id) VALUES (?,?)
ON CONFLICT(unit_id) DO UPDATE SET effective_map_id=excluded.effective_map_id`, unitID, mapID)
	return err
}

// SetEffectiveMap is the non-transactional variant, used by seeds and tests.
func (r Repo) SetEffectiveMap(ctx context.Context, unitID, mapID string) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO unit_maps(unit_id,effective_map_id) VALUES (?,?)
ON CONFLICT(unit_id) DO UPDATE SET effective_map_id=excluded.effective_map_id`, unitID, mapID)
	return err
}
