package repo

import (
	"context"
	"database/sql"

	"compmap/internal/domain"
)

const unitCols = `id,name,acronym,type,superior_unit_id,titular_user_id`

func (r Repo) UpsertUnit(ctx context.Context, u domain.Unit) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO units(`+unitCols+`) VALUES (?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, acronym=excluded.acronym, type=excluded.type,
superior_unit_id=excluded.superior_unit_id, titular_user_id=excluded.titular_user_id`,
		u.ID, u.Name, u.Acronym, u.Type, u.SuperiorUnitID, u.TitularUserID)
	return err
}

func (r Repo) GetUnit(ctx context.Context, id string) (domain.Unit, error) {
	var u domain.Unit
	err := r.DB.QueryRowContext(ctx, `SELECT `+unitCols+` FROM units WHERE id=?`, id).
		Scan(&u.ID, &u.Name, &u.Acronym, &u.Type, &u.SuperiorUnitID, &u.TitularUserID)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

func (r Repo) ListUnits(ctx context.Context) ([]domain.Unit, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+unitCols+` FROM units ORDER BY acronym`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Unit
	for rows.Next() {
		var u domain.Unit
		if err := rows.Scan(&u.ID, &u.Name, &u.Acronym, &u.Type, &u.SuperiorUnitID, &u.TitularUserID); err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}
