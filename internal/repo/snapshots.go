package repo

import (
	"context"
	"database/sql"

	"compmap/internal/domain"
)

const snapshotCols = `id,process_id,unit_id,name,acronym,type,superior_unit_id,titular_user_id,situation,process_type,active`

func (r Repo) InsertUnitSnapshotTx(ctx context.Context, tx *sql.Tx, s domain.UnitSnapshot) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO unit_snapshots(`+snapshotCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.ProcessID, s.UnitID, s.Name, s.Acronym, s.Type, s.SuperiorUnitID, s.TitularUserID,
		s.Situation, s.ProcessType, s.Active)
	return err
}

func (r Repo) ListUnitSnapshots(ctx context.Context, processID string) ([]domain.UnitSnapshot, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+snapshotCols+` FROM unit_snapshots WHERE process_id=? ORDER BY acronym`, processID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.UnitSnapshot
	for rows.Next() {
		var s domain.UnitSnapshot
		if err := rows.Scan(&s.ID, &s.ProcessID, &s.UnitID, &s.Name, &s.Acronym, &s.Type,
			&s.SuperiorUnitID, &s.TitularUserID, &s.Situation, &s.ProcessType, &s.Active); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// ActiveEnrollments returns the acronyms of units, among unitIDs, that
// already hold an active snapshot of the given process type under another
// process. Conflicts key on unit id; acronyms are returned for messages.
func (r Repo) ActiveEnrollments(ctx context.Context, tx *sql.Tx, unitIDs []string, ptype domain.ProcessType, excludeProcessID string) ([]string, error) {
	if len(unitIDs) == 0 {
		return nil, nil
	}
	query := `SELECT acronym FROM unit_snapshots WHERE active=1 AND process_type=? AND process_id<>? AND unit_id IN (?` +
		repeat(",?", len(unitIDs)-1) + `) ORDER BY acronym`
	args := []any{ptype, excludeProcessID}
	for _, id := range unitIDs {
		args = append(args, id)
	}
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var acronyms []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		acronyms = append(acronyms, a)
	}
	return acronyms, rows.Err()
}

// ReleaseSnapshots clears the active flag for every snapshot of a process,
// freeing its units for future enrollments.
func (r Repo) ReleaseSnapshots(ctx context.Context, tx *sql.Tx, processID string) error {
	_, err := tx.ExecContext(ctx, `UPDATE unit_snapshots SET active=0 WHERE process_id=?`, processID)
	return err
}

// SetSnapshotLabelTx updates the denormalized display label of a unit's
// snapshot under one process. The label is presentation state, not part of
// the subprocess state machine, so a missing snapshot is not an error.
func (r Repo) SetSnapshotLabelTx(ctx context.Context, tx *sql.Tx, processID, unitID, label string) error {
	_, err := tx.ExecContext(ctx, `UPDATE unit_snapshots SET situation=? WHERE process_id=? AND unit_id=?`, label, processID, unitID)
	return err
}

func repeat(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}
