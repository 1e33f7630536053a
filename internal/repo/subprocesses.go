package repo

import (
	"context"
	"database/sql"

	"compmap/internal/domain"
)

const subprocessCols = `id,process_id,unit_id,map_id,situation,stage1_deadline,stage1_completed_at,stage2_deadline,stage2_completed_at,created_at`

func scanSubprocess(row *sql.Row) (domain.Subprocess, error) {
	var sp domain.Subprocess
	err := row.Scan(&sp.ID, &sp.ProcessID, &sp.UnitID, &sp.MapID, &sp.Situation,
		&sp.Stage1Deadline, &sp.Stage1CompletedAt, &sp.Stage2Deadline, &sp.Stage2CompletedAt, &sp.CreatedAt)
	if err == sql.ErrNoRows {
		return sp, ErrNotFound
	}
	return sp, err
}

func (r Repo) InsertSubprocessTx(ctx context.Context, tx *sql.Tx, sp domain.Subprocess) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO subprocesses(`+subprocessCols+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		sp.ID, sp.ProcessID, sp.UnitID, sp.MapID, sp.Situation,
		sp.Stage1Deadline, sp.Stage1CompletedAt, sp.Stage2Deadline, sp.Stage2CompletedAt, sp.CreatedAt)
	return err
}

func (r Repo) GetSubprocess(ctx context.Context, id string) (domain.Subprocess, error) {
	return scanSubprocess(r.DB.QueryRowContext(ctx, `SELECT `+subprocessCols+` FROM subprocesses WHERE id=?`, id))
}

func (r Repo) ListSubprocesses(ctx context.Context, processID string) ([]domain.Subprocess, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+subprocessCols+` FROM subprocesses WHERE process_id=? ORDER BY created_at, id`, processID)
	return collectSubprocesses(rows, err)
}

// ListSubprocessesTx is the in-transaction variant, for callers that must
// see writes made earlier in the same transaction.
func (r Repo) ListSubprocessesTx(ctx context.Context, tx *sql.Tx, processID string) ([]domain.Subprocess, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+subprocessCols+` FROM subprocesses WHERE process_id=? ORDER BY created_at, id`, processID)
	return collectSubprocesses(rows, err)
}

func collectSubprocesses(rows *sql.Rows, err error) ([]domain.Subprocess, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Subprocess
	for rows.Next() {
		var sp domain.Subprocess
		if err := rows.Scan(&sp.ID, &sp.ProcessID, &sp.UnitID, &sp.MapID, &sp.Situation,
			&sp.Stage1Deadline, &sp.Stage1CompletedAt, &sp.Stage2Deadline, &sp.Stage2CompletedAt, &sp.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, sp)
	}
	return res, rows.Err()
}

// UpdateSubprocessSituationTx moves a subprocess between situations only if
// it still holds the expected one, reporting whether the row changed. This
// mirrors AdvanceProcessSituation: the conditional UPDATE is what keeps two
// concurrent transitions from interleaving into a net change the graph
// forbids.
func (r Repo) UpdateSubprocessSituationTx(ctx context.Context, tx *sql.Tx, id string, from, to domain.Situation, stage1CompletedAt *string) (bool, error) {
	var res sql.Result
	var err error
	if stage1CompletedAt != nil {
		res, err = tx.ExecContext(ctx, `UPDATE subprocesses SET situation=?, stage1_completed_at=? WHERE id=? AND situation=?`, to, stage1CompletedAt, id, from)
	} else {
		res, err = tx.ExecContext(ctx, `UPDATE subprocesses SET situation=? WHERE id=? AND situation=?`, to, id, from)
	}
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CountNonTerminal counts a process's subprocesses that have not reached
// their family terminal situation.
func (r Repo) CountNonTerminal(ctx context.Context, tx *sql.Tx, processID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT count(*) FROM subprocesses WHERE process_id=? AND situation NOT IN (?,?,?)`,
		processID, domain.MappingMapHomologated, domain.RevisionMapHomologated, domain.DiagnosticConcluded).Scan(&n)
	return n, err
}

func (r Repo) InsertMovementTx(ctx context.Context, tx *sql.Tx, m domain.Movement) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO movements(subprocess_id,ts,origin_unit_id,dest_unit_id,description,actor_id) VALUES (?,?,?,?,?,?)`,
		m.SubprocessID, m.TS, m.OriginUnitID, m.DestUnitID, m.Description, m.ActorID)
	return err
}

func (r Repo) ListMovements(ctx context.Context, subprocessID string) ([]domain.Movement, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,subprocess_id,ts,origin_unit_id,dest_unit_id,description,actor_id FROM movements WHERE subprocess_id=? ORDER BY id`, subprocessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Movement
	for rows.Next() {
		var m domain.Movement
		if err := rows.Scan(&m.ID, &m.SubprocessID, &m.TS, &m.OriginUnitID, &m.DestUnitID, &m.Description, &m.ActorID); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// LatestMovement returns the newest custody record of a subprocess.
func (r Repo) LatestMovement(ctx context.Context, subprocessID string) (domain.Movement, error) {
	var m domain.Movement
	err := r.DB.QueryRowContext(ctx, `SELECT id,subprocess_id,ts,origin_unit_id,dest_unit_id,description,actor_id FROM movements WHERE subprocess_id=? ORDER BY id DESC LIMIT 1`, subprocessID).
		Scan(&m.ID, &m.SubprocessID, &m.TS, &m.OriginUnitID, &m.DestUnitID, &m.Description, &m.ActorID)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	return m, err
}
