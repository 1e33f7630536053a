package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"compmap/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const processCols = `id,description,type,situation,stage1_deadline,created_at,finalized_at`

func scanProcess(row *sql.Row) (domain.Process, error) {
	var p domain.Process
	err := row.Scan(&p.ID, &p.Description, &p.Type, &p.Situation, &p.Stage1Deadline, &p.CreatedAt, &p.FinalizedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) InsertProcessTx(ctx context.Context, tx *sql.Tx, p domain.Process) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO processes(`+processCols+`) VALUES (?,?,?,?,?,?,?)`,
		p.ID, p.Description, p.Type, p.Situation, p.Stage1Deadline, p.CreatedAt, p.FinalizedAt)
	return err
}

func (r Repo) GetProcess(ctx context.Context, id string) (domain.Process, error) {
	return scanProcess(r.DB.QueryRowContext(ctx, `SELECT `+processCols+` FROM processes WHERE id=?`, id))
}

func (r Repo) GetProcessTx(ctx context.Context, tx *sql.Tx, id string) (domain.Process, error) {
	return scanProcess(tx.QueryRowContext(ctx, `SELECT `+processCols+` FROM processes WHERE id=?`, id))
}

func (r Repo) ListProcesses(ctx context.Context) ([]domain.Process, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+processCols+` FROM processes ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Process
	for rows.Next() {
		var p domain.Process
		if err := rows.Scan(&p.ID, &p.Description, &p.Type, &p.Situation, &p.Stage1Deadline, &p.CreatedAt, &p.FinalizedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// UpdateProcessFields replaces description, type and stage-1 deadline. The
// engine only calls it while the process is CREATED.
func (r Repo) UpdateProcessFieldsTx(ctx context.Context, tx *sql.Tx, id, description string, ptype domain.ProcessType, stage1Deadline *string) error {
	res, err := tx.ExecContext(ctx, `UPDATE processes SET description=?, type=?, stage1_deadline=? WHERE id=?`,
		description, ptype, stage1Deadline, id)
	if err != nil {
		return err
	}
	return requireRow(res, "process", id)
}

func (r Repo) DeleteProcessTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM processes WHERE id=?`, id)
	if err != nil {
		return err
	}
	return requireRow(res, "process", id)
}

// AdvanceProcessSituation moves the process from one situation to another
// only if it still holds the expected one, reporting whether the row
// changed. This is the serialization point for concurrent starts.
func (r Repo) AdvanceProcessSituation(ctx context.Context, tx *sql.Tx, id string, from, to domain.ProcessSituation) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE processes SET situation=? WHERE id=? AND situation=?`, to, id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r Repo) SetProcessFinalized(ctx context.Context, tx *sql.Tx, id, finalizedAt string) error {
	_, err := tx.ExecContext(ctx, `UPDATE processes SET finalized_at=? WHERE id=?`, finalizedAt, id)
	return err
}

// IsUniqueViolation reports whether err is a SQLite uniqueness-constraint
// failure, used to turn enrollment races into domain conflicts at commit.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "constraint failed: UNIQUE")
}

func requireRow(res sql.Result, what, id string) error {
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return nil
}
