package repo

import (
	"context"

	"compmap/internal/domain"
)

const eventCols = `id,ts,type,COALESCE(process_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json`

func (r Repo) ListEvents(ctx context.Context, limit int, processID string) ([]domain.Event, error) {
	query := `SELECT ` + eventCols + ` FROM events`
	var args []any
	if processID != "" {
		query += ` WHERE process_id=?`
		args = append(args, processID)
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.ProcessID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// EventsAfter returns up to limit events with id greater than cursor, oldest
// first. Used by the webhook dispatcher.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+eventCols+` FROM events WHERE id>? ORDER BY id LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.ProcessID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(max(id),0) FROM events`).Scan(&id)
	return id, err
}
