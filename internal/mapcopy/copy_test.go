package mapcopy_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"compmap/internal/db"
	"compmap/internal/mapcopy"
	"compmap/internal/migrate"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

func seedSourceMap(t *testing.T, conn *sql.DB) {
	t.Helper()
	stmts := []struct {
		sql  string
		args []any
	}{
		{`INSERT INTO maps(id,unit_id,source_map_id,created_at) VALUES (?,?,?,?)`, []any{"map-src", "u-src", nil, "2025-01-01T00:00:00Z"}},
		{`INSERT INTO activities(id,map_id,description) VALUES (?,?,?)`, []any{"act-1", "map-src", "Analyze pension requests"}},
		{`INSERT INTO activities(id,map_id,description) VALUES (?,?,?)`, []any{"act-2", "map-src", "Issue rulings"}},
		{`INSERT INTO knowledge(id,activity_id,description) VALUES (?,?,?)`, []any{"kno-1", "act-1", "Pension legislation"}},
		{`INSERT INTO knowledge(id,activity_id,description) VALUES (?,?,?)`, []any{"kno-2", "act-1", "Case management system"}},
		{`INSERT INTO knowledge(id,activity_id,description) VALUES (?,?,?)`, []any{"kno-3", "act-2", "Administrative law"}},
	}
	for _, s := range stmts {
		if _, err := conn.Exec(s.sql, s.args...); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func TestCopyMapIsStructurallyComplete(t *testing.T) {
	conn := newTestDB(t)
	seedSourceMap(t, conn)
	ctx := context.Background()
	c := mapcopy.Copier{Now: func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	newMapID, err := c.CopyMap(ctx, tx, "map-src", "u-dst")
	if err != nil {
		t.Fatalf("copy map: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if newMapID == "map-src" {
		t.Fatal("copy returned the source id")
	}

	var unitID string
	var sourceMapID *string
	if err := conn.QueryRow(`SELECT unit_id, source_map_id FROM maps WHERE id=?`, newMapID).Scan(&unitID, &sourceMapID); err != nil {
		t.Fatalf("read copy: %v", err)
	}
	if unitID != "u-dst" || sourceMapID == nil || *sourceMapID != "map-src" {
		t.Fatalf("copy row = unit %s source %v", unitID, sourceMapID)
	}

	var actCount, knoCount int
	if err := conn.QueryRow(`SELECT count(*) FROM activities WHERE map_id=?`, newMapID).Scan(&actCount); err != nil {
		t.Fatalf("count activities: %v", err)
	}
	if err := conn.QueryRow(`SELECT count(*) FROM knowledge WHERE activity_id IN (SELECT id FROM activities WHERE map_id=?)`, newMapID).Scan(&knoCount); err != nil {
		t.Fatalf("count knowledge: %v", err)
	}
	if actCount != 2 || knoCount != 3 {
		t.Fatalf("copy has %d activities and %d knowledge items, want 2 and 3", actCount, knoCount)
	}

	// Fresh ids throughout: nothing in the copy may reuse a source row id.
	var reused int
	if err := conn.QueryRow(`SELECT count(*) FROM activities WHERE map_id=? AND id IN ('act-1','act-2')`, newMapID).Scan(&reused); err != nil {
		t.Fatalf("check ids: %v", err)
	}
	if reused != 0 {
		t.Fatalf("%d activity ids reused from the source", reused)
	}
}

func TestCopyMapIndependence(t *testing.T) {
	conn := newTestDB(t)
	seedSourceMap(t, conn)
	ctx := context.Background()
	c := mapcopy.Copier{}

	tx, _ := conn.BeginTx(ctx, nil)
	newMapID, err := c.CopyMap(ctx, tx, "map-src", "u-dst")
	if err != nil {
		t.Fatalf("copy map: %v", err)
	}
	tx.Commit()

	// Mutate the copy and verify the source is untouched.
	if _, err := conn.Exec(`DELETE FROM knowledge WHERE activity_id IN (SELECT id FROM activities WHERE map_id=?)`, newMapID); err != nil {
		t.Fatalf("delete from copy: %v", err)
	}
	var srcKno int
	if err := conn.QueryRow(`SELECT count(*) FROM knowledge WHERE activity_id IN ('act-1','act-2')`).Scan(&srcKno); err != nil {
		t.Fatalf("count source knowledge: %v", err)
	}
	if srcKno != 3 {
		t.Fatalf("source knowledge = %d after editing copy, want 3", srcKno)
	}
}

func TestCopyMapRejectsMissingSource(t *testing.T) {
	conn := newTestDB(t)
	ctx := context.Background()
	c := mapcopy.Copier{}
	tx, _ := conn.BeginTx(ctx, nil)
	defer tx.Rollback()
	if _, err := c.CopyMap(ctx, tx, "no-such-map", "u-dst"); err == nil {
		t.Fatal("copy of missing source succeeded")
	}
}
