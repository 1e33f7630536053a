// Package app wires the workspace together: database, migrations, config
// and the optional org-chart seed, producing a ready Engine for the CLI and
// the HTTP server.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"

	"compmap/internal/config"
	"compmap/internal/db"
	"compmap/internal/directory"
	"compmap/internal/domain"
	"compmap/internal/engine"
	"compmap/internal/events"
	"compmap/internal/migrate"
)

type App struct {
	DB     *sql.DB
	Config *config.Config
	Engine engine.Engine
}

// Open boots the workspace: opens the SQLite database, applies pending
// migrations, loads compmap.yml (defaults when absent) and imports the
// org-chart seed file if one is configured.
func Open(ctx context.Context, workspace string) (*App, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	eng := engine.New(conn, cfg)
	eng.Bus.SubscribeStarted(func(evt events.ProcessStarted) {
		log.Printf("process %s started: type=%s units=%d", evt.ProcessID, evt.Type, len(evt.UnitIDs))
	})
	eng.Bus.SubscribeFinalized(func(evt events.ProcessFinalized) {
		log.Printf("process %s finalized: type=%s", evt.ProcessID, evt.Type)
	})
	a := &App{DB: conn, Config: cfg, Engine: eng}
	if cfg.Directory.SeedFile != "" {
		if err := a.ImportOrgChart(ctx, cfg.Directory.SeedFile); err != nil {
			conn.Close()
			return nil, fmt.Errorf("seed directory: %w", err)
		}
	}
	return a, nil
}

func (a *App) Close() error {
	return a.DB.Close()
}

// ImportOrgChart upserts every unit from an org-chart YAML file. Existing
// units are overwritten; units absent from the file are left alone.
func (a *App) ImportOrgChart(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var chart directory.OrgChart
	if err := yaml.Unmarshal(data, &chart); err != nil {
		return fmt.Errorf("invalid org chart yaml: %w", err)
	}
	for _, ou := range chart.Units {
		u := ou.ToDomain()
		if u.ID == "" || u.Acronym == "" {
			return fmt.Errorf("org chart unit missing id or acronym: %+v", ou)
		}
		if !u.Type.Mapped() && u.Type != domain.UnitIntermediate {
			return fmt.Errorf("org chart unit %s has unknown type %q", u.ID, u.Type)
		}
		if err := a.Engine.Repo.UpsertUnit(ctx, u); err != nil {
			return fmt.Errorf("upsert unit %s: %w", u.ID, err)
		}
	}
	return nil
}
