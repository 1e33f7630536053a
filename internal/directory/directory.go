// Package directory adapts the organizational unit store to the lookup
// interface the engine consumes. In production the directory is fed by an
// imported org chart; tests substitute their own implementations.
package directory

import (
	"context"

	"compmap/internal/domain"
	"compmap/internal/repo"
)

// DB serves unit lookups from the local units and unit_maps tables.
type DB struct {
	Repo repo.Repo
}

func (d DB) Unit(ctx context.Context, id string) (domain.Unit, error) {
	return d.Repo.GetUnit(ctx, id)
}

func (d DB) EffectiveMapID(ctx context.Context, unitID string) (string, error) {
	return d.Repo.EffectiveMapID(ctx, unitID)
}

// OrgChart is the YAML shape accepted by `compmap unit import`.
type OrgChart struct {
	Units []OrgUnit `yaml:"units"`
}

type OrgUnit struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Acronym  string `yaml:"acronym"`
	Type     string `yaml:"type"`
	Superior string `yaml:"superior,omitempty"`
	Titular  string `yaml:"titular,omitempty"`
}

func (u OrgUnit) ToDomain() domain.Unit {
	unit := domain.Unit{
		ID:      u.ID,
		Name:    u.Name,
		Acronym: u.Acronym,
		Type:    domain.UnitType(u.Type),
	}
	if u.Superior != "" {
		sup := u.Superior
		unit.SuperiorUnitID = &sup
	}
	if u.Titular != "" {
		tit := u.Titular
		unit.TitularUserID = &tit
	}
	return unit
}
