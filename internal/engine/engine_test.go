package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"compmap/internal/config"
	"compmap/internal/db"
	"compmap/internal/domain"
	"compmap/internal/engine"
	"compmap/internal/migrate"
	"compmap/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	seed := []domain.Unit{
		{ID: "u-a", Name: "Unit Alpha", Acronym: "ALPHA", Type: domain.UnitOperational},
		{ID: "u-b", Name: "Unit Bravo", Acronym: "BRAVO", Type: domain.UnitInteroperational},
		{ID: "u-c", Name: "Unit Charlie", Acronym: "CHARLIE", Type: domain.UnitIntermediate},
		{ID: "u-d", Name: "Unit Delta", Acronym: "DELTA", Type: domain.UnitOperational},
	}
	for _, u := range seed {
		if err := eng.Repo.UpsertUnit(ctx, u); err != nil {
			t.Fatalf("seed unit %s: %v", u.ID, err)
		}
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func createProcess(t *testing.T, env testEnv, ptype domain.ProcessType, units ...string) domain.Process {
	t.Helper()
	p, err := env.Engine.CreateProcess(env.Ctx, engine.ProcessCreateOptions{
		Description: "2026 campaign",
		Type:        ptype,
		UnitIDs:     units,
		ActorID:     "tester",
	})
	if err != nil {
		t.Fatalf("create process: %v", err)
	}
	return p
}

// seedEffectiveMap provisions a homologated map with one activity and one
// knowledge item and registers it as the unit's effective map.
func seedEffectiveMap(t *testing.T, env testEnv, unitID, mapID string) {
	t.Helper()
	r := env.Engine.Repo
	if err := r.InsertMap(env.Ctx, domain.CompetencyMap{ID: mapID, UnitID: unitID, CreatedAt: "2025-01-01T00:00:00Z"}); err != nil {
		t.Fatalf("insert map: %v", err)
	}
	if err := r.InsertActivity(env.Ctx, domain.Activity{ID: mapID + "-act", MapID: mapID, Description: "Review benefit claims"}); err != nil {
		t.Fatalf("insert activity: %v", err)
	}
	if err := r.InsertKnowledge(env.Ctx, domain.Knowledge{ID: mapID + "-kno", ActivityID: mapID + "-act", Description: "Benefits legislation"}); err != nil {
		t.Fatalf("insert knowledge: %v", err)
	}
	if err := r.SetEffectiveMap(env.Ctx, unitID, mapID); err != nil {
		t.Fatalf("set effective map: %v", err)
	}
}

func TestStartMappingHappyPath(t *testing.T) {
	env := newTestEnv(t)
	p := createProcess(t, env, domain.ProcessMapping, "u-a", "u-b")

	started, err := env.Engine.StartMapping(env.Ctx, engine.StartOptions{
		ProcessID: p.ID,
		UnitIDs:   []string{"u-a", "u-b"},
		ActorID:   "tester",
	})
	if err != nil {
		t.Fatalf("start mapping: %v", err)
	}
	if started.Situation != domain.ProcessInProgress {
		t.Fatalf("process situation = %s, want IN_PROGRESS", started.Situation)
	}
	subs, err := env.Engine.Repo.ListSubprocesses(env.Ctx, p.ID)
	if err != nil || len(subs) != 2 {
		t.Fatalf("subprocesses = %d (%v), want 2", len(subs), err)
	}
	for _, sp := range subs {
		if sp.Situation != domain.MappingCadastroInProgress {
			t.Errorf("subprocess %s situation = %s, want entry situation", sp.ID, sp.Situation)
		}
		if sp.MapID == nil {
			t.Errorf("subprocess %s has no map", sp.ID)
		}
		movs, err := env.Engine.Repo.ListMovements(env.Ctx, sp.ID)
		if err != nil || len(movs) != 1 {
			t.Fatalf("movements = %d (%v), want 1", len(movs), err)
		}
		if movs[0].OriginUnitID != nil {
			t.Errorf("first movement origin = %v, want nil", *movs[0].OriginUnitID)
		}
		if movs[0].DestUnitID != sp.UnitID {
			t.Errorf("first movement dest = %s, want %s", movs[0].DestUnitID, sp.UnitID)
		}
		if movs[0].ActorID == nil || *movs[0].ActorID != "tester" {
			t.Errorf("first movement actor = %v, want tester", movs[0].ActorID)
		}
	}
	snaps, err := env.Engine.Repo.ListUnitSnapshots(env.Ctx, p.ID)
	if err != nil || len(snaps) != 2 {
		t.Fatalf("snapshots = %d (%v), want 2", len(snaps), err)
	}
}

func TestStartMappingSkipsIntermediateUnits(t *testing.T) {
	env := newTestEnv(t)
	p := createProcess(t, env, domain.ProcessMapping, "u-a", "u-c")
	if _, err := env.Engine.StartMapping(env.Ctx, engine.StartOptions{ProcessID: p.ID, UnitIDs: []string{"u-a", "u-c"}, ActorID: "tester"}); err != nil {
		t.Fatalf("start mapping: %v", err)
	}
	subs, _ := env.Engine.Repo.ListSubprocesses(env.Ctx, p.ID)
	if len(subs) != 1 || subs[0].UnitID != "u-a" {
		t.Fatalf("expected a single subprocess for the operational unit, got %v", subs)
	}
	// The intermediate unit still gets a frozen snapshot.
	snaps, _ := env.Engine.Repo.ListUnitSnapshots(env.Ctx, p.ID)
	if len(snaps) != 2 {
		t.Fatalf("snapshots = %d, want 2", len(snaps))
	}
}

func TestStartRequiresCreatedSituation(t *testing.T) {
	env := newTestEnv(t)
	p := createProcess(t, env, domain.ProcessMapping, "u-a")
	if _, err := env.Engine.StartMapping(env.Ctx, engine.StartOptions{ProcessID: p.ID, UnitIDs: []string{"u-a"}, ActorID: "tester"}); err != nil {
		t.Fatalf("first start: %v", err)
	}
	_, err := env.Engine.StartMapping(env.Ctx, engine.StartOptions{ProcessID: p.ID, UnitIDs: []string{"u-d"}, ActorID: "tester"})
	var ise *engine.InvalidStateError
	if !errors.As(err, &ise) {
		t.Fatalf("second start err = %v, want InvalidStateError", err)
	}
	// No partial enrollment from the rejected call.
	subs, _ := env.Engine.Repo.ListSubprocesses(env.Ctx, p.ID)
	if len(subs) != 1 {
		t.Fatalf("subprocesses = %d, want 1", len(subs))
	}
}

func TestStartRejectsEmptyUnitList(t *testing.T) {
	env := newTestEnv(t)
	p := createProcess(t, env, domain.ProcessMapping, "u-a")
	_, err := env.Engine.StartMapping(env.Ctx, engine.StartOptions{ProcessID: p.ID, ActorID: "tester"})
	var iie *engine.InvalidInputError
	if !errors.As(err, &iie) {
		t.Fatalf("err = %v, want InvalidInputError", err)
	}
}

func TestStartRejectsConflictingEnrollment(t *testing.T) {
	env := newTestEnv(t)
	p1 := createProcess(t, env, domain.ProcessMapping, "u-a")
	if _, err := env.Engine.StartMapping(env.Ctx, engine.StartOptions{ProcessID: p1.ID, UnitIDs: []string{"u-a"}, ActorID: "tester"}); err != nil {
		t.Fatalf("start p1: %v", err)
	}
	p2 := createProcess(t, env, domain.ProcessMapping, "u-a", "u-d")
	_, err := env.Engine.StartMapping(env.Ctx, engine.StartOptions{ProcessID: p2.ID, UnitIDs: []string{"u-a", "u-d"}, ActorID: "tester"})
	var cape *engine.ConflictingActiveProcessError
	if !errors.As(err, &cape) {
		t.Fatalf("err = %v, want ConflictingActiveProcessError", err)
	}
	if len(cape.Acronyms) != 1 || cape.Acronyms[0] != "ALPHA" {
		t.Fatalf("conflict acronyms = %v, want [ALPHA]", cape.Acronyms)
	}
	// DELTA must not have been enrolled by the failed call.
	subs, _ := env.Engine.Repo.ListSubprocesses(env.Ctx, p2.ID)
	if len(subs) != 0 {
		t.Fatalf("subprocesses = %d, want 0", len(subs))
	}
}

func TestStartRevisionRequiresEffectiveMaps(t *testing.T) {
	env := newTestEnv(t)
	seedEffectiveMap(t, env, "u-a", "map-a")
	// u-d deliberately has no effective map.
	p := createProcess(t, env, domain.ProcessRevision, "u-a", "u-d")
	_, err := env.Engine.StartRevision(env.Ctx, engine.StartOptions{ProcessID: p.ID, UnitIDs: []string{"u-a", "u-d"}, ActorID: "tester"})
	var neme *engine.NoEffectiveMapError
	if !errors.As(err, &neme) {
		t.Fatalf("err = %v, want NoEffectiveMapError", err)
	}
	if neme.UnitAcronym != "DELTA" {
		t.Fatalf("offending unit = %s, want DELTA", neme.UnitAcronym)
	}
	// All-or-nothing: the unit that does have a map was not enrolled.
	subs, _ := env.Engine.Repo.ListSubprocesses(env.Ctx, p.ID)
	if len(subs) != 0 {
		t.Fatalf("subprocesses = %d, want 0", len(subs))
	}
	got, _ := env.Engine.Repo.GetProcess(env.Ctx, p.ID)
	if got.Situation != domain.ProcessCreated {
		t.Fatalf("process situation = %s, want CREATED", got.Situation)
	}
}

func TestStartRevisionCopiesEffectiveMap(t *testing.T) {
	env := newTestEnv(t)
	seedEffectiveMap(t, env, "u-a", "map-a")
	p := createProcess(t, env, domain.ProcessRevision, "u-a")
	if _, err := env.Engine.StartRevision(env.Ctx, engine.StartOptions{ProcessID: p.ID, UnitIDs: []string{"u-a"}, ActorID: "tester"}); err != nil {
		t.Fatalf("start revision: %v", err)
	}
	subs, _ := env.Engine.Repo.ListSubprocesses(env.Ctx, p.ID)
	if len(subs) != 1 {
		t.Fatalf("subprocesses = %d, want 1", len(subs))
	}
	sp := subs[0]
	if sp.Situation != domain.RevisionCadastroInProgress {
		t.Fatalf("situation = %s, want revision entry", sp.Situation)
	}
	if sp.MapID == nil || *sp.MapID == "map-a" {
		t.Fatalf("map id = %v, want a fresh copy", sp.MapID)
	}
	m, err := env.Engine.Repo.GetMap(env.Ctx, *sp.MapID)
	if err != nil || m.SourceMapID == nil || *m.SourceMapID != "map-a" {
		t.Fatalf("copied map = %+v (%v), want source map-a", m, err)
	}
	acts, _ := env.Engine.Repo.ListActivities(env.Ctx, *sp.MapID)
	if len(acts) != 1 || acts[0].Description != "Review benefit claims" {
		t.Fatalf("copied activities = %v", acts)
	}

	// Editing the copy must not leak into the source.
	if err := env.Engine.Repo.InsertActivity(env.Ctx, domain.Activity{ID: "act-new", MapID: *sp.MapID, Description: "New duty"}); err != nil {
		t.Fatalf("insert activity on copy: %v", err)
	}
	srcActs, _ := env.Engine.Repo.ListActivities(env.Ctx, "map-a")
	if len(srcActs) != 1 {
		t.Fatalf("source activities = %d after editing copy, want 1", len(srcActs))
	}
}

func TestStartDiagnosticUsesDiagnosticEntry(t *testing.T) {
	env := newTestEnv(t)
	seedEffectiveMap(t, env, "u-a", "map-a")
	p := createProcess(t, env, domain.ProcessDiagnostic, "u-a")
	if _, err := env.Engine.StartDiagnostic(env.Ctx, engine.StartOptions{ProcessID: p.ID, UnitIDs: []string{"u-a"}, ActorID: "tester"}); err != nil {
		t.Fatalf("start diagnostic: %v", err)
	}
	subs, _ := env.Engine.Repo.ListSubprocesses(env.Ctx, p.ID)
	if len(subs) != 1 || subs[0].Situation != domain.DiagnosticSelfAssessment {
		t.Fatalf("subprocesses = %v, want one in self-assessment", subs)
	}
}

func TestStartRejectsTypeMismatch(t *testing.T) {
	env := newTestEnv(t)
	p := createProcess(t, env, domain.ProcessMapping, "u-a")
	_, err := env.Engine.StartRevision(env.Ctx, engine.StartOptions{ProcessID: p.ID, UnitIDs: []string{"u-a"}, ActorID: "tester"})
	var iie *engine.InvalidInputError
	if !errors.As(err, &iie) {
		t.Fatalf("err = %v, want InvalidInputError", err)
	}
}

func TestCreateProcessValidation(t *testing.T) {
	env := newTestEnv(t)
	var iie *engine.InvalidInputError

	_, err := env.Engine.CreateProcess(env.Ctx, engine.ProcessCreateOptions{Type: domain.ProcessMapping, UnitIDs: []string{"u-a"}})
	if !errors.As(err, &iie) {
		t.Fatalf("blank description: err = %v, want InvalidInputError", err)
	}
	_, err = env.Engine.CreateProcess(env.Ctx, engine.ProcessCreateOptions{Description: "x", Type: "AUDIT", UnitIDs: []string{"u-a"}})
	if !errors.As(err, &iie) {
		t.Fatalf("bad type: err = %v, want InvalidInputError", err)
	}
	_, err = env.Engine.CreateProcess(env.Ctx, engine.ProcessCreateOptions{Description: "x", Type: domain.ProcessMapping})
	if !errors.As(err, &iie) {
		t.Fatalf("no units: err = %v, want InvalidInputError", err)
	}
	_, err = env.Engine.CreateProcess(env.Ctx, engine.ProcessCreateOptions{Description: "x", Type: domain.ProcessRevision, UnitIDs: []string{"ghost"}})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("unknown unit on revision: err = %v, want ErrNotFound", err)
	}
}

func TestUpdateAndDeleteOnlyWhileCreated(t *testing.T) {
	env := newTestEnv(t)
	p := createProcess(t, env, domain.ProcessMapping, "u-a")

	updated, err := env.Engine.UpdateProcess(env.Ctx, engine.ProcessUpdateOptions{
		ID: p.ID, Description: "renamed", Type: domain.ProcessMapping, ActorID: "tester",
	})
	if err != nil || updated.Description != "renamed" {
		t.Fatalf("update while CREATED: %v", err)
	}
	if _, err := env.Engine.StartMapping(env.Ctx, engine.StartOptions{ProcessID: p.ID, UnitIDs: []string{"u-a"}, ActorID: "tester"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	var ise *engine.InvalidStateError
	_, err = env.Engine.UpdateProcess(env.Ctx, engine.ProcessUpdateOptions{ID: p.ID, Description: "again", Type: domain.ProcessMapping, ActorID: "tester"})
	if !errors.As(err, &ise) {
		t.Fatalf("update after start: err = %v, want InvalidStateError", err)
	}
	err = env.Engine.DeleteProcess(env.Ctx, p.ID, "tester")
	if !errors.As(err, &ise) {
		t.Fatalf("delete after start: err = %v, want InvalidStateError", err)
	}

	p2 := createProcess(t, env, domain.ProcessMapping, "u-d")
	if err := env.Engine.DeleteProcess(env.Ctx, p2.ID, "tester"); err != nil {
		t.Fatalf("delete while CREATED: %v", err)
	}
	if _, err := env.Engine.Repo.GetProcess(env.Ctx, p2.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("deleted process still readable: %v", err)
	}
}

func TestFinalizeRequiresInProgress(t *testing.T) {
	env := newTestEnv(t)
	p := createProcess(t, env, domain.ProcessMapping, "u-a")
	_, err := env.Engine.Finalize(env.Ctx, p.ID, "tester")
	var ise *engine.InvalidStateError
	if !errors.As(err, &ise) {
		t.Fatalf("finalize from CREATED: err = %v, want InvalidStateError", err)
	}
}

func TestFinalizeBlocksOnNonTerminalSubprocesses(t *testing.T) {
	env := newTestEnv(t)
	p := createProcess(t, env, domain.ProcessMapping, "u-a")
	if _, err := env.Engine.StartMapping(env.Ctx, engine.StartOptions{ProcessID: p.ID, UnitIDs: []string{"u-a"}, ActorID: "tester"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, err := env.Engine.Finalize(env.Ctx, p.ID, "tester")
	var ise *engine.InvalidStateError
	if !errors.As(err, &ise) {
		t.Fatalf("finalize with open subprocess: err = %v, want InvalidStateError", err)
	}
}

func TestFinalizePromotesMapsAndReleasesEnrollment(t *testing.T) {
	env := newTestEnv(t)
	p := createProcess(t, env, domain.ProcessMapping, "u-a")
	if _, err := env.Engine.StartMapping(env.Ctx, engine.StartOptions{ProcessID: p.ID, UnitIDs: []string{"u-a"}, ActorID: "tester"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	subs, _ := env.Engine.Repo.ListSubprocesses(env.Ctx, p.ID)
	driveToTerminal(t, env, subs[0].ID)

	finalized, err := env.Engine.Finalize(env.Ctx, p.ID, "tester")
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if finalized.Situation != domain.ProcessFinalized || finalized.FinalizedAt == nil {
		t.Fatalf("finalized = %+v", finalized)
	}
	effective, err := env.Engine.Repo.EffectiveMapID(env.Ctx, "u-a")
	if err != nil || effective != *subs[0].MapID {
		t.Fatalf("effective map = %s (%v), want %s", effective, err, *subs[0].MapID)
	}
	// The released enrollment lets the unit join the next campaign.
	p2 := createProcess(t, env, domain.ProcessMapping, "u-a")
	if _, err := env.Engine.StartMapping(env.Ctx, engine.StartOptions{ProcessID: p2.ID, UnitIDs: []string{"u-a"}, ActorID: "tester"}); err != nil {
		t.Fatalf("re-enroll after finalize: %v", err)
	}
}

func TestFinalizeCompletenessPolicyOff(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Policies.Finalize.RequireTerminalSubprocesses = false
	p := createProcess(t, env, domain.ProcessMapping, "u-a")
	if _, err := env.Engine.StartMapping(env.Ctx, engine.StartOptions{ProcessID: p.ID, UnitIDs: []string{"u-a"}, ActorID: "tester"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	finalized, err := env.Engine.Finalize(env.Ctx, p.ID, "tester")
	if err != nil || finalized.Situation != domain.ProcessFinalized {
		t.Fatalf("finalize with policy off: %v", err)
	}
	// Non-terminal maps are not promoted.
	if _, err := env.Engine.Repo.EffectiveMapID(env.Ctx, "u-a"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("effective map err = %v, want ErrNotFound", err)
	}
}

// driveToTerminal walks a mapping subprocess along the shortest legal path
// to homologation.
func driveToTerminal(t *testing.T, env testEnv, subprocessID string) {
	t.Helper()
	path := []domain.Situation{
		domain.MappingCadastroSubmitted,
		domain.MappingCadastroHomologated,
		domain.MappingMapCreated,
		domain.MappingMapSubmitted,
		domain.MappingMapValidated,
		domain.MappingMapHomologated,
	}
	for _, next := range path {
		if _, err := env.Engine.SetSituation(env.Ctx, engine.TransitionOptions{
			SubprocessID: subprocessID,
			Next:         next,
			ActorID:      "tester",
		}); err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
	}
}
