package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"compmap/internal/config"
	"compmap/internal/directory"
	"compmap/internal/domain"
	"compmap/internal/events"
	"compmap/internal/mapcopy"
	"compmap/internal/repo"
)

// Directory is the external organizational lookup the orchestrator
// consumes. Production uses directory.DB; tests inject fakes.
type Directory interface {
	Unit(ctx context.Context, id string) (domain.Unit, error)
	EffectiveMapID(ctx context.Context, unitID string) (string, error)
}

// MapCopier produces an independent deep copy of a competency map inside
// the caller's transaction.
type MapCopier interface {
	CopyMap(ctx context.Context, tx *sql.Tx, sourceMapID, targetUnitID string) (string, error)
}

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Bus       *events.Bus
	Directory Directory
	Copier    MapCopier
	Config    *config.Config
	Now       func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:        db,
		Repo:      r,
		Events:    events.Writer{DB: db},
		Bus:       events.NewBus(),
		Directory: directory.DB{Repo: r},
		Copier:    mapcopy.Copier{},
		Config:    cfg,
		Now:       time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// ProcessCreateOptions are parameters for creating a process. UnitIDs is
// the intended participant list; it is validated here but enrollment only
// happens at start.
type ProcessCreateOptions struct {
	Description    string
	Type           domain.ProcessType
	Stage1Deadline *string
	UnitIDs        []string
	ActorID        string
}

func (e Engine) CreateProcess(ctx context.Context, opts ProcessCreateOptions) (domain.Process, error) {
	if strings.TrimSpace(opts.Description) == "" {
		return domain.Process{}, invalidInput("process description is required")
	}
	if !opts.Type.Valid() {
		return domain.Process{}, invalidInput("unknown process type %q", opts.Type)
	}
	if len(opts.UnitIDs) == 0 {
		return domain.Process{}, invalidInput("at least one participating unit is required")
	}
	if opts.Type == domain.ProcessRevision || opts.Type == domain.ProcessDiagnostic {
		for _, unitID := range opts.UnitIDs {
			if _, err := e.Directory.Unit(ctx, unitID); err != nil {
				if errors.Is(err, repo.ErrNotFound) {
					return domain.Process{}, fmt.Errorf("unit %s: %w", unitID, repo.ErrNotFound)
				}
				return domain.Process{}, err
			}
		}
	}
	p := domain.Process{
		ID:             uuid.New().String(),
		Description:    opts.Description,
		Type:           opts.Type,
		Situation:      domain.ProcessCreated,
		Stage1Deadline: opts.Stage1Deadline,
		CreatedAt:      e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Process{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertProcessTx(ctx, tx, p); err != nil {
		return domain.Process{}, fmt.Errorf("insert process: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "process.created", p.ID, "process", p.ID, opts.ActorID, events.EventPayload{
		"type": p.Type, "description": p.Description,
	}); err != nil {
		return domain.Process{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Process{}, err
	}
	return p, nil
}

// StartOptions are parameters for the start operations.
type StartOptions struct {
	ProcessID string
	UnitIDs   []string
	ActorID   string
}

// StartMapping enrolls the given units into a CREATED mapping process: one
// frozen unit snapshot per unit and, for units that carry their own map, an
// empty map, a subprocess in the mapping entry situation and the initial
// custody movement. All of it commits atomically with the flip to
// IN_PROGRESS.
func (e Engine) StartMapping(ctx context.Context, opts StartOptions) (domain.Process, error) {
	return e.start(ctx, domain.ProcessMapping, opts)
}

// StartRevision is StartMapping with the unit's effective map deep-copied
// into the new subprocess instead of starting empty. Any unit without an
// effective map aborts the whole call.
func (e Engine) StartRevision(ctx context.Context, opts StartOptions) (domain.Process, error) {
	return e.start(ctx, domain.ProcessRevision, opts)
}

// StartDiagnostic runs the diagnostic campaign against a copied snapshot of
// each unit's effective map, so assessments stay stable while the live map
// evolves.
func (e Engine) StartDiagnostic(ctx context.Context, opts StartOptions) (domain.Process, error) {
	return e.start(ctx, domain.ProcessDiagnostic, opts)
}

func (e Engine) start(ctx context.Context, want domain.ProcessType, opts StartOptions) (domain.Process, error) {
	if len(opts.UnitIDs) == 0 {
		return domain.Process{}, invalidInput("at least one unit is required to start the process")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Process{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProcessTx(ctx, tx, opts.ProcessID)
	if err != nil {
		return domain.Process{}, err
	}
	if p.Type != want {
		return domain.Process{}, invalidInput("process %s is a %s process, not %s", p.ID, p.Type, want)
	}
	if p.Situation != domain.ProcessCreated {
		return domain.Process{}, invalidProcessState("start process", p.Situation, domain.ProcessCreated)
	}
	enrolled, err := e.Repo.ActiveEnrollments(ctx, tx, opts.UnitIDs, p.Type, p.ID)
	if err != nil {
		return domain.Process{}, err
	}
	if len(enrolled) > 0 {
		return domain.Process{}, &ConflictingActiveProcessError{Acronyms: enrolled}
	}

	units := make([]domain.Unit, 0, len(opts.UnitIDs))
	for _, unitID := range opts.UnitIDs {
		u, err := e.Directory.Unit(ctx, unitID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return domain.Process{}, fmt.Errorf("unit %s: %w", unitID, repo.ErrNotFound)
			}
			return domain.Process{}, err
		}
		units = append(units, u)
	}
	// Revision and diagnostic need every unit's effective map before any
	// per-unit work so a late failure cannot leave partial enrollments.
	sourceMaps := map[string]string{}
	if want != domain.ProcessMapping {
		for _, u := range units {
			mapID, err := e.Directory.EffectiveMapID(ctx, u.ID)
			if err != nil {
				if errors.Is(err, repo.ErrNotFound) {
					return domain.Process{}, &NoEffectiveMapError{UnitAcronym: u.Acronym}
				}
				return domain.Process{}, err
			}
			sourceMaps[u.ID] = mapID
		}
	}

	for _, u := range units {
		if err := e.enrollUnit(ctx, tx, p, u, sourceMaps[u.ID], opts.ActorID); err != nil {
			if repo.IsUniqueViolation(err) {
				return domain.Process{}, &ConflictingActiveProcessError{Acronyms: []string{u.Acronym}}
			}
			return domain.Process{}, err
		}
	}

	// Re-checked at commit time: a concurrent start that won the race
	// already moved the process out of CREATED.
	moved, err := e.Repo.AdvanceProcessSituation(ctx, tx, p.ID, domain.ProcessCreated, domain.ProcessInProgress)
	if err != nil {
		return domain.Process{}, err
	}
	if !moved {
		return domain.Process{}, invalidProcessState("start process", domain.ProcessInProgress, domain.ProcessCreated)
	}
	if err := e.Events.Append(ctx, tx, "process.started", p.ID, "process", p.ID, opts.ActorID, events.EventPayload{
		"type": p.Type, "units": opts.UnitIDs,
	}); err != nil {
		return domain.Process{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Process{}, err
	}
	p.Situation = domain.ProcessInProgress
	e.Bus.PublishStarted(events.ProcessStarted{
		ProcessID: p.ID,
		Type:      p.Type,
		At:        e.now().UTC(),
		UnitIDs:   opts.UnitIDs,
	})
	return p, nil
}

// enrollUnit performs the per-unit side effects of a start operation. The
// snapshot is written for every unit; the map, subprocess and initial
// movement only for units that own a competency map (every unit on
// revision/diagnostic, where the effective-map requirement already filters
// out unmapped units).
func (e Engine) enrollUnit(ctx context.Context, tx *sql.Tx, p domain.Process, u domain.Unit, sourceMapID, actorID string) error {
	now := e.now().UTC().Format(time.RFC3339)
	snap := buildUnitSnapshot(p, u)
	if err := e.Repo.InsertUnitSnapshotTx(ctx, tx, snap); err != nil {
		return err
	}
	if p.Type == domain.ProcessMapping && !u.Type.Mapped() {
		return nil
	}

	var mapID string
	if sourceMapID == "" {
		mapID = uuid.New().String()
		if err := e.Repo.InsertMapTx(ctx, tx, domain.CompetencyMap{
			ID:        mapID,
			UnitID:    u.ID,
			CreatedAt: now,
		}); err != nil {
			return fmt.Errorf("provision map for %s: %w", u.Acronym, err)
		}
	} else {
		copied, err := e.Copier.CopyMap(ctx, tx, sourceMapID, u.ID)
		if err != nil {
			return fmt.Errorf("copy map for %s: %w", u.Acronym, err)
		}
		mapID = copied
	}

	sp := domain.Subprocess{
		ID:             uuid.New().String(),
		ProcessID:      p.ID,
		UnitID:         u.ID,
		MapID:          &mapID,
		Situation:      domain.EntrySituation(p.Type),
		Stage1Deadline: p.Stage1Deadline,
		CreatedAt:      now,
	}
	if err := e.Repo.InsertSubprocessTx(ctx, tx, sp); err != nil {
		return err
	}
	if err := e.Repo.InsertMovementTx(ctx, tx, domain.Movement{
		SubprocessID: sp.ID,
		TS:           now,
		OriginUnitID: nil,
		DestUnitID:   u.ID,
		Description:  startDescription(p.Type),
		ActorID:      actorRef(actorID),
	}); err != nil {
		return err
	}
	return e.Events.Append(ctx, tx, "subprocess.created", p.ID, "subprocess", sp.ID, actorID, events.EventPayload{
		"unit": u.ID, "situation": sp.Situation,
	})
}

// buildUnitSnapshot copies the unit's directory facts by value, frozen at
// process-start time.
func buildUnitSnapshot(p domain.Process, u domain.Unit) domain.UnitSnapshot {
	snap := domain.UnitSnapshot{
		ID:          uuid.New().String(),
		ProcessID:   p.ID,
		UnitID:      u.ID,
		Name:        u.Name,
		Acronym:     u.Acronym,
		Type:        u.Type,
		Situation:   "PENDING",
		ProcessType: p.Type,
		Active:      true,
	}
	if u.SuperiorUnitID != nil {
		v := *u.SuperiorUnitID
		snap.SuperiorUnitID = &v
	}
	if u.TitularUserID != nil {
		v := *u.TitularUserID
		snap.TitularUserID = &v
	}
	return snap
}

// actorRef turns an actor id into the nullable form movements store.
func actorRef(actorID string) *string {
	if actorID == "" {
		return nil
	}
	return &actorID
}

func startDescription(t domain.ProcessType) string {
	switch t {
	case domain.ProcessRevision:
		return "Revision process started"
	case domain.ProcessDiagnostic:
		return "Diagnostic process started"
	default:
		return "Mapping process started"
	}
}

// Finalize closes an IN_PROGRESS process: optionally verifies every
// subprocess reached its family terminal situation, promotes homologated
// maps to their units' effective maps, releases the active enrollments and
// stamps the completion timestamp.
func (e Engine) Finalize(ctx context.Context, processID, actorID string) (domain.Process, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Process{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProcessTx(ctx, tx, processID)
	if err != nil {
		return domain.Process{}, err
	}
	subs, err := e.Repo.ListSubprocessesTx(ctx, tx, processID)
	if err != nil {
		return domain.Process{}, err
	}
	if p.Situation != domain.ProcessInProgress {
		return domain.Process{}, invalidProcessState("finalize process", p.Situation, domain.ProcessInProgress)
	}
	if e.Config != nil && e.Config.Policies.Finalize.RequireTerminalSubprocesses {
		pending, err := e.Repo.CountNonTerminal(ctx, tx, p.ID)
		if err != nil {
			return domain.Process{}, err
		}
		if pending > 0 {
			return domain.Process{}, &InvalidStateError{
				Op:      "finalize process",
				Current: p.Situation,
				Reason:  fmt.Sprintf("%d subprocesses have not reached their terminal situation", pending),
			}
		}
	}
	if p.Type != domain.ProcessDiagnostic {
		for _, sp := range subs {
			if sp.MapID == nil || !sp.Situation.Terminal() {
				continue
			}
			if err := e.Repo.SetEffectiveMapTx(ctx, tx, sp.UnitID, *sp.MapID); err != nil {
				return domain.Process{}, fmt.Errorf("promote map for unit %s: %w", sp.UnitID, err)
			}
		}
	}
	if err := e.Repo.ReleaseSnapshots(ctx, tx, p.ID); err != nil {
		return domain.Process{}, err
	}
	moved, err := e.Repo.AdvanceProcessSituation(ctx, tx, p.ID, domain.ProcessInProgress, domain.ProcessFinalized)
	if err != nil {
		return domain.Process{}, err
	}
	if !moved {
		return domain.Process{}, invalidProcessState("finalize process", domain.ProcessFinalized, domain.ProcessInProgress)
	}
	finalizedAt := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.SetProcessFinalized(ctx, tx, p.ID, finalizedAt); err != nil {
		return domain.Process{}, err
	}
	if err := e.Events.Append(ctx, tx, "process.finalized", p.ID, "process", p.ID, actorID, events.EventPayload{
		"type": p.Type,
	}); err != nil {
		return domain.Process{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Process{}, err
	}
	p.Situation = domain.ProcessFinalized
	p.FinalizedAt = &finalizedAt
	e.Bus.PublishFinalized(events.ProcessFinalized{
		ProcessID: p.ID,
		Type:      p.Type,
		At:        e.now().UTC(),
	})
	return p, nil
}

// ProcessUpdateOptions replaces description, type and stage-1 deadline.
type ProcessUpdateOptions struct {
	ID             string
	Description    string
	Type           domain.ProcessType
	Stage1Deadline *string
	ActorID        string
}

func (e Engine) UpdateProcess(ctx context.Context, opts ProcessUpdateOptions) (domain.Process, error) {
	p, err := e.Repo.GetProcess(ctx, opts.ID)
	if err != nil {
		return domain.Process{}, err
	}
	if p.Situation != domain.ProcessCreated {
		return domain.Process{}, invalidProcessState("update process", p.Situation, domain.ProcessCreated)
	}
	if strings.TrimSpace(opts.Description) == "" {
		return domain.Process{}, invalidInput("process description is required")
	}
	if !opts.Type.Valid() {
		return domain.Process{}, invalidInput("unknown process type %q", opts.Type)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Process{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateProcessFieldsTx(ctx, tx, opts.ID, opts.Description, opts.Type, opts.Stage1Deadline); err != nil {
		return domain.Process{}, err
	}
	if err := e.Events.Append(ctx, tx, "process.updated", p.ID, "process", p.ID, opts.ActorID, events.EventPayload{
		"description": opts.Description, "type": opts.Type,
	}); err != nil {
		return domain.Process{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Process{}, err
	}
	p.Description = opts.Description
	p.Type = opts.Type
	p.Stage1Deadline = opts.Stage1Deadline
	return p, nil
}

// DeleteProcess hard-removes a process. Only CREATED processes may be
// deleted; once started a process is permanent.
func (e Engine) DeleteProcess(ctx context.Context, id, actorID string) error {
	p, err := e.Repo.GetProcess(ctx, id)
	if err != nil {
		return err
	}
	if p.Situation != domain.ProcessCreated {
		return invalidProcessState("delete process", p.Situation, domain.ProcessCreated)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteProcessTx(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "process.deleted", p.ID, "process", p.ID, actorID, events.EventPayload{
		"description": p.Description,
	}); err != nil {
		return err
	}
	return tx.Commit()
}
