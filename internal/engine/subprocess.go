package engine

import (
	"context"
	"fmt"
	"time"

	"compmap/internal/domain"
	"compmap/internal/events"
)

// TransitionOptions drive a subprocess situation change. MovementNote, when
// set, records a custody movement in the same transaction; OriginUnitID is
// only meaningful alongside a note.
type TransitionOptions struct {
	SubprocessID string
	Next         domain.Situation
	ActorID      string
	MovementNote string
	OriginUnitID *string
	DestUnitID   string
}

// SetSituation moves a subprocess to the requested situation, enforcing the
// family transition graph. Same-situation requests are accepted and change
// nothing. Reaching the family terminal stamps stage-1 completion.
func (e Engine) SetSituation(ctx context.Context, opts TransitionOptions) (domain.Subprocess, error) {
	if !opts.Next.Valid() {
		return domain.Subprocess{}, invalidInput("unknown situation %q", opts.Next)
	}
	sp, err := e.Repo.GetSubprocess(ctx, opts.SubprocessID)
	if err != nil {
		return domain.Subprocess{}, err
	}
	if sp.Situation == opts.Next {
		return sp, nil
	}
	p, err := e.Repo.GetProcess(ctx, sp.ProcessID)
	if err != nil {
		return domain.Subprocess{}, err
	}
	if p.Situation != domain.ProcessInProgress {
		return domain.Subprocess{}, invalidProcessState("transition subprocess", p.Situation, domain.ProcessInProgress)
	}
	if !domain.CanTransition(sp.Situation, opts.Next, p.Type) {
		return domain.Subprocess{}, &IllegalTransitionError{From: sp.Situation, To: opts.Next}
	}
	return e.applySituation(ctx, sp, opts, "subprocess.transition")
}

// RepairSituation force-sets a subprocess situation without consulting the
// transition graph. It exists for administrative data repair only; every
// use is recorded in the events ledger as subprocess.repaired.
func (e Engine) RepairSituation(ctx context.Context, subprocessID string, next domain.Situation, actorID string) (domain.Subprocess, error) {
	if !next.Valid() {
		return domain.Subprocess{}, invalidInput("unknown situation %q", next)
	}
	sp, err := e.Repo.GetSubprocess(ctx, subprocessID)
	if err != nil {
		return domain.Subprocess{}, err
	}
	if sp.Situation == next {
		return sp, nil
	}
	return e.applySituation(ctx, sp, TransitionOptions{
		SubprocessID: subprocessID,
		Next:         next,
		ActorID:      actorID,
	}, "subprocess.repaired")
}

func (e Engine) applySituation(ctx context.Context, sp domain.Subprocess, opts TransitionOptions, evtType string) (domain.Subprocess, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Subprocess{}, err
	}
	defer tx.Rollback()

	var stage1Done *string
	if opts.Next.Terminal() && sp.Stage1CompletedAt == nil {
		v := e.now().UTC().Format(time.RFC3339)
		stage1Done = &v
	}
	moved, err := e.Repo.UpdateSubprocessSituationTx(ctx, tx, sp.ID, sp.Situation, opts.Next, stage1Done)
	if err != nil {
		return domain.Subprocess{}, err
	}
	if !moved {
		return domain.Subprocess{}, &InvalidStateError{
			Op:     "transition subprocess",
			Reason: fmt.Sprintf("subprocess %s changed concurrently, retry", sp.ID),
		}
	}
	if err := e.Repo.SetSnapshotLabelTx(ctx, tx, sp.ProcessID, sp.UnitID, opts.Next.Label()); err != nil {
		return domain.Subprocess{}, err
	}
	if opts.MovementNote != "" {
		dest := opts.DestUnitID
		if dest == "" {
			dest = sp.UnitID
		}
		if err := e.Repo.InsertMovementTx(ctx, tx, domain.Movement{
			SubprocessID: sp.ID,
			TS:           e.now().UTC().Format(time.RFC3339),
			OriginUnitID: opts.OriginUnitID,
			DestUnitID:   dest,
			Description:  opts.MovementNote,
			ActorID:      actorRef(opts.ActorID),
		}); err != nil {
			return domain.Subprocess{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, evtType, sp.ProcessID, "subprocess", sp.ID, opts.ActorID, events.EventPayload{
		"from": sp.Situation, "to": opts.Next,
	}); err != nil {
		return domain.Subprocess{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Subprocess{}, err
	}
	sp.Situation = opts.Next
	if stage1Done != nil {
		sp.Stage1CompletedAt = stage1Done
	}
	return sp, nil
}

// IsActive reports whether the subprocess still has lifecycle work ahead of
// it: anything between the family entry situation and the terminal.
func IsActive(sp domain.Subprocess) bool {
	return sp.Situation != domain.NotStarted && !sp.Situation.Terminal()
}

// CurrentStage maps the situation onto the two-stage campaign model: nil
// once the terminal is reached, otherwise stage 1.
func CurrentStage(sp domain.Subprocess) *int {
	if sp.Situation.Terminal() {
		return nil
	}
	stage := 1
	return &stage
}

// RecordMovement appends a custody movement without changing the situation.
func (e Engine) RecordMovement(ctx context.Context, subprocessID string, originUnitID *string, destUnitID, description, actorID string) (domain.Movement, error) {
	if description == "" {
		return domain.Movement{}, invalidInput("movement description is required")
	}
	sp, err := e.Repo.GetSubprocess(ctx, subprocessID)
	if err != nil {
		return domain.Movement{}, err
	}
	if destUnitID == "" {
		destUnitID = sp.UnitID
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Movement{}, err
	}
	defer tx.Rollback()
	m := domain.Movement{
		SubprocessID: sp.ID,
		TS:           e.now().UTC().Format(time.RFC3339),
		OriginUnitID: originUnitID,
		DestUnitID:   destUnitID,
		Description:  description,
		ActorID:      actorRef(actorID),
	}
	if err := e.Repo.InsertMovementTx(ctx, tx, m); err != nil {
		return domain.Movement{}, err
	}
	if err := e.Events.Append(ctx, tx, "subprocess.moved", sp.ProcessID, "subprocess", sp.ID, actorID, events.EventPayload{
		"dest": destUnitID, "description": description,
	}); err != nil {
		return domain.Movement{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Movement{}, err
	}
	return m, nil
}
