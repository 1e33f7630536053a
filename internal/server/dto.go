package server

import (
	"compmap/internal/domain"
)

// Request payloads

type CreateProcessRequest struct {
	Description    string   `json:"description"`
	Type           string   `json:"type" enum:"MAPPING,REVISION,DIAGNOSTIC"`
	Stage1Deadline *string  `json:"stage1_deadline,omitempty" format:"date-time"`
	UnitIDs        []string `json:"unit_ids"`
}

type UpdateProcessRequest struct {
	Description    string  `json:"description"`
	Type           string  `json:"type" enum:"MAPPING,REVISION,DIAGNOSTIC"`
	Stage1Deadline *string `json:"stage1_deadline,omitempty" format:"date-time"`
}

type StartProcessRequest struct {
	UnitIDs []string `json:"unit_ids"`
}

type TransitionRequest struct {
	Situation    string  `json:"situation"`
	MovementNote string  `json:"movement_note,omitempty"`
	OriginUnitID *string `json:"origin_unit_id,omitempty"`
	DestUnitID   string  `json:"dest_unit_id,omitempty"`
}

type RepairSituationRequest struct {
	Situation string `json:"situation"`
}

type RecordMovementRequest struct {
	OriginUnitID *string `json:"origin_unit_id,omitempty"`
	DestUnitID   string  `json:"dest_unit_id,omitempty"`
	Description  string  `json:"description"`
}

type ImportUnitsRequest struct {
	Units []UnitPayload `json:"units"`
}

type UnitPayload struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Acronym        string  `json:"acronym"`
	Type           string  `json:"type" enum:"OPERATIONAL,INTEROPERATIONAL,INTERMEDIATE"`
	SuperiorUnitID *string `json:"superior_unit_id,omitempty"`
	TitularUserID  *string `json:"titular_user_id,omitempty"`
}

// Response payloads

type ProcessResponse struct {
	ID             string  `json:"id"`
	Description    string  `json:"description"`
	Type           string  `json:"type"`
	Situation      string  `json:"situation"`
	Stage1Deadline *string `json:"stage1_deadline,omitempty"`
	CreatedAt      string  `json:"created_at"`
	FinalizedAt    *string `json:"finalized_at,omitempty"`
}

type SubprocessResponse struct {
	ID                string  `json:"id"`
	ProcessID         string  `json:"process_id"`
	UnitID            string  `json:"unit_id"`
	MapID             *string `json:"map_id,omitempty"`
	Situation         string  `json:"situation"`
	SituationLabel    string  `json:"situation_label"`
	Active            bool    `json:"active"`
	CurrentStage      *int    `json:"current_stage,omitempty"`
	Stage1Deadline    *string `json:"stage1_deadline,omitempty"`
	Stage1CompletedAt *string `json:"stage1_completed_at,omitempty"`
	CreatedAt         string  `json:"created_at"`
}

type MovementResponse struct {
	ID           int64   `json:"id"`
	SubprocessID string  `json:"subprocess_id"`
	TS           string  `json:"ts"`
	OriginUnitID *string `json:"origin_unit_id,omitempty"`
	DestUnitID   string  `json:"dest_unit_id"`
	Description  string  `json:"description"`
	ActorID      *string `json:"actor_id,omitempty"`
}

type UnitResponse struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Acronym        string  `json:"acronym"`
	Type           string  `json:"type"`
	SuperiorUnitID *string `json:"superior_unit_id,omitempty"`
	TitularUserID  *string `json:"titular_user_id,omitempty"`
}

type SnapshotResponse struct {
	ID          string `json:"id"`
	ProcessID   string `json:"process_id"`
	UnitID      string `json:"unit_id"`
	Name        string `json:"name"`
	Acronym     string `json:"acronym"`
	Type        string `json:"type"`
	ProcessType string `json:"process_type"`
	Active      bool   `json:"active"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	ProcessID  string `json:"process_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// Mappers

func processResponse(p domain.Process) ProcessResponse {
	return ProcessResponse{
		ID:             p.ID,
		Description:    p.Description,
		Type:           string(p.Type),
		Situation:      string(p.Situation),
		Stage1Deadline: p.Stage1Deadline,
		CreatedAt:      p.CreatedAt,
		FinalizedAt:    p.FinalizedAt,
	}
}

func mapProcesses(items []domain.Process) []ProcessResponse {
	res := make([]ProcessResponse, 0, len(items))
	for _, p := range items {
		res = append(res, processResponse(p))
	}
	return res
}

func subprocessResponse(sp domain.Subprocess, active bool, stage *int) SubprocessResponse {
	return SubprocessResponse{
		ID:                sp.ID,
		ProcessID:         sp.ProcessID,
		UnitID:            sp.UnitID,
		MapID:             sp.MapID,
		Situation:         string(sp.Situation),
		SituationLabel:    sp.Situation.Label(),
		Active:            active,
		CurrentStage:      stage,
		Stage1Deadline:    sp.Stage1Deadline,
		Stage1CompletedAt: sp.Stage1CompletedAt,
		CreatedAt:         sp.CreatedAt,
	}
}

func movementResponse(m domain.Movement) MovementResponse {
	return MovementResponse{
		ID:           m.ID,
		SubprocessID: m.SubprocessID,
		TS:           m.TS,
		OriginUnitID: m.OriginUnitID,
		DestUnitID:   m.DestUnitID,
		Description:  m.Description,
		ActorID:      m.ActorID,
	}
}

func mapMovements(items []domain.Movement) []MovementResponse {
	res := make([]MovementResponse, 0, len(items))
	for _, m := range items {
		res = append(res, movementResponse(m))
	}
	return res
}

func unitResponse(u domain.Unit) UnitResponse {
	return UnitResponse{
		ID:             u.ID,
		Name:           u.Name,
		Acronym:        u.Acronym,
		Type:           string(u.Type),
		SuperiorUnitID: u.SuperiorUnitID,
		TitularUserID:  u.TitularUserID,
	}
}

func mapUnits(items []domain.Unit) []UnitResponse {
	res := make([]UnitResponse, 0, len(items))
	for _, u := range items {
		res = append(res, unitResponse(u))
	}
	return res
}

func snapshotResponse(s domain.UnitSnapshot) SnapshotResponse {
	return SnapshotResponse{
		ID:          s.ID,
		ProcessID:   s.ProcessID,
		UnitID:      s.UnitID,
		Name:        s.Name,
		Acronym:     s.Acronym,
		Type:        string(s.Type),
		ProcessType: string(s.ProcessType),
		Active:      s.Active,
	}
}

func mapSnapshots(items []domain.UnitSnapshot) []SnapshotResponse {
	res := make([]SnapshotResponse, 0, len(items))
	for _, s := range items {
		res = append(res, snapshotResponse(s))
	}
	return res
}

func eventResponse(evt domain.Event) EventResponse {
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		ProcessID:  evt.ProcessID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    evt.Payload,
	}
}

func mapEvents(items []domain.Event) []EventResponse {
	res := make([]EventResponse, 0, len(items))
	for _, evt := range items {
		res = append(res, eventResponse(evt))
	}
	return res
}
