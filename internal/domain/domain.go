package domain

// ProcessType identifies the campaign family a process runs.
type ProcessType string

const (
	ProcessMapping    ProcessType = "MAPPING"
	ProcessRevision   ProcessType = "REVISION"
	ProcessDiagnostic ProcessType = "DIAGNOSTIC"
)

func (t ProcessType) Valid() bool {
	switch t {
	case ProcessMapping, ProcessRevision, ProcessDiagnostic:
		return true
	}
	return false
}

// ProcessSituation is the process-level state. It only ever advances
// CREATED -> IN_PROGRESS -> FINALIZED.
type ProcessSituation string

const (
	ProcessCreated    ProcessSituation = "CREATED"
	ProcessInProgress ProcessSituation = "IN_PROGRESS"
	ProcessFinalized  ProcessSituation = "FINALIZED"
)

type Process struct {
	ID             string           `json:"id"`
	Description    string           `json:"description"`
	Type           ProcessType      `json:"type" enum:"MAPPING,REVISION,DIAGNOSTIC"`
	Situation      ProcessSituation `json:"situation" enum:"CREATED,IN_PROGRESS,FINALIZED"`
	Stage1Deadline *string          `json:"stage1_deadline,omitempty" format:"date-time"`
	CreatedAt      string           `json:"created_at" format:"date-time"`
	FinalizedAt    *string          `json:"finalized_at,omitempty" format:"date-time"`
}

// UnitType mirrors the organizational directory's unit classification.
// Only operational and interoperational units carry their own competency
// map; intermediate units participate in the hierarchy without one.
type UnitType string

const (
	UnitOperational      UnitType = "OPERATIONAL"
	UnitInteroperational UnitType = "INTEROPERATIONAL"
	UnitIntermediate     UnitType = "INTERMEDIATE"
)

// Mapped reports whether units of this type own a competency map.
func (t UnitType) Mapped() bool {
	return t == UnitOperational || t == UnitInteroperational
}

// Unit is a live record from the organizational directory.
type Unit struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Acronym        string   `json:"acronym"`
	Type           UnitType `json:"type" enum:"OPERATIONAL,INTEROPERATIONAL,INTERMEDIATE"`
	SuperiorUnitID *string  `json:"superior_unit_id,omitempty"`
	TitularUserID  *string  `json:"titular_user_id,omitempty"`
}

// UnitSnapshot freezes a unit's directory facts at process-start time so
// later org-chart changes do not retroactively alter an in-flight process.
// Active backs the one-active-enrollment-per-process-type constraint and is
// cleared when the owning process finalizes.
type UnitSnapshot struct {
	ID             string      `json:"id"`
	ProcessID      string      `json:"process_id"`
	UnitID         string      `json:"unit_id"`
	Name           string      `json:"name"`
	Acronym        string      `json:"acronym"`
	Type           UnitType    `json:"type"`
	SuperiorUnitID *string     `json:"superior_unit_id,omitempty"`
	TitularUserID  *string     `json:"titular_user_id,omitempty"`
	Situation      string      `json:"situation"`
	ProcessType    ProcessType `json:"process_type"`
	Active         bool        `json:"active"`
}

type Subprocess struct {
	ID                string    `json:"id"`
	ProcessID         string    `json:"process_id"`
	UnitID            string    `json:"unit_id"`
	MapID             *string   `json:"map_id,omitempty"`
	Situation         Situation `json:"situation"`
	Stage1Deadline    *string   `json:"stage1_deadline,omitempty" format:"date-time"`
	Stage1CompletedAt *string   `json:"stage1_completed_at,omitempty" format:"date-time"`
	Stage2Deadline    *string   `json:"stage2_deadline,omitempty" format:"date-time"`
	Stage2CompletedAt *string   `json:"stage2_completed_at,omitempty" format:"date-time"`
	CreatedAt         string    `json:"created_at" format:"date-time"`
}

// Movement is one entry in the append-only custody ledger of a subprocess.
// OriginUnitID is nil on the very first movement.
type Movement struct {
	ID           int64   `json:"id"`
	SubprocessID string  `json:"subprocess_id"`
	TS           string  `json:"ts" format:"date-time"`
	OriginUnitID *string `json:"origin_unit_id,omitempty"`
	DestUnitID   string  `json:"dest_unit_id"`
	Description  string  `json:"description"`
	ActorID      *string `json:"actor_id,omitempty"`
}

// CompetencyMap is owned 1:1 by a subprocess. SourceMapID is set when the
// map was produced by copying another map (revision and diagnostic starts).
type CompetencyMap struct {
	ID          string  `json:"id"`
	UnitID      string  `json:"unit_id"`
	SourceMapID *string `json:"source_map_id,omitempty"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

type Activity struct {
	ID          string `json:"id"`
	MapID       string `json:"map_id"`
	Description string `json:"description"`
}

type Knowledge struct {
	ID          string `json:"id"`
	ActivityID  string `json:"activity_id"`
	Description string `json:"description"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProcessID  string `json:"process_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
