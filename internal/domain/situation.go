package domain

// Situation is the workflow state of a subprocess. Every situation except
// NotStarted belongs to exactly one family (mapping, revision, diagnostic);
// situations of different families are mutually unreachable.
type Situation string

const (
	NotStarted Situation = "NOT_STARTED"

	MappingCadastroInProgress  Situation = "MAPPING_CADASTRO_IN_PROGRESS"
	MappingCadastroSubmitted   Situation = "MAPPING_CADASTRO_SUBMITTED"
	MappingCadastroHomologated Situation = "MAPPING_CADASTRO_HOMOLOGATED"
	MappingMapCreated          Situation = "MAPPING_MAP_CREATED"
	MappingMapSubmitted        Situation = "MAPPING_MAP_SUBMITTED"
	MappingMapWithSuggestions  Situation = "MAPPING_MAP_WITH_SUGGESTIONS"
	MappingMapValidated        Situation = "MAPPING_MAP_VALIDATED"
	MappingMapHomologated      Situation = "MAPPING_MAP_HOMOLOGATED"

	RevisionCadastroInProgress  Situation = "REVISION_CADASTRO_IN_PROGRESS"
	RevisionCadastroSubmitted   Situation = "REVISION_CADASTRO_SUBMITTED"
	RevisionCadastroHomologated Situation = "REVISION_CADASTRO_HOMOLOGATED"
	RevisionMapCreated          Situation = "REVISION_MAP_CREATED"
	RevisionMapSubmitted        Situation = "REVISION_MAP_SUBMITTED"
	RevisionMapWithSuggestions  Situation = "REVISION_MAP_WITH_SUGGESTIONS"
	RevisionMapValidated        Situation = "REVISION_MAP_VALIDATED"
	RevisionMapHomologated      Situation = "REVISION_MAP_HOMOLOGATED"

	DiagnosticSelfAssessment Situation = "DIAGNOSTIC_SELF_ASSESSMENT_IN_PROGRESS"
	DiagnosticMonitoring     Situation = "DIAGNOSTIC_MONITORING"
	DiagnosticConcluded      Situation = "DIAGNOSTIC_CONCLUDED"
)

// Situations lists every known situation, NotStarted first.
func Situations() []Situation {
	return []Situation{
		NotStarted,
		MappingCadastroInProgress, MappingCadastroSubmitted, MappingCadastroHomologated,
		MappingMapCreated, MappingMapSubmitted, MappingMapWithSuggestions,
		MappingMapValidated, MappingMapHomologated,
		RevisionCadastroInProgress, RevisionCadastroSubmitted, RevisionCadastroHomologated,
		RevisionMapCreated, RevisionMapSubmitted, RevisionMapWithSuggestions,
		RevisionMapValidated, RevisionMapHomologated,
		DiagnosticSelfAssessment, DiagnosticMonitoring, DiagnosticConcluded,
	}
}

func (s Situation) Valid() bool {
	if s == NotStarted {
		return true
	}
	_, ok := situationFamilies[s]
	return ok
}

// Family maps a situation to the process type whose subprocesses may hold
// it. NotStarted has no family and returns "".
func (s Situation) Family() ProcessType {
	return situationFamilies[s]
}

// Terminal reports whether the situation ends its family's workflow.
func (s Situation) Terminal() bool {
	switch s {
	case MappingMapHomologated, RevisionMapHomologated, DiagnosticConcluded:
		return true
	}
	return false
}

// Label is the human-readable form used in error messages and movements.
func (s Situation) Label() string {
	if l, ok := situationLabels[s]; ok {
		return l
	}
	return string(s)
}

var situationFamilies = map[Situation]ProcessType{
	MappingCadastroInProgress:   ProcessMapping,
	MappingCadastroSubmitted:    ProcessMapping,
	MappingCadastroHomologated:  ProcessMapping,
	MappingMapCreated:           ProcessMapping,
	MappingMapSubmitted:         ProcessMapping,
	MappingMapWithSuggestions:   ProcessMapping,
	MappingMapValidated:         ProcessMapping,
	MappingMapHomologated:       ProcessMapping,
	RevisionCadastroInProgress:  ProcessRevision,
	RevisionCadastroSubmitted:   ProcessRevision,
	RevisionCadastroHomologated: ProcessRevision,
	RevisionMapCreated:          ProcessRevision,
	RevisionMapSubmitted:        ProcessRevision,
	RevisionMapWithSuggestions:  ProcessRevision,
	RevisionMapValidated:        ProcessRevision,
	RevisionMapHomologated:      ProcessRevision,
	DiagnosticSelfAssessment:    ProcessDiagnostic,
	DiagnosticMonitoring:        ProcessDiagnostic,
	DiagnosticConcluded:         ProcessDiagnostic,
}

var situationLabels = map[Situation]string{
	NotStarted:                  "not started",
	MappingCadastroInProgress:   "mapping: cadastro in progress",
	MappingCadastroSubmitted:    "mapping: cadastro submitted",
	MappingCadastroHomologated:  "mapping: cadastro homologated",
	MappingMapCreated:           "mapping: map created",
	MappingMapSubmitted:         "mapping: map submitted",
	MappingMapWithSuggestions:   "mapping: map with suggestions",
	MappingMapValidated:         "mapping: map validated",
	MappingMapHomologated:       "mapping: map homologated",
	RevisionCadastroInProgress:  "revision: cadastro in progress",
	RevisionCadastroSubmitted:   "revision: cadastro submitted",
	RevisionCadastroHomologated: "revision: cadastro homologated",
	RevisionMapCreated:          "revision: map created",
	RevisionMapSubmitted:        "revision: map submitted",
	RevisionMapWithSuggestions:  "revision: map with suggestions",
	RevisionMapValidated:        "revision: map validated",
	RevisionMapHomologated:      "revision: map homologated",
	DiagnosticSelfAssessment:    "diagnostic: self-assessment in progress",
	DiagnosticMonitoring:        "diagnostic: monitoring",
	DiagnosticConcluded:         "diagnostic: concluded",
}

// EntrySituation returns the situation a freshly started subprocess of the
// given process type enters.
func EntrySituation(t ProcessType) Situation {
	switch t {
	case ProcessMapping:
		return MappingCadastroInProgress
	case ProcessRevision:
		return RevisionCadastroInProgress
	case ProcessDiagnostic:
		return DiagnosticSelfAssessment
	}
	return NotStarted
}

// situationGraph is the closed set of legal transitions. Anything absent is
// illegal. The mapping and revision families mirror the same
// submit/review/accept/reject cycle; the diagnostic family is linear.
var situationGraph = map[Situation][]Situation{
	MappingCadastroInProgress:  {MappingCadastroSubmitted},
	MappingCadastroSubmitted:   {MappingCadastroHomologated, MappingCadastroInProgress},
	MappingCadastroHomologated: {MappingMapCreated, MappingCadastroInProgress},
	MappingMapCreated:          {MappingMapSubmitted, MappingCadastroHomologated},
	MappingMapSubmitted:        {MappingMapWithSuggestions, MappingMapValidated, MappingMapCreated},
	MappingMapWithSuggestions:  {MappingMapSubmitted, MappingMapCreated},
	MappingMapValidated:        {MappingMapHomologated, MappingMapSubmitted},
	MappingMapHomologated:      {},

	RevisionCadastroInProgress:  {RevisionCadastroSubmitted},
	RevisionCadastroSubmitted:   {RevisionCadastroHomologated, RevisionCadastroInProgress},
	RevisionCadastroHomologated: {RevisionMapCreated, RevisionCadastroInProgress},
	RevisionMapCreated:          {RevisionMapSubmitted, RevisionCadastroHomologated},
	RevisionMapSubmitted:        {RevisionMapWithSuggestions, RevisionMapValidated, RevisionMapCreated},
	RevisionMapWithSuggestions:  {RevisionMapSubmitted, RevisionMapCreated},
	RevisionMapValidated:        {RevisionMapHomologated, RevisionMapSubmitted},
	RevisionMapHomologated:      {},

	DiagnosticSelfAssessment: {DiagnosticMonitoring},
	DiagnosticMonitoring:     {DiagnosticConcluded},
	DiagnosticConcluded:      {},
}

// CanTransition decides whether a subprocess of a process of type t may move
// from current to next. It is a pure predicate; callers turn false into a
// domain error.
func CanTransition(current, next Situation, t ProcessType) bool {
	if current == next {
		return true
	}
	if current == NotStarted {
		return next == EntrySituation(t) && next.Family() == t
	}
	if next == NotStarted {
		return false
	}
	if current.Family() != t || next.Family() != t {
		return false
	}
	for _, dst := range situationGraph[current] {
		if dst == next {
			return true
		}
	}
	return false
}
