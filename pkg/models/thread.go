package models

// PathKind is the agent category a subquestion is routed to.
type PathKind string

// Routing paths declared by the capability registry.
const (
	PathRAG      PathKind = "rag"
	PathPatient  PathKind = "patient"
	PathClinical PathKind = "clinical"
	PathTool     PathKind = "tool"
)

// Known reports whether the path is one the registry declares. Unknown paths
// from the planner are remapped to PathRAG by the resolve stage.
func (p PathKind) Known() bool {
	switch p {
	case PathRAG, PathPatient, PathClinical, PathTool:
		return true
	}
	return false
}

// Subquestion is one unit of the decomposition plan.
type Subquestion struct {
	ID   string   `json:"id"`
	Text string   `json:"text"`
	Path PathKind `json:"path"`
}

// Blueprint is the execution plan for resolving a user question. It is built
// on the first turn of a question, persisted across clarification turns, and
// refined in place as slots are filled.
type Blueprint struct {
	Subquestions           []Subquestion `json:"subquestions"`
	RequiredClarifications []string      `json:"required_clarifications"`
}

// NeedsClarification reports whether the plan still has unresolved slots.
func (b *Blueprint) NeedsClarification() bool {
	return b != nil && len(b.RequiredClarifications) > 0
}

// ClarificationChoice is one selectable value for a slot.
type ClarificationChoice struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// ClarificationOption lists the labeled choices for one slot.
type ClarificationOption struct {
	Slot    string                `json:"slot"`
	Label   string                `json:"label"`
	Choices []ClarificationChoice `json:"choices"`
}

// Clarification is the structured ask emitted when the pipeline cannot
// resolve without more information from the user.
type Clarification struct {
	OpenSlots []string              `json:"open_slots"`
	Options   []ClarificationOption `json:"options"`
}

// ThreadState is the short-term conversational state of one thread. It is an
// immutable value: mutations go through ApplyDelta, which returns a new state
// with the version bumped. Writes are conditional on the stored version
// (optimistic concurrency), so there are no partial merges and no lost
// updates.
type ThreadState struct {
	ThreadID           string     `json:"thread_id"`
	Version            int64      `json:"version"`
	ActiveJurisdiction string     `json:"active_jurisdiction,omitempty"`
	OpenSlots          []string   `json:"open_slots,omitempty"`
	RefinedQuery       string     `json:"refined_query,omitempty"`
	LastBlueprint      *Blueprint `json:"last_blueprint,omitempty"`
	// PendingQuestion is the original user question awaiting clarification.
	// Carried so a slot-fill turn can reconstruct the effective message.
	PendingQuestion string `json:"pending_question,omitempty"`
}

// NewThreadState returns the default state for a fresh thread at version 0.
// The first successful Put stores it at version 1.
func NewThreadState(threadID string) ThreadState {
	return ThreadState{ThreadID: threadID}
}

// StateDelta describes a whole-field replacement applied to ThreadState.
// Nil pointer fields leave the corresponding state field untouched; non-nil
// fields replace it entirely. There are no shallow merges of fragments.
type StateDelta struct {
	ActiveJurisdiction *string
	OpenSlots          *[]string
	RefinedQuery       *string
	LastBlueprint      **Blueprint
	PendingQuestion    *string
}

// ApplyDelta returns a copy of s with the delta applied and Version bumped.
// The receiver is not modified.
func (s ThreadState) ApplyDelta(d StateDelta) ThreadState {
	next := s
	next.Version = s.Version + 1
	if d.ActiveJurisdiction != nil {
		next.ActiveJurisdiction = *d.ActiveJurisdiction
	}
	if d.OpenSlots != nil {
		next.OpenSlots = append([]string(nil), (*d.OpenSlots)...)
	}
	if d.RefinedQuery != nil {
		next.RefinedQuery = *d.RefinedQuery
	}
	if d.LastBlueprint != nil {
		next.LastBlueprint = *d.LastBlueprint
	}
	if d.PendingQuestion != nil {
		next.PendingQuestion = *d.PendingQuestion
	}
	return next
}

// TranscriptRole identifies the author of a transcript entry.
type TranscriptRole string

// Transcript roles.
const (
	RoleUser      TranscriptRole = "user"
	RoleAssistant TranscriptRole = "assistant"
	RoleSystem    TranscriptRole = "system"
)

// TranscriptEntry is one line of a thread's conversation transcript.
type TranscriptEntry struct {
	Role    TranscriptRole `json:"role"`
	Content string         `json:"content"`
}
