package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/carebridge/policychat/pkg/llm"
	"github.com/carebridge/policychat/pkg/models"
	"github.com/carebridge/policychat/pkg/retriever"
)

// SubAnswer is one resolved subquestion contribution.
type SubAnswer struct {
	Subquestion models.Subquestion
	Text        string
	Sources     []models.Source
	Degraded    bool
}

// Agent resolves one subquestion routed to its path.
type Agent interface {
	// Competency is the capability description declared to the planner.
	Competency() string

	// Answer resolves the subquestion. Implementations degrade rather
	// than fail: a returned error fails the whole turn, so only fatal
	// conditions surface.
	Answer(ctx context.Context, em *Emitter, sub models.Subquestion) (SubAnswer, error)
}

// Registry maps routing paths to agents and exposes the declared
// competencies for the planner prompt.
type Registry struct {
	agents map[models.PathKind]Agent
}

// NewRegistry builds the default registry: a retrieval-backed rag agent and
// fixed refusals for the reserved paths.
func NewRegistry(llmClient llm.Client, retr retriever.Retriever) *Registry {
	return &Registry{agents: map[models.PathKind]Agent{
		models.PathRAG: &ragAgent{llm: llmClient, retriever: retr},
		models.PathPatient: &refusalAgent{
			competency: "Patient-specific records.",
			refusal:    "I cannot access patient records.",
		},
		models.PathClinical: &refusalAgent{
			competency: "Clinical reasoning.",
			refusal:    "I cannot provide clinical reasoning.",
		},
		models.PathTool: &refusalAgent{
			competency: "Explicit tool invocations (lookups, scrapes).",
			refusal:    "I cannot run tools yet.",
		},
	}}
}

// Route returns the agent for the path. Unknown paths are remapped to rag;
// remapped reports whether that happened so the caller can note it.
func (r *Registry) Route(path models.PathKind) (agent Agent, remapped bool) {
	if a, ok := r.agents[path]; ok {
		return a, false
	}
	return r.agents[models.PathRAG], true
}

// Competencies renders the path capability table included in the planner
// prompt, one line per path.
func (r *Registry) Competencies() string {
	var b strings.Builder
	for _, path := range []models.PathKind{models.PathRAG, models.PathPatient, models.PathClinical, models.PathTool} {
		fmt.Fprintf(&b, "- %s: %s\n", path, r.agents[path].Competency())
	}
	return b.String()
}
