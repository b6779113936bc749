package pipeline

import (
	"fmt"
	"strings"

	"github.com/carebridge/policychat/pkg/models"
	"github.com/carebridge/policychat/pkg/retriever"
)

// plannerSystemPrompt instructs the decomposition call. The capability table
// of available paths is appended by plannerPrompt so the plan only routes to
// paths an agent can serve.
const plannerSystemPrompt = `You are the planning stage of a healthcare policy assistant.
Decompose the user's question into the minimal set of subquestions needed to answer it,
and route each subquestion to one of the available agent paths.

If the question cannot be answered without a missing piece of information (for example
the payer, plan, or jurisdiction), list that slot name under required_clarifications
instead of guessing.

Respond with a single JSON object and nothing else:
{
  "subquestions": [{"id": "sq1", "text": "...", "path": "rag"}],
  "required_clarifications": []
}`

// answeringSystemPrompt instructs the per-subquestion answering call.
const answeringSystemPrompt = `You are a healthcare policy specialist. Answer the question using only
the provided evidence passages. Cite passage numbers like [1] where you rely on them.
If the evidence does not cover the question, say so plainly instead of inventing policy.`

// integratorSystemPrompt instructs the final integration call. The JSON shape
// mirrors models.AnswerCard.
const integratorSystemPrompt = `You are the integration stage of a healthcare policy assistant.
Combine the subquestion findings into one answer card for the user.

Respond with a single JSON object and nothing else:
{
  "mode": "FACTUAL" | "CANONICAL" | "BLENDED",
  "direct_answer": "one or two sentences answering the question directly",
  "sections": [{"intent": "process" | "requirements" | "definitions" | "exceptions" | "references",
                "label": "...", "bullets": ["..."]}],
  "required_variables": [],
  "confidence_note": "optional caveat when evidence is thin",
  "citations": [],
  "followups": []
}`

// repairSystemPrompt instructs the second-chance formatting call after a
// malformed integrator output.
const repairSystemPrompt = `The previous output was supposed to be a single valid JSON answer card but
failed to parse. Re-emit the same content as ONE valid JSON object matching the schema,
with no surrounding prose and no markdown fences.`

// plannerPrompt builds the decomposition user message.
func plannerPrompt(question, competencies string, transcript []models.TranscriptEntry, prior *models.Blueprint) string {
	var b strings.Builder
	b.WriteString("## Available agent paths\n")
	b.WriteString(competencies)

	if len(transcript) > 0 {
		b.WriteString("\n## Conversation so far\n")
		for _, e := range transcript {
			fmt.Fprintf(&b, "%s: %s\n", e.Role, e.Content)
		}
	}

	if prior != nil {
		b.WriteString("\n## Previous plan for this question\n")
		b.WriteString("Refine this plan in place rather than starting over:\n")
		for _, sq := range prior.Subquestions {
			fmt.Fprintf(&b, "- [%s] %s: %s\n", sq.Path, sq.ID, sq.Text)
		}
	}

	b.WriteString("\n## Question\n")
	b.WriteString(question)
	return b.String()
}

// answeringPrompt builds the evidence-grounded answering message.
func answeringPrompt(question string, passages []retriever.Passage) string {
	var b strings.Builder
	b.WriteString("## Evidence\n")
	if len(passages) == 0 {
		b.WriteString("(no passages found)\n")
	}
	for i, p := range passages {
		fmt.Fprintf(&b, "[%d] %s (score %.2f)\n%s\n\n", i+1, p.Title, p.Score, p.Content)
	}
	b.WriteString("## Question\n")
	b.WriteString(question)
	return b.String()
}

// integratorPrompt builds the final integration message.
func integratorPrompt(question string, answers []SubAnswer) string {
	var b strings.Builder
	b.WriteString("## Subquestion findings\n")
	for _, a := range answers {
		fmt.Fprintf(&b, "### %s (%s)\n%s\n\n", a.Subquestion.Text, a.Subquestion.Path, a.Text)
	}
	b.WriteString("## Original question\n")
	b.WriteString(question)
	return b.String()
}

// repairPrompt wraps the malformed output for the repair call.
func repairPrompt(raw string) string {
	return "## Malformed output\n" + raw
}
