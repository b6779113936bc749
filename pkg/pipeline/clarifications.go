package pipeline

import (
	"strings"

	"github.com/carebridge/policychat/pkg/models"
)

// slotCatalog maps known slot names to their user-facing label and choice
// list. Slots the planner invents outside this catalog become free-text asks
// with no choices.
var slotCatalog = map[string]models.ClarificationOption{
	"payer": {
		Slot:  "payer",
		Label: "Which payer is this about?",
		Choices: []models.ClarificationChoice{
			{Value: "sunshine_health", Label: "Sunshine Health"},
			{Value: "molina", Label: "Molina Healthcare"},
			{Value: "aetna", Label: "Aetna"},
			{Value: "medicaid_ffs", Label: "Medicaid fee-for-service"},
		},
	},
	"plan": {
		Slot:  "plan",
		Label: "Which plan are you asking about?",
		Choices: []models.ClarificationChoice{
			{Value: "medicaid", Label: "Medicaid"},
			{Value: "medicare", Label: "Medicare"},
			{Value: "commercial", Label: "Commercial"},
		},
	},
	"jurisdiction": {
		Slot:  "jurisdiction",
		Label: "Which state or jurisdiction applies?",
		Choices: []models.ClarificationChoice{
			{Value: "FL", Label: "Florida"},
			{Value: "TX", Label: "Texas"},
			{Value: "NY", Label: "New York"},
		},
	},
}

// clarificationOptions builds the option list for the open slots, in slot
// order.
func clarificationOptions(slots []string) []models.ClarificationOption {
	options := make([]models.ClarificationOption, 0, len(slots))
	for _, slot := range slots {
		if opt, ok := slotCatalog[slot]; ok {
			options = append(options, opt)
			continue
		}
		options = append(options, models.ClarificationOption{
			Slot:  slot,
			Label: "Please provide: " + strings.ReplaceAll(slot, "_", " "),
		})
	}
	return options
}

// clarificationMessage renders the user-facing ask for the open slots.
func clarificationMessage(options []models.ClarificationOption) string {
	var b strings.Builder
	b.WriteString("Before I can answer, I need a bit more detail.")
	for _, opt := range options {
		b.WriteString("\n- ")
		b.WriteString(opt.Label)
		if len(opt.Choices) > 0 {
			labels := make([]string, len(opt.Choices))
			for i, c := range opt.Choices {
				labels[i] = c.Label
			}
			b.WriteString(" (")
			b.WriteString(strings.Join(labels, ", "))
			b.WriteString(")")
		}
	}
	return b.String()
}
