package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAnswerCard_Valid(t *testing.T) {
	raw := `{
		"mode": "FACTUAL",
		"direct_answer": "Prior authorization is required for MRI scans.",
		"sections": [
			{"intent": "requirements", "label": "What you need", "bullets": ["Referral from PCP", "Clinical notes"]}
		],
		"confidence_note": "Based on the 2025 provider manual."
	}`

	card, err := ParseAnswerCard(raw)
	require.NoError(t, err)
	assert.Equal(t, ModeFactual, card.Mode)
	assert.Equal(t, "Prior authorization is required for MRI scans.", card.DirectAnswer)
	require.Len(t, card.Sections, 1)
	assert.Equal(t, IntentRequirements, card.Sections[0].Intent)
	assert.Len(t, card.Sections[0].Bullets, 2)
}

func TestParseAnswerCard_StripsMarkdownFences(t *testing.T) {
	raw := "```json\n{\"mode\": \"CANONICAL\", \"direct_answer\": \"Yes.\", \"sections\": []}\n```"

	card, err := ParseAnswerCard(raw)
	require.NoError(t, err)
	assert.Equal(t, ModeCanonical, card.Mode)
	assert.Equal(t, "Yes.", card.DirectAnswer)
}

func TestParseAnswerCard_ToleratesUnknownFields(t *testing.T) {
	raw := `{"mode": "BLENDED", "direct_answer": "See below.", "sections": [], "extra_field": 42}`

	card, err := ParseAnswerCard(raw)
	require.NoError(t, err)
	assert.Equal(t, ModeBlended, card.Mode)
}

func TestParseAnswerCard_Invalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "the answer is prior auth is required"},
		{"bad mode", `{"mode": "CASUAL", "direct_answer": "x", "sections": []}`},
		{"missing direct answer", `{"mode": "FACTUAL", "direct_answer": "  ", "sections": []}`},
		{"bad section intent", `{"mode": "FACTUAL", "direct_answer": "x", "sections": [{"intent": "vibes", "label": "l", "bullets": []}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAnswerCard(tt.raw)
			assert.Error(t, err)
		})
	}
}

func TestParseBlueprint(t *testing.T) {
	raw := "```json\n" + `{
		"subquestions": [
			{"id": "sq1", "text": "What is the PA process?", "path": "rag"},
			{"text": "Which forms apply?", "path": "rag"}
		],
		"required_clarifications": ["payer"]
	}` + "\n```"

	bp, err := ParseBlueprint(raw)
	require.NoError(t, err)
	require.Len(t, bp.Subquestions, 2)
	assert.Equal(t, "sq1", bp.Subquestions[0].ID)
	// Missing ids are filled in positionally.
	assert.Equal(t, "sq2", bp.Subquestions[1].ID)
	assert.True(t, bp.NeedsClarification())
}

func TestParseBlueprint_Invalid(t *testing.T) {
	_, err := ParseBlueprint(`{"subquestions": [], "required_clarifications": []}`)
	assert.Error(t, err)

	_, err = ParseBlueprint(`{"subquestions": [{"id": "sq1", "text": "  ", "path": "rag"}]}`)
	assert.Error(t, err)

	_, err = ParseBlueprint("not json at all")
	assert.Error(t, err)
}
