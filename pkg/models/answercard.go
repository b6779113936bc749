package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// AnswerMode distinguishes how the integrator grounded the answer.
type AnswerMode string

// Answer card modes.
const (
	ModeFactual   AnswerMode = "FACTUAL"
	ModeCanonical AnswerMode = "CANONICAL"
	ModeBlended   AnswerMode = "BLENDED"
)

// SectionIntent classifies an answer section.
type SectionIntent string

// Section intents.
const (
	IntentProcess      SectionIntent = "process"
	IntentRequirements SectionIntent = "requirements"
	IntentDefinitions  SectionIntent = "definitions"
	IntentExceptions   SectionIntent = "exceptions"
	IntentReferences   SectionIntent = "references"
)

// AnswerSection is one labeled block of bullets in the answer card.
type AnswerSection struct {
	Intent  SectionIntent `json:"intent"`
	Label   string        `json:"label"`
	Bullets []string      `json:"bullets"`
}

// AnswerCard is the structured final artifact delivered to the client when a
// turn completes. Renderers must also tolerate free prose in its place (the
// repair-failure fallback).
type AnswerCard struct {
	Mode              AnswerMode      `json:"mode"`
	DirectAnswer      string          `json:"direct_answer"`
	Sections          []AnswerSection `json:"sections"`
	RequiredVariables []string        `json:"required_variables,omitempty"`
	ConfidenceNote    string          `json:"confidence_note,omitempty"`
	Citations         []string        `json:"citations,omitempty"`
	Followups         []string        `json:"followups,omitempty"`
}

// ParseAnswerCard decodes and validates an integrator output. LLMs often wrap
// JSON in markdown fences; those are stripped before decoding.
func ParseAnswerCard(raw string) (*AnswerCard, error) {
	trimmed := stripFences(raw)

	var card AnswerCard
	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&card); err != nil {
		// Retry tolerating unknown fields before giving up; the schema
		// evolves faster than prompts.
		if err2 := json.Unmarshal([]byte(trimmed), &card); err2 != nil {
			return nil, fmt.Errorf("decoding answer card: %w", err2)
		}
	}

	if err := card.Validate(); err != nil {
		return nil, err
	}
	return &card, nil
}

// Validate checks structural requirements of the card.
func (c *AnswerCard) Validate() error {
	switch c.Mode {
	case ModeFactual, ModeCanonical, ModeBlended:
	default:
		return fmt.Errorf("invalid answer mode %q", c.Mode)
	}
	if strings.TrimSpace(c.DirectAnswer) == "" {
		return fmt.Errorf("answer card missing direct_answer")
	}
	for i, s := range c.Sections {
		switch s.Intent {
		case IntentProcess, IntentRequirements, IntentDefinitions, IntentExceptions, IntentReferences:
		default:
			return fmt.Errorf("section %d: invalid intent %q", i, s.Intent)
		}
	}
	return nil
}

// stripFences removes a leading/trailing markdown code fence if present.
func stripFences(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```json")
	t = strings.TrimPrefix(t, "```")
	if i := strings.LastIndex(t, "```"); i >= 0 {
		t = t[:i]
	}
	return strings.TrimSpace(t)
}
