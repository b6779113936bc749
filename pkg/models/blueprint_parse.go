package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseBlueprint decodes a planner output into a Blueprint. Markdown fences
// are tolerated; subquestions with empty text are rejected.
func ParseBlueprint(raw string) (*Blueprint, error) {
	trimmed := stripFences(raw)

	var bp Blueprint
	if err := json.Unmarshal([]byte(trimmed), &bp); err != nil {
		return nil, fmt.Errorf("decoding blueprint: %w", err)
	}
	if len(bp.Subquestions) == 0 && len(bp.RequiredClarifications) == 0 {
		return nil, fmt.Errorf("blueprint has neither subquestions nor clarifications")
	}
	for i, sq := range bp.Subquestions {
		if strings.TrimSpace(sq.Text) == "" {
			return nil, fmt.Errorf("subquestion %d has empty text", i)
		}
		if sq.ID == "" {
			bp.Subquestions[i].ID = fmt.Sprintf("sq%d", i+1)
		}
	}
	return &bp, nil
}

// Clone returns a deep copy of the blueprint.
func (b *Blueprint) Clone() *Blueprint {
	if b == nil {
		return nil
	}
	out := &Blueprint{
		Subquestions:           append([]Subquestion(nil), b.Subquestions...),
		RequiredClarifications: append([]string(nil), b.RequiredClarifications...),
	}
	return out
}
