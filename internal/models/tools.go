// Package models defines tool structures for LLM function calling.
package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ToolType defines the type of tool available to the LLM.
type ToolType string

const (
	// ToolTypeFindTherapist lets the LLM look up professional help near a location.
	ToolTypeFindTherapist ToolType = "find_therapist"
	// ToolTypeBeginCheckIn lets the LLM hand control to the structured check-in questionnaire.
	ToolTypeBeginCheckIn ToolType = "begin_check_in"
)

// MaxLocationLength bounds the location argument of the therapist lookup.
const MaxLocationLength = 200

// FindTherapistParams defines the parameters for the find_therapist tool call.
type FindTherapistParams struct {
	Location string `json:"location"` // City and state, e.g. "San Francisco, CA"
}

// Validate ensures the therapist lookup parameters are usable.
func (p *FindTherapistParams) Validate() error {
	p.Location = strings.TrimSpace(p.Location)
	if p.Location == "" {
		return fmt.Errorf("location is required")
	}
	if len(p.Location) > MaxLocationLength {
		return fmt.Errorf("location exceeds maximum length of %d", MaxLocationLength)
	}
	return nil
}

// ParseFindTherapistParams parses and validates raw tool-call arguments.
func ParseFindTherapistParams(raw json.RawMessage) (*FindTherapistParams, error) {
	var params FindTherapistParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, fmt.Errorf("failed to parse find_therapist parameters: %w", err)
		}
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid find_therapist parameters: %w", err)
	}
	return &params, nil
}

// TherapistListing is one entry returned by the therapist lookup.
type TherapistListing struct {
	Name      string `json:"name"`
	Specialty string `json:"specialty"`
	Contact   string `json:"contact"`
}
