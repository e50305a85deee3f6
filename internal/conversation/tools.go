package conversation

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/Confidant/internal/genai"
	"github.com/BTreeMap/Confidant/internal/models"
)

// ToolDefinitions returns the tools offered to the model.
func ToolDefinitions() []genai.ToolDefinition {
	return []genai.ToolDefinition{
		{
			Name:        string(models.ToolTypeFindTherapist),
			Description: "Finds a therapist based on location. Only use this when the user asks for help finding professional support.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"location": {
						Type:        genai.TypeString,
						Description: `The city and state to search for a therapist, e.g., "San Francisco, CA"`,
					},
				},
				Order:    []string{"location"},
				Required: []string{"location"},
			},
		},
		{
			Name:        string(models.ToolTypeBeginCheckIn),
			Description: "Starts a short structured check-in questionnaire about the user's mood, sleep, stress, energy and support. Use it when the user seems to be struggling or asks to check in. The answers are returned as the result.",
			Parameters:  &genai.Schema{Type: genai.TypeObject},
		},
	}
}

// TherapistFinder looks up professional help near a location.
type TherapistFinder interface {
	FindTherapists(ctx context.Context, location string) ([]models.TherapistListing, error)
}

// StaticTherapistFinder returns a fixed directory regardless of location.
type StaticTherapistFinder struct{}

// FindTherapists returns the fixed directory.
func (StaticTherapistFinder) FindTherapists(ctx context.Context, location string) ([]models.TherapistListing, error) {
	slog.Debug("StaticTherapistFinder.FindTherapists: returning static directory", "location", location)
	return []models.TherapistListing{
		{Name: "Dr. Anya Sharma, PhD", Specialty: "Anxiety & Depression", Contact: "555-123-4567"},
		{Name: "Ken Adams, LMFT", Specialty: "Relationship Counseling", Contact: "555-987-6543"},
		{Name: "Thrive Wellness Center", Specialty: "Holistic Mental Health", Contact: "555-555-5555"},
	}, nil
}
