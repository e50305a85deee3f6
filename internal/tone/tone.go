// Package tone provides the sentiment pre-step that runs before each user message:
// a structured model call reads the latest turns, reports the user's likely emotional
// state and proposes a tone for the next reply. The proposal is sanitized and folded
// into the outgoing message as an internal instruction.
package tone

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/BTreeMap/Confidant/internal/genai"
)

// ---- Whitelist ----

// AllSentiments is the set of sentiment labels kept as-is; anything else becomes "other".
var AllSentiments = map[string]bool{
	"anxious":     true,
	"frustrated":  true,
	"happy":       true,
	"reflective":  true,
	"sad":         true,
	"angry":       true,
	"calm":        true,
	"overwhelmed": true,
	"lonely":      true,
	"hopeful":     true,
	"neutral":     true,
	"distressed":  true,
}

const (
	// ContextTurns is how many recent turns are shown to the analyzer.
	ContextTurns = 4
	// MaxToneLength bounds the instruction injected into the user message.
	MaxToneLength = 160
	// SentimentOther replaces labels outside AllSentiments.
	SentimentOther = "other"
)

// ErrNoTone is returned when the analysis produced no usable tone.
var ErrNoTone = errors.New("no usable tone suggestion")

// Analysis is the structured answer of the sentiment call.
type Analysis struct {
	UserSentiment string `json:"userSentiment"`
	SuggestedTone string `json:"suggestedTone"`
}

// Schema is the response schema of the sentiment call.
var Schema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"userSentiment": {
			Type:        genai.TypeString,
			Description: "A brief summary of the user's likely emotional state (e.g., anxious, frustrated, happy, reflective).",
		},
		"suggestedTone": {
			Type:        genai.TypeString,
			Description: "A short instruction for the AI's tone for the next response (e.g., 'be extra reassuring and gentle', 'offer practical advice calmly').",
		},
	},
	Order:    []string{"userSentiment", "suggestedTone"},
	Required: []string{"userSentiment", "suggestedTone"},
}

const systemPrompt = "You analyze the emotional tone of a conversation between a user and a supportive companion. Answer only with the requested JSON."

// Analyzer runs the sentiment pre-step against a model client.
type Analyzer struct {
	client genai.ClientInterface
}

// NewAnalyzer returns an analyzer using client.
func NewAnalyzer(client genai.ClientInterface) *Analyzer {
	return &Analyzer{client: client}
}

// Analyze asks the model for the sentiment of latest given the recent history.
// The result is sanitized; a blank tone yields ErrNoTone.
func (a *Analyzer) Analyze(ctx context.Context, history []genai.Message, latest string) (Analysis, error) {
	if a == nil || a.client == nil {
		return Analysis{}, ErrNoTone
	}
	prompt := BuildPrompt(history, latest)
	slog.Debug("Analyzer.Analyze: requesting sentiment", "historyTurns", len(history), "promptLength", len(prompt))

	var raw Analysis
	if err := a.client.GenerateJSON(ctx, systemPrompt, prompt, Schema, &raw); err != nil {
		slog.Warn("Analyzer.Analyze: sentiment call failed", "error", err)
		return Analysis{}, fmt.Errorf("sentiment analysis failed: %w", err)
	}
	cleaned := Validate(raw)
	if cleaned.SuggestedTone == "" {
		return cleaned, ErrNoTone
	}
	slog.Debug("Analyzer.Analyze: sentiment analyzed", "sentiment", cleaned.UserSentiment, "tone", cleaned.SuggestedTone)
	return cleaned, nil
}

// BuildPrompt renders the last ContextTurns text turns and the latest message.
func BuildPrompt(history []genai.Message, latest string) string {
	var lines []string
	for _, msg := range history {
		if msg.Content == "" || (msg.Role != genai.RoleUser && msg.Role != genai.RoleAssistant) {
			continue
		}
		role := "user"
		if msg.Role == genai.RoleAssistant {
			role = "model"
		}
		lines = append(lines, role+": "+msg.Content)
	}
	if len(lines) > ContextTurns {
		lines = lines[len(lines)-ContextTurns:]
	}

	var b strings.Builder
	b.WriteString("Based on the recent conversation context below, analyze the user's latest message.\n")
	b.WriteString("Context:\n")
	b.WriteString(strings.Join(lines, "\n"))
	b.WriteString("\n\nUser's latest message: \"")
	b.WriteString(latest)
	b.WriteString("\"\n\nWhat is the user's likely sentiment, and what tone should the AI adopt in its next response to be most helpful and empathetic? Provide your answer in JSON format.")
	return b.String()
}

// Validate normalizes the sentiment label and sanitizes the suggested tone.
func Validate(a Analysis) Analysis {
	sentiment := strings.ToLower(strings.TrimSpace(a.UserSentiment))
	if !AllSentiments[sentiment] {
		sentiment = SentimentOther
	}
	return Analysis{UserSentiment: sentiment, SuggestedTone: sanitizeTone(a.SuggestedTone)}
}

// sanitizeTone collapses whitespace, drops control characters and parentheses so the
// instruction cannot break out of its wrapper, and truncates to MaxToneLength runes.
func sanitizeTone(s string) string {
	var b strings.Builder
	lastSpace := false
	for _, r := range s {
		switch {
		case r == '(' || r == ')':
			continue
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteRune(' ')
			}
			lastSpace = true
			continue
		case unicode.IsControl(r):
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	out := strings.TrimSpace(b.String())
	if runes := []rune(out); len(runes) > MaxToneLength {
		out = strings.TrimSpace(string(runes[:MaxToneLength]))
	}
	return out
}

// ApplyInstruction prefixes text with the internal tone instruction. A blank tone leaves text unchanged.
func ApplyInstruction(tone, text string) string {
	if strings.TrimSpace(tone) == "" {
		return text
	}
	return fmt.Sprintf("(Internal instruction: %s) %s", tone, text)
}
