// Package intent turns a patient's transcribed reply into a closed set of
// dialogue intents using an LLM.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"medminder/pkg/models"
)

type Kind string

const (
	MedicationLog Kind = "MEDICATION_LOG"
	NewPatient    Kind = "NEW_PATIENT"
	Introduction  Kind = "INTRODUCTION"
	Delay         Kind = "DELAY"
	Confirmation  Kind = "CONFIRMATION"
	Unknown       Kind = "UNKNOWN"
)

type Value string

const (
	Yes Value = "YES"
	No  Value = "NO"
)

// Result is a classified reply. Value is only set for Confirmation.
type Result struct {
	Kind  Kind
	Value Value
}

func (r Result) IsYes() bool { return r.Kind == Confirmation && r.Value == Yes }

func (r Result) String() string {
	if r.Value != "" {
		return string(r.Kind) + "/" + string(r.Value)
	}
	return string(r.Kind)
}

var UnknownResult = Result{Kind: Unknown}

// Hints gives the model context about who might be speaking.
type Hints struct {
	Patients []models.Patient
}

func (h Hints) context() string {
	parts := make([]string, 0, len(h.Patients))
	for _, p := range h.Patients {
		parts = append(parts, fmt.Sprintf("%s (%s)", p.Name, p.TimeDue))
	}
	return strings.Join(parts, ", ")
}

type Classifier interface {
	Classify(ctx context.Context, text string, hints Hints) (Result, error)
}

const systemPrompt = `You are a helpful medication manager assistant.
Return ONLY a JSON object of the form {"intent": "...", "value": "..."}.
Possible intents: 'MEDICATION_LOG', 'NEW_PATIENT', 'INTRODUCTION', 'DELAY', 'CONFIRMATION', 'UNKNOWN'.
If user says 'Yes' or 'I took it', return intent: CONFIRMATION value: YES.
If user says 'No' or 'Not yet', return intent: CONFIRMATION value: NO.
If user says 'Give me 5 minutes', return intent: DELAY.`

func userPrompt(text string, hints Hints) string {
	return fmt.Sprintf("Context: %s. User says: '%s'", hints.context(), text)
}

// Parse reads a model reply. Anything that is not a recognizable intent
// object comes back as Unknown together with an error describing why.
func Parse(raw string) (Result, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var wire struct {
		Intent string `json:"intent"`
		Value  any    `json:"value"`
	}
	if err := json.Unmarshal([]byte(cleaned), &wire); err != nil {
		return UnknownResult, fmt.Errorf("parse intent reply: %w (reply: %s)", err, raw)
	}

	kind := Kind(strings.ToUpper(strings.TrimSpace(wire.Intent)))
	switch kind {
	case MedicationLog, NewPatient, Introduction, Delay, Unknown:
		return Result{Kind: kind}, nil
	case Confirmation:
		v, _ := wire.Value.(string)
		switch Value(strings.ToUpper(strings.TrimSpace(v))) {
		case Yes:
			return Result{Kind: Confirmation, Value: Yes}, nil
		case No:
			return Result{Kind: Confirmation, Value: No}, nil
		}
		return UnknownResult, fmt.Errorf("confirmation without yes/no value: %v", wire.Value)
	}
	return UnknownResult, fmt.Errorf("unrecognized intent %q", wire.Intent)
}

// Resolve classifies text and never fails: any error becomes Unknown.
func Resolve(ctx context.Context, c Classifier, text string, hints Hints, log *slog.Logger) Result {
	res, err := c.Classify(ctx, text, hints)
	if err != nil {
		log.Warn("⚠️ intent classification failed", "text", text, "err", err)
		return UnknownResult
	}
	return res
}
