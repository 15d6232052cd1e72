package openai

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type identificationWire struct {
	Breed          string          `json:"breed"`
	Confidence     float64         `json:"confidence"`
	NativeLandrace bool            `json:"native_landrace"`
	DesignerHybrid bool            `json:"designer_hybrid"`
	Purebred       bool            `json:"purebred"`
	Alternatives   []BreedScore    `json:"alternatives"`
	Description    string          `json:"description"`
	Origin         json.RawMessage `json:"origin"`
	HealthRisks    json.RawMessage `json:"health_risks"`
}

// parseIdentification decodes the model's JSON verdict. Models wrap JSON in
// code fences or prose often enough that a bare Unmarshal is not enough; the
// fallback extracts the outermost object before giving up.
func parseIdentification(text string) (*Identification, error) {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return nil, errors.New("empty identifier output")
	}

	var wire identificationWire
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		extracted, ok := extractJSONObject(raw)
		if !ok {
			return nil, fmt.Errorf("no JSON object in identifier output: %w", err)
		}
		if err := json.Unmarshal([]byte(extracted), &wire); err != nil {
			return nil, fmt.Errorf("malformed identifier JSON: %w", err)
		}
	}

	if strings.TrimSpace(wire.Breed) == "" {
		return nil, errors.New("identifier output missing breed")
	}

	return &Identification{
		Category:     categoryOf(wire),
		Breed:        strings.TrimSpace(wire.Breed),
		Confidence:   wire.Confidence,
		Alternatives: wire.Alternatives,
		Description:  strings.TrimSpace(wire.Description),
		Origin:       wire.Origin,
		HealthRisks:  wire.HealthRisks,
	}, nil
}

// categoryOf applies the fixed priority order: landrace pattern first, then
// named designer cross, then purebred; anything left is an unnamed
// two-parent mix.
func categoryOf(w identificationWire) Category {
	switch {
	case w.NativeLandrace:
		return CategoryNativeLandrace
	case w.DesignerHybrid:
		return CategoryDesignerHybrid
	case w.Purebred:
		return CategoryPurebred
	default:
		return CategoryTwoBreedMix
	}
}

// extractJSONObject returns the outermost {...} span, tolerating markdown
// code fences and surrounding prose.
func extractJSONObject(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}
