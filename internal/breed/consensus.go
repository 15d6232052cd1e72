package breed

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"

	"github.com/pupscan/pupscan-backend/internal/clients/classifier"
	"github.com/pupscan/pupscan-backend/internal/clients/openai"
	"github.com/pupscan/pupscan-backend/internal/domain"
	"github.com/pupscan/pupscan-backend/internal/platform/logger"
)

const (
	// Model self-reported confidence is systematically overconfident: the
	// primary never leaves this band and never shows as a flat 100.
	primaryFloor = 65.0
	primaryCeil  = 98.0

	altFloor = 15.0
	altCeil  = 84.0

	confidenceJitter = 3.0

	// Identifier confidence needed to overrule a disagreeing classifier.
	overrideThreshold = 75.0

	strongHintThreshold = 98.0
	weakHintThreshold   = 75.0
)

// Result is the consensus verdict for one image.
type Result struct {
	Breed        string
	Confidence   float64
	Alternatives []domain.BreedAlternative
	Method       string
	Description  string
	Origin       json.RawMessage
	HealthRisks  json.RawMessage
}

// Engine reconciles the fast local classifier with the deep vision-language
// identifier. The two calls are sequential: the identifier's prompt depends
// on the classifier's output.
type Engine struct {
	log        *logger.Logger
	classifier classifier.Client
	identifier openai.Client

	// jitter returns a value in [-confidenceJitter, confidenceJitter];
	// injectable for deterministic tests.
	jitter func() float64
}

func NewEngine(log *logger.Logger, cls classifier.Client, ident openai.Client) *Engine {
	return &Engine{
		log:        log.With("service", "BreedConsensusEngine"),
		classifier: cls,
		identifier: ident,
		jitter: func() float64 {
			return (rand.Float64()*2 - 1) * confidenceJitter
		},
	}
}

func (e *Engine) Run(ctx context.Context, image []byte) (*Result, error) {
	pred, clsErr := e.classifier.Predict(ctx, image)
	if clsErr != nil {
		e.log.Warn("classifier unavailable; degrading to identifier-only", "error", clsErr)
		ident, err := e.identifier.IdentifyBreed(ctx, image, "")
		if err != nil {
			return nil, fmt.Errorf("both breed services failed: %w", err)
		}
		return e.fromIdentifier(ident, domain.MethodGeminiOverride), nil
	}

	ident, err := e.identifier.IdentifyBreed(ctx, image, hintFor(pred.Breed, pred.Confidence))
	if err != nil {
		return nil, err
	}

	identBreed := CleanName(ident.Breed, ident.Category)

	if !strings.EqualFold(identBreed, strings.TrimSpace(pred.Breed)) && ident.Confidence >= overrideThreshold {
		method := domain.MethodGeminiOverride
		if HybridProne(pred.Breed) {
			method = domain.MethodGeminiHybridOverride
		}
		return e.fromIdentifier(ident, method), nil
	}

	// Agreement (or a disagreeing identifier too unsure to overrule): the
	// classifier's breed stands and the stronger confidence is reported.
	confidence := pred.Confidence
	if ident.Confidence > confidence {
		confidence = ident.Confidence
	}
	return &Result{
		Breed:        strings.TrimSpace(pred.Breed),
		Confidence:   clamp(confidence, primaryFloor, primaryCeil),
		Alternatives: e.alternatives(strings.TrimSpace(pred.Breed), ident, pred),
		Method:       domain.MethodMLGeminiConfirmed,
		Description:  ident.Description,
		Origin:       ident.Origin,
		HealthRisks:  ident.HealthRisks,
	}, nil
}

func (e *Engine) fromIdentifier(ident *openai.Identification, method string) *Result {
	breedName := CleanName(ident.Breed, ident.Category)
	return &Result{
		Breed:        breedName,
		Confidence:   clamp(ident.Confidence+e.jitter(), primaryFloor, primaryCeil),
		Alternatives: e.alternatives(breedName, ident, nil),
		Method:       method,
		Description:  ident.Description,
		Origin:       ident.Origin,
		HealthRisks:  ident.HealthRisks,
	}
}

// alternatives builds the ranked alternative list: identifier alternatives
// first, classifier top-5 as filler, primary excluded, capped at 5, each
// clamped to the alternative band.
func (e *Engine) alternatives(primary string, ident *openai.Identification, pred *classifier.Prediction) []domain.BreedAlternative {
	out := make([]domain.BreedAlternative, 0, 5)
	seen := map[string]bool{strings.ToLower(primary): true}

	add := func(name string, conf float64) {
		name = strings.TrimSpace(name)
		if name == "" || seen[strings.ToLower(name)] || len(out) >= 5 {
			return
		}
		seen[strings.ToLower(name)] = true
		out = append(out, domain.BreedAlternative{
			Breed:      name,
			Confidence: clamp(conf, altFloor, altCeil),
		})
	}

	if ident != nil {
		for _, a := range ident.Alternatives {
			add(CleanName(a.Breed, openai.CategoryTwoBreedMix), a.Confidence)
		}
	}
	if pred != nil {
		for _, a := range pred.Alternatives {
			add(a.Breed, a.Confidence)
		}
	}
	return out
}

// hintFor frames the classifier's output for the identifier. An
// overconfident wrong hint is more harmful than no hint, so only a
// near-certain classifier gets presented as a starting point and anything
// under the weak threshold is suppressed entirely.
func hintFor(breedName string, confidence float64) string {
	breedName = strings.TrimSpace(breedName)
	switch {
	case confidence >= strongHintThreshold:
		return fmt.Sprintf(
			"A fast on-device classifier identified this dog as a %s with %.1f%% confidence. Treat that as a strong starting point, but verify it against the photo before agreeing.",
			breedName, confidence)
	case confidence >= weakHintThreshold:
		return fmt.Sprintf(
			"A fast on-device classifier weakly suggests %s (%.1f%% confidence). Do not anchor on this suggestion; judge the photo independently.",
			breedName, confidence)
	default:
		return ""
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
