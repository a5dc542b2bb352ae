// Package estimator holds all credit and cost math for generation requests.
// Both the admission gate and the pre-submission preview endpoint call
// Estimate, so the two can never disagree.
package estimator

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/pixelforge/backend/internal/models"
)

// Params is the recognized subset of a request's parameter bag. Unknown keys
// are ignored.
type Params struct {
	Quality  string  `json:"quality,omitempty"`
	Duration float64 `json:"duration,omitempty"` // seconds, ANIMATION only
}

// Estimate is the deterministic output of the cost model.
type Estimate struct {
	CostCents int64 `json:"costCents"`
	Credits   int64 `json:"credits"`
}

var baseCredits = map[string]int64{
	models.TypeImage2D:   2,
	models.TypeModel3D:   4,
	models.TypeAnimation: 5,
	models.TypeTemplate:  1,
}

var baseCents = map[string]int64{
	models.TypeImage2D:   8,
	models.TypeModel3D:   15,
	models.TypeAnimation: 25,
	models.TypeTemplate:  5,
}

// ParseParams decodes the recognized fields of a raw parameter bag. A nil or
// empty bag yields zero params.
func ParseParams(raw json.RawMessage) Params {
	var p Params
	if len(raw) > 0 {
		// Malformed bags estimate as standard quality; schema validation
		// rejects them before admission anyway.
		_ = json.Unmarshal(raw, &p)
	}
	return p
}

// Compute maps (type, model, parameters, prompt) to a cost in cents and a
// credit price. Pure and side-effect-free: no clock, no I/O, no randomness.
func Compute(genType, model string, params Params, prompt string) Estimate {
	return Estimate{
		CostCents: estimateCents(genType, model, params, len(prompt)),
		Credits:   calculateCredits(genType, model, params),
	}
}

// estimateCents scales a per-type base by model, quality tier and prompt
// length. Monotonic in prompt length and quality.
func estimateCents(genType, model string, params Params, promptLen int) int64 {
	base, ok := baseCents[genType]
	if !ok {
		base = baseCents[models.TypeImage2D]
	}
	qualityMult := 1.0
	switch params.Quality {
	case models.QualityUltra:
		qualityMult = 2
	case models.QualityHigh:
		qualityMult = 1.5
	}
	promptFactor := math.Min(1+float64(promptLen)/5000, 1.5)
	return int64(math.Round(float64(base) * modelCostMultiplier(model) * qualityMult * promptFactor))
}

// calculateCredits is the credit price charged on successful settlement.
// Always at least 1.
func calculateCredits(genType, model string, params Params) int64 {
	credits, ok := baseCredits[genType]
	if !ok {
		credits = baseCredits[models.TypeImage2D]
	}
	switch params.Quality {
	case models.QualityUltra:
		credits *= 2
	case models.QualityHigh:
		credits = int64(math.Ceil(float64(credits) * 1.5))
	}
	if genType == models.TypeAnimation && params.Duration > 0 {
		credits += int64(params.Duration / 5)
	}
	credits = int64(math.Round(float64(credits) * modelCreditMultiplier(model)))
	if credits < 1 {
		credits = 1
	}
	return credits
}

func modelCostMultiplier(model string) float64 {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "dall-e-3") || strings.Contains(m, "gpt-4"):
		return 1.5
	case strings.Contains(m, "dall-e") || strings.Contains(m, "midjourney"):
		return 1.2
	case strings.Contains(m, "runway"):
		return 1.4
	}
	return 1
}

func modelCreditMultiplier(model string) float64 {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "dall-e-3") || strings.Contains(m, "gpt-4"):
		return 1.5
	case strings.Contains(m, "midjourney"):
		return 1.3
	}
	return 1
}
