// Package registry exposes the catalog of generation models the platform
// accepts, with the pricing the estimator applies to each.
package registry

import (
	"encoding/json"
	"net/http"

	"github.com/pixelforge/backend/internal/dispatch"
	"github.com/pixelforge/backend/internal/estimator"
	"github.com/pixelforge/backend/internal/models"
)

type ModelInfo struct {
	Name          string   `json:"name"`
	Provider      string   `json:"provider"`
	Types         []string `json:"types"`
	BaseCostCents int64    `json:"base_cost_cents"`
	BaseCredits   int64    `json:"base_credits"`
}

// catalog is the fixed set of models providers currently serve. Per-model
// pricing comes from the estimator so the two never drift apart.
var catalog = []struct {
	name  string
	types []string
}{
	{"dall-e-3", []string{models.TypeImage2D}},
	{"dall-e-2", []string{models.TypeImage2D}},
	{"sdxl", []string{models.TypeImage2D, models.TypeTemplate}},
	{"stable-diffusion-xl-turbo", []string{models.TypeImage2D}},
	{"midjourney-v6", []string{models.TypeImage2D}},
	{"runway-gen3", []string{models.TypeAnimation}},
	{"tripo-v2", []string{models.TypeModel3D}},
}

// ListModels handles GET /v1/models (public, no auth).
func ListModels(w http.ResponseWriter, _ *http.Request) {
	out := make([]ModelInfo, 0, len(catalog))
	for _, m := range catalog {
		est := estimator.Compute(m.types[0], m.name, estimator.Params{}, "")
		out = append(out, ModelInfo{
			Name:          m.name,
			Provider:      dispatch.ProviderForModel(m.name),
			Types:         m.types,
			BaseCostCents: est.CostCents,
			BaseCredits:   est.Credits,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}
