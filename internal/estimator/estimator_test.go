package estimator

import (
	"strings"
	"testing"

	"github.com/pixelforge/backend/internal/models"
)

func TestComputeBaseCredits(t *testing.T) {
	cases := []struct {
		genType string
		want    int64
	}{
		{models.TypeImage2D, 2},
		{models.TypeModel3D, 4},
		{models.TypeAnimation, 5},
		{models.TypeTemplate, 1},
	}
	for _, c := range cases {
		got := Compute(c.genType, "stable-diffusion", Params{}, "a red chair")
		if got.Credits != c.want {
			t.Errorf("%s: credits = %d, want %d", c.genType, got.Credits, c.want)
		}
		if got.CostCents <= 0 {
			t.Errorf("%s: cost cents must be positive, got %d", c.genType, got.CostCents)
		}
	}
}

func TestComputeQualityTiers(t *testing.T) {
	standard := Compute(models.TypeImage2D, "sdxl", Params{}, "logo")
	high := Compute(models.TypeImage2D, "sdxl", Params{Quality: models.QualityHigh}, "logo")
	ultra := Compute(models.TypeImage2D, "sdxl", Params{Quality: models.QualityUltra}, "logo")

	if ultra.Credits != standard.Credits*2 {
		t.Errorf("ultra credits = %d, want double standard %d", ultra.Credits, standard.Credits*2)
	}
	// high is ceil(base * 1.5): 2 -> 3
	if high.Credits != 3 {
		t.Errorf("high credits = %d, want 3", high.Credits)
	}
	if !(standard.CostCents < high.CostCents && high.CostCents < ultra.CostCents) {
		t.Errorf("cost must rise with quality: %d, %d, %d",
			standard.CostCents, high.CostCents, ultra.CostCents)
	}
}

func TestComputeMonotonicInPromptLength(t *testing.T) {
	prev := int64(-1)
	for _, n := range []int{0, 10, 500, 2500, 5000, 20000} {
		est := Compute(models.TypeModel3D, "sdxl", Params{}, strings.Repeat("x", n))
		if est.CostCents < prev {
			t.Fatalf("cost decreased at prompt length %d: %d < %d", n, est.CostCents, prev)
		}
		prev = est.CostCents
	}
}

func TestComputeAnimationDuration(t *testing.T) {
	short := Compute(models.TypeAnimation, "runway-gen2", Params{Duration: 4}, "walk cycle")
	long := Compute(models.TypeAnimation, "runway-gen2", Params{Duration: 25}, "walk cycle")
	// 25s adds floor(25/5) = 5 extra credits over the <5s baseline.
	if long.Credits != short.Credits+5 {
		t.Errorf("25s animation credits = %d, want %d", long.Credits, short.Credits+5)
	}
}

func TestComputeModelMultipliers(t *testing.T) {
	plain := Compute(models.TypeImage2D, "stable-diffusion", Params{}, "poster")
	premium := Compute(models.TypeImage2D, "dall-e-3", Params{}, "poster")
	if premium.Credits != 3 { // round(2 * 1.5)
		t.Errorf("dall-e-3 credits = %d, want 3", premium.Credits)
	}
	if premium.CostCents <= plain.CostCents {
		t.Errorf("premium model should cost more: %d <= %d", premium.CostCents, plain.CostCents)
	}
}

func TestComputeDeterministic(t *testing.T) {
	p := Params{Quality: models.QualityUltra, Duration: 12}
	a := Compute(models.TypeAnimation, "runway-gen2", p, "spinning bottle, studio light")
	for i := 0; i < 50; i++ {
		b := Compute(models.TypeAnimation, "runway-gen2", p, "spinning bottle, studio light")
		if a != b {
			t.Fatalf("estimate not deterministic: %+v vs %+v", a, b)
		}
	}
}

func TestParseParams(t *testing.T) {
	p := ParseParams([]byte(`{"quality":"ultra","duration":10,"seed":42}`))
	if p.Quality != models.QualityUltra || p.Duration != 10 {
		t.Errorf("unexpected params: %+v", p)
	}
	if got := ParseParams(nil); got != (Params{}) {
		t.Errorf("nil bag should parse to zero params, got %+v", got)
	}
	if got := ParseParams([]byte(`not json`)); got != (Params{}) {
		t.Errorf("malformed bag should parse to zero params, got %+v", got)
	}
}
