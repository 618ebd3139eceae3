package usage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetModelPricing(t *testing.T) {
	tests := []struct {
		name  string
		model string
		want  ModelPricing
	}{
		{"exact gpt-4", "gpt-4", ModelPricing{30, 60}},
		{"exact gpt-4o-mini", "gpt-4o-mini", ModelPricing{0.15, 0.60}},
		{"dated snapshot by prefix", "gpt-4o-mini-2025-01-01", ModelPricing{0.15, 0.60}},
		{"longest prefix wins over gpt-4o", "gpt-4o-mini-x", ModelPricing{0.15, 0.60}},
		{"gpt-4o beats gpt-4", "gpt-4o-2025-06-01", ModelPricing{2.5, 10}},
		{"3.5 family", "gpt-3.5-turbo-16k", ModelPricing{0.5, 1.5}},
		{"unknown model falls back", "mistral-large", defaultPricing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetModelPricing(tt.model))
		})
	}
}

func TestCalculateCost(t *testing.T) {
	p := ModelPricing{InputPerMTok: 2.5, OutputPerMTok: 10}
	assert.InDelta(t, 0.0125, CalculateCost(1000, 1000, p), 1e-9)
	assert.Zero(t, CalculateCost(0, 0, p))

	// One million of each at gpt-4 rates.
	assert.InDelta(t, 90, CalculateCost(1_000_000, 1_000_000, ModelPricing{30, 60}), 1e-9)
}
