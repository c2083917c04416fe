package llm

import (
	"math"
	"testing"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestEstimateCostKnownModels(t *testing.T) {
	tests := []struct {
		provider string
		model    string
		in, out  int
		want     float64
	}{
		// 1k in + 1k out on deepseek-chat: 0.00014 + 0.00028.
		{"deepseek", "deepseek-chat", 1000, 1000, 0.00042},
		{"openai", "gpt-4o-mini", 1_000_000, 0, 0.15},
		{"openai", "gpt-4o", 1_000_000, 1_000_000, 12.50},
		{"anthropic", "claude-sonnet-4-5", 1_000_000, 0, 3.00},
	}
	for _, tt := range tests {
		got := EstimateCost(tt.provider, tt.model, tt.in, tt.out, 0)
		if !approx(got, tt.want) {
			t.Errorf("EstimateCost(%s, %s, %d, %d) = %v, want %v",
				tt.provider, tt.model, tt.in, tt.out, got, tt.want)
		}
	}
}

func TestEstimateCostPrefixMatching(t *testing.T) {
	// A dated snapshot resolves to its family.
	dated := EstimateCost("openai", "gpt-4o-2024-11-20", 1_000_000, 0, 0)
	family := EstimateCost("openai", "gpt-4o", 1_000_000, 0, 0)
	if !approx(dated, family) {
		t.Errorf("dated snapshot = %v, family = %v", dated, family)
	}

	// gpt-4o-mini must not fall through to the gpt-4o price.
	mini := EstimateCost("openai", "gpt-4o-mini", 1_000_000, 0, 0)
	if approx(mini, family) {
		t.Error("mini priced as full gpt-4o")
	}
}

func TestEstimateCostCacheDiscount(t *testing.T) {
	full := EstimateCost("anthropic", "claude-sonnet-4-5", 1_000_000, 0, 0)
	cached := EstimateCost("anthropic", "claude-sonnet-4-5", 1_000_000, 0, 1_000_000)
	if cached >= full {
		t.Errorf("cached cost %v not below full cost %v", cached, full)
	}
}

func TestEstimateCostFallbacks(t *testing.T) {
	// Unknown model on a known provider uses the provider floor.
	if got := EstimateCost("openai", "experimental-model", 1_000_000, 0, 0); got == 0 {
		t.Error("known provider with unknown model priced at zero")
	}
	// Unknown provider costs nothing.
	if got := EstimateCost("homegrown", "local-7b", 1_000_000, 1_000_000, 0); got != 0 {
		t.Errorf("unknown provider cost = %v, want 0", got)
	}
}
