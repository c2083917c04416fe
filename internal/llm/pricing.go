package llm

import "strings"

// modelPrice is USD per million tokens.
type modelPrice struct {
	input     float64
	output    float64
	cacheRead float64
}

// Published list prices, keyed by provider then model prefix. Matching
// is by prefix so dated snapshots (deepseek-chat-2024..., gpt-4o-2024...)
// resolve to their family.
var pricing = map[string][]struct {
	prefix string
	price  modelPrice
}{
	"deepseek": {
		{"deepseek-chat", modelPrice{input: 0.14, output: 0.28, cacheRead: 0.014}},
		{"deepseek-reasoner", modelPrice{input: 0.55, output: 2.19, cacheRead: 0.14}},
	},
	"openai": {
		{"gpt-4o-mini", modelPrice{input: 0.15, output: 0.60, cacheRead: 0.075}},
		{"gpt-4o", modelPrice{input: 2.50, output: 10.00, cacheRead: 1.25}},
		{"gpt-4.1-mini", modelPrice{input: 0.40, output: 1.60, cacheRead: 0.10}},
		{"gpt-4.1", modelPrice{input: 2.00, output: 8.00, cacheRead: 0.50}},
	},
	"anthropic": {
		{"claude-haiku", modelPrice{input: 0.80, output: 4.00, cacheRead: 0.08}},
		{"claude-sonnet", modelPrice{input: 3.00, output: 15.00, cacheRead: 0.30}},
		{"claude-opus", modelPrice{input: 15.00, output: 75.00, cacheRead: 1.50}},
	},
}

// Fallbacks when a model has no table entry: the provider's cheapest
// mainline model, so estimates err low but never zero out.
var providerFallback = map[string]modelPrice{
	"deepseek":  {input: 0.14, output: 0.28, cacheRead: 0.014},
	"openai":    {input: 0.15, output: 0.60, cacheRead: 0.075},
	"anthropic": {input: 0.80, output: 4.00, cacheRead: 0.08},
}

// EstimateCost computes the USD cost of one call from its token
// counts. Unknown providers cost zero.
func EstimateCost(provider, model string, inputTokens, outputTokens, cacheReadTokens int) float64 {
	price, ok := lookupPrice(provider, model)
	if !ok {
		return 0
	}
	const million = 1_000_000.0
	// Cached input is billed at the cache-read rate, not the input rate.
	freshInput := inputTokens - cacheReadTokens
	if freshInput < 0 {
		freshInput = 0
	}
	return float64(freshInput)/million*price.input +
		float64(cacheReadTokens)/million*price.cacheRead +
		float64(outputTokens)/million*price.output
}

func lookupPrice(provider, model string) (modelPrice, bool) {
	model = strings.ToLower(model)
	for _, entry := range pricing[provider] {
		if strings.HasPrefix(model, entry.prefix) {
			return entry.price, true
		}
	}
	if p, ok := providerFallback[provider]; ok {
		return p, true
	}
	return modelPrice{}, false
}
