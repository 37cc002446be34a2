package orchestrator

import "strings"

// Prices are rubles per 1000 tokens, following the published GigaChat and
// YandexGPT rate cards. Local daemons and test doubles are free.
var pricing = map[string]map[string]float64{
	"gigachat": {
		"GigaChat":      1.00,
		"GigaChat-Plus": 1.50,
		"GigaChat-Pro":  2.00,
		"default":       1.50,
	},
	"yandexgpt": {
		"yandexgpt/latest":      1.50,
		"yandexgpt-lite/latest": 0.75,
		"default":               1.50,
	},
	"ollama": {
		"default": 0.0,
	},
	"mock": {
		"default": 0.0,
	},
}

// PricePer1K returns the per-1000-token price for a backend family and
// model. Family matching is case-insensitive; a name that is not an exact
// entry resolves through the longest registered prefix, so "gigachat-dev"
// prices as "gigachat". Unknown families are free, and unknown models use
// the family default.
func PricePer1K(family, model string) float64 {
	table := familyTable(family)
	if table == nil {
		return 0
	}
	if model != "" {
		if price, ok := table[model]; ok {
			return price
		}
	}
	return table["default"]
}

// CalculateCost converts a token count into money for the given backend
// family and model, scaled linearly from the per-1K price.
func CalculateCost(family, model string, tokens int64) float64 {
	return PricePer1K(family, model) * float64(tokens) / 1000.0
}

func familyTable(family string) map[string]float64 {
	key := strings.ToLower(family)
	if table, ok := pricing[key]; ok {
		return table
	}
	var best map[string]float64
	bestLen := 0
	for name, table := range pricing {
		if strings.HasPrefix(key, name) && len(name) > bestLen {
			best, bestLen = table, len(name)
		}
	}
	return best
}
