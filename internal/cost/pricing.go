package cost

import (
	"fmt"
	"sort"
	"strings"
)

// ModelPricing is the price of one model in USD per 1M tokens
type ModelPricing struct {
	Provider   string  `json:"provider"`
	Model      string  `json:"model"`
	InputCost  float64 `json:"input_cost"`
	OutputCost float64 `json:"output_cost"`
}

// Calculator prices token usage per provider and model
type Calculator struct {
	pricing map[string]ModelPricing
	// prefixes holds pricing keys longest first for dated model names
	prefixes []string
}

// NewCalculator creates a calculator with the built-in price table
func NewCalculator() *Calculator {
	c := &Calculator{pricing: make(map[string]ModelPricing)}
	c.loadModelPricing()
	return c
}

func (c *Calculator) add(provider, model string, in, out float64) {
	c.pricing[provider+"/"+model] = ModelPricing{Provider: provider, Model: model, InputCost: in, OutputCost: out}
}

func (c *Calculator) loadModelPricing() {
	c.add("openai", "gpt-4o", 2.50, 10.00)
	c.add("openai", "gpt-4o-mini", 0.15, 0.60)
	c.add("openai", "gpt-4-turbo", 10.00, 30.00)
	c.add("openai", "gpt-4.1", 2.00, 8.00)
	c.add("openai", "gpt-4.1-mini", 0.40, 1.60)
	c.add("openai", "o4-mini", 1.10, 4.40)

	c.add("anthropic", "claude-3-5-sonnet", 3.00, 15.00)
	c.add("anthropic", "claude-3-7-sonnet", 3.00, 15.00)
	c.add("anthropic", "claude-sonnet-4", 3.00, 15.00)
	c.add("anthropic", "claude-3-5-haiku", 0.80, 4.00)
	c.add("anthropic", "claude-3-haiku", 0.25, 1.25)
	c.add("anthropic", "claude-3-opus", 15.00, 75.00)

	for key := range c.pricing {
		c.prefixes = append(c.prefixes, key)
	}
	sort.Slice(c.prefixes, func(i, j int) bool {
		if len(c.prefixes[i]) != len(c.prefixes[j]) {
			return len(c.prefixes[i]) > len(c.prefixes[j])
		}
		return c.prefixes[i] < c.prefixes[j]
	})
}

// Cost returns the USD cost of a call
func (c *Calculator) Cost(provider, model string, inputTokens, outputTokens int64) float64 {
	p := c.Pricing(provider, model)
	return float64(inputTokens)/1e6*p.InputCost + float64(outputTokens)/1e6*p.OutputCost
}

// Pricing returns the price for a model. Dated names such as
// gpt-4o-2024-08-06 match their base model; unknown models of a known
// provider use its flagship price; anything else is priced high.
func (c *Calculator) Pricing(provider, model string) ModelPricing {
	if provider == "rule-based" {
		return ModelPricing{Provider: provider, Model: model}
	}

	key := provider + "/" + strings.ToLower(model)
	if p, ok := c.pricing[key]; ok {
		return p
	}
	for _, prefix := range c.prefixes {
		if strings.HasPrefix(key, prefix) {
			return c.pricing[prefix]
		}
	}

	switch provider {
	case "openai":
		return c.pricing["openai/gpt-4o"]
	case "anthropic":
		return c.pricing["anthropic/claude-3-5-sonnet"]
	}

	return ModelPricing{Provider: provider, Model: model, InputCost: 15.00, OutputCost: 75.00}
}

// FormatCost formats a cost in USD for display
func FormatCost(cost float64) string {
	if cost < 0.001 {
		return fmt.Sprintf("$%.4f", cost)
	} else if cost < 0.01 {
		return fmt.Sprintf("$%.3f", cost)
	}
	return fmt.Sprintf("$%.2f", cost)
}

// FormatTokens formats token counts for display
func FormatTokens(tokens int64) string {
	if tokens < 1000 {
		return fmt.Sprintf("%d", tokens)
	} else if tokens < 1000000 {
		return fmt.Sprintf("%.1fK", float64(tokens)/1000.0)
	}
	return fmt.Sprintf("%.1fM", float64(tokens)/1000000.0)
}
