// Package pricing prices judge token usage.
package pricing

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type ModelPricing struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

// Table maps provider -> model -> price. Prices are per 1K tokens.
type Table struct {
	Providers map[string]map[string]ModelPricing
}

// Load reads a pricing table. An empty path yields an empty table.
func Load(path string) (*Table, error) {
	if path == "" {
		return &Table{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pricing file: %w", err)
	}
	var providers map[string]map[string]ModelPricing
	if err := yaml.Unmarshal(data, &providers); err != nil {
		return nil, fmt.Errorf("parsing pricing file: %w", err)
	}
	return &Table{Providers: providers}, nil
}

// Cost calculates the cost of one request. A model missing under provider is
// looked up under every provider, since gateways may report a different
// provider name than the table uses.
func (t *Table) Cost(provider, model string, inputTokens, outputTokens int) float64 {
	if t == nil || t.Providers == nil {
		return 0
	}
	p, ok := t.Providers[provider][model]
	if !ok {
		for _, models := range t.Providers {
			if p, ok = models[model]; ok {
				break
			}
		}
	}
	if !ok {
		return 0
	}
	return (float64(inputTokens)/1000.0)*p.Input + (float64(outputTokens)/1000.0)*p.Output
}
