// Package pricing computes request cost in micro-USD from token-usage
// metrics and a per-model price table.
package pricing

import (
	"strings"
	"sync"

	"github.com/relaymesh/ccproxy/internal/usage"
)

// Context1MThreshold is the token count above which 1M-context models
// charge a higher tiered rate.
const Context1MThreshold = 200_000

// ModelPricing holds per-million-token prices in micro-USD for one model.
type ModelPricing struct {
	ModelID                string
	InputPriceMicro        uint64
	OutputPriceMicro       uint64
	Cache5mWritePriceMicro uint64
	Cache1hWritePriceMicro uint64
	CacheReadPriceMicro    uint64
	Has1MContext           bool
}

// GetEffectiveCacheReadPriceMicro returns the explicit cache-read price, or
// input/10 if none was configured.
func (p *ModelPricing) GetEffectiveCacheReadPriceMicro() uint64 {
	if p.CacheReadPriceMicro > 0 {
		return p.CacheReadPriceMicro
	}
	return p.InputPriceMicro / 10
}

// GetEffectiveCache5mWritePriceMicro returns the explicit 5m cache-write
// price, or input*5/4 if none was configured.
func (p *ModelPricing) GetEffectiveCache5mWritePriceMicro() uint64 {
	if p.Cache5mWritePriceMicro > 0 {
		return p.Cache5mWritePriceMicro
	}
	return p.InputPriceMicro * 5 / 4
}

// GetEffectiveCache1hWritePriceMicro returns the explicit 1h cache-write
// price, or input*2 if none was configured.
func (p *ModelPricing) GetEffectiveCache1hWritePriceMicro() uint64 {
	if p.Cache1hWritePriceMicro > 0 {
		return p.Cache1hWritePriceMicro
	}
	return p.InputPriceMicro * 2
}

// PriceTable is a versioned, prefix-matched set of model prices.
type PriceTable struct {
	version string
	mu      sync.RWMutex
	models  map[string]*ModelPricing
}

// NewPriceTable creates an empty price table tagged with a version label.
func NewPriceTable(version string) *PriceTable {
	return &PriceTable{version: version, models: make(map[string]*ModelPricing)}
}

// Version returns the table's version label.
func (pt *PriceTable) Version() string {
	return pt.version
}

// Set registers or replaces the pricing entry for a model ID.
func (pt *PriceTable) Set(p *ModelPricing) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.models[p.ModelID] = p
}

// Get looks up pricing for a model, falling back to the longest registered
// model ID that the given model ID starts with (so dated snapshot names
// like "claude-sonnet-4-5-20250514" match the "claude-sonnet-4-5" entry).
func (pt *PriceTable) Get(modelID string) *ModelPricing {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	if p, ok := pt.models[modelID]; ok {
		return p
	}

	var best *ModelPricing
	bestLen := 0
	for id, p := range pt.models {
		if strings.HasPrefix(modelID, id) && len(id) > bestLen {
			best = p
			bestLen = len(id)
		}
	}
	return best
}

// CalculateLinearCostMicro computes cost in micro-USD for a flat per-token
// rate given as price per million tokens.
func CalculateLinearCostMicro(tokens, priceMicro uint64) uint64 {
	return tokens * priceMicro / 1_000_000
}

// CalculateTieredCostMicro computes cost in micro-USD where tokens at or
// below threshold are charged at the base rate, and tokens above threshold
// are charged at base*multNum/multDen.
func CalculateTieredCostMicro(tokens, basePriceMicro, multNum, multDen, threshold uint64) uint64 {
	if tokens <= threshold {
		return CalculateLinearCostMicro(tokens, basePriceMicro)
	}
	base := CalculateLinearCostMicro(threshold, basePriceMicro)
	overage := tokens - threshold
	overPrice := basePriceMicro * multNum / multDen
	return base + CalculateLinearCostMicro(overage, overPrice)
}

// Calculator computes request cost from a price table.
type Calculator struct {
	table *PriceTable
}

// NewCalculator creates a Calculator backed by the given price table.
func NewCalculator(table *PriceTable) *Calculator {
	return &Calculator{table: table}
}

var (
	globalCalc     *Calculator
	globalCalcOnce sync.Once
)

// GlobalCalculator returns the process-wide Calculator backed by
// DefaultPriceTable.
func GlobalCalculator() *Calculator {
	globalCalcOnce.Do(func() {
		globalCalc = NewCalculator(DefaultPriceTable())
	})
	return globalCalc
}

// Calculate returns the total cost in micro-USD for the given model and
// usage metrics. Returns 0 if the model is unknown or metrics is nil.
func (c *Calculator) Calculate(model string, m *usage.Metrics) uint64 {
	if m == nil {
		return 0
	}
	p := c.table.Get(model)
	if p == nil {
		return 0
	}

	var total uint64
	if p.Has1MContext {
		total += CalculateTieredCostMicro(m.InputTokens, p.InputPriceMicro, 2, 1, Context1MThreshold)
		total += CalculateTieredCostMicro(m.OutputTokens, p.OutputPriceMicro, 3, 2, Context1MThreshold)
	} else {
		total += CalculateLinearCostMicro(m.InputTokens, p.InputPriceMicro)
		total += CalculateLinearCostMicro(m.OutputTokens, p.OutputPriceMicro)
	}

	total += CalculateLinearCostMicro(m.CacheReadCount, p.GetEffectiveCacheReadPriceMicro())
	total += CalculateLinearCostMicro(m.Cache5mCreationCount, p.GetEffectiveCache5mWritePriceMicro())
	total += CalculateLinearCostMicro(m.Cache1hCreationCount, p.GetEffectiveCache1hWritePriceMicro())

	return total
}
