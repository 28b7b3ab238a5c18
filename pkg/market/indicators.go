package market

import (
	"context"
	"math"
	"slices"
)

// Signal thresholds on the 7-day change.
const (
	bullishChangePct = 5.0
	bearishChangePct = -5.0
)

// Technicals summarizes a price series.
type Technicals struct {
	CurrentPrice  float64 `json:"current_price"`
	SMA           float64 `json:"sma"`
	ChangePct     float64 `json:"change_pct"`
	Volatility    float64 `json:"volatility"`
	Trend         string  `json:"trend"`
	Support       float64 `json:"support"`
	Resistance    float64 `json:"resistance"`
	PricePosition string  `json:"price_position"`
	Signal        string  `json:"signal"`
	DataPoints    int     `json:"data_points"`
}

// ComputeTechnicals derives indicators from prices, oldest first. It returns
// nil for fewer than two points.
func ComputeTechnicals(prices []float64) *Technicals {
	if len(prices) < 2 || prices[0] == 0 {
		return nil
	}
	current := prices[len(prices)-1]

	var sum float64
	for _, p := range prices {
		sum += p
	}
	sma := sum / float64(len(prices))

	var variance float64
	for _, p := range prices {
		variance += (p - sma) * (p - sma)
	}
	variance /= float64(len(prices))

	t := &Technicals{
		CurrentPrice:  current,
		SMA:           round2(sma),
		ChangePct:     round2((current - prices[0]) / prices[0] * 100),
		Volatility:    round2(math.Sqrt(variance)),
		Trend:         "downtrend",
		Support:       slices.Min(prices),
		Resistance:    slices.Max(prices),
		PricePosition: "below_sma",
		Signal:        "neutral",
		DataPoints:    len(prices),
	}
	if current > sma {
		t.Trend = "uptrend"
		t.PricePosition = "above_sma"
	}
	switch {
	case t.Trend == "uptrend" && t.ChangePct > bullishChangePct:
		t.Signal = "bullish"
	case t.Trend == "downtrend" && t.ChangePct < bearishChangePct:
		t.Signal = "bearish"
	}
	return t
}

// Technicals fetches seven days of history for coin id and summarizes it.
func (c *CoinGecko) Technicals(ctx context.Context, id string) (*Technicals, error) {
	prices, err := c.PriceHistory(ctx, id, 7)
	if err != nil {
		return nil, err
	}
	return ComputeTechnicals(prices), nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
