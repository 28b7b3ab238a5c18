package narrative

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
)

const analystPrefix = "narrative:analyst"

// Rule-based fallback parameters.
const (
	ruleStep       = 0.15
	ruleConfidence = 0.25
)

// Direction labels.
const (
	Bullish = "bullish"
	Bearish = "bearish"
	Neutral = "neutral"
)

// Analysis is the outlook for one subject.
type Analysis struct {
	ImpactScore float64  `json:"impact_score"`
	Direction   string   `json:"direction"`
	Confidence  float64  `json:"confidence"`
	Reasoning   []string `json:"reasoning"`
	KeyFactors  []string `json:"key_factors,omitempty"`
	Risks       []string `json:"risks,omitempty"`
	Timeframe   string   `json:"timeframe,omitempty"`
	Source      string   `json:"source"`
	Timestamp   string   `json:"ts"`
}

// Analyst produces Analyses. A nil model always uses the rule-based path.
type Analyst struct {
	model   Model
	timeout time.Duration
	now     func() time.Time
}

// NewAnalyst creates an Analyst. timeout bounds each model call.
func NewAnalyst(model Model, timeout time.Duration) *Analyst {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Analyst{model: model, timeout: timeout, now: time.Now}
}

// Analyze asks the model for an outlook and falls back to keyword rules when
// the model is absent, fails or answers with unusable JSON.
func (a *Analyst) Analyze(ctx context.Context, subject string, snapshot any, newsSummary string) Analysis {
	var out Analysis
	if a.model != nil {
		prompt, err := buildPrompt(subject, snapshot, newsSummary)
		if err == nil {
			out, err = a.generate(ctx, prompt)
		}
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - model %s failed for %s, using rules: %v", analystPrefix, a.model.Name(), subject, err))
			out = RuleBased(newsSummary)
		}
	} else {
		out = RuleBased(newsSummary)
	}
	out.Timestamp = a.now().UTC().Format(time.RFC3339)
	return out
}

func (a *Analyst) generate(ctx context.Context, prompt string) (Analysis, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	raw, err := a.model.Generate(ctx, prompt, 0.4)
	if err != nil {
		return Analysis{}, err
	}
	return parseAnalysis(raw)
}

// modelAnswer accepts loosely typed model output.
type modelAnswer struct {
	ImpactScore *float64        `json:"impact_score"`
	Direction   string          `json:"direction"`
	Confidence  float64         `json:"confidence"`
	Reasoning   json.RawMessage `json:"reasoning"`
	KeyFactors  []string        `json:"key_factors"`
	Risks       []string        `json:"risks"`
	Timeframe   string          `json:"timeframe"`
}

func parseAnalysis(raw string) (Analysis, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return Analysis{}, fmt.Errorf("%s - no JSON object in model output", analystPrefix)
	}
	var ans modelAnswer
	if err := json.Unmarshal([]byte(raw[start:end+1]), &ans); err != nil {
		return Analysis{}, fmt.Errorf("%s - decode model output: %w", analystPrefix, err)
	}
	if ans.ImpactScore == nil {
		return Analysis{}, fmt.Errorf("%s - model output has no impact_score", analystPrefix)
	}

	score := clamp(*ans.ImpactScore, -1, 1)
	dir := strings.ToLower(ans.Direction)
	if dir != Bullish && dir != Bearish && dir != Neutral {
		dir = directionFor(score)
	}
	return Analysis{
		ImpactScore: score,
		Direction:   dir,
		Confidence:  clamp(ans.Confidence, 0, 1),
		Reasoning:   coerceStrings(ans.Reasoning),
		KeyFactors:  ans.KeyFactors,
		Risks:       ans.Risks,
		Timeframe:   ans.Timeframe,
		Source:      "model",
	}, nil
}

func coerceStrings(raw json.RawMessage) []string {
	if len(raw) == 0 || string(raw) == "null" {
		return []string{}
	}
	var list []any
	if err := json.Unmarshal(raw, &list); err == nil {
		out := make([]string, 0, len(list))
		for _, v := range list {
			out = append(out, fmt.Sprint(v))
		}
		return out
	}
	var one any
	if err := json.Unmarshal(raw, &one); err == nil {
		return []string{fmt.Sprint(one)}
	}
	return []string{}
}

// RuleBased scores headlines by central bank keywords.
func RuleBased(newsSummary string) Analysis {
	var score float64
	var reasons []string
	lower := strings.ToLower(newsSummary)
	if strings.Contains(lower, "rate cut") {
		score += ruleStep
		reasons = append(reasons, "rate cut mention detected")
	}
	if strings.Contains(lower, "rate hike") {
		score -= ruleStep
		reasons = append(reasons, "rate hike mention detected")
	}
	if len(reasons) == 0 {
		reasons = []string{"rule-based fallback"}
	}
	score = clamp(score, -1, 1)
	return Analysis{
		ImpactScore: score,
		Direction:   directionFor(score),
		Confidence:  ruleConfidence,
		Reasoning:   reasons,
		Source:      "rules",
	}
}

func directionFor(score float64) string {
	switch {
	case score > 0:
		return Bullish
	case score < 0:
		return Bearish
	default:
		return Neutral
	}
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(lo, math.Min(hi, v))
}

func buildPrompt(subject string, snapshot any, newsSummary string) (string, error) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("%s - encode snapshot: %w", analystPrefix, err)
	}
	var b strings.Builder
	b.WriteString("You are an expert financial analyst covering cryptocurrency and forex markets.\n\n")
	fmt.Fprintf(&b, "Asset: %s\nPrice data: %s\nRecent headlines and technicals:\n%s\n\n", subject, data, newsSummary)
	b.WriteString("Assess news sentiment, price action, macro factors, risks and catalysts. ")
	b.WriteString("Answer with a single JSON object and nothing else:\n")
	b.WriteString(`{"impact_score": <-1.0..1.0>, "direction": "bullish"|"bearish"|"neutral", "confidence": <0..1>, ` +
		`"reasoning": [3-5 short points], "key_factors": [2-3 items], "risks": [1-2 items], ` +
		`"timeframe": "short-term"|"medium-term"|"long-term"}`)
	return b.String(), nil
}

const extractPrompt = `Identify the single cryptocurrency the user is asking about.
Reply with only its ticker symbol or name (for example BTC or ethereum).
Ignore command words such as analyze, price or check.
If no cryptocurrency is mentioned reply NONE.

Query: %s`

// ExtractCoin asks the model which coin a query mentions. It returns "" when
// there is no model, the model finds none, or the answer looks malformed.
func (a *Analyst) ExtractCoin(ctx context.Context, query string) string {
	if a.model == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, min(a.timeout, 5*time.Second))
	defer cancel()

	raw, err := a.model.Generate(ctx, fmt.Sprintf(extractPrompt, query), 0.1)
	if err != nil {
		slog.Debug(fmt.Sprintf("%s - coin extraction failed: %v", analystPrefix, err))
		return ""
	}
	coin := strings.TrimSpace(strings.Trim(strings.TrimSpace(raw), "\"'`"))
	switch {
	case coin == "", strings.EqualFold(coin, "none"):
		return ""
	case len(coin) > 20, strings.Contains(coin, "-"), strings.Contains(strings.ToUpper(coin), "TICKER"):
		slog.Warn(fmt.Sprintf("%s - discarding malformed coin extraction %q", analystPrefix, coin))
		return ""
	}
	return coin
}
