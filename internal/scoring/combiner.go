package scoring

import "math"

const (
	ruleWeight = 0.6
	mlWeight   = 0.4

	blockThreshold  = 80.0
	reviewThreshold = 50.0

	highMLThreshold     = 70.0
	moderateMLThreshold = 50.0

	ReasonHighML     = "High ML fraud probability"
	ReasonModerateML = "Moderate ML fraud probability"
)

// Decision is the combined outcome of rules and prediction.
type Decision struct {
	FraudScore      float64
	RiskLevel       RiskLevel
	Action          Action
	Reasons         []string
	RuleScore       float64
	MLScore         float64
	HasBlockingRule bool
}

// Combine merges triggered rule results with the prediction. It is pure and
// deterministic. An unavailable prediction counts as an ML score of zero.
func Combine(results []RuleResult, p Prediction) Decision {
	d := Decision{Reasons: make([]string, 0, len(results)+1)}

	for _, r := range results {
		d.RuleScore += r.Score
		if r.Action == ActionBlock {
			d.HasBlockingRule = true
		}
		if r.Reason != "" {
			d.Reasons = append(d.Reasons, r.Reason)
		}
	}

	if p.Available {
		d.MLScore = clampScore(p.Score)
	}

	// Thresholds compare the exact score; only the reported value is rounded.
	score := clampScore(d.RuleScore*ruleWeight + d.MLScore*mlWeight)
	d.FraudScore = math.Round(score*100) / 100

	switch {
	case d.MLScore > highMLThreshold:
		d.Reasons = append(d.Reasons, ReasonHighML)
	case d.MLScore > moderateMLThreshold:
		d.Reasons = append(d.Reasons, ReasonModerateML)
	}

	switch {
	case d.HasBlockingRule || score >= blockThreshold:
		d.RiskLevel, d.Action = RiskHigh, ActionBlock
	case score >= reviewThreshold:
		d.RiskLevel, d.Action = RiskMedium, ActionReview
	default:
		d.RiskLevel, d.Action = RiskLow, ActionAllow
	}
	return d
}

func clampScore(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}
