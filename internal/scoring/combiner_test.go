package scoring

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
)

func rule(id string, score float64, action Action, reason string) RuleResult {
	return RuleResult{RuleID: id, Triggered: true, Score: score, Action: action, Reason: reason}
}

func available(score float64) Prediction {
	return Prediction{Available: true, Score: score, Models: []string{"xgb"}}
}

func TestCombine_WorkedExample(t *testing.T) {
	// 40*0.6 + 80*0.4 = 56
	d := Combine([]RuleResult{rule("r", 40, ActionReview, "r")}, available(80))
	assert.Equal(t, 56.0, d.FraudScore)
	assert.Equal(t, RiskMedium, d.RiskLevel)
	assert.Equal(t, ActionReview, d.Action)
	assert.Equal(t, []string{"r", ReasonHighML}, d.Reasons)
}

func TestCombine_NoSignal(t *testing.T) {
	d := Combine(nil, Unavailable())
	assert.Equal(t, 0.0, d.FraudScore)
	assert.Equal(t, ActionAllow, d.Action)
	assert.Equal(t, RiskLow, d.RiskLevel)
	assert.NotNil(t, d.Reasons)
	assert.Empty(t, d.Reasons)
}

func TestCombine_UnavailableIsNeutral(t *testing.T) {
	unavailable := Combine([]RuleResult{rule("r", 30, ActionReview, "r")}, Unavailable())
	zero := Combine([]RuleResult{rule("r", 30, ActionReview, "r")}, available(0))
	assert.Equal(t, zero.FraudScore, unavailable.FraudScore)
	assert.Equal(t, 18.0, unavailable.FraudScore)
}

func TestCombine_BlockingRuleForcesBlock(t *testing.T) {
	d := Combine([]RuleResult{rule(RuleHighAmount, 40, ActionBlock, "big")}, Unavailable())
	assert.Equal(t, 24.0, d.FraudScore)
	assert.True(t, d.HasBlockingRule)
	assert.Equal(t, ActionBlock, d.Action)
	assert.Equal(t, RiskHigh, d.RiskLevel)
}

func TestCombine_Thresholds(t *testing.T) {
	tests := []struct {
		ml     float64
		rules  float64
		action Action
		level  RiskLevel
	}{
		{ml: 0, rules: 0, action: ActionAllow, level: RiskLow},
		{ml: 0, rules: 82, action: ActionAllow, level: RiskLow},         // 49.2
		{ml: 0, rules: 83.34, action: ActionReview, level: RiskMedium},  // 50.004
		{ml: 100, rules: 66.67, action: ActionBlock, level: RiskHigh},   // 80.002
		{ml: 100, rules: 66.65, action: ActionReview, level: RiskMedium},
	}
	for _, tc := range tests {
		d := Combine([]RuleResult{rule("r", tc.rules, ActionReview, "r")}, available(tc.ml))
		assert.Equal(t, tc.action, d.Action, "rules=%v ml=%v score=%v", tc.rules, tc.ml, d.FraudScore)
		assert.Equal(t, tc.level, d.RiskLevel)
	}
}

func TestCombine_RoundingNeverCrossesThreshold(t *testing.T) {
	// 90*0.6 + 64.99*0.4 = 79.996, reported as 80 but still below the block line.
	d := Combine([]RuleResult{
		rule("a", 35, ActionReview, "a"),
		rule("b", 30, ActionReview, "b"),
		rule("c", 25, ActionReview, "c"),
	}, available(64.99))
	assert.Equal(t, 80.0, d.FraudScore)
	assert.Equal(t, ActionReview, d.Action)
	assert.Equal(t, RiskMedium, d.RiskLevel)

	// 55*0.6 + 42.49*0.4 = 49.996, reported as 50 but still an allow.
	d = Combine([]RuleResult{
		rule("a", 15, ActionReview, "a"),
		rule("b", 20, ActionReview, "b"),
		rule("c", 20, ActionReview, "c"),
	}, available(42.49))
	assert.Equal(t, 50.0, d.FraudScore)
	assert.Equal(t, ActionAllow, d.Action)
	assert.Equal(t, RiskLow, d.RiskLevel)
}

func TestCombine_MLReasons(t *testing.T) {
	assert.Equal(t, []string{ReasonHighML}, Combine(nil, available(70.5)).Reasons)
	assert.Equal(t, []string{ReasonModerateML}, Combine(nil, available(70)).Reasons)
	assert.Equal(t, []string{ReasonModerateML}, Combine(nil, available(50.1)).Reasons)
	assert.Empty(t, Combine(nil, available(50)).Reasons)
}

func TestCombine_ReasonsFollowRuleOrder(t *testing.T) {
	d := Combine([]RuleResult{
		rule("a", 10, ActionReview, "first"),
		rule("b", 10, ActionReview, "second"),
		rule("c", 10, ActionReview, "third"),
	}, Unavailable())
	assert.Equal(t, []string{"first", "second", "third"}, d.Reasons)
}

func TestCombine_CapsAt100(t *testing.T) {
	d := Combine([]RuleResult{
		rule("a", 100, ActionReview, "a"),
		rule("b", 100, ActionReview, "b"),
	}, available(100))
	assert.Equal(t, 100.0, d.FraudScore)
	assert.Equal(t, ActionBlock, d.Action)
}

func TestCombine_ScoreAlwaysInBounds(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 500; i++ {
		var results []RuleResult
		n := rng.IntN(8)
		for j := 0; j < n; j++ {
			action := ActionReview
			if rng.IntN(5) == 0 {
				action = ActionBlock
			}
			results = append(results, rule("r", rng.Float64()*60, action, "r"))
		}
		p := Unavailable()
		if rng.IntN(2) == 0 {
			p = available(rng.Float64()*140 - 20)
		}

		d := Combine(results, p)
		assert.GreaterOrEqual(t, d.FraudScore, 0.0)
		assert.LessOrEqual(t, d.FraudScore, 100.0)
		if d.HasBlockingRule {
			assert.Equal(t, ActionBlock, d.Action)
		}
		assert.Equal(t, d, Combine(results, p))
	}
}
