package scoring

import (
	"math"
	"slices"
	"time"

	"github.com/mbd888/fraudscore/internal/merchants"
	"github.com/mbd888/fraudscore/internal/transactions"
	"github.com/mbd888/fraudscore/internal/users"
)

const (
	// NoHistoryMinutes stands in for "minutes since last transaction" when
	// the user has none.
	NoHistoryMinutes = 9999.0
	// MerchantFraudPrior is the fraud rate assumed for a user-merchant pair
	// with no shared history.
	MerchantFraudPrior = 0.02

	nightStartHour = 22
	nightEndHour   = 6
)

// FeatureVector is the fixed-shape input to the external predictor.
type FeatureVector struct {
	Amount               float64
	Hour                 int
	DayOfWeek            int // 0 = Sunday
	IsWeekend            bool
	IsNight              bool
	AmountZScore         float64
	MinutesSinceLastTxn  float64
	HasLocation          bool
	UserRiskScore        float64
	UserAvgAmount        float64
	UserAmountStdDev     float64
	UserTxnCount         int
	MerchantFraudRate    float64
	MerchantCategoryCode int
	MerchantRiskCode     int
}

// ExtractFeatures builds the feature vector for a request. It is pure: the
// same inputs always produce the same vector. Temporal features come from
// now, not from any timestamp on the request.
func ExtractFeatures(req *TransactionRequest, user *users.User, merchant *merchants.Merchant, history []*transactions.Transaction, now time.Time) FeatureVector {
	amount := req.Amount.InexactFloat64()
	weekday := int(now.Weekday())

	fv := FeatureVector{
		Amount:               amount,
		Hour:                 now.Hour(),
		DayOfWeek:            weekday,
		IsWeekend:            weekday == int(time.Sunday) || weekday == int(time.Saturday),
		IsNight:              now.Hour() >= nightStartHour || now.Hour() <= nightEndHour,
		HasLocation:          req.Latitude != nil && req.Longitude != nil,
		UserRiskScore:        user.RiskScore,
		UserTxnCount:         user.TransactionCount,
		MerchantCategoryCode: CategoryCode(merchant.Category),
		MerchantRiskCode:     RiskCode(merchant.RiskLevel),
	}

	fv.UserAvgAmount, fv.UserAmountStdDev, fv.AmountZScore = amountStats(amount, history)
	fv.MinutesSinceLastTxn = minutesSinceLatest(history, now)
	fv.MerchantFraudRate = merchantFraudRate(history, merchant.ID)
	return fv
}

// amountStats returns the population mean and standard deviation of the
// historical amounts and the current amount's z-score against them.
func amountStats(amount float64, history []*transactions.Transaction) (mean, std, z float64) {
	if len(history) == 0 {
		return amount, 0, 0
	}

	var sum float64
	for _, tx := range history {
		sum += tx.Amount.InexactFloat64()
	}
	n := float64(len(history))
	mean = sum / n

	var sq float64
	for _, tx := range history {
		d := tx.Amount.InexactFloat64() - mean
		sq += d * d
	}
	std = math.Sqrt(sq / n)

	if std > 0 {
		z = math.Abs(amount-mean) / std
	}
	return mean, std, z
}

func minutesSinceLatest(history []*transactions.Transaction, now time.Time) float64 {
	if len(history) == 0 {
		return NoHistoryMinutes
	}
	// History should arrive most recent first, but the order is not relied on.
	latest := slices.MaxFunc(history, func(a, b *transactions.Transaction) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return math.Max(0, now.Sub(latest.CreatedAt).Minutes())
}

func merchantFraudRate(history []*transactions.Transaction, merchantID string) float64 {
	var total, fraud int
	for _, tx := range history {
		if tx.MerchantID != merchantID {
			continue
		}
		total++
		if tx.IsFraud {
			fraud++
		}
	}
	if total == 0 {
		return MerchantFraudPrior
	}
	return float64(fraud) / float64(total)
}

// CategoryCode is the ordinal encoding of a merchant category. Unknown
// categories encode as OTHER.
func CategoryCode(c merchants.Category) int {
	if i := slices.Index(merchants.Categories, c); i >= 0 {
		return i
	}
	return slices.Index(merchants.Categories, merchants.CategoryOther)
}

// RiskCode is the ordinal encoding of a merchant risk level. Unknown levels
// encode as LOW.
func RiskCode(r merchants.RiskLevel) int {
	switch r {
	case merchants.RiskMedium:
		return 1
	case merchants.RiskHigh:
		return 2
	default:
		return 0
	}
}
