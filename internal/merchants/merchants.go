// Package merchants stores the merchant records consulted by fraud scoring.
package merchants

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrMerchantNotFound = errors.New("merchant not found")
	ErrMerchantExists   = errors.New("merchant already exists")
	ErrInvalidCategory  = errors.New("invalid merchant category")
	ErrInvalidRiskLevel = errors.New("invalid merchant risk level")
)

// Category is the merchant's business category.
type Category string

// Categories in encoding order. The position of each category is the
// ordinal the predictor was trained on, so new values go before OTHER only
// together with a model retrain.
const (
	CategoryCoffee        Category = "COFFEE"
	CategoryGrocery       Category = "GROCERY"
	CategoryRestaurant    Category = "RESTAURANT"
	CategoryGas           Category = "GAS"
	CategoryRetail        Category = "RETAIL"
	CategoryOnline        Category = "ONLINE"
	CategoryTravel        Category = "TRAVEL"
	CategoryEntertainment Category = "ENTERTAINMENT"
	CategoryElectronics   Category = "ELECTRONICS"
	CategoryOther         Category = "OTHER"
)

// Categories lists every known category in encoding order.
var Categories = []Category{
	CategoryCoffee,
	CategoryGrocery,
	CategoryRestaurant,
	CategoryGas,
	CategoryRetail,
	CategoryOnline,
	CategoryTravel,
	CategoryEntertainment,
	CategoryElectronics,
	CategoryOther,
}

// RiskLevel is the merchant's assessed risk tier.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// Merchant is a business that receives payments.
type Merchant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Category  Category  `json:"category"`
	RiskLevel RiskLevel `json:"riskLevel"`
	Latitude  *float64  `json:"latitude,omitempty"`
	Longitude *float64  `json:"longitude,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CreateRequest is the request body for registering a merchant.
type CreateRequest struct {
	ID        string   `json:"id" binding:"required"`
	Name      string   `json:"name" binding:"required"`
	Category  string   `json:"category"`
	RiskLevel string   `json:"riskLevel"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// Store persists merchants.
type Store interface {
	Create(ctx context.Context, m *Merchant) error
	Get(ctx context.Context, id string) (*Merchant, error)
	List(ctx context.Context, limit int) ([]*Merchant, error)
}

// ParseCategory normalizes a category name. Empty input maps to OTHER.
func ParseCategory(s string) (Category, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return CategoryOther, nil
	}
	for _, c := range Categories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", ErrInvalidCategory
}

// ParseRiskLevel normalizes a risk level. Empty input maps to LOW.
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch RiskLevel(strings.ToUpper(strings.TrimSpace(s))) {
	case "", RiskLow:
		return RiskLow, nil
	case RiskMedium:
		return RiskMedium, nil
	case RiskHigh:
		return RiskHigh, nil
	default:
		return "", ErrInvalidRiskLevel
	}
}
