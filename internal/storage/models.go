package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Purchase status values derived from quantity_purchased vs quantity_needed.
const (
	PurchaseAvailable = "available"
	PurchasePartial   = "partial"
	PurchasePurchased = "purchased"
)

// RegistryItem is one desired gift in a registry.
type RegistryItem struct {
	ID         string
	RegistryID string

	ItemName    string
	PriceLabel  string
	PriceAmount *float64
	Merchant    string

	ItemURL      string
	CanonicalURL string
	ImageURL     string
	Description  string
	Notes        string
	Availability string

	QuantityNeeded    int
	QuantityPurchased int
	PurchaserName     string
	PurchaseStatus    string
	HideWhenPurchased bool
	Priority          string
	SortOrder         int

	MetadataLastCheckedAt *time.Time
	NextRefreshAt         *time.Time
	LastAutoRefreshedAt   *time.Time
	RefreshFailCount      int
	MetadataFetchStatus   string
	MetadataConfidence    string // "full", "partial", "manual" or empty

	PreviousPriceAmount *float64
	PriceLastChangedAt  *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// RegistrySettings holds the refresh window policy and monthly call budget
// for a single registry. One row per registry.
type RegistrySettings struct {
	RegistryID string

	AutoRefreshEnabled bool
	EnabledUntil       *time.Time
	WeddingDate        *time.Time

	BudgetMonthKey  string // YYYY-MM
	BudgetCallCount int
	BudgetCap       int
}

// Budget cap bounds. DefaultBudgetCap applies to newly created settings rows.
const (
	DefaultBudgetCap = 100
	MinBudgetCap     = 10
	MaxBudgetCap     = 2000
)

// ClampBudgetCap forces a cap into the allowed range, substituting the
// default for non-positive input.
func ClampBudgetCap(v int) int {
	if v <= 0 {
		return DefaultBudgetCap
	}
	if v < MinBudgetCap {
		return MinBudgetCap
	}
	if v > MaxBudgetCap {
		return MaxBudgetCap
	}
	return v
}
