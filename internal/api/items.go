package api

import (
	"time"

	"github.com/perlow/giftsync/internal/storage"
)

// Item is the wire representation of a registry item, mirroring the
// dashboard's snake_case field names.
type Item struct {
	ID         string `json:"id"`
	RegistryID string `json:"registry_id"`

	ItemName    string   `json:"item_name"`
	PriceLabel  string   `json:"price_label,omitempty"`
	PriceAmount *float64 `json:"price_amount"`
	Merchant    string   `json:"merchant,omitempty"`

	ItemURL      string `json:"item_url,omitempty"`
	CanonicalURL string `json:"canonical_url,omitempty"`
	ImageURL     string `json:"image_url,omitempty"`
	Description  string `json:"description,omitempty"`
	Notes        string `json:"notes,omitempty"`
	Availability string `json:"availability,omitempty"`

	QuantityNeeded    int    `json:"quantity_needed"`
	QuantityPurchased int    `json:"quantity_purchased"`
	PurchaserName     string `json:"purchaser_name,omitempty"`
	PurchaseStatus    string `json:"purchase_status"`
	HideWhenPurchased bool   `json:"hide_when_purchased"`
	Priority          string `json:"priority"`
	SortOrder         int    `json:"sort_order"`

	MetadataLastCheckedAt *time.Time `json:"metadata_last_checked_at"`
	NextRefreshAt         *time.Time `json:"next_refresh_at"`
	LastAutoRefreshedAt   *time.Time `json:"last_auto_refreshed_at"`
	RefreshFailCount      int        `json:"refresh_fail_count"`
	MetadataFetchStatus   string     `json:"metadata_fetch_status,omitempty"`
	MetadataConfidence    string     `json:"metadata_confidence,omitempty"`

	PreviousPriceAmount *float64   `json:"previous_price_amount"`
	PriceLastChangedAt  *time.Time `json:"price_last_changed_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toItem(m storage.RegistryItem) Item {
	return Item{
		ID:                    m.ID,
		RegistryID:            m.RegistryID,
		ItemName:              m.ItemName,
		PriceLabel:            m.PriceLabel,
		PriceAmount:           m.PriceAmount,
		Merchant:              m.Merchant,
		ItemURL:               m.ItemURL,
		CanonicalURL:          m.CanonicalURL,
		ImageURL:              m.ImageURL,
		Description:           m.Description,
		Notes:                 m.Notes,
		Availability:          m.Availability,
		QuantityNeeded:        m.QuantityNeeded,
		QuantityPurchased:     m.QuantityPurchased,
		PurchaserName:         m.PurchaserName,
		PurchaseStatus:        m.PurchaseStatus,
		HideWhenPurchased:     m.HideWhenPurchased,
		Priority:              m.Priority,
		SortOrder:             m.SortOrder,
		MetadataLastCheckedAt: m.MetadataLastCheckedAt,
		NextRefreshAt:         m.NextRefreshAt,
		LastAutoRefreshedAt:   m.LastAutoRefreshedAt,
		RefreshFailCount:      m.RefreshFailCount,
		MetadataFetchStatus:   m.MetadataFetchStatus,
		MetadataConfidence:    m.MetadataConfidence,
		PreviousPriceAmount:   m.PreviousPriceAmount,
		PriceLastChangedAt:    m.PriceLastChangedAt,
		CreatedAt:             m.CreatedAt,
		UpdatedAt:             m.UpdatedAt,
	}
}

func toItems(ms []storage.RegistryItem) []Item {
	items := make([]Item, len(ms))
	for i, m := range ms {
		items[i] = toItem(m)
	}
	return items
}
