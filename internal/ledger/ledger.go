// Package ledger tracks purchase progress for registry items.
package ledger

import (
	"fmt"

	"github.com/perlow/giftsync/internal/storage"
)

// StatusFor derives the purchase status from quantities. It is the single
// source of truth: purchase_status is never set independently of these two
// numbers.
func StatusFor(purchased, needed int) string {
	switch {
	case needed > 0 && purchased >= needed:
		return storage.PurchasePurchased
	case purchased > 0:
		return storage.PurchasePartial
	default:
		return storage.PurchaseAvailable
	}
}

// Apply increments the purchased quantity, clamped so purchases never
// exceed demand even when multiple guests race, and recomputes the status.
// Pure: returns the updated copy without persisting.
func Apply(item storage.RegistryItem, incrementBy int) storage.RegistryItem {
	newQty := item.QuantityPurchased + incrementBy
	if newQty > item.QuantityNeeded {
		newQty = item.QuantityNeeded
	}
	item.QuantityPurchased = newQty
	item.PurchaseStatus = StatusFor(newQty, item.QuantityNeeded)
	return item
}

// ItemStore is the slice of the backing store the ledger needs.
type ItemStore interface {
	GetItem(id string) (storage.RegistryItem, error)
	UpdateItem(item storage.RegistryItem) error
}

// Recorder persists purchase recordings through the backing store.
type Recorder struct {
	store ItemStore
}

func NewRecorder(store ItemStore) *Recorder {
	return &Recorder{store: store}
}

// RecordPurchase applies an increment to the item and persists the result.
// purchaserName, when non-empty, replaces the stored purchaser. Store write
// failures propagate; there is no retry here.
func (r *Recorder) RecordPurchase(id string, incrementBy int, purchaserName string) (storage.RegistryItem, error) {
	if incrementBy < 1 {
		return storage.RegistryItem{}, fmt.Errorf("increment must be at least 1, got %d", incrementBy)
	}

	item, err := r.store.GetItem(id)
	if err != nil {
		return storage.RegistryItem{}, fmt.Errorf("loading item %s: %w", id, err)
	}

	item = Apply(item, incrementBy)
	if purchaserName != "" {
		item.PurchaserName = purchaserName
	}

	if err := r.store.UpdateItem(item); err != nil {
		return storage.RegistryItem{}, fmt.Errorf("saving purchase for item %s: %w", id, err)
	}
	return item, nil
}
