package ledger

import (
	"errors"
	"testing"

	"github.com/perlow/giftsync/internal/storage"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		purchased, needed int
		want              string
	}{
		{0, 1, storage.PurchaseAvailable},
		{0, 4, storage.PurchaseAvailable},
		{1, 4, storage.PurchasePartial},
		{3, 4, storage.PurchasePartial},
		{4, 4, storage.PurchasePurchased},
		{5, 4, storage.PurchasePurchased},
		{1, 1, storage.PurchasePurchased},
		{0, 0, storage.PurchaseAvailable},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.purchased, tt.needed); got != tt.want {
			t.Errorf("StatusFor(%d, %d) = %q, want %q", tt.purchased, tt.needed, got, tt.want)
		}
	}
}

func TestApplyClampsToNeeded(t *testing.T) {
	item := storage.RegistryItem{QuantityNeeded: 2, QuantityPurchased: 1}

	got := Apply(item, 5)
	if got.QuantityPurchased != 2 {
		t.Errorf("QuantityPurchased = %d, want clamped to 2", got.QuantityPurchased)
	}
	if got.PurchaseStatus != storage.PurchasePurchased {
		t.Errorf("PurchaseStatus = %q, want purchased", got.PurchaseStatus)
	}

	// Apply never mutates its input.
	if item.QuantityPurchased != 1 {
		t.Errorf("input mutated: QuantityPurchased = %d", item.QuantityPurchased)
	}
}

func TestApplyPartial(t *testing.T) {
	item := storage.RegistryItem{QuantityNeeded: 8}

	got := Apply(item, 3)
	if got.QuantityPurchased != 3 {
		t.Errorf("QuantityPurchased = %d, want 3", got.QuantityPurchased)
	}
	if got.PurchaseStatus != storage.PurchasePartial {
		t.Errorf("PurchaseStatus = %q, want partial", got.PurchaseStatus)
	}
}

type fakeItemStore struct {
	item    storage.RegistryItem
	getErr  error
	updated *storage.RegistryItem
}

func (f *fakeItemStore) GetItem(id string) (storage.RegistryItem, error) {
	if f.getErr != nil {
		return storage.RegistryItem{}, f.getErr
	}
	return f.item, nil
}

func (f *fakeItemStore) UpdateItem(item storage.RegistryItem) error {
	f.updated = &item
	return nil
}

func TestRecordPurchase(t *testing.T) {
	store := &fakeItemStore{item: storage.RegistryItem{
		ID:             "item-1",
		QuantityNeeded: 2,
	}}
	rec := NewRecorder(store)

	got, err := rec.RecordPurchase("item-1", 1, "Sam")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.QuantityPurchased != 1 {
		t.Errorf("QuantityPurchased = %d, want 1", got.QuantityPurchased)
	}
	if got.PurchaserName != "Sam" {
		t.Errorf("PurchaserName = %q, want Sam", got.PurchaserName)
	}
	if store.updated == nil {
		t.Fatal("purchase was not persisted")
	}
	if store.updated.PurchaseStatus != storage.PurchasePartial {
		t.Errorf("persisted status = %q, want partial", store.updated.PurchaseStatus)
	}
}

func TestRecordPurchaseKeepsPurchaserWhenEmpty(t *testing.T) {
	store := &fakeItemStore{item: storage.RegistryItem{
		ID:             "item-1",
		QuantityNeeded: 4,
		PurchaserName:  "Alex",
	}}
	rec := NewRecorder(store)

	got, err := rec.RecordPurchase("item-1", 1, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.PurchaserName != "Alex" {
		t.Errorf("PurchaserName = %q, empty input must not clear the stored name", got.PurchaserName)
	}
}

func TestRecordPurchaseRejectsBadIncrement(t *testing.T) {
	rec := NewRecorder(&fakeItemStore{})

	if _, err := rec.RecordPurchase("item-1", 0, ""); err == nil {
		t.Error("expected error for zero increment")
	}
	if _, err := rec.RecordPurchase("item-1", -3, ""); err == nil {
		t.Error("expected error for negative increment")
	}
}

func TestRecordPurchaseNotFound(t *testing.T) {
	store := &fakeItemStore{getErr: storage.ErrNotFound}
	rec := NewRecorder(store)

	_, err := rec.RecordPurchase("missing", 1, "")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("error = %v, want wrapped ErrNotFound", err)
	}
}
