package storage

import (
	"errors"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testItem(id string) RegistryItem {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return RegistryItem{
		ID:             id,
		RegistryID:     "default",
		ItemName:       "item " + id,
		ItemURL:        "https://shop.example.com/" + id,
		QuantityNeeded: 1,
		PurchaseStatus: PurchaseAvailable,
		Priority:       "medium",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestCreateAndGetItem(t *testing.T) {
	s := newTestStore(t)

	item := testItem("a")
	price := 129.99
	item.PriceAmount = &price
	checked := time.Date(2026, 8, 10, 9, 30, 0, 0, time.UTC)
	item.MetadataLastCheckedAt = &checked
	item.Notes = "for the kitchen"

	if err := s.CreateItem(item); err != nil {
		t.Fatalf("creating item: %v", err)
	}

	got, err := s.GetItem("a")
	if err != nil {
		t.Fatalf("getting item: %v", err)
	}
	if got.ItemName != "item a" {
		t.Errorf("ItemName = %q", got.ItemName)
	}
	if got.PriceAmount == nil || *got.PriceAmount != 129.99 {
		t.Errorf("PriceAmount = %v, want 129.99", got.PriceAmount)
	}
	if got.MetadataLastCheckedAt == nil || !got.MetadataLastCheckedAt.Equal(checked) {
		t.Errorf("MetadataLastCheckedAt = %v, want %v", got.MetadataLastCheckedAt, checked)
	}
	if got.NextRefreshAt != nil {
		t.Errorf("NextRefreshAt = %v, want nil", got.NextRefreshAt)
	}
	if got.Notes != "for the kitchen" {
		t.Errorf("Notes = %q", got.Notes)
	}
	if !got.CreatedAt.Equal(item.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, item.CreatedAt)
	}
}

func TestGetItemNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetItem("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestListItemsFilters(t *testing.T) {
	s := newTestStore(t)

	a := testItem("a")
	a.ItemName = "Stand Mixer"
	a.Merchant = "kitchenshop"
	a.SortOrder = 1

	b := testItem("b")
	b.ItemName = "Wine Glasses"
	b.PurchaseStatus = PurchasePurchased
	b.SortOrder = 0

	other := testItem("c")
	other.RegistryID = "other"

	for _, item := range []RegistryItem{a, b, other} {
		if err := s.CreateItem(item); err != nil {
			t.Fatalf("creating item: %v", err)
		}
	}

	// Scoped to the registry, ordered by sort_order.
	items, err := s.ListItems("default", "", "")
	if err != nil {
		t.Fatalf("listing: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len = %d, want 2", len(items))
	}
	if items[0].ID != "b" || items[1].ID != "a" {
		t.Errorf("order = %s, %s, want b, a", items[0].ID, items[1].ID)
	}

	// Status filter.
	items, err = s.ListItems("default", PurchasePurchased, "")
	if err != nil {
		t.Fatalf("listing by status: %v", err)
	}
	if len(items) != 1 || items[0].ID != "b" {
		t.Errorf("status filter returned %d items", len(items))
	}

	// "all" is a no-op filter.
	items, err = s.ListItems("default", "all", "")
	if err != nil {
		t.Fatalf("listing all: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("status=all returned %d items, want 2", len(items))
	}

	// Search matches name or merchant, case-insensitively.
	items, err = s.ListItems("default", "", "MIXER")
	if err != nil {
		t.Fatalf("searching: %v", err)
	}
	if len(items) != 1 || items[0].ID != "a" {
		t.Errorf("search by name returned %d items", len(items))
	}
	items, err = s.ListItems("default", "", "kitchen")
	if err != nil {
		t.Fatalf("searching: %v", err)
	}
	if len(items) != 1 || items[0].ID != "a" {
		t.Errorf("search by merchant returned %d items", len(items))
	}
}

func TestUpdateItem(t *testing.T) {
	s := newTestStore(t)

	item := testItem("a")
	if err := s.CreateItem(item); err != nil {
		t.Fatalf("creating item: %v", err)
	}

	item.ItemName = "renamed"
	item.QuantityPurchased = 1
	item.PurchaseStatus = PurchasePurchased
	item.RefreshFailCount = 2
	next := time.Date(2026, 8, 16, 0, 0, 0, 0, time.UTC)
	item.NextRefreshAt = &next
	if err := s.UpdateItem(item); err != nil {
		t.Fatalf("updating item: %v", err)
	}

	got, err := s.GetItem("a")
	if err != nil {
		t.Fatalf("getting item: %v", err)
	}
	if got.ItemName != "renamed" || got.RefreshFailCount != 2 {
		t.Errorf("update not persisted: %q/%d", got.ItemName, got.RefreshFailCount)
	}
	if got.NextRefreshAt == nil || !got.NextRefreshAt.Equal(next) {
		t.Errorf("NextRefreshAt = %v, want %v", got.NextRefreshAt, next)
	}
	if !got.UpdatedAt.After(item.CreatedAt) {
		t.Errorf("UpdatedAt = %v, want stamped past creation", got.UpdatedAt)
	}

	missing := testItem("nope")
	if err := s.UpdateItem(missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("updating missing item = %v, want ErrNotFound", err)
	}
}

func TestDeleteItem(t *testing.T) {
	s := newTestStore(t)

	if err := s.CreateItem(testItem("a")); err != nil {
		t.Fatalf("creating item: %v", err)
	}
	if err := s.DeleteItem("a"); err != nil {
		t.Fatalf("deleting item: %v", err)
	}
	if _, err := s.GetItem("a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("item still present after delete")
	}
	if err := s.DeleteItem("a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete = %v, want ErrNotFound", err)
	}
}

func TestMaxSortOrder(t *testing.T) {
	s := newTestStore(t)

	if max, err := s.MaxSortOrder("default"); err != nil || max != -1 {
		t.Errorf("MaxSortOrder on empty registry = %d, %v, want -1", max, err)
	}

	a := testItem("a")
	a.SortOrder = 7
	if err := s.CreateItem(a); err != nil {
		t.Fatalf("creating item: %v", err)
	}
	if max, err := s.MaxSortOrder("default"); err != nil || max != 7 {
		t.Errorf("MaxSortOrder = %d, %v, want 7", max, err)
	}
}

func TestReorderItems(t *testing.T) {
	s := newTestStore(t)

	for i, id := range []string{"a", "b", "c"} {
		item := testItem(id)
		item.SortOrder = i
		if err := s.CreateItem(item); err != nil {
			t.Fatalf("creating item: %v", err)
		}
	}

	if err := s.ReorderItems("default", []string{"c", "a", "b"}); err != nil {
		t.Fatalf("reordering: %v", err)
	}

	items, err := s.ListItems("default", "", "")
	if err != nil {
		t.Fatalf("listing: %v", err)
	}
	got := []string{items[0].ID, items[1].ID, items[2].ID}
	want := []string{"c", "a", "b"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestListRegistryIDs(t *testing.T) {
	s := newTestStore(t)

	if err := s.CreateItem(testItem("a")); err != nil {
		t.Fatalf("creating item: %v", err)
	}
	if _, err := s.EnsureSettings("honeymoon"); err != nil {
		t.Fatalf("ensuring settings: %v", err)
	}

	ids, err := s.ListRegistryIDs()
	if err != nil {
		t.Fatalf("listing registries: %v", err)
	}
	want := []string{"default", "honeymoon"}
	if len(ids) != 2 || ids[0] != want[0] || ids[1] != want[1] {
		t.Errorf("ids = %v, want %v", ids, want)
	}
}

func TestEnsureSettingsDefaults(t *testing.T) {
	s := newTestStore(t)

	st, err := s.EnsureSettings("default")
	if err != nil {
		t.Fatalf("ensuring settings: %v", err)
	}
	if !st.AutoRefreshEnabled {
		t.Error("auto refresh should default to enabled")
	}
	if st.BudgetCap != DefaultBudgetCap {
		t.Errorf("BudgetCap = %d, want %d", st.BudgetCap, DefaultBudgetCap)
	}
	if st.BudgetMonthKey != "" || st.BudgetCallCount != 0 {
		t.Errorf("budget state = %q/%d, want empty", st.BudgetMonthKey, st.BudgetCallCount)
	}

	// Idempotent.
	again, err := s.EnsureSettings("default")
	if err != nil {
		t.Fatalf("ensuring settings again: %v", err)
	}
	if again != st {
		t.Errorf("second ensure = %+v, want %+v", again, st)
	}
}

func TestUpdateSettings(t *testing.T) {
	s := newTestStore(t)

	st, err := s.EnsureSettings("default")
	if err != nil {
		t.Fatalf("ensuring settings: %v", err)
	}

	wedding := time.Date(2026, 10, 3, 0, 0, 0, 0, time.UTC)
	st.AutoRefreshEnabled = false
	st.WeddingDate = &wedding
	st.BudgetCap = 500
	if err := s.UpdateSettings(st); err != nil {
		t.Fatalf("updating settings: %v", err)
	}

	got, err := s.GetSettings("default")
	if err != nil {
		t.Fatalf("getting settings: %v", err)
	}
	if got.AutoRefreshEnabled {
		t.Error("AutoRefreshEnabled not persisted")
	}
	if got.WeddingDate == nil || !got.WeddingDate.Equal(wedding) {
		t.Errorf("WeddingDate = %v, want %v", got.WeddingDate, wedding)
	}
	if got.BudgetCap != 500 {
		t.Errorf("BudgetCap = %d, want 500", got.BudgetCap)
	}
}

func TestUpdateSettingsClampsCap(t *testing.T) {
	s := newTestStore(t)

	st, err := s.EnsureSettings("default")
	if err != nil {
		t.Fatalf("ensuring settings: %v", err)
	}

	st.BudgetCap = 5
	if err := s.UpdateSettings(st); err != nil {
		t.Fatalf("updating settings: %v", err)
	}
	got, _ := s.GetSettings("default")
	if got.BudgetCap != MinBudgetCap {
		t.Errorf("BudgetCap = %d, want clamped to %d", got.BudgetCap, MinBudgetCap)
	}

	st.BudgetCap = 99999
	if err := s.UpdateSettings(st); err != nil {
		t.Fatalf("updating settings: %v", err)
	}
	got, _ = s.GetSettings("default")
	if got.BudgetCap != MaxBudgetCap {
		t.Errorf("BudgetCap = %d, want clamped to %d", got.BudgetCap, MaxBudgetCap)
	}
}

func TestRolloverBudgetMonth(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.EnsureSettings("default"); err != nil {
		t.Fatalf("ensuring settings: %v", err)
	}
	if err := s.RolloverBudgetMonth("default", "2026-08"); err != nil {
		t.Fatalf("rolling over: %v", err)
	}
	if err := s.AddBudgetUsage("default", "2026-08", 7); err != nil {
		t.Fatalf("adding usage: %v", err)
	}

	st, _ := s.GetSettings("default")
	if st.BudgetMonthKey != "2026-08" || st.BudgetCallCount != 7 {
		t.Errorf("state = %q/%d, want 2026-08/7", st.BudgetMonthKey, st.BudgetCallCount)
	}

	// Same month again: counter untouched.
	if err := s.RolloverBudgetMonth("default", "2026-08"); err != nil {
		t.Fatalf("rolling over same month: %v", err)
	}
	st, _ = s.GetSettings("default")
	if st.BudgetCallCount != 7 {
		t.Errorf("call count = %d after same-month rollover, want 7", st.BudgetCallCount)
	}

	// New month: counter resets.
	if err := s.RolloverBudgetMonth("default", "2026-09"); err != nil {
		t.Fatalf("rolling over new month: %v", err)
	}
	st, _ = s.GetSettings("default")
	if st.BudgetMonthKey != "2026-09" || st.BudgetCallCount != 0 {
		t.Errorf("state = %q/%d, want 2026-09/0", st.BudgetMonthKey, st.BudgetCallCount)
	}
}

func TestAddBudgetUsageStaleMonth(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.EnsureSettings("default"); err != nil {
		t.Fatalf("ensuring settings: %v", err)
	}
	if err := s.RolloverBudgetMonth("default", "2026-09"); err != nil {
		t.Fatalf("rolling over: %v", err)
	}

	// Usage recorded against the old month must not land in the new one.
	if err := s.AddBudgetUsage("default", "2026-08", 5); err != nil {
		t.Fatalf("adding usage: %v", err)
	}
	st, _ := s.GetSettings("default")
	if st.BudgetCallCount != 0 {
		t.Errorf("call count = %d, want 0", st.BudgetCallCount)
	}
}
