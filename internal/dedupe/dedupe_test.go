package dedupe

import (
	"testing"

	"github.com/perlow/giftsync/internal/storage"
)

func TestFindDuplicateByCanonicalURL(t *testing.T) {
	existing := []storage.RegistryItem{
		{ID: "a", ItemName: "Mixer", CanonicalURL: "https://shop.example.com/mixer"},
	}

	got := FindDuplicate("https://SHOP.example.com/mixer", "", existing, "")
	if got == nil || got.ID != "a" {
		t.Fatalf("FindDuplicate = %v, want item a via canonical URL", got)
	}
}

func TestFindDuplicateByItemURL(t *testing.T) {
	existing := []storage.RegistryItem{
		{ID: "a", ItemName: "Mixer", ItemURL: "https://shop.example.com/mixer?ref=abc"},
	}

	got := FindDuplicate("  https://shop.example.com/mixer?ref=abc ", "", existing, "")
	if got == nil || got.ID != "a" {
		t.Fatalf("FindDuplicate = %v, want item a via entered URL", got)
	}
}

func TestFindDuplicateByTitle(t *testing.T) {
	existing := []storage.RegistryItem{
		{ID: "a", ItemName: "Stand Mixer"},
		{ID: "b", ItemName: "Wine Glasses"},
	}

	got := FindDuplicate("", "  stand mixer ", existing, "")
	if got == nil || got.ID != "a" {
		t.Fatalf("FindDuplicate = %v, want item a via title", got)
	}
}

func TestFindDuplicateFirstMatchWins(t *testing.T) {
	// The first item matches by title, a later one by URL. Scanning is in
	// order, so the title match wins.
	existing := []storage.RegistryItem{
		{ID: "a", ItemName: "Mixer"},
		{ID: "b", ItemName: "Other", ItemURL: "https://shop.example.com/mixer"},
	}

	got := FindDuplicate("https://shop.example.com/mixer", "Mixer", existing, "")
	if got == nil || got.ID != "a" {
		t.Fatalf("FindDuplicate = %v, want first matching item a", got)
	}
}

func TestFindDuplicateExcludesSelf(t *testing.T) {
	existing := []storage.RegistryItem{
		{ID: "a", ItemName: "Mixer", ItemURL: "https://shop.example.com/mixer"},
	}

	if got := FindDuplicate("https://shop.example.com/mixer", "Mixer", existing, "a"); got != nil {
		t.Errorf("FindDuplicate = %v, want nil when the only match is excluded", got)
	}
}

func TestFindDuplicateNoMatch(t *testing.T) {
	existing := []storage.RegistryItem{
		{ID: "a", ItemName: "Mixer", ItemURL: "https://shop.example.com/mixer"},
	}

	if got := FindDuplicate("https://other.example.com/pan", "Cast Iron Pan", existing, ""); got != nil {
		t.Errorf("FindDuplicate = %v, want nil", got)
	}
	if got := FindDuplicate("", "", existing, ""); got != nil {
		t.Errorf("FindDuplicate with empty inputs = %v, want nil", got)
	}
}
