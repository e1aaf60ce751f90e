// Package dedupe detects duplicate registry entries before they are created.
package dedupe

import (
	"strings"

	"github.com/perlow/giftsync/internal/storage"
)

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// FindDuplicate scans existing items in order and returns the first one
// matching the candidate URL or title: canonical URL equality first, then
// the URL as entered, then the exact normalized title. First match wins,
// not best match. excludeID skips the item being edited; pass "" when
// adding. Returns nil when nothing matches.
func FindDuplicate(url, title string, existing []storage.RegistryItem, excludeID string) *storage.RegistryItem {
	normURL := normalize(url)
	normTitle := normalize(title)

	for i := range existing {
		item := &existing[i]
		if excludeID != "" && item.ID == excludeID {
			continue
		}
		if normURL != "" && normalize(item.CanonicalURL) == normURL {
			return item
		}
		if normURL != "" && normalize(item.ItemURL) == normURL {
			return item
		}
		if normTitle != "" && normalize(item.ItemName) == normTitle {
			return item
		}
	}
	return nil
}
