package refresh

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/perlow/giftsync/internal/confidence"
	"github.com/perlow/giftsync/internal/dedupe"
	"github.com/perlow/giftsync/internal/freshness"
	"github.com/perlow/giftsync/internal/ledger"
	"github.com/perlow/giftsync/internal/storage"
)

// importCap bounds how many URLs one import call will process.
const importCap = 30

// ImportSummary reports the outcome of a bulk URL import.
type ImportSummary struct {
	Attempted int `json:"attempted"`
	Created   int `json:"created"`
	Skipped   int `json:"skipped"` // duplicates of existing items
	Failed    int `json:"failed"`
	Truncated int `json:"truncated"` // URLs dropped beyond the cap
}

// ImportURLs creates registry items from a list of product URLs: one
// preview call per URL, sequentially. Input URLs are deduplicated by exact
// string and truncated to the cap; URLs that already exist in the registry
// are skipped. A failure on one URL is swallowed and the import moves on,
// so the caller can report partial success.
func (o *Orchestrator) ImportURLs(ctx context.Context, registryID string, urls []string, now time.Time) (ImportSummary, error) {
	var summary ImportSummary

	seen := make(map[string]bool, len(urls))
	var unique []string
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		unique = append(unique, u)
	}
	if len(unique) > importCap {
		summary.Truncated = len(unique) - importCap
		unique = unique[:importCap]
	}

	existing, err := o.store.ListItems(registryID, "", "")
	if err != nil {
		return summary, err
	}
	sortOrder, err := o.store.MaxSortOrder(registryID)
	if err != nil {
		return summary, err
	}

	for _, rawURL := range unique {
		if ctx.Err() != nil {
			break
		}
		summary.Attempted++

		if dup := dedupe.FindDuplicate(rawURL, "", existing, ""); dup != nil {
			summary.Skipped++
			continue
		}

		result, err := o.previews.Fetch(ctx, rawURL, false)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				summary.Attempted--
				break
			}
			o.logger.Warn("import preview failed", "url", rawURL, "error", err)
			summary.Failed++
			continue
		}

		name := result.Title
		if name == "" {
			name = hostOf(rawURL)
		}

		sortOrder++
		item := storage.RegistryItem{
			ID:                  uuid.New().String(),
			RegistryID:          registryID,
			ItemName:            name,
			PriceLabel:          result.PriceLabel,
			PriceAmount:         result.PriceAmount,
			Merchant:            result.Merchant,
			ItemURL:             rawURL,
			CanonicalURL:        result.CanonicalURL,
			ImageURL:            result.ImageURL,
			Availability:        result.Availability,
			QuantityNeeded:      1,
			PurchaseStatus:      ledger.StatusFor(0, 1),
			Priority:            "medium",
			SortOrder:           sortOrder,
			MetadataFetchStatus: result.FetchStatus,
			MetadataConfidence:  string(confidence.Classify(result)),
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		checked := now
		item.MetadataLastCheckedAt = &checked
		next := now.Add(freshness.RefreshInterval)
		item.NextRefreshAt = &next

		if err := o.store.CreateItem(item); err != nil {
			o.logger.Error("creating imported item", "url", rawURL, "error", err)
			summary.Failed++
			continue
		}
		existing = append(existing, item)
		summary.Created++
	}

	o.logger.Info("bulk import finished",
		"registry", registryID,
		"attempted", summary.Attempted,
		"created", summary.Created,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
	)
	return summary, nil
}

// hostOf extracts a display name from a URL when no title was found.
func hostOf(rawURL string) string {
	withScheme := rawURL
	if !strings.Contains(withScheme, "://") {
		withScheme = "https://" + withScheme
	}
	u, err := url.Parse(withScheme)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return strings.TrimPrefix(u.Host, "www.")
}
