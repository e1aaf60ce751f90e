// Package refresh drives metadata refresh cycles and bulk URL imports for
// registry items, under the budget gate and freshness policy.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/perlow/giftsync/internal/budget"
	"github.com/perlow/giftsync/internal/confidence"
	"github.com/perlow/giftsync/internal/freshness"
	"github.com/perlow/giftsync/internal/preview"
	"github.com/perlow/giftsync/internal/storage"
)

// Mode selects the candidate predicate for a refresh cycle.
type Mode string

const (
	ModeScheduled  Mode = "scheduled"
	ModeAlertsOnly Mode = "alerts_only"
)

// maxPerCycle bounds the latency of one cycle regardless of remaining
// budget.
const maxPerCycle = 12

// Cycle outcomes. Window-closed and budget-exhausted are deliberate
// no-ops, not errors.
const (
	OutcomeRan             = "ran"
	OutcomeWindowClosed    = "window_closed"
	OutcomeBudgetExhausted = "budget_exhausted"
)

// Summary reports what a cycle did.
type Summary struct {
	Outcome   string `json:"outcome"`
	Attempted int    `json:"attempted"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
}

// Store is the slice of the backing store the orchestrator needs.
type Store interface {
	ListItems(registryID, status, search string) ([]storage.RegistryItem, error)
	GetItem(id string) (storage.RegistryItem, error)
	CreateItem(item storage.RegistryItem) error
	UpdateItem(item storage.RegistryItem) error
	MaxSortOrder(registryID string) (int, error)
}

// Fetcher abstracts the preview lookup client.
type Fetcher interface {
	Fetch(ctx context.Context, url string, forceRefresh bool) (preview.Result, error)
}

// Orchestrator runs refresh cycles: it selects due items within budget,
// drives the preview client sequentially, and applies results or failures.
type Orchestrator struct {
	store    Store
	previews Fetcher
	gate     *budget.Gate
	logger   *slog.Logger
}

func NewOrchestrator(store Store, previews Fetcher, gate *budget.Gate) *Orchestrator {
	return &Orchestrator{
		store:    store,
		previews: previews,
		gate:     gate,
		logger:   slog.Default(),
	}
}

// RunCycle refreshes due items of a registry. Items are processed one at a
// time: the lookup service is rate-limited per caller and sequential
// processing keeps budget accounting exact. Per-item failures are recorded
// on the item and the cycle continues; the returned error covers only
// cycle-level store problems.
func (o *Orchestrator) RunCycle(ctx context.Context, registryID string, mode Mode, now time.Time) (Summary, error) {
	allowed, st, err := o.gate.Admit(registryID, math.MaxInt, now)
	if err != nil {
		return Summary{}, err
	}
	if !budget.WindowOpen(st, now) {
		return Summary{Outcome: OutcomeWindowClosed}, nil
	}
	if allowed <= 0 {
		return Summary{Outcome: OutcomeBudgetExhausted}, nil
	}

	items, err := o.store.ListItems(registryID, "", "")
	if err != nil {
		return Summary{}, fmt.Errorf("listing items for %s: %w", registryID, err)
	}

	due := func(item storage.RegistryItem) bool {
		return freshness.IsDue(item, now)
	}
	if mode == ModeAlertsOnly {
		due = func(item storage.RegistryItem) bool {
			return freshness.IsDueForAlerts(item, now)
		}
	}

	limit := maxPerCycle
	if allowed < limit {
		limit = allowed
	}

	var candidates []storage.RegistryItem
	for _, item := range items {
		if len(candidates) >= limit {
			break
		}
		if refreshURL(item) == "" {
			continue
		}
		if due(item) {
			candidates = append(candidates, item)
		}
	}

	summary := Summary{Outcome: OutcomeRan}
	for _, item := range candidates {
		// Cancellation is honored between items, never mid-item.
		if ctx.Err() != nil {
			break
		}

		ok, err := o.refreshOne(ctx, item, now)
		if err != nil && errors.Is(err, context.Canceled) {
			break
		}
		summary.Attempted++
		if ok {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}

	if err := o.gate.Consume(registryID, st.BudgetMonthKey, summary.Attempted); err != nil {
		return summary, err
	}

	o.logger.Info("refresh cycle finished",
		"registry", registryID,
		"mode", string(mode),
		"attempted", summary.Attempted,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
	)
	return summary, nil
}

// RefreshItem is the manual single-item path. It shares the cycle's window
// and budget gate but bypasses the due-check, and it surfaces the per-item
// failure to the caller instead of swallowing it.
func (o *Orchestrator) RefreshItem(ctx context.Context, itemID string, now time.Time) (storage.RegistryItem, Summary, error) {
	item, err := o.store.GetItem(itemID)
	if err != nil {
		return storage.RegistryItem{}, Summary{}, err
	}
	if refreshURL(item) == "" {
		return storage.RegistryItem{}, Summary{}, fmt.Errorf("item %s has no URL to refresh", itemID)
	}

	allowed, st, err := o.gate.Admit(item.RegistryID, 1, now)
	if err != nil {
		return storage.RegistryItem{}, Summary{}, err
	}
	if !budget.WindowOpen(st, now) {
		return item, Summary{Outcome: OutcomeWindowClosed}, nil
	}
	if allowed < 1 {
		return item, Summary{Outcome: OutcomeBudgetExhausted}, nil
	}

	ok, fetchErr := o.refreshOne(ctx, item, now)

	summary := Summary{Outcome: OutcomeRan, Attempted: 1}
	if ok {
		summary.Succeeded = 1
	} else {
		summary.Failed = 1
	}
	if err := o.gate.Consume(item.RegistryID, st.BudgetMonthKey, 1); err != nil {
		return storage.RegistryItem{}, summary, err
	}

	updated, err := o.store.GetItem(itemID)
	if err != nil {
		return storage.RegistryItem{}, summary, err
	}
	if fetchErr != nil {
		return updated, summary, fetchErr
	}
	return updated, summary, nil
}

// refreshOne fetches a preview for one item and persists the outcome.
// Returns whether the attempt succeeded, and the fetch/persist error for
// callers that surface it.
func (o *Orchestrator) refreshOne(ctx context.Context, item storage.RegistryItem, now time.Time) (bool, error) {
	result, err := o.previews.Fetch(ctx, refreshURL(item), true)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return false, err
		}
		status := preview.StatusError
		if errors.Is(err, context.DeadlineExceeded) {
			status = preview.StatusTimeout
		}
		o.logger.Warn("preview fetch failed",
			"item", item.ID, "url", refreshURL(item), "status", status, "error", err)
		if persistErr := o.failItem(item, status, now); persistErr != nil {
			o.logger.Error("recording fetch failure", "item", item.ID, "error", persistErr)
		}
		return false, err
	}

	if result.FetchStatus != preview.StatusSuccess {
		// Soft failure: the call returned but could not extract data.
		// Retried later with backoff, not surfaced as a hard error.
		if persistErr := o.failItem(item, result.FetchStatus, now); persistErr != nil {
			o.logger.Error("recording soft failure", "item", item.ID, "error", persistErr)
		}
		return false, nil
	}

	item = applyPreview(item, result, now)
	if err := o.store.UpdateItem(item); err != nil {
		o.logger.Error("persisting refreshed item", "item", item.ID, "error", err)
		return false, fmt.Errorf("persisting item %s: %w", item.ID, err)
	}
	return true, nil
}

// failItem records a failed attempt: bump the fail count, stamp the
// attempt, and push the next try out by the backoff delay.
func (o *Orchestrator) failItem(item storage.RegistryItem, status string, now time.Time) error {
	item.RefreshFailCount++
	item.MetadataFetchStatus = status
	item.MetadataConfidence = string(confidence.Manual)
	item.LastAutoRefreshedAt = &now
	next := now.Add(freshness.Backoff(item.RefreshFailCount))
	item.NextRefreshAt = &next
	return o.store.UpdateItem(item)
}

// applyPreview merges a successful preview into the item. The title is
// kept once a name exists; price, image, merchant, availability and
// canonical URL are always refreshed when the preview carries them. A
// price different from the stored one moves the old price into history.
func applyPreview(item storage.RegistryItem, result preview.Result, now time.Time) storage.RegistryItem {
	if item.ItemName == "" && result.Title != "" {
		item.ItemName = result.Title
	}
	if result.PriceLabel != "" {
		item.PriceLabel = result.PriceLabel
	}
	if result.PriceAmount != nil {
		if item.PriceAmount != nil && *item.PriceAmount != *result.PriceAmount {
			prev := *item.PriceAmount
			item.PreviousPriceAmount = &prev
			item.PriceLastChangedAt = &now
		}
		amount := *result.PriceAmount
		item.PriceAmount = &amount
	}
	if result.ImageURL != "" {
		item.ImageURL = result.ImageURL
	}
	if result.Merchant != "" {
		item.Merchant = result.Merchant
	}
	if result.Availability != "" {
		item.Availability = result.Availability
	}
	if result.CanonicalURL != "" {
		item.CanonicalURL = result.CanonicalURL
	}

	item.MetadataLastCheckedAt = &now
	next := now.Add(freshness.RefreshInterval)
	item.NextRefreshAt = &next
	item.LastAutoRefreshedAt = &now
	item.RefreshFailCount = 0
	item.MetadataFetchStatus = result.FetchStatus
	item.MetadataConfidence = string(confidence.Classify(result))
	return item
}

func refreshURL(item storage.RegistryItem) string {
	if item.CanonicalURL != "" {
		return item.CanonicalURL
	}
	return item.ItemURL
}
