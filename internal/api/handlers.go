package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/perlow/giftsync/internal/dedupe"
	"github.com/perlow/giftsync/internal/ledger"
	"github.com/perlow/giftsync/internal/preview"
	"github.com/perlow/giftsync/internal/refresh"
	"github.com/perlow/giftsync/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// DefaultRegistry is used when a request does not name a registry.
const DefaultRegistry = "default"

// AppDeps holds the dependencies of the registry API.
type AppDeps struct {
	Store  *storage.Store
	Orch   *refresh.Orchestrator
	Ledger *ledger.Recorder
	Token  string
}

// NewAppHandler builds the registry management router. Everything except
// /health requires the bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/items", handleListItems(deps))
		r.Post("/items", handleCreateItem(deps))
		r.Post("/items/reorder", handleReorderItems(deps))
		r.Get("/items/{id}", handleGetItem(deps))
		r.Patch("/items/{id}", handlePatchItem(deps))
		r.Delete("/items/{id}", handleDeleteItem(deps))
		r.Post("/items/{id}/purchase", handlePurchase(deps))
		r.Post("/items/{id}/refresh", handleRefreshItem(deps))
		r.Post("/refresh", handleRunCycle(deps))
		r.Post("/import", handleImport(deps))
		r.Get("/settings", handleGetSettings(deps))
		r.Patch("/settings", handlePatchSettings(deps))
	})

	return r
}

func registryParam(r *http.Request) string {
	if reg := r.URL.Query().Get("registry"); reg != "" {
		return reg
	}
	return DefaultRegistry
}

func handleListItems(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := r.URL.Query().Get("status")
		search := r.URL.Query().Get("search")

		items, err := deps.Store.ListItems(registryParam(r), status, search)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list items: %v", err)
			return
		}
		if items == nil {
			items = []storage.RegistryItem{}
		}
		writeJSON(w, toItems(items))
	}
}

type createItemRequest struct {
	RegistryID        string   `json:"registry_id"`
	ItemName          string   `json:"item_name"`
	ItemURL           string   `json:"item_url"`
	PriceLabel        string   `json:"price_label"`
	PriceAmount       *float64 `json:"price_amount"`
	Merchant          string   `json:"merchant"`
	ImageURL          string   `json:"image_url"`
	Description       string   `json:"description"`
	Notes             string   `json:"notes"`
	QuantityNeeded    int      `json:"quantity_needed"`
	HideWhenPurchased bool     `json:"hide_when_purchased"`
	Priority          string   `json:"priority"`
}

func handleCreateItem(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req createItemRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.ItemName == "" && req.ItemURL == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "at least one of item_name or item_url is required")
			return
		}
		if req.RegistryID == "" {
			req.RegistryID = DefaultRegistry
		}
		if req.QuantityNeeded < 1 {
			req.QuantityNeeded = 1
		}
		if req.Priority == "" {
			req.Priority = "medium"
		}

		existing, err := deps.Store.ListItems(req.RegistryID, "", "")
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to check duplicates: %v", err)
			return
		}
		if dup := dedupe.FindDuplicate(req.ItemURL, req.ItemName, existing, ""); dup != nil {
			httpError(w, http.StatusConflict, "duplicate_item", "already on the registry as %q (%s)", dup.ItemName, dup.ID)
			return
		}

		maxOrder, err := deps.Store.MaxSortOrder(req.RegistryID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read sort order: %v", err)
			return
		}

		now := time.Now().UTC()
		item := storage.RegistryItem{
			ID:                uuid.New().String(),
			RegistryID:        req.RegistryID,
			ItemName:          req.ItemName,
			PriceLabel:        req.PriceLabel,
			PriceAmount:       req.PriceAmount,
			Merchant:          req.Merchant,
			ItemURL:           req.ItemURL,
			ImageURL:          req.ImageURL,
			Description:       req.Description,
			Notes:             req.Notes,
			QuantityNeeded:    req.QuantityNeeded,
			PurchaseStatus:    ledger.StatusFor(0, req.QuantityNeeded),
			HideWhenPurchased: req.HideWhenPurchased,
			Priority:          req.Priority,
			SortOrder:         maxOrder + 1,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := deps.Store.CreateItem(item); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create item: %v", err)
			return
		}
		w.WriteHeader(http.StatusCreated)
		writeJSON(w, toItem(item))
	}
}

func handleGetItem(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		item, err := deps.Store.GetItem(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "item not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get item: %v", err)
			return
		}
		writeJSON(w, toItem(item))
	}
}

type patchItemRequest struct {
	ItemName          *string  `json:"item_name"`
	ItemURL           *string  `json:"item_url"`
	PriceLabel        *string  `json:"price_label"`
	PriceAmount       *float64 `json:"price_amount"`
	Merchant          *string  `json:"merchant"`
	ImageURL          *string  `json:"image_url"`
	Description       *string  `json:"description"`
	Notes             *string  `json:"notes"`
	QuantityNeeded    *int     `json:"quantity_needed"`
	HideWhenPurchased *bool    `json:"hide_when_purchased"`
	Priority          *string  `json:"priority"`
}

func handlePatchItem(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req patchItemRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		item, err := deps.Store.GetItem(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "item not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get item: %v", err)
			return
		}

		if req.ItemName != nil {
			item.ItemName = *req.ItemName
		}
		if req.ItemURL != nil {
			item.ItemURL = *req.ItemURL
		}
		if req.PriceLabel != nil {
			item.PriceLabel = *req.PriceLabel
		}
		if req.PriceAmount != nil {
			item.PriceAmount = req.PriceAmount
		}
		if req.Merchant != nil {
			item.Merchant = *req.Merchant
		}
		if req.ImageURL != nil {
			item.ImageURL = *req.ImageURL
		}
		if req.Description != nil {
			item.Description = *req.Description
		}
		if req.Notes != nil {
			item.Notes = *req.Notes
		}
		if req.HideWhenPurchased != nil {
			item.HideWhenPurchased = *req.HideWhenPurchased
		}
		if req.Priority != nil {
			item.Priority = *req.Priority
		}
		if req.QuantityNeeded != nil {
			if *req.QuantityNeeded < 1 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "quantity_needed must be at least 1")
				return
			}
			item.QuantityNeeded = *req.QuantityNeeded
			if item.QuantityPurchased > item.QuantityNeeded {
				item.QuantityPurchased = item.QuantityNeeded
			}
			item.PurchaseStatus = ledger.StatusFor(item.QuantityPurchased, item.QuantityNeeded)
		}

		if err := deps.Store.UpdateItem(item); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update item: %v", err)
			return
		}
		writeJSON(w, toItem(item))
	}
}

func handleDeleteItem(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Store.DeleteItem(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "item not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete item: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "deleted"})
	}
}

type reorderRequest struct {
	RegistryID string   `json:"registry_id"`
	OrderedIDs []string `json:"ordered_ids"`
}

func handleReorderItems(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req reorderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(req.OrderedIDs) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "ordered_ids is required")
			return
		}
		if req.RegistryID == "" {
			req.RegistryID = DefaultRegistry
		}
		if err := deps.Store.ReorderItems(req.RegistryID, req.OrderedIDs); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to reorder items: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "reordered"})
	}
}

type purchaseRequest struct {
	IncrementBy   int    `json:"increment_by"`
	PurchaserName string `json:"purchaser_name"`
}

func handlePurchase(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req purchaseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.IncrementBy == 0 {
			req.IncrementBy = 1
		}
		if req.IncrementBy < 1 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "increment_by must be at least 1")
			return
		}

		item, err := deps.Ledger.RecordPurchase(chi.URLParam(r, "id"), req.IncrementBy, req.PurchaserName)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "item not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to record purchase: %v", err)
			return
		}
		writeJSON(w, toItem(item))
	}
}

type refreshItemResponse struct {
	Item    Item            `json:"item"`
	Summary refresh.Summary `json:"summary"`
}

func handleRefreshItem(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		item, summary, err := deps.Orch.RefreshItem(r.Context(), chi.URLParam(r, "id"), time.Now().UTC())
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "item not found")
			return
		}
		if errors.Is(err, preview.ErrAuthExpired) {
			httpError(w, http.StatusBadGateway, "authentication_error", "preview session expired: %v", err)
			return
		}
		if err != nil {
			// Manual refresh surfaces the per-call failure so the UI can
			// report it, unlike a batch cycle.
			httpError(w, http.StatusBadGateway, "api_error", "refresh failed: %v", err)
			return
		}
		writeJSON(w, refreshItemResponse{Item: toItem(item), Summary: summary})
	}
}

type runCycleRequest struct {
	RegistryID string `json:"registry_id"`
	Mode       string `json:"mode"`
}

func handleRunCycle(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req runCycleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.RegistryID == "" {
			req.RegistryID = DefaultRegistry
		}

		mode := refresh.ModeScheduled
		switch strings.ToLower(req.Mode) {
		case "", "scheduled":
		case "alerts", "alerts_only":
			mode = refresh.ModeAlertsOnly
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown mode %q", req.Mode)
			return
		}

		summary, err := deps.Orch.RunCycle(r.Context(), req.RegistryID, mode, time.Now().UTC())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "refresh cycle failed: %v", err)
			return
		}
		writeJSON(w, summary)
	}
}

type importRequest struct {
	RegistryID string   `json:"registry_id"`
	URLs       []string `json:"urls"`
}

func handleImport(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req importRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(req.URLs) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "urls is required")
			return
		}
		if req.RegistryID == "" {
			req.RegistryID = DefaultRegistry
		}

		summary, err := deps.Orch.ImportURLs(r.Context(), req.RegistryID, req.URLs, time.Now().UTC())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "import failed: %v", err)
			return
		}
		writeJSON(w, summary)
	}
}

// Settings is the wire representation of a registry's refresh policy and
// budget state.
type Settings struct {
	RegistryID         string     `json:"registry_id"`
	AutoRefreshEnabled bool       `json:"auto_refresh_enabled"`
	EnabledUntil       *time.Time `json:"enabled_until"`
	WeddingDate        *time.Time `json:"wedding_date"`
	BudgetMonthKey     string     `json:"budget_month_key"`
	BudgetCallCount    int        `json:"budget_call_count"`
	BudgetCap          int        `json:"budget_cap"`
}

func toSettings(st storage.RegistrySettings) Settings {
	return Settings{
		RegistryID:         st.RegistryID,
		AutoRefreshEnabled: st.AutoRefreshEnabled,
		EnabledUntil:       st.EnabledUntil,
		WeddingDate:        st.WeddingDate,
		BudgetMonthKey:     st.BudgetMonthKey,
		BudgetCallCount:    st.BudgetCallCount,
		BudgetCap:          st.BudgetCap,
	}
}

func handleGetSettings(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := deps.Store.EnsureSettings(registryParam(r))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load settings: %v", err)
			return
		}
		writeJSON(w, toSettings(st))
	}
}

type patchSettingsRequest struct {
	AutoRefreshEnabled *bool   `json:"auto_refresh_enabled"`
	EnabledUntil       *string `json:"enabled_until"` // RFC3339, "" clears
	WeddingDate        *string `json:"wedding_date"`  // RFC3339, "" clears
	BudgetCap          *int    `json:"budget_cap"`
}

func handlePatchSettings(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req patchSettingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		st, err := deps.Store.EnsureSettings(registryParam(r))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load settings: %v", err)
			return
		}

		if req.AutoRefreshEnabled != nil {
			st.AutoRefreshEnabled = *req.AutoRefreshEnabled
		}
		if req.EnabledUntil != nil {
			t, err := parseOptionalTime(*req.EnabledUntil)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid enabled_until: %v", err)
				return
			}
			st.EnabledUntil = t
		}
		if req.WeddingDate != nil {
			t, err := parseOptionalTime(*req.WeddingDate)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid wedding_date: %v", err)
				return
			}
			st.WeddingDate = t
		}
		if req.BudgetCap != nil {
			st.BudgetCap = storage.ClampBudgetCap(*req.BudgetCap)
		}

		if err := deps.Store.UpdateSettings(st); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save settings: %v", err)
			return
		}
		writeJSON(w, toSettings(st))
	}
}

// parseOptionalTime accepts RFC3339 or a bare date; "" clears the value.
func parseOptionalTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
