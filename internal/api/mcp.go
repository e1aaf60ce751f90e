package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/perlow/giftsync/internal/dedupe"
	"github.com/perlow/giftsync/internal/refresh"
	"github.com/perlow/giftsync/internal/storage"
)

// NewMCPServer creates an MCP server exposing the gift registry to agent
// clients: listing, purchase recording, metadata refresh and bulk import.
func NewMCPServer(deps AppDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"giftsync",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("giftsync: wedding gift registry with externally-synced product metadata."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_registry_items",
			mcp.WithDescription("List gift registry items, optionally filtered by purchase status or a search term."),
			mcp.WithString("registry", mcp.Description("Registry id (default: \"default\")")),
			mcp.WithString("status", mcp.Description("Filter: all, available, partial or purchased")),
			mcp.WithString("search", mcp.Description("Substring match on item name or merchant")),
		),
		mcpListItems(deps),
	)

	s.AddTool(
		mcp.NewTool("add_registry_item",
			mcp.WithDescription("Add an item to the gift registry. Duplicates (by URL or name) are rejected."),
			mcp.WithString("registry", mcp.Description("Registry id (default: \"default\")")),
			mcp.WithString("item_name", mcp.Description("Item name (required unless item_url is given)")),
			mcp.WithString("item_url", mcp.Description("Product page URL")),
			mcp.WithNumber("quantity_needed", mcp.Description("How many are wanted (default 1)")),
			mcp.WithString("priority", mcp.Description("high, medium or low (default medium)")),
			mcp.WithString("notes", mcp.Description("Free-form notes")),
		),
		mcpAddItem(deps),
	)

	s.AddTool(
		mcp.NewTool("record_purchase",
			mcp.WithDescription("Record that a quantity of an item was purchased. Clamped so purchases never exceed the quantity needed."),
			mcp.WithString("item_id", mcp.Description("Registry item id"), mcp.Required()),
			mcp.WithNumber("increment_by", mcp.Description("How many were purchased (default 1)")),
			mcp.WithString("purchaser_name", mcp.Description("Optional name of the purchaser")),
		),
		mcpRecordPurchase(deps),
	)

	s.AddTool(
		mcp.NewTool("refresh_metadata",
			mcp.WithDescription("Refresh product metadata (price, availability, image) for one item from its merchant page. Consumes the registry's monthly lookup budget."),
			mcp.WithString("item_id", mcp.Description("Registry item id"), mcp.Required()),
		),
		mcpRefreshItem(deps),
	)

	s.AddTool(
		mcp.NewTool("import_registry_urls",
			mcp.WithDescription("Create registry items from a list of product URLs. Duplicates are skipped; failures on one URL do not abort the import."),
			mcp.WithString("registry", mcp.Description("Registry id (default: \"default\")")),
			mcp.WithArray("urls", mcp.Description("Product page URLs"), mcp.Required()),
		),
		mcpImportURLs(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"registry://settings",
			"Registry Settings",
			mcp.WithResourceDescription("Refresh window policy and monthly lookup budget for the default registry"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSettings(deps),
	)

	return s
}

func mcpListItems(deps AppDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		registry := req.GetString("registry", DefaultRegistry)
		status := req.GetString("status", "")
		search := req.GetString("search", "")

		items, err := deps.Store.ListItems(registry, status, search)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list items: %v", err)), nil
		}
		if items == nil {
			items = []storage.RegistryItem{}
		}

		b, err := json.Marshal(toItems(items))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal items: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAddItem(deps AppDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		registry := req.GetString("registry", DefaultRegistry)
		name := req.GetString("item_name", "")
		itemURL := req.GetString("item_url", "")
		if name == "" && itemURL == "" {
			return mcpError("at least one of item_name or item_url is required"), nil
		}
		quantity := req.GetInt("quantity_needed", 1)
		if quantity < 1 {
			quantity = 1
		}
		priority := req.GetString("priority", "medium")
		notes := req.GetString("notes", "")

		existing, err := deps.Store.ListItems(registry, "", "")
		if err != nil {
			return mcpError(fmt.Sprintf("failed to check duplicates: %v", err)), nil
		}
		if dup := dedupe.FindDuplicate(itemURL, name, existing, ""); dup != nil {
			return mcpError(fmt.Sprintf("already on the registry as %q (%s)", dup.ItemName, dup.ID)), nil
		}

		maxOrder, err := deps.Store.MaxSortOrder(registry)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to read sort order: %v", err)), nil
		}

		now := time.Now().UTC()
		item := storage.RegistryItem{
			ID:             uuid.New().String(),
			RegistryID:     registry,
			ItemName:       name,
			ItemURL:        itemURL,
			Notes:          notes,
			QuantityNeeded: quantity,
			PurchaseStatus: storage.PurchaseAvailable,
			Priority:       priority,
			SortOrder:      maxOrder + 1,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := deps.Store.CreateItem(item); err != nil {
			return mcpError(fmt.Sprintf("failed to create item: %v", err)), nil
		}

		label := item.ItemName
		if label == "" {
			label = item.ItemURL
		}
		return mcpText(fmt.Sprintf("Added %q (%s)", label, item.ID)), nil
	}
}

func mcpRecordPurchase(deps AppDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		itemID, err := req.RequireString("item_id")
		if err != nil {
			return mcpError("item_id is required"), nil
		}
		incrementBy := req.GetInt("increment_by", 1)
		if incrementBy < 1 {
			return mcpError("increment_by must be at least 1"), nil
		}
		purchaser := req.GetString("purchaser_name", "")

		item, err := deps.Ledger.RecordPurchase(itemID, incrementBy, purchaser)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to record purchase: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Recorded purchase: %q now %d of %d (%s)",
			item.ItemName, item.QuantityPurchased, item.QuantityNeeded, item.PurchaseStatus)), nil
	}
}

func mcpRefreshItem(deps AppDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		itemID, err := req.RequireString("item_id")
		if err != nil {
			return mcpError("item_id is required"), nil
		}

		item, summary, err := deps.Orch.RefreshItem(ctx, itemID, time.Now().UTC())
		if err != nil {
			return mcpError(fmt.Sprintf("refresh failed: %v", err)), nil
		}
		switch summary.Outcome {
		case refresh.OutcomeWindowClosed:
			return mcpText("Refresh window is closed for this registry; nothing was fetched."), nil
		case refresh.OutcomeBudgetExhausted:
			return mcpText("Monthly lookup budget is exhausted; nothing was fetched."), nil
		}

		b, err := json.Marshal(toItem(item))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal item: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpImportURLs(deps AppDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		urls := req.GetStringSlice("urls", nil)
		if len(urls) == 0 {
			return mcpError("urls is required"), nil
		}
		registry := req.GetString("registry", DefaultRegistry)

		summary, err := deps.Orch.ImportURLs(ctx, registry, urls, time.Now().UTC())
		if err != nil {
			return mcpError(fmt.Sprintf("import failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Imported %d of %d URLs (%d duplicates skipped, %d failed)",
			summary.Created, summary.Attempted, summary.Skipped, summary.Failed)), nil
	}
}

func mcpResourceSettings(deps AppDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		st, err := deps.Store.EnsureSettings(DefaultRegistry)
		if err != nil {
			return nil, fmt.Errorf("failed to load settings: %w", err)
		}

		b, err := json.Marshal(toSettings(st))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal settings: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
