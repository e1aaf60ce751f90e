package main

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/perlow/giftsync/internal/config"
)

// --- items ---

var itemsCmd = &cobra.Command{
	Use:   "items",
	Short: "List registry items",
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, _ := cmd.Flags().GetString("registry")
		status, _ := cmd.Flags().GetString("status")
		search, _ := cmd.Flags().GetString("search")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		q := url.Values{}
		if registry != "" {
			q.Set("registry", registry)
		}
		if status != "" {
			q.Set("status", status)
		}
		if search != "" {
			q.Set("search", search)
		}
		path := "/items"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}

		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var items []struct {
			ID                string   `json:"id"`
			ItemName          string   `json:"item_name"`
			PriceLabel        string   `json:"price_label"`
			PriceAmount       *float64 `json:"price_amount"`
			Merchant          string   `json:"merchant"`
			QuantityNeeded    int      `json:"quantity_needed"`
			QuantityPurchased int      `json:"quantity_purchased"`
			PurchaseStatus    string   `json:"purchase_status"`
		}
		if err := decodeJSON(resp, &items); err != nil {
			return err
		}

		if len(items) == 0 {
			fmt.Println("No items found.")
			return nil
		}

		for _, it := range items {
			price := it.PriceLabel
			if price == "" && it.PriceAmount != nil {
				price = fmt.Sprintf("%.2f", *it.PriceAmount)
			}
			if price == "" {
				price = "-"
			}
			line := fmt.Sprintf("%s  %-40s %10s  %d/%d %s",
				colorize(colorCyan, it.ID[:8]),
				truncate(it.ItemName, 40),
				price,
				it.QuantityPurchased,
				it.QuantityNeeded,
				it.PurchaseStatus,
			)
			if it.Merchant != "" {
				line += "  (" + it.Merchant + ")"
			}
			fmt.Println(line)
		}
		return nil
	},
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func init() {
	itemsCmd.Flags().String("registry", "", "registry id (default registry when empty)")
	itemsCmd.Flags().String("status", "", "filter by purchase status: available, partial, purchased")
	itemsCmd.Flags().String("search", "", "substring match on item name or merchant")
}

// --- add ---

var addCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add an item to the registry",
	Long: `Add an item to the registry.

Examples:
  giftsync add "Stand mixer" --url https://shop.example.com/mixer --quantity 1
  giftsync add "Wine glasses" --price 89.99 --quantity 8 --priority high`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, _ := cmd.Flags().GetString("registry")
		itemURL, _ := cmd.Flags().GetString("url")
		priceStr, _ := cmd.Flags().GetString("price")
		quantity, _ := cmd.Flags().GetInt("quantity")
		notes, _ := cmd.Flags().GetString("notes")
		priority, _ := cmd.Flags().GetString("priority")

		req := map[string]any{
			"item_name":       args[0],
			"quantity_needed": quantity,
		}
		if registry != "" {
			req["registry_id"] = registry
		}
		if itemURL != "" {
			req["item_url"] = itemURL
		}
		if priceStr != "" {
			amount, err := strconv.ParseFloat(priceStr, 64)
			if err != nil {
				return fmt.Errorf("invalid price %q: %w", priceStr, err)
			}
			req["price_amount"] = amount
		}
		if notes != "" {
			req["notes"] = notes
		}
		if priority != "" {
			req["priority"] = priority
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/items", req)
		if err != nil {
			return err
		}

		var item struct {
			ID       string `json:"id"`
			ItemName string `json:"item_name"`
		}
		if err := decodeJSON(resp, &item); err != nil {
			return err
		}

		printSuccess("Added %q (%s)", item.ItemName, item.ID[:8])
		return nil
	},
}

func init() {
	addCmd.Flags().String("registry", "", "registry id")
	addCmd.Flags().String("url", "", "product page URL")
	addCmd.Flags().String("price", "", "price amount, e.g. 89.99")
	addCmd.Flags().Int("quantity", 1, "quantity needed")
	addCmd.Flags().String("notes", "", "private notes")
	addCmd.Flags().String("priority", "", "priority: low, medium, high")
}

// --- import ---

var importCmd = &cobra.Command{
	Use:   "import <url>...",
	Short: "Create registry items from product URLs",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, _ := cmd.Flags().GetString("registry")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Importing %d URLs...", len(args))

		req := map[string]any{"urls": args}
		if registry != "" {
			req["registry_id"] = registry
		}
		resp, err := client.post(cmd.Context(), "/import", req)
		if err != nil {
			return err
		}

		var summary struct {
			Attempted int `json:"attempted"`
			Created   int `json:"created"`
			Skipped   int `json:"skipped"`
			Failed    int `json:"failed"`
			Truncated int `json:"truncated"`
		}
		if err := decodeJSON(resp, &summary); err != nil {
			return err
		}

		printSuccess("Imported %d of %d URLs (%d duplicates skipped, %d failed)",
			summary.Created, summary.Attempted, summary.Skipped, summary.Failed)
		if summary.Truncated > 0 {
			printWarning("%d URLs beyond the import limit were ignored", summary.Truncated)
		}
		return nil
	},
}

func init() {
	importCmd.Flags().String("registry", "", "registry id")
}

// --- refresh ---

var refreshCmd = &cobra.Command{
	Use:   "refresh [item-id]",
	Short: "Refresh product metadata from merchant pages",
	Long: `Refresh product metadata from merchant pages.

With an item id, refreshes that single item. Without arguments, runs a
scheduled refresh cycle over all due items. Both paths consume the
registry's monthly lookup budget.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, _ := cmd.Flags().GetString("registry")
		alerts, _ := cmd.Flags().GetBool("alerts")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if len(args) == 1 {
			resp, err := client.post(cmd.Context(), "/items/"+args[0]+"/refresh", nil)
			if err != nil {
				return err
			}
			var result struct {
				Item struct {
					ItemName            string `json:"item_name"`
					MetadataFetchStatus string `json:"metadata_fetch_status"`
					MetadataConfidence  string `json:"metadata_confidence"`
				} `json:"item"`
				Summary struct {
					Outcome string `json:"outcome"`
				} `json:"summary"`
			}
			if err := decodeJSON(resp, &result); err != nil {
				return err
			}
			switch result.Summary.Outcome {
			case "window_closed":
				printWarning("Refresh window is closed; nothing was fetched")
			case "budget_exhausted":
				printWarning("Monthly lookup budget is exhausted; nothing was fetched")
			default:
				printSuccess("Refreshed %q (status: %s, confidence: %s)",
					result.Item.ItemName, result.Item.MetadataFetchStatus, result.Item.MetadataConfidence)
			}
			return nil
		}

		req := map[string]any{}
		if registry != "" {
			req["registry_id"] = registry
		}
		if alerts {
			req["mode"] = "alerts_only"
		}
		resp, err := client.post(cmd.Context(), "/refresh", req)
		if err != nil {
			return err
		}

		var summary struct {
			Outcome   string `json:"outcome"`
			Attempted int    `json:"attempted"`
			Succeeded int    `json:"succeeded"`
			Failed    int    `json:"failed"`
		}
		if err := decodeJSON(resp, &summary); err != nil {
			return err
		}

		switch summary.Outcome {
		case "window_closed":
			printWarning("Refresh window is closed; nothing was fetched")
		case "budget_exhausted":
			printWarning("Monthly lookup budget is exhausted; nothing was fetched")
		default:
			printSuccess("Refreshed %d items (%d succeeded, %d failed)",
				summary.Attempted, summary.Succeeded, summary.Failed)
		}
		return nil
	},
}

func init() {
	refreshCmd.Flags().String("registry", "", "registry id")
	refreshCmd.Flags().Bool("alerts", false, "only refresh items needing urgent attention")
}

// --- purchase ---

var purchaseCmd = &cobra.Command{
	Use:   "purchase <item-id>",
	Short: "Record a purchase against an item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		quantity, _ := cmd.Flags().GetInt("quantity")
		purchaser, _ := cmd.Flags().GetString("by")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{"increment_by": quantity}
		if purchaser != "" {
			req["purchaser_name"] = purchaser
		}
		resp, err := client.post(cmd.Context(), "/items/"+args[0]+"/purchase", req)
		if err != nil {
			return err
		}

		var item struct {
			ItemName          string `json:"item_name"`
			QuantityNeeded    int    `json:"quantity_needed"`
			QuantityPurchased int    `json:"quantity_purchased"`
			PurchaseStatus    string `json:"purchase_status"`
		}
		if err := decodeJSON(resp, &item); err != nil {
			return err
		}

		printSuccess("%q now %d of %d (%s)",
			item.ItemName, item.QuantityPurchased, item.QuantityNeeded, item.PurchaseStatus)
		return nil
	},
}

func init() {
	purchaseCmd.Flags().Int("quantity", 1, "how many were purchased")
	purchaseCmd.Flags().String("by", "", "purchaser name")
}

// --- settings ---

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or update registry refresh settings",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show refresh window and budget settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, _ := cmd.Flags().GetString("registry")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/settings"
		if registry != "" {
			path += "?registry=" + url.QueryEscape(registry)
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var st struct {
			RegistryID         string     `json:"registry_id"`
			AutoRefreshEnabled bool       `json:"auto_refresh_enabled"`
			EnabledUntil       *time.Time `json:"enabled_until"`
			WeddingDate        *time.Time `json:"wedding_date"`
			BudgetMonthKey     string     `json:"budget_month_key"`
			BudgetCallCount    int        `json:"budget_call_count"`
			BudgetCap          int        `json:"budget_cap"`
		}
		if err := decodeJSON(resp, &st); err != nil {
			return err
		}

		printStatus("Registry", "%s", st.RegistryID)
		printStatus("Auto refresh", "%v", st.AutoRefreshEnabled)
		if st.WeddingDate != nil {
			printStatus("Wedding date", "%s", st.WeddingDate.Format("2006-01-02"))
		} else {
			printStatus("Wedding date", "not set")
		}
		if st.EnabledUntil != nil {
			printStatus("Refresh until", "%s", st.EnabledUntil.Format("2006-01-02"))
		} else {
			printStatus("Refresh until", "wedding date + 30 days")
		}
		if st.BudgetMonthKey != "" {
			printStatus("Lookup budget", "%d/%d used in %s", st.BudgetCallCount, st.BudgetCap, st.BudgetMonthKey)
		} else {
			printStatus("Lookup budget", "0/%d used", st.BudgetCap)
		}
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Update a refresh setting",
	Long: `Update a refresh setting.

Keys:
  auto_refresh_enabled  true or false
  wedding_date          YYYY-MM-DD, empty string clears
  enabled_until         YYYY-MM-DD, empty string clears
  budget_cap            monthly lookup cap (clamped to the allowed range)`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, _ := cmd.Flags().GetString("registry")
		key, value := args[0], args[1]

		body := map[string]any{}
		switch key {
		case "auto_refresh_enabled":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("invalid boolean %q: %w", value, err)
			}
			body[key] = b
		case "budget_cap":
			i, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("invalid integer %q: %w", value, err)
			}
			body[key] = i
		case "wedding_date", "enabled_until":
			body[key] = value
		default:
			return fmt.Errorf("unknown settings key: %q", key)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/settings"
		if registry != "" {
			path += "?registry=" + url.QueryEscape(registry)
		}
		resp, err := client.patch(cmd.Context(), path, body)
		if err != nil {
			return err
		}
		var st struct {
			RegistryID string `json:"registry_id"`
		}
		if err := decodeJSON(resp, &st); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	settingsShowCmd.Flags().String("registry", "", "registry id")
	settingsSetCmd.Flags().String("registry", "", "registry id")
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
