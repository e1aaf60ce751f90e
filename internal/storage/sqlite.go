package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for registry items and
// per-registry settings.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "giftsync.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// --- null helpers ---

func timeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func floatArg(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

// --- Registry items ---

const itemColumns = `id, registry_id, item_name, price_label, price_amount, merchant,
	item_url, canonical_url, image_url, description, notes, availability,
	quantity_needed, quantity_purchased, purchaser_name, purchase_status,
	hide_when_purchased, priority, sort_order,
	metadata_last_checked_at, next_refresh_at, last_auto_refreshed_at,
	refresh_fail_count, metadata_fetch_status, metadata_confidence,
	previous_price_amount, price_last_changed_at, created_at, updated_at`

func (s *Store) CreateItem(item RegistryItem) error {
	_, err := s.db.Exec(`
		INSERT INTO registry_items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.RegistryID, item.ItemName, item.PriceLabel, floatArg(item.PriceAmount), item.Merchant,
		item.ItemURL, item.CanonicalURL, item.ImageURL, item.Description, item.Notes, item.Availability,
		item.QuantityNeeded, item.QuantityPurchased, item.PurchaserName, item.PurchaseStatus,
		item.HideWhenPurchased, item.Priority, item.SortOrder,
		timeArg(item.MetadataLastCheckedAt), timeArg(item.NextRefreshAt), timeArg(item.LastAutoRefreshedAt),
		item.RefreshFailCount, item.MetadataFetchStatus, item.MetadataConfidence,
		floatArg(item.PreviousPriceAmount), timeArg(item.PriceLastChangedAt),
		item.CreatedAt.UTC().Format(time.RFC3339), item.UpdatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func scanItem(row interface{ Scan(...any) error }) (RegistryItem, error) {
	var item RegistryItem
	var priceAmount, prevPrice sql.NullFloat64
	var lastChecked, nextRefresh, lastAuto, priceChanged sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&item.ID, &item.RegistryID, &item.ItemName, &item.PriceLabel, &priceAmount, &item.Merchant,
		&item.ItemURL, &item.CanonicalURL, &item.ImageURL, &item.Description, &item.Notes, &item.Availability,
		&item.QuantityNeeded, &item.QuantityPurchased, &item.PurchaserName, &item.PurchaseStatus,
		&item.HideWhenPurchased, &item.Priority, &item.SortOrder,
		&lastChecked, &nextRefresh, &lastAuto,
		&item.RefreshFailCount, &item.MetadataFetchStatus, &item.MetadataConfidence,
		&prevPrice, &priceChanged, &createdAt, &updatedAt,
	)
	if err != nil {
		return RegistryItem{}, err
	}

	item.PriceAmount = floatPtr(priceAmount)
	item.PreviousPriceAmount = floatPtr(prevPrice)
	for _, p := range []struct {
		src sql.NullString
		dst **time.Time
	}{
		{lastChecked, &item.MetadataLastCheckedAt},
		{nextRefresh, &item.NextRefreshAt},
		{lastAuto, &item.LastAutoRefreshedAt},
		{priceChanged, &item.PriceLastChangedAt},
	} {
		t, err := parseTimePtr(p.src)
		if err != nil {
			return RegistryItem{}, fmt.Errorf("parsing timestamp for item %s: %w", item.ID, err)
		}
		*p.dst = t
	}

	if item.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return RegistryItem{}, fmt.Errorf("parsing created_at for item %s: %w", item.ID, err)
	}
	if item.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return RegistryItem{}, fmt.Errorf("parsing updated_at for item %s: %w", item.ID, err)
	}
	return item, nil
}

func (s *Store) GetItem(id string) (RegistryItem, error) {
	row := s.db.QueryRow(`SELECT `+itemColumns+` FROM registry_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return RegistryItem{}, ErrNotFound
	}
	return item, err
}

// ListItems returns a registry's items ordered by sort_order then creation
// time. status filters by purchase_status when not empty or "all"; search
// matches a substring of the item name or merchant, case-insensitively.
func (s *Store) ListItems(registryID, status, search string) ([]RegistryItem, error) {
	query := `SELECT ` + itemColumns + ` FROM registry_items WHERE registry_id = ?`
	args := []any{registryID}

	if status != "" && status != "all" {
		query += ` AND purchase_status = ?`
		args = append(args, status)
	}
	if search != "" {
		query += ` AND (LOWER(item_name) LIKE ? OR LOWER(merchant) LIKE ?)`
		pattern := "%" + strings.ToLower(search) + "%"
		args = append(args, pattern, pattern)
	}
	query += ` ORDER BY sort_order ASC, created_at ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []RegistryItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// UpdateItem overwrites all mutable fields of the item row and stamps updated_at.
func (s *Store) UpdateItem(item RegistryItem) error {
	res, err := s.db.Exec(`
		UPDATE registry_items SET
			item_name = ?, price_label = ?, price_amount = ?, merchant = ?,
			item_url = ?, canonical_url = ?, image_url = ?, description = ?, notes = ?, availability = ?,
			quantity_needed = ?, quantity_purchased = ?, purchaser_name = ?, purchase_status = ?,
			hide_when_purchased = ?, priority = ?, sort_order = ?,
			metadata_last_checked_at = ?, next_refresh_at = ?, last_auto_refreshed_at = ?,
			refresh_fail_count = ?, metadata_fetch_status = ?, metadata_confidence = ?,
			previous_price_amount = ?, price_last_changed_at = ?, updated_at = ?
		WHERE id = ?`,
		item.ItemName, item.PriceLabel, floatArg(item.PriceAmount), item.Merchant,
		item.ItemURL, item.CanonicalURL, item.ImageURL, item.Description, item.Notes, item.Availability,
		item.QuantityNeeded, item.QuantityPurchased, item.PurchaserName, item.PurchaseStatus,
		item.HideWhenPurchased, item.Priority, item.SortOrder,
		timeArg(item.MetadataLastCheckedAt), timeArg(item.NextRefreshAt), timeArg(item.LastAutoRefreshedAt),
		item.RefreshFailCount, item.MetadataFetchStatus, item.MetadataConfidence,
		floatArg(item.PreviousPriceAmount), timeArg(item.PriceLastChangedAt),
		time.Now().UTC().Format(time.RFC3339),
		item.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteItem(id string) error {
	res, err := s.db.Exec(`DELETE FROM registry_items WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// MaxSortOrder returns the highest sort_order in a registry, or -1 when
// the registry has no items.
func (s *Store) MaxSortOrder(registryID string) (int, error) {
	var max sql.NullInt64
	err := s.db.QueryRow(`SELECT MAX(sort_order) FROM registry_items WHERE registry_id = ?`, registryID).Scan(&max)
	if err != nil {
		return 0, err
	}
	if !max.Valid {
		return -1, nil
	}
	return int(max.Int64), nil
}

// ReorderItems rewrites sort_order to match the given id order.
func (s *Store) ReorderItems(registryID string, orderedIDs []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning reorder transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	for i, id := range orderedIDs {
		if _, err := tx.Exec(
			`UPDATE registry_items SET sort_order = ?, updated_at = ? WHERE id = ? AND registry_id = ?`,
			i, now, id, registryID,
		); err != nil {
			return fmt.Errorf("reordering item %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// ListRegistryIDs returns every registry known to the store, from items or
// settings rows. Used by the scheduled refresh worker.
func (s *Store) ListRegistryIDs() ([]string, error) {
	rows, err := s.db.Query(`
		SELECT registry_id FROM registry_settings
		UNION
		SELECT DISTINCT registry_id FROM registry_items
		ORDER BY registry_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Registry settings ---

func (s *Store) GetSettings(registryID string) (RegistrySettings, error) {
	var st RegistrySettings
	var enabledUntil, weddingDate sql.NullString
	err := s.db.QueryRow(`
		SELECT registry_id, auto_refresh_enabled, enabled_until, wedding_date,
			budget_month_key, budget_call_count, budget_cap
		FROM registry_settings WHERE registry_id = ?`, registryID,
	).Scan(&st.RegistryID, &st.AutoRefreshEnabled, &enabledUntil, &weddingDate,
		&st.BudgetMonthKey, &st.BudgetCallCount, &st.BudgetCap)
	if err == sql.ErrNoRows {
		return RegistrySettings{}, ErrNotFound
	}
	if err != nil {
		return RegistrySettings{}, err
	}
	if st.EnabledUntil, err = parseTimePtr(enabledUntil); err != nil {
		return RegistrySettings{}, fmt.Errorf("parsing enabled_until: %w", err)
	}
	if st.WeddingDate, err = parseTimePtr(weddingDate); err != nil {
		return RegistrySettings{}, fmt.Errorf("parsing wedding_date: %w", err)
	}
	return st, nil
}

// EnsureSettings returns the settings row for a registry, creating it with
// defaults on first use.
func (s *Store) EnsureSettings(registryID string) (RegistrySettings, error) {
	st, err := s.GetSettings(registryID)
	if err == nil {
		return st, nil
	}
	if err != ErrNotFound {
		return RegistrySettings{}, err
	}
	_, err = s.db.Exec(`
		INSERT INTO registry_settings (registry_id, auto_refresh_enabled, budget_month_key, budget_call_count, budget_cap)
		VALUES (?, 1, '', 0, ?)
		ON CONFLICT(registry_id) DO NOTHING`, registryID, DefaultBudgetCap)
	if err != nil {
		return RegistrySettings{}, err
	}
	return s.GetSettings(registryID)
}

// UpdateSettings rewrites the policy fields and the cap. The budget counter
// and month key are owned by the gate and are not touched here.
func (s *Store) UpdateSettings(st RegistrySettings) error {
	res, err := s.db.Exec(`
		UPDATE registry_settings SET auto_refresh_enabled = ?, enabled_until = ?, wedding_date = ?, budget_cap = ?
		WHERE registry_id = ?`,
		st.AutoRefreshEnabled, timeArg(st.EnabledUntil), timeArg(st.WeddingDate),
		ClampBudgetCap(st.BudgetCap), st.RegistryID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RolloverBudgetMonth adopts monthKey and zeroes the counter, but only when
// the stored month differs. Safe to call from concurrent cycles: the first
// one across the month boundary resets, the rest are no-ops.
func (s *Store) RolloverBudgetMonth(registryID, monthKey string) error {
	_, err := s.db.Exec(`
		UPDATE registry_settings SET budget_month_key = ?, budget_call_count = 0
		WHERE registry_id = ? AND budget_month_key != ?`,
		monthKey, registryID, monthKey,
	)
	return err
}

// AddBudgetUsage increments the call counter by n, guarded by the month key
// so a rollover between read and write cannot resurrect stale usage.
func (s *Store) AddBudgetUsage(registryID, monthKey string, n int) error {
	if n <= 0 {
		return nil
	}
	_, err := s.db.Exec(`
		UPDATE registry_settings SET budget_call_count = budget_call_count + ?
		WHERE registry_id = ? AND budget_month_key = ?`,
		n, registryID, monthKey,
	)
	return err
}
