package preview

// Fetch status values carried in a lookup response. StatusError is also
// stamped locally when the call itself fails.
const (
	StatusSuccess      = "success"
	StatusBlocked      = "blocked"
	StatusTimeout      = "timeout"
	StatusParseFailure = "parse_failure"
	StatusUnsupported  = "unsupported"
	StatusError        = "error"
)

// AvailabilityOutOfStock is the availability value that feeds the
// alerts-only refresh predicate.
const AvailabilityOutOfStock = "out_of_stock"

// Result is the structured metadata the lookup service extracted from a
// product page. Transient: merged into registry items, never stored as-is.
type Result struct {
	Title           string   `json:"title"`
	PriceLabel      string   `json:"price_label"`
	PriceAmount     *float64 `json:"price_amount"`
	ImageURL        string   `json:"image_url"`
	Merchant        string   `json:"merchant"`
	CanonicalURL    string   `json:"canonical_url"`
	Availability    string   `json:"availability"`
	ConfidenceScore *float64 `json:"confidence_score"`
	FetchStatus     string   `json:"fetch_status"`
	Error           string   `json:"error"`
}
