// Package confidence classifies preview results into trust buckets.
package confidence

import "github.com/perlow/giftsync/internal/preview"

// Bucket is the coarse trust classification of a preview result: how much
// it can be believed without human review.
type Bucket string

const (
	Full    Bucket = "full"
	Partial Bucket = "partial"
	Manual  Bucket = "manual"
)

// Numeric score thresholds for services that report a confidence_score.
const (
	fullThreshold    = 0.7
	partialThreshold = 0.4
)

// Classify maps a preview result to a bucket. Deterministic and total.
//
// A non-success fetch status cannot be trusted regardless of score. With a
// numeric score present the thresholds decide. Without one, fall back to
// counting extracted fields, except that any reported error forces manual.
func Classify(r preview.Result) Bucket {
	if r.FetchStatus != "" && r.FetchStatus != preview.StatusSuccess {
		return Manual
	}

	if r.ConfidenceScore != nil {
		score := *r.ConfidenceScore
		switch {
		case score >= fullThreshold:
			return Full
		case score >= partialThreshold:
			return Partial
		default:
			return Manual
		}
	}

	if r.Error != "" {
		return Manual
	}

	fields := 0
	if r.Title != "" {
		fields++
	}
	if r.PriceLabel != "" || r.PriceAmount != nil {
		fields++
	}
	if r.ImageURL != "" {
		fields++
	}
	if r.Merchant != "" {
		fields++
	}
	switch {
	case fields >= 3:
		return Full
	case fields >= 1:
		return Partial
	default:
		return Manual
	}
}
