package cart

import "vet-cart/internal/domain"

// ClampResult is the outcome of applying a quantity change against a stock ceiling
type ClampResult struct {
	AppliedDelta      int
	LimitedByStock    bool
	LimitedByCap      bool // the change would have pushed the line past domain.MaxLineQuantity
	Blocked           bool // a positive change could not be applied at all
	AvailableStock    *int
	ResultingQuantity int
}

// Clamp limits requestedDelta so the line never holds more than ceiling units
// and never drops below zero. A nil ceiling means unlimited stock. Either way
// a line never grows past domain.MaxLineQuantity.
func Clamp(requestedDelta, currentQuantity int, ceiling *int) ClampResult {
	capHeadroom := max(domain.MaxLineQuantity-currentQuantity, 0)

	if ceiling == nil {
		applied := requestedDelta
		if requestedDelta > 0 {
			applied = min(requestedDelta, capHeadroom)
		}
		result := ClampResult{
			AppliedDelta:      applied,
			ResultingQuantity: currentQuantity + applied,
		}
		if applied < requestedDelta {
			result.LimitedByCap = true
			result.Blocked = applied <= 0
		}
		return result
	}

	// An out-of-band stock drop can leave the line above its ceiling.
	stockHeadroom := max(*ceiling-currentQuantity, 0)

	applied := min(max(requestedDelta, -currentQuantity), stockHeadroom, capHeadroom)

	available := *ceiling
	result := ClampResult{
		AppliedDelta:      applied,
		AvailableStock:    &available,
		ResultingQuantity: currentQuantity + applied,
	}

	if requestedDelta > 0 {
		limited := applied < requestedDelta
		result.LimitedByStock = limited && stockHeadroom <= capHeadroom
		result.LimitedByCap = limited && !result.LimitedByStock
		result.Blocked = applied <= 0
	}

	return result
}
