package checkout

import (
	"fmt"
	"math"

	"github.com/google/uuid"

	pkgerrors "github.com/willshop/storefront/pkg/errors"
)

// Selection is one cart entry chosen for checkout.
type Selection struct {
	ProductID uuid.UUID `json:"product_id"`
	Amount    int       `json:"amount"`
}

// SelectionViolation is returned in error details for rejected entries.
type SelectionViolation struct {
	Index     int       `json:"index"`
	ProductID uuid.UUID `json:"product_id"`
	Amount    int       `json:"amount"`
	Reason    string    `json:"reason"`
}

// NormalizeSelections rejects empty input and non-positive amounts, then
// merges duplicate products by summing their amounts. Output order follows
// the first occurrence of each product.
func NormalizeSelections(selections []Selection) ([]Selection, error) {
	if len(selections) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeEmptySelection, "no products selected")
	}

	var violations []SelectionViolation
	for i, sel := range selections {
		switch {
		case sel.ProductID == uuid.Nil:
			violations = append(violations, SelectionViolation{Index: i, ProductID: sel.ProductID, Amount: sel.Amount, Reason: "product_id is required"})
		case sel.Amount <= 0:
			violations = append(violations, SelectionViolation{Index: i, ProductID: sel.ProductID, Amount: sel.Amount, Reason: "amount must be positive"})
		case sel.Amount > math.MaxInt32:
			violations = append(violations, SelectionViolation{Index: i, ProductID: sel.ProductID, Amount: sel.Amount, Reason: "amount too large"})
		}
	}
	if len(violations) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid selection for %d item(s)", len(violations))).WithDetails(map[string]any{
			"violations": violations,
		})
	}

	merged := make([]Selection, 0, len(selections))
	index := make(map[uuid.UUID]int, len(selections))
	for _, sel := range selections {
		pos, seen := index[sel.ProductID]
		if !seen {
			index[sel.ProductID] = len(merged)
			merged = append(merged, sel)
			continue
		}
		if merged[pos].Amount > math.MaxInt32-sel.Amount {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount too large").WithDetails(map[string]any{
				"product_id": sel.ProductID,
			})
		}
		merged[pos].Amount += sel.Amount
	}
	return merged, nil
}

// ProductIDs returns the ids of already-normalized selections.
func ProductIDs(selections []Selection) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(selections))
	for _, sel := range selections {
		ids = append(ids, sel.ProductID)
	}
	return ids
}
