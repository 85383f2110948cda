package broker

import (
	"fmt"
	"strings"

	"github.com/finsageai/finsage/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Order Validation
// ════════════════════════════════════════════════════════════════════

// ValidationError represents an order validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationResult holds the results of order validation.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// IsValid returns true if the order passed all validation checks.
func (v *ValidationResult) IsValid() bool {
	return v.Valid && len(v.Errors) == 0
}

// ErrorString returns a combined error string.
func (v *ValidationResult) ErrorString() string {
	if v.IsValid() {
		return ""
	}
	msgs := make([]string, len(v.Errors))
	for i, e := range v.Errors {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// ValidateOrder validates an OrderRequest for basic correctness.
func ValidateOrder(req models.OrderRequest) *ValidationResult {
	result := &ValidationResult{Valid: true}

	// Symbol is required
	if req.Symbol == "" {
		result.addError("symbol", "symbol is required")
	}

	// Side must be buy or sell
	if req.Side != models.Buy && req.Side != models.Sell {
		result.addError("side", fmt.Sprintf("invalid order side %q", req.Side))
	}

	// Order type must be valid
	switch req.Type {
	case models.Market, models.Limit:
		// valid
	default:
		result.addError("type", fmt.Sprintf("invalid order type %q", req.Type))
	}

	// Time in force must be valid when set
	switch req.TimeInForce {
	case "", models.TIFDay, models.TIFGTC, models.TIFOPG, models.TIFCLS, models.TIFIOC, models.TIFFOK:
		// valid (empty defaults to day at submission)
	default:
		result.addError("time_in_force", fmt.Sprintf("invalid time in force %q", req.TimeInForce))
	}

	// Quantity must be positive
	if req.Qty <= 0 {
		result.addError("qty", "quantity must be positive")
	}

	// Price validation based on order type
	if req.Type == models.Limit && req.LimitPrice <= 0 {
		result.addError("limit_price", "limit orders require a positive limit price")
	}
	if req.LimitPrice < 0 {
		result.addError("limit_price", "limit price cannot be negative")
	}

	return result
}

// addError appends a validation error and marks the result invalid.
func (v *ValidationResult) addError(field, message string) {
	v.Valid = false
	v.Errors = append(v.Errors, ValidationError{Field: field, Message: message})
}
