package cart

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"vet-cart/internal/domain"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// payloadVersion is bumped whenever the persisted layout changes
const payloadVersion = 1

var (
	ErrPayloadVersion   = errors.New("unsupported cart payload version")
	ErrDuplicateLine    = errors.New("duplicate cart line")
	ErrLineIdentity     = errors.New("cart line id does not match its identity")
	ErrCeilingViolation = errors.New("cart line quantity exceeds its stock ceiling")
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterCustomTypeFunc(func(v reflect.Value) interface{} {
		if d, ok := v.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
}

type payload struct {
	Version   int               `json:"version"`
	Items     []domain.CartLine `json:"items"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// EncodeLines serializes the full line list for storage
func EncodeLines(lines []domain.CartLine, now time.Time) ([]byte, error) {
	if lines == nil {
		lines = []domain.CartLine{}
	}
	return json.Marshal(payload{
		Version:   payloadVersion,
		Items:     lines,
		UpdatedAt: now.UTC(),
	})
}

// DecodeLines parses and validates a stored payload. Any structural problem
// rejects the whole payload.
func DecodeLines(data []byte) ([]domain.CartLine, error) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode cart payload: %w", err)
	}
	if p.Version != payloadVersion {
		return nil, fmt.Errorf("%w: %d", ErrPayloadVersion, p.Version)
	}

	if err := ValidateLines(p.Items); err != nil {
		return nil, err
	}
	return p.Items, nil
}

// ValidateLines checks each line's schema and the cart-level invariants
func ValidateLines(lines []domain.CartLine) error {
	seen := make(map[string]struct{}, len(lines))
	for i, line := range lines {
		if err := validate.Struct(line); err != nil {
			return fmt.Errorf("invalid cart line %d: %w", i, err)
		}
		if line.ID != domain.IdentityKeyOf(line) {
			return fmt.Errorf("%w: %q", ErrLineIdentity, line.ID)
		}
		if _, dup := seen[line.ID]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateLine, line.ID)
		}
		seen[line.ID] = struct{}{}

		if line.StockCeiling != nil && line.Quantity > *line.StockCeiling {
			return fmt.Errorf("%w: %q", ErrCeilingViolation, line.ID)
		}
	}
	return nil
}
