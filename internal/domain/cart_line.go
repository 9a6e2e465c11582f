package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// LineKind discriminates the two shapes a cart line can take
type LineKind string

const (
	KindProduct LineKind = "product"
	KindService LineKind = "service"
)

// MaxLineQuantity bounds a single line's quantity. Keep in step with the
// lte tag on CartLine.Quantity.
const MaxLineQuantity = 1_000_000_000

// DefaultVariant is the variant assumed when a service line carries none
const DefaultVariant = "default"

// PetSize is the size category used to price services
type PetSize string

const (
	PetSizeMini   PetSize = "mini"
	PetSizeSmall  PetSize = "small"
	PetSizeMedium PetSize = "medium"
	PetSizeLarge  PetSize = "large"
	PetSizeGiant  PetSize = "giant"
)

// PetBinding associates a line with one of the customer's pets
type PetBinding struct {
	PetID   string  `json:"pet_id" validate:"required,max=100"`
	PetName string  `json:"pet_name" validate:"max=100"`
	PetSize PetSize `json:"pet_size,omitempty" validate:"omitempty,oneof=mini small medium large giant"`
}

// CartLine is one entry in a cart
type CartLine struct {
	ID       string   `json:"id" validate:"required"`
	Kind     LineKind `json:"type" validate:"required,oneof=product service"`
	Name     string   `json:"name" validate:"required,min=1,max=255"`
	Quantity int      `json:"quantity" validate:"gte=1,lte=1000000000"`

	UnitPrice decimal.Decimal  `json:"price" validate:"gte=0"`
	BasePrice *decimal.Decimal `json:"base_price,omitempty"`

	// StockCeiling is the stock snapshot taken when the line was created.
	// Nil means unlimited.
	StockCeiling *int `json:"stock,omitempty" validate:"omitempty,gte=0"`

	ProductID      string      `json:"product_id,omitempty" validate:"required_if=Kind product,max=100"`
	ServiceID      string      `json:"service_id,omitempty" validate:"required_if=Kind service,max=100"`
	ServiceVariant string      `json:"variant_name,omitempty" validate:"max=100"`
	Pet            *PetBinding `json:"pet,omitempty"`

	ImageURL             string `json:"image_url,omitempty"`
	SKU                  string `json:"sku,omitempty" validate:"max=100"`
	Description          string `json:"description,omitempty"`
	ServiceIcon          string `json:"service_icon,omitempty"`
	RequiresPrescription bool   `json:"requires_prescription,omitempty"`
	PrescriptionFileURL  string `json:"prescription_file_url,omitempty"`
}

// IsService reports whether the line is a bookable service
func (l CartLine) IsService() bool {
	return l.Kind == KindService
}

// Variant returns the service variant, falling back to DefaultVariant
func (l CartLine) Variant() string {
	if v := strings.TrimSpace(l.ServiceVariant); v != "" {
		return v
	}
	return DefaultVariant
}

// PetID returns the bound pet id or an empty string
func (l CartLine) PetID() string {
	if l.Pet == nil {
		return ""
	}
	return l.Pet.PetID
}

// LineTotal is UnitPrice * Quantity
func (l CartLine) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Clone returns a deep copy so callers can't mutate store-owned pointers
func (l CartLine) Clone() CartLine {
	out := l
	if l.BasePrice != nil {
		bp := *l.BasePrice
		out.BasePrice = &bp
	}
	if l.StockCeiling != nil {
		c := *l.StockCeiling
		out.StockCeiling = &c
	}
	if l.Pet != nil {
		p := *l.Pet
		out.Pet = &p
	}
	return out
}

// IdentityKeyOf decides whether an add merges into an existing line.
// Products are fungible and keyed by product id alone. Services are keyed by
// service, variant and pet, so the same service for two pets stays two lines.
func IdentityKeyOf(candidate CartLine) string {
	if candidate.Kind == KindService {
		petID := candidate.PetID()
		if petID == "" {
			petID = "none"
		}
		return "service:" + candidate.ServiceID + ":" + candidate.Variant() + ":" + petID
	}
	return "product:" + candidate.ProductID
}
