package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product represents a store product in a clinic's catalog
type Product struct {
	ID                   uuid.UUID        `json:"id" db:"id"`
	TenantID             string           `json:"tenant_id" db:"tenant_id"`
	SKU                  string           `json:"sku" db:"sku"`
	Name                 string           `json:"name" db:"name"`
	Description          string           `json:"description" db:"description"`
	ImageURL             string           `json:"image_url" db:"image_url"`
	Price                decimal.Decimal  `json:"price" db:"price"`
	BasePrice            *decimal.Decimal `json:"base_price,omitempty" db:"base_price"`
	Stock                *int             `json:"stock,omitempty" db:"stock"` // nil when inventory isn't tracked
	RequiresPrescription bool             `json:"requires_prescription" db:"requires_prescription"`
	CreatedAt            time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at" db:"updated_at"`
}

// ServiceOffering is a bookable clinic service
type ServiceOffering struct {
	ID          uuid.UUID `json:"id" db:"id"`
	TenantID    string    `json:"tenant_id" db:"tenant_id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	Icon        string    `json:"icon" db:"icon"`
	ImageURL    string    `json:"image_url" db:"image_url"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// ServicePrice is the price of a service variant for one pet size
type ServicePrice struct {
	Service      ServiceOffering  `json:"service"`
	Variant      string           `json:"variant" db:"variant"`
	SizeCategory PetSize          `json:"size_category" db:"size_category"`
	Price        decimal.Decimal  `json:"price" db:"price"`
	BasePrice    *decimal.Decimal `json:"base_price,omitempty" db:"base_price"`
}

// CartCandidate builds the line a customer asks to add for this product
func (p *Product) CartCandidate(pet *PetBinding) CartLine {
	line := CartLine{
		Kind:                 KindProduct,
		Name:                 p.Name,
		UnitPrice:            p.Price,
		BasePrice:            p.BasePrice,
		StockCeiling:         p.Stock,
		ProductID:            p.ID.String(),
		Pet:                  pet,
		ImageURL:             p.ImageURL,
		SKU:                  p.SKU,
		Description:          p.Description,
		RequiresPrescription: p.RequiresPrescription,
	}
	line.ID = IdentityKeyOf(line)
	return line.Clone()
}

// CartCandidate builds the line a customer asks to add for this priced service
func (sp *ServicePrice) CartCandidate(pet *PetBinding) CartLine {
	line := CartLine{
		Kind:           KindService,
		Name:           sp.Service.Name,
		UnitPrice:      sp.Price,
		BasePrice:      sp.BasePrice,
		ServiceID:      sp.Service.ID.String(),
		ServiceVariant: sp.Variant,
		Pet:            pet,
		ImageURL:       sp.Service.ImageURL,
		Description:    sp.Service.Description,
		ServiceIcon:    sp.Service.Icon,
	}
	line.ID = IdentityKeyOf(line)
	return line.Clone()
}
