package cart

import (
	"vet-cart/internal/domain"

	"github.com/shopspring/decimal"
)

// ServicePetEntry is one pet's line inside a service group
type ServicePetEntry struct {
	Line    domain.CartLine `json:"item"`
	PetID   string          `json:"pet_id"`
	PetName string          `json:"pet_name"`
	PetSize domain.PetSize  `json:"pet_size,omitempty"`
}

// ServiceGroup collects the pet-bound lines of one service variant
type ServiceGroup struct {
	ServiceID   string            `json:"service_id"`
	Variant     string            `json:"variant"`
	Name        string            `json:"name"`
	ServiceIcon string            `json:"service_icon,omitempty"`
	Pets        []ServicePetEntry `json:"pets"`
	Subtotal    decimal.Decimal   `json:"subtotal"`
}

// PetProductGroup collects the product lines assigned to one pet
type PetProductGroup struct {
	PetID    string            `json:"pet_id"`
	PetName  string            `json:"pet_name"`
	PetSize  domain.PetSize    `json:"pet_size,omitempty"`
	Products []domain.CartLine `json:"products"`
	Subtotal decimal.Decimal   `json:"subtotal"`
}

// OrganizedCart is the grouped presentation of a cart. Every input line
// lands in exactly one of the four buckets.
type OrganizedCart struct {
	ServiceGroups      []ServiceGroup    `json:"service_groups"`
	UngroupedServices  []domain.CartLine `json:"ungrouped_services"`
	PetProducts        []PetProductGroup `json:"pet_products"`
	UnassignedProducts []domain.CartLine `json:"unassigned_products"`
	ServicesSubtotal   decimal.Decimal   `json:"services_subtotal"`
	ProductsSubtotal   decimal.Decimal   `json:"products_subtotal"`
}

type serviceGroupKey struct {
	serviceID string
	variant   string
}

// Organize groups lines for display. Groups are ordered by the first
// appearance of one of their lines; lines keep their input order.
// Lines of an unrecognized kind are treated as products.
func Organize(lines []domain.CartLine) OrganizedCart {
	out := OrganizedCart{
		ServiceGroups:      []ServiceGroup{},
		UngroupedServices:  []domain.CartLine{},
		PetProducts:        []PetProductGroup{},
		UnassignedProducts: []domain.CartLine{},
		ServicesSubtotal:   decimal.Zero,
		ProductsSubtotal:   decimal.Zero,
	}

	serviceIdx := make(map[serviceGroupKey]int)
	petIdx := make(map[string]int)

	for _, line := range lines {
		line = line.Clone()
		lineTotal := line.LineTotal()

		switch line.Kind {
		case domain.KindService:
			out.ServicesSubtotal = out.ServicesSubtotal.Add(lineTotal)

			if line.Pet == nil {
				out.UngroupedServices = append(out.UngroupedServices, line)
				continue
			}

			key := serviceGroupKey{serviceID: line.ServiceID, variant: line.Variant()}
			i, ok := serviceIdx[key]
			if !ok {
				out.ServiceGroups = append(out.ServiceGroups, ServiceGroup{
					ServiceID:   line.ServiceID,
					Variant:     key.variant,
					Name:        line.Name,
					ServiceIcon: line.ServiceIcon,
					Subtotal:    decimal.Zero,
				})
				i = len(out.ServiceGroups) - 1
				serviceIdx[key] = i
			}

			group := &out.ServiceGroups[i]
			group.Pets = append(group.Pets, ServicePetEntry{
				Line:    line,
				PetID:   line.Pet.PetID,
				PetName: line.Pet.PetName,
				PetSize: line.Pet.PetSize,
			})
			group.Subtotal = group.Subtotal.Add(lineTotal)

		default:
			out.ProductsSubtotal = out.ProductsSubtotal.Add(lineTotal)

			if line.Pet == nil {
				out.UnassignedProducts = append(out.UnassignedProducts, line)
				continue
			}

			i, ok := petIdx[line.Pet.PetID]
			if !ok {
				out.PetProducts = append(out.PetProducts, PetProductGroup{
					PetID:    line.Pet.PetID,
					PetName:  line.Pet.PetName,
					PetSize:  line.Pet.PetSize,
					Subtotal: decimal.Zero,
				})
				i = len(out.PetProducts) - 1
				petIdx[line.Pet.PetID] = i
			}

			group := &out.PetProducts[i]
			group.Products = append(group.Products, line)
			group.Subtotal = group.Subtotal.Add(lineTotal)
		}
	}

	return out
}
