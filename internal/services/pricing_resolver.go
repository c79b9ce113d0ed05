package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	domain "github.com/batimat/api/internal/domain"
	"github.com/batimat/api/internal/repositories"
)

// PricingResolverDeps wires the pricing resolver.
type PricingResolverDeps struct {
	Catalog   repositories.CatalogRepository
	Inventory InventoryService
}

type pricingResolver struct {
	catalog   repositories.CatalogRepository
	inventory InventoryService
}

// NewPricingResolver constructs a PricingResolver.
func NewPricingResolver(deps PricingResolverDeps) (PricingResolver, error) {
	if deps.Catalog == nil {
		return nil, errors.New("pricing resolver: catalog repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("pricing resolver: inventory service is required")
	}
	return &pricingResolver{catalog: deps.Catalog, inventory: deps.Inventory}, nil
}

func (r *pricingResolver) Resolve(ctx context.Context, req PriceRequest) (PricedLine, error) {
	productID := strings.TrimSpace(req.ProductID)
	variantID := strings.TrimSpace(req.VariantID)
	unitID := strings.TrimSpace(req.UnitID)
	if productID == "" || req.Quantity <= 0 {
		return PricedLine{}, fmt.Errorf("%w: product and positive quantity are required", ErrCheckoutInvalidInput)
	}

	product, err := r.catalog.GetProduct(ctx, productID)
	if err != nil {
		return PricedLine{}, translateRepoError("pricing.product", err, ErrProductNotAvailable)
	}
	if !product.Sellable() {
		return PricedLine{}, fmt.Errorf("%w: %s", ErrProductNotAvailable, productID)
	}

	line := PricedLine{
		ProductID:   product.ID,
		VariantID:   variantID,
		ProductName: product.Name,
		ListPrice:   product.BasePrice,
		WeightKg:    product.WeightKg,
		CostBasis:   product.CostBasis,
		CostSource:  domain.CostSourceCatalog,
		Quantity:    req.Quantity,
	}

	if variantID == "" && product.RequiresVariant {
		return PricedLine{}, fmt.Errorf("%w: %s", ErrVariantRequired, productID)
	}
	if variantID != "" {
		variant, err := r.catalog.GetVariant(ctx, product.ID, variantID)
		if err != nil {
			return PricedLine{}, translateRepoError("pricing.variant", err, ErrVariantInvalid)
		}
		name := strings.TrimSpace(variant.Name)
		if variant.ProductID != product.ID || name == "" {
			return PricedLine{}, fmt.Errorf("%w: %s", ErrVariantInvalid, variantID)
		}
		line.VariantName = name
		if variant.Price != nil {
			line.ListPrice = *variant.Price
		}
		if variant.WeightKg != nil {
			line.WeightKg = *variant.WeightKg
		}
		if variant.CostBasis != nil {
			line.CostBasis = *variant.CostBasis
		}
	}

	snapshot, err := r.inventory.Snapshot(ctx, domain.StockKey{ProductID: product.ID, VariantID: variantID})
	if err != nil {
		return PricedLine{}, err
	}
	if latest := snapshot.Latest; latest != nil && !latest.Placeholder {
		line.ListPrice = latest.SalePrice
		line.PriceLotID = latest.ID
		line.CostSource = domain.CostSourceLot
		if latest.CostPrice > 0 {
			line.CostBasis = latest.CostPrice
		}
	}

	factor := 1.0
	if unitID != "" {
		unit, err := r.catalog.GetUnit(ctx, product.ID, unitID)
		if err != nil {
			return PricedLine{}, translateRepoError("pricing.unit", err, ErrCheckoutInvalidInput)
		}
		line.UnitID = unit.ID
		line.UnitName = unit.Name
		if unit.ConversionFactor > 0 {
			factor = unit.ConversionFactor
		}
	}
	if factor != 1 {
		line.ListPrice = domain.RoundCents(float64(line.ListPrice) * factor)
		line.CostBasis = domain.RoundCents(float64(line.CostBasis) * factor)
		line.WeightKg *= factor
	}

	line.StockQuantity = stockQuantity(req.Quantity, factor)
	if line.StockQuantity > snapshot.Available {
		return PricedLine{}, fmt.Errorf("%w: %s requested %d, available %d", ErrInsufficientStock, productID, line.StockQuantity, snapshot.Available)
	}

	line.UnitPrice = line.ListPrice
	if promo := product.PromoPercent; promo > 0 {
		promo = math.Min(promo, 100)
		line.DiscountPercent = promo
		line.UnitPrice = domain.RoundCents(float64(line.ListPrice) * (1 - promo/100))
	}
	line.Subtotal = line.UnitPrice * int64(line.Quantity)
	line.DiscountAmount = (line.ListPrice - line.UnitPrice) * int64(line.Quantity)
	return line, nil
}

// stockQuantity converts a selling-unit quantity to stock units, rounding up partial units.
func stockQuantity(quantity int, factor float64) int {
	if factor == 1 {
		return quantity
	}
	return int(math.Ceil(float64(quantity)*factor - 1e-9))
}
