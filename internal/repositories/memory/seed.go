package memory

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	domain "github.com/batimat/api/internal/domain"
)

// PutProduct stores or replaces a product.
func (s *Store) PutProduct(product domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.products[product.ID] = product
}

// PutVariant stores or replaces a product variant.
func (s *Store) PutVariant(variant domain.ProductVariant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.variants[variantKey(variant.ProductID, variant.ID)] = variant
}

// PutUnit stores or replaces a selling unit.
func (s *Store) PutUnit(unit domain.ProductUnit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.units[variantKey(unit.ProductID, unit.ID)] = unit
}

// PutLot stores or replaces an inventory lot.
func (s *Store) PutLot(lot domain.InventoryLot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.lots[lot.ID] = lot
}

// SetLegacyStock sets the single-counter stock of a key.
func (s *Store) SetLegacyStock(key domain.StockKey, quantity int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.legacy[key] = quantity
}

// PutPromo stores or replaces a promo code.
func (s *Store) PutPromo(promo domain.PromoCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.promos[promo.ID] = promo
}

// PutCustomerCredit stores or replaces a customer ledger row.
func (s *Store) PutCustomerCredit(credit domain.CustomerCredit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.credits[credit.CustomerID] = credit
}

// AddCreditDocument records a payment, credit note or backoffice sale.
func (s *Store) AddCreditDocument(doc domain.CreditDocument) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.documents = append(s.state.documents, doc)
}

// PutCart replaces a customer's cart.
func (s *Store) PutCart(customerID string, items []domain.CartItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.carts[customerID] = append([]domain.CartItem(nil), items...)
}

// PutPickupLocation stores or replaces a pickup location.
func (s *Store) PutPickupLocation(location domain.PickupLocation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.pickups[location.ID] = location
}

// Lot returns a lot by id.
func (s *Store) Lot(id string) (domain.InventoryLot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lot, ok := s.state.lots[id]
	return lot, ok
}

// Promo returns a promo code by id.
func (s *Store) Promo(id string) (domain.PromoCode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	promo, ok := s.state.promos[id]
	return promo, ok
}

// Credit returns a customer ledger row.
func (s *Store) Credit(customerID string) (domain.CustomerCredit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	credit, ok := s.state.credits[customerID]
	return credit, ok
}

// Available sums remaining quantity over the lots of a key, or returns the legacy counter when
// the key has no lots.
func (s *Store) Available(key domain.StockKey) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total, hasLots := 0, false
	for _, lot := range s.state.lots {
		if lot.Key == key {
			total += lot.Remaining
			hasLots = true
		}
	}
	if !hasLots {
		return s.state.legacy[key]
	}
	return total
}

// OrderCount returns the number of persisted orders.
func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.orders)
}

// AllocationCount returns the number of allocation records for an order.
func (s *Store) AllocationCount(orderID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.allocations[orderID])
}

// Seed is the YAML layout accepted by LoadSeedFile. Prices are in cents.
type Seed struct {
	Products []struct {
		ID              string  `yaml:"id"`
		Name            string  `yaml:"name"`
		Price           int64   `yaml:"price"`
		PromoPercent    float64 `yaml:"promo_percent"`
		RequiresVariant bool    `yaml:"requires_variant"`
		WeightKg        float64 `yaml:"weight_kg"`
		CostBasis       int64   `yaml:"cost_basis"`
		Stock           int     `yaml:"stock"`
		Variants        []struct {
			ID    string `yaml:"id"`
			Name  string `yaml:"name"`
			Price *int64 `yaml:"price"`
			Stock int    `yaml:"stock"`
		} `yaml:"variants"`
		Units []struct {
			ID     string  `yaml:"id"`
			Name   string  `yaml:"name"`
			Factor float64 `yaml:"factor"`
		} `yaml:"units"`
		Lots []struct {
			ID        string    `yaml:"id"`
			VariantID string    `yaml:"variant_id"`
			Price     int64     `yaml:"price"`
			Cost      int64     `yaml:"cost"`
			Remaining int       `yaml:"remaining"`
			ArrivedAt time.Time `yaml:"arrived_at"`
		} `yaml:"lots"`
	} `yaml:"products"`
	Promos []struct {
		ID             string  `yaml:"id"`
		Code           string  `yaml:"code"`
		Type           string  `yaml:"type"`
		Value          float64 `yaml:"value"`
		MaxDiscount    *int64  `yaml:"max_discount"`
		MinOrderAmount *int64  `yaml:"min_order_amount"`
		MaxRedemptions *int    `yaml:"max_redemptions"`
	} `yaml:"promos"`
	Customers []struct {
		ID             string `yaml:"id"`
		Remise         int64  `yaml:"remise"`
		CreditEligible bool   `yaml:"credit_eligible"`
		Plafond        *int64 `yaml:"plafond"`
	} `yaml:"customers"`
	PickupLocations []struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
		City string `yaml:"city"`
		Line string `yaml:"line1"`
	} `yaml:"pickup_locations"`
}

// LoadSeedFile reads a YAML seed and applies it to the store.
func (s *Store) LoadSeedFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("memory: read seed: %w", err)
	}
	var seed Seed
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return fmt.Errorf("memory: parse seed: %w", err)
	}
	s.ApplySeed(seed)
	return nil
}

// ApplySeed writes every seeded record into the store.
func (s *Store) ApplySeed(seed Seed) {
	for _, p := range seed.Products {
		s.PutProduct(domain.Product{
			ID: p.ID, Name: p.Name, Published: true, BasePrice: p.Price, PromoPercent: p.PromoPercent,
			RequiresVariant: p.RequiresVariant, WeightKg: p.WeightKg, CostBasis: p.CostBasis,
		})
		s.SetLegacyStock(domain.StockKey{ProductID: p.ID}, p.Stock)
		for _, v := range p.Variants {
			s.PutVariant(domain.ProductVariant{ID: v.ID, ProductID: p.ID, Name: v.Name, Price: v.Price})
			s.SetLegacyStock(domain.StockKey{ProductID: p.ID, VariantID: v.ID}, v.Stock)
		}
		for _, u := range p.Units {
			s.PutUnit(domain.ProductUnit{ID: u.ID, ProductID: p.ID, Name: u.Name, ConversionFactor: u.Factor})
		}
		for _, l := range p.Lots {
			s.PutLot(domain.InventoryLot{
				ID: l.ID, Key: domain.StockKey{ProductID: p.ID, VariantID: l.VariantID},
				SalePrice: l.Price, CostPrice: l.Cost, Remaining: l.Remaining, ArrivedAt: l.ArrivedAt,
			})
		}
	}
	for _, p := range seed.Promos {
		s.PutPromo(domain.PromoCode{
			ID: p.ID, Code: p.Code, DiscountType: domain.PromoDiscountType(p.Type), Value: p.Value,
			MaxDiscount: p.MaxDiscount, MinOrderAmount: p.MinOrderAmount, MaxRedemptions: p.MaxRedemptions, Active: true,
		})
	}
	for _, c := range seed.Customers {
		s.PutCustomerCredit(domain.CustomerCredit{
			CustomerID: c.ID, RemiseBalance: c.Remise, CreditEligible: c.CreditEligible, Plafond: c.Plafond,
		})
	}
	for _, l := range seed.PickupLocations {
		s.PutPickupLocation(domain.PickupLocation{
			ID: l.ID, Name: l.Name, Active: true,
			Address: domain.Address{Recipient: l.Name, Line1: l.Line, City: l.City, Country: "MA"},
		})
	}
}
