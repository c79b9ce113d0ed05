package services

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	domain "github.com/batimat/api/internal/domain"
)

const earthRadiusKm = 6371.0

// DistanceBand applies RatePerKm (cents) from FromKm up to the next band.
type DistanceBand struct {
	FromKm    float64
	RatePerKm int64
}

// ShippingRules parameterises the shipping decision table. Amounts are cents, weights kg.
type ShippingRules struct {
	Origin               domain.Coordinates
	Currency             string
	Locale               string
	FlatFee              int64
	UnweightedFreeMargin int64
	FreeAboveWeightKg    float64
	LightMaxWeightKg     float64
	LightFreeMargin      int64
	HeavyMaxWeightKg     float64
	HeavyFreeMargin      int64
	Bands                []DistanceBand
}

// DefaultShippingRules returns the store's standard table with a Casablanca origin.
func DefaultShippingRules() ShippingRules {
	return ShippingRules{
		Origin:               domain.Coordinates{Latitude: 33.5731, Longitude: -7.5898},
		Currency:             "MAD",
		Locale:               "fr",
		FlatFee:              3000,
		UnweightedFreeMargin: 20000,
		FreeAboveWeightKg:    5000,
		LightMaxWeightKg:     2000,
		LightFreeMargin:      50000,
		HeavyMaxWeightKg:     5000,
		HeavyFreeMargin:      100000,
		Bands: []DistanceBand{
			{FromKm: 0, RatePerKm: 2500},
			{FromKm: 2, RatePerKm: 2000},
			{FromKm: 4, RatePerKm: 1700},
			{FromKm: 6, RatePerKm: 1200},
		},
	}
}

// ShippingRequest is the quoter input: priced lines, method and destination.
type ShippingRequest struct {
	Method      domain.DeliveryMethod
	Lines       []PricedLine
	Destination *Coordinates
}

type shippingBasis int

const (
	shippingPickup shippingBasis = iota
	shippingFree
	shippingFlat
	shippingDistance
)

// ShippingDecision carries the fee. The basis is kept unexported so it never reaches a response.
type ShippingDecision struct {
	Fee   int64
	basis shippingBasis
}

// ShippingQuoter evaluates the shipping decision table.
type ShippingQuoter struct {
	rules   ShippingRules
	unit    currency.Unit
	printer *message.Printer
}

// NewShippingQuoter validates the rules and builds a quoter.
func NewShippingQuoter(rules ShippingRules) (*ShippingQuoter, error) {
	if len(rules.Bands) == 0 {
		return nil, errors.New("shipping quoter: at least one distance band is required")
	}
	bands := slices.Clone(rules.Bands)
	slices.SortFunc(bands, func(a, b DistanceBand) int {
		switch {
		case a.FromKm < b.FromKm:
			return -1
		case a.FromKm > b.FromKm:
			return 1
		}
		return 0
	})
	if bands[0].FromKm != 0 {
		return nil, errors.New("shipping quoter: first distance band must start at 0 km")
	}
	rules.Bands = bands
	if !rules.Origin.Valid() {
		return nil, errors.New("shipping quoter: store origin coordinates are invalid")
	}

	unit, err := currency.ParseISO(strings.TrimSpace(rules.Currency))
	if err != nil {
		return nil, fmt.Errorf("shipping quoter: currency %q: %w", rules.Currency, err)
	}
	tag, err := language.Parse(firstNonEmpty(rules.Locale, "fr"))
	if err != nil {
		return nil, fmt.Errorf("shipping quoter: locale %q: %w", rules.Locale, err)
	}

	return &ShippingQuoter{
		rules:   rules,
		unit:    unit,
		printer: message.NewPrinter(tag),
	}, nil
}

// Quote decides the fee for the request.
func (q *ShippingQuoter) Quote(req ShippingRequest) ShippingDecision {
	if req.Method == domain.DeliveryMethodPickup {
		return ShippingDecision{basis: shippingPickup}
	}

	var (
		weight float64
		margin int64
	)
	for _, line := range req.Lines {
		weight += line.LineWeight()
		margin += line.LineMargin()
	}

	r := q.rules
	if weight == 0 {
		if margin >= r.UnweightedFreeMargin {
			return ShippingDecision{basis: shippingFree}
		}
		return ShippingDecision{Fee: r.FlatFee, basis: shippingFlat}
	}
	switch {
	case weight > r.FreeAboveWeightKg:
		return ShippingDecision{basis: shippingFree}
	case weight <= r.LightMaxWeightKg && margin >= r.LightFreeMargin:
		return ShippingDecision{basis: shippingFree}
	case weight <= r.HeavyMaxWeightKg && margin >= r.HeavyFreeMargin:
		return ShippingDecision{basis: shippingFree}
	}

	distance, ok := haversineKm(&r.Origin, req.Destination)
	if !ok {
		return ShippingDecision{Fee: r.FlatFee, basis: shippingFlat}
	}
	return ShippingDecision{
		Fee:   domain.RoundCents(distance * float64(q.rateFor(distance))),
		basis: shippingDistance,
	}
}

func (q *ShippingQuoter) rateFor(distanceKm float64) int64 {
	rate := q.rules.Bands[0].RatePerKm
	for _, band := range q.rules.Bands {
		if distanceKm >= band.FromKm {
			rate = band.RatePerKm
		}
	}
	return rate
}

// Label renders the customer-facing shipping line.
func (q *ShippingQuoter) Label(decision ShippingDecision) string {
	switch {
	case decision.basis == shippingPickup:
		return q.printer.Sprintf("Retrait en magasin")
	case decision.Fee == 0:
		return q.printer.Sprintf("Livraison offerte")
	}
	amount := number.Decimal(float64(decision.Fee)/100, number.Scale(2))
	return q.printer.Sprintf("Livraison : %v %v", amount, q.unit)
}

// Currency returns the ISO code fees are expressed in.
func (q *ShippingQuoter) Currency() string {
	return q.unit.String()
}

// haversineKm returns the great-circle distance, or false when either point is unusable.
func haversineKm(from, to *Coordinates) (float64, bool) {
	if !from.Valid() || !to.Valid() {
		return 0, false
	}
	lat1 := from.Latitude * math.Pi / 180
	lat2 := to.Latitude * math.Pi / 180
	dLat := lat2 - lat1
	dLng := (to.Longitude - from.Longitude) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	distance := earthRadiusKm * c
	if math.IsNaN(distance) {
		return 0, false
	}
	return distance, true
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
