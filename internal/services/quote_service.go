package services

import (
	"context"
	"errors"
	"fmt"
)

// QuoteServiceDeps wires the quote service.
type QuoteServiceDeps struct {
	Pricing  PricingResolver
	Shipping *ShippingQuoter
}

type quoteService struct {
	pricing  PricingResolver
	shipping *ShippingQuoter
}

// NewQuoteService constructs a QuoteService.
func NewQuoteService(deps QuoteServiceDeps) (QuoteService, error) {
	if deps.Pricing == nil {
		return nil, errors.New("quote service: pricing resolver is required")
	}
	if deps.Shipping == nil {
		return nil, errors.New("quote service: shipping quoter is required")
	}
	return &quoteService{pricing: deps.Pricing, shipping: deps.Shipping}, nil
}

func (s *quoteService) Quote(ctx context.Context, cmd QuoteCommand) (QuoteResult, error) {
	if !cmd.DeliveryMethod.Valid() {
		return QuoteResult{}, fmt.Errorf("%w: delivery method %q", ErrCheckoutInvalidInput, cmd.DeliveryMethod)
	}
	if len(cmd.Items) == 0 {
		return QuoteResult{}, fmt.Errorf("%w: items are required", ErrCheckoutInvalidInput)
	}
	if err := validateItems(cmd.Items); err != nil {
		return QuoteResult{}, err
	}

	lines := make([]PricedLine, 0, len(cmd.Items))
	var result QuoteResult
	for _, item := range cmd.Items {
		line, err := s.pricing.Resolve(ctx, item)
		if err != nil {
			return QuoteResult{}, err
		}
		lines = append(lines, line)
		result.Subtotal += line.Subtotal
		result.ItemCount += line.Quantity
	}

	decision := s.shipping.Quote(ShippingRequest{
		Method:      cmd.DeliveryMethod,
		Lines:       lines,
		Destination: cmd.Destination,
	})
	result.ShippingCost = decision.Fee
	result.Total = result.Subtotal + decision.Fee
	result.ShippingLabel = s.shipping.Label(decision)
	return result, nil
}
