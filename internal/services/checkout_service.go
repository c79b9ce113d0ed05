package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/batimat/api/internal/domain"
	"github.com/batimat/api/internal/repositories"
)

const (
	maxCheckoutLines    = 100
	maxOrderNotesLength = 2000
	orderCounterScope   = "orders"
	orderNumberTemplate = "CMD-%04d-%06d"
)

// forbiddenPaymentFields are raw card attributes this service must never receive. Keys are
// compared lowercased with separators removed.
var forbiddenPaymentFields = []string{
	"cardnumber", "number", "pan", "cvc", "cvv", "cvv2", "securitycode",
	"expiry", "expirydate", "expmonth", "expyear", "expirationdate",
}

// CheckoutServiceDeps wires the checkout orchestrator.
type CheckoutServiceDeps struct {
	UnitOfWork      repositories.UnitOfWork
	Pricing         PricingResolver
	Inventory       InventoryService
	Shipping        *ShippingQuoter
	Promos          PromoValidator
	Credit          CreditLedger
	Orders          repositories.OrderRepository
	Counters        repositories.CounterRepository
	Carts           repositories.CartRepository
	PickupLocations repositories.PickupLocationRepository
	Events          OrderEventPublisher
	Sanitizer       func(string) string
	Meter           metric.Meter
	Clock           func() time.Time
	IDGenerator     func() string
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	uow       repositories.UnitOfWork
	pricing   PricingResolver
	inventory InventoryService
	shipping  *ShippingQuoter
	promos    PromoValidator
	credit    CreditLedger
	orders    repositories.OrderRepository
	counters  repositories.CounterRepository
	carts     repositories.CartRepository
	pickups   repositories.PickupLocationRepository
	events    OrderEventPublisher
	sanitize  func(string) string
	metrics   *orderMetrics
	now       func() time.Time
	newID     func() string
	logger    func(ctx context.Context, event string, fields map[string]any)
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	switch {
	case deps.Pricing == nil:
		return nil, errors.New("checkout service: pricing resolver is required")
	case deps.Inventory == nil:
		return nil, errors.New("checkout service: inventory service is required")
	case deps.Shipping == nil:
		return nil, errors.New("checkout service: shipping quoter is required")
	case deps.Promos == nil:
		return nil, errors.New("checkout service: promo validator is required")
	case deps.Credit == nil:
		return nil, errors.New("checkout service: credit ledger is required")
	case deps.Orders == nil:
		return nil, errors.New("checkout service: order repository is required")
	case deps.Counters == nil:
		return nil, errors.New("checkout service: counter repository is required")
	}

	uow := deps.UnitOfWork
	if uow == nil {
		uow = noopUnitOfWork{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	sanitize := deps.Sanitizer
	if sanitize == nil {
		sanitize = strings.TrimSpace
	}

	return &checkoutService{
		uow:       uow,
		pricing:   deps.Pricing,
		inventory: deps.Inventory,
		shipping:  deps.Shipping,
		promos:    deps.Promos,
		credit:    deps.Credit,
		orders:    deps.Orders,
		counters:  deps.Counters,
		carts:     deps.Carts,
		pickups:   deps.PickupLocations,
		events:    deps.Events,
		sanitize:  sanitize,
		metrics:   newOrderMetrics(deps.Meter),
		now: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// checkoutRun tracks the current stage of one invocation.
type checkoutRun struct {
	stage CheckoutStage
}

func (r *checkoutRun) enter(stage CheckoutStage) {
	r.stage = stage
}

// Checkout validates, prices, discounts, authorises credit, allocates stock and persists the
// order in one transaction. Any failure rolls everything back and is reported with its stage.
func (s *checkoutService) Checkout(ctx context.Context, cmd CheckoutCommand) (Order, error) {
	started := s.now()
	run := &checkoutRun{stage: StageValidating}

	order, err := s.checkout(ctx, cmd, run)
	if err != nil {
		kind := ErrorKind(err)
		s.metrics.recordCheckout(ctx, run.stage, kind, s.now().Sub(started))
		s.logger(ctx, "checkout.aborted", map[string]any{
			"stage":      string(run.stage),
			"kind":       kind,
			"customerID": cmd.CustomerID,
			"error":      err.Error(),
		})
		return Order{}, &CheckoutAbortedError{Stage: run.stage, Err: err}
	}

	run.enter(StageCommitted)
	s.metrics.recordCheckout(ctx, run.stage, "", s.now().Sub(started))
	s.logger(ctx, "checkout.committed", map[string]any{
		"orderID":     order.ID,
		"orderNumber": order.OrderNumber,
		"customerID":  order.CustomerID,
		"total":       order.TotalAmount,
		"lines":       len(order.Lines),
	})
	s.publishEvent(ctx, OrderEvent{
		Type:          OrderEventCreated,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CustomerID:    order.CustomerID,
		CurrentStatus: string(order.Status),
		TotalAmount:   order.TotalAmount,
		Currency:      order.Currency,
		OccurredAt:    order.CreatedAt,
	})
	return order, nil
}

func (s *checkoutService) checkout(ctx context.Context, cmd CheckoutCommand, run *checkoutRun) (Order, error) {
	cmd, err := normaliseCheckoutCommand(cmd)
	if err != nil {
		return Order{}, err
	}
	items, err := s.checkoutItems(ctx, cmd)
	if err != nil {
		return Order{}, err
	}
	var pickup *domain.PickupLocation
	if cmd.DeliveryMethod == domain.DeliveryMethodPickup {
		location, err := s.pickupLocation(ctx, cmd.PickupLocationID)
		if err != nil {
			return Order{}, err
		}
		pickup = &location
	}

	var order Order
	err = s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		order = s.newOrder(cmd, pickup)

		run.enter(StagePricing)
		priced, err := s.priceOrder(txCtx, &order, items)
		if err != nil {
			return err
		}
		var destination *Coordinates
		if cmd.ShippingAddress != nil {
			destination = cmd.ShippingAddress.Coordinates
		}
		shipping := s.shipping.Quote(ShippingRequest{
			Method:      cmd.DeliveryMethod,
			Lines:       priced,
			Destination: destination,
		})
		order.ShippingCost = shipping.Fee

		run.enter(StageDiscounting)
		if cmd.PromoCode != "" {
			promo, err := s.promos.Validate(txCtx, cmd.PromoCode, order.Subtotal)
			if err != nil {
				return err
			}
			order.PromoCode = promo.Code
			order.PromoCodeID = promo.PromoID
			order.PromoDiscount = promo.Discount
		}
		order.TotalAmount = max(0, order.Subtotal+order.Tax+order.ShippingCost-order.PromoDiscount)

		run.enter(StageAuthorizingCredit)
		if err := s.authorizeCredit(txCtx, cmd, &order); err != nil {
			return err
		}

		run.enter(StageAllocatingStock)
		allocations, err := s.allocateStock(txCtx, order)
		if err != nil {
			return err
		}

		run.enter(StagePersisting)
		return s.persist(txCtx, cmd, &order, allocations)
	})
	if err != nil {
		return Order{}, err
	}
	return order, nil
}

func normaliseCheckoutCommand(cmd CheckoutCommand) (CheckoutCommand, error) {
	cmd.CustomerID = strings.TrimSpace(cmd.CustomerID)
	cmd.PromoCode = strings.TrimSpace(cmd.PromoCode)
	cmd.PickupLocationID = strings.TrimSpace(cmd.PickupLocationID)

	for key := range cmd.PaymentDetails {
		if IsForbiddenPaymentField(key) {
			return cmd, fmt.Errorf("%w: %s", ErrCheckoutForbiddenField, key)
		}
	}
	if !cmd.DeliveryMethod.Valid() {
		return cmd, fmt.Errorf("%w: delivery method %q", ErrCheckoutInvalidInput, cmd.DeliveryMethod)
	}
	if !cmd.PaymentMethod.Valid() {
		return cmd, fmt.Errorf("%w: payment method %q", ErrCheckoutInvalidInput, cmd.PaymentMethod)
	}
	if cmd.DeliveryMethod == domain.DeliveryMethodPickup && cmd.PaymentMethod == domain.PaymentMethodCashOnDelivery {
		return cmd, ErrCheckoutDeliveryPaymentMismatch
	}

	switch cmd.DeliveryMethod {
	case domain.DeliveryMethodPickup:
		if cmd.PickupLocationID == "" {
			return cmd, fmt.Errorf("%w: pickup location is required", ErrCheckoutInvalidInput)
		}
	case domain.DeliveryMethodDelivery:
		addr := cmd.ShippingAddress
		if addr == nil || strings.TrimSpace(addr.Line1) == "" || strings.TrimSpace(addr.City) == "" {
			return cmd, fmt.Errorf("%w: shipping address is required", ErrCheckoutInvalidInput)
		}
	}

	if cmd.CustomerID == "" {
		if cmd.PaymentMethod == domain.PaymentMethodSolde || cmd.Remise.Requested() {
			return cmd, ErrCreditAuthRequired
		}
		if cmd.UseCart {
			return cmd, fmt.Errorf("%w: cart checkout requires a customer", ErrCheckoutInvalidInput)
		}
		guest := cmd.Guest
		if guest == nil || strings.TrimSpace(guest.Name) == "" ||
			(strings.TrimSpace(guest.Email) == "" && strings.TrimSpace(guest.Phone) == "") {
			return cmd, fmt.Errorf("%w: guest name and contact are required", ErrCheckoutInvalidInput)
		}
	}
	if cmd.Remise != nil && cmd.Remise.Amount < 0 {
		return cmd, fmt.Errorf("%w: remise amount must not be negative", ErrCheckoutInvalidInput)
	}

	if cmd.UseCart == (len(cmd.Items) > 0) {
		return cmd, fmt.Errorf("%w: provide either items or useCart", ErrCheckoutInvalidInput)
	}
	if err := validateItems(cmd.Items); err != nil {
		return cmd, err
	}
	return cmd, nil
}

func validateItems(items []PriceRequest) error {
	if len(items) > maxCheckoutLines {
		return fmt.Errorf("%w: at most %d lines", ErrCheckoutInvalidInput, maxCheckoutLines)
	}
	for i, item := range items {
		if strings.TrimSpace(item.ProductID) == "" {
			return fmt.Errorf("%w: items[%d].productId is required", ErrCheckoutInvalidInput, i)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: items[%d].quantity must be positive", ErrCheckoutInvalidInput, i)
		}
	}
	return nil
}

// IsForbiddenPaymentField reports whether key names raw card data (number, CVV, expiry),
// ignoring case and separators.
func IsForbiddenPaymentField(key string) bool {
	normalised := strings.Map(func(r rune) rune {
		switch r {
		case '_', '-', ' ', '.':
			return -1
		}
		return r
	}, strings.ToLower(key))
	return slices.Contains(forbiddenPaymentFields, normalised)
}

func (s *checkoutService) checkoutItems(ctx context.Context, cmd CheckoutCommand) ([]PriceRequest, error) {
	if !cmd.UseCart {
		return cmd.Items, nil
	}
	if s.carts == nil {
		return nil, fmt.Errorf("%w: cart checkout is not configured", ErrCheckoutInvalidInput)
	}
	cartItems, err := s.carts.GetCartItems(ctx, cmd.CustomerID)
	if err != nil {
		return nil, translateRepoError("checkout.cart", err, ErrCheckoutInvalidInput)
	}
	if len(cartItems) == 0 {
		return nil, fmt.Errorf("%w: cart is empty", ErrCheckoutInvalidInput)
	}
	items := make([]PriceRequest, 0, len(cartItems))
	for _, item := range cartItems {
		items = append(items, PriceRequest{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			UnitID:    item.UnitID,
			Quantity:  item.Quantity,
		})
	}
	if err := validateItems(items); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *checkoutService) pickupLocation(ctx context.Context, id string) (domain.PickupLocation, error) {
	if s.pickups == nil {
		return domain.PickupLocation{}, fmt.Errorf("%w: pickup is not configured", ErrCheckoutInvalidInput)
	}
	location, err := s.pickups.FindByID(ctx, id)
	if err != nil {
		return domain.PickupLocation{}, translateRepoError("checkout.pickup_location", err, ErrCheckoutInvalidInput)
	}
	if !location.Active {
		return domain.PickupLocation{}, fmt.Errorf("%w: pickup location %s is closed", ErrCheckoutInvalidInput, id)
	}
	return location, nil
}

func (s *checkoutService) newOrder(cmd CheckoutCommand, pickup *domain.PickupLocation) Order {
	now := s.now()
	order := Order{
		ID:             s.newID(),
		CustomerID:     cmd.CustomerID,
		DeliveryMethod: cmd.DeliveryMethod,
		PaymentMethod:  cmd.PaymentMethod,
		Status:         domain.OrderStatusPending,
		PaymentStatus:  domain.PaymentStatusPending,
		Currency:       s.shipping.Currency(),
		Notes:          truncate(s.sanitize(cmd.Notes), maxOrderNotesLength),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if cmd.CustomerID == "" && cmd.Guest != nil {
		guest := *cmd.Guest
		order.Guest = &guest
	}
	if pickup != nil {
		addr := pickup.Address
		order.ShippingAddress = &addr
		order.PickupLocationID = pickup.ID
	} else if cmd.ShippingAddress != nil {
		addr := *cmd.ShippingAddress
		order.ShippingAddress = &addr
	}
	return order
}

func (s *checkoutService) priceOrder(ctx context.Context, order *Order, items []PriceRequest) ([]PricedLine, error) {
	order.Lines = make([]OrderLine, 0, len(items))
	lines := make([]PricedLine, 0, len(items))
	for _, item := range items {
		priced, err := s.pricing.Resolve(ctx, item)
		if err != nil {
			return nil, err
		}
		lines = append(lines, priced)
		order.Lines = append(order.Lines, OrderLine{
			ID:              s.newID(),
			OrderID:         order.ID,
			ProductID:       priced.ProductID,
			VariantID:       priced.VariantID,
			UnitID:          priced.UnitID,
			ProductName:     priced.ProductName,
			VariantName:     priced.VariantName,
			UnitName:        priced.UnitName,
			ListPrice:       priced.ListPrice,
			UnitPrice:       priced.UnitPrice,
			Quantity:        priced.Quantity,
			StockQuantity:   priced.StockQuantity,
			Subtotal:        priced.Subtotal,
			DiscountPercent: priced.DiscountPercent,
			DiscountAmount:  priced.DiscountAmount,
			CostBasis:       priced.CostBasis,
			CostSource:      priced.CostSource,
			PriceLotID:      priced.PriceLotID,
		})
		order.Subtotal += priced.Subtotal
		order.DiscountAmount += priced.DiscountAmount
	}
	return lines, nil
}

// authorizeCredit locks the ledger row, spends remise and checks the solde ceiling. The ledger
// is the first row locked by a checkout.
func (s *checkoutService) authorizeCredit(ctx context.Context, cmd CheckoutCommand, order *Order) error {
	isSolde := cmd.PaymentMethod == domain.PaymentMethodSolde
	if !isSolde && !cmd.Remise.Requested() {
		s.settlePaymentStatus(order)
		return nil
	}
	credit, err := s.credit.Lock(ctx, cmd.CustomerID)
	if err != nil {
		return err
	}

	if cmd.Remise.Requested() {
		spent, err := s.credit.SpendRemise(ctx, credit, *cmd.Remise, order.TotalAmount)
		if err != nil {
			return err
		}
		order.RemiseUsedAmount = spent
		distributeRemise(order.Lines, spent)
	}

	if isSolde {
		creditAmount := max(0, order.TotalAmount-order.RemiseUsedAmount)
		if creditAmount > 0 {
			if err := s.credit.AuthorizeSolde(ctx, credit, creditAmount); err != nil {
				return err
			}
			order.IsCreditSale = true
			order.CreditAmount = creditAmount
		}
	}
	s.settlePaymentStatus(order)
	return nil
}

func (s *checkoutService) settlePaymentStatus(order *Order) {
	if order.TotalAmount-order.RemiseUsedAmount <= 0 {
		order.PaymentStatus = domain.PaymentStatusPaid
		return
	}
	order.PaymentStatus = domain.PaymentStatusPending
}

// distributeRemise spreads the spent remise over lines pro rata to their subtotal; the last
// line absorbs the rounding remainder. Lines carry at most their subtotals, so the part spent on
// shipping stays on the order only.
func distributeRemise(lines []OrderLine, spent int64) {
	if spent <= 0 || len(lines) == 0 {
		return
	}
	var total int64
	for _, line := range lines {
		total += line.Subtotal
	}
	if total <= 0 {
		return
	}
	spent = min(spent, total)
	remaining := spent
	for i := range lines {
		share := spent * lines[i].Subtotal / total
		if i == len(lines)-1 {
			share = remaining
		}
		share = min(share, remaining)
		remaining -= share
		lines[i].LoyaltyAmount = share
		if lines[i].Subtotal > 0 {
			lines[i].LoyaltyPercent = math.Round(float64(share)/float64(lines[i].Subtotal)*10000) / 100
		}
	}
}

// allocateStock draws every line from its lots. Keys are visited in a fixed order so concurrent
// checkouts lock lots in the same sequence.
func (s *checkoutService) allocateStock(ctx context.Context, order Order) ([]Allocation, error) {
	lines := slices.Clone(order.Lines)
	slices.SortStableFunc(lines, func(a, b OrderLine) int {
		return compareStockKeys(
			StockKey{ProductID: a.ProductID, VariantID: a.VariantID},
			StockKey{ProductID: b.ProductID, VariantID: b.VariantID},
		)
	})
	var allocations []Allocation
	for _, line := range lines {
		allocated, err := s.inventory.Allocate(ctx, AllocateCommand{
			OrderID:     order.ID,
			OrderLineID: line.ID,
			Key:         StockKey{ProductID: line.ProductID, VariantID: line.VariantID},
			Quantity:    line.StockQuantity,
		})
		if err != nil {
			return nil, err
		}
		allocations = append(allocations, allocated...)
	}
	return allocations, nil
}

func (s *checkoutService) persist(ctx context.Context, cmd CheckoutCommand, order *Order, allocations []Allocation) error {
	if order.PromoCodeID != "" {
		if err := s.promos.Redeem(ctx, order.PromoCodeID); err != nil {
			return err
		}
	}

	seq, err := s.counters.Next(ctx, fmt.Sprintf("%s-%04d", orderCounterScope, order.CreatedAt.Year()), order.CreatedAt)
	if err != nil {
		return translateRepoError("checkout.order_number", err, nil)
	}
	order.OrderNumber = fmt.Sprintf(orderNumberTemplate, order.CreatedAt.Year(), seq)

	if err := s.orders.Insert(ctx, *order); err != nil {
		return translateRepoError("checkout.insert_order", err, nil)
	}
	if err := s.inventory.Record(ctx, allocations); err != nil {
		return err
	}
	if err := s.orders.AppendStatusHistory(ctx, OrderStatusChange{
		ID:        s.newID(),
		OrderID:   order.ID,
		To:        order.Status,
		ActorID:   firstNonEmpty(cmd.CustomerID, "guest"),
		Reason:    "order placed",
		CreatedAt: order.CreatedAt,
	}); err != nil {
		return translateRepoError("checkout.status_history", err, nil)
	}
	if cmd.UseCart && s.carts != nil {
		if err := s.carts.ClearCart(ctx, cmd.CustomerID); err != nil {
			return translateRepoError("checkout.clear_cart", err, nil)
		}
	}
	return nil
}

func (s *checkoutService) publishEvent(ctx context.Context, event OrderEvent) {
	publishOrderEvent(ctx, s.events, s.logger, event)
}

func publishOrderEvent(ctx context.Context, publisher OrderEventPublisher, logger func(context.Context, string, map[string]any), event OrderEvent) {
	if publisher == nil {
		return
	}
	if err := publisher.PublishOrderEvent(ctx, event); err != nil {
		logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return nil
	}
	return fn(ctx)
}
