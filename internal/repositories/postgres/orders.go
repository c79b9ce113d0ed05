package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"

	domain "github.com/batimat/api/internal/domain"
	"github.com/batimat/api/internal/platform/postgres"
)

type orderRepo struct{ db *postgres.DB }

type addressDoc struct {
	Recipient  string   `json:"recipient"`
	Line1      string   `json:"line1"`
	Line2      *string  `json:"line2,omitempty"`
	City       string   `json:"city"`
	PostalCode string   `json:"postalCode"`
	Country    string   `json:"country"`
	Phone      *string  `json:"phone,omitempty"`
	Latitude   *float64 `json:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty"`
}

func newAddressDoc(a domain.Address) addressDoc {
	doc := addressDoc{
		Recipient:  a.Recipient,
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		PostalCode: a.PostalCode,
		Country:    a.Country,
		Phone:      a.Phone,
	}
	if a.Coordinates != nil {
		doc.Latitude = &a.Coordinates.Latitude
		doc.Longitude = &a.Coordinates.Longitude
	}
	return doc
}

func (d addressDoc) toDomain() domain.Address {
	address := domain.Address{
		Recipient:  d.Recipient,
		Line1:      d.Line1,
		Line2:      d.Line2,
		City:       d.City,
		PostalCode: d.PostalCode,
		Country:    d.Country,
		Phone:      d.Phone,
	}
	if d.Latitude != nil && d.Longitude != nil {
		address.Coordinates = &domain.Coordinates{Latitude: *d.Latitude, Longitude: *d.Longitude}
	}
	return address
}

type guestDoc struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type orderRow struct {
	ID               string         `db:"id"`
	OrderNumber      string         `db:"order_number"`
	CustomerID       string         `db:"customer_id"`
	Guest            sql.NullString `db:"guest"`
	DeliveryMethod   string         `db:"delivery_method"`
	PaymentMethod    string         `db:"payment_method"`
	Status           string         `db:"status"`
	PaymentStatus    string         `db:"payment_status"`
	Currency         string         `db:"currency"`
	Subtotal         int64          `db:"subtotal"`
	Tax              int64          `db:"tax"`
	ShippingCost     int64          `db:"shipping_cost"`
	DiscountAmount   int64          `db:"discount_amount"`
	PromoCode        string         `db:"promo_code"`
	PromoCodeID      string         `db:"promo_code_id"`
	PromoDiscount    int64          `db:"promo_discount"`
	TotalAmount      int64          `db:"total_amount"`
	RemiseUsedAmount int64          `db:"remise_used_amount"`
	IsCreditSale     bool           `db:"is_credit_sale"`
	CreditAmount     int64          `db:"credit_amount"`
	ShippingAddress  sql.NullString `db:"shipping_address"`
	PickupLocationID string         `db:"pickup_location_id"`
	Notes            string         `db:"notes"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
	ConfirmedAt      sql.NullTime   `db:"confirmed_at"`
	ShippedAt        sql.NullTime   `db:"shipped_at"`
	DeliveredAt      sql.NullTime   `db:"delivered_at"`
	CancelledAt      sql.NullTime   `db:"cancelled_at"`
	CancelReason     sql.NullString `db:"cancel_reason"`
}

type orderLineRow struct {
	ID              string  `db:"id"`
	OrderID         string  `db:"order_id"`
	Position        int     `db:"position"`
	ProductID       string  `db:"product_id"`
	VariantID       string  `db:"variant_id"`
	UnitID          string  `db:"unit_id"`
	ProductName     string  `db:"product_name"`
	VariantName     string  `db:"variant_name"`
	UnitName        string  `db:"unit_name"`
	ListPrice       int64   `db:"list_price"`
	UnitPrice       int64   `db:"unit_price"`
	Quantity        int     `db:"quantity"`
	StockQuantity   int     `db:"stock_quantity"`
	Subtotal        int64   `db:"subtotal"`
	DiscountPercent float64 `db:"discount_percent"`
	DiscountAmount  int64   `db:"discount_amount"`
	LoyaltyPercent  float64 `db:"loyalty_percent"`
	LoyaltyAmount   int64   `db:"loyalty_amount"`
	CostBasis       int64   `db:"cost_basis"`
	CostSource      string  `db:"cost_source"`
	PriceLotID      string  `db:"price_lot_id"`
}

const orderColumns = `id, order_number, customer_id, guest, delivery_method, payment_method, status, payment_status, currency,
subtotal, tax, shipping_cost, discount_amount, promo_code, promo_code_id, promo_discount, total_amount, remise_used_amount,
is_credit_sale, credit_amount, shipping_address, pickup_location_id, notes, created_at, updated_at,
confirmed_at, shipped_at, delivered_at, cancelled_at, cancel_reason`

const insertOrder = `INSERT INTO orders (` + orderColumns + `)
VALUES (:id, :order_number, :customer_id, :guest, :delivery_method, :payment_method, :status, :payment_status, :currency,
:subtotal, :tax, :shipping_cost, :discount_amount, :promo_code, :promo_code_id, :promo_discount, :total_amount, :remise_used_amount,
:is_credit_sale, :credit_amount, :shipping_address, :pickup_location_id, :notes, :created_at, :updated_at,
:confirmed_at, :shipped_at, :delivered_at, :cancelled_at, :cancel_reason)`

const lineColumns = `id, order_id, position, product_id, variant_id, unit_id, product_name, variant_name, unit_name,
list_price, unit_price, quantity, stock_quantity, subtotal, discount_percent, discount_amount,
loyalty_percent, loyalty_amount, cost_basis, cost_source, price_lot_id`

const insertOrderLines = `INSERT INTO order_lines (` + lineColumns + `)
VALUES (:id, :order_id, :position, :product_id, :variant_id, :unit_id, :product_name, :variant_name, :unit_name,
:list_price, :unit_price, :quantity, :stock_quantity, :subtotal, :discount_percent, :discount_amount,
:loyalty_percent, :loyalty_amount, :cost_basis, :cost_source, :price_lot_id)`

func (r orderRepo) Insert(ctx context.Context, order domain.Order) error {
	row, err := newOrderRow(order)
	if err != nil {
		return postgres.Classify("orders.encode", err)
	}
	conn := r.db.Conn(ctx)
	if _, err := sqlx.NamedExecContext(ctx, conn, insertOrder, row); err != nil {
		return postgres.Classify("orders.insert", err)
	}
	if len(order.Lines) == 0 {
		return nil
	}
	lines := make([]orderLineRow, len(order.Lines))
	for i, line := range order.Lines {
		lines[i] = orderLineRow{
			ID:              line.ID,
			OrderID:         order.ID,
			Position:        i,
			ProductID:       line.ProductID,
			VariantID:       line.VariantID,
			UnitID:          line.UnitID,
			ProductName:     line.ProductName,
			VariantName:     line.VariantName,
			UnitName:        line.UnitName,
			ListPrice:       line.ListPrice,
			UnitPrice:       line.UnitPrice,
			Quantity:        line.Quantity,
			StockQuantity:   line.StockQuantity,
			Subtotal:        line.Subtotal,
			DiscountPercent: line.DiscountPercent,
			DiscountAmount:  line.DiscountAmount,
			LoyaltyPercent:  line.LoyaltyPercent,
			LoyaltyAmount:   line.LoyaltyAmount,
			CostBasis:       line.CostBasis,
			CostSource:      string(line.CostSource),
			PriceLotID:      line.PriceLotID,
		}
	}
	if _, err := sqlx.NamedExecContext(ctx, conn, insertOrderLines, lines); err != nil {
		return postgres.Classify("orders.insert_lines", err)
	}
	return nil
}

func (r orderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	return r.get(ctx, "orders.find", `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID)
}

func (r orderRepo) LockByID(ctx context.Context, orderID string) (domain.Order, error) {
	if err := requireTx(ctx, r.db, "orders.lock"); err != nil {
		return domain.Order{}, err
	}
	return r.get(ctx, "orders.lock", `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, orderID)
}

func (r orderRepo) get(ctx context.Context, op, query, orderID string) (domain.Order, error) {
	conn := r.db.Conn(ctx)
	var row orderRow
	if err := sqlx.GetContext(ctx, conn, &row, query, orderID); err != nil {
		return domain.Order{}, postgres.Classify(op, err)
	}
	var lines []orderLineRow
	if err := sqlx.SelectContext(ctx, conn, &lines,
		`SELECT `+lineColumns+` FROM order_lines WHERE order_id = $1 ORDER BY position`, orderID); err != nil {
		return domain.Order{}, postgres.Classify(op, err)
	}
	order, err := row.toDomain(lines)
	if err != nil {
		return domain.Order{}, postgres.Classify(op, err)
	}
	return order, nil
}

const updateOrderStatus = `UPDATE orders SET status = :status, payment_status = :payment_status, updated_at = :updated_at,
confirmed_at = :confirmed_at, shipped_at = :shipped_at, delivered_at = :delivered_at,
cancelled_at = :cancelled_at, cancel_reason = :cancel_reason
WHERE id = :id`

func (r orderRepo) UpdateStatus(ctx context.Context, order domain.Order) error {
	row, err := newOrderRow(order)
	if err != nil {
		return postgres.Classify("orders.encode", err)
	}
	res, err := sqlx.NamedExecContext(ctx, r.db.Conn(ctx), updateOrderStatus, row)
	if err != nil {
		return postgres.Classify("orders.update_status", err)
	}
	if affected, err := res.RowsAffected(); err != nil {
		return postgres.Classify("orders.update_status", err)
	} else if affected == 0 {
		return postgres.NotFound("orders.update_status", "order "+order.ID)
	}
	return nil
}

type statusChangeRow struct {
	ID        string    `db:"id"`
	OrderID   string    `db:"order_id"`
	From      string    `db:"from_status"`
	To        string    `db:"to_status"`
	ActorID   string    `db:"actor_id"`
	Reason    string    `db:"reason"`
	CreatedAt time.Time `db:"created_at"`
}

func (r orderRepo) AppendStatusHistory(ctx context.Context, change domain.OrderStatusChange) error {
	row := statusChangeRow{
		ID:        change.ID,
		OrderID:   change.OrderID,
		From:      string(change.From),
		To:        string(change.To),
		ActorID:   change.ActorID,
		Reason:    change.Reason,
		CreatedAt: change.CreatedAt.UTC(),
	}
	_, err := sqlx.NamedExecContext(ctx, r.db.Conn(ctx),
		`INSERT INTO order_status_history (id, order_id, from_status, to_status, actor_id, reason, created_at)
VALUES (:id, :order_id, :from_status, :to_status, :actor_id, :reason, :created_at)`, row)
	return postgres.Classify("orders.append_history", err)
}

func (r orderRepo) ListStatusHistory(ctx context.Context, orderID string) ([]domain.OrderStatusChange, error) {
	var rows []statusChangeRow
	err := sqlx.SelectContext(ctx, r.db.Conn(ctx), &rows,
		`SELECT id, order_id, from_status, to_status, actor_id, reason, created_at
FROM order_status_history WHERE order_id = $1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, postgres.Classify("orders.list_history", err)
	}
	changes := make([]domain.OrderStatusChange, len(rows))
	for i, row := range rows {
		changes[i] = domain.OrderStatusChange{
			ID:        row.ID,
			OrderID:   row.OrderID,
			From:      domain.OrderStatus(row.From),
			To:        domain.OrderStatus(row.To),
			ActorID:   row.ActorID,
			Reason:    row.Reason,
			CreatedAt: row.CreatedAt,
		}
	}
	return changes, nil
}

func newOrderRow(o domain.Order) (orderRow, error) {
	row := orderRow{
		ID:               o.ID,
		OrderNumber:      o.OrderNumber,
		CustomerID:       o.CustomerID,
		DeliveryMethod:   string(o.DeliveryMethod),
		PaymentMethod:    string(o.PaymentMethod),
		Status:           string(o.Status),
		PaymentStatus:    string(o.PaymentStatus),
		Currency:         o.Currency,
		Subtotal:         o.Subtotal,
		Tax:              o.Tax,
		ShippingCost:     o.ShippingCost,
		DiscountAmount:   o.DiscountAmount,
		PromoCode:        o.PromoCode,
		PromoCodeID:      o.PromoCodeID,
		PromoDiscount:    o.PromoDiscount,
		TotalAmount:      o.TotalAmount,
		RemiseUsedAmount: o.RemiseUsedAmount,
		IsCreditSale:     o.IsCreditSale,
		CreditAmount:     o.CreditAmount,
		PickupLocationID: o.PickupLocationID,
		Notes:            o.Notes,
		CreatedAt:        o.CreatedAt.UTC(),
		UpdatedAt:        o.UpdatedAt.UTC(),
		ConfirmedAt:      nullTime(o.ConfirmedAt),
		ShippedAt:        nullTime(o.ShippedAt),
		DeliveredAt:      nullTime(o.DeliveredAt),
		CancelledAt:      nullTime(o.CancelledAt),
	}
	if o.CancelReason != nil {
		row.CancelReason = sql.NullString{String: *o.CancelReason, Valid: true}
	}
	if o.Guest != nil {
		data, err := json.Marshal(guestDoc(*o.Guest))
		if err != nil {
			return orderRow{}, err
		}
		row.Guest = sql.NullString{String: string(data), Valid: true}
	}
	if o.ShippingAddress != nil {
		data, err := json.Marshal(newAddressDoc(*o.ShippingAddress))
		if err != nil {
			return orderRow{}, err
		}
		row.ShippingAddress = sql.NullString{String: string(data), Valid: true}
	}
	return row, nil
}

func (row orderRow) toDomain(lines []orderLineRow) (domain.Order, error) {
	order := domain.Order{
		ID:               row.ID,
		OrderNumber:      row.OrderNumber,
		CustomerID:       row.CustomerID,
		DeliveryMethod:   domain.DeliveryMethod(row.DeliveryMethod),
		PaymentMethod:    domain.PaymentMethod(row.PaymentMethod),
		Status:           domain.OrderStatus(row.Status),
		PaymentStatus:    domain.PaymentStatus(row.PaymentStatus),
		Currency:         row.Currency,
		Subtotal:         row.Subtotal,
		Tax:              row.Tax,
		ShippingCost:     row.ShippingCost,
		DiscountAmount:   row.DiscountAmount,
		PromoCode:        row.PromoCode,
		PromoCodeID:      row.PromoCodeID,
		PromoDiscount:    row.PromoDiscount,
		TotalAmount:      row.TotalAmount,
		RemiseUsedAmount: row.RemiseUsedAmount,
		IsCreditSale:     row.IsCreditSale,
		CreditAmount:     row.CreditAmount,
		PickupLocationID: row.PickupLocationID,
		Notes:            row.Notes,
		CreatedAt:        row.CreatedAt,
		UpdatedAt:        row.UpdatedAt,
		ConfirmedAt:      timePtr(row.ConfirmedAt),
		ShippedAt:        timePtr(row.ShippedAt),
		DeliveredAt:      timePtr(row.DeliveredAt),
		CancelledAt:      timePtr(row.CancelledAt),
	}
	if row.CancelReason.Valid {
		reason := row.CancelReason.String
		order.CancelReason = &reason
	}
	if row.Guest.Valid {
		var guest guestDoc
		if err := json.Unmarshal([]byte(row.Guest.String), &guest); err != nil {
			return domain.Order{}, err
		}
		contact := domain.GuestContact(guest)
		order.Guest = &contact
	}
	if row.ShippingAddress.Valid {
		var doc addressDoc
		if err := json.Unmarshal([]byte(row.ShippingAddress.String), &doc); err != nil {
			return domain.Order{}, err
		}
		address := doc.toDomain()
		order.ShippingAddress = &address
	}
	order.Lines = make([]domain.OrderLine, len(lines))
	for i, line := range lines {
		order.Lines[i] = domain.OrderLine{
			ID:              line.ID,
			OrderID:         line.OrderID,
			ProductID:       line.ProductID,
			VariantID:       line.VariantID,
			UnitID:          line.UnitID,
			ProductName:     line.ProductName,
			VariantName:     line.VariantName,
			UnitName:        line.UnitName,
			ListPrice:       line.ListPrice,
			UnitPrice:       line.UnitPrice,
			Quantity:        line.Quantity,
			StockQuantity:   line.StockQuantity,
			Subtotal:        line.Subtotal,
			DiscountPercent: line.DiscountPercent,
			DiscountAmount:  line.DiscountAmount,
			LoyaltyPercent:  line.LoyaltyPercent,
			LoyaltyAmount:   line.LoyaltyAmount,
			CostBasis:       line.CostBasis,
			CostSource:      domain.CostSource(line.CostSource),
			PriceLotID:      line.PriceLotID,
		}
	}
	return order, nil
}
