package domain

import (
	"math"
	"time"
)

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	// ID позиции нужен для однозначной идентификации и аудита.
	ID        string
	ProductID string
	Name      string
	SKU       string
	Quantity  int
	// Price — цена за единицу, зафиксированная при создании заказа.
	Price int64
}

// Subtotal возвращает price × quantity.
func (i OrderItem) Subtotal() int64 {
	return i.Price * int64(i.Quantity)
}

// TaxRecalculation — запись аудита пересчёта налога.
type TaxRecalculation struct {
	PreviousTaxRate  float64
	NewTaxRate       float64
	PreviousTaxPrice int64
	NewTaxPrice      int64
	RecalculatedBy   string
	RecalculatedAt   time.Time
}

// TaxAudit хранит исходную ставку и историю пересчётов.
// AppliedTaxRate и TaxCalculatedAt не меняются после создания заказа.
type TaxAudit struct {
	AppliedTaxRate    float64
	TaxCalculatedAt   time.Time
	TaxRate           float64
	TaxRecalculated   bool
	TaxRecalculatedBy string
	TaxRecalculatedAt *time.Time
	History           []TaxRecalculation
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID             string
	UserID         string
	Items          []OrderItem
	Fulfillment    Fulfillment
	PaymentMethod  PaymentMethod
	OrderType      OrderType
	ItemsPrice     int64
	TaxPrice       int64
	ShippingPrice  int64
	TotalPrice     int64
	Tax            TaxAudit
	Status         OrderStatus
	PaymentResults []PaymentResult
	IsPaid         bool
	PaidAt         *time.Time
	IsDelivered    bool
	DeliveredAt    *time.Time
	CancelledAt    *time.Time
	CancelledBy    string
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// OrderParams — вход фабрики NewOrder; все денежные поля уже посчитаны политиками.
type OrderParams struct {
	ID            string
	UserID        string
	Items         []OrderItem
	Fulfillment   Fulfillment
	PaymentMethod PaymentMethod
	OrderType     OrderType
	TaxRate       float64
	TaxPrice      int64
	ShippingPrice int64
	Now           time.Time
}

// SumItems возвращает Σ(price × quantity).
func SumItems(items []OrderItem) int64 {
	var sum int64
	for _, item := range items {
		sum += item.Subtotal()
	}
	return sum
}

// TaxAmount округляет amount × rate / 100 до целого.
func TaxAmount(amount int64, rate float64) int64 {
	return int64(math.Round(float64(amount) * rate / 100))
}

// ValidTaxRate проверяет диапазон [0, 100].
func ValidTaxRate(rate float64) error {
	if math.IsNaN(rate) || rate < 0 || rate > 100 {
		return Validation(ErrTaxRateInvalid, "")
	}
	return nil
}

// NewOrder собирает заказ в статусе pending и вычисляет производные суммы.
func NewOrder(p OrderParams) (Order, error) {
	now := p.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	items := make([]OrderItem, len(p.Items))
	copy(items, p.Items)

	itemsPrice := SumItems(items)
	order := Order{
		ID:            p.ID,
		UserID:        p.UserID,
		Items:         items,
		Fulfillment:   p.Fulfillment,
		PaymentMethod: p.PaymentMethod,
		OrderType:     p.OrderType,
		ItemsPrice:    itemsPrice,
		TaxPrice:      p.TaxPrice,
		ShippingPrice: p.ShippingPrice,
		TotalPrice:    itemsPrice + p.TaxPrice + p.ShippingPrice,
		Tax: TaxAudit{
			AppliedTaxRate:  p.TaxRate,
			TaxCalculatedAt: now,
			TaxRate:         p.TaxRate,
		},
		Status:    OrderStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return Order{}, Validation(errs[0], "")
	}
	return order, nil
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error
	if o.UserID == "" {
		errs = append(errs, ErrOwnerRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	for _, item := range o.Items {
		if item.Quantity < 1 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.Price < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
	}
	if o.ItemsPrice < 0 || o.TaxPrice < 0 || o.ShippingPrice < 0 || o.TotalPrice < 0 {
		errs = append(errs, ErrAmountNegative)
	}
	if SumItems(o.Items) != o.ItemsPrice {
		errs = append(errs, ErrItemsPriceMismatch)
	}
	if o.ItemsPrice+o.TaxPrice+o.ShippingPrice != o.TotalPrice {
		errs = append(errs, ErrTotalMismatch)
	}
	return errs
}

// TransitionTo меняет статус через таблицу переходов и применяет побочные эффекты.
// Возврат стока при отмене остаётся на сервисе.
func (o *Order) TransitionTo(to OrderStatus, now time.Time) error {
	if err := CheckTransition(o.Status, to, o.Fulfillment.Method); err != nil {
		return err
	}
	o.Status = to
	switch to {
	case OrderStatusDelivered, OrderStatusReadyForPickup:
		if !o.IsDelivered {
			o.IsDelivered = true
			o.DeliveredAt = timePtr(now)
		}
	case OrderStatusCancelled:
		o.CancelledAt = timePtr(now)
	}
	o.UpdatedAt = now
	return nil
}

// MarkPaid выставляет isPaid и paidAt при первом вызове; повторные вызовы ничего не меняют.
func (o *Order) MarkPaid(now time.Time) bool {
	if o.IsPaid {
		return false
	}
	o.IsPaid = true
	o.PaidAt = timePtr(now)
	o.UpdatedAt = now
	return true
}

// ApplyTaxRate пересчитывает налог от зафиксированного itemsPrice.
func (o *Order) ApplyTaxRate(newRate float64, actorID string, now time.Time) (TaxRecalculation, error) {
	if err := ValidTaxRate(newRate); err != nil {
		return TaxRecalculation{}, err
	}
	record := TaxRecalculation{
		PreviousTaxRate:  o.Tax.TaxRate,
		NewTaxRate:       newRate,
		PreviousTaxPrice: o.TaxPrice,
		NewTaxPrice:      TaxAmount(o.ItemsPrice, newRate),
		RecalculatedBy:   actorID,
		RecalculatedAt:   now,
	}

	o.TaxPrice = record.NewTaxPrice
	o.TotalPrice = o.ItemsPrice + o.TaxPrice + o.ShippingPrice
	o.Tax.TaxRate = newRate
	o.Tax.TaxRecalculated = true
	o.Tax.TaxRecalculatedBy = actorID
	o.Tax.TaxRecalculatedAt = timePtr(now)
	o.Tax.History = append(o.Tax.History, record)
	o.UpdatedAt = now
	return record, nil
}

// AppendPaymentResult добавляет результат очередной попытки оплаты.
func (o *Order) AppendPaymentResult(result PaymentResult, now time.Time) {
	o.PaymentResults = append(o.PaymentResults, result)
	o.UpdatedAt = now
}

// LastApprovedPayment возвращает индекс последней одобренной транзакции или -1.
func (o *Order) LastApprovedPayment() int {
	for i := len(o.PaymentResults) - 1; i >= 0; i-- {
		if o.PaymentResults[i].Approved {
			return i
		}
	}
	return -1
}

// Clone возвращает глубокую копию, безопасную для хранения в памяти.
func (o Order) Clone() Order {
	dst := o
	dst.Items = append([]OrderItem(nil), o.Items...)
	if o.Fulfillment.Address != nil {
		addr := *o.Fulfillment.Address
		dst.Fulfillment.Address = &addr
	}
	if o.Fulfillment.Location != nil {
		loc := *o.Fulfillment.Location
		dst.Fulfillment.Location = &loc
	}
	dst.Tax.History = append([]TaxRecalculation(nil), o.Tax.History...)
	dst.Tax.TaxRecalculatedAt = clonePtr(o.Tax.TaxRecalculatedAt)
	dst.PaymentResults = make([]PaymentResult, len(o.PaymentResults))
	for i, res := range o.PaymentResults {
		dst.PaymentResults[i] = res
		if res.Refund != nil {
			refund := *res.Refund
			dst.PaymentResults[i].Refund = &refund
		}
	}
	if o.PaymentResults == nil {
		dst.PaymentResults = nil
	}
	dst.PaidAt = clonePtr(o.PaidAt)
	dst.DeliveredAt = clonePtr(o.DeliveredAt)
	dst.CancelledAt = clonePtr(o.CancelledAt)
	return dst
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func clonePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
