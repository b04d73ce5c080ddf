package domain

import "time"

// OrderType определяет ценовую ветку заказа.
type OrderType string

const (
	// OrderTypeB2C — розничная цена.
	OrderTypeB2C OrderType = "B2C"
	// OrderTypeB2B — оптовая цена, если она задана у товара.
	OrderTypeB2B OrderType = "B2B"
)

// ParseOrderType возвращает B2C для пустого значения.
func ParseOrderType(raw string) (OrderType, error) {
	switch orderType := OrderType(raw); orderType {
	case "":
		return OrderTypeB2C, nil
	case OrderTypeB2C, OrderTypeB2B:
		return orderType, nil
	default:
		return "", Validation(ErrOrderTypeInvalid, "tipo de pedido inválido: %q", raw)
	}
}

// Product — запись каталога в том виде, в котором её видит заказ.
type Product struct {
	ID             string
	Slug           string
	Name           string
	SKU            string
	Price          int64
	WholesalePrice *int64
	StockQuantity  int
	UpdatedAt      time.Time
}

// HasWholesalePrice сообщает, задана ли оптовая цена.
func (p Product) HasWholesalePrice() bool {
	return p.WholesalePrice != nil && *p.WholesalePrice >= 0
}

// DisplayName используется в сообщениях об ошибках.
func (p Product) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}

// ResolveUnitPrice выбирает цену за единицу: оптовую для B2B при её наличии, иначе розничную.
func ResolveUnitPrice(product Product, orderType OrderType) int64 {
	if orderType == OrderTypeB2B && product.HasWholesalePrice() {
		return *product.WholesalePrice
	}
	return product.Price
}
