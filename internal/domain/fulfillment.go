package domain

import "strings"

// FulfillmentMethod — способ получения заказа.
type FulfillmentMethod string

const (
	FulfillmentDelivery FulfillmentMethod = "delivery"
	FulfillmentPickup   FulfillmentMethod = "pickup"
)

// ShippingAddress — адрес доставки; все поля обязательны.
type ShippingAddress struct {
	Street     string
	City       string
	State      string
	PostalCode string
	Country    string
}

// PickupLocation — пункт самовывоза.
type PickupLocation struct {
	Name    string
	Address string
}

// Fulfillment описывает выбранный способ получения и его данные.
type Fulfillment struct {
	Method   FulfillmentMethod
	Address  *ShippingAddress
	Location *PickupLocation
}

// missingFields возвращает имена пустых полей адреса.
func (a ShippingAddress) missingFields() []string {
	var missing []string
	check := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	check("street", a.Street)
	check("city", a.City)
	check("state", a.State)
	check("postalCode", a.PostalCode)
	check("country", a.Country)
	return missing
}

// Validate проверяет полноту данных для выбранного способа получения.
func (f Fulfillment) Validate() error {
	switch f.Method {
	case FulfillmentDelivery:
		if f.Address == nil {
			return Validation(ErrShippingAddressRequired, "se requiere dirección de envío")
		}
		if missing := f.Address.missingFields(); len(missing) > 0 {
			return Validation(ErrShippingAddressRequired, "faltan campos en la dirección de envío: %s", strings.Join(missing, ", "))
		}
		return nil
	case FulfillmentPickup:
		if f.Location == nil || strings.TrimSpace(f.Location.Name) == "" || strings.TrimSpace(f.Location.Address) == "" {
			return Validation(ErrPickupLocationRequired, "se requiere ubicación de retiro con nombre y dirección")
		}
		return nil
	default:
		return Validation(ErrFulfillmentInvalid, "método de envío inválido: %q", f.Method)
	}
}
