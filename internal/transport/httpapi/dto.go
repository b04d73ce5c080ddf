package httpapi

import (
	"time"

	"github.com/vladislavdragonenkov/autoparts/internal/domain"
	"github.com/vladislavdragonenkov/autoparts/internal/service/orders"
)

type orderItemRequest struct {
	Product  string `json:"product"`
	Quantity int    `json:"quantity"`
}

type addressDTO struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

type pickupDTO struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

type fulfillmentDTO struct {
	Method          string      `json:"method"`
	ShippingAddress *addressDTO `json:"shippingAddress,omitempty"`
	PickupLocation  *pickupDTO  `json:"pickupLocation,omitempty"`
}

type createOrderRequest struct {
	OrderItems    []orderItemRequest `json:"orderItems"`
	Fulfillment   fulfillmentDTO     `json:"fulfillment"`
	PaymentMethod string             `json:"paymentMethod"`
	OrderType     string             `json:"orderType"`
}

func (req createOrderRequest) toInput() orders.CreateInput {
	in := orders.CreateInput{
		Items:         make([]orders.LineInput, 0, len(req.OrderItems)),
		Fulfillment:   req.Fulfillment.toDomain(),
		PaymentMethod: req.PaymentMethod,
		OrderType:     req.OrderType,
	}
	for _, item := range req.OrderItems {
		in.Items = append(in.Items, orders.LineInput{ProductID: item.Product, Quantity: item.Quantity})
	}
	return in
}

func (f fulfillmentDTO) toDomain() domain.Fulfillment {
	out := domain.Fulfillment{Method: domain.FulfillmentMethod(f.Method)}
	if f.ShippingAddress != nil {
		out.Address = &domain.ShippingAddress{
			Street:     f.ShippingAddress.Street,
			City:       f.ShippingAddress.City,
			State:      f.ShippingAddress.State,
			PostalCode: f.ShippingAddress.PostalCode,
			Country:    f.ShippingAddress.Country,
		}
	}
	if f.PickupLocation != nil {
		out.Location = &domain.PickupLocation{Name: f.PickupLocation.Name, Address: f.PickupLocation.Address}
	}
	return out
}

func newFulfillmentDTO(f domain.Fulfillment) fulfillmentDTO {
	out := fulfillmentDTO{Method: string(f.Method)}
	if f.Address != nil {
		out.ShippingAddress = &addressDTO{
			Street:     f.Address.Street,
			City:       f.Address.City,
			State:      f.Address.State,
			PostalCode: f.Address.PostalCode,
			Country:    f.Address.Country,
		}
	}
	if f.Location != nil {
		out.PickupLocation = &pickupDTO{Name: f.Location.Name, Address: f.Location.Address}
	}
	return out
}

type statusRequest struct {
	Status string `json:"status"`
	IsPaid *bool  `json:"isPaid,omitempty"`
}

type taxRequest struct {
	TaxRate *float64 `json:"taxRate"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type orderItemResponse struct {
	ID       string `json:"id"`
	Product  string `json:"product"`
	Name     string `json:"name"`
	SKU      string `json:"sku,omitempty"`
	Quantity int    `json:"quantity"`
	Price    int64  `json:"price"`
}

type refundResponse struct {
	RefundID   string    `json:"refundId"`
	Amount     int64     `json:"amount"`
	Reason     string    `json:"reason,omitempty"`
	Status     string    `json:"status"`
	RefundedAt time.Time `json:"refundedAt"`
}

type paymentResultResponse struct {
	TransactionID     string          `json:"transactionId,omitempty"`
	AuthorizationCode string          `json:"authorizationCode,omitempty"`
	Status            string          `json:"status"`
	Approved          bool            `json:"approved"`
	Amount            int64           `json:"amount"`
	Method            string          `json:"method"`
	Message           string          `json:"message,omitempty"`
	ProcessedAt       time.Time       `json:"processedAt"`
	Refund            *refundResponse `json:"refund,omitempty"`
}

type orderResponse struct {
	ID                string                  `json:"id"`
	User              string                  `json:"user"`
	OrderItems        []orderItemResponse     `json:"orderItems"`
	Fulfillment       fulfillmentDTO          `json:"fulfillment"`
	PaymentMethod     string                  `json:"paymentMethod"`
	OrderType         string                  `json:"orderType"`
	ItemsPrice        int64                   `json:"itemsPrice"`
	TaxPrice          int64                   `json:"taxPrice"`
	ShippingPrice     int64                   `json:"shippingPrice"`
	TotalPrice        int64                   `json:"totalPrice"`
	TaxRate           float64                 `json:"taxRate"`
	AppliedTaxRate    float64                 `json:"appliedTaxRate"`
	TaxCalculatedAt   time.Time               `json:"taxCalculatedAt"`
	TaxRecalculated   bool                    `json:"taxRecalculated"`
	TaxRecalculatedBy string                  `json:"taxRecalculatedBy,omitempty"`
	TaxRecalculatedAt *time.Time              `json:"taxRecalculatedAt,omitempty"`
	Status            string                  `json:"status"`
	PaymentResults    []paymentResultResponse `json:"paymentResults"`
	IsPaid            bool                    `json:"isPaid"`
	PaidAt            *time.Time              `json:"paidAt,omitempty"`
	IsDelivered       bool                    `json:"isDelivered"`
	DeliveredAt       *time.Time              `json:"deliveredAt,omitempty"`
	CancelledAt       *time.Time              `json:"cancelledAt,omitempty"`
	CancelledBy       string                  `json:"cancelledBy,omitempty"`
	Version           int64                   `json:"version"`
	CreatedAt         time.Time               `json:"createdAt"`
	UpdatedAt         time.Time               `json:"updatedAt"`
}

func newOrderResponse(o domain.Order) orderResponse {
	resp := orderResponse{
		ID:                o.ID,
		User:              o.UserID,
		OrderItems:        make([]orderItemResponse, 0, len(o.Items)),
		Fulfillment:       newFulfillmentDTO(o.Fulfillment),
		PaymentMethod:     string(o.PaymentMethod),
		OrderType:         string(o.OrderType),
		ItemsPrice:        o.ItemsPrice,
		TaxPrice:          o.TaxPrice,
		ShippingPrice:     o.ShippingPrice,
		TotalPrice:        o.TotalPrice,
		TaxRate:           o.Tax.TaxRate,
		AppliedTaxRate:    o.Tax.AppliedTaxRate,
		TaxCalculatedAt:   o.Tax.TaxCalculatedAt,
		TaxRecalculated:   o.Tax.TaxRecalculated,
		TaxRecalculatedBy: o.Tax.TaxRecalculatedBy,
		TaxRecalculatedAt: o.Tax.TaxRecalculatedAt,
		Status:            string(o.Status),
		PaymentResults:    make([]paymentResultResponse, 0, len(o.PaymentResults)),
		IsPaid:            o.IsPaid,
		PaidAt:            o.PaidAt,
		IsDelivered:       o.IsDelivered,
		DeliveredAt:       o.DeliveredAt,
		CancelledAt:       o.CancelledAt,
		CancelledBy:       o.CancelledBy,
		Version:           o.Version,
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
	}
	for _, item := range o.Items {
		resp.OrderItems = append(resp.OrderItems, orderItemResponse{
			ID:       item.ID,
			Product:  item.ProductID,
			Name:     item.Name,
			SKU:      item.SKU,
			Quantity: item.Quantity,
			Price:    item.Price,
		})
	}
	for _, res := range o.PaymentResults {
		pr := paymentResultResponse{
			TransactionID:     res.TransactionID,
			AuthorizationCode: res.AuthorizationCode,
			Status:            string(res.Status),
			Approved:          res.Approved,
			Amount:            res.Amount,
			Method:            string(res.Method),
			Message:           res.Message,
			ProcessedAt:       res.ProcessedAt,
		}
		if res.Refund != nil {
			pr.Refund = &refundResponse{
				RefundID:   res.Refund.RefundID,
				Amount:     res.Refund.Amount,
				Reason:     res.Refund.Reason,
				Status:     string(res.Refund.Status),
				RefundedAt: res.Refund.RefundedAt,
			}
		}
		resp.PaymentResults = append(resp.PaymentResults, pr)
	}
	return resp
}

func newOrderList(list []domain.Order) []orderResponse {
	out := make([]orderResponse, 0, len(list))
	for _, o := range list {
		out = append(out, newOrderResponse(o))
	}
	return out
}

type taxReportResponse struct {
	PreviousTaxRate  float64   `json:"previousTaxRate"`
	NewTaxRate       float64   `json:"newTaxRate"`
	PreviousTaxPrice int64     `json:"previousTaxPrice"`
	NewTaxPrice      int64     `json:"newTaxPrice"`
	RecalculatedBy   string    `json:"recalculatedBy"`
	RecalculatedAt   time.Time `json:"recalculatedAt"`
}

type timelineEventResponse struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	ActorID  string    `json:"actorId,omitempty"`
	Occurred time.Time `json:"occurred"`
}

type productRequest struct {
	ID             string `json:"id"`
	Slug           string `json:"slug"`
	Name           string `json:"name"`
	SKU            string `json:"sku"`
	Price          int64  `json:"price"`
	WholesalePrice *int64 `json:"wholesalePrice"`
	StockQuantity  int    `json:"stockQuantity"`
}

type productPatchRequest struct {
	Name           *string `json:"name"`
	Price          *int64  `json:"price"`
	WholesalePrice *int64  `json:"wholesalePrice"`
	ClearWholesale bool    `json:"clearWholesalePrice"`
	StockQuantity  *int    `json:"stockQuantity"`
}

type productResponse struct {
	ID             string    `json:"id"`
	Slug           string    `json:"slug,omitempty"`
	Name           string    `json:"name"`
	SKU            string    `json:"sku,omitempty"`
	Price          int64     `json:"price"`
	WholesalePrice *int64    `json:"wholesalePrice,omitempty"`
	StockQuantity  int       `json:"stockQuantity"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func newProductResponse(p domain.Product) productResponse {
	return productResponse{
		ID:             p.ID,
		Slug:           p.Slug,
		Name:           p.Name,
		SKU:            p.SKU,
		Price:          p.Price,
		WholesalePrice: p.WholesalePrice,
		StockQuantity:  p.StockQuantity,
		UpdatedAt:      p.UpdatedAt,
	}
}
