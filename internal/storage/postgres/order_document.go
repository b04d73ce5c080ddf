package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/autoparts/internal/domain"
)

// orderDocument — JSONB-представление агрегата. Колонки таблицы orders дублируют
// поля, по которым идёт фильтрация; источником истины остаётся документ.
type orderDocument struct {
	Items          []orderItemDocument `json:"items"`
	Fulfillment    fulfillmentDocument `json:"fulfillment"`
	PaymentMethod  string              `json:"paymentMethod"`
	ItemsPrice     int64               `json:"itemsPrice"`
	TaxPrice       int64               `json:"taxPrice"`
	ShippingPrice  int64               `json:"shippingPrice"`
	Tax            taxDocument         `json:"tax"`
	PaymentResults []paymentDocument   `json:"paymentResults,omitempty"`
	PaidAt         *time.Time          `json:"paidAt,omitempty"`
	IsDelivered    bool                `json:"isDelivered"`
	DeliveredAt    *time.Time          `json:"deliveredAt,omitempty"`
	CancelledAt    *time.Time          `json:"cancelledAt,omitempty"`
	CancelledBy    string              `json:"cancelledBy,omitempty"`
}

type orderItemDocument struct {
	ID        string `json:"id"`
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	SKU       string `json:"sku,omitempty"`
	Quantity  int    `json:"quantity"`
	Price     int64  `json:"price"`
}

type fulfillmentDocument struct {
	Method   string                  `json:"method"`
	Address  *domain.ShippingAddress `json:"address,omitempty"`
	Location *domain.PickupLocation  `json:"location,omitempty"`
}

type taxDocument struct {
	AppliedTaxRate    float64                   `json:"appliedTaxRate"`
	TaxCalculatedAt   time.Time                 `json:"taxCalculatedAt"`
	TaxRate           float64                   `json:"taxRate"`
	TaxRecalculated   bool                      `json:"taxRecalculated"`
	TaxRecalculatedBy string                    `json:"taxRecalculatedBy,omitempty"`
	TaxRecalculatedAt *time.Time                `json:"taxRecalculatedAt,omitempty"`
	History           []domain.TaxRecalculation `json:"history,omitempty"`
}

type paymentDocument struct {
	TransactionID     string         `json:"transactionId"`
	AuthorizationCode string         `json:"authorizationCode,omitempty"`
	Status            string         `json:"status"`
	Approved          bool           `json:"approved"`
	Amount            int64          `json:"amount"`
	Method            string         `json:"method"`
	Message           string         `json:"message,omitempty"`
	ProcessedAt       time.Time      `json:"processedAt"`
	Refund            *domain.Refund `json:"refund,omitempty"`
}

func encodeOrder(order domain.Order) ([]byte, error) {
	doc := orderDocument{
		Items: make([]orderItemDocument, 0, len(order.Items)),
		Fulfillment: fulfillmentDocument{
			Method:   string(order.Fulfillment.Method),
			Address:  order.Fulfillment.Address,
			Location: order.Fulfillment.Location,
		},
		PaymentMethod: string(order.PaymentMethod),
		ItemsPrice:    order.ItemsPrice,
		TaxPrice:      order.TaxPrice,
		ShippingPrice: order.ShippingPrice,
		Tax: taxDocument{
			AppliedTaxRate:    order.Tax.AppliedTaxRate,
			TaxCalculatedAt:   order.Tax.TaxCalculatedAt,
			TaxRate:           order.Tax.TaxRate,
			TaxRecalculated:   order.Tax.TaxRecalculated,
			TaxRecalculatedBy: order.Tax.TaxRecalculatedBy,
			TaxRecalculatedAt: order.Tax.TaxRecalculatedAt,
			History:           order.Tax.History,
		},
		PaidAt:      order.PaidAt,
		IsDelivered: order.IsDelivered,
		DeliveredAt: order.DeliveredAt,
		CancelledAt: order.CancelledAt,
		CancelledBy: order.CancelledBy,
	}
	for _, item := range order.Items {
		doc.Items = append(doc.Items, orderItemDocument(item))
	}
	for _, res := range order.PaymentResults {
		doc.PaymentResults = append(doc.PaymentResults, paymentDocument{
			TransactionID:     res.TransactionID,
			AuthorizationCode: res.AuthorizationCode,
			Status:            string(res.Status),
			Approved:          res.Approved,
			Amount:            res.Amount,
			Method:            string(res.Method),
			Message:           res.Message,
			ProcessedAt:       res.ProcessedAt,
			Refund:            res.Refund,
		})
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode order document: %w", err)
	}
	return raw, nil
}

// decodeOrder восстанавливает агрегат из документа и колонок строки.
func decodeOrder(raw []byte, order *domain.Order) error {
	var doc orderDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode order document %s: %w", order.ID, err)
	}

	order.Items = make([]domain.OrderItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		order.Items = append(order.Items, domain.OrderItem(item))
	}
	order.Fulfillment = domain.Fulfillment{
		Method:   domain.FulfillmentMethod(doc.Fulfillment.Method),
		Address:  doc.Fulfillment.Address,
		Location: doc.Fulfillment.Location,
	}
	order.PaymentMethod = domain.PaymentMethod(doc.PaymentMethod)
	order.ItemsPrice = doc.ItemsPrice
	order.TaxPrice = doc.TaxPrice
	order.ShippingPrice = doc.ShippingPrice
	order.Tax = domain.TaxAudit{
		AppliedTaxRate:    doc.Tax.AppliedTaxRate,
		TaxCalculatedAt:   doc.Tax.TaxCalculatedAt,
		TaxRate:           doc.Tax.TaxRate,
		TaxRecalculated:   doc.Tax.TaxRecalculated,
		TaxRecalculatedBy: doc.Tax.TaxRecalculatedBy,
		TaxRecalculatedAt: doc.Tax.TaxRecalculatedAt,
		History:           doc.Tax.History,
	}
	for _, res := range doc.PaymentResults {
		order.PaymentResults = append(order.PaymentResults, domain.PaymentResult{
			TransactionID:     res.TransactionID,
			AuthorizationCode: res.AuthorizationCode,
			Status:            domain.PaymentStatus(res.Status),
			Approved:          res.Approved,
			Amount:            res.Amount,
			Method:            domain.PaymentMethod(res.Method),
			Message:           res.Message,
			ProcessedAt:       res.ProcessedAt,
			Refund:            res.Refund,
		})
	}
	order.PaidAt = doc.PaidAt
	order.IsDelivered = doc.IsDelivered
	order.DeliveredAt = doc.DeliveredAt
	order.CancelledAt = doc.CancelledAt
	order.CancelledBy = doc.CancelledBy
	return nil
}
