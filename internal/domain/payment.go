package domain

import "time"

// PaymentMethod — способ оплаты заказа.
type PaymentMethod string

const (
	PaymentWebpay       PaymentMethod = "webpay"
	PaymentBankTransfer PaymentMethod = "bankTransfer"
	PaymentCash         PaymentMethod = "cash"
)

// ParsePaymentMethod возвращает webpay для пустого значения.
func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	switch method := PaymentMethod(raw); method {
	case "":
		return PaymentWebpay, nil
	case PaymentWebpay, PaymentBankTransfer, PaymentCash:
		return method, nil
	default:
		return "", Validation(ErrPaymentMethodInvalid, "método de pago inválido: %q", raw)
	}
}

// PaymentStatus описывает результат транзакции у провайдера.
type PaymentStatus string

const (
	// PaymentStatusApproved — средства списаны.
	PaymentStatusApproved PaymentStatus = "approved"
	// PaymentStatusRejected — провайдер отклонил платёж.
	PaymentStatusRejected PaymentStatus = "rejected"
	// PaymentStatusFailed — техническая ошибка, результат неизвестен.
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusRefunded — средства возвращены.
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// Refund — вложенная запись о возврате по транзакции.
type Refund struct {
	RefundID   string
	Amount     int64
	Reason     string
	Status     PaymentStatus
	RefundedAt time.Time
}

// PaymentResult — непрозрачный ответ платёжного провайдера.
// Пишется один раз на транзакцию; повторные попытки добавляют новую запись.
type PaymentResult struct {
	TransactionID     string
	AuthorizationCode string
	Status            PaymentStatus
	Approved          bool
	Amount            int64
	Method            PaymentMethod
	Message           string
	ProcessedAt       time.Time
	Refund            *Refund
}

// PaymentRequest — данные, передаваемые провайдеру.
type PaymentRequest struct {
	OrderID string
	Amount  int64
	Method  PaymentMethod
}
