package domain

import (
	"errors"
	"fmt"
)

// ErrorKind классифицирует ошибки заказа для транспортного слоя.
type ErrorKind string

const (
	KindInternal          ErrorKind = "internal"
	KindValidation        ErrorKind = "validation"
	KindStockInsufficient ErrorKind = "stock_insufficient"
	KindNotFound          ErrorKind = "not_found"
	KindUnauthorized      ErrorKind = "unauthorized"
	KindForbidden         ErrorKind = "forbidden"
	KindIllegalTransition ErrorKind = "illegal_transition"
	KindConflict          ErrorKind = "conflict"
)

var (
	// Ошибка отсутствия хотя бы одной позиции в заказе.
	ErrItemsRequired = errors.New("el pedido debe contener al menos un producto")
	// Ошибка при некорректном количестве товара (< 1).
	ErrItemQtyInvalid = errors.New("la cantidad debe ser mayor o igual a 1")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка отсутствующего владельца заказа.
	ErrOwnerRequired = errors.New("order owner is required")
	// Ошибка несоответствия суммы позиций и itemsPrice.
	ErrItemsPriceMismatch = errors.New("itemsPrice does not match items sum")
	// Ошибка несоответствия итоговой суммы и её компонентов.
	ErrTotalMismatch = errors.New("totalPrice does not match itemsPrice + taxPrice + shippingPrice")
	// Ошибка отрицательной денежной суммы.
	ErrAmountNegative = errors.New("money fields must be non-negative")

	// ErrShippingAddressRequired — для доставки не заполнен адрес.
	ErrShippingAddressRequired = errors.New("dirección de envío incompleta")
	// ErrPickupLocationRequired — для самовывоза не указан пункт выдачи.
	ErrPickupLocationRequired = errors.New("ubicación de retiro incompleta")
	// ErrFulfillmentInvalid — неизвестный способ получения заказа.
	ErrFulfillmentInvalid = errors.New("método de envío inválido")
	// ErrPaymentMethodInvalid — неизвестный способ оплаты.
	ErrPaymentMethodInvalid = errors.New("método de pago inválido")
	// ErrOrderTypeInvalid — неизвестный тип заказа.
	ErrOrderTypeInvalid = errors.New("tipo de pedido inválido")
	// ErrStatusInvalid — значение статуса вне перечисления.
	ErrStatusInvalid = errors.New("estado de pedido inválido")
	// ErrTaxRateInvalid — ставка налога вне диапазона [0, 100].
	ErrTaxRateInvalid = errors.New("la tasa de impuesto debe estar entre 0 y 100")

	// ErrInsufficientStock — на складе меньше единиц, чем запрошено.
	ErrInsufficientStock = errors.New("stock insuficiente")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("pedido no encontrado")
	// ErrProductNotFound возвращается, если товара нет в каталоге.
	ErrProductNotFound = errors.New("producto no encontrado")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrOrderAlreadyExists — заказ с таким ID уже сохранён.
	ErrOrderAlreadyExists = errors.New("order already exists")

	// ErrNotAuthorized — запрос без идентичности или к чужому заказу.
	ErrNotAuthorized = errors.New("no autorizado")
	// ErrAdminRequired — операция доступна только администратору.
	ErrAdminRequired = errors.New("se requieren privilegios de administrador")

	// ErrOrderAlreadyShipped — отмена после отправки/выдачи невозможна.
	ErrOrderAlreadyShipped = errors.New("no se puede cancelar: la orden ya ha sido enviada o entregada")
	// ErrOrderAlreadyCancelled — заказ уже отменён.
	ErrOrderAlreadyCancelled = errors.New("la orden ya está cancelada")
	// ErrTransitionNotAllowed — переход отсутствует в таблице переходов.
	ErrTransitionNotAllowed = errors.New("transición de estado no permitida")
	// ErrOrderAlreadyPaid — повторная оплата оплаченного заказа.
	ErrOrderAlreadyPaid = errors.New("la orden ya está pagada")

	// ErrPaymentDeclined — платёж отклонён провайдером (бизнес-ошибка).
	ErrPaymentDeclined = errors.New("payment declined")
	// ErrPaymentTemporary — временная ошибка платёжного провайдера.
	ErrPaymentTemporary = errors.New("payment temporary error")
	// ErrTransactionNotFound — провайдер не знает такой транзакции.
	ErrTransactionNotFound = errors.New("payment transaction not found")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// ErrIdempotencyKeyRequired — пустой idempotency-key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired — пустой хэш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyNotFound — ключ не найден.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
	// ErrIdempotencyKeyAlreadyExists — ключ уже использован тем же запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — ключ использован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different payload")
)

// Error — ошибка с явным видом (kind) и человекочитаемым сообщением.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, err error, format string, args ...any) *Error {
	msg := ""
	if format != "" {
		msg = fmt.Sprintf(format, args...)
	}
	return &Error{Kind: kind, Message: msg, Err: err}
}

// Validation оборачивает ошибку валидации входных данных.
func Validation(err error, format string, args ...any) *Error {
	return newError(KindValidation, err, format, args...)
}

// StockInsufficient сообщает о нехватке товара с названием позиции.
func StockInsufficient(productName string, available, requested int) *Error {
	return newError(KindStockInsufficient, ErrInsufficientStock,
		"stock insuficiente para %s (disponible %d, solicitado %d)", productName, available, requested)
}

// NotFound оборачивает ошибку отсутствующей сущности.
func NotFound(err error) *Error {
	return newError(KindNotFound, err, "")
}

// Unauthorized — нет прав на чужой заказ или нет идентичности.
func Unauthorized(err error) *Error {
	return newError(KindUnauthorized, err, "")
}

// Forbidden — операция требует роли администратора.
func Forbidden(err error) *Error {
	return newError(KindForbidden, err, "")
}

// IllegalTransition оборачивает нарушение машины состояний.
func IllegalTransition(err error, format string, args ...any) *Error {
	return newError(KindIllegalTransition, err, format, args...)
}

// Conflict — конкурентное изменение или повтор запроса.
func Conflict(err error) *Error {
	return newError(KindConflict, err, "")
}

// KindOf возвращает вид ошибки; для неизвестных ошибок — KindInternal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Kind
	}
	switch {
	case errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrProductNotFound):
		return KindNotFound
	case errors.Is(err, ErrInsufficientStock):
		return KindStockInsufficient
	case errors.Is(err, ErrOrderVersionConflict), errors.Is(err, ErrOrderAlreadyExists):
		return KindConflict
	default:
		return KindInternal
	}
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsIdempotencyConflict проверяет, связана ли ошибка с повтором idempotency-key.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
