package domain

import (
	"errors"
	"fmt"
)

var (
	// Ошибка создания заказа из пустой корзины.
	ErrCartEmpty = errors.New("cart is empty")
	// Ошибка отсутствующего идентификатора владельца заказа.
	ErrOwnerRequired = errors.New("owner_id is required")
	// Ошибка отсутствия хотя бы одной позиции в заказе.
	ErrLinesRequired = errors.New("order must contain at least one line")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrLineQtyInvalid = errors.New("line quantity must be greater than zero")
	// Ошибка, если зафиксированная цена позиции отрицательная.
	ErrLinePriceInvalid = errors.New("line price must be non-negative")
	// Ошибка несоответствия итоговой суммы заказа и сумм позиций.
	ErrTotalMismatch = errors.New("order total does not match lines sum")
	// ErrOrderNotFound возвращается, если заказ не найден в реестре.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrProductNotFound — каталог не знает такой товар (структурная ошибка, не ретраится).
	ErrProductNotFound = errors.New("product not found")
	// ErrInsufficientStock — каталог отклонил резерв из-за нехватки остатков.
	// Ответ каталога авторитетен: повторять такой вызов нельзя.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrAccessDenied — вызывающий не владелец заказа и не администратор.
	ErrAccessDenied = errors.New("access denied")
	// ErrOrderStateConflict — операция не разрешена из текущего статуса заказа.
	ErrOrderStateConflict = errors.New("order status does not allow this operation")
	// ErrOrderNotCancellable — отменить можно только заказ в статусе pending.
	ErrOrderNotCancellable = errors.New("only pending orders can be cancelled")
)

// RemoteUnavailableError означает, что удалённая зависимость недоступна:
// circuit открыт либо все повторные попытки исчерпаны.
type RemoteUnavailableError struct {
	Dependency string
	Err        error
}

func (e *RemoteUnavailableError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("dependency %q is unavailable", e.Dependency)
	}
	return fmt.Sprintf("dependency %q is unavailable: %v", e.Dependency, e.Err)
}

func (e *RemoteUnavailableError) Unwrap() error { return e.Err }

// IsRemoteUnavailable проверяет, является ли ошибка отказом зависимости.
func IsRemoteUnavailable(err error) bool {
	var target *RemoteUnavailableError
	return errors.As(err, &target)
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsRemoteBusinessError выделяет структурные ответы удалённых сервисов:
// их семантика окончательна, они не считаются сбоем зависимости и не ретраятся.
func IsRemoteBusinessError(err error) bool {
	return errors.Is(err, ErrProductNotFound) || errors.Is(err, ErrInsufficientStock)
}

// ErrorKind — категория ошибки для внешней границы сервиса.
type ErrorKind string

const (
	KindInvalidRequest    ErrorKind = "invalid_request"
	KindNotFound          ErrorKind = "not_found"
	KindConflict          ErrorKind = "conflict"
	KindAccessDenied      ErrorKind = "access_denied"
	KindInsufficientStock ErrorKind = "insufficient_stock"
	KindRemoteUnavailable ErrorKind = "remote_unavailable"
	KindUnexpected        ErrorKind = "unexpected"
)

// KindOf классифицирует ошибку по таксономии сервиса.
// RemoteUnavailable различим от структурных ошибок каталога, чтобы вызывающая
// сторона понимала, когда повтор запроса имеет смысл.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCartEmpty),
		errors.Is(err, ErrOwnerRequired),
		errors.Is(err, ErrLinesRequired),
		errors.Is(err, ErrLineQtyInvalid),
		errors.Is(err, ErrLinePriceInvalid),
		errors.Is(err, ErrTotalMismatch),
		errors.Is(err, ErrOrderNotCancellable):
		return KindInvalidRequest
	case errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrProductNotFound):
		return KindNotFound
	case errors.Is(err, ErrInsufficientStock):
		return KindInsufficientStock
	case errors.Is(err, ErrAccessDenied):
		return KindAccessDenied
	case errors.Is(err, ErrOrderStateConflict), errors.Is(err, ErrOrderVersionConflict):
		return KindConflict
	case IsRemoteUnavailable(err):
		return KindRemoteUnavailable
	default:
		return KindUnexpected
	}
}
