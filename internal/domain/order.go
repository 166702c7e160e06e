package domain

import "time"

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, резерв на складе удержан, оплата не выполнена.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusPaid — оплата подтверждена.
	OrderStatusPaid OrderStatus = "PAID"
	// OrderStatusCancelled — заказ отменён, резерв возвращён на склад.
	OrderStatusCancelled OrderStatus = "CANCELLED"
	// OrderStatusCompleted — заказ исполнен.
	OrderStatusCompleted OrderStatus = "COMPLETED"
)

// CanTransitionTo проверяет ребро конечного автомата статусов:
// PENDING → {PAID, CANCELLED}, PAID → COMPLETED. Других переходов нет.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	switch s {
	case OrderStatusPending:
		return next == OrderStatusPaid || next == OrderStatusCancelled
	case OrderStatusPaid:
		return next == OrderStatusCompleted
	default:
		return false
	}
}

// OrderLine представляет одну позицию заказа. Название и цена зафиксированы
// на момент покупки и сознательно не связаны с актуальным каталогом.
type OrderLine struct {
	// ProductID — внешний идентификатор товара в каталоге.
	ProductID string
	// ProductName — снимок названия на момент покупки.
	ProductName string
	// Qty — количество единиц товара.
	Qty int32
	// PriceMinor — зафиксированная цена за единицу в минимальных денежных единицах.
	PriceMinor int64
}

// Order агрегирует состояние заказа и его позиции. Позиции неизменяемы после
// создания, итоговая сумма вычисляется один раз при создании.
type Order struct {
	ID         string
	OwnerID    string
	Status     OrderStatus
	Lines      []OrderLine
	TotalMinor int64
	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// LinesTotal считает сумму позиций: qty * price.
func LinesTotal(lines []OrderLine) int64 {
	var total int64
	for _, line := range lines {
		total += int64(line.Qty) * line.PriceMinor
	}
	return total
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.OwnerID == "" {
		errs = append(errs, ErrOwnerRequired)
	}
	if len(o.Lines) == 0 {
		errs = append(errs, ErrLinesRequired)
	}

	for _, line := range o.Lines {
		if line.Qty <= 0 {
			errs = append(errs, ErrLineQtyInvalid)
		}
		if line.PriceMinor < 0 {
			errs = append(errs, ErrLinePriceInvalid)
		}
	}
	if LinesTotal(o.Lines) != o.TotalMinor {
		errs = append(errs, ErrTotalMismatch)
	}

	return errs
}
