package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/MiloszKom/EcommerceAPI-sub000/internal/domain"
	"github.com/MiloszKom/EcommerceAPI-sub000/internal/messaging/kafka"
	"github.com/MiloszKom/EcommerceAPI-sub000/internal/metrics"
)

// Orchestrator координирует сагу заказа: резервирует сток в каталоге, строя
// локальную запись заказа, компенсирует частичные сбои и следит за конечным
// автоматом статусов. Авторизация — через явный domain.Principal.
type Orchestrator struct {
	orders    domain.OrderRepository
	carts     domain.CartGateway
	inventory domain.InventoryGateway
	logger    *log.Entry
	metrics   *metrics.OrderMetrics
	producer  *kafka.Producer // опциональный Kafka producer для событий заказов
}

// NewOrchestrator создаёт рабочий экземпляр оркестратора.
func NewOrchestrator(
	orders domain.OrderRepository,
	carts domain.CartGateway,
	inventory domain.InventoryGateway,
	logger *log.Entry,
) *Orchestrator {
	if logger == nil {
		logger = log.New().WithField("component", "order-saga")
	}
	return &Orchestrator{
		orders:    orders,
		carts:     carts,
		inventory: inventory,
		logger:    logger,
		metrics:   metrics.NewOrderMetrics(),
	}
}

// NewOrchestratorWithKafka создаёт оркестратор, публикующий события заказов в Kafka.
func NewOrchestratorWithKafka(
	orders domain.OrderRepository,
	carts domain.CartGateway,
	inventory domain.InventoryGateway,
	producer *kafka.Producer,
	logger *log.Entry,
) *Orchestrator {
	o := NewOrchestrator(orders, carts, inventory, logger)
	o.producer = producer
	return o
}

// NewOrchestratorWithoutMetrics создаёт оркестратор без метрик (для тестов).
func NewOrchestratorWithoutMetrics(
	orders domain.OrderRepository,
	carts domain.CartGateway,
	inventory domain.InventoryGateway,
	logger *log.Entry,
) *Orchestrator {
	o := NewOrchestrator(orders, carts, inventory, logger)
	o.metrics = nil
	return o
}

// CreateOrder создаёт заказ из корзины пользователя.
//
// Резервы выполняются строго в порядке позиций корзины. Если резерв позиции k
// не удался, уже удержанные позиции 1..k-1 освобождаются в обратном порядке до
// возврата ошибки; заказ не сохраняется, корзина не трогается. Корзина
// очищается только после успешного сохранения заказа.
func (o *Orchestrator) CreateOrder(ctx context.Context, userID string) (domain.Order, error) {
	start := time.Now()
	defer func() {
		if o.metrics != nil {
			o.metrics.RecordCreateDuration(time.Since(start))
		}
	}()

	if userID == "" {
		return domain.Order{}, domain.ErrOwnerRequired
	}

	cart, err := o.carts.Fetch(ctx, userID)
	if err != nil {
		o.logger.WithError(err).WithField("user_id", userID).Warn("fetch cart failed")
		return domain.Order{}, err
	}
	if len(cart.Items) == 0 {
		return domain.Order{}, domain.ErrCartEmpty
	}

	lines, err := o.reserveAll(ctx, cart.Items)
	if err != nil {
		if o.metrics != nil {
			o.metrics.RecordReservationFailure()
		}
		return domain.Order{}, err
	}

	now := time.Now().UTC()
	order := domain.Order{
		ID:         uuid.NewString(),
		OwnerID:    userID,
		Status:     domain.OrderStatusPending,
		Lines:      lines,
		TotalMinor: domain.LinesTotal(lines),
		Version:    0,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if errs := order.ValidateInvariants(); len(errs) > 0 {
		o.releaseReserved(ctx, lines)
		return domain.Order{}, errors.Join(errs...)
	}

	// Сбой записи после успешных резервов компенсируется так же, как сбой в
	// середине обхода: заказ ещё никому не виден, отмена не нужна.
	if err := o.orders.Create(order); err != nil {
		o.logger.WithError(err).WithField("order_id", order.ID).Error("persist order failed, releasing reserved stock")
		o.releaseReserved(ctx, lines)
		return domain.Order{}, err
	}

	if err := o.carts.Clear(ctx, userID); err != nil {
		// Заказ уже создан; несброшенная корзина — предмет сверки, не откат.
		o.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"user_id":  userID,
		}).Warn("cart clear failed after order creation")
	}

	if o.metrics != nil {
		o.metrics.RecordOrderCreated()
	}
	o.publishOrderEvent(kafka.EventTypeOrderCreated, order)
	o.logger.WithFields(log.Fields{
		"order_id":    order.ID,
		"user_id":     userID,
		"lines":       len(order.Lines),
		"total_minor": order.TotalMinor,
	}).Info("order created")

	return order, nil
}

// reserveAll резервирует позиции корзины по порядку, снимая снимок
// названия/цены из каталога. При сбое на позиции k освобождает 1..k-1
// в обратном порядке и возвращает исходную ошибку.
func (o *Orchestrator) reserveAll(ctx context.Context, items []domain.CartItem) ([]domain.OrderLine, error) {
	reserved := make([]domain.OrderLine, 0, len(items))

	for _, item := range items {
		if item.Qty <= 0 {
			o.releaseReserved(ctx, reserved)
			return nil, domain.ErrLineQtyInvalid
		}

		product, err := o.inventory.FetchProduct(ctx, item.ProductID)
		if err != nil {
			o.releaseReserved(ctx, reserved)
			return nil, err
		}

		if err := o.inventory.Reserve(ctx, item.ProductID, item.Qty); err != nil {
			o.logger.WithError(err).WithFields(log.Fields{
				"product_id": item.ProductID,
				"qty":        item.Qty,
			}).Warn("stock reservation failed")
			o.releaseReserved(ctx, reserved)
			return nil, err
		}

		reserved = append(reserved, domain.OrderLine{
			ProductID:   item.ProductID,
			ProductName: product.Name,
			Qty:         item.Qty,
			PriceMinor:  product.PriceMinor,
		})
	}

	return reserved, nil
}

// releaseReserved освобождает удержанный сток в обратном порядке. Сбой одного
// release логируется как ошибка сверки, но не прерывает обход остальных.
func (o *Orchestrator) releaseReserved(ctx context.Context, lines []domain.OrderLine) {
	for i := len(lines) - 1; i >= 0; i-- {
		line := lines[i]
		if err := o.inventory.Release(ctx, line.ProductID, line.Qty); err != nil {
			o.logger.WithError(err).WithFields(log.Fields{
				"product_id": line.ProductID,
				"qty":        line.Qty,
			}).Error("stock release failed, manual reconciliation required")
			if o.metrics != nil {
				o.metrics.RecordCompensationFailure()
			}
		}
	}
}

// PayOrder переводит заказ владельца из PENDING в PAID.
func (o *Orchestrator) PayOrder(ctx context.Context, userID, orderID string) (domain.Order, error) {
	order, err := o.orders.Get(orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.OwnerID != userID {
		return domain.Order{}, domain.ErrAccessDenied
	}
	if order.Status != domain.OrderStatusPending {
		return domain.Order{}, domain.ErrOrderStateConflict
	}

	if err := o.transition(&order, domain.OrderStatusPaid); err != nil {
		return domain.Order{}, err
	}

	o.publishOrderEvent(kafka.EventTypeOrderPaid, order)
	return order, nil
}

// CancelOrder отменяет PENDING-заказ и возвращает удержанный сток.
//
// Статус CANCELLED записывается до release-обхода: проверка версии при записи
// гарантирует, что конкурирующий PayOrder не переплетётся с компенсациями —
// проигравшая сторона получает конфликт и ничего не освобождает.
func (o *Orchestrator) CancelOrder(ctx context.Context, caller domain.Principal, orderID string) (domain.Order, error) {
	order, err := o.orders.Get(orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if !caller.CanAccess(order.OwnerID) {
		return domain.Order{}, domain.ErrAccessDenied
	}
	if order.Status != domain.OrderStatusPending {
		return domain.Order{}, domain.ErrOrderNotCancellable
	}

	if err := o.transition(&order, domain.OrderStatusCancelled); err != nil {
		return domain.Order{}, err
	}

	// Сбой отдельного release не должен оставить заказ висеть в PENDING:
	// отмена уже зафиксирована, недоосвобождённый сток уходит в сверку.
	for _, line := range order.Lines {
		if err := o.inventory.Release(ctx, line.ProductID, line.Qty); err != nil {
			o.logger.WithError(err).WithFields(log.Fields{
				"order_id":   order.ID,
				"product_id": line.ProductID,
				"qty":        line.Qty,
			}).Error("stock release failed during cancel, manual reconciliation required")
			if o.metrics != nil {
				o.metrics.RecordCompensationFailure()
			}
		}
	}

	if o.metrics != nil {
		o.metrics.RecordOrderCancelled()
	}
	o.publishOrderEvent(kafka.EventTypeOrderCancelled, order)
	o.logger.WithFields(log.Fields{
		"order_id":  order.ID,
		"caller_id": caller.UserID,
	}).Info("order cancelled")

	return order, nil
}

// CompleteOrder переводит оплаченный заказ в COMPLETED (административная операция).
func (o *Orchestrator) CompleteOrder(ctx context.Context, orderID string) (domain.Order, error) {
	order, err := o.orders.Get(orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.Status != domain.OrderStatusPaid {
		return domain.Order{}, domain.ErrOrderStateConflict
	}

	if err := o.transition(&order, domain.OrderStatusCompleted); err != nil {
		return domain.Order{}, err
	}

	if o.metrics != nil {
		o.metrics.RecordOrderCompleted()
	}
	o.publishOrderEvent(kafka.EventTypeOrderCompleted, order)
	return order, nil
}

// GetOrder возвращает заказ с проверкой правила владелец-или-администратор.
func (o *Orchestrator) GetOrder(ctx context.Context, caller domain.Principal, orderID string) (domain.Order, error) {
	order, err := o.orders.Get(orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if !caller.CanAccess(order.OwnerID) {
		return domain.Order{}, domain.ErrAccessDenied
	}
	return order, nil
}

// ListUserOrders возвращает заказы пользователя.
func (o *Orchestrator) ListUserOrders(ctx context.Context, userID string) ([]domain.Order, error) {
	return o.orders.ListByOwner(userID, 0)
}

// ListAllOrders возвращает все заказы (административная выборка).
func (o *Orchestrator) ListAllOrders(ctx context.Context) ([]domain.Order, error) {
	return o.orders.ListAll(0)
}

// transition записывает переход статуса под optimistic locking. Конфликт
// версии означает, что заказ конкурентно изменился — проигравшая запись
// отклоняется, а не повторяется вслепую.
func (o *Orchestrator) transition(order *domain.Order, next domain.OrderStatus) error {
	if !order.Status.CanTransitionTo(next) {
		return domain.ErrOrderStateConflict
	}

	prevStatus := order.Status
	order.Status = next
	order.UpdatedAt = time.Now().UTC()

	if err := o.orders.Save(*order); err != nil {
		order.Status = prevStatus
		if domain.IsVersionConflict(err) {
			o.logger.WithFields(log.Fields{
				"order_id": order.ID,
				"to":       string(next),
			}).Warn("status transition lost to concurrent update")
		} else {
			o.logger.WithError(err).WithField("order_id", order.ID).Error("failed to persist status")
		}
		return err
	}

	order.Version++
	return nil
}

func (o *Orchestrator) publishOrderEvent(eventType kafka.EventType, order domain.Order) {
	if o.producer == nil {
		return
	}

	event := kafka.NewOrderEvent(eventType, order.ID, order.OwnerID, string(order.Status), order.TotalMinor, nil)
	if err := o.producer.PublishOrderEvent(event); err != nil {
		// Логируем ошибку, но не прерываем операцию — Kafka опциональный.
		o.logger.WithError(err).WithFields(log.Fields{
			"event_type": eventType,
			"order_id":   order.ID,
		}).Warn("failed to publish order event to kafka")
	}
}
