package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/MiloszKom/EcommerceAPI-sub000/internal/domain"
	"github.com/MiloszKom/EcommerceAPI-sub000/internal/service/orders"
)

// Заголовки идентичности, проставляемые вышестоящим шлюзом после аутентификации.
const (
	headerUserID   = "X-User-Id"
	headerUserRole = "X-User-Role"

	roleAdmin = "admin"
)

// Handler — тонкий HTTP-слой над оркестратором заказов: извлекает идентичность
// из заголовков, транслирует таксономию ошибок в статус-коды. Никакой
// бизнес-логики здесь нет.
type Handler struct {
	orchestrator *orders.Orchestrator
	logger       *log.Entry
}

// NewHandler конструирует HTTP-слой с зависимостями.
func NewHandler(orchestrator *orders.Orchestrator, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.New().WithField("component", "http-api")
	}
	return &Handler{orchestrator: orchestrator, logger: logger}
}

// Register вешает маршруты на mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/orders", h.handleCreateOrder)
	mux.HandleFunc("GET /api/orders", h.handleListOwnOrders)
	mux.HandleFunc("GET /api/orders/{id}", h.handleGetOrder)
	mux.HandleFunc("POST /api/orders/{id}/pay", h.handlePayOrder)
	mux.HandleFunc("POST /api/orders/{id}/cancel", h.handleCancelOrder)
	mux.HandleFunc("GET /api/admin/orders", h.handleListAllOrders)
	mux.HandleFunc("POST /api/admin/orders/{id}/complete", h.handleCompleteOrder)
}

func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.principal(w, r)
	if !ok {
		return
	}

	order, err := h.orchestrator.CreateOrder(r.Context(), caller.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(order))
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.principal(w, r)
	if !ok {
		return
	}

	order, err := h.orchestrator.GetOrder(r.Context(), caller, r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) handleListOwnOrders(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.principal(w, r)
	if !ok {
		return
	}

	list, err := h.orchestrator.ListUserOrders(r.Context(), caller.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderListResponse(list))
}

func (h *Handler) handlePayOrder(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.principal(w, r)
	if !ok {
		return
	}

	order, err := h.orchestrator.PayOrder(r.Context(), caller.UserID, r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.principal(w, r)
	if !ok {
		return
	}

	order, err := h.orchestrator.CancelOrder(r.Context(), caller, r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) handleListAllOrders(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.principal(w, r)
	if !ok {
		return
	}
	if !caller.Admin {
		h.writeError(w, domain.ErrAccessDenied)
		return
	}

	list, err := h.orchestrator.ListAllOrders(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderListResponse(list))
}

func (h *Handler) handleCompleteOrder(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.principal(w, r)
	if !ok {
		return
	}
	if !caller.Admin {
		h.writeError(w, domain.ErrAccessDenied)
		return
	}

	order, err := h.orchestrator.CompleteOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

// principal извлекает идентичность вызывающего из заголовков шлюза.
func (h *Handler) principal(w http.ResponseWriter, r *http.Request) (domain.Principal, bool) {
	userID := r.Header.Get(headerUserID)
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{
			Error:   "unauthenticated",
			Message: "user identity is required",
		})
		return domain.Principal{}, false
	}
	return domain.Principal{
		UserID: userID,
		Admin:  r.Header.Get(headerUserRole) == roleAdmin,
	}, true
}

type errorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	Dependency string `json:"dependency,omitempty"`
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)

	var status int
	switch kind {
	case domain.KindInvalidRequest:
		status = http.StatusBadRequest
	case domain.KindNotFound:
		status = http.StatusNotFound
	case domain.KindConflict, domain.KindInsufficientStock:
		status = http.StatusConflict
	case domain.KindAccessDenied:
		status = http.StatusForbidden
	case domain.KindRemoteUnavailable:
		status = http.StatusServiceUnavailable
	default:
		status = http.StatusInternalServerError
	}

	resp := errorResponse{Error: string(kind), Message: err.Error()}
	var unavailable *domain.RemoteUnavailableError
	if errors.As(err, &unavailable) {
		resp.Dependency = unavailable.Dependency
	}

	if status >= http.StatusInternalServerError {
		h.logger.WithError(err).Error("request failed")
	}
	writeJSON(w, status, resp)
}

type orderLineResponse struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int32  `json:"quantity"`
	PriceMinor  int64  `json:"price_minor"`
}

type orderResponse struct {
	ID         string              `json:"id"`
	OwnerID    string              `json:"owner_id"`
	Status     string              `json:"status"`
	Lines      []orderLineResponse `json:"lines"`
	TotalMinor int64               `json:"total_minor"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

func toOrderResponse(order domain.Order) orderResponse {
	lines := make([]orderLineResponse, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, orderLineResponse{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			Quantity:    line.Qty,
			PriceMinor:  line.PriceMinor,
		})
	}
	return orderResponse{
		ID:         order.ID,
		OwnerID:    order.OwnerID,
		Status:     string(order.Status),
		Lines:      lines,
		TotalMinor: order.TotalMinor,
		CreatedAt:  order.CreatedAt,
		UpdatedAt:  order.UpdatedAt,
	}
}

func toOrderListResponse(list []domain.Order) []orderResponse {
	result := make([]orderResponse, 0, len(list))
	for _, order := range list {
		result = append(result, toOrderResponse(order))
	}
	return result
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
